// Command hopperd is the hopper daemon: it owns the job registry, the
// in-memory job manager, and the HTTP surface spec.md §6 describes. It also
// doubles as the binary every job's worker process re-execs into, via the
// hidden __run-worker subcommand the supervisor invokes.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaygo/hopper/internal/config"
	"github.com/relaygo/hopper/internal/httpapi"
	"github.com/relaygo/hopper/internal/job"
	"github.com/relaygo/hopper/internal/logging"
	"github.com/relaygo/hopper/internal/metrics"
	"github.com/relaygo/hopper/internal/observability"
	"github.com/relaygo/hopper/internal/plugins"
	"github.com/relaygo/hopper/internal/registry"
	"github.com/relaygo/hopper/internal/remotify"
	"github.com/relaygo/hopper/internal/supervisor"
)

var configFile string

func main() {
	if len(os.Args) > 1 && os.Args[1] == supervisor.WorkerSubcommand {
		if err := runWorkerSubcommand(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	root := &cobra.Command{
		Use:   "hopperd",
		Short: "hopper job daemon",
		Long:  "hopperd runs the job registry, manager, and HTTP API that hopperctl and remotify wrappers talk to.",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a JSON config file (optional, overlays defaults)")

	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runWorkerSubcommand is invoked by the supervisor re-exec'ing this same
// binary for a single job. It builds just enough of the daemon (registry,
// nothing network-facing) to resolve and run one plugin.
func runWorkerSubcommand(args []string) error {
	cfg := config.DefaultConfig()
	config.LoadFromEnv(cfg)
	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

	reg := buildRegistry(cfg)
	if err := reg.Refresh(); err != nil {
		logging.Op().Warn("worker plugin refresh failed", "error", err)
	}
	return supervisor.RunWorker(reg, args)
}

func serveCmd() *cobra.Command {
	var (
		httpAddr string
		debug    bool
		logFmt   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the daemon's HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			if configFile != "" {
				loaded, err := config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			} else {
				cfg = config.DefaultConfig()
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if debug {
				cfg.Daemon.LogLevel = "debug"
				cfg.Observability.Logging.Level = "debug"
			}
			if cmd.Flags().Changed("log-format") {
				cfg.Observability.Logging.Format = logFmt
			}

			return runDaemon(cfg)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "address to listen on, e.g. :5000 (overrides config)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.Flags().StringVar(&logFmt, "log-format", "", "text or json (overrides config)")
	return cmd
}

func runDaemon(cfg *config.Config) error {
	logging.SetLevelFromString(cfg.Daemon.LogLevel)
	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(context.Background())

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
	}

	if cfg.Jobs.LogDir != "" {
		if err := logging.InitJobFileStore(cfg.Jobs.LogDir); err != nil {
			logging.Op().Warn("failed to init job log store", "error", err)
		}
	}

	reg := buildRegistry(cfg)
	if err := reg.Refresh(); err != nil {
		logging.Op().Warn("initial plugin refresh failed", "error", err)
	}

	host, _ := splitAddr(cfg.Daemon.HTTPAddr)
	sup := supervisor.New(orLocalhost(host), cfg.Jobs.SupervisorDrainWait, nil)

	mgr := job.NewManager(reg, sup)
	sup.OnFinish = mgr.Finish

	server := httpapi.StartHTTPServer(cfg.Daemon.HTTPAddr, httpapi.ServerConfig{Manager: mgr, Registry: reg})
	logging.Op().Info("hopperd started", "http_addr", cfg.Daemon.HTTPAddr, "plugin_dirs", cfg.Plugins.Dirs)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Op().Info("hopperd shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		logging.Op().Error("http server shutdown error", "error", err)
	}
	return nil
}

// buildRegistry wires the plugin registry used by both the full daemon and
// the one-shot worker subcommand: demonstration plugins, directory-scanned
// .so plugins, and the remotify system plugins all share one instance.
func buildRegistry(cfg *config.Config) *registry.Registry {
	reg := registry.New(cfg.Plugins.Dirs)
	plugins.Register(reg)

	rf := remotify.NewRegistry()
	for name, body := range rf.SystemPlugins() {
		reg.RegisterStatic(name, body)
	}
	return reg
}

func splitAddr(addr string) (string, string) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:]
		}
	}
	return "", addr
}

func orLocalhost(host string) string {
	if host == "" {
		return "localhost"
	}
	return host
}
