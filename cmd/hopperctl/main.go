// Command hopperctl is the client CLI for a hopper daemon: create, start,
// kill, and inspect jobs over the HTTP API internal/httpapi exposes.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaygo/hopper/internal/remotejob"
)

var (
	address string
	port    int
)

func main() {
	root := &cobra.Command{
		Use:   "hopperctl",
		Short: "hopper job client",
		Long:  "hopperctl talks to a hopper daemon's HTTP API to create, start, kill, and inspect jobs.",
	}
	root.PersistentFlags().StringVar(&address, "address", "localhost", "daemon hostname")
	root.PersistentFlags().IntVar(&port, "port", 5000, "daemon HTTP port")

	root.AddCommand(
		listCmd(),
		runningCmd(),
		createCmd(),
		startCmd(),
		killCmd(),
		infoCmd(),
		reloadCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every job on the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJobs("/jobs")
		},
	}
}

func runningCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "running",
		Short: "list currently running jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJobs("/jobs/running")
		},
	}
}

// createCmd's second argument disambiguates between a path to a JSON config
// file and an inline JSON literal: if it parses as a valid path that
// exists, it's read as a file; otherwise it's parsed directly as JSON.
func createCmd() *cobra.Command {
	var start bool
	var jobPort int

	cmd := &cobra.Command{
		Use:   "create <plugin-name> [config-path-or-json]",
		Short: "create a job, optionally starting it immediately",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			config := map[string]any{}
			if len(args) == 2 {
				decoded, err := resolveConfigArg(args[1])
				if err != nil {
					return err
				}
				config = decoded
			}

			view, err := doJSON(context.Background(), "POST", "/jobs", map[string]any{
				"name":    name,
				"config":  config,
				"running": start,
				"port":    jobPort,
			})
			if err != nil {
				return err
			}
			return printJSON(view)
		},
	}
	cmd.Flags().BoolVar(&start, "start", false, "start the job immediately after creation")
	cmd.Flags().IntVar(&jobPort, "job-port", 0, "port the job's worker should dial back to (defaults to this daemon's own port)")
	return cmd
}

// resolveConfigArg implements the path-or-literal disambiguation rule: an
// arg that names an existing file is read and parsed as JSON; otherwise the
// arg itself is parsed as a JSON literal.
func resolveConfigArg(arg string) (map[string]any, error) {
	var data []byte
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		data, err = os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", arg, err)
		}
	} else {
		data = []byte(arg)
	}

	var config map[string]any
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config as JSON (tried %q as a literal): %w", arg, err)
	}
	return config, nil
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <job-id>",
		Short: "start a created job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := doJSON(context.Background(), "PUT", "/jobs/"+args[0]+"/start", nil)
			if err != nil {
				return err
			}
			return printJSON(view)
		},
	}
}

func killCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <job-id>",
		Short: "kill a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := doJSON(context.Background(), "PUT", "/jobs/"+args[0]+"/kill", nil)
			if err != nil {
				return err
			}
			return printJSON(view)
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <job-id>",
		Short: "show a job's full state, including status and any exception",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rj, err := remotejob.New(context.Background(), address, port, args[0], remotejob.Options{})
			if err != nil {
				return err
			}
			status, statusErr := rj.Status(context.Background(), true)
			view := map[string]any{"id": rj.ID(), "status": status}
			if statusErr != nil {
				view["exception"] = statusErr.Error()
			}
			return printJSON(view)
		},
	}
}

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "rescan the daemon's plugin directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := doJSON(context.Background(), "PUT", "/reload", nil)
			return err
		},
	}
}

func printJobs(path string) error {
	view, err := doJSON(context.Background(), "GET", path, nil)
	if err != nil {
		return err
	}
	jobs, _ := view["jobs"].([]any)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRUNNING\tFINISHED\tKILLED")
	for _, raw := range jobs {
		j, _ := raw.(map[string]any)
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\n", j["id"], j["name"], j["running"], j["finished"], j["killed"])
	}
	return w.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func baseURL() string {
	return fmt.Sprintf("http://%s:%d", address, port)
}

// doJSON issues a one-shot request/response call against the daemon.
// internal/remotejob owns the job-handle HTTP conventions (rate-limited
// refresh, auth header shape) for anything longer-lived than this.
func doJSON(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var view map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: %v", method, path, view["error"])
	}
	return view, nil
}
