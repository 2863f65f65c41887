package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr"` // e.g. ":5000"
	LogLevel string `json:"log_level"`
}

// PluginsConfig controls where the plugin registry looks for job plugins.
type PluginsConfig struct {
	Dirs []string `json:"dirs"` // directories scanned for .so plugins on Refresh
}

// JobsConfig holds job lifecycle and supervisor settings.
type JobsConfig struct {
	LogDir              string        `json:"log_dir"`               // per-job log file directory
	StatusPollInterval  time.Duration `json:"status_poll_interval"`  // loaded but unused; remotejob.Options sets the refresh rate limit
	JoinPollInterval    time.Duration `json:"join_poll_interval"`    // loaded but unused; remotejob.Options sets the Join poll interval
	SupervisorDrainWait time.Duration `json:"supervisor_drain_wait"` // grace period after SIGTERM before SIGKILL
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`      // Default: false
	Exporter    string  `json:"exporter"`     // otlp-http, stdout
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // hopper
	SampleRate  float64 `json:"sample_rate"`  // 1.0
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`           // Default: true
	Namespace        string    `json:"namespace"`         // hopper
	HistogramBuckets []float64 `json:"histogram_buckets"` // job duration buckets in ms
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level          string `json:"level"`            // debug, info, warn, error
	Format         string `json:"format"`           // text, json
	IncludeTraceID bool   `json:"include_trace_id"` // correlate with traces
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Daemon        DaemonConfig        `json:"daemon"`
	Plugins       PluginsConfig       `json:"plugins"`
	Jobs          JobsConfig          `json:"jobs"`
	Observability ObservabilityConfig `json:"observability"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			HTTPAddr: ":5000",
			LogLevel: "info",
		},
		Plugins: PluginsConfig{
			Dirs: []string{"./plugins"},
		},
		Jobs: JobsConfig{
			LogDir:              "/tmp/hopper/jobs",
			StatusPollInterval:  200 * time.Millisecond,
			JoinPollInterval:    50 * time.Millisecond,
			SupervisorDrainWait: 5 * time.Second,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "hopper",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "hopper",
				HistogramBuckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 300000},
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
			},
		},
	}
}

// LoadFromFile loads configuration from a JSON file, overlaid on DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("HOPPER_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("HOPPER_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("HOPPER_PLUGIN_DIRS"); v != "" {
		cfg.Plugins.Dirs = strings.Split(v, ",")
	}
	if v := os.Getenv("HOPPER_JOB_LOG_DIR"); v != "" {
		cfg.Jobs.LogDir = v
	}
	if v := os.Getenv("HOPPER_STATUS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Jobs.StatusPollInterval = d
		}
	}
	if v := os.Getenv("HOPPER_JOIN_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Jobs.JoinPollInterval = d
		}
	}

	if v := os.Getenv("HOPPER_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("HOPPER_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("HOPPER_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("HOPPER_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("HOPPER_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("HOPPER_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("HOPPER_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("HOPPER_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("HOPPER_LOG_INCLUDE_TRACE_ID"); v != "" {
		cfg.Observability.Logging.IncludeTraceID = parseBool(v)
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
