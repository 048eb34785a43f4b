// Package config loads the IOSM configuration document.
//
// The document carries the engine settings (planning, quality gates, index weights,
// decision and retry policy) next to the settings of the binaries that host the
// engine: backlog source, phase commands, history store, logging, telemetry, HTTP
// server, NATS and Temporal.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the complete IOSM configuration document.
type Config struct {
	// System is the default system identifier when a command does not name one.
	System string `koanf:"system"`

	Planning     PlanningConfig            `koanf:"planning"`
	QualityGates map[string]map[string]any `koanf:"quality_gates"`
	IndexWeights map[string]float64        `koanf:"index_weights"`
	Decision     DecisionConfig            `koanf:"decision"`
	Retry        RetryConfig               `koanf:"retry"`

	Backlog   BacklogConfig   `koanf:"backlog"`
	Executors ExecutorsConfig `koanf:"executors"`
	History   HistoryConfig   `koanf:"history"`
	Git       GitConfig       `koanf:"git"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Server    ServerConfig    `koanf:"server"`
	NATS      NATSConfig      `koanf:"nats"`
	Temporal  TemporalConfig  `koanf:"temporal"`
}

// PlanningConfig controls goal selection.
type PlanningConfig struct {
	UseEconomicDecision bool `koanf:"use_economic_decision"`
	MaxGoals            int  `koanf:"max_goals"`
}

// DecisionConfig holds the stop/continue parameters.
type DecisionConfig struct {
	StopThreshold     float64 `koanf:"stop_threshold"`
	StagnationWindow  int     `koanf:"stagnation_window"`
	StagnationEpsilon float64 `koanf:"stagnation_epsilon"`
	MaxCycles         int     `koanf:"max_cycles"`
}

// RetryConfig bounds the per-phase retry loop.
type RetryConfig struct {
	MaxAttempts    int      `koanf:"max_attempts"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
	Multiplier     float64  `koanf:"multiplier"`
	PhaseTimeout   Duration `koanf:"phase_timeout"`
}

// BacklogConfig points at the backlog file.
type BacklogConfig struct {
	// Path is a YAML (.yaml, .yml) or TOML (.toml) backlog file.
	Path string `koanf:"path"`

	// Watch reruns the engine in iosmd when the file changes.
	Watch bool `koanf:"watch"`

	// Debounce coalesces bursts of file events.
	Debounce Duration `koanf:"debounce"`
}

// CommandConfig describes an external command.
type CommandConfig struct {
	Command []string          `koanf:"command"`
	Dir     string            `koanf:"dir"`
	Env     map[string]string `koanf:"env"`
}

// ExecutorsConfig maps each phase and the metrics collector to a command.
type ExecutorsConfig struct {
	Improve    CommandConfig `koanf:"improve"`
	Optimize   CommandConfig `koanf:"optimize"`
	Shrink     CommandConfig `koanf:"shrink"`
	Modularize CommandConfig `koanf:"modularize"`
	Metrics    CommandConfig `koanf:"metrics"`

	// RateLimit is the maximum number of command launches per second; 0 disables it.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// HistoryConfig selects the persisted history store.
type HistoryConfig struct {
	// Driver is "memory", "jsonl" or "sqlite".
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

// GitConfig controls revision stamping of history entries.
type GitConfig struct {
	Enabled  bool   `koanf:"enabled"`
	RepoPath string `koanf:"repo_path"`
}

// LoggingConfig is the subset of logging settings exposed in the document.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig is the subset of OpenTelemetry settings exposed in the document.
type TelemetryConfig struct {
	Enabled       bool    `koanf:"enabled"`
	Endpoint      string  `koanf:"endpoint"`
	Protocol      string  `koanf:"protocol"` // grpc or http/protobuf
	ServiceName   string  `koanf:"service_name"`
	Insecure      bool    `koanf:"insecure"`
	TLSSkipVerify bool    `koanf:"tls_skip_verify"`
	SampleRate    float64 `koanf:"sample_rate"`
}

// ServerConfig holds HTTP server configuration for iosmd.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NATSConfig holds the event publisher settings.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Token         Secret `koanf:"token"`
}

// TemporalConfig holds the Temporal client settings for iosm-worker.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// Default returns a document with every optional setting at its documented default.
// Quality gates and index weights have no defaults.
func Default() *Config {
	return &Config{
		System: "default",
		Decision: DecisionConfig{
			StopThreshold:     0.98,
			StagnationWindow:  3,
			StagnationEpsilon: 0.001,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: Duration(time.Second),
			MaxBackoff:     Duration(30 * time.Second),
			Multiplier:     2.0,
			PhaseTimeout:   Duration(10 * time.Minute),
		},
		Backlog: BacklogConfig{
			Path:     "backlog.yaml",
			Debounce: Duration(500 * time.Millisecond),
		},
		History: HistoryConfig{
			Driver: "jsonl",
			Path:   ".iosm/history.jsonl",
		},
		Git: GitConfig{RepoPath: "."},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "iosm",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9464,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "iosm",
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "iosm-cycles",
		},
	}
}

// Validate checks the host settings. Engine settings are validated when the
// engine configuration is built from the document.
func (c *Config) Validate() error {
	var errs []error

	if c.System == "" {
		errs = append(errs, errors.New("system must not be empty"))
	}
	switch c.History.Driver {
	case "memory":
	case "jsonl", "sqlite":
		if c.History.Path == "" {
			errs = append(errs, fmt.Errorf("history.path is required for driver %q", c.History.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("history.driver must be memory, jsonl or sqlite, got %q", c.History.Driver))
	}
	if c.Executors.RateLimit < 0 {
		errs = append(errs, errors.New("executors.rate_limit must be non-negative"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		errs = append(errs, errors.New("telemetry.service_name required when telemetry is enabled"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url required when nats is enabled"))
	}

	return errors.Join(errs...)
}

// Command returns the command configured for a phase name or "metrics".
func (e ExecutorsConfig) Command(name string) (CommandConfig, bool) {
	var cmd CommandConfig
	switch name {
	case "improve":
		cmd = e.Improve
	case "optimize":
		cmd = e.Optimize
	case "shrink":
		cmd = e.Shrink
	case "modularize":
		cmd = e.Modularize
	case "metrics":
		cmd = e.Metrics
	default:
		return CommandConfig{}, false
	}
	return cmd, len(cmd.Command) > 0
}
