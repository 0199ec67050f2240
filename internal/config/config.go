// Package config provides configuration loading for agentd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for agentd.
type Config struct {
	Store      StoreConfig      `koanf:"store"`
	Enrichment EnrichmentConfig `koanf:"enrichment"`
	Reasoning  ReasoningConfig  `koanf:"reasoning"`
	Provider   ProviderConfig   `koanf:"provider"`
	Workflow   WorkflowConfig   `koanf:"workflow"`
	Temporal   TemporalConfig   `koanf:"temporal"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// StoreConfig configures the context store.
type StoreConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory store.
	Path string `koanf:"path"`

	// MaxSnapshots caps retained point-in-time snapshots per workflow.
	// Zero means unlimited.
	MaxSnapshots int `koanf:"max_snapshots"`

	// KnowledgePath is the directory for the embedded knowledge store.
	// Empty keeps the index in memory.
	KnowledgePath string `koanf:"knowledge_path"`
}

// EnrichmentConfig configures the memory enrichment pipeline.
type EnrichmentConfig struct {
	// SearchTimeout bounds each knowledge store search.
	SearchTimeout Duration `koanf:"search_timeout"`

	// TopK is the maximum number of facts kept per retrieval.
	TopK int `koanf:"top_k"`

	// WindowSize is the maximum number of recent turns kept verbatim.
	WindowSize int `koanf:"window_size"`

	// SummaryMaxChars triggers re-summarization of the running summary.
	SummaryMaxChars int `koanf:"summary_max_chars"`
}

// ReasoningConfig configures the reasoning engine.
type ReasoningConfig struct {
	// MaxCycles bounds Reasoning/Observing cycles per turn.
	MaxCycles int `koanf:"max_cycles"`
}

// ProviderConfig configures completion provider retry behavior.
type ProviderConfig struct {
	// APIKey authenticates against the completion provider.
	APIKey Secret `koanf:"api_key"`

	// RequestTimeout bounds a single completion request.
	RequestTimeout Duration `koanf:"request_timeout"`

	// MaxAttempts bounds retries for transient provider errors.
	MaxAttempts int `koanf:"max_attempts"`

	// InitialBackoff is the first retry delay.
	InitialBackoff Duration `koanf:"initial_backoff"`

	// MaxBackoff caps the retry delay.
	MaxBackoff Duration `koanf:"max_backoff"`
}

// WorkflowConfig configures the durable conversation workflow.
type WorkflowConfig struct {
	// TaskQueue is the Temporal task queue for conversation workflows.
	TaskQueue string `koanf:"task_queue"`

	// ToolTimeout bounds a single tool execution.
	ToolTimeout Duration `koanf:"tool_timeout"`

	// TurnTimeout bounds one full reasoning turn.
	TurnTimeout Duration `koanf:"turn_timeout"`

	// ApprovalTimeout bounds the human-in-the-loop wait.
	// Zero means wait indefinitely.
	ApprovalTimeout Duration `koanf:"approval_timeout"`
}

// TemporalConfig configures the Temporal client connection.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures metrics exposure.
type TelemetryConfig struct {
	// MetricsAddr is the listen address for the prometheus /metrics endpoint.
	// Empty disables the endpoint.
	MetricsAddr string `koanf:"metrics_addr"`

	// TraceEndpoint is the OTLP gRPC collector endpoint, host:port.
	// Empty disables trace export.
	TraceEndpoint string `koanf:"trace_endpoint"`

	// TraceInsecure disables TLS toward the collector.
	TraceInsecure bool `koanf:"trace_insecure"`
}

// Default returns a configuration with production-ready defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path:         "",
			MaxSnapshots: 100,
		},
		Enrichment: EnrichmentConfig{
			SearchTimeout:   Duration(2 * time.Second),
			TopK:            5,
			WindowSize:      20,
			SummaryMaxChars: 4096,
		},
		Reasoning: ReasoningConfig{
			MaxCycles: 10,
		},
		Provider: ProviderConfig{
			RequestTimeout: Duration(30 * time.Second),
			MaxAttempts:    3,
			InitialBackoff: Duration(500 * time.Millisecond),
			MaxBackoff:     Duration(10 * time.Second),
		},
		Workflow: WorkflowConfig{
			TaskQueue:   "agentd-conversations",
			ToolTimeout: Duration(5 * time.Second),
			TurnTimeout: Duration(60 * time.Second),
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			MetricsAddr: "",
		},
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Enrichment.TopK <= 0 {
		return fmt.Errorf("enrichment.top_k must be positive, got %d", c.Enrichment.TopK)
	}
	if c.Enrichment.WindowSize <= 0 {
		return fmt.Errorf("enrichment.window_size must be positive, got %d", c.Enrichment.WindowSize)
	}
	if c.Enrichment.SearchTimeout.Duration() <= 0 {
		return fmt.Errorf("enrichment.search_timeout must be positive")
	}
	if c.Reasoning.MaxCycles <= 0 {
		return fmt.Errorf("reasoning.max_cycles must be positive, got %d", c.Reasoning.MaxCycles)
	}
	if c.Provider.MaxAttempts <= 0 {
		return fmt.Errorf("provider.max_attempts must be positive, got %d", c.Provider.MaxAttempts)
	}
	if c.Workflow.TaskQueue == "" {
		return fmt.Errorf("workflow.task_queue is required")
	}
	if c.Workflow.ToolTimeout.Duration() <= 0 {
		return fmt.Errorf("workflow.tool_timeout must be positive")
	}
	if c.Store.MaxSnapshots < 0 {
		return fmt.Errorf("store.max_snapshots cannot be negative, got %d", c.Store.MaxSnapshots)
	}
	return nil
}
