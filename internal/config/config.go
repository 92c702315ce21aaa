// Package config models the resolved configuration this core reads.
// Parsing config files and wiring CLI flags lives in a higher layer;
// Settings is the struct that layer is expected to populate and hand to
// the rest of the process.
package config

import (
	"io"

	"gopkg.in/yaml.v3"
)

// Settings is the root configuration struct read by every component.
type Settings struct {
	Session     SessionConfig     `yaml:"session"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Providers   ProvidersConfig   `yaml:"providers"`
	ToolDispatch ToolDispatchConfig `yaml:"tool_dispatch"`
	CLIAgents   CLIAgentsConfig   `yaml:"cli_agents"`
	Executor    ExecutorConfig    `yaml:"executor"`
}

// SessionConfig configures the SessionStore.
type SessionConfig struct {
	// DBPath is the sqlite file path. Defaults to ".mcp_sessions.sqlite3".
	DBPath string `yaml:"db_path"`
	// TTLSeconds is how long an unreaped session row survives. Defaults
	// to 15552000 (6 months).
	TTLSeconds int64 `yaml:"ttl_seconds"`
	// CleanupProbability is the per-write chance the reaper runs.
	// Defaults to 0.01.
	CleanupProbability float64 `yaml:"cleanup_probability"`
}

// VectorStoreConfig configures VectorStoreClient/Manager.
type VectorStoreConfig struct {
	// DefaultProvider is the preferred remote provider ("openai").
	DefaultProvider string `yaml:"default_vector_store_provider"`
	// ParallelBatches bounds concurrent upload batches. Defaults to 10.
	ParallelBatches int `yaml:"parallel_batches"`
	// MaxRetries bounds per-batch retry attempts on partial failure.
	// Defaults to 3.
	MaxRetries int `yaml:"max_retries"`
	// RolloverLimit is the file-count threshold that triggers
	// rollover. Defaults to 9500.
	RolloverLimit int `yaml:"rollover_limit"`
}

// ProvidersConfig configures provider-adapter defaults.
type ProvidersConfig struct {
	// MaxOutputTokens is the default response token cap. Defaults to
	// 65536.
	MaxOutputTokens int `yaml:"max_output_tokens"`
	// MaxFunctionCalls bounds the agentic tool-call loop. Defaults to
	// 500.
	MaxFunctionCalls int `yaml:"max_function_calls"`
	// ContextPercentage is the fraction of a model's context window the
	// optimizer is allowed to fill. Defaults to 0.85.
	ContextPercentage float64 `yaml:"context_percentage"`
	// DefaultTemperature seeds requests lacking an explicit value.
	DefaultTemperature float64 `yaml:"default_temperature"`
	// StreamTimeoutThresholdSeconds: requests whose timeout exceeds this
	// use the OpenAI background-polling strategy instead of streaming.
	// Defaults to 180.
	StreamTimeoutThresholdSeconds int `yaml:"stream_timeout_threshold_seconds"`
}

// ToolDispatchConfig configures the ToolDispatcher.
type ToolDispatchConfig struct {
	// MaxParallelToolExec bounds concurrent tool-call execution within
	// one turn. Defaults to 8.
	MaxParallelToolExec int `yaml:"max_parallel_tool_exec"`
}

// CLIAgentsConfig configures CLIAgentService.
type CLIAgentsConfig struct {
	// DefaultIdleTimeoutSeconds is the silence window after first output
	// that triggers an idle kill. Defaults to 600.
	DefaultIdleTimeoutSeconds int `yaml:"default_idle_timeout_seconds"`
	// DefaultTotalTimeoutSeconds bounds wall-clock subprocess lifetime.
	DefaultTotalTimeoutSeconds int `yaml:"default_total_timeout_seconds"`
	// MaxOutputBytes caps captured stdout/stderr per stream. Defaults to
	// 10*1024*1024 (10 MiB).
	MaxOutputBytes int `yaml:"max_output_bytes"`
	// AllowedEnvKeys lists additional environment variables copied into
	// the subprocess beyond PATH/HOME.
	AllowedEnvKeys []string `yaml:"allowed_env_keys"`
}

// ExecutorConfig configures the top-level Executor.
type ExecutorConfig struct {
	// ContextReductionFactor multiplies the token budget on each
	// RetryWithReducedContext. Defaults to 0.75.
	ContextReductionFactor float64 `yaml:"context_reduction_factor"`
	// MaxRetryAttempts bounds retry-with-reduced-context restarts.
	// Defaults to 2.
	MaxRetryAttempts int `yaml:"max_retry_attempts"`
	// WorkerPoolSize bounds the pool blocking local-disk/crypto work is
	// marshaled onto. Defaults to 10.
	WorkerPoolSize int `yaml:"worker_pool_size"`
}

// Default returns the settings this core assumes when a higher-level
// configuration layer supplies no overrides, matching the constants named
// throughout this package.
func Default() Settings {
	return Settings{
		Session: SessionConfig{
			DBPath:             ".mcp_sessions.sqlite3",
			TTLSeconds:         15552000,
			CleanupProbability: 0.01,
		},
		VectorStore: VectorStoreConfig{
			DefaultProvider: "openai",
			ParallelBatches: 10,
			MaxRetries:      3,
			RolloverLimit:   9500,
		},
		Providers: ProvidersConfig{
			MaxOutputTokens:               65536,
			MaxFunctionCalls:              500,
			ContextPercentage:             0.85,
			DefaultTemperature:            1.0,
			StreamTimeoutThresholdSeconds: 180,
		},
		ToolDispatch: ToolDispatchConfig{
			MaxParallelToolExec: 8,
		},
		CLIAgents: CLIAgentsConfig{
			DefaultIdleTimeoutSeconds:  600,
			DefaultTotalTimeoutSeconds: 600,
			MaxOutputBytes:             10 * 1024 * 1024,
		},
		Executor: ExecutorConfig{
			ContextReductionFactor: 0.75,
			MaxRetryAttempts:       2,
			WorkerPoolSize:         10,
		},
	}
}

// Load reads yaml-encoded settings from r, starting from Default() so any
// field the document omits keeps its documented default.
func Load(r io.Reader) (Settings, error) {
	settings := Default()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&settings); err != nil && err != io.EOF {
		return Settings{}, err
	}
	return settings, nil
}
