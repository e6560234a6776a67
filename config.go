package dragonscale

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/resolver"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

// Config holds the configuration options for the engine.
type Config struct {
	// Timeouts of the two suspension points. Zero means no timeout.
	AdapterTimeout     time.Duration `mapstructure:"adapter_timeout"`
	InteractionTimeout time.Duration `mapstructure:"interaction_timeout"`

	// Tool execution timeout. Zero means none.
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`

	// Resolve/evaluate iterations before a recoverable loop gives up.
	MaxIterations int `mapstructure:"max_iterations"`
	// Follow-up questions allowed per slot within one pass.
	MaxFollowUps int `mapstructure:"max_follow_ups"`
	// Extra resolution passes per iteration when slots fail.
	ResolutionRetries int `mapstructure:"resolution_retries"`

	InterpretAnswers         bool   `mapstructure:"interpret_answers"`
	AbortBehavior            string `mapstructure:"abort_behavior"`
	RecoverableBindingErrors bool   `mapstructure:"recoverable_binding_errors"`
	SourceConcurrency        int    `mapstructure:"source_concurrency"`

	// Event bus configuration
	EnableEventBus      bool `mapstructure:"enable_event_bus"`
	EventBusBufferSize  int  `mapstructure:"event_bus_buffer_size"`
	EventBusWorkerCount int  `mapstructure:"event_bus_worker_count"`

	// Lifetime of cached model answers.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// Inference rate limit in calls per second. Zero disables it.
	InferenceRate  float64 `mapstructure:"inference_rate"`
	InferenceBurst int     `mapstructure:"inference_burst"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AdapterTimeout:      time.Minute,
		InteractionTimeout:  10 * time.Minute,
		MaxIterations:       5,
		MaxFollowUps:        5,
		ResolutionRetries:   1,
		AbortBehavior:       string(resolver.AbortDefer),
		SourceConcurrency:   4,
		EnableEventBus:      true,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 5,
		CacheTTL:            time.Hour,
		InferenceBurst:      1,
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Durations may be written
// as "30s" or "5m".
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, ds.NewConfigurationError(fmt.Sprintf("failed to read config %s", path), err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, ds.NewConfigurationError("failed to parse config YAML", err)
	}
	if err := decodeConfig(raw, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeConfig(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return ds.NewConfigurationError("failed to build config decoder", err)
	}
	if err := dec.Decode(raw); err != nil {
		return ds.NewConfigurationError("invalid config", err)
	}
	return nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	if c.MaxIterations < 1 {
		return ds.NewConfigurationError(fmt.Sprintf("max_iterations must be at least 1, got %d", c.MaxIterations), nil)
	}
	if c.MaxFollowUps < 0 || c.ResolutionRetries < 0 {
		return ds.NewConfigurationError("max_follow_ups and resolution_retries must not be negative", nil)
	}
	if _, err := resolver.ParseAbortBehavior(c.AbortBehavior); err != nil {
		return ds.NewConfigurationError("invalid abort_behavior", err)
	}
	if c.InferenceRate < 0 {
		return ds.NewConfigurationError("inference_rate must not be negative", nil)
	}
	return nil
}
