// Package config loads the aurad configuration: a YAML file merged with
// AURA_-prefixed environment overrides on top of the documented defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/aura-go/audit"
	"github.com/dshills/aura-go/llm"
	"github.com/dshills/aura-go/retrieval"
	"github.com/dshills/aura-go/server"
	"github.com/dshills/aura-go/signal"
	"github.com/dshills/aura-go/struggle"
	"github.com/dshills/aura-go/trigger"
)

// Checkpoint store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreMySQL    = "mysql"
	StorePostgres = "postgres"
)

// StoreConfig selects and configures the checkpoint store.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	// Path is the database file for the sqlite backend.
	Path string `mapstructure:"path"`
	// DSN is the connection string for mysql/postgres backends.
	DSN string `mapstructure:"dsn"`
}

// RedisConfig configures the distributed LLM response cache. An empty Addr
// disables the distributed tier; the local LRU still works.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ProviderConfig selects the chat model provider.
type ProviderConfig struct {
	// Name is anthropic, openai, google, or mock.
	Name   string `mapstructure:"name"`
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
	// EmbeddingAPIKey authenticates the embeddings client; falls back to
	// APIKey when the provider is openai.
	EmbeddingAPIKey string `mapstructure:"embedding_api_key"`
	EmbeddingModel  string `mapstructure:"embedding_model"`
}

// LogConfig tunes zap.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config is the full aurad configuration tree.
type Config struct {
	Server    server.Config    `mapstructure:"server"`
	Signals   signal.Config    `mapstructure:"signals"`
	LLM       llm.Config       `mapstructure:"llm"`
	Provider  ProviderConfig   `mapstructure:"provider"`
	Retrieval retrieval.Config `mapstructure:"retrieval"`
	Struggle  struggle.Config  `mapstructure:"struggle"`
	Audit     audit.Config     `mapstructure:"audit"`
	Trigger   trigger.Config   `mapstructure:"trigger"`
	Store     StoreConfig      `mapstructure:"store"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Log       LogConfig        `mapstructure:"log"`
}

// Load reads configuration from path (optional) and the environment.
// Environment variables use the AURA_ prefix with underscores for nesting,
// e.g. AURA_SERVER_ADDR or AURA_SIGNALS_TRIGGER_THRESHOLD.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AURA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	case StoreMySQL, StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s backend", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	switch c.Provider.Name {
	case "anthropic", "openai", "google", "mock":
	default:
		return fmt.Errorf("unknown provider: %s", c.Provider.Name)
	}
	if c.Provider.Name != "mock" && c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required for provider %s", c.Provider.Name)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	srv := server.DefaultConfig()
	v.SetDefault("server.addr", srv.Addr)
	v.SetDefault("server.coalesce_window", srv.CoalesceWindow)
	v.SetDefault("server.request_timeout", srv.RequestTimeout)
	v.SetDefault("server.rate_limit.limit", srv.RateLimit.Limit)
	v.SetDefault("server.rate_limit.window", srv.RateLimit.Window)

	sig := signal.DefaultConfig()
	v.SetDefault("signals.window_ms", sig.WindowMS)
	v.SetDefault("signals.retry_attempt_threshold", sig.RetryAttemptThreshold)
	v.SetDefault("signals.error_count_threshold", sig.ErrorCountThreshold)
	v.SetDefault("signals.edit_frequency_threshold_per_min", sig.EditFrequencyThresholdPerMin)
	v.SetDefault("signals.levenshtein_similarity_threshold", sig.LevenshteinSimilarityThreshold)
	v.SetDefault("signals.max_line_distance_for_retry", sig.MaxLineDistanceForRetry)
	v.SetDefault("signals.max_comparisons_per_edit", sig.MaxComparisonsPerEdit)
	v.SetDefault("signals.max_events_per_file", sig.MaxEventsPerFile)
	v.SetDefault("signals.max_errors_per_file", sig.MaxErrorsPerFile)
	v.SetDefault("signals.hesitation_threshold_ms", sig.HesitationThresholdMS)
	v.SetDefault("signals.debug_change_threshold", sig.DebugChangeThreshold)
	v.SetDefault("signals.cooldown_ms", sig.CooldownMS)
	v.SetDefault("signals.trigger_threshold", sig.TriggerThreshold)
	v.SetDefault("signals.semantic_enabled", sig.SemanticEnabled)
	v.SetDefault("signals.weights.undo_redo", sig.Weights.UndoRedo)
	v.SetDefault("signals.weights.time_pattern", sig.Weights.TimePattern)
	v.SetDefault("signals.weights.terminal", sig.Weights.Terminal)
	v.SetDefault("signals.weights.debug", sig.Weights.Debug)
	v.SetDefault("signals.weights.semantic", sig.Weights.Semantic)
	v.SetDefault("signals.weights.edit_pattern", sig.Weights.EditPattern)

	lc := llm.DefaultConfig()
	v.SetDefault("llm.cache_ttl", lc.CacheTTL)
	v.SetDefault("llm.cache_max_size", lc.CacheMaxSize)
	v.SetDefault("llm.batch_size", lc.BatchSize)
	v.SetDefault("llm.batch_delay", lc.BatchDelay)
	v.SetDefault("llm.max_attempts", lc.MaxAttempts)
	v.SetDefault("llm.base_delay", lc.BaseDelay)
	v.SetDefault("llm.max_delay", lc.MaxDelay)
	v.SetDefault("llm.call_timeout", lc.CallTimeout)

	v.SetDefault("provider.name", "mock")
	v.SetDefault("provider.model", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.embedding_api_key", "")
	v.SetDefault("provider.embedding_model", "")

	rc := retrieval.DefaultConfig()
	v.SetDefault("retrieval.top_k", rc.TopK)
	v.SetDefault("retrieval.max_context_bytes", rc.MaxContextBytes)

	sc := struggle.DefaultConfig()
	v.SetDefault("struggle.edit_frequency_threshold_per_min", sc.EditFrequencyThresholdPerMin)
	v.SetDefault("struggle.trigger_threshold", sc.TriggerThreshold)
	v.SetDefault("struggle.retrieval_top_k", sc.RetrievalTopK)
	v.SetDefault("struggle.temperature", sc.Temperature)
	v.SetDefault("struggle.max_tokens", sc.MaxTokens)
	v.SetDefault("struggle.node_timeout", sc.NodeTimeout)
	v.SetDefault("struggle.max_retries", sc.MaxRetries)

	ac := audit.DefaultConfig()
	v.SetDefault("audit.retrieval_top_k", ac.RetrievalTopK)
	v.SetDefault("audit.temperature", ac.Temperature)
	v.SetDefault("audit.node_timeout", ac.NodeTimeout)
	v.SetDefault("audit.max_retries", ac.MaxRetries)

	tc := trigger.DefaultConfig()
	v.SetDefault("trigger.epoch_window", tc.EpochWindow)
	v.SetDefault("trigger.snippet_radius", tc.SnippetRadius)
	v.SetDefault("trigger.max_snippet_chars", tc.MaxSnippetChars)
	v.SetDefault("trigger.privacy.send_code_snippet", tc.Privacy.SendCodeSnippet)
	v.SetDefault("trigger.privacy.send_file_path", tc.Privacy.SendFilePath)

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.path", "")
	v.SetDefault("store.dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "aura:llm:")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// CacheTTL returns the distributed cache TTL, guarded strictly positive.
func (c *Config) CacheTTL() time.Duration {
	if c.LLM.CacheTTL <= 0 {
		return time.Hour
	}
	return c.LLM.CacheTTL
}
