package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Server.RequestTimeout)
	assert.Equal(t, 100, cfg.Server.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.Server.RateLimit.Window)

	assert.Equal(t, int64(300_000), cfg.Signals.WindowMS)
	assert.Equal(t, 3, cfg.Signals.RetryAttemptThreshold)
	assert.Equal(t, 0.6, cfg.Signals.TriggerThreshold)
	assert.Equal(t, 0.25, cfg.Signals.Weights.UndoRedo)

	assert.Equal(t, time.Hour, cfg.LLM.CacheTTL)
	assert.Equal(t, 1000, cfg.LLM.CacheMaxSize)
	assert.Equal(t, 5, cfg.LLM.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.LLM.BatchDelay)

	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, 120*time.Second, cfg.Audit.NodeTimeout)
	assert.Equal(t, 300, cfg.Trigger.MaxSnippetChars)
	assert.True(t, cfg.Trigger.Privacy.SendCodeSnippet)

	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "mock", cfg.Provider.Name)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aura.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
signals:
  trigger_threshold: 0.8
store:
  backend: sqlite
  path: /tmp/aura.db
provider:
  name: anthropic
  model: claude-sonnet-4-5
  api_key: test-key
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 0.8, cfg.Signals.TriggerThreshold)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, "anthropic", cfg.Provider.Name)

	// Unset keys keep their defaults.
	assert.Equal(t, 100, cfg.Server.RateLimit.Limit)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AURA_SERVER_ADDR", ":7070")
	t.Setenv("AURA_SIGNALS_COOLDOWN_MS", "120000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, int64(120_000), cfg.Signals.CooldownMS)
}

func TestValidateRejectsBadBackend(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Store.Backend = "cassandra"
	assert.Error(t, cfg.Validate())

	cfg.Store.Backend = StoreSQLite
	cfg.Store.Path = ""
	assert.Error(t, cfg.Validate())

	cfg.Store.Backend = StorePostgres
	cfg.Store.DSN = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresAPIKey(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Provider.Name = "openai"
	cfg.Provider.APIKey = ""
	assert.Error(t, cfg.Validate())

	cfg.Provider.APIKey = "sk-test"
	assert.NoError(t, cfg.Validate())
}
