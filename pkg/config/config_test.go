package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/tkg/pkg/model"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"TKG_STORE_DRIVER", "TKG_DUCKDB_PATH", "TKG_POSTGRES_DSN",
		"TKG_LLM_PROVIDER", "TKG_LLM_MODEL", "TKG_NATS_URL", "TKG_MILVUS_ADDR", "TKG_LOG_LEVEL",
		"GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	c, err := Parse([]byte(""))
	require.NoError(t, err)

	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, DriverDuckDB, c.Store.Driver)
	assert.Equal(t, 1000, c.Store.PageSize)
	assert.Equal(t, "gemini", c.LLM.Provider)
	assert.Equal(t, 60*time.Second, c.LLM.Timeout)
	assert.Equal(t, 30, c.Window.Width)
	assert.Equal(t, 200*time.Millisecond, c.Window.AutoplayInterval)
	assert.Equal(t, 15, c.Window.SearchLead)
	assert.Equal(t, 151, c.Enrich.BatchSize)
	assert.Equal(t, 3*time.Second, c.Status.ClearAfter)
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "nats://localhost:4222", c.NATS.URL)
	assert.Equal(t, "tkg_states", c.Milvus.Collection)
	assert.False(t, c.NATS.Enabled)
	assert.False(t, c.Milvus.Enabled)
	assert.Equal(t, model.KnownCategories(), c.Enrich.ParsedCategories())
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TKG_LLM_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TKG_MILVUS_ADDR", "milvus:19530")

	path := filepath.Join(t.TempDir(), "tkg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: memory
  page_size: 500
window:
  width: 20
enrich:
  schedule: "@every 1h"
  categories: [general, R_High, general, momentum]
nats:
  enabled: true
  stream: custom
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, c.Store.Driver)
	assert.Equal(t, 500, c.Store.PageSize)
	assert.Equal(t, 20, c.Window.Width)
	assert.Equal(t, 15, c.Window.SearchLead)
	assert.Equal(t, "openai", c.LLM.Provider)
	assert.Equal(t, "sk-test", c.LLM.APIKey)
	assert.True(t, c.Milvus.Enabled)
	assert.Equal(t, "milvus:19530", c.Milvus.Address)
	assert.True(t, c.NATS.Enabled)
	assert.Equal(t, "custom", c.NATS.StreamName)
	assert.Equal(t, []model.Category{
		model.CategoryGeneral, model.CategoryRHigh, model.Category("momentum"),
	}, c.Enrich.ParsedCategories())
}

func TestValidation(t *testing.T) {
	clearEnv(t)

	_, err := Parse([]byte("store:\n  driver: sqlite\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("store:\n  driver: postgres\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn")

	t.Setenv("TKG_POSTGRES_DSN", "postgres://localhost/tkg")
	c, err := Parse([]byte("store:\n  driver: postgres\n"))
	require.NoError(t, err)
	assert.Equal(t, 10, c.Store.Postgres.MaxOpenConns)

	_, err = Parse([]byte("llm:\n  provider: mistral\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
