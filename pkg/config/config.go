// Package config loads the TKG configuration from YAML with defaults,
// environment overrides and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tunogya/tkg/pkg/llm"
	"github.com/tunogya/tkg/pkg/logger"
	"github.com/tunogya/tkg/pkg/model"
	natsq "github.com/tunogya/tkg/pkg/queue/nats"
	"github.com/tunogya/tkg/pkg/rerank"
	"github.com/tunogya/tkg/pkg/store/milvus"
	"github.com/tunogya/tkg/pkg/store/postgres"
)

// Store drivers
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the root configuration
type Config struct {
	Log    logger.Config `yaml:"log"`
	Store  StoreConfig   `yaml:"store"`
	LLM    llm.Config    `yaml:"llm"`
	Window WindowConfig  `yaml:"window"`
	Enrich EnrichConfig  `yaml:"enrich"`
	Status StatusConfig  `yaml:"status"`
	Server ServerConfig  `yaml:"server"`
	NATS   NATSConfig    `yaml:"nats"`
	Milvus MilvusConfig  `yaml:"milvus"`
}

// StoreConfig selects and configures the relational backend
type StoreConfig struct {
	Driver     string          `yaml:"driver" default:"duckdb" validate:"oneof=duckdb postgres memory"`
	DuckDBPath string          `yaml:"duckdb_path" default:"tkg.duckdb"`
	Postgres   postgres.Config `yaml:"postgres"`
	PageSize   int             `yaml:"page_size" default:"1000" validate:"gt=0"`
}

// WindowConfig sizes the chain view
type WindowConfig struct {
	Width            int           `yaml:"width" default:"30" validate:"gt=0"`
	AutoplayInterval time.Duration `yaml:"autoplay_interval" default:"200ms" validate:"gt=0"`
	SearchLead       int           `yaml:"search_lead" default:"15" validate:"gte=0"`
}

// EnrichConfig drives labeling batches and the scheduled sweep
type EnrichConfig struct {
	BatchSize int           `yaml:"batch_size" default:"151" validate:"gt=1"`
	Timeout   time.Duration `yaml:"timeout" default:"2m"`
	// Schedule is a cron spec for the writer sweep; empty disables it
	Schedule   string   `yaml:"schedule"`
	Categories []string `yaml:"categories"`
	// MaxBatches bounds one sweep per (ticker, category); 0 means until done
	MaxBatches int `yaml:"max_batches" default:"10" validate:"gte=0"`
}

// StatusConfig controls status indicators
type StatusConfig struct {
	ClearAfter time.Duration `yaml:"clear_after" default:"3s"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr            string        `yaml:"addr" default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"2m"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	DisableMetrics  bool          `yaml:"disable_metrics"`
	HistorySize     int           `yaml:"history_size" default:"50" validate:"gt=0"`
}

// NATSConfig enables the work queue
type NATSConfig struct {
	Enabled     bool `yaml:"enabled"`
	natsq.Config `yaml:",inline"`
}

// MilvusConfig enables the similar-state index
type MilvusConfig struct {
	Enabled       bool                   `yaml:"enabled"`
	milvus.Config `yaml:",inline"`
	Rerank        rerank.TimeDecayConfig `yaml:"rerank"`
	TopK          int                    `yaml:"top_k" default:"20" validate:"gt=0"`
}

var validate = validator.New()

// Load reads path (optional), applies defaults and environment overrides,
// then validates. A missing .env file is ignored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	return finish(&c)
}

// Parse builds a config from YAML bytes without touching the filesystem
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return finish(&c)
}

// Default returns the configuration with every default applied
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	return &c
}

func finish(c *Config) (*Config, error) {
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TKG_STORE_DRIVER"); v != "" {
		c.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("TKG_DUCKDB_PATH"); v != "" {
		c.Store.DuckDBPath = v
	}
	if v := os.Getenv("TKG_POSTGRES_DSN"); v != "" {
		c.Store.Postgres.DSN = v
	}
	if v := os.Getenv("TKG_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("TKG_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv(apiKeyEnv(c.LLM.Provider))
	}
	if v := os.Getenv("TKG_NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	if v := os.Getenv("TKG_MILVUS_ADDR"); v != "" {
		c.Milvus.Address = v
		c.Milvus.Enabled = true
	}
	if v := os.Getenv("TKG_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

func apiKeyEnv(provider string) string {
	switch provider {
	case llm.ProviderOpenAI:
		return "OPENAI_API_KEY"
	case llm.ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return "GEMINI_API_KEY"
	}
}

// Validate checks struct tags and the cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Store.Driver == DriverPostgres && c.Store.Postgres.DSN == "" {
		return errors.New("store.postgres.dsn is required for the postgres driver")
	}
	return nil
}

// ParsedCategories returns the configured enrichment categories, or every
// known category when none are configured
func (e EnrichConfig) ParsedCategories() []model.Category {
	if len(e.Categories) == 0 {
		return model.KnownCategories()
	}
	seen := make(map[model.Category]struct{}, len(e.Categories))
	out := make([]model.Category, 0, len(e.Categories))
	for _, raw := range e.Categories {
		cat := model.ParseCategory(raw)
		if _, ok := seen[cat]; ok {
			continue
		}
		seen[cat] = struct{}{}
		out = append(out, cat)
	}
	return out
}
