// Package llm wraps the hosted model providers behind one client with
// timeout, rate limiting, retry and structured output.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Provider names
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var (
	// ErrEmptyResponse is returned when a provider answered without text
	ErrEmptyResponse = errors.New("llm: empty response")
	// ErrUnknownProvider is returned for an unsupported provider name
	ErrUnknownProvider = errors.New("llm: unknown provider")
)

// Config selects and tunes a provider
type Config struct {
	Provider          string        `yaml:"provider" default:"gemini" validate:"oneof=gemini openai anthropic"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout" default:"60s"`
	MaxRetries        int           `yaml:"max_retries" default:"2" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" default:"1" validate:"gte=0"`
	MaxTokens         int           `yaml:"max_tokens" default:"8192" validate:"gte=0"`
	Temperature       float64       `yaml:"temperature"`
}

// DefaultModel returns the model used when none is configured
func DefaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-3-5-haiku-latest"
	default:
		return "gemini-2.5-flash"
	}
}

// Request is one provider call. A non-nil Schema asks for JSON output
// matching it.
type Request struct {
	System     string
	Prompt     string
	Schema     map[string]any
	SchemaName string
}

// Provider generates text from a request
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// NewProvider constructs the configured provider. httpClient may be nil.
func NewProvider(ctx context.Context, cfg Config, httpClient *http.Client) (Provider, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Provider)
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini, "":
		return newGemini(ctx, cfg, httpClient)
	case ProviderOpenAI:
		return newOpenAI(cfg, httpClient), nil
	case ProviderAnthropic, "claude":
		return newAnthropic(cfg, httpClient), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
