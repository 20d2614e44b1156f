package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Observer receives one event per provider call
type Observer interface {
	ObserveLLM(provider, op string, d time.Duration, err error)
}

// Client is the process-wide model client. It is built once at startup and
// shared by the labeler and the chat assistant.
type Client struct {
	provider Provider
	retry    *RetryHandler
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   zerolog.Logger
	observer Observer
}

// ClientOption configures a Client
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger     zerolog.Logger
	observer   Observer
	httpClient *http.Client
	provider   Provider
	retry      *RetryHandler
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithObserver reports call latencies and failures
func WithObserver(obs Observer) ClientOption {
	return func(o *clientOptions) { o.observer = obs }
}

// WithHTTPClient replaces the provider HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithProvider injects a provider instead of building one from config
func WithProvider(p Provider) ClientOption {
	return func(o *clientOptions) { o.provider = p }
}

// WithRetryHandler replaces the retry policy
func WithRetryHandler(r *RetryHandler) ClientOption {
	return func(o *clientOptions) { o.retry = r }
}

// New builds a client from configuration
func New(ctx context.Context, cfg Config, opts ...ClientOption) (*Client, error) {
	o := clientOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	provider := o.provider
	if provider == nil {
		p, err := NewProvider(ctx, cfg, o.httpClient)
		if err != nil {
			return nil, err
		}
		provider = p
	}

	retry := o.retry
	if retry == nil {
		retry = NewRetryHandler(RetryConfig{MaxRetries: cfg.MaxRetries})
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		provider: provider,
		retry:    retry,
		limiter:  limiter,
		timeout:  cfg.Timeout,
		logger:   o.logger.With().Str("provider", provider.Name()).Logger(),
		observer: o.observer,
	}, nil
}

// Provider returns the provider name
func (c *Client) Provider() string {
	return c.provider.Name()
}

// Generate runs one request through rate limiting, timeout and retry
func (c *Client) Generate(ctx context.Context, op string, req Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	var text string
	attempts, err := c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		out, err := c.provider.Generate(ctx, req)
		if err != nil {
			c.logger.Warn().Err(err).Str("op", op).Msg("model call failed")
			return err
		}
		if strings.TrimSpace(out) == "" {
			return ErrEmptyResponse
		}
		text = out
		return nil
	})
	elapsed := time.Since(start)

	if c.observer != nil {
		c.observer.ObserveLLM(c.provider.Name(), op, elapsed, err)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("op", op).Int("attempts", attempts).Msg("model request failed")
		return "", fmt.Errorf("%s request failed after %d attempt(s): %w", op, attempts, err)
	}

	c.logger.Debug().Str("op", op).Dur("duration", elapsed).Int("chars", len(text)).Msg("model request succeeded")
	return text, nil
}

// Complete returns free text for a prompt
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.Generate(ctx, "chat", Request{Prompt: prompt})
}

// CompleteJSON asks for output matching schema and decodes it into target
func (c *Client) CompleteJSON(ctx context.Context, op string, req Request, target any) error {
	text, err := c.Generate(ctx, op, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFences(text)), target); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// stripFences removes a markdown code fence around JSON output
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
