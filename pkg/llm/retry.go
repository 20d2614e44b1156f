package llm

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	defaultBackoffFactor  = 2.0
)

// RetryConfig encapsulates exponential backoff settings
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// RetryHandler executes retryable calls with backoff
type RetryHandler struct {
	cfg RetryConfig
}

// NewRetryHandler fills unset fields with defaults
func NewRetryHandler(cfg RetryConfig) *RetryHandler {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = defaultBackoffFactor
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &RetryHandler{cfg: cfg}
}

// Do runs fn until it succeeds, fails with a permanent error, or attempts
// are exhausted. It returns the number of attempts made.
func (r *RetryHandler) Do(ctx context.Context, fn func() error) (int, error) {
	attempt := 0
	backoff := r.cfg.InitialBackoff

	for {
		attempt++
		err := fn()
		if err == nil {
			return attempt, nil
		}
		if !Retryable(err) || attempt > r.cfg.MaxRetries {
			return attempt, err
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}

		backoff = time.Duration(math.Min(
			float64(r.cfg.MaxBackoff),
			float64(backoff)*r.cfg.Multiplier,
		))
	}
}

// Retryable reports whether err is worth another attempt: rate limits,
// timeouts, server errors and transport failures
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return retryableStatus(oaErr.StatusCode)
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return retryableStatus(anErr.StatusCode)
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return retryableStatus(gErr.Code)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "UNAVAILABLE")
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
