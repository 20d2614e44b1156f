// Package nats carries TKG work items over NATS JetStream work queues.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// ErrPermanent marks a handler failure that redelivery cannot fix; the
// message is terminated instead of nak'ed
var ErrPermanent = errors.New("nats: permanent failure")

// Config holds NATS client configuration
type Config struct {
	URL           string        `yaml:"url" default:"nats://localhost:4222"`
	StreamName    string        `yaml:"stream" default:"tkg"`
	RetryAttempts int           `yaml:"retry_attempts" default:"3"`
	RetryDelay    time.Duration `yaml:"retry_delay" default:"1s"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		StreamName:    "tkg",
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}

// ConsumerOptions tunes a durable consumer
type ConsumerOptions struct {
	// MaxAckPending of 1 processes one message at a time across all workers
	MaxAckPending int
	AckWait       time.Duration
	MaxDeliver    int
}

// Client wraps NATS JetStream functionality
type Client struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config
	logger zerolog.Logger
}

// NewClient creates a new NATS client with JetStream support
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("tkg"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.RetryAttempts),
		nats.ReconnectWait(cfg.RetryDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Client{
		nc:     nc,
		js:     js,
		config: cfg,
		logger: logger,
	}, nil
}

// CreateStream creates the work-queue stream over subjects
func (c *Client) CreateStream(ctx context.Context, subjects []string) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      c.config.StreamName,
		Subjects:  subjects,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Publish publishes raw bytes to a subject
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishJSON encodes v and publishes it
func (c *Client) PublishJSON(ctx context.Context, subject string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", subject, err)
	}
	return c.Publish(ctx, subject, data)
}

// MessageHandler is called when a message is received
type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

// Subscribe creates a durable consumer and consumes messages until the
// returned context is stopped. Handler errors nak the message for
// redelivery unless they wrap ErrPermanent.
func (c *Client) Subscribe(ctx context.Context, subject, consumerName string, opts ConsumerOptions, handler MessageHandler) (jetstream.ConsumeContext, error) {
	if opts.AckWait <= 0 {
		opts.AckWait = 30 * time.Second
	}
	if opts.MaxDeliver == 0 {
		opts.MaxDeliver = 3
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.config.StreamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       opts.AckWait,
		MaxDeliver:    opts.MaxDeliver,
		MaxAckPending: opts.MaxAckPending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	log := c.logger.With().Str("subject", subject).Str("consumer", consumerName).Logger()
	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		err := handler(ctx, msg)
		switch {
		case err == nil:
			_ = msg.Ack()
		case errors.Is(err, ErrPermanent):
			log.Error().Err(err).Msg("dropping message")
			_ = msg.Term()
		default:
			log.Warn().Err(err).Msg("message failed, requesting redelivery")
			_ = msg.Nak()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return consumeCtx, nil
}

// Close drains and closes the NATS connection
func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

// IsConnected returns true if connected to NATS
func (c *Client) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}
