// Package milvus indexes observation state vectors for similar-state lookup.
package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
)

// Client manages Milvus connections
type Client struct {
	conn client.Client
	addr string
}

// Config holds Milvus connection configuration
type Config struct {
	Address    string `yaml:"address" default:"localhost:19530"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Collection string `yaml:"collection" default:"tkg_states"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		Address:    "localhost:19530",
		Collection: DefaultCollectionName,
	}
}

// NewClient creates a new Milvus client
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	mc := client.Config{Address: cfg.Address}
	if cfg.Username != "" && cfg.Password != "" {
		mc.Username = cfg.Username
		mc.Password = cfg.Password
	}

	conn, err := client.NewClient(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	return &Client{
		conn: conn,
		addr: cfg.Address,
	}, nil
}

// Close closes the Milvus connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// HasCollection checks if a collection exists
func (c *Client) HasCollection(ctx context.Context, name string) (bool, error) {
	return c.conn.HasCollection(ctx, name)
}

// LoadCollection loads a collection into memory
func (c *Client) LoadCollection(ctx context.Context, name string) error {
	return c.conn.LoadCollection(ctx, name, false)
}

// DropCollection drops a collection
func (c *Client) DropCollection(ctx context.Context, name string) error {
	return c.conn.DropCollection(ctx, name)
}

// Flush persists pending inserts and deletes
func (c *Client) Flush(ctx context.Context, name string) error {
	return c.conn.Flush(ctx, name, false)
}
