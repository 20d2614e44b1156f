package postgres

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS raw_bars (
    ticker TEXT NOT NULL,
    date DATE NOT NULL,
    open DOUBLE PRECISION NOT NULL,
    high DOUBLE PRECISION NOT NULL,
    low DOUBLE PRECISION NOT NULL,
    close DOUBLE PRECISION NOT NULL,
    volume BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (ticker, date)
);

CREATE TABLE IF NOT EXISTS observations (
    id TEXT PRIMARY KEY,
    ticker TEXT NOT NULL,
    date DATE NOT NULL,
    open DOUBLE PRECISION,
    high DOUBLE PRECISION,
    low DOUBLE PRECISION,
    close DOUBLE PRECISION,
    volume BIGINT,
    s_open DOUBLE PRECISION NOT NULL,
    s_high DOUBLE PRECISION NOT NULL,
    s_low DOUBLE PRECISION NOT NULL,
    s_ret_close DOUBLE PRECISION NOT NULL,
    ret_close DOUBLE PRECISION NOT NULL,
    ret_volume DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (ticker, date)
);

CREATE TABLE IF NOT EXISTS semantic_labels (
    observation_id TEXT NOT NULL REFERENCES observations(id) ON DELETE CASCADE,
    category TEXT NOT NULL DEFAULT 'general',
    label TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (observation_id, category)
);
`

// InitializeSchema creates tables and constraints if missing
func InitializeSchema(ctx context.Context, c *Client) error {
	if _, err := c.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
