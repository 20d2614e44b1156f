package duckdb

import (
	"context"
	"fmt"
)

// CreateRawBarsTable creates the raw daily bars table
const CreateRawBarsTable = `
CREATE TABLE IF NOT EXISTS raw_bars (
    ticker VARCHAR NOT NULL,
    date DATE NOT NULL,
    open DOUBLE NOT NULL,
    high DOUBLE NOT NULL,
    low DOUBLE NOT NULL,
    close DOUBLE NOT NULL,
    volume BIGINT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (ticker, date)
);
`

// CreateObservationsTable creates the observation chain table.
// (ticker, date) uniqueness follows from raw_bars and whole-chain replacement;
// DuckDB rejects delete-then-reinsert of a unique key inside one transaction,
// so it is not declared here.
const CreateObservationsTable = `
CREATE TABLE IF NOT EXISTS observations (
    id VARCHAR PRIMARY KEY,
    ticker VARCHAR NOT NULL,
    date DATE NOT NULL,
    open DOUBLE,
    high DOUBLE,
    low DOUBLE,
    close DOUBLE,
    volume BIGINT,
    s_open DOUBLE NOT NULL,
    s_high DOUBLE NOT NULL,
    s_low DOUBLE NOT NULL,
    s_ret_close DOUBLE NOT NULL,
    ret_close DOUBLE NOT NULL,
    ret_volume DOUBLE NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_observations_ticker_date ON observations(ticker, date);
`

// CreateSemanticLabelsTable creates the label table.
// DuckDB has no ON DELETE CASCADE; ReplaceObservations deletes labels explicitly.
const CreateSemanticLabelsTable = `
CREATE TABLE IF NOT EXISTS semantic_labels (
    observation_id VARCHAR NOT NULL,
    category VARCHAR NOT NULL DEFAULT 'general',
    label VARCHAR NOT NULL,
    confidence DOUBLE DEFAULT 1.0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (observation_id, category)
);
`

// InitializeSchema creates all required tables
func InitializeSchema(ctx context.Context, c *Client) error {
	schemas := []string{
		CreateRawBarsTable,
		CreateObservationsTable,
		CreateSemanticLabelsTable,
	}

	for _, schema := range schemas {
		if err := c.Exec(ctx, schema); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// DropAllTables drops every table, labels first
func DropAllTables(ctx context.Context, c *Client) error {
	tables := []string{"semantic_labels", "observations", "raw_bars"}
	for _, table := range tables {
		if err := c.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return nil
}
