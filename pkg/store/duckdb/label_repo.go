package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/store"
)

// LabelRepo handles semantic label persistence
type LabelRepo struct {
	client *Client
}

// NewLabelRepo creates a new label repository
func NewLabelRepo(client *Client) *LabelRepo {
	return &LabelRepo{client: client}
}

// UpsertLabels writes labels keyed by (observation_id, category) in one transaction.
// A label that references an unknown observation fails the whole batch.
func (r *LabelRepo) UpsertLabels(ctx context.Context, labels []model.SemanticLabel) error {
	if len(labels) == 0 {
		return nil
	}

	tx, err := r.client.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	exists, err := tx.PrepareContext(ctx, "SELECT 1 FROM observations WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer exists.Close()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO semantic_labels (observation_id, category, label, confidence, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (observation_id, category) DO UPDATE SET
			label = EXCLUDED.label,
			confidence = EXCLUDED.confidence,
			created_at = EXCLUDED.created_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, l := range store.DedupeLabels(labels) {
		var one int
		if err := exists.QueryRowContext(ctx, l.ObservationID).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to upsert label: unknown observation %q", l.ObservationID)
			}
			return fmt.Errorf("failed to check observation: %w", err)
		}

		confidence := l.Confidence
		if confidence == 0 {
			confidence = model.DefaultConfidence
		}
		createdAt := l.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx, l.ObservationID, string(l.Category), l.Label, confidence, createdAt); err != nil {
			return fmt.Errorf("failed to upsert label: %w", err)
		}
	}

	return tx.Commit()
}

// CountByCategory returns how many labels exist per category for a ticker
func (r *LabelRepo) CountByCategory(ctx context.Context, ticker string) (map[model.Category]int64, error) {
	rows, err := r.client.Query(ctx, `
		SELECT l.category, COUNT(*)
		FROM semantic_labels l
		JOIN observations o ON o.id = l.observation_id
		WHERE o.ticker = ?
		GROUP BY l.category
	`, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to query label counts: %w", err)
	}
	defer rows.Close()

	out := make(map[model.Category]int64)
	for rows.Next() {
		var cat string
		var n int64
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		out[model.Category(cat)] = n
	}
	return out, rows.Err()
}
