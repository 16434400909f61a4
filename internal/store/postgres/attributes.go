package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// ApplyAttributes applies one document's attribute set inside a single
// transaction. The WHERE guard on the upsert implements last-write-wins:
// an existing value is replaced only by a strictly newer publication
// timestamp, so applying two extractions in either order converges on the
// newer one.
func (s *Store) ApplyAttributes(ctx context.Context, proposalID string, attrs []pipeline.Attribute) error {
	if len(attrs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin attributes tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, attr := range attrs {
		_, err := tx.Exec(ctx, `
INSERT INTO attributes (proposal_id, handle, name, value, published)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (proposal_id, handle) DO UPDATE
SET name = EXCLUDED.name, value = EXCLUDED.value, published = EXCLUDED.published
WHERE attributes.published < EXCLUDED.published`,
			proposalID, attr.Handle, attr.Name, attr.Value, attr.Published,
		)
		if err != nil {
			return fmt.Errorf("upsert attribute %q: %w", attr.Handle, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit attributes tx: %w", err)
	}
	return nil
}

// GetAttribute fetches an attribute by its (proposal, handle) natural key.
func (s *Store) GetAttribute(ctx context.Context, proposalID, handle string) (pipeline.Attribute, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT proposal_id, handle, name, value, published FROM attributes WHERE proposal_id = $1 AND handle = $2`,
		proposalID, handle)
	var attr pipeline.Attribute
	err := row.Scan(&attr.ProposalID, &attr.Handle, &attr.Name, &attr.Value, &attr.Published)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Attribute{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Attribute{}, fmt.Errorf("scan attribute: %w", err)
	}
	return attr, nil
}
