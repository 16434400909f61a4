package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// CreateImageIfAbsent inserts the image unless its (proposal, document, path)
// key is already taken. The uniqueness constraint is the concurrency-safety
// mechanism here; a lost race surfaces as created == false, not as an error.
func (s *Store) CreateImageIfAbsent(ctx context.Context, img pipeline.Image) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO images (id, proposal_id, document_id, path, thumbnail_path)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (proposal_id, document_id, path) DO NOTHING`,
		img.ID, img.ProposalID, img.DocumentID, img.Path, img.ThumbnailPath,
	)
	if err != nil {
		return false, fmt.Errorf("insert image: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetImage fetches an image by ID.
func (s *Store) GetImage(ctx context.Context, id string) (pipeline.Image, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, proposal_id, document_id, path, thumbnail_path FROM images WHERE id = $1`, id)
	var img pipeline.Image
	err := row.Scan(&img.ID, &img.ProposalID, &img.DocumentID, &img.Path, &img.ThumbnailPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Image{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Image{}, fmt.Errorf("scan image: %w", err)
	}
	return img, nil
}

// UpdateImage overwrites an image row.
func (s *Store) UpdateImage(ctx context.Context, img pipeline.Image) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE images SET thumbnail_path = $2 WHERE id = $1`,
		img.ID, img.ThumbnailPath,
	)
	if err != nil {
		return fmt.Errorf("update image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// ListImagesForDocument returns all images extracted from a document.
func (s *Store) ListImagesForDocument(ctx context.Context, documentID string) ([]pipeline.Image, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, proposal_id, document_id, path, thumbnail_path FROM images WHERE document_id = $1 ORDER BY id`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Image
	for rows.Next() {
		var img pipeline.Image
		if err := rows.Scan(&img.ID, &img.ProposalID, &img.DocumentID, &img.Path, &img.ThumbnailPath); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return out, nil
}
