package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

const documentColumns = `id, proposal_id, url, title, field, published, content_path, text_path, text_encoding, thumbnail_path`

// GetDocument fetches a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (pipeline.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

// GetDocumentByURL fetches a document by its (proposal, URL) natural key.
func (s *Store) GetDocumentByURL(ctx context.Context, proposalID, url string) (pipeline.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE proposal_id = $1 AND url = $2`,
		proposalID, url)
	return scanDocument(row)
}

// CreateDocument inserts a new document row.
func (s *Store) CreateDocument(ctx context.Context, d pipeline.Document) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO documents (id, proposal_id, url, title, field, published, content_path, text_path, text_encoding, thumbnail_path)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.ProposalID, d.URL, d.Title, d.Field, d.Published,
		d.ContentPath, d.TextPath, d.TextEncoding, d.ThumbnailPath,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// SetDocumentContent records the fetched content path and, when the fetch
// sniffed one, a refined publication date. Each stage setter touches only its
// own columns so concurrent branches never overwrite each other's fields.
func (s *Store) SetDocumentContent(ctx context.Context, id, contentPath string, published *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE documents
SET content_path = $2, published = COALESCE($3, published)
WHERE id = $1`,
		id, contentPath, published,
	)
	if err != nil {
		return fmt.Errorf("set document content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// SetDocumentText records the extracted text path and its encoding.
func (s *Store) SetDocumentText(ctx context.Context, id, textPath, textEncoding string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE documents
SET text_path = $2, text_encoding = $3
WHERE id = $1`,
		id, textPath, textEncoding,
	)
	if err != nil {
		return fmt.Errorf("set document text: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// SetDocumentThumbnail records the rendered thumbnail path.
func (s *Store) SetDocumentThumbnail(ctx context.Context, id, thumbnailPath string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE documents
SET thumbnail_path = $2
WHERE id = $1`,
		id, thumbnailPath,
	)
	if err != nil {
		return fmt.Errorf("set document thumbnail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// ListUnfetchedDocuments returns documents without local content.
func (s *Store) ListUnfetchedDocuments(ctx context.Context) ([]pipeline.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE content_path = '' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list unfetched documents: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func scanDocument(row pgx.Row) (pipeline.Document, error) {
	var d pipeline.Document
	err := row.Scan(&d.ID, &d.ProposalID, &d.URL, &d.Title, &d.Field, &d.Published,
		&d.ContentPath, &d.TextPath, &d.TextEncoding, &d.ThumbnailPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Document{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Document{}, fmt.Errorf("scan document: %w", err)
	}
	return d, nil
}
