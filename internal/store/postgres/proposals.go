package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

const proposalColumns = `id, case_number, address, latitude, longitude, summary, description, source, modified, complete`

// GetProposalByCaseNumber fetches a proposal by its natural key.
func (s *Store) GetProposalByCaseNumber(ctx context.Context, caseNumber string) (pipeline.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE case_number = $1`,
		caseNumber,
	)
	return scanProposal(row)
}

// CreateProposal inserts a new proposal row.
func (s *Store) CreateProposal(ctx context.Context, p pipeline.Proposal) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO proposals (id, case_number, address, latitude, longitude, summary, description, source, modified, complete)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.CaseNumber, p.Address, p.Latitude, p.Longitude,
		p.Summary, p.Description, p.Source, p.Modified, p.Complete,
	)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

// UpdateProposal overwrites a proposal's scalar fields.
func (s *Store) UpdateProposal(ctx context.Context, p pipeline.Proposal) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE proposals
SET address = $2, latitude = $3, longitude = $4, summary = $5,
	description = $6, source = $7, modified = $8, complete = $9
WHERE id = $1`,
		p.ID, p.Address, p.Latitude, p.Longitude, p.Summary,
		p.Description, p.Source, p.Modified, p.Complete,
	)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

func scanProposal(row pgx.Row) (pipeline.Proposal, error) {
	var p pipeline.Proposal
	err := row.Scan(&p.ID, &p.CaseNumber, &p.Address, &p.Latitude, &p.Longitude,
		&p.Summary, &p.Description, &p.Source, &p.Modified, &p.Complete)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Proposal{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Proposal{}, fmt.Errorf("scan proposal: %w", err)
	}
	return p, nil
}
