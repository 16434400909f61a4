// Package ingest turns upstream planning-case records into stored proposals
// and documents.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/civicsignal/permitpipe/internal/metrics"
	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// SkipReason explains why a record was not upserted.
type SkipReason string

// Skip reasons surfaced in logs and metrics.
const (
	SkipNone       SkipReason = ""
	SkipInvalid    SkipReason = "invalid"
	SkipNoLocation SkipReason = "no_location"
)

// Upserter maps records onto proposals keyed by case number. Scalar fields
// follow the latest record; documents accumulate and are never removed by an
// upsert, since upstream pages drop links to files that still exist.
type Upserter struct {
	store  pipeline.Store
	clock  pipeline.Clock
	ids    pipeline.IDGenerator
	source string
	logger *zap.Logger
}

// New builds an Upserter. source labels every proposal with the upstream page
// it came from.
func New(store pipeline.Store, clock pipeline.Clock, ids pipeline.IDGenerator, source string, logger *zap.Logger) *Upserter {
	return &Upserter{store: store, clock: clock, ids: ids, source: source, logger: logger}
}

// Upsert creates or refreshes the proposal for rec and registers its document
// links. Records without a resolved location are skipped, not erred: the
// application maps everything it stores, so an unmappable case is useless
// until a later record or a geocoder run supplies coordinates.
func (u *Upserter) Upsert(ctx context.Context, rec pipeline.Record) (pipeline.Proposal, SkipReason, error) {
	if err := validateRecord(rec); err != nil {
		u.logger.Warn("skipping invalid record",
			zap.String("case_number", rec.CaseNumber), zap.Error(err))
		metrics.RecordSkipped(string(SkipInvalid))
		return pipeline.Proposal{}, SkipInvalid, nil
	}
	if rec.Location == nil {
		u.logger.Info("skipping record without location",
			zap.String("case_number", rec.CaseNumber),
			zap.String("address", rec.Address()))
		metrics.RecordSkipped(string(SkipNoLocation))
		return pipeline.Proposal{}, SkipNoLocation, nil
	}

	proposal, err := u.store.GetProposalByCaseNumber(ctx, rec.CaseNumber)
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		id, idErr := u.ids.NewID()
		if idErr != nil {
			return pipeline.Proposal{}, SkipNone, fmt.Errorf("generate proposal id: %w", idErr)
		}
		proposal = pipeline.Proposal{ID: id, CaseNumber: rec.CaseNumber}
		u.apply(&proposal, rec)
		if err := u.store.CreateProposal(ctx, proposal); err != nil {
			return pipeline.Proposal{}, SkipNone, fmt.Errorf("create proposal %s: %w", rec.CaseNumber, err)
		}
	case err != nil:
		return pipeline.Proposal{}, SkipNone, fmt.Errorf("look up proposal %s: %w", rec.CaseNumber, err)
	default:
		u.apply(&proposal, rec)
		if err := u.store.UpdateProposal(ctx, proposal); err != nil {
			return pipeline.Proposal{}, SkipNone, fmt.Errorf("update proposal %s: %w", rec.CaseNumber, err)
		}
	}

	if err := u.registerDocuments(ctx, proposal, rec); err != nil {
		return proposal, SkipNone, err
	}
	metrics.RecordUpserted()
	return proposal, SkipNone, nil
}

// apply overwrites the proposal's scalar fields from the record.
func (u *Upserter) apply(p *pipeline.Proposal, rec pipeline.Record) {
	p.Address = rec.Address()
	p.Latitude = rec.Location.Latitude
	p.Longitude = rec.Location.Longitude
	p.Summary = rec.Summary
	p.Description = rec.Description
	p.Source = u.source
	p.Modified = rec.Updated
	p.Complete = len(rec.DecisionLinks()) > 0
}

// registerDocuments inserts a document row for every link not yet known for
// this proposal. Existing documents keep their derived paths untouched.
func (u *Upserter) registerDocuments(ctx context.Context, p pipeline.Proposal, rec pipeline.Record) error {
	fields := make([]string, 0, len(rec.Sections))
	for field := range rec.Sections {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	published := rec.Updated
	for _, field := range fields {
		for _, link := range rec.Sections[field].Links {
			if link.URL == "" {
				continue
			}
			_, err := u.store.GetDocumentByURL(ctx, p.ID, link.URL)
			if err == nil {
				continue
			}
			if !errors.Is(err, pipeline.ErrNotFound) {
				return fmt.Errorf("look up document %s: %w", link.URL, err)
			}

			id, err := u.ids.NewID()
			if err != nil {
				return fmt.Errorf("generate document id: %w", err)
			}
			doc := pipeline.Document{
				ID:         id,
				ProposalID: p.ID,
				URL:        link.URL,
				Title:      link.Title,
				Field:      field,
				Published:  &published,
			}
			if err := u.store.CreateDocument(ctx, doc); err != nil {
				return fmt.Errorf("create document %s: %w", link.URL, err)
			}
			u.logger.Debug("registered document",
				zap.String("proposal_id", p.ID),
				zap.String("field", field),
				zap.String("url", link.URL))
		}
	}
	return nil
}
