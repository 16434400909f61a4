// Package extract derives structured attributes from document text.
package extract

import (
	"context"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// Extractor parses a document's extracted text into proposal attributes and
// applies them through the store's last-writer-wins upsert. Attributes from
// an older document never clobber values from a newer one.
type Extractor struct {
	store  pipeline.Store
	clock  pipeline.Clock
	parse  PropertyFunc
	logger *zap.Logger
}

// New builds an attribute extractor. A nil parse falls back to ParseProperties.
func New(store pipeline.Store, clock pipeline.Clock, parse PropertyFunc, logger *zap.Logger) *Extractor {
	if parse == nil {
		parse = ParseProperties
	}
	return &Extractor{store: store, clock: clock, parse: parse, logger: logger}
}

// Extract reads the document's text file and applies the parsed attributes.
// The attribute publication time is the document's Published date when known,
// otherwise the current time.
func (e *Extractor) Extract(ctx context.Context, doc pipeline.Document) ([]pipeline.Attribute, error) {
	if doc.TextPath == "" {
		return nil, pipeline.Terminal(pipeline.StageAttributes,
			fmt.Errorf("document %s has no extracted text", doc.ID))
	}
	f, err := os.Open(doc.TextPath)
	if err != nil {
		return nil, pipeline.Transient(pipeline.StageAttributes, fmt.Errorf("open %s: %w", doc.TextPath, err))
	}
	defer f.Close()

	props, err := e.parse(f)
	if err != nil {
		return nil, pipeline.Terminal(pipeline.StageAttributes, fmt.Errorf("parse %s: %w", doc.TextPath, err))
	}

	published := e.clock.Now()
	if doc.Published != nil {
		published = *doc.Published
	}

	attrs := make([]pipeline.Attribute, 0, len(props))
	for name, value := range props {
		attrs = append(attrs, pipeline.Attribute{
			ProposalID: doc.ProposalID,
			Name:       name,
			Handle:     Handle(name),
			Value:      value,
			Published:  published,
		})
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Handle < attrs[j].Handle })

	if len(attrs) > 0 {
		if err := e.store.ApplyAttributes(ctx, doc.ProposalID, attrs); err != nil {
			return nil, pipeline.Transient(pipeline.StageAttributes, fmt.Errorf("apply attributes: %w", err))
		}
	}
	e.logger.Info("extracted attributes",
		zap.String("document_id", doc.ID),
		zap.String("proposal_id", doc.ProposalID),
		zap.Int("count", len(attrs)))
	return attrs, nil
}
