package convert

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// TextExtractor converts a document's fetched content to plain text with
// pdftotext and records the text path and encoding on the document.
type TextExtractor struct {
	store    pipeline.Store
	runner   pipeline.Runner
	tool     string
	encoding string
	logger   *zap.Logger
}

// NewTextExtractor builds a text extractor. tool is the pdftotext binary and
// encoding the output encoding requested from it.
func NewTextExtractor(store pipeline.Store, runner pipeline.Runner, tool, encoding string, logger *zap.Logger) *TextExtractor {
	if tool == "" {
		tool = "pdftotext"
	}
	if encoding == "" {
		encoding = "ISO-8859-9"
	}
	return &TextExtractor{store: store, runner: runner, tool: tool, encoding: encoding, logger: logger}
}

// Extract writes text.txt next to the document's content and records it. A
// tool failure is terminal; the same input will fail the same way again.
func (t *TextExtractor) Extract(ctx context.Context, doc pipeline.Document) (pipeline.Document, error) {
	if !doc.Fetched() {
		return doc, pipeline.Terminal(pipeline.StageExtractText,
			fmt.Errorf("document %s has no fetched content", doc.ID))
	}

	out := filepath.Join(filepath.Dir(doc.ContentPath), "text.txt")
	_, stderr, err := t.runner.Run(ctx, t.tool, "-enc", t.encoding, doc.ContentPath, out)
	if err != nil {
		return doc, pipeline.ToolFailure(pipeline.StageExtractText,
			fmt.Errorf("%s %s: %w", t.tool, doc.ContentPath, err), stderr)
	}

	doc.TextPath = out
	doc.TextEncoding = t.encoding
	if err := t.store.SetDocumentText(ctx, doc.ID, out, t.encoding); err != nil {
		return doc, pipeline.Transient(pipeline.StageExtractText, fmt.Errorf("record text path: %w", err))
	}
	t.logger.Info("extracted text",
		zap.String("document_id", doc.ID), zap.String("path", out))
	return doc, nil
}
