package convert

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// DocThumbnailer renders a document's first page to thumbnail.jpg with
// pdftoppm. Only PDF content is rendered; other formats are skipped.
type DocThumbnailer struct {
	store   pipeline.Store
	runner  pipeline.Runner
	tool    string
	scaleTo int
	logger  *zap.Logger
}

// NewDocThumbnailer builds a document thumbnailer. tool is the pdftoppm
// binary and scaleTo the longest-edge pixel size of the rendered page.
func NewDocThumbnailer(store pipeline.Store, runner pipeline.Runner, tool string, scaleTo int, logger *zap.Logger) *DocThumbnailer {
	if tool == "" {
		tool = "pdftoppm"
	}
	if scaleTo <= 0 {
		scaleTo = 200
	}
	return &DocThumbnailer{store: store, runner: runner, tool: tool, scaleTo: scaleTo, logger: logger}
}

// Generate renders the thumbnail and records its path. The boolean reports
// whether a thumbnail was produced; non-PDF content returns (false, nil).
func (d *DocThumbnailer) Generate(ctx context.Context, doc pipeline.Document) (pipeline.Document, bool, error) {
	if !doc.Fetched() {
		return doc, false, pipeline.Terminal(pipeline.StageDocThumbnail,
			fmt.Errorf("document %s has no fetched content", doc.ID))
	}
	if !strings.EqualFold(filepath.Ext(doc.ContentPath), ".pdf") {
		d.logger.Info("skipping thumbnail for non-pdf document",
			zap.String("document_id", doc.ID), zap.String("path", doc.ContentPath))
		return doc, false, nil
	}

	prefix := filepath.Join(filepath.Dir(doc.ContentPath), "thumbnail")
	_, stderr, err := d.runner.Run(ctx, d.tool,
		"-jpeg", "-singlefile", "-scale-to", strconv.Itoa(d.scaleTo), doc.ContentPath, prefix)
	if err != nil {
		return doc, false, pipeline.ToolFailure(pipeline.StageDocThumbnail,
			fmt.Errorf("%s %s: %w", d.tool, doc.ContentPath, err), stderr)
	}

	doc.ThumbnailPath = prefix + ".jpg"
	if err := d.store.SetDocumentThumbnail(ctx, doc.ID, doc.ThumbnailPath); err != nil {
		return doc, false, pipeline.Transient(pipeline.StageDocThumbnail, fmt.Errorf("record thumbnail path: %w", err))
	}
	return doc, true, nil
}
