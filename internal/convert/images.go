package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/civicsignal/permitpipe/internal/metrics"
	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// ImageExtractor pulls embedded pictures out of a document with pdfimages,
// discards uninteresting ones, and registers the keepers in the store.
type ImageExtractor struct {
	store  pipeline.Store
	runner pipeline.Runner
	ids    pipeline.IDGenerator
	tool   string
	filter ImageFilter
	logger *zap.Logger
}

// NewImageExtractor builds an image extractor. tool is the pdfimages binary.
func NewImageExtractor(store pipeline.Store, runner pipeline.Runner, ids pipeline.IDGenerator, tool string, filter ImageFilter, logger *zap.Logger) *ImageExtractor {
	if tool == "" {
		tool = "pdfimages"
	}
	return &ImageExtractor{store: store, runner: runner, ids: ids, tool: tool, filter: filter, logger: logger}
}

// Extract runs pdfimages into an images/ directory next to the document's
// content, deletes files the filter rejects, and inserts the rest. Images
// already registered under the same path are skipped, so re-running a
// document never duplicates rows. The returned slice holds only images this
// call created; their thumbnails are still pending.
func (e *ImageExtractor) Extract(ctx context.Context, doc pipeline.Document) ([]pipeline.Image, error) {
	if !doc.Fetched() {
		return nil, pipeline.Terminal(pipeline.StageExtractImages,
			fmt.Errorf("document %s has no fetched content", doc.ID))
	}

	dir := filepath.Join(filepath.Dir(doc.ContentPath), "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pipeline.Transient(pipeline.StageExtractImages, fmt.Errorf("create %s: %w", dir, err))
	}

	prefix := filepath.Join(dir, "image")
	_, stderr, err := e.runner.Run(ctx, e.tool, "-png", "-tiff", "-j", "-jp2", doc.ContentPath, prefix)
	if err != nil {
		return nil, pipeline.ToolFailure(pipeline.StageExtractImages,
			fmt.Errorf("%s %s: %w", e.tool, doc.ContentPath, err), stderr)
	}

	paths, err := filepath.Glob(prefix + "-*")
	if err != nil {
		return nil, pipeline.Terminal(pipeline.StageExtractImages, fmt.Errorf("glob %s: %w", prefix, err))
	}
	sort.Strings(paths)

	var created []pipeline.Image
	for _, p := range paths {
		if e.filter != nil && !e.filter(p) {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				e.logger.Warn("removing discarded image", zap.String("path", p), zap.Error(err))
			}
			metrics.ImageDiscarded()
			continue
		}

		id, err := e.ids.NewID()
		if err != nil {
			return created, pipeline.Transient(pipeline.StageExtractImages, fmt.Errorf("generate image id: %w", err))
		}
		img := pipeline.Image{
			ID:         id,
			ProposalID: doc.ProposalID,
			DocumentID: doc.ID,
			Path:       p,
		}
		ok, err := e.store.CreateImageIfAbsent(ctx, img)
		if err != nil {
			return created, pipeline.Transient(pipeline.StageExtractImages, fmt.Errorf("register image %s: %w", p, err))
		}
		if !ok {
			// Another run already registered this path.
			continue
		}
		metrics.ImageExtracted()
		created = append(created, img)
	}

	e.logger.Info("extracted images",
		zap.String("document_id", doc.ID),
		zap.Int("found", len(paths)),
		zap.Int("kept", len(created)))
	return created, nil
}
