// Package fetch downloads document content into the local content store.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// Fetcher copies a document's remote content to
// <root>/doc/<document-id>/download.<ext> and records the path on the
// document. Fetching an already-fetched document is a no-op unless forced.
type Fetcher struct {
	store  pipeline.Store
	client *http.Client
	root   string
	logger *zap.Logger
}

// New builds a Fetcher rooted at the given content directory.
func New(store pipeline.Store, client *http.Client, root string, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{store: store, client: client, root: root, logger: logger}
}

// DocumentDir returns the content directory for a document.
func (f *Fetcher) DocumentDir(documentID string) string {
	return filepath.Join(f.root, "doc", documentID)
}

// Fetch downloads the document's URL. When force is false and the document
// already has local content on disk, it returns without touching the network.
// Network and filesystem failures leave the document unchanged so a retry
// starts clean.
func (f *Fetcher) Fetch(ctx context.Context, doc pipeline.Document, force bool) (pipeline.Document, error) {
	if !force && doc.Fetched() {
		if _, err := os.Stat(doc.ContentPath); err == nil {
			f.logger.Debug("document already fetched",
				zap.String("document_id", doc.ID), zap.String("path", doc.ContentPath))
			return doc, nil
		}
	}

	dir := f.DocumentDir(doc.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return doc, pipeline.Transient(pipeline.StageFetch, fmt.Errorf("create %s: %w", dir, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.URL, nil)
	if err != nil {
		return doc, pipeline.Terminal(pipeline.StageFetch, fmt.Errorf("build request for %s: %w", doc.URL, err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return doc, pipeline.Transient(pipeline.StageFetch, fmt.Errorf("get %s: %w", doc.URL, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return doc, pipeline.Transient(pipeline.StageFetch,
			fmt.Errorf("get %s: unexpected status %d", doc.URL, resp.StatusCode))
	}

	dest := filepath.Join(dir, "download"+extension(doc.URL))
	tmp, err := os.CreateTemp(dir, "download-*")
	if err != nil {
		return doc, pipeline.Transient(pipeline.StageFetch, fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return doc, pipeline.Transient(pipeline.StageFetch, fmt.Errorf("write %s: %w", dest, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return doc, pipeline.Transient(pipeline.StageFetch, fmt.Errorf("close %s: %w", tmpName, err))
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return doc, pipeline.Transient(pipeline.StageFetch, fmt.Errorf("rename to %s: %w", dest, err))
	}

	doc.ContentPath = dest
	if created, ok := pdfCreationDate(dest); ok {
		doc.Published = &created
	}
	if err := f.store.SetDocumentContent(ctx, doc.ID, doc.ContentPath, doc.Published); err != nil {
		return doc, pipeline.Transient(pipeline.StageFetch, fmt.Errorf("record content path: %w", err))
	}
	f.logger.Info("fetched document",
		zap.String("document_id", doc.ID),
		zap.String("url", doc.URL),
		zap.String("path", dest))
	return doc, nil
}

// extension picks the downloaded file's suffix from the URL path, defaulting
// to .pdf when the URL carries none.
func extension(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		ext = ".pdf"
	}
	return ext
}
