package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicsignal/permitpipe/internal/pipeline"
	"github.com/civicsignal/permitpipe/internal/store/memory"
)

const samplePDF = "%PDF-1.4\n" +
	"1 0 obj\n<< /CreationDate (D:20240315093000) >>\nendobj\n" +
	"%%EOF\n"

func newTestFetcher(t *testing.T, handler http.Handler) (*Fetcher, *memory.Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := memory.New()
	f := New(store, srv.Client(), t.TempDir(), zap.NewNop())
	return f, store, srv
}

func TestFetchDownloadsAndRecords(t *testing.T) {
	t.Parallel()

	f, store, srv := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(samplePDF))
	}))

	ctx := context.Background()
	doc := pipeline.Document{ID: "d1", ProposalID: "p1", URL: srv.URL + "/files/decision.pdf"}
	require.NoError(t, store.CreateDocument(ctx, doc))

	got, err := f.Fetch(ctx, doc, false)
	require.NoError(t, err)

	wantPath := filepath.Join(f.DocumentDir("d1"), "download.pdf")
	assert.Equal(t, wantPath, got.ContentPath)

	data, err := os.ReadFile(wantPath)
	require.NoError(t, err)
	assert.Equal(t, samplePDF, string(data))

	stored, err := store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, wantPath, stored.ContentPath)

	require.NotNil(t, stored.Published)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC), *stored.Published)
}

func TestFetchIsIdempotent(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	f, store, srv := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(samplePDF))
	}))

	ctx := context.Background()
	doc := pipeline.Document{ID: "d1", ProposalID: "p1", URL: srv.URL + "/decision.pdf"}
	require.NoError(t, store.CreateDocument(ctx, doc))

	got, err := f.Fetch(ctx, doc, false)
	require.NoError(t, err)
	_, err = f.Fetch(ctx, got, false)
	require.NoError(t, err)

	assert.Equal(t, int32(1), requests.Load(), "already-fetched document must not hit the network")

	// Force bypasses the guard.
	_, err = f.Fetch(ctx, got, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
}

func TestFetchRefetchesWhenFileMissing(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	f, store, srv := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(samplePDF))
	}))

	ctx := context.Background()
	doc := pipeline.Document{ID: "d1", ProposalID: "p1", URL: srv.URL + "/decision.pdf"}
	require.NoError(t, store.CreateDocument(ctx, doc))

	got, err := f.Fetch(ctx, doc, false)
	require.NoError(t, err)
	require.NoError(t, os.Remove(got.ContentPath))

	_, err = f.Fetch(ctx, got, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load(), "a recorded path with no file on disk must refetch")
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	fail.Store(true)
	f, store, srv := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(samplePDF))
	}))

	ctx := context.Background()
	doc := pipeline.Document{ID: "d1", ProposalID: "p1", URL: srv.URL + "/decision.pdf"}
	require.NoError(t, store.CreateDocument(ctx, doc))

	_, err := f.Fetch(ctx, doc, false)
	require.Error(t, err)
	assert.True(t, pipeline.IsTransient(err))

	stored, err := store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, stored.ContentPath, "a failed fetch must leave the document unfetched")

	// The retry succeeds once the server recovers.
	fail.Store(false)
	got, err := f.Fetch(ctx, doc, false)
	require.NoError(t, err)
	assert.True(t, got.Fetched())
}

func TestExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".pdf", extension("http://example.com/files/decision.pdf"))
	assert.Equal(t, ".docx", extension("http://example.com/files/report.DOCX?dl=1"))
	assert.Equal(t, ".pdf", extension("http://example.com/download"))
}

func TestPDFCreationDate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	pdf := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte(samplePDF), 0o644))
	got, ok := pdfCreationDate(pdf)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC), got)

	noDate := filepath.Join(dir, "b.pdf")
	require.NoError(t, os.WriteFile(noDate, []byte("%PDF-1.4\n%%EOF\n"), 0o644))
	_, ok = pdfCreationDate(noDate)
	assert.False(t, ok)

	notPDF := filepath.Join(dir, "c.txt")
	require.NoError(t, os.WriteFile(notPDF, []byte("/CreationDate (D:20240315093000)"), 0o644))
	_, ok = pdfCreationDate(notPDF)
	assert.False(t, ok, "only PDF content is sniffed for metadata")
}
