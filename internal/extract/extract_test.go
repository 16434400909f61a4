package extract_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicsignal/permitpipe/internal/extract"
	"github.com/civicsignal/permitpipe/internal/pipeline"
	"github.com/civicsignal/permitpipe/internal/store/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func TestParseProperties(t *testing.T) {
	t.Parallel()

	text := strings.Join([]string{
		"Applicant Name: Jordan Smith",
		"Zoning District: RB",
		"",
		"The board met on May 2. Decision: approved with conditions.",
		"Reference No. 12; see also: attachment A",
		"Zoning District: RA",
		"Empty Value:",
		": orphan value",
	}, "\n")

	props, err := extract.ParseProperties(strings.NewReader(text))
	require.NoError(t, err)

	assert.Equal(t, "Jordan Smith", props["Applicant Name"])
	assert.Equal(t, "RB", props["Zoning District"], "the first value for a name wins")
	assert.NotContains(t, props, "Empty Value")
	assert.NotContains(t, props, "The board met on May 2. Decision",
		"names with sentence punctuation are prose, not properties")
	for name := range props {
		assert.LessOrEqual(t, len(name), 60)
	}
	assert.Len(t, props, 2)
}

func TestParsePropertiesLongNameRejected(t *testing.T) {
	t.Parallel()

	line := strings.Repeat("word ", 20) + ": value"
	props, err := extract.ParseProperties(strings.NewReader(line))
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestHandle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "applicant_name", extract.Handle("Applicant Name"))
	assert.Equal(t, "zoning_district", extract.Handle("  Zoning   District "))
	assert.Equal(t, "lot_size", extract.Handle("LOT SIZE"))
	assert.Equal(t, "", extract.Handle("   "))
}

func TestExtractApplies(t *testing.T) {
	t.Parallel()

	store := memory.New()
	dir := t.TempDir()
	textPath := filepath.Join(dir, "text.txt")
	require.NoError(t, os.WriteFile(textPath, []byte("Applicant Name: Jordan Smith\nZoning District: RB\n"), 0o644))

	published := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	doc := pipeline.Document{ID: "d1", ProposalID: "p1", URL: "http://example.com/a.pdf",
		TextPath: textPath, Published: &published}
	require.NoError(t, store.CreateDocument(context.Background(), doc))

	extractor := extract.New(store, fixedClock{now: time.Now()}, nil, zap.NewNop())
	attrs, err := extractor.Extract(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, attrs, 2)

	assert.Equal(t, "applicant_name", attrs[0].Handle)
	assert.Equal(t, "Jordan Smith", attrs[0].Value)
	assert.Equal(t, published, attrs[0].Published, "attributes carry the document's publication time")

	stored, err := store.GetAttribute(context.Background(), "p1", "zoning_district")
	require.NoError(t, err)
	assert.Equal(t, "RB", stored.Value)
	assert.Equal(t, "Zoning District", stored.Name)
}

func TestExtractPublishedFallsBackToClock(t *testing.T) {
	t.Parallel()

	store := memory.New()
	dir := t.TempDir()
	textPath := filepath.Join(dir, "text.txt")
	require.NoError(t, os.WriteFile(textPath, []byte("Zoning District: RB\n"), 0o644))

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	doc := pipeline.Document{ID: "d1", ProposalID: "p1", URL: "http://example.com/a.pdf", TextPath: textPath}
	require.NoError(t, store.CreateDocument(context.Background(), doc))

	extractor := extract.New(store, fixedClock{now: now}, nil, zap.NewNop())
	attrs, err := extractor.Extract(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, now, attrs[0].Published)
}

func TestExtractMissingTextIsTerminal(t *testing.T) {
	t.Parallel()

	extractor := extract.New(memory.New(), fixedClock{now: time.Now()}, nil, zap.NewNop())
	_, err := extractor.Extract(context.Background(), pipeline.Document{ID: "d1", ProposalID: "p1"})
	require.Error(t, err)
	assert.False(t, pipeline.IsTransient(err))
}

func TestExtractUnreadableTextIsTransient(t *testing.T) {
	t.Parallel()

	doc := pipeline.Document{ID: "d1", ProposalID: "p1", TextPath: filepath.Join(t.TempDir(), "gone.txt")}
	extractor := extract.New(memory.New(), fixedClock{now: time.Now()}, nil, zap.NewNop())
	_, err := extractor.Extract(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, pipeline.IsTransient(err))
}

func TestExtractOlderDocumentDoesNotClobber(t *testing.T) {
	t.Parallel()

	store := memory.New()
	dir := t.TempDir()

	newer := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	older := newer.AddDate(0, -1, 0)

	newPath := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(newPath, []byte("Zoning District: RB\n"), 0o644))
	oldPath := filepath.Join(dir, "old.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("Zoning District: RA\n"), 0o644))

	newDoc := pipeline.Document{ID: "d1", ProposalID: "p1", URL: "http://example.com/new.pdf",
		TextPath: newPath, Published: &newer}
	oldDoc := pipeline.Document{ID: "d2", ProposalID: "p1", URL: "http://example.com/old.pdf",
		TextPath: oldPath, Published: &older}
	require.NoError(t, store.CreateDocument(context.Background(), newDoc))
	require.NoError(t, store.CreateDocument(context.Background(), oldDoc))

	extractor := extract.New(store, fixedClock{now: time.Now()}, nil, zap.NewNop())
	_, err := extractor.Extract(context.Background(), newDoc)
	require.NoError(t, err)
	_, err = extractor.Extract(context.Background(), oldDoc)
	require.NoError(t, err)

	attr, err := store.GetAttribute(context.Background(), "p1", "zoning_district")
	require.NoError(t, err)
	assert.Equal(t, "RB", attr.Value, "the newer document's value must survive")
}
