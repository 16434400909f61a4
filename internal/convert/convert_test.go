package convert_test

import (
	"context"
	"errors"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicsignal/permitpipe/internal/convert"
	"github.com/civicsignal/permitpipe/internal/pipeline"
	"github.com/civicsignal/permitpipe/internal/store/memory"
)

// fakeRunner records invocations and delegates to a per-test function, so
// converter tests never shell out.
type fakeRunner struct {
	calls [][]string
	fn    func(name string, args []string) ([]byte, []byte, error)
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	call := append([]string{name}, args...)
	r.calls = append(r.calls, call)
	if r.fn == nil {
		return nil, nil, nil
	}
	return r.fn(name, args)
}

type fixedIDs struct {
	next int
}

func (g *fixedIDs) NewID() (string, error) {
	g.next++
	return string(rune('a'-1+g.next)) + "-id", nil
}

func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, width, height))))
}

func newFetchedDocument(t *testing.T, store *memory.Store, ext string) pipeline.Document {
	t.Helper()
	dir := t.TempDir()
	contentPath := filepath.Join(dir, "download"+ext)
	require.NoError(t, os.WriteFile(contentPath, []byte("content"), 0o644))
	doc := pipeline.Document{ID: "d1", ProposalID: "p1", URL: "http://example.com/f" + ext, ContentPath: contentPath}
	require.NoError(t, store.CreateDocument(context.Background(), doc))
	return doc
}

func TestTextExtractorInvokesTool(t *testing.T) {
	t.Parallel()

	store := memory.New()
	doc := newFetchedDocument(t, store, ".pdf")
	runner := &fakeRunner{}

	extractor := convert.NewTextExtractor(store, runner, "pdftotext", "ISO-8859-9", zap.NewNop())
	got, err := extractor.Extract(context.Background(), doc)
	require.NoError(t, err)

	wantText := filepath.Join(filepath.Dir(doc.ContentPath), "text.txt")
	assert.Equal(t, wantText, got.TextPath)
	assert.Equal(t, "ISO-8859-9", got.TextEncoding)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"pdftotext", "-enc", "ISO-8859-9", doc.ContentPath, wantText}, runner.calls[0])

	stored, err := store.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, wantText, stored.TextPath)
}

func TestTextExtractorToolFailureIsTerminal(t *testing.T) {
	t.Parallel()

	store := memory.New()
	doc := newFetchedDocument(t, store, ".pdf")
	runner := &fakeRunner{fn: func(string, []string) ([]byte, []byte, error) {
		return nil, []byte("Syntax Error: bad xref"), errors.New("exit status 1")
	}}

	extractor := convert.NewTextExtractor(store, runner, "pdftotext", "", zap.NewNop())
	_, err := extractor.Extract(context.Background(), doc)
	require.Error(t, err)
	assert.False(t, pipeline.IsTransient(err))

	var se *pipeline.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Syntax Error: bad xref", se.Stderr)

	stored, err := store.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.Empty(t, stored.TextPath, "a failed extraction must not record a text path")
}

func TestImageExtractorFiltersAndRegisters(t *testing.T) {
	t.Parallel()

	store := memory.New()
	doc := newFetchedDocument(t, store, ".pdf")

	runner := &fakeRunner{fn: func(_ string, args []string) ([]byte, []byte, error) {
		prefix := args[len(args)-1]
		writePNG(t, prefix+"-000.png", 200, 150)
		writePNG(t, prefix+"-001.png", 20, 20)
		return nil, nil, nil
	}}

	extractor := convert.NewImageExtractor(store, runner, &fixedIDs{}, "pdfimages",
		convert.MinDimensionsFilter(130, 110), zap.NewNop())

	created, err := extractor.Extract(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, created, 1, "the undersized image must be filtered out")

	imagesDir := filepath.Join(filepath.Dir(doc.ContentPath), "images")
	assert.Equal(t, filepath.Join(imagesDir, "image-000.png"), created[0].Path)
	_, statErr := os.Stat(filepath.Join(imagesDir, "image-001.png"))
	assert.True(t, os.IsNotExist(statErr), "filtered image files are deleted")

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"pdfimages", "-png", "-tiff", "-j", "-jp2", doc.ContentPath, filepath.Join(imagesDir, "image")}, runner.calls[0])

	stored, err := store.ListImagesForDocument(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestImageExtractorSkipsKnownPaths(t *testing.T) {
	t.Parallel()

	store := memory.New()
	doc := newFetchedDocument(t, store, ".pdf")

	runner := &fakeRunner{fn: func(_ string, args []string) ([]byte, []byte, error) {
		prefix := args[len(args)-1]
		writePNG(t, prefix+"-000.png", 200, 150)
		return nil, nil, nil
	}}

	extractor := convert.NewImageExtractor(store, runner, &fixedIDs{}, "pdfimages", nil, zap.NewNop())

	first, err := extractor.Extract(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := extractor.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Empty(t, second, "re-running a document must not duplicate images")

	stored, err := store.ListImagesForDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestDocThumbnailerSkipsNonPDF(t *testing.T) {
	t.Parallel()

	store := memory.New()
	doc := newFetchedDocument(t, store, ".docx")
	runner := &fakeRunner{}

	thumbnailer := convert.NewDocThumbnailer(store, runner, "pdftoppm", 200, zap.NewNop())
	_, generated, err := thumbnailer.Generate(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Empty(t, runner.calls, "non-pdf content must not invoke the renderer")
}

func TestDocThumbnailerRendersPDF(t *testing.T) {
	t.Parallel()

	store := memory.New()
	doc := newFetchedDocument(t, store, ".pdf")
	runner := &fakeRunner{}

	thumbnailer := convert.NewDocThumbnailer(store, runner, "pdftoppm", 200, zap.NewNop())
	got, generated, err := thumbnailer.Generate(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, generated)

	prefix := filepath.Join(filepath.Dir(doc.ContentPath), "thumbnail")
	assert.Equal(t, prefix+".jpg", got.ThumbnailPath)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"pdftoppm", "-jpeg", "-singlefile", "-scale-to", "200", doc.ContentPath, prefix}, runner.calls[0])
}

func TestImageThumbnailerResizes(t *testing.T) {
	t.Parallel()

	store := memory.New()
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "image-000.png")
	writePNG(t, srcPath, 600, 400)

	img := pipeline.Image{ID: "i1", ProposalID: "p1", DocumentID: "d1", Path: srcPath}
	created, err := store.CreateImageIfAbsent(context.Background(), img)
	require.NoError(t, err)
	require.True(t, created)

	thumbnailer := convert.NewImageThumbnailer(store, 300, zap.NewNop())
	got, err := thumbnailer.Generate(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "image-000_thumb.jpg"), got.ThumbnailPath)

	f, err := os.Open(got.ThumbnailPath)
	require.NoError(t, err)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Width)
	assert.Equal(t, 200, cfg.Height)

	stored, err := store.GetImage(context.Background(), "i1")
	require.NoError(t, err)
	assert.Equal(t, got.ThumbnailPath, stored.ThumbnailPath)
}

func TestImageThumbnailerSwallowsFailures(t *testing.T) {
	t.Parallel()

	store := memory.New()
	img := pipeline.Image{ID: "i1", ProposalID: "p1", DocumentID: "d1", Path: "/nonexistent/image.png"}

	thumbnailer := convert.NewImageThumbnailer(store, 300, zap.NewNop())
	got, err := thumbnailer.Generate(context.Background(), img)
	require.NoError(t, err, "thumbnailing is best effort and must not fail the branch")
	assert.Empty(t, got.ThumbnailPath)
}

func TestImageThumbnailerIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.New()
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "image-000.png")
	writePNG(t, srcPath, 600, 400)

	img := pipeline.Image{ID: "i1", ProposalID: "p1", DocumentID: "d1", Path: srcPath}
	_, err := store.CreateImageIfAbsent(context.Background(), img)
	require.NoError(t, err)

	thumbnailer := convert.NewImageThumbnailer(store, 300, zap.NewNop())
	first, err := thumbnailer.Generate(context.Background(), img)
	require.NoError(t, err)

	info, err := os.Stat(first.ThumbnailPath)
	require.NoError(t, err)

	second, err := thumbnailer.Generate(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, first.ThumbnailPath, second.ThumbnailPath)

	after, err := os.Stat(second.ThumbnailPath)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), after.ModTime(), "an existing thumbnail must not be regenerated")
}

func TestMinDimensionsFilter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	filter := convert.MinDimensionsFilter(130, 110)

	big := filepath.Join(dir, "big.png")
	writePNG(t, big, 200, 150)
	assert.True(t, filter(big))

	small := filepath.Join(dir, "small.png")
	writePNG(t, small, 50, 50)
	assert.False(t, filter(small))

	banner := filepath.Join(dir, "banner.png")
	writePNG(t, banner, 2000, 120)
	assert.False(t, filter(banner), "extreme aspect ratios are page furniture")

	assert.False(t, filter(filepath.Join(dir, "missing.png")))

	junk := filepath.Join(dir, "junk.png")
	require.NoError(t, os.WriteFile(junk, []byte("not an image"), 0o644))
	assert.False(t, filter(junk))
}
