package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestCreateImageIfAbsentInserted(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	img := pipeline.Image{ID: "i1", ProposalID: "p1", DocumentID: "d1", Path: "/data/images/image-000.png"}

	mock.ExpectExec("INSERT INTO images").
		WithArgs(img.ID, img.ProposalID, img.DocumentID, img.Path, img.ThumbnailPath).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	created, err := store.CreateImageIfAbsent(context.Background(), img)
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateImageIfAbsentConflict(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	img := pipeline.Image{ID: "i2", ProposalID: "p1", DocumentID: "d1", Path: "/data/images/image-000.png"}

	// ON CONFLICT DO NOTHING reports zero rows affected for the loser.
	mock.ExpectExec("INSERT INTO images").
		WithArgs(img.ID, img.ProposalID, img.DocumentID, img.Path, img.ThumbnailPath).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := store.CreateImageIfAbsent(context.Background(), img)
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDocumentContentKeepsPublishedWhenUnsniffed(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE documents").
		WithArgs("d1", "/data/doc/d1/download.pdf", (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.SetDocumentContent(context.Background(), "d1", "/data/doc/d1/download.pdf", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDocumentTextTouchesOnlyTextColumns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE documents").
		WithArgs("d1", "/data/doc/d1/text.txt", "ISO-8859-9").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.SetDocumentText(context.Background(), "d1", "/data/doc/d1/text.txt", "ISO-8859-9")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDocumentThumbnailMissingDocument(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE documents").
		WithArgs("missing", "/data/doc/missing/thumbnail.jpg").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.SetDocumentThumbnail(context.Background(), "missing", "/data/doc/missing/thumbnail.jpg")
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyAttributesRunsInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	published := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	attrs := []pipeline.Attribute{
		{Name: "Lot Size", Handle: "lot_size", Value: "5000 sqft", Published: published},
		{Name: "Zoning", Handle: "zoning", Value: "RB", Published: published},
	}

	mock.ExpectBegin()
	for _, attr := range attrs {
		mock.ExpectExec("INSERT INTO attributes").
			WithArgs("p1", attr.Handle, attr.Name, attr.Value, attr.Published).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.ApplyAttributes(context.Background(), "p1", attrs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyAttributesRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	published := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	attrs := []pipeline.Attribute{
		{Name: "Lot Size", Handle: "lot_size", Value: "5000 sqft", Published: published},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO attributes").
		WithArgs("p1", "lot_size", "Lot Size", "5000 sqft", published).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	assert.Error(t, store.ApplyAttributes(context.Background(), "p1", attrs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastSuccessfulRun(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	started := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	rows := pgxmock.NewRows([]string{
		"id", "kind", "status", "started", "finished",
		"records_upserted", "records_skipped", "documents_queued", "documents_failed", "error_text",
	}).AddRow(
		"r1", pipeline.RunScrape, pipeline.RunStatusSucceeded, started, &finished,
		10, 2, 7, 1, "",
	)

	mock.ExpectQuery("SELECT (.+) FROM pipeline_runs").
		WithArgs(pipeline.RunScrape, pipeline.RunStatusSucceeded).
		WillReturnRows(rows)

	run, err := store.LastSuccessfulRun(context.Background(), pipeline.RunScrape)
	require.NoError(t, err)
	assert.Equal(t, "r1", run.ID)
	require.NotNil(t, run.Finished)
	assert.Equal(t, finished, *run.Finished)
	assert.Equal(t, 10, run.RecordsUpserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProposalByCaseNumberNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM proposals").
		WithArgs("ZBA-404").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "case_number", "address", "latitude", "longitude",
			"summary", "description", "source", "modified", "complete",
		}))

	_, err := store.GetProposalByCaseNumber(context.Background(), "ZBA-404")
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
