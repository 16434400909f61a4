// Package coordinator drives end-to-end pipeline runs: pulling upstream
// records, upserting proposals, and processing their documents.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicsignal/permitpipe/internal/ingest"
	"github.com/civicsignal/permitpipe/internal/metrics"
	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// Concurrent geocoder lookups during a scrape run. The upstream services
// rate-limit aggressively, so keep this small.
const geocodeParallelism = 4

// Coordinator owns the run lifecycle. A scrape run ingests fresh records and
// then sweeps every document still missing local content; a recover run does
// only the sweep, picking up documents stranded by earlier failures.
type Coordinator struct {
	store    pipeline.Store
	source   pipeline.RecordSource
	geocoder pipeline.Geocoder
	upserter *ingest.Upserter
	queue    pipeline.Queue
	tracker  *pipeline.BatchTracker
	clock    pipeline.Clock
	ids      pipeline.IDGenerator
	logger   *zap.Logger
}

// Deps collects the coordinator's collaborators.
type Deps struct {
	Store    pipeline.Store
	Source   pipeline.RecordSource
	Geocoder pipeline.Geocoder
	Upserter *ingest.Upserter
	Queue    pipeline.Queue
	Tracker  *pipeline.BatchTracker
	Clock    pipeline.Clock
	IDs      pipeline.IDGenerator
	Logger   *zap.Logger
}

// New constructs a Coordinator.
func New(deps Deps) *Coordinator {
	return &Coordinator{
		store:    deps.Store,
		source:   deps.Source,
		geocoder: deps.Geocoder,
		upserter: deps.Upserter,
		queue:    deps.Queue,
		tracker:  deps.Tracker,
		clock:    deps.Clock,
		ids:      deps.IDs,
		logger:   deps.Logger,
	}
}

// RunScrape executes a full scrape run. The record window opens at the last
// successful scrape run's finish time, or the beginning of time on the first
// run. Per-record failures are logged and counted, never fatal: one broken
// case must not starve the rest of the feed.
func (c *Coordinator) RunScrape(ctx context.Context) (pipeline.PipelineRun, error) {
	run, err := c.startRun(ctx, pipeline.RunScrape)
	if err != nil {
		return run, err
	}
	return c.scrape(ctx, run)
}

// TriggerScrape creates the run record and continues the scrape in the
// background, so API callers get the run ID immediately.
func (c *Coordinator) TriggerScrape(ctx context.Context) (pipeline.PipelineRun, error) {
	run, err := c.startRun(ctx, pipeline.RunScrape)
	if err != nil {
		return run, err
	}
	go func() {
		if _, err := c.scrape(context.Background(), run); err != nil {
			c.logger.Error("triggered scrape run failed",
				zap.String("run_id", run.ID), zap.Error(err))
		}
	}()
	return run, nil
}

func (c *Coordinator) scrape(ctx context.Context, run pipeline.PipelineRun) (pipeline.PipelineRun, error) {
	since := time.Time{}
	last, err := c.store.LastSuccessfulRun(ctx, pipeline.RunScrape)
	switch {
	case err == nil && last.Finished != nil:
		since = *last.Finished
	case errors.Is(err, pipeline.ErrNotFound):
	case err != nil:
		return c.finishRun(ctx, run, fmt.Errorf("look up last run: %w", err))
	}

	recs, err := c.source.RecordsSince(ctx, since)
	if err != nil {
		return c.finishRun(ctx, run, fmt.Errorf("fetch records since %s: %w", since, err))
	}
	c.logger.Info("fetched records",
		zap.String("run_id", run.ID), zap.Time("since", since), zap.Int("count", len(recs)))

	c.fillLocations(ctx, recs)

	for _, rec := range recs {
		_, reason, err := c.upserter.Upsert(ctx, rec)
		if err != nil {
			c.logger.Error("upserting record",
				zap.String("case_number", rec.CaseNumber), zap.Error(err))
			run.RecordsSkipped++
			continue
		}
		if reason != ingest.SkipNone {
			run.RecordsSkipped++
			continue
		}
		run.RecordsUpserted++
	}

	if err := c.sweep(ctx, &run); err != nil {
		return c.finishRun(ctx, run, err)
	}
	return c.finishRun(ctx, run, nil)
}

// RunRecover executes a recovery run: no record ingestion, only the sweep of
// documents that still lack fetched content.
func (c *Coordinator) RunRecover(ctx context.Context) (pipeline.PipelineRun, error) {
	run, err := c.startRun(ctx, pipeline.RunRecover)
	if err != nil {
		return run, err
	}
	return c.recoverSweep(ctx, run)
}

// TriggerRecover creates the run record and continues the sweep in the
// background.
func (c *Coordinator) TriggerRecover(ctx context.Context) (pipeline.PipelineRun, error) {
	run, err := c.startRun(ctx, pipeline.RunRecover)
	if err != nil {
		return run, err
	}
	go func() {
		if _, err := c.recoverSweep(context.Background(), run); err != nil {
			c.logger.Error("triggered recover run failed",
				zap.String("run_id", run.ID), zap.Error(err))
		}
	}()
	return run, nil
}

func (c *Coordinator) recoverSweep(ctx context.Context, run pipeline.PipelineRun) (pipeline.PipelineRun, error) {
	if err := c.sweep(ctx, &run); err != nil {
		return c.finishRun(ctx, run, err)
	}
	return c.finishRun(ctx, run, nil)
}

// ProcessDocuments submits a batch of documents through the task graph and
// blocks until every branch of every document reaches a terminal outcome.
func (c *Coordinator) ProcessDocuments(ctx context.Context, docs []pipeline.Document) (pipeline.BatchSummary, error) {
	batchID, err := c.ids.NewID()
	if err != nil {
		return pipeline.BatchSummary{}, fmt.Errorf("generate batch id: %w", err)
	}
	if len(docs) == 0 {
		return pipeline.BatchSummary{BatchID: batchID}, nil
	}

	submitted := c.clock.Now().Unix()
	c.tracker.Add(batchID, len(docs))
	for _, doc := range docs {
		task := pipeline.Task{
			BatchID:    batchID,
			DocumentID: doc.ID,
			Stage:      pipeline.StageFetch,
			Submitted:  submitted,
		}
		if err := c.queue.Enqueue(ctx, task); err != nil {
			c.tracker.Done(batchID)
			c.logger.Error("enqueueing fetch task",
				zap.String("document_id", doc.ID), zap.Error(err))
		}
	}

	if err := c.tracker.Wait(ctx, batchID); err != nil {
		return pipeline.BatchSummary{BatchID: batchID}, fmt.Errorf("wait for batch %s: %w", batchID, err)
	}

	results, err := c.store.ListStageResults(ctx, batchID)
	if err != nil {
		return pipeline.BatchSummary{BatchID: batchID}, fmt.Errorf("list results for batch %s: %w", batchID, err)
	}
	return pipeline.Summarize(batchID, results), nil
}

// fillLocations geocodes records the feed shipped without coordinates,
// bounded to a few lookups in flight. A failed lookup leaves the record
// unlocated; the upserter skips it and a later run tries again.
func (c *Coordinator) fillLocations(ctx context.Context, recs []pipeline.Record) {
	if c.geocoder == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(geocodeParallelism)
	for i := range recs {
		if recs[i].Location != nil {
			continue
		}
		rec := &recs[i]
		g.Go(func() error {
			address := rec.Address()
			loc, err := c.geocoder.Resolve(gctx, address)
			if err != nil {
				if !errors.Is(err, pipeline.ErrNoLocation) {
					c.logger.Warn("geocoding record",
						zap.String("case_number", rec.CaseNumber),
						zap.String("address", address), zap.Error(err))
				}
				return nil
			}
			rec.Location = &loc
			return nil
		})
	}
	_ = g.Wait()
}

// sweep processes every stored document that has no fetched content yet.
func (c *Coordinator) sweep(ctx context.Context, run *pipeline.PipelineRun) error {
	docs, err := c.store.ListUnfetchedDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list unfetched documents: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}

	summary, err := c.ProcessDocuments(ctx, docs)
	if err != nil {
		return err
	}
	run.DocumentsQueued += len(docs)
	run.DocumentsFailed += len(summary.Failures)
	c.logger.Info("processed document batch",
		zap.String("run_id", run.ID),
		zap.String("batch_id", summary.BatchID),
		zap.Int("queued", len(docs)),
		zap.Int("completed", len(summary.Completed)),
		zap.Int("failed", len(summary.Failures)))
	return nil
}

func (c *Coordinator) startRun(ctx context.Context, kind pipeline.RunKind) (pipeline.PipelineRun, error) {
	id, err := c.ids.NewID()
	if err != nil {
		return pipeline.PipelineRun{}, fmt.Errorf("generate run id: %w", err)
	}
	run := pipeline.PipelineRun{
		ID:      id,
		Kind:    kind,
		Status:  pipeline.RunStatusRunning,
		Started: c.clock.Now(),
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return run, fmt.Errorf("create run: %w", err)
	}
	c.logger.Info("run started", zap.String("run_id", id), zap.String("kind", string(kind)))
	return run, nil
}

func (c *Coordinator) finishRun(ctx context.Context, run pipeline.PipelineRun, cause error) (pipeline.PipelineRun, error) {
	now := c.clock.Now()
	run.Finished = &now
	if cause != nil {
		run.Status = pipeline.RunStatusFailed
		run.ErrorText = cause.Error()
	} else {
		run.Status = pipeline.RunStatusSucceeded
	}
	if err := c.store.UpdateRun(ctx, run); err != nil {
		c.logger.Error("recording run result", zap.String("run_id", run.ID), zap.Error(err))
	}
	metrics.RunObserved(string(run.Kind), string(run.Status))
	c.logger.Info("run finished",
		zap.String("run_id", run.ID),
		zap.String("kind", string(run.Kind)),
		zap.String("status", string(run.Status)),
		zap.Int("records_upserted", run.RecordsUpserted),
		zap.Int("records_skipped", run.RecordsSkipped),
		zap.Int("documents_queued", run.DocumentsQueued),
		zap.Int("documents_failed", run.DocumentsFailed))
	return run, cause
}
