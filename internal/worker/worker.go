// Package worker executes stage tasks pulled from the work queue.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/civicsignal/permitpipe/internal/convert"
	"github.com/civicsignal/permitpipe/internal/extract"
	"github.com/civicsignal/permitpipe/internal/fetch"
	"github.com/civicsignal/permitpipe/internal/metrics"
	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// Worker dequeues stage tasks, runs the matching pipeline component, records
// the outcome, and enqueues successor tasks. Each task is one branch step of
// one document's graph, so a failure only sinks its own branch.
type Worker struct {
	queue   pipeline.Queue
	store   pipeline.Store
	tracker *pipeline.BatchTracker
	retry   pipeline.RetryPolicy
	clock   pipeline.Clock

	fetcher    *fetch.Fetcher
	text       *convert.TextExtractor
	images     *convert.ImageExtractor
	docThumb   *convert.DocThumbnailer
	imageThumb *convert.ImageThumbnailer
	attrs      *extract.Extractor

	logger *zap.Logger
}

// Deps collects the worker's collaborators.
type Deps struct {
	Queue   pipeline.Queue
	Store   pipeline.Store
	Tracker *pipeline.BatchTracker
	Retry   pipeline.RetryPolicy
	Clock   pipeline.Clock

	Fetcher        *fetch.Fetcher
	TextExtractor  *convert.TextExtractor
	ImageExtractor *convert.ImageExtractor
	DocThumbnailer *convert.DocThumbnailer
	ImageThumb     *convert.ImageThumbnailer
	Attributes     *extract.Extractor

	Logger *zap.Logger
}

// New constructs a Worker from its dependencies.
func New(deps Deps) *Worker {
	return &Worker{
		queue:      deps.Queue,
		store:      deps.Store,
		tracker:    deps.Tracker,
		retry:      deps.Retry,
		clock:      deps.Clock,
		fetcher:    deps.Fetcher,
		text:       deps.TextExtractor,
		images:     deps.ImageExtractor,
		docThumb:   deps.DocThumbnailer,
		imageThumb: deps.ImageThumb,
		attrs:      deps.Attributes,
		logger:     deps.Logger,
	}
}

// Run dequeues and handles tasks until the context is cancelled or the queue
// closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		w.Handle(ctx, task)
	}
}

// Handle runs one task to a terminal outcome or a retry re-enqueue.
func (w *Worker) Handle(ctx context.Context, task pipeline.Task) {
	start := w.clock.Now()
	outcome, produced, err := w.execute(ctx, task)
	elapsed := w.clock.Now().Sub(start)

	if err != nil && w.retry.ShouldRetry(err, task.Attempt) {
		if w.requeue(ctx, task, err) {
			return
		}
		// Could not requeue; fall through and record the failure.
	}

	res := pipeline.StageResult{
		BatchID:    task.BatchID,
		DocumentID: task.DocumentID,
		ImageID:    task.ImageID,
		Stage:      task.Stage,
		Outcome:    outcome,
		Attempt:    task.Attempt,
		RecordedAt: w.clock.Now(),
	}
	if err != nil {
		res.Outcome = pipeline.OutcomeFailed
		res.ErrorText = err.Error()
		w.logger.Warn("stage failed",
			zap.String("stage", string(task.Stage)),
			zap.String("document_id", task.DocumentID),
			zap.Int("attempt", task.Attempt),
			zap.Error(err))
	}
	if recErr := w.store.RecordStageResult(ctx, res); recErr != nil {
		w.logger.Error("recording stage result",
			zap.String("stage", string(task.Stage)),
			zap.String("document_id", task.DocumentID),
			zap.Error(recErr))
	}
	metrics.StageObserved(string(task.Stage), string(res.Outcome), elapsed)

	if err == nil && outcome == pipeline.OutcomeCompleted {
		next := pipeline.Successors(task, produced)
		// Successors register before Done so the batch count never dips to
		// zero with work outstanding.
		w.tracker.Add(task.BatchID, len(next))
		for _, succ := range next {
			if qErr := w.queue.Enqueue(ctx, succ); qErr != nil {
				w.logger.Error("enqueueing successor",
					zap.String("stage", string(succ.Stage)),
					zap.String("document_id", succ.DocumentID),
					zap.Error(qErr))
				w.tracker.Done(task.BatchID)
			}
		}
	}
	w.tracker.Done(task.BatchID)
}

// requeue waits out the backoff and resubmits the task with the next attempt
// number. It reports whether the task went back on the queue.
func (w *Worker) requeue(ctx context.Context, task pipeline.Task, cause error) bool {
	delay := w.retry.Backoff(task.Attempt)
	w.logger.Info("retrying stage",
		zap.String("stage", string(task.Stage)),
		zap.String("document_id", task.DocumentID),
		zap.Int("attempt", task.Attempt),
		zap.Duration("backoff", delay),
		zap.Error(cause))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	retry := task
	retry.Attempt++
	if err := w.queue.Enqueue(ctx, retry); err != nil {
		w.logger.Error("re-enqueueing task",
			zap.String("stage", string(task.Stage)),
			zap.String("document_id", task.DocumentID),
			zap.Error(err))
		return false
	}
	return true
}

func (w *Worker) execute(ctx context.Context, task pipeline.Task) (pipeline.Outcome, []pipeline.Image, error) {
	switch task.Stage {
	case pipeline.StageFetch:
		doc, err := w.store.GetDocument(ctx, task.DocumentID)
		if err != nil {
			return pipeline.OutcomeFailed, nil, pipeline.Transient(task.Stage, err)
		}
		if _, err := w.fetcher.Fetch(ctx, doc, false); err != nil {
			return pipeline.OutcomeFailed, nil, err
		}
		return pipeline.OutcomeCompleted, nil, nil

	case pipeline.StageExtractText:
		doc, err := w.store.GetDocument(ctx, task.DocumentID)
		if err != nil {
			return pipeline.OutcomeFailed, nil, pipeline.Transient(task.Stage, err)
		}
		if _, err := w.text.Extract(ctx, doc); err != nil {
			return pipeline.OutcomeFailed, nil, err
		}
		return pipeline.OutcomeCompleted, nil, nil

	case pipeline.StageExtractImages:
		doc, err := w.store.GetDocument(ctx, task.DocumentID)
		if err != nil {
			return pipeline.OutcomeFailed, nil, pipeline.Transient(task.Stage, err)
		}
		created, err := w.images.Extract(ctx, doc)
		if err != nil {
			return pipeline.OutcomeFailed, nil, err
		}
		return pipeline.OutcomeCompleted, created, nil

	case pipeline.StageDocThumbnail:
		doc, err := w.store.GetDocument(ctx, task.DocumentID)
		if err != nil {
			return pipeline.OutcomeFailed, nil, pipeline.Transient(task.Stage, err)
		}
		_, generated, err := w.docThumb.Generate(ctx, doc)
		if err != nil {
			return pipeline.OutcomeFailed, nil, err
		}
		if !generated {
			return pipeline.OutcomeSkipped, nil, nil
		}
		return pipeline.OutcomeCompleted, nil, nil

	case pipeline.StageAttributes:
		doc, err := w.store.GetDocument(ctx, task.DocumentID)
		if err != nil {
			return pipeline.OutcomeFailed, nil, pipeline.Transient(task.Stage, err)
		}
		if _, err := w.attrs.Extract(ctx, doc); err != nil {
			return pipeline.OutcomeFailed, nil, err
		}
		return pipeline.OutcomeCompleted, nil, nil

	case pipeline.StageImageThumbnail:
		img, err := w.store.GetImage(ctx, task.ImageID)
		if err != nil {
			return pipeline.OutcomeFailed, nil, pipeline.Transient(task.Stage, err)
		}
		if _, err := w.imageThumb.Generate(ctx, img); err != nil {
			return pipeline.OutcomeFailed, nil, err
		}
		return pipeline.OutcomeCompleted, nil, nil

	default:
		return pipeline.OutcomeFailed, nil, pipeline.Terminal(task.Stage,
			errors.New("unknown stage"))
	}
}
