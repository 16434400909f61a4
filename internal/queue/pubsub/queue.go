// Package pubsub provides a Google Cloud Pub/Sub backed task queue for
// deployments that spread workers across processes.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// Config carries the Pub/Sub coordinates of the task queue.
type Config struct {
	ProjectID    string
	TopicID      string
	Subscription string
}

// Queue publishes stage tasks to a topic and pulls them from a subscription.
// Tasks are JSON-encoded on the wire.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	tasks   chan pipeline.Task
	cancel  context.CancelFunc
	recvID  string
	done    chan struct{}
	recvErr error
}

// New creates a Pub/Sub client, verifies that the topic and subscription
// exist, and starts pulling messages in the background. It authenticates
// using Application Default Credentials; opts let tests point at a fake
// server.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Queue, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(cfg.TopicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		closeClient(client, logger)
		return nil, fmt.Errorf("check topic %q: %w", cfg.TopicID, err)
	}
	if !ok {
		closeClient(client, logger)
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}

	sub := client.Subscription(cfg.Subscription)
	ok, err = sub.Exists(ctx)
	if err != nil {
		closeClient(client, logger)
		return nil, fmt.Errorf("check subscription %q: %w", cfg.Subscription, err)
	}
	if !ok {
		closeClient(client, logger)
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", cfg.Subscription, cfg.ProjectID)
	}

	recvCtx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		client: client,
		topic:  topic,
		sub:    sub,
		logger: logger,
		tasks:  make(chan pipeline.Task),
		cancel: cancel,
		recvID: cfg.Subscription,
		done:   make(chan struct{}),
	}
	go q.receive(recvCtx)
	return q, nil
}

// Enqueue publishes the task and waits for the server acknowledgement so
// callers see publish failures.
func (q *Queue) Enqueue(ctx context.Context, task pipeline.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

// Dequeue blocks until a pulled task is available or the context is done.
func (q *Queue) Dequeue(ctx context.Context) (pipeline.Task, error) {
	select {
	case task, ok := <-q.tasks:
		if !ok {
			return pipeline.Task{}, fmt.Errorf("subscription %q closed", q.recvID)
		}
		return task, nil
	case <-ctx.Done():
		return pipeline.Task{}, ctx.Err()
	}
}

func (q *Queue) receive(ctx context.Context) {
	defer close(q.done)
	defer close(q.tasks)
	err := q.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var task pipeline.Task
		if err := json.Unmarshal(msg.Data, &task); err != nil {
			// A malformed message would redeliver forever; ack and drop it.
			q.logger.Warn("dropping malformed task message",
				zap.String("message_id", msg.ID), zap.Error(err))
			msg.Ack()
			return
		}
		select {
		case q.tasks <- task:
			msg.Ack()
		case <-ctx.Done():
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		q.logger.Error("pubsub receive stopped", zap.Error(err))
		q.recvErr = fmt.Errorf("receive from %q: %w", q.recvID, err)
	}
}

// Close stops the background receiver and releases the client. A receive
// failure that already stopped the pull loop is reported alongside any
// client close error.
func (q *Queue) Close() error {
	q.cancel()
	q.topic.Stop()
	<-q.done

	var closeErr error
	if err := q.client.Close(); err != nil {
		closeErr = fmt.Errorf("close pubsub client: %w", err)
	}
	return multierr.Combine(q.recvErr, closeErr)
}

func closeClient(client *pubsub.Client, logger *zap.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("closing pubsub client", zap.Error(err))
	}
}
