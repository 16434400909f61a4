package pubsub_test

import (
	"context"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/civicsignal/permitpipe/internal/pipeline"
	"github.com/civicsignal/permitpipe/internal/queue/pubsub"
)

func TestPubSubQueueRoundTrip(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	// Provision the topic and subscription on the fake server.
	admin, err := gcppubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	topic, err := admin.CreateTopic(ctx, "tasks")
	require.NoError(t, err)
	_, err = admin.CreateSubscription(ctx, "tasks-sub", gcppubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)
	require.NoError(t, admin.Close())

	conn2, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn2.Close()

	q, err := pubsub.New(ctx, pubsub.Config{
		ProjectID:    "test-project",
		TopicID:      "tasks",
		Subscription: "tasks-sub",
	}, zap.NewNop(), option.WithGRPCConn(conn2))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, q.Close())
	}()

	task := pipeline.Task{BatchID: "b1", DocumentID: "d1", Stage: pipeline.StageFetch, Attempt: 1, Submitted: 42}
	require.NoError(t, q.Enqueue(ctx, task))

	dequeueCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	got, err := q.Dequeue(dequeueCtx)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestPubSubQueueMissingTopic(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	_, err = pubsub.New(ctx, pubsub.Config{
		ProjectID:    "test-project",
		TopicID:      "nope",
		Subscription: "nope-sub",
	}, zap.NewNop(), option.WithGRPCConn(conn))
	assert.Error(t, err)
}
