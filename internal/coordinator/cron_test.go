package coordinator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicsignal/permitpipe/internal/coordinator"
)

func TestSchedule(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeSource{}, nil, nil)

	sched, err := coordinator.Schedule(context.Background(), f.coord, "0 */6 * * *", "30 2 * * *", zap.NewNop())
	require.NoError(t, err)
	defer sched.Stop()
	assert.Len(t, sched.Entries(), 2)
}

func TestScheduleDisabledJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeSource{}, nil, nil)

	sched, err := coordinator.Schedule(context.Background(), f.coord, "", "30 2 * * *", zap.NewNop())
	require.NoError(t, err)
	defer sched.Stop()
	assert.Len(t, sched.Entries(), 1)
}

func TestScheduleBadSpec(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeSource{}, nil, nil)

	_, err := coordinator.Schedule(context.Background(), f.coord, "not a cron spec", "", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a cron spec")
}
