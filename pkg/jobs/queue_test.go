package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan string, 2)
	q := NewQueue("runs", func(ctx context.Context, job Job) error {
		done <- job.ID
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "run-1", Type: "timetable.solve"}))
	require.NoError(t, q.Enqueue(Job{ID: "run-2", Type: "timetable.solve"}))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-done:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed")
		}
	}
	require.True(t, got["run-1"])
	require.True(t, got["run-2"])
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("runs", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job{ID: "run-1"}))
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var calls int32
	finished := make(chan int, 1)
	q := NewQueue("runs", func(ctx context.Context, job Job) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			return errors.New("database unavailable")
		}
		finished <- job.Attempt
		return nil
	}, QueueConfig{MaxRetries: 2, RetryDelay: 10 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "run-1"}))

	select {
	case attempt := <-finished:
		require.Equal(t, 1, attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
}

func TestQueueRecoversFromPanics(t *testing.T) {
	processed := make(chan string, 1)
	q := NewQueue("runs", func(ctx context.Context, job Job) error {
		if job.ID == "boom" {
			panic("solver bug")
		}
		processed <- job.ID
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "boom"}))
	require.NoError(t, q.Enqueue(Job{ID: "after"}))

	select {
	case id := <-processed:
		require.Equal(t, "after", id)
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestQueueIgnoresDuplicatePendingJobs(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	q := NewQueue("runs", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "run-1"}))
	require.NoError(t, q.Enqueue(Job{ID: "run-1"}))
	require.Equal(t, 1, q.Pending())

	close(release)
	require.Eventually(t, func() bool { return q.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Once finished the same ID may be queued again.
	require.NoError(t, q.Enqueue(Job{ID: "run-1"}))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, 2*time.Second, 10*time.Millisecond)
}
