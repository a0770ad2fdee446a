package dispatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestScheduleRunsJob(t *testing.T) {
	d := NewDispatcher(context.Background(), testLogger())

	done := make(chan struct{})
	d.Schedule(1, func(ctx context.Context) error {
		close(done)
		return nil
	}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
	d.Wait()
}

func TestPerUserJobsRunInOrder(t *testing.T) {
	d := NewDispatcher(context.Background(), testLogger())

	var mu sync.Mutex
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		d.Schedule(1, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}, nil)
	}
	d.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestScheduleDoesNotBlockOnSlowJob(t *testing.T) {
	d := NewDispatcher(context.Background(), testLogger())

	release := make(chan struct{})
	d.Schedule(1, func(ctx context.Context) error {
		<-release
		return nil
	}, nil)

	// Scheduling behind a running job must return immediately
	start := time.Now()
	d.Schedule(1, func(ctx context.Context) error { return nil }, nil)
	require.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	d.Wait()
}

func TestFailingJobDoesNotBlockQueue(t *testing.T) {
	d := NewDispatcher(context.Background(), testLogger())

	var mu sync.Mutex
	var reported error
	ran := false

	d.Schedule(1, func(ctx context.Context) error {
		return errors.New("backend down")
	}, func(err error) {
		mu.Lock()
		reported = err
		mu.Unlock()
	})
	d.Schedule(1, func(ctx context.Context) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	}, nil)
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Error(t, reported)
	assert.Contains(t, reported.Error(), "backend down")
	assert.True(t, ran, "queue must keep draining after a failure")
}

func TestPanickingJobIsContained(t *testing.T) {
	d := NewDispatcher(context.Background(), testLogger())

	var mu sync.Mutex
	var reported error
	ran := false

	d.Schedule(1, func(ctx context.Context) error {
		panic("boom")
	}, func(err error) {
		mu.Lock()
		reported = err
		mu.Unlock()
	})
	d.Schedule(1, func(ctx context.Context) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	}, nil)
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Error(t, reported)
	assert.Contains(t, reported.Error(), "job panicked")
	assert.Contains(t, reported.Error(), "boom")
	assert.True(t, ran, "a panic must not take down the user's queue")
}

func TestUsersRunConcurrently(t *testing.T) {
	d := NewDispatcher(context.Background(), testLogger())

	release := make(chan struct{})
	other := make(chan struct{})

	d.Schedule(1, func(ctx context.Context) error {
		<-release
		return nil
	}, nil)
	d.Schedule(2, func(ctx context.Context) error {
		close(other)
		return nil
	}, nil)

	// User 2 finishes while user 1's job is still blocked
	select {
	case <-other:
	case <-time.After(time.Second):
		t.Fatal("jobs for different users must not serialize")
	}

	close(release)
	d.Wait()
}

func TestJobsObserveDispatcherContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(ctx, testLogger())
	cancel()

	var mu sync.Mutex
	var got error
	d.Schedule(1, func(jobCtx context.Context) error {
		mu.Lock()
		got = jobCtx.Err()
		mu.Unlock()
		return nil
	}, nil)
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, got, context.Canceled)
}
