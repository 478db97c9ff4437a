package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/engine-broker/internal/model"
)

func testJob(id model.JobID, engineID model.EngineID) *Job {
	return &Job{
		Request: model.JobRequest{ID: id, EngineID: engineID},
		Session: newSession(id, engineID, "u1", 8, time.Second),
	}
}

func TestTakeReturnsQueuedJob(t *testing.T) {
	q := NewJobQueue()
	q.Offer("e1", testJob("j1", "e1"))

	job, err := q.Take(context.Background(), []model.EngineID{"e1"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.JobID("j1"), job.Request.ID)
	assert.Equal(t, 0, q.Len("e1"))
}

func TestTakeFIFOWithinEngine(t *testing.T) {
	q := NewJobQueue()
	q.Offer("e1", testJob("j1", "e1"))
	q.Offer("e1", testJob("j2", "e1"))
	q.Offer("e1", testJob("j3", "e1"))

	ctx := context.Background()
	for _, want := range []model.JobID{"j1", "j2", "j3"} {
		job, err := q.Take(ctx, []model.EngineID{"e1"}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, job.Request.ID)
	}
}

func TestTakeTimesOut(t *testing.T) {
	q := NewJobQueue()
	start := time.Now()
	_, err := q.Take(context.Background(), []model.EngineID{"e1"}, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTakeNoEngineIDsWaitsOutTimeout(t *testing.T) {
	q := NewJobQueue()
	_, err := q.Take(context.Background(), nil, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimedOut)
}

func TestTakeWakesParkedWaiter(t *testing.T) {
	q := NewJobQueue()
	got := make(chan *Job, 1)
	go func() {
		job, err := q.Take(context.Background(), []model.EngineID{"e1"}, 5*time.Second)
		if err == nil {
			got <- job
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Offer("e1", testJob("j1", "e1"))

	select {
	case job := <-got:
		assert.Equal(t, model.JobID("j1"), job.Request.ID)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestTakeUnionAcrossEngines(t *testing.T) {
	q := NewJobQueue()
	got := make(chan *Job, 1)
	go func() {
		job, err := q.Take(context.Background(), []model.EngineID{"e1", "e2", "e3"}, 5*time.Second)
		if err == nil {
			got <- job
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Offer("e2", testJob("j2", "e2"))

	select {
	case job := <-got:
		assert.Equal(t, model.JobID("j2"), job.Request.ID)
	case <-time.After(time.Second):
		t.Fatal("union waiter was not woken")
	}
}

func TestWaitersServedInRegistrationOrder(t *testing.T) {
	q := NewJobQueue()
	first := make(chan model.JobID, 1)
	second := make(chan model.JobID, 1)

	go func() {
		job, err := q.Take(context.Background(), []model.EngineID{"e1"}, 5*time.Second)
		if err == nil {
			first <- job.Request.ID
		}
	}()
	time.Sleep(30 * time.Millisecond)
	go func() {
		job, err := q.Take(context.Background(), []model.EngineID{"e1"}, 5*time.Second)
		if err == nil {
			second <- job.Request.ID
		}
	}()
	time.Sleep(30 * time.Millisecond)

	q.Offer("e1", testJob("j1", "e1"))
	q.Offer("e1", testJob("j2", "e1"))

	select {
	case id := <-first:
		assert.Equal(t, model.JobID("j1"), id)
	case <-time.After(time.Second):
		t.Fatal("first waiter not served")
	}
	select {
	case id := <-second:
		assert.Equal(t, model.JobID("j2"), id)
	case <-time.After(time.Second):
		t.Fatal("second waiter not served")
	}
}

func TestCancelledTakeConsumesNoJob(t *testing.T) {
	q := NewJobQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := q.Take(ctx, []model.EngineID{"e1"}, 5*time.Second)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// A job offered after the waiter departed must stay queued for the
	// next taker.
	q.Offer("e1", testJob("j1", "e1"))
	job, err := q.Take(context.Background(), []model.EngineID{"e1"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.JobID("j1"), job.Request.ID)
}

func TestWithdraw(t *testing.T) {
	q := NewJobQueue()
	q.Offer("e1", testJob("j1", "e1"))
	q.Offer("e1", testJob("j2", "e1"))

	assert.True(t, q.Withdraw("e1", "j1"))
	assert.False(t, q.Withdraw("e1", "j1"))
	assert.False(t, q.Withdraw("e1", "missing"))
	assert.Equal(t, 1, q.Len("e1"))

	job, err := q.Take(context.Background(), []model.EngineID{"e1"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.JobID("j2"), job.Request.ID)
}

func TestSweepDropsTerminalJobsAndEmptyQueues(t *testing.T) {
	q := NewJobQueue()
	j1 := testJob("j1", "e1")
	j2 := testJob("j2", "e1")
	q.Offer("e1", j1)
	q.Offer("e1", j2)
	j1.Session.Cancel(ReasonPreempted)

	dropped := q.Sweep()
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, q.Len("e1"))

	// Departed waiters are swept with their empty queue.
	_, err := q.Take(context.Background(), []model.EngineID{"e2"}, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimedOut)
	q.Sweep()
	assert.Equal(t, 0, q.Len("e2"))
}

func TestConcurrentOffersAndTakes(t *testing.T) {
	q := NewJobQueue()
	const n = 50
	results := make(chan model.JobID, n)

	for i := 0; i < n; i++ {
		go func() {
			job, err := q.Take(context.Background(), []model.EngineID{"e1"}, 5*time.Second)
			if err == nil {
				results <- job.Request.ID
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < n; i++ {
		q.Offer("e1", testJob(model.NewJobID(), "e1"))
	}

	seen := make(map[model.JobID]bool)
	for i := 0; i < n; i++ {
		select {
		case id := <-results:
			require.False(t, seen[id], "job %s delivered twice", id)
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d takes completed", i, n)
		}
	}
	assert.Equal(t, 0, q.Len("e1"))
}
