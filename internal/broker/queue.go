package broker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AltairaLabs/engine-broker/internal/model"
)

// shardCount spreads unrelated engine ids over independent locks so that a
// busy engine never contends with an idle one.
const shardCount = 8

// Job pairs a request with the session its output flows through.
type Job struct {
	Request model.JobRequest
	Session *Session
}

// waiter is one parked take call. The slot holds at most one delivered job;
// the claimed flag is the atomic handover between delivery and departure, so
// a job is only ever sent to a waiter that is still there to receive it.
type waiter struct {
	slot    chan *Job
	claimed atomic.Bool
}

func newWaiter() *waiter {
	return &waiter{slot: make(chan *Job, 1)}
}

// tryClaim wins the waiter for the caller: a deliverer claims it to hand
// over a job, the take call claims it to depart. Exactly one side wins.
func (w *waiter) tryClaim() bool {
	return w.claimed.CompareAndSwap(false, true)
}

type engineQueue struct {
	jobs    []*Job
	waiters []*waiter
}

// popLiveWaiter removes and claims the earliest-registered waiter that has
// not already departed. Returns nil when none remain.
func (eq *engineQueue) popLiveWaiter() *waiter {
	for len(eq.waiters) > 0 {
		w := eq.waiters[0]
		eq.waiters = eq.waiters[1:]
		if w.tryClaim() {
			return w
		}
	}
	return nil
}

type queueShard struct {
	mu     sync.Mutex
	queues map[model.EngineID]*engineQueue
}

func (sh *queueShard) queue(id model.EngineID) *engineQueue {
	eq, ok := sh.queues[id]
	if !ok {
		eq = &engineQueue{}
		sh.queues[id] = eq
	}
	return eq
}

// JobQueue holds unacquired jobs in per-engine-id FIFO order and parks
// providers long-polling for work. Wakeups are directed: an offer wakes at
// most one waiter, on the offered id only.
type JobQueue struct {
	shards [shardCount]queueShard
}

// NewJobQueue creates an empty queue.
func NewJobQueue() *JobQueue {
	q := &JobQueue{}
	for i := range q.shards {
		q.shards[i].queues = make(map[model.EngineID]*engineQueue)
	}
	return q
}

func (q *JobQueue) shard(id model.EngineID) *queueShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &q.shards[h.Sum32()%shardCount]
}

// Offer inserts a job at the tail of its engine's queue, or hands it
// directly to the earliest parked waiter on that id. Never fails.
func (q *JobQueue) Offer(engineID model.EngineID, job *Job) {
	q.deliver(engineID, job, false)
}

func (q *JobQueue) deliver(engineID model.EngineID, job *Job, front bool) {
	sh := q.shard(engineID)
	sh.mu.Lock()
	eq := sh.queue(engineID)
	if w := eq.popLiveWaiter(); w != nil {
		sh.mu.Unlock()
		w.slot <- job
		return
	}
	if front {
		eq.jobs = append([]*Job{job}, eq.jobs...)
	} else {
		eq.jobs = append(eq.jobs, job)
	}
	sh.mu.Unlock()
}

// Take blocks until a job is available on one of the engine ids, the
// timeout elapses (ErrTimedOut), or ctx is cancelled. Jobs are served in
// enqueue order per id; waiters in registration order. A cancelled take
// never consumes a job: a delivery that races the departure is requeued at
// the front of its engine's queue.
func (q *JobQueue) Take(ctx context.Context, engineIDs []model.EngineID, timeout time.Duration) (*Job, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if len(engineIDs) == 0 {
		select {
		case <-timer.C:
			return nil, ErrTimedOut
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w := newWaiter()
	for _, id := range engineIDs {
		sh := q.shard(id)
		sh.mu.Lock()
		eq := sh.queue(id)
		if len(eq.jobs) > 0 {
			if w.tryClaim() {
				job := eq.jobs[0]
				eq.jobs = eq.jobs[1:]
				sh.mu.Unlock()
				return job, nil
			}
			// A delivery on an earlier id won the race; the job is in
			// (or on its way into) our slot.
			sh.mu.Unlock()
			return <-w.slot, nil
		}
		eq.waiters = append(eq.waiters, w)
		sh.mu.Unlock()
	}

	select {
	case job := <-w.slot:
		return job, nil
	case <-timer.C:
		if w.tryClaim() {
			return nil, ErrTimedOut
		}
		// Delivery raced the deadline; the caller is still here, take it.
		return <-w.slot, nil
	case <-ctx.Done():
		if w.tryClaim() {
			return nil, ctx.Err()
		}
		job := <-w.slot
		q.deliver(job.Request.EngineID, job, true)
		return nil, ctx.Err()
	}
}

// Withdraw removes a specific job if it is still queued. Reports whether it
// was found.
func (q *JobQueue) Withdraw(engineID model.EngineID, jobID model.JobID) bool {
	sh := q.shard(engineID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	eq, ok := sh.queues[engineID]
	if !ok {
		return false
	}
	for i, job := range eq.jobs {
		if job.Request.ID == jobID {
			eq.jobs = append(eq.jobs[:i], eq.jobs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of queued jobs for an engine id.
func (q *JobQueue) Len(engineID model.EngineID) int {
	sh := q.shard(engineID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	eq, ok := sh.queues[engineID]
	if !ok {
		return 0
	}
	return len(eq.jobs)
}

// Sweep drops departed waiters, jobs whose sessions have already
// terminated, and empty per-engine queues. Returns the number of jobs
// dropped. Called periodically by the broker's janitor.
func (q *JobQueue) Sweep() int {
	dropped := 0
	for i := range q.shards {
		sh := &q.shards[i]
		sh.mu.Lock()
		for id, eq := range sh.queues {
			live := eq.waiters[:0]
			for _, w := range eq.waiters {
				if !w.claimed.Load() {
					live = append(live, w)
				}
			}
			eq.waiters = live

			jobs := eq.jobs[:0]
			for _, job := range eq.jobs {
				if job.Session != nil && job.Session.State().Terminal() {
					dropped++
					continue
				}
				jobs = append(jobs, job)
			}
			eq.jobs = jobs

			if len(eq.jobs) == 0 && len(eq.waiters) == 0 {
				delete(sh.queues, id)
			}
		}
		sh.mu.Unlock()
	}
	return dropped
}
