package broker

import (
	"context"
	"sync"
	"time"

	"github.com/AltairaLabs/engine-broker/internal/model"
)

// SessionState is the lifecycle state of one job.
type SessionState int

const (
	// StateQueued: created, waiting in the job queue.
	StateQueued SessionState = iota
	// StateAcquired: dequeued by a provider, no output yet.
	StateAcquired
	// StateStreaming: at least one chunk has been pushed.
	StateStreaming
	// StateCompleted: the provider's upload ended normally. Terminal.
	StateCompleted
	// StateCancelled: torn down before completion. Terminal.
	StateCancelled
)

func (s SessionState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateAcquired:
		return "acquired"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// CancelReason records why a session was cancelled.
type CancelReason string

const (
	// ReasonPreempted: a newer analyse by the same (user, engine) pair.
	ReasonPreempted CancelReason = "preempted"
	// ReasonClientGone: the analyse response stream went away.
	ReasonClientGone CancelReason = "client_gone"
	// ReasonProviderGone: the provider's upload broke mid-stream.
	ReasonProviderGone CancelReason = "provider_gone"
	// ReasonClientStalled: the client stopped draining and the pipe's
	// stall budget ran out.
	ReasonClientStalled CancelReason = "client_stalled"
	// ReasonExpired: the session sat idle past the janitor's age limit.
	ReasonExpired CancelReason = "expired"
)

// Session is one in-flight job's rendezvous state: the lifecycle state
// machine and the provider-to-client chunk pipe.
//
// Chunks travel through a bounded channel so that no lock is held while
// blocking on a slow peer; the state machine is serialised by the session's
// own mutex. The done channel is closed exactly once, on the transition to a
// terminal state.
type Session struct {
	id       model.JobID
	engineID model.EngineID
	userID   model.UserID

	out  chan []byte
	done chan struct{}

	stallTimeout time.Duration

	mu           sync.Mutex
	state        SessionState
	reason       CancelReason
	createdAt    time.Time
	lastActivity time.Time
}

func newSession(id model.JobID, engineID model.EngineID, userID model.UserID, buffer int, stallTimeout time.Duration) *Session {
	now := time.Now()
	return &Session{
		id:           id,
		engineID:     engineID,
		userID:       userID,
		out:          make(chan []byte, buffer),
		done:         make(chan struct{}),
		stallTimeout: stallTimeout,
		state:        StateQueued,
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the job id.
func (s *Session) ID() model.JobID { return s.id }

// EngineID returns the engine the job targets.
func (s *Session) EngineID() model.EngineID { return s.engineID }

// UserID returns the owning user.
func (s *Session) UserID() model.UserID { return s.userID }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns the cancel reason, empty unless cancelled.
func (s *Session) Reason() CancelReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// LastActivity returns the time of the last state transition or chunk.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// markAcquired transitions Queued -> Acquired. Reports false if the session
// already left Queued; the caller must then treat the dequeued job as stale.
func (s *Session) markAcquired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateQueued {
		return false
	}
	s.state = StateAcquired
	s.lastActivity = time.Now()
	return true
}

// PushChunk appends one output chunk for the client to observe. The first
// push transitions Acquired -> Streaming. Returns ErrSessionGone once the
// session is terminal, and cancels the session (client_stalled) if the
// client stops draining for longer than the stall budget.
func (s *Session) PushChunk(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrSessionGone
	}
	if s.state == StateAcquired {
		s.state = StateStreaming
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	select {
	case s.out <- chunk:
		return nil
	case <-s.done:
		return ErrSessionGone
	default:
	}

	// Pipe full: wait for capacity, bounded by the stall budget.
	timer := time.NewTimer(s.stallTimeout)
	defer timer.Stop()
	select {
	case s.out <- chunk:
		return nil
	case <-s.done:
		return ErrSessionGone
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		s.Cancel(ReasonClientStalled)
		return ErrSessionGone
	}
}

// NextChunk yields the next output chunk, or done=true once the session is
// terminal. A completed session's buffered tail is drained before the
// terminal marker; a cancelled session reports done immediately so that no
// chunk is observed after cancellation.
func (s *Session) NextChunk(ctx context.Context) (chunk []byte, done bool, err error) {
	if s.State() == StateCancelled {
		return nil, true, nil
	}

	// Buffered chunks first, so completion never truncates.
	select {
	case chunk = <-s.out:
		return chunk, false, nil
	default:
	}

	select {
	case chunk = <-s.out:
		return chunk, false, nil
	case <-s.done:
		if s.State() == StateCompleted {
			select {
			case chunk = <-s.out:
				return chunk, false, nil
			default:
			}
		}
		return nil, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Complete marks the session Completed after the provider's upload ended
// normally. Idempotent; refused with ErrSessionGone after a cancel.
func (s *Session) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateCompleted:
		return nil
	case StateCancelled:
		return ErrSessionGone
	}
	s.state = StateCompleted
	s.lastActivity = time.Now()
	close(s.done)
	return nil
}

// Cancel marks the session Cancelled and releases any parked producer or
// consumer. Idempotent; the first reason wins.
func (s *Session) Cancel(reason CancelReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = StateCancelled
	s.reason = reason
	s.lastActivity = time.Now()
	close(s.done)
}
