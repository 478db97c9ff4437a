// Package broker implements the job rendezvous: it couples analyse calls
// from clients with acquire/submit calls from providers and relays engine
// output between them.
package broker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/AltairaLabs/engine-broker/internal/model"
	"github.com/AltairaLabs/engine-broker/internal/position"
	"github.com/AltairaLabs/engine-broker/internal/registry"
	"github.com/AltairaLabs/engine-broker/internal/uci"
)

const (
	// maxLineSize bounds one engine output line. Deep multipv lines run
	// long but never near this.
	maxLineSize = 1 << 20

	initialScanBuffer = 64 * 1024
)

// Config tunes a Broker. Zero values select the defaults.
type Config struct {
	// ChunkBuffer is the per-session output pipe capacity, in chunks.
	ChunkBuffer int
	// StallTimeout is how long a push may wait for pipe capacity before
	// the session is cancelled as client_stalled.
	StallTimeout time.Duration
	// MaxSessions caps concurrently tracked sessions; 0 disables the cap.
	MaxSessions int
}

// DefaultConfig returns the default broker tuning.
func DefaultConfig() Config {
	return Config{
		ChunkBuffer:  8,
		StallTimeout: 5 * time.Second,
	}
}

type pairKey struct {
	user   model.UserID
	engine model.EngineID
}

// Broker owns the job queue and the session maps, and implements the three
// externally visible operations: Analyse, Acquire, Submit.
type Broker struct {
	registry registry.Registry
	queue    *JobQueue
	logger   *slog.Logger
	cfg      Config

	// mu guards the two maps. Sessions serialise their own transitions;
	// the queue has its own sharded locks.
	mu       sync.Mutex
	sessions map[model.JobID]*Session
	active   map[pairKey]*Session
}

// New creates a broker over a registry.
func New(reg registry.Registry, logger *slog.Logger, cfg Config) *Broker {
	def := DefaultConfig()
	if cfg.ChunkBuffer <= 0 {
		cfg.ChunkBuffer = def.ChunkBuffer
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = def.StallTimeout
	}
	return &Broker{
		registry: reg,
		queue:    NewJobQueue(),
		logger:   logger,
		cfg:      cfg,
		sessions: make(map[model.JobID]*Session),
		active:   make(map[pairKey]*Session),
	}
}

// SessionCount returns the number of tracked sessions.
func (b *Broker) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Analyse validates a client request, preempts the previous session for the
// same (user, engine) pair, enqueues a fresh job, and returns its session.
// The caller streams chunks via NextChunk and must call Finish when done.
func (b *Broker) Analyse(ctx context.Context, engineID model.EngineID, secret model.ClientSecret, work model.Work) (*Session, error) {
	engine, err := b.registry.Find(ctx, engineID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if !secret.Matches(engine.ClientSecretHash) {
		return nil, ErrForbidden
	}

	work = work.WithDefaults(engine)
	if err := position.Validate(work, engine); err != nil {
		return nil, err
	}

	id := model.NewJobID()
	session := newSession(id, engineID, engine.UserID, b.cfg.ChunkBuffer, b.cfg.StallTimeout)
	key := pairKey{user: engine.UserID, engine: engineID}

	b.mu.Lock()
	if b.cfg.MaxSessions > 0 && len(b.sessions) >= b.cfg.MaxSessions {
		b.mu.Unlock()
		return nil, ErrBusy
	}
	b.sessions[id] = session
	prev := b.active[key]
	b.active[key] = session
	b.mu.Unlock()

	if prev != nil && !prev.State().Terminal() {
		prev.Cancel(ReasonPreempted)
		b.queue.Withdraw(engineID, prev.ID())
		b.logger.Info("Session preempted",
			"job_id", prev.ID(),
			"engine_id", engineID,
			"superseded_by", id,
		)
	}

	b.queue.Offer(engineID, &Job{
		Request: model.JobRequest{
			ID:           id,
			EngineID:     engineID,
			UserID:       engine.UserID,
			ProviderData: engine.ProviderData,
			Work:         work,
		},
		Session: session,
	})

	b.logger.Info("Job enqueued",
		"job_id", id,
		"engine_id", engineID,
		"variant", work.Variant,
		"depth", work.Depth,
		"infinite", work.Infinite,
	)
	return session, nil
}

// Finish releases a session once its client-side stream is done: cancels it
// if still live (client_gone), withdraws it from the queue if never
// acquired, and drops it from the maps.
func (b *Broker) Finish(session *Session) {
	session.Cancel(ReasonClientGone)
	b.queue.Withdraw(session.EngineID(), session.ID())

	b.mu.Lock()
	if b.sessions[session.ID()] == session {
		delete(b.sessions, session.ID())
	}
	key := pairKey{user: session.UserID(), engine: session.EngineID()}
	if b.active[key] == session {
		delete(b.active, key)
	}
	b.mu.Unlock()

	state := session.State()
	attrs := []any{"job_id", session.ID(), "state", state.String()}
	if state == StateCancelled {
		attrs = append(attrs, "reason", string(session.Reason()))
	}
	b.logger.Info("Session finished", attrs...)
}

// Acquire long-polls for a job on any engine the provider secret selects.
// Registry failures are swallowed (logged) so providers keep polling.
// Returns ErrTimedOut when the deadline passes with no matching job.
func (b *Broker) Acquire(ctx context.Context, secret model.ProviderSecret, timeout time.Duration) (*model.JobRequest, error) {
	var engineIDs []model.EngineID
	engines, err := b.registry.FindBySelector(ctx, secret.Selector())
	if err != nil {
		b.logger.Warn("Registry lookup failed during acquire; waiting out the poll", "error", err)
	} else {
		engineIDs = make([]model.EngineID, 0, len(engines))
		for _, engine := range engines {
			engineIDs = append(engineIDs, engine.ID)
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimedOut
		}
		job, err := b.queue.Take(ctx, engineIDs, remaining)
		if err != nil {
			return nil, err
		}
		if !job.Session.markAcquired() {
			// Cancelled between enqueue and dequeue; keep polling.
			continue
		}
		b.logger.Info("Job acquired", "job_id", job.Request.ID, "engine_id", job.Request.EngineID)
		request := job.Request
		return &request, nil
	}
}

// Submit relays a provider's output stream into the job's session, one line
// per chunk, completing the session on a normal end of stream. Returns
// ErrNotFound for an unknown, terminal, or never-acquired job. A vanished
// client is not an error from the provider's point of view.
func (b *Broker) Submit(ctx context.Context, jobID model.JobID, stream io.Reader) error {
	b.mu.Lock()
	session := b.sessions[jobID]
	b.mu.Unlock()
	if session == nil {
		return ErrNotFound
	}
	if state := session.State(); state.Terminal() || state == StateQueued {
		return ErrNotFound
	}

	var (
		lines int
		depth int
		nodes uint64
	)
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, initialScanBuffer), maxLineSize)
	for scanner.Scan() {
		chunk := append([]byte(nil), scanner.Bytes()...)
		if parsed, err := uci.ParseLine(string(chunk)); err == nil && parsed.Info != nil {
			if parsed.Info.Depth > 0 {
				depth = parsed.Info.Depth
			}
			if parsed.Info.Nodes > 0 {
				nodes = parsed.Info.Nodes
			}
		}
		if err := session.PushChunk(ctx, chunk); err != nil {
			if errors.Is(err, ErrSessionGone) {
				b.logger.Debug("Upload stopped, session gone",
					"job_id", jobID,
					"reason", string(session.Reason()),
				)
				return nil
			}
			session.Cancel(ReasonProviderGone)
			return fmt.Errorf("relay chunk: %w", err)
		}
		lines++
	}
	if err := scanner.Err(); err != nil {
		session.Cancel(ReasonProviderGone)
		b.logger.Info("Provider upload broke mid-stream", "job_id", jobID, "error", err)
		return fmt.Errorf("read upload: %w", err)
	}

	if err := session.Complete(); err != nil {
		// Cancelled while the last lines were in flight; the stream ended
		// anyway, nothing for the provider to do.
		return nil
	}
	b.logger.Info("Job completed", "job_id", jobID, "lines", lines, "depth", depth, "nodes", nodes)
	return nil
}

// CleanupStale cancels sessions idle past maxAge, drops terminal leftovers
// from the maps, and sweeps the queue. Returns the number of sessions
// removed or cancelled.
func (b *Broker) CleanupStale(maxAge time.Duration) int {
	now := time.Now()
	var stale, leftovers []*Session

	b.mu.Lock()
	for _, session := range b.sessions {
		if session.State().Terminal() {
			leftovers = append(leftovers, session)
		} else if now.Sub(session.LastActivity()) > maxAge {
			stale = append(stale, session)
		}
	}
	for _, session := range leftovers {
		delete(b.sessions, session.ID())
		key := pairKey{user: session.UserID(), engine: session.EngineID()}
		if b.active[key] == session {
			delete(b.active, key)
		}
	}
	b.mu.Unlock()

	for _, session := range stale {
		idle := now.Sub(session.LastActivity())
		session.Cancel(ReasonExpired)
		b.queue.Withdraw(session.EngineID(), session.ID())
		b.logger.Info("Session expired", "job_id", session.ID(), "idle", idle)
	}
	b.queue.Sweep()
	return len(stale) + len(leftovers)
}
