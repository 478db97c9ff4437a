package model

import "github.com/google/uuid"

// JobID is the opaque 128-bit identifier the broker mints per job. It is the
// handle a provider posts output to, so it must be unguessable.
type JobID string

func (id JobID) String() string { return string(id) }

// NewJobID returns a fresh random job id.
func NewJobID() JobID {
	return JobID(uuid.NewString())
}

// Work is one analysis request: the position to analyse and the engine
// parameters, as supplied by the client and bounded by the registration.
type Work struct {
	SessionID  string   `json:"sessionId"`
	Threads    int      `json:"threads"`
	Hash       int      `json:"hash"`
	Infinite   bool     `json:"infinite,omitempty"`
	Depth      int      `json:"depth,omitempty"`
	MultiPv    MultiPv  `json:"multiPv"`
	Variant    Variant  `json:"variant"`
	InitialFen string   `json:"initialFen"`
	Moves      []string `json:"moves"`
}

// WithDefaults fills unset fields from the registration: zero depth becomes
// the registration's shallow depth unless the request is infinite, and a
// zero multiPv becomes 1.
func (w Work) WithDefaults(engine *Engine) Work {
	if w.Depth == 0 && !w.Infinite {
		w.Depth = engine.ShallowDepth
	}
	if w.MultiPv == 0 {
		w.MultiPv = 1
	}
	return w
}

// JobRequest is the unit handed from a waiting client to a provider: a fresh
// job id, the engine it targets, the owning user, and the validated work.
type JobRequest struct {
	ID           JobID    `json:"id"`
	EngineID     EngineID `json:"engineId"`
	UserID       UserID   `json:"-"`
	ProviderData string   `json:"providerData,omitempty"`
	Work         Work     `json:"work"`
}
