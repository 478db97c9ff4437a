// Package registry resolves engine registrations. Registrations are owned by
// an external system and persisted in a document store; the broker only ever
// reads them.
package registry

import (
	"context"
	"errors"

	"github.com/AltairaLabs/engine-broker/internal/model"
)

// ErrNotFound is returned when no registration exists for an engine id.
var ErrNotFound = errors.New("engine not found")

// Registry looks up engine registrations.
type Registry interface {
	// Find returns the registration for an engine id, or ErrNotFound.
	// Any other error means the backing store is unavailable.
	Find(ctx context.Context, id model.EngineID) (*model.Engine, error)

	// FindBySelector returns every registration whose provider selector
	// matches. An empty slice is not an error: it means the presented
	// provider secret selects no engines.
	FindBySelector(ctx context.Context, selector string) ([]*model.Engine, error)
}
