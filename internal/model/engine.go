package model

import "fmt"

// EngineID identifies a registered external engine. Opaque to the broker.
type EngineID string

func (id EngineID) String() string { return string(id) }

// UserID identifies the user owning a registration. Opaque to the broker.
type UserID string

func (id UserID) String() string { return string(id) }

// Engine is one engine registration as stored by the registry. Immutable
// from the broker's perspective for the lifetime of a request.
type Engine struct {
	ID               EngineID  `bson:"_id" json:"id"`
	Name             string    `bson:"name" json:"name"`
	UserID           UserID    `bson:"userId" json:"userId"`
	MaxThreads       int       `bson:"maxThreads" json:"maxThreads"`
	MaxHash          int       `bson:"maxHash" json:"maxHash"`
	ShallowDepth     int       `bson:"shallowDepth" json:"shallowDepth"`
	DeepDepth        int       `bson:"deepDepth" json:"deepDepth"`
	Variants         []Variant `bson:"variants" json:"variants"`
	ProviderData     string    `bson:"providerData,omitempty" json:"providerData,omitempty"`
	ClientSecretHash string    `bson:"clientSecretHash" json:"-"`
	ProviderSelector string    `bson:"providerSelector" json:"-"`
}

// SupportsVariant reports whether the registration declares the variant.
// An empty variant list means standard only.
func (e *Engine) SupportsVariant(v Variant) bool {
	if len(e.Variants) == 0 {
		return v == VariantStandard
	}
	for _, have := range e.Variants {
		if have == v {
			return true
		}
	}
	return false
}

// Validate checks that a registration document is usable. Registrations are
// written by an external system; a malformed one is treated as not found
// rather than crashing a lookup path.
func (e *Engine) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("registration missing id")
	}
	if e.UserID == "" {
		return fmt.Errorf("registration %s missing userId", e.ID)
	}
	if e.MaxThreads <= 0 || e.MaxHash <= 0 {
		return fmt.Errorf("registration %s has non-positive limits", e.ID)
	}
	if e.ClientSecretHash == "" || e.ProviderSelector == "" {
		return fmt.Errorf("registration %s missing secret hashes", e.ID)
	}
	return nil
}
