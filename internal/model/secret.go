package model

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// ClientSecret is the shared secret a client presents with an analyse
// request. Received as an opaque string and compared against the
// registration's stored hash; never logged.
type ClientSecret string

// Hash returns the hex SHA-256 of the secret under the client domain prefix.
// Matches the value stored in the registration document.
func (s ClientSecret) Hash() string {
	h := sha256.New()
	h.Write([]byte("clientSecret:"))
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// Matches compares the secret against a stored hash in constant time.
func (s ClientSecret) Matches(storedHash string) bool {
	return constantTimeEqual(s.Hash(), storedHash)
}

// ProviderSecret is the shared secret a provider presents when acquiring
// work. Its selector is the queue key linking registrations to providers.
type ProviderSecret string

// Selector returns the hex SHA-256 of the secret under the provider domain
// prefix. Registrations store this value so that a provider can be matched
// to its engines without the broker ever holding the plain secret.
func (s ProviderSecret) Selector() string {
	h := sha256.New()
	h.Write([]byte("providerSecret:"))
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// Matches compares the secret's selector against a stored selector in
// constant time.
func (s ProviderSecret) Matches(storedSelector string) bool {
	return constantTimeEqual(s.Selector(), storedSelector)
}

func constantTimeEqual(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
