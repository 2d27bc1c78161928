// Package keyset caches the identity provider's public signing keys.
//
// The cache is process-wide, read-heavy state: lookups read an immutable
// snapshot through an atomic pointer and refreshes build a new snapshot and
// swap it in. Verifiers depend on the KeySet interface so tests can supply
// fixed keys through StaticKeySet.
package keyset

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned when no key matches the requested key ID.
var ErrKeyNotFound = errors.New("signing key not found")

// KeySet resolves a key ID to a public key usable for signature verification.
type KeySet interface {
	Key(ctx context.Context, kid string) (any, error)
}

// StaticKeySet serves a fixed set of keys.
type StaticKeySet struct {
	keys map[string]any
}

// NewStatic returns a KeySet backed by keys, indexed by key ID.
func NewStatic(keys map[string]any) *StaticKeySet {
	copied := make(map[string]any, len(keys))
	for kid, key := range keys {
		copied[kid] = key
	}
	return &StaticKeySet{keys: copied}
}

// Key returns the key for kid.
func (s *StaticKeySet) Key(_ context.Context, kid string) (any, error) {
	key, ok := s.keys[kid]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}
