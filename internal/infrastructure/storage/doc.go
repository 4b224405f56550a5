// Package storage holds the key-value backends behind the order store.
//
// Every backend implements the same three operations on string keys:
//
//	Get(ctx, key) (value, found, err)
//	Put(ctx, key, value) error
//	Delete(ctx, keys...) error
//
// Backends:
//   - memory: map behind a mutex, for tests and ENGINE_MODE=memory deployments
//   - sqlite: single kv table in a WAL-mode database file
//   - redis:  shared store when several registry instances serve one engine
package storage

import "errors"

// ErrEmptyKey is returned for blank keys
var ErrEmptyKey = errors.New("key is required")
