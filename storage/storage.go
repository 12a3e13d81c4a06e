// Package storage provides the persistent blob store the history is saved to.
// The engine treats storage as a single serialized document under a fixed
// location; implementations replace the whole document on every save.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no snapshot has been saved yet.
var ErrNotFound = errors.New("storage: snapshot not found")

// Blob is a single-document key-value store.
type Blob interface {
	// Load returns the last saved snapshot, or ErrNotFound if none exists.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the snapshot.
	Save(ctx context.Context, data []byte) error
}
