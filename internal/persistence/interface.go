// Package persistence defines the durable storage capabilities the triage
// engine depends on: a small-value key/value store for progress, locks and
// pointers, and a blob store for the accumulated results document.
package persistence

import (
	"context"
	"errors"
)

// ErrBlobNotFound indicates the named blob does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// KVStore is a durable string map. Absent keys are not an error; Get
// reports presence explicitly so callers can apply defaults.
type KVStore interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores the value for key.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// SetMany applies all updates in a single durable write. A nil map
	// value deletes the key; see Tombstone.
	SetMany(ctx context.Context, values map[string]*string) error
}

// Tombstone marks a key for deletion in SetMany.
var Tombstone *string = nil

// Value is a convenience for building SetMany maps.
func Value(s string) *string { return &s }

// BlobHandle identifies a stored blob for subsequent writes.
type BlobHandle string

// BlobStore persists a small number of named JSON documents. Writes are
// atomic: a torn write must leave the previous content readable.
type BlobStore interface {
	// ReadOrInit returns the content of the named blob, creating it with
	// init when absent.
	ReadOrInit(ctx context.Context, name string, init []byte) ([]byte, BlobHandle, error)
	// Write replaces the blob content atomically.
	Write(ctx context.Context, handle BlobHandle, content []byte) error
	// Trash removes the named blob. Trashing an absent blob is not an error.
	Trash(ctx context.Context, name string) error
}
