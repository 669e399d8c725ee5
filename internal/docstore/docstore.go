// Package docstore provides a keyed document store with an append-style
// entry log, backed by PostgreSQL in deployment and by memory in tests.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound indicates that no document exists at the given path.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("docstore: store unavailable")
)

// Store is a keyed document store. Paths are slash-separated logical keys,
// e.g. "user-roles/u123". Documents are JSON objects.
type Store interface {
	// Get decodes the document at path into dest.
	Get(ctx context.Context, path string, dest any) error
	// Set writes the document at path. With merge true, top-level fields of
	// doc are merged over any existing document instead of replacing it.
	Set(ctx context.Context, path string, doc any, merge bool) error
	// Update merges the given fields into an existing document. Returns
	// ErrNotFound when no document exists at path.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Delete removes the document at path. Deleting a missing document is
	// not an error.
	Delete(ctx context.Context, path string) error
	// Push appends an entry to the log at path and returns the entry ID.
	Push(ctx context.Context, path string, entry any) (string, error)
	// List returns every document whose path starts with prefix, keyed by
	// full path. This is the collection read the role catalog depends on.
	List(ctx context.Context, prefix string) (map[string]json.RawMessage, error)
}
