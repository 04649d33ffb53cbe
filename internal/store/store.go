// Package store implements the durable key-value store backing the offline
// queues. Each key holds one serialized value; a write replaces the whole
// value for that key atomically, so a reader never observes a partial queue.
package store

import (
	"context"
	"errors"
)

// Well-known keys used by the queues
const (
	KeyIncidentQueue = "incident_queue"
	KeyMediaQueue    = "media_queue"
	KeyDrafts        = "incident_drafts"
)

// ErrNotInitialized is returned when the store has no backing database
var ErrNotInitialized = errors.New("store not initialized")

// Store defines the durable key-value operations the queues rely on.
// Get reports found=false for a missing key rather than an error, so
// callers can distinguish "empty queue" from "storage broken".
type Store interface {
	// Get retrieves the value for a key
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set writes the value for a key, replacing any previous value
	Set(ctx context.Context, key, value string) error

	// Remove deletes a key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}
