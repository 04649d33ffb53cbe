// Package media implements the durable media upload queue: files are
// compressed into app-private storage on enqueue and uploaded oldest-first
// once their parent incident exists on the server.
package media

import (
	"path/filepath"
	"strings"
	"time"
)

// Kind is the kind of media file
type Kind string

const (
	// KindImage is a photo; compressed before queueing
	KindImage Kind = "image"
	// KindVideo is a video; queued as-is, never re-encoded on device
	KindVideo Kind = "video"
)

// Item is a queued media upload
type Item struct {
	ID string `json:"id"`

	// Path is the app-private copy of the file. The original (camera roll,
	// temp picker file) may disappear; this copy is ours.
	Path string `json:"path"`

	Kind Kind `json:"kind"`

	// IncidentID is the incident this media belongs to. It may start as a
	// locally generated id and gets rebound to the server-assigned id once
	// the parent incident syncs. Once remote, it never changes again.
	IncidentID string `json:"incident_id"`

	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// KindFromPath guesses the media kind from a file extension. Anything not
// recognized as a video is treated as an image.
func KindFromPath(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mov", ".m4v", ".webm", ".avi", ".mkv":
		return KindVideo
	default:
		return KindImage
	}
}

// envelope is the versioned serialization wrapper stored under the queue key
type envelope struct {
	SchemaVersion int    `json:"schema_version"`
	Items         []Item `json:"items"`
}

const schemaVersion = 1
