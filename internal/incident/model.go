// Package incident holds the incident report model, the durable submission
// queue, and the draft store.
package incident

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beaconhq/beacon/internal/media"
	"github.com/beaconhq/beacon/internal/remote"
)

var (
	// ErrValidation marks a payload the user must fix before it can be
	// queued or submitted
	ErrValidation = errors.New("validation failed")

	// ErrDraftNotFound is returned when a draft id does not exist
	ErrDraftNotFound = errors.New("draft not found")

	// ErrQueuedOffline is returned when a submission could not reach the
	// server and was queued for the next sync instead. Not a failure the
	// user needs to act on.
	ErrQueuedOffline = errors.New("queued for sync while offline")
)

// Location identifies where an incident happened
type Location struct {
	BuildingID string  `json:"building_id"`
	FloorID    string  `json:"floor_id,omitempty"`
	Room       string  `json:"room,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
}

// Payload is the user-entered content of an incident report
type Payload struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Location    Location  `json:"location"`
	ReporterID  string    `json:"reporter_id,omitempty"`
	DeviceName  string    `json:"device_name,omitempty"`
	ReportedAt  time.Time `json:"reported_at"`
}

// Validate checks the payload is complete enough to submit
func (p *Payload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrValidation)
	}
	if strings.TrimSpace(p.Location.BuildingID) == "" {
		return fmt.Errorf("%w: location building is required", ErrValidation)
	}
	return nil
}

// toRequest converts a payload to the wire request
func (p *Payload) toRequest() *remote.CreateIncidentRequest {
	return &remote.CreateIncidentRequest{
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
		Severity:    p.Severity,
		Location: remote.IncidentLocation{
			BuildingID: p.Location.BuildingID,
			FloorID:    p.Location.FloorID,
			Room:       p.Location.Room,
			Latitude:   p.Location.Latitude,
			Longitude:  p.Location.Longitude,
		},
		ReporterID: p.ReporterID,
		DeviceName: p.DeviceName,
		ReportedAt: p.ReportedAt,
	}
}

// Queued is an incident report waiting in the submission queue. Its ID is
// locally generated; media enqueued against it is rebound to the
// server-assigned id once the submission succeeds.
type Queued struct {
	ID         string    `json:"id"`
	Payload    Payload   `json:"payload"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DraftMedia is a media file attached to a draft, enqueued for upload only
// once the draft is submitted
type DraftMedia struct {
	Path string     `json:"path"`
	Kind media.Kind `json:"kind"`
}

// Draft is a saved incident report the user has not submitted yet, or one
// that was submitted while offline and waits for connectivity
type Draft struct {
	ID        string       `json:"id"`
	Payload   Payload      `json:"payload"`
	Media     []DraftMedia `json:"media,omitempty"`
	IsOffline bool         `json:"is_offline"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// DrainResult summarizes one pass over a queue of submissions
type DrainResult struct {
	Attempted int
	Submitted int
	Parked    int // removed after a permanent server rejection
	Stuck     int // out of attempt budget, kept but skipped until manual action
	Failed    int
	Aborted   bool // stopped early on a connectivity failure
}

// queueEnvelope is the versioned wrapper stored under the queue key
type queueEnvelope struct {
	SchemaVersion int      `json:"schema_version"`
	Items         []Queued `json:"items"`
}

// draftEnvelope is the versioned wrapper stored under the drafts key
type draftEnvelope struct {
	SchemaVersion int     `json:"schema_version"`
	Items         []Draft `json:"items"`
}

const schemaVersion = 1
