// Package syncer coordinates the offline queues: it owns the single-flight
// guard, drains the queues in dependency order when connectivity allows,
// and records per-item outcomes for later inspection.
package syncer

import (
	"time"

	"github.com/beaconhq/beacon/internal/incident"
	"github.com/beaconhq/beacon/internal/media"
	"github.com/beaconhq/beacon/internal/remote"
	"github.com/beaconhq/beacon/internal/ulid"
)

// Trigger identifies what asked for a sync
type Trigger int

const (
	// TriggerConnectivity fires when the device regains a usable connection
	TriggerConnectivity Trigger = iota
	// TriggerForeground fires when the app returns to the foreground
	TriggerForeground
	// TriggerManual fires on an explicit user or CLI request
	TriggerManual
)

// String returns the trigger label used in sync logs
func (t Trigger) String() string {
	switch t {
	case TriggerConnectivity:
		return "connectivity"
	case TriggerForeground:
		return "foreground"
	case TriggerManual:
		return "manual"
	default:
		return "unknown"
	}
}

// EntityType names what kind of item a sync log or dead item refers to
type EntityType string

const (
	// EntityIncident is a queued incident submission
	EntityIncident EntityType = "incident"
	// EntityMedia is a queued media upload
	EntityMedia EntityType = "media"
	// EntityDraft is an offline draft submission
	EntityDraft EntityType = "draft"
)

// SyncLog records the outcome of one item's sync attempt
type SyncLog struct {
	ID           string           `json:"id"`
	SyncType     string           `json:"sync_type"`
	EntityType   EntityType       `json:"entity_type"`
	EntityID     string           `json:"entity_id"`
	Success      bool             `json:"success"`
	ErrorType    remote.ErrorKind `json:"error_type,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	ItemsSynced  int              `json:"items_synced"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
}

// NewSyncLog creates a new sync log entry
func NewSyncLog(trigger Trigger, entityType EntityType, entityID string) *SyncLog {
	now := time.Now().UTC()
	return &SyncLog{
		ID:          ulid.SyncID(),
		SyncType:    trigger.String(),
		EntityType:  entityType,
		EntityID:    entityID,
		StartedAt:   now,
		CompletedAt: now,
	}
}

// MarkSuccessful marks the sync log as successful
func (l *SyncLog) MarkSuccessful(itemsSynced int) {
	l.Success = true
	l.ItemsSynced = itemsSynced
	l.CompletedAt = time.Now().UTC()
}

// MarkFailed marks the sync log as failed
func (l *SyncLog) MarkFailed(errorType remote.ErrorKind, errorMessage string) {
	l.Success = false
	l.ErrorType = errorType
	l.ErrorMessage = errorMessage
	l.CompletedAt = time.Now().UTC()
}

// DeadItem is an item removed from a queue after a permanent rejection or
// the attempt cap, kept for operator review
type DeadItem struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type"`
	Payload    string     `json:"payload"`
	Reason     string     `json:"reason"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Result aggregates the outcome of one full sync pass
type Result struct {
	// Ran is false when the pass was skipped: another sync was already in
	// flight, syncing is disabled, or connectivity turned out to be gone
	Ran bool

	Trigger   Trigger
	Incidents incident.DrainResult
	Media     media.DrainResult
	Drafts    incident.DrainResult
	Duration  time.Duration
}
