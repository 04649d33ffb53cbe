package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/beaconhq/beacon/internal/loggy"
	"github.com/beaconhq/beacon/internal/remote"
	"github.com/beaconhq/beacon/internal/store"
	"github.com/beaconhq/beacon/internal/ulid"
)

// Submitter is the subset of the remote client the queue needs
type Submitter interface {
	CreateIncident(ctx context.Context, req *remote.CreateIncidentRequest) (string, error)
}

// Queue is the durable incident submission queue
type Queue struct {
	store       store.Store
	submitter   Submitter
	maxAttempts int
	logger      *loggy.Logger

	// mu serializes mutations of the stored queue
	mu sync.Mutex

	// OnDead, if set, is invoked once when an item stops being retried:
	// on permanent rejection (the item is removed) or when it runs out of
	// attempts (the item is kept for manual action)
	OnDead func(ctx context.Context, item Queued, reason string)

	// OnResult, if set, is invoked after each actual submission attempt
	OnResult func(item Queued, err error)
}

// NewQueue creates an incident submission queue
func NewQueue(s store.Store, submitter Submitter, maxAttempts int, logger *loggy.Logger) *Queue {
	return &Queue{
		store:       s,
		submitter:   submitter,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Enqueue validates a payload and adds it to the queue under a locally
// generated incident id. The id is what media enqueued before the incident
// syncs binds to.
func (q *Queue) Enqueue(ctx context.Context, payload Payload) (Queued, error) {
	if err := payload.Validate(); err != nil {
		return Queued{}, err
	}

	if payload.ReportedAt.IsZero() {
		payload.ReportedAt = time.Now().UTC()
	}

	item := Queued{
		ID:         ulid.IncidentID(),
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}

	err := q.mutate(ctx, func(items []Queued) []Queued {
		return append(items, item)
	})
	if err != nil {
		return Queued{}, err
	}

	q.logger.Info("Incident enqueued", "id", item.ID, "title", payload.Title)
	return item, nil
}

// Pending returns the queued submissions, oldest first
func (q *Queue) Pending(ctx context.Context) ([]Queued, error) {
	items, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})
	return items, nil
}

// Count returns the number of queued submissions
func (q *Queue) Count(ctx context.Context) (int, error) {
	items, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Drain submits queued incidents oldest-first. onCreated is invoked after
// each successful submission with the local and server-assigned ids, before
// the next item is attempted, so dependent media can be rebound right away.
// Every outcome is persisted immediately.
func (q *Queue) Drain(ctx context.Context, onCreated func(localID, remoteID string)) (DrainResult, error) {
	var result DrainResult

	snapshot, err := q.Pending(ctx)
	if err != nil {
		return result, err
	}

	for _, item := range snapshot {
		if item.Attempts >= q.maxAttempts {
			// Out of budget. The report stays queued, visible as a stuck
			// item; automatic drains skip it.
			result.Stuck++
			continue
		}

		result.Attempted++
		remoteID, submitErr := q.submitter.CreateIncident(ctx, item.Payload.toRequest())
		if q.OnResult != nil {
			q.OnResult(item, submitErr)
		}

		if submitErr == nil {
			if err := q.removeItem(ctx, item.ID); err != nil {
				return result, err
			}
			result.Submitted++
			q.logger.Info("Incident submitted", "local_id", item.ID, "remote_id", remoteID)

			if onCreated != nil {
				onCreated(item.ID, remoteID)
			}
			continue
		}

		result.Failed++
		q.logger.Warn("Incident submission failed", "id", item.ID, "error", submitErr)

		if remote.IsPermanent(submitErr) {
			item.LastError = submitErr.Error()
			if err := q.park(ctx, item, "rejected by server"); err != nil {
				return result, err
			}
			result.Parked++
			continue
		}

		capped, err := q.recordFailure(ctx, item.ID, submitErr)
		if err != nil {
			return result, err
		}
		if capped {
			result.Stuck++
		}

		if remote.IsConnectivity(submitErr) {
			result.Aborted = true
			break
		}
	}

	return result, nil
}

// park removes a permanently rejected item and surfaces it as dead
func (q *Queue) park(ctx context.Context, item Queued, reason string) error {
	if err := q.removeItem(ctx, item.ID); err != nil {
		return err
	}

	q.logger.Warn("Incident submission parked", "id", item.ID, "reason", reason)

	if q.OnDead != nil {
		q.OnDead(ctx, item, reason)
	}
	return nil
}

// recordFailure increments an item's attempt counter against the current
// stored state. Returns true if the item just ran out of attempts; the
// report stays queued either way.
func (q *Queue) recordFailure(ctx context.Context, id string, cause error) (bool, error) {
	var capped *Queued

	err := q.mutate(ctx, func(items []Queued) []Queued {
		for i := range items {
			if items[i].ID != id {
				continue
			}
			items[i].Attempts++
			items[i].LastError = cause.Error()
			if items[i].Attempts >= q.maxAttempts {
				it := items[i]
				capped = &it
			}
			break
		}
		return items
	})
	if err != nil {
		return false, err
	}

	if capped != nil {
		q.logger.Warn("Incident submission needs attention", "id", id, "reason", "attempt cap reached")
		if q.OnDead != nil {
			q.OnDead(ctx, *capped, "attempt cap reached")
		}
		return true, nil
	}
	return false, nil
}

func (q *Queue) removeItem(ctx context.Context, id string) error {
	return q.mutate(ctx, func(items []Queued) []Queued {
		for i := range items {
			if items[i].ID == id {
				return append(items[:i], items[i+1:]...)
			}
		}
		return items
	})
}

// load reads the stored queue. A missing key is an empty queue.
func (q *Queue) load(ctx context.Context) ([]Queued, error) {
	raw, found, err := q.store.Get(ctx, store.KeyIncidentQueue)
	if err != nil {
		return nil, fmt.Errorf("loading incident queue: %w", err)
	}
	if !found || raw == "" {
		return nil, nil
	}

	var env queueEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decoding incident queue: %w", err)
	}
	return env.Items, nil
}

// mutate applies fn to the freshly loaded queue and persists the result as
// one atomic write. Serialized by mu.
func (q *Queue) mutate(ctx context.Context, fn func([]Queued) []Queued) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return err
	}

	items = fn(items)

	raw, err := json.Marshal(queueEnvelope{SchemaVersion: schemaVersion, Items: items})
	if err != nil {
		return fmt.Errorf("encoding incident queue: %w", err)
	}

	if err := q.store.Set(ctx, store.KeyIncidentQueue, string(raw)); err != nil {
		return fmt.Errorf("persisting incident queue: %w", err)
	}
	return nil
}
