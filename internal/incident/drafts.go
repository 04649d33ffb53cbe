package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/beaconhq/beacon/internal/loggy"
	"github.com/beaconhq/beacon/internal/media"
	"github.com/beaconhq/beacon/internal/remote"
	"github.com/beaconhq/beacon/internal/store"
	"github.com/beaconhq/beacon/internal/ulid"
)

// MediaEnqueuer is the subset of the media queue the draft store needs to
// enqueue a submitted draft's attachments
type MediaEnqueuer interface {
	Enqueue(ctx context.Context, srcPath string, kind media.Kind, incidentID string) (media.Item, error)
}

// DraftStore holds saved incident drafts. Drafts submitted while offline
// are flagged and drained by the orchestrator once connectivity returns.
type DraftStore struct {
	store       store.Store
	submitter   Submitter
	media       MediaEnqueuer
	maxAttempts int
	logger      *loggy.Logger

	mu sync.Mutex

	// OnDead, if set, is invoked once when an offline draft stops being
	// retried: on permanent rejection (the draft is removed) or when it runs
	// out of attempts (the draft is kept for the user to edit and resubmit)
	OnDead func(ctx context.Context, draft Draft, reason string)

	// OnResult, if set, is invoked after each actual submission attempt
	OnResult func(draft Draft, err error)
}

// NewDraftStore creates a draft store
func NewDraftStore(s store.Store, submitter Submitter, media MediaEnqueuer, maxAttempts int, logger *loggy.Logger) *DraftStore {
	return &DraftStore{
		store:       s,
		submitter:   submitter,
		media:       media,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Save creates or updates a draft. A new draft gets a generated id.
func (d *DraftStore) Save(ctx context.Context, draft Draft) (Draft, error) {
	now := time.Now().UTC()

	if draft.ID == "" {
		draft.ID = ulid.DraftID()
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	err := d.mutate(ctx, func(drafts []Draft) []Draft {
		for i := range drafts {
			if drafts[i].ID == draft.ID {
				if draft.CreatedAt.IsZero() {
					draft.CreatedAt = drafts[i].CreatedAt
				}
				drafts[i] = draft
				return drafts
			}
		}
		return append(drafts, draft)
	})
	if err != nil {
		return Draft{}, err
	}

	return draft, nil
}

// Get returns a draft by id
func (d *DraftStore) Get(ctx context.Context, id string) (Draft, error) {
	drafts, err := d.load(ctx)
	if err != nil {
		return Draft{}, err
	}

	for _, draft := range drafts {
		if draft.ID == id {
			return draft, nil
		}
	}
	return Draft{}, fmt.Errorf("%w: %s", ErrDraftNotFound, id)
}

// Delete removes a draft by id. Deleting a missing draft is not an error.
func (d *DraftStore) Delete(ctx context.Context, id string) error {
	return d.mutate(ctx, func(drafts []Draft) []Draft {
		for i := range drafts {
			if drafts[i].ID == id {
				return append(drafts[:i], drafts[i+1:]...)
			}
		}
		return drafts
	})
}

// List returns all drafts, oldest first
func (d *DraftStore) List(ctx context.Context) ([]Draft, error) {
	drafts, err := d.load(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(drafts, func(i, j int) bool {
		return drafts[i].CreatedAt.Before(drafts[j].CreatedAt)
	})
	return drafts, nil
}

// Submit validates a draft and tries to submit it right away. If the
// server is unreachable the draft is flagged offline and drained later;
// the caller gets ErrQueuedOffline, which is not a user-facing failure.
// On success the draft's media are enqueued against the server id and the
// draft is deleted.
func (d *DraftStore) Submit(ctx context.Context, id string) (string, error) {
	draft, err := d.Get(ctx, id)
	if err != nil {
		return "", err
	}

	if err := draft.Payload.Validate(); err != nil {
		return "", err
	}

	remoteID, submitErr := d.submitter.CreateIncident(ctx, draft.Payload.toRequest())
	if submitErr != nil {
		if remote.IsConnectivity(submitErr) {
			if err := d.markOffline(ctx, id, submitErr); err != nil {
				return "", err
			}
			return "", ErrQueuedOffline
		}
		return "", submitErr
	}

	if err := d.finishSubmission(ctx, draft, remoteID); err != nil {
		return remoteID, err
	}
	return remoteID, nil
}

// DrainOffline submits drafts flagged offline, oldest first. Follows the
// same retry rules as the submission queue.
func (d *DraftStore) DrainOffline(ctx context.Context) (DrainResult, error) {
	var result DrainResult

	drafts, err := d.List(ctx)
	if err != nil {
		return result, err
	}

	for _, draft := range drafts {
		if !draft.IsOffline {
			continue
		}

		if draft.Attempts >= d.maxAttempts {
			// Out of budget. The draft stays, visible as stuck; the user
			// can still edit and resubmit it by hand.
			result.Stuck++
			continue
		}

		result.Attempted++
		remoteID, submitErr := d.submitter.CreateIncident(ctx, draft.Payload.toRequest())
		if d.OnResult != nil {
			d.OnResult(draft, submitErr)
		}

		if submitErr == nil {
			if err := d.finishSubmission(ctx, draft, remoteID); err != nil {
				return result, err
			}
			result.Submitted++
			continue
		}

		result.Failed++
		d.logger.Warn("Offline draft submission failed", "id", draft.ID, "error", submitErr)

		if remote.IsPermanent(submitErr) {
			draft.LastError = submitErr.Error()
			if err := d.park(ctx, draft, "rejected by server"); err != nil {
				return result, err
			}
			result.Parked++
			continue
		}

		capped, err := d.recordFailure(ctx, draft.ID, submitErr)
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

// finishSubmission enqueues a submitted draft's media against the server
// id and deletes the draft
func (d *DraftStore) finishSubmission(ctx context.Context, draft Draft, remoteID string) error {
	for _, m := range draft.Media {
		if _, err := d.media.Enqueue(ctx, m.Path, m.Kind, remoteID); err != nil {
			// The incident exists on the server; losing the draft now
			// would lose the media reference too, so surface the error
			// and keep the draft for a manual retry
			return fmt.Errorf("enqueueing draft media: %w", err)
		}
	}

	if err := d.Delete(ctx, draft.ID); err != nil {
		return err
	}

	d.logger.Info("Draft submitted", "id", draft.ID, "remote_id", remoteID)
	return nil
}

// markOffline flags a draft for the offline drain
func (d *DraftStore) markOffline(ctx context.Context, id string, cause error) error {
	return d.mutate(ctx, func(drafts []Draft) []Draft {
		for i := range drafts {
			if drafts[i].ID == id {
				drafts[i].IsOffline = true
				drafts[i].LastError = cause.Error()
				drafts[i].UpdatedAt = time.Now().UTC()
				break
			}
		}
		return drafts
	})
}

// park removes a permanently rejected offline draft and surfaces it as dead
func (d *DraftStore) park(ctx context.Context, draft Draft, reason string) error {
	if err := d.Delete(ctx, draft.ID); err != nil {
		return err
	}

	d.logger.Warn("Offline draft parked", "id", draft.ID, "reason", reason)

	if d.OnDead != nil {
		d.OnDead(ctx, draft, reason)
	}
	return nil
}

// recordFailure increments a draft's attempt counter. Returns true if the
// draft just ran out of attempts; the draft is kept either way.
func (d *DraftStore) recordFailure(ctx context.Context, id string, cause error) (bool, error) {
	var capped *Draft

	err := d.mutate(ctx, func(drafts []Draft) []Draft {
		for i := range drafts {
			if drafts[i].ID != id {
				continue
			}
			drafts[i].Attempts++
			drafts[i].LastError = cause.Error()
			if drafts[i].Attempts >= d.maxAttempts {
				dr := drafts[i]
				capped = &dr
			}
			break
		}
		return drafts
	})
	if err != nil {
		return false, err
	}

	if capped != nil {
		d.logger.Warn("Offline draft needs attention", "id", id, "reason", "attempt cap reached")
		if d.OnDead != nil {
			d.OnDead(ctx, *capped, "attempt cap reached")
		}
		return true, nil
	}
	return false, nil
}

// load reads the stored drafts. A missing key means no drafts.
func (d *DraftStore) load(ctx context.Context) ([]Draft, error) {
	raw, found, err := d.store.Get(ctx, store.KeyDrafts)
	if err != nil {
		return nil, fmt.Errorf("loading drafts: %w", err)
	}
	if !found || raw == "" {
		return nil, nil
	}

	var env draftEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decoding drafts: %w", err)
	}
	return env.Items, nil
}

// mutate applies fn to the freshly loaded drafts and persists the result
// as one atomic write. Serialized by mu.
func (d *DraftStore) mutate(ctx context.Context, fn func([]Draft) []Draft) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	drafts, err := d.load(ctx)
	if err != nil {
		return err
	}

	drafts = fn(drafts)

	raw, err := json.Marshal(draftEnvelope{SchemaVersion: schemaVersion, Items: drafts})
	if err != nil {
		return fmt.Errorf("encoding drafts: %w", err)
	}

	if err := d.store.Set(ctx, store.KeyDrafts, string(raw)); err != nil {
		return fmt.Errorf("persisting drafts: %w", err)
	}
	return nil
}
