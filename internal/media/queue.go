package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/beaconhq/beacon/internal/loggy"
	"github.com/beaconhq/beacon/internal/remote"
	"github.com/beaconhq/beacon/internal/store"
	"github.com/beaconhq/beacon/internal/ulid"
)

// Uploader is the subset of the remote client the media queue needs
type Uploader interface {
	UploadMedia(ctx context.Context, incidentID, path string) (string, error)
	AttachMediaURL(ctx context.Context, incidentID, mediaURL string) error
}

// DrainResult summarizes one pass over the media queue
type DrainResult struct {
	Attempted int
	Uploaded  int
	Deferred  int // items waiting for their incident to sync first
	Parked    int // items removed after a permanent server rejection
	Stuck     int // items out of attempt budget, kept but skipped until manual action
	Failed    int
	Aborted   bool // the drain stopped early on a connectivity failure
}

// Queue is the durable media upload queue
type Queue struct {
	store       store.Store
	uploader    Uploader
	compressor  *Compressor
	dir         string
	maxAttempts int
	logger      *loggy.Logger

	// mu serializes mutations of the stored queue so concurrent enqueues
	// and the drain never clobber each other's writes
	mu sync.Mutex

	// OnDead, if set, is invoked once when an item stops being retried:
	// on permanent rejection (the item is removed) or when it runs out of
	// attempts (the item and its file are kept for manual action)
	OnDead func(ctx context.Context, item Item, reason string)

	// OnResult, if set, is invoked after each actual upload attempt
	OnResult func(item Item, err error)
}

// NewQueue creates a media queue storing files under dir
func NewQueue(s store.Store, uploader Uploader, compressor *Compressor, dir string, maxAttempts int, logger *loggy.Logger) *Queue {
	return &Queue{
		store:       s,
		uploader:    uploader,
		compressor:  compressor,
		dir:         dir,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Enqueue compresses a file into app-private storage and adds it to the
// queue. incidentID may be a locally generated id; the item is then held
// back until BindIncident rewrites it to the server-assigned id.
//
// An incident id is required: captures belong to a queued incident or, via
// the draft store, to a draft. Unbound media has nothing to upload against
// and is not representable here.
func (q *Queue) Enqueue(ctx context.Context, srcPath string, kind Kind, incidentID string) (Item, error) {
	if incidentID == "" {
		return Item{}, fmt.Errorf("media item needs an incident id")
	}

	id := ulid.MediaID()
	dst := filepath.Join(q.dir, DestName(id, srcPath, kind))

	if err := q.compressor.Process(srcPath, dst, kind); err != nil {
		return Item{}, fmt.Errorf("preparing media file: %w", err)
	}

	item := Item{
		ID:         id,
		Path:       dst,
		Kind:       kind,
		IncidentID: incidentID,
		EnqueuedAt: time.Now().UTC(),
	}

	err := q.mutate(ctx, func(items []Item) []Item {
		return append(items, item)
	})
	if err != nil {
		// Don't leave the copied file orphaned
		os.Remove(dst)
		return Item{}, err
	}

	q.logger.Info("Media enqueued", "id", item.ID, "kind", kind, "incident", incidentID)
	return item, nil
}

// Pending returns the queued items, oldest first
func (q *Queue) Pending(ctx context.Context) ([]Item, error) {
	items, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})
	return items, nil
}

// Count returns the number of queued items
func (q *Queue) Count(ctx context.Context) (int, error) {
	items, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// BindIncident rewrites items bound to a local incident id to the
// server-assigned id. Items already bound to a remote id are left alone.
func (q *Queue) BindIncident(ctx context.Context, localID, remoteID string) error {
	if !ulid.IsLocalIncidentID(localID) {
		return fmt.Errorf("refusing to rebind from non-local incident id %q", localID)
	}

	return q.mutate(ctx, func(items []Item) []Item {
		for i := range items {
			if items[i].IncidentID == localID {
				items[i].IncidentID = remoteID
			}
		}
		return items
	})
}

// Drain uploads queued items oldest-first. The queue is snapshotted once;
// items enqueued during the drain wait for the next pass. Every outcome is
// persisted immediately so a crash never replays a completed upload.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	var result DrainResult

	snapshot, err := q.Pending(ctx)
	if err != nil {
		return result, err
	}

	for _, item := range snapshot {
		if ulid.IsLocalIncidentID(item.IncidentID) {
			// Parent incident hasn't synced yet. Not an attempt.
			result.Deferred++
			continue
		}

		if item.Attempts >= q.maxAttempts {
			// Out of budget. The item and its file stay put until someone
			// looks at it; automatic drains skip it.
			result.Stuck++
			continue
		}

		result.Attempted++
		uploadErr := q.uploadOne(ctx, item)
		if q.OnResult != nil {
			q.OnResult(item, uploadErr)
		}

		if uploadErr == nil {
			if err := q.removeItem(ctx, item.ID); err != nil {
				return result, err
			}
			os.Remove(item.Path)
			result.Uploaded++
			continue
		}

		result.Failed++
		q.logger.Warn("Media upload failed", "id", item.ID, "error", uploadErr)

		if remote.IsPermanent(uploadErr) {
			item.LastError = uploadErr.Error()
			if err := q.park(ctx, item, "rejected by server"); err != nil {
				return result, err
			}
			result.Parked++
			continue
		}

		// Transient: burn one attempt and keep the item
		capped, err := q.recordFailure(ctx, item.ID, uploadErr)
		if err != nil {
			return result, err
		}
		if capped {
			result.Stuck++
		}

		if remote.IsConnectivity(uploadErr) {
			// No point hammering the rest of the queue while offline
			result.Aborted = true
			break
		}
	}

	return result, nil
}

// uploadOne uploads a single item and attaches the resulting URL to its
// incident. The item must already be bound to a remote incident id.
func (q *Queue) uploadOne(ctx context.Context, item Item) error {
	url, err := q.uploader.UploadMedia(ctx, item.IncidentID, item.Path)
	if err != nil {
		return err
	}

	if err := q.uploader.AttachMediaURL(ctx, item.IncidentID, url); err != nil {
		return fmt.Errorf("attaching media URL: %w", err)
	}

	return nil
}

// park removes a permanently rejected item. The server will never accept
// it, so the local copy goes too.
func (q *Queue) park(ctx context.Context, item Item, reason string) error {
	if err := q.removeItem(ctx, item.ID); err != nil {
		return err
	}

	os.Remove(item.Path)
	q.logger.Warn("Media item parked", "id", item.ID, "reason", reason)

	if q.OnDead != nil {
		q.OnDead(ctx, item, reason)
	}
	return nil
}

// recordFailure increments an item's attempt counter against the current
// stored state. Returns true if the item just ran out of attempts; the item
// and its file are retained either way, a capture is never discarded over
// upload failures.
func (q *Queue) recordFailure(ctx context.Context, id string, cause error) (bool, error) {
	var capped *Item

	err := q.mutate(ctx, func(items []Item) []Item {
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
		q.logger.Warn("Media item needs attention", "id", id, "reason", "attempt cap reached")
		if q.OnDead != nil {
			q.OnDead(ctx, *capped, "attempt cap reached")
		}
		return true, nil
	}
	return false, nil
}

func (q *Queue) removeItem(ctx context.Context, id string) error {
	return q.mutate(ctx, func(items []Item) []Item {
		for i := range items {
			if items[i].ID == id {
				return append(items[:i], items[i+1:]...)
			}
		}
		return items
	})
}

// load reads the stored queue. A missing key is an empty queue.
func (q *Queue) load(ctx context.Context) ([]Item, error) {
	raw, found, err := q.store.Get(ctx, store.KeyMediaQueue)
	if err != nil {
		return nil, fmt.Errorf("loading media queue: %w", err)
	}
	if !found || raw == "" {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decoding media queue: %w", err)
	}
	return env.Items, nil
}

// mutate applies fn to the freshly loaded queue and persists the result as
// one atomic write. Serialized by mu.
func (q *Queue) mutate(ctx context.Context, fn func([]Item) []Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return err
	}

	items = fn(items)

	raw, err := json.Marshal(envelope{SchemaVersion: schemaVersion, Items: items})
	if err != nil {
		return fmt.Errorf("encoding media queue: %w", err)
	}

	if err := q.store.Set(ctx, store.KeyMediaQueue, string(raw)); err != nil {
		return fmt.Errorf("persisting media queue: %w", err)
	}
	return nil
}
