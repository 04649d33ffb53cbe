package syncer

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/beaconhq/beacon/internal/connectivity"
	"github.com/beaconhq/beacon/internal/incident"
	"github.com/beaconhq/beacon/internal/loggy"
	"github.com/beaconhq/beacon/internal/media"
	"github.com/beaconhq/beacon/internal/remote"
	"github.com/beaconhq/beacon/internal/ulid"
)

// Orchestrator drains the offline queues in dependency order: incidents
// first (their submissions assign the server ids media needs), then media,
// then drafts submitted while offline. At most one sync runs at a time;
// concurrent triggers are dropped, not queued.
type Orchestrator struct {
	monitor   *connectivity.Monitor
	incidents *incident.Queue
	media     *media.Queue
	drafts    *incident.DraftStore
	repo      Repository
	logger    *loggy.Logger
	enabled   bool

	syncing atomic.Bool

	// currentTrigger is only written while the single-flight guard is
	// held, and only read by the outcome hooks firing inside that sync
	currentTrigger Trigger

	unsubscribe func()
}

// New creates an orchestrator over the given queues. repo may be nil; sync
// logging and dead-item recording are then skipped.
func New(
	monitor *connectivity.Monitor,
	incidents *incident.Queue,
	mediaQueue *media.Queue,
	drafts *incident.DraftStore,
	repo Repository,
	enabled bool,
	logger *loggy.Logger,
) *Orchestrator {
	o := &Orchestrator{
		monitor:   monitor,
		incidents: incidents,
		media:     mediaQueue,
		drafts:    drafts,
		repo:      repo,
		logger:    logger,
		enabled:   enabled,
	}

	// Per-item outcomes feed the sync log; items that stop being retried
	// are preserved for operator review
	incidents.OnResult = func(item incident.Queued, err error) {
		o.logOutcome(EntityIncident, item.ID, err)
	}
	incidents.OnDead = func(ctx context.Context, item incident.Queued, reason string) {
		o.recordDead(ctx, EntityIncident, item, reason, item.LastError)
	}

	mediaQueue.OnResult = func(item media.Item, err error) {
		o.logOutcome(EntityMedia, item.ID, err)
	}
	mediaQueue.OnDead = func(ctx context.Context, item media.Item, reason string) {
		o.recordDead(ctx, EntityMedia, item, reason, item.LastError)
	}

	drafts.OnResult = func(draft incident.Draft, err error) {
		o.logOutcome(EntityDraft, draft.ID, err)
	}
	drafts.OnDead = func(ctx context.Context, draft incident.Draft, reason string) {
		o.recordDead(ctx, EntityDraft, draft, reason, draft.LastError)
	}

	return o
}

// Start subscribes to connectivity changes so a regained connection kicks
// off a sync. Runs until the context is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	o.monitor.Start(ctx)

	o.unsubscribe = o.monitor.Subscribe(func(state connectivity.State) {
		if !state.SyncEligible() {
			return
		}
		go func() {
			if _, err := o.CheckAndSync(ctx, TriggerConnectivity); err != nil {
				o.logger.Error("Connectivity-triggered sync failed", "error", err)
			}
		}()
	})

	go func() {
		<-ctx.Done()
		o.Stop()
	}()
}

// Stop detaches the orchestrator from connectivity notifications
func (o *Orchestrator) Stop() {
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
}

// NotifyForeground runs a sync pass for an app-foreground transition
func (o *Orchestrator) NotifyForeground(ctx context.Context) (Result, error) {
	return o.CheckAndSync(ctx, TriggerForeground)
}

// CheckAndSync runs one full sync pass if none is in flight and the device
// is sync-eligible right now. The trigger may be stale (the connectivity
// event that fired it already obsolete), so eligibility is re-checked with
// a fresh probe after the guard is taken.
func (o *Orchestrator) CheckAndSync(ctx context.Context, trigger Trigger) (Result, error) {
	result := Result{Trigger: trigger}

	if !o.enabled {
		o.logger.Debug("Sync disabled, skipping", "trigger", trigger.String())
		return result, nil
	}

	if !o.syncing.CompareAndSwap(false, true) {
		o.logger.Debug("Sync already in flight, dropping trigger", "trigger", trigger.String())
		return result, nil
	}
	defer o.syncing.Store(false)

	state, err := o.monitor.Fetch(ctx)
	if err != nil || !state.SyncEligible() {
		o.logger.Debug("Not sync-eligible, skipping",
			"trigger", trigger.String(),
			"connected", state.Connected,
			"reachable", state.InternetReachable.String(),
		)
		return result, nil
	}

	o.currentTrigger = trigger
	started := time.Now()
	result.Ran = true

	o.logger.Info("Sync started", "trigger", trigger.String())

	// Phase 1: incidents. Each success rebinds dependent media to the
	// server-assigned id before the next submission is attempted.
	incidentResult, err := o.incidents.Drain(ctx, func(localID, remoteID string) {
		if err := o.media.BindIncident(ctx, localID, remoteID); err != nil {
			o.logger.Error("Failed to rebind media to synced incident",
				"local_id", localID, "remote_id", remoteID, "error", err)
		}
	})
	if err != nil {
		o.logger.Error("Incident drain failed", "error", err)
	}
	result.Incidents = incidentResult

	// Phase 2: media. Runs regardless of how phase 1 went; anything still
	// bound to a local id is deferred, not failed.
	mediaResult, err := o.media.Drain(ctx)
	if err != nil {
		o.logger.Error("Media drain failed", "error", err)
	}
	result.Media = mediaResult

	// Phase 3: drafts submitted while offline
	draftResult, err := o.drafts.DrainOffline(ctx)
	if err != nil {
		o.logger.Error("Draft drain failed", "error", err)
	}
	result.Drafts = draftResult

	result.Duration = time.Since(started)

	o.logger.Info("Sync finished",
		"trigger", trigger.String(),
		"incidents_submitted", result.Incidents.Submitted,
		"media_uploaded", result.Media.Uploaded,
		"drafts_submitted", result.Drafts.Submitted,
		"duration", result.Duration,
	)

	return result, nil
}

// Syncing reports whether a sync pass is currently in flight
func (o *Orchestrator) Syncing() bool {
	return o.syncing.Load()
}

// PendingIncidentCount returns the number of queued incident submissions
func (o *Orchestrator) PendingIncidentCount(ctx context.Context) (int, error) {
	return o.incidents.Count(ctx)
}

// PendingMediaCount returns the number of queued media uploads
func (o *Orchestrator) PendingMediaCount(ctx context.Context) (int, error) {
	return o.media.Count(ctx)
}

// logOutcome writes a per-item sync log row
func (o *Orchestrator) logOutcome(entityType EntityType, entityID string, cause error) {
	if o.repo == nil {
		return
	}

	log := NewSyncLog(o.currentTrigger, entityType, entityID)
	if cause == nil {
		log.MarkSuccessful(1)
	} else {
		log.MarkFailed(remote.ClassifyError(cause), cause.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.repo.CreateSyncLog(ctx, log); err != nil {
		o.logger.Warn("Failed to write sync log", "entity", entityID, "error", err)
	}
}

// recordDead preserves an item that stopped being retried, whether it was
// removed after a rejection or kept in place for manual action
func (o *Orchestrator) recordDead(ctx context.Context, entityType EntityType, payload interface{}, reason, lastError string) {
	if o.repo == nil {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		o.logger.Warn("Failed to encode dead item", "error", err)
		raw = []byte("{}")
	}

	item := &DeadItem{
		ID:         ulid.Generate().String(),
		EntityType: entityType,
		Payload:    string(raw),
		Reason:     reason,
		LastError:  lastError,
		CreatedAt:  time.Now().UTC(),
	}

	if err := o.repo.RecordDeadItem(ctx, item); err != nil {
		o.logger.Warn("Failed to record dead item", "entity", entityType, "error", err)
	}
}
