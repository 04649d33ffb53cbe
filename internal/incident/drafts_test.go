package incident

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/loggy"
	"github.com/beaconhq/beacon/internal/media"
	"github.com/beaconhq/beacon/internal/remote"
	"github.com/beaconhq/beacon/internal/store"
	"github.com/beaconhq/beacon/internal/ulid"
)

// fakeEnqueuer records media enqueue calls
type fakeEnqueuer struct {
	enqueued []media.Item
	err      error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, srcPath string, kind media.Kind, incidentID string) (media.Item, error) {
	if f.err != nil {
		return media.Item{}, f.err
	}
	item := media.Item{
		ID:         ulid.MediaID(),
		Path:       srcPath,
		Kind:       kind,
		IncidentID: incidentID,
	}
	f.enqueued = append(f.enqueued, item)
	return item, nil
}

func newTestDraftStore(t *testing.T, sub Submitter, enq MediaEnqueuer) *DraftStore {
	t.Helper()
	return NewDraftStore(store.NewMemoryStore(), sub, enq, 3, loggy.NewNoopLogger())
}

func TestDraftCRUD(t *testing.T) {
	d := newTestDraftStore(t, &fakeSubmitter{}, &fakeEnqueuer{})
	ctx := context.Background()

	saved, err := d.Save(ctx, Draft{Payload: validPayload("Fire")})
	require.NoError(t, err)
	assert.True(t, ulid.HasPrefix(saved.ID, ulid.PrefixDraft))
	assert.False(t, saved.CreatedAt.IsZero())

	got, err := d.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fire", got.Payload.Title)

	// Update keeps the id and creation time
	got.Payload.Title = "Fire alarm"
	updated, err := d.Save(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID)
	assert.Equal(t, saved.CreatedAt, updated.CreatedAt)

	list, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Fire alarm", list[0].Payload.Title)

	require.NoError(t, d.Delete(ctx, saved.ID))
	_, err = d.Get(ctx, saved.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound)

	// Deleting twice is fine
	assert.NoError(t, d.Delete(ctx, saved.ID))
}

func TestDraftListOrder(t *testing.T) {
	d := newTestDraftStore(t, &fakeSubmitter{}, &fakeEnqueuer{})
	ctx := context.Background()

	first, err := d.Save(ctx, Draft{Payload: validPayload("First")})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = d.Save(ctx, Draft{Payload: validPayload("Second")})
	require.NoError(t, err)

	list, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID, "oldest first")
}

func TestDraftSubmitValidates(t *testing.T) {
	d := newTestDraftStore(t, &fakeSubmitter{}, &fakeEnqueuer{})
	ctx := context.Background()

	saved, err := d.Save(ctx, Draft{Payload: Payload{Title: "no description"}})
	require.NoError(t, err)

	_, err = d.Submit(ctx, saved.ID)
	assert.ErrorIs(t, err, ErrValidation)

	// The draft stays saved for the user to fix
	_, err = d.Get(ctx, saved.ID)
	assert.NoError(t, err)
}

func TestDraftSubmitSuccess(t *testing.T) {
	sub := &fakeSubmitter{}
	enq := &fakeEnqueuer{}
	d := newTestDraftStore(t, sub, enq)
	ctx := context.Background()

	saved, err := d.Save(ctx, Draft{
		Payload: validPayload("Fire"),
		Media: []DraftMedia{
			{Path: "/tmp/a.jpg", Kind: media.KindImage},
			{Path: "/tmp/b.mp4", Kind: media.KindVideo},
		},
	})
	require.NoError(t, err)

	remoteID, err := d.Submit(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "srv_1", remoteID)

	// Media are enqueued already bound to the server id
	require.Len(t, enq.enqueued, 2)
	assert.Equal(t, "srv_1", enq.enqueued[0].IncidentID)
	assert.Equal(t, media.KindVideo, enq.enqueued[1].Kind)

	_, err = d.Get(ctx, saved.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound, "submitted drafts are removed")
}

func TestDraftSubmitOfflineFlagsDraft(t *testing.T) {
	sub := &fakeSubmitter{err: context.DeadlineExceeded}
	d := newTestDraftStore(t, sub, &fakeEnqueuer{})
	ctx := context.Background()

	saved, err := d.Save(ctx, Draft{Payload: validPayload("Fire")})
	require.NoError(t, err)

	_, err = d.Submit(ctx, saved.ID)
	assert.ErrorIs(t, err, ErrQueuedOffline)

	got, err := d.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOffline, "draft waits for the offline drain")
	assert.NotEmpty(t, got.LastError)
}

func TestDraftSubmitServerErrorSurfaces(t *testing.T) {
	sub := &fakeSubmitter{err: remote.APIError{StatusCode: 500}}
	d := newTestDraftStore(t, sub, &fakeEnqueuer{})
	ctx := context.Background()

	saved, err := d.Save(ctx, Draft{Payload: validPayload("Fire")})
	require.NoError(t, err)

	_, err = d.Submit(ctx, saved.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQueuedOffline)

	got, err := d.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOffline, "a server decision is not a connectivity failure")
}

func TestDrainOffline(t *testing.T) {
	sub := &fakeSubmitter{}
	enq := &fakeEnqueuer{}
	d := newTestDraftStore(t, sub, enq)
	ctx := context.Background()

	offline, err := d.Save(ctx, Draft{Payload: validPayload("Offline"), IsOffline: true})
	require.NoError(t, err)
	editing, err := d.Save(ctx, Draft{Payload: validPayload("Still editing")})
	require.NoError(t, err)

	result, err := d.DrainOffline(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Submitted)

	_, err = d.Get(ctx, offline.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound)

	// Drafts the user is still editing are untouched
	_, err = d.Get(ctx, editing.ID)
	assert.NoError(t, err)
}

func TestDrainOfflineAttemptCapKeepsDraft(t *testing.T) {
	sub := &fakeSubmitter{err: remote.APIError{StatusCode: 503}}
	d := newTestDraftStore(t, sub, &fakeEnqueuer{})
	ctx := context.Background()

	saved, err := d.Save(ctx, Draft{Payload: validPayload("Fire"), IsOffline: true})
	require.NoError(t, err)

	var deadReasons []string
	d.OnDead = func(_ context.Context, _ Draft, reason string) {
		deadReasons = append(deadReasons, reason)
	}

	for i := 1; i <= 2; i++ {
		_, err := d.DrainOffline(ctx)
		require.NoError(t, err)

		got, err := d.Get(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, i, got.Attempts)
	}

	// Third failed attempt hits the cap; the draft stops retrying but the
	// user's work is not lost
	result, err := d.DrainOffline(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stuck)
	assert.Zero(t, result.Parked)
	assert.Equal(t, []string{"attempt cap reached"}, deadReasons)

	got, err := d.Get(ctx, saved.ID)
	require.NoError(t, err, "the draft stays for the user to edit and resubmit")
	assert.Equal(t, 3, got.Attempts)

	// Future drains skip it without submitting or surfacing it again
	result, err = d.DrainOffline(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stuck)
	assert.Zero(t, result.Attempted)
	assert.Equal(t, []string{"attempt cap reached"}, deadReasons, "surfaced once, not per drain")
}
