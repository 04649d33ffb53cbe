package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/connectivity"
	"github.com/beaconhq/beacon/internal/incident"
	"github.com/beaconhq/beacon/internal/loggy"
	"github.com/beaconhq/beacon/internal/media"
	"github.com/beaconhq/beacon/internal/remote"
	"github.com/beaconhq/beacon/internal/store"
)

// stubProber always reports a fixed connectivity state
type stubProber struct {
	mu    sync.Mutex
	state connectivity.State
}

func (s *stubProber) Probe(_ context.Context) (connectivity.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *stubProber) set(state connectivity.State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

var (
	online  = connectivity.State{Connected: true, InternetReachable: connectivity.ReachabilityYes}
	offline = connectivity.State{Connected: false, InternetReachable: connectivity.ReachabilityNo}
)

// fakeServer plays both the incident submitter and the media uploader
type fakeServer struct {
	mu        sync.Mutex
	nextID    int
	incidents []remote.CreateIncidentRequest
	uploads   []string // incident ids, in upload order
	attached  map[string][]string
	createErr error
	uploadErr error
	block     chan struct{} // when set, CreateIncident blocks until closed
	started   chan struct{} // signalled when a blocked create begins
}

func newFakeServer() *fakeServer {
	return &fakeServer{attached: make(map[string][]string)}
}

func (f *fakeServer) CreateIncident(_ context.Context, req *remote.CreateIncidentRequest) (string, error) {
	if f.block != nil {
		f.started <- struct{}{}
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return "", f.createErr
	}
	f.incidents = append(f.incidents, *req)
	f.nextID++
	return fmt.Sprintf("srv_%d", f.nextID), nil
}

func (f *fakeServer) UploadMedia(_ context.Context, incidentID, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads = append(f.uploads, incidentID)
	return "https://cdn.example.com/" + filepath.Base(path), nil
}

func (f *fakeServer) AttachMediaURL(_ context.Context, incidentID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attached[incidentID] = append(f.attached[incidentID], url)
	return nil
}

// fakeRepo collects sync logs and dead items in memory
type fakeRepo struct {
	mu   sync.Mutex
	logs []*SyncLog
	dead []*DeadItem
}

func (f *fakeRepo) CreateSyncLog(_ context.Context, log *SyncLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeRepo) ListSyncLogs(_ context.Context, _ EntityType, _ int) ([]*SyncLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs, nil
}

func (f *fakeRepo) LatestSyncLog(_ context.Context, _ EntityType, _ string) (*SyncLog, error) {
	return nil, nil
}

func (f *fakeRepo) RecordDeadItem(_ context.Context, item *DeadItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = append(f.dead, item)
	return nil
}

func (f *fakeRepo) ListDeadItems(_ context.Context, _ int) ([]*DeadItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dead, nil
}

type fixture struct {
	orch      *Orchestrator
	incidents *incident.Queue
	media     *media.Queue
	drafts    *incident.DraftStore
	server    *fakeServer
	prober    *stubProber
	repo      *fakeRepo
}

func newFixture(t *testing.T, state connectivity.State) *fixture {
	t.Helper()

	logger := loggy.NewNoopLogger()
	s := store.NewMemoryStore()
	server := newFakeServer()
	prober := &stubProber{state: state}
	repo := &fakeRepo{}

	monitor := connectivity.NewMonitor(prober, time.Minute, 0, logger)
	compressor := media.NewCompressor(1920, 80, logger)
	mediaQueue := media.NewQueue(s, server, compressor, t.TempDir(), 3, logger)
	incidentQueue := incident.NewQueue(s, server, 3, logger)
	draftStore := incident.NewDraftStore(s, server, mediaQueue, 3, logger)

	orch := New(monitor, incidentQueue, mediaQueue, draftStore, repo, true, logger)

	return &fixture{
		orch:      orch,
		incidents: incidentQueue,
		media:     mediaQueue,
		drafts:    draftStore,
		server:    server,
		prober:    prober,
		repo:      repo,
	}
}

func reportPayload() incident.Payload {
	return incident.Payload{
		Title:       "Fire",
		Description: "Smoke in hallway",
		Severity:    "high",
		Location:    incident.Location{BuildingID: "b1", FloorID: "f2"},
	}
}

// enqueueMediaFile queues a small video file so no image decoding is involved
func enqueueMediaFile(t *testing.T, f *fixture, incidentID string) media.Item {
	t.Helper()

	src := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(src, []byte("mp4-bytes"), 0644))

	item, err := f.media.Enqueue(context.Background(), src, media.KindVideo, incidentID)
	require.NoError(t, err)
	return item
}

func TestOfflineReportSyncsWhenConnectivityReturns(t *testing.T) {
	f := newFixture(t, offline)
	ctx := context.Background()

	// Reported offline: the incident queues under a local id and its
	// photo binds to that id
	queued, err := f.incidents.Enqueue(ctx, reportPayload())
	require.NoError(t, err)
	enqueueMediaFile(t, f, queued.ID)

	// A trigger while still offline does nothing
	result, err := f.orch.CheckAndSync(ctx, TriggerForeground)
	require.NoError(t, err)
	assert.False(t, result.Ran)
	assert.Empty(t, f.server.incidents)

	// Connectivity returns
	f.prober.set(online)

	result, err = f.orch.CheckAndSync(ctx, TriggerConnectivity)
	require.NoError(t, err)
	assert.True(t, result.Ran)
	assert.Equal(t, 1, result.Incidents.Submitted)
	assert.Equal(t, 1, result.Media.Uploaded)

	// The media was uploaded against the server-assigned id, not the
	// local one it was enqueued with
	require.Len(t, f.server.uploads, 1)
	assert.Equal(t, "srv_1", f.server.uploads[0])
	assert.Len(t, f.server.attached["srv_1"], 1)

	incidents, err := f.orch.PendingIncidentCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, incidents)
	mediaCount, err := f.orch.PendingMediaCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, mediaCount)
}

func TestNoDoubleDrain(t *testing.T) {
	f := newFixture(t, online)
	ctx := context.Background()

	_, err := f.incidents.Enqueue(ctx, reportPayload())
	require.NoError(t, err)

	f.server.block = make(chan struct{})
	f.server.started = make(chan struct{})

	var wg sync.WaitGroup
	var first Result
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, _ = f.orch.CheckAndSync(ctx, TriggerManual)
	}()

	// Wait until the first sync is mid-submission, then trigger again
	<-f.server.started
	second, err := f.orch.CheckAndSync(ctx, TriggerConnectivity)
	require.NoError(t, err)
	assert.False(t, second.Ran, "concurrent trigger is dropped, not queued")

	close(f.server.block)
	wg.Wait()

	assert.True(t, first.Ran)
	assert.Len(t, f.server.incidents, 1, "the item was submitted exactly once")
	assert.False(t, f.orch.Syncing(), "guard released after the pass")
}

func TestGuardReleasedAfterFailures(t *testing.T) {
	f := newFixture(t, online)
	ctx := context.Background()

	f.server.createErr = remote.APIError{StatusCode: 503}
	_, err := f.incidents.Enqueue(ctx, reportPayload())
	require.NoError(t, err)

	result, err := f.orch.CheckAndSync(ctx, TriggerManual)
	require.NoError(t, err)
	assert.True(t, result.Ran)
	assert.Equal(t, 1, result.Incidents.Failed)
	assert.False(t, f.orch.Syncing())

	// The next trigger gets through
	f.server.createErr = nil
	result, err = f.orch.CheckAndSync(ctx, TriggerManual)
	require.NoError(t, err)
	assert.True(t, result.Ran)
	assert.Equal(t, 1, result.Incidents.Submitted)
}

func TestPhasesAreIsolated(t *testing.T) {
	f := newFixture(t, online)
	ctx := context.Background()

	// Incident submission keeps failing, but a media item already bound
	// to a remote id must still upload in phase 2
	f.server.createErr = remote.APIError{StatusCode: 503}
	_, err := f.incidents.Enqueue(ctx, reportPayload())
	require.NoError(t, err)
	enqueueMediaFile(t, f, "srv_77")

	result, err := f.orch.CheckAndSync(ctx, TriggerManual)
	require.NoError(t, err)
	assert.True(t, result.Ran)
	assert.Equal(t, 1, result.Incidents.Failed)
	assert.Equal(t, 1, result.Media.Uploaded)
}

func TestDisabledSyncSkips(t *testing.T) {
	f := newFixture(t, online)
	ctx := context.Background()

	f.orch.enabled = false
	_, err := f.incidents.Enqueue(ctx, reportPayload())
	require.NoError(t, err)

	result, err := f.orch.CheckAndSync(ctx, TriggerManual)
	require.NoError(t, err)
	assert.False(t, result.Ran)
	assert.Empty(t, f.server.incidents)
}

func TestOfflineDraftDrainsInPhaseThree(t *testing.T) {
	f := newFixture(t, online)
	ctx := context.Background()

	_, err := f.drafts.Save(ctx, incident.Draft{Payload: reportPayload(), IsOffline: true})
	require.NoError(t, err)

	result, err := f.orch.NotifyForeground(ctx)
	require.NoError(t, err)
	assert.True(t, result.Ran)
	assert.Equal(t, TriggerForeground, result.Trigger)
	assert.Equal(t, 1, result.Drafts.Submitted)

	drafts, err := f.drafts.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, drafts)

	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	require.Len(t, f.repo.logs, 1)
	assert.Equal(t, "foreground", f.repo.logs[0].SyncType)
}

func TestOutcomesAreRecorded(t *testing.T) {
	f := newFixture(t, online)
	ctx := context.Background()

	_, err := f.incidents.Enqueue(ctx, reportPayload())
	require.NoError(t, err)

	_, err = f.orch.CheckAndSync(ctx, TriggerManual)
	require.NoError(t, err)

	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	require.Len(t, f.repo.logs, 1)
	assert.True(t, f.repo.logs[0].Success)
	assert.Equal(t, EntityIncident, f.repo.logs[0].EntityType)
	assert.Equal(t, "manual", f.repo.logs[0].SyncType)
}

func TestPermanentRejectionRecordsDeadItem(t *testing.T) {
	f := newFixture(t, online)
	ctx := context.Background()

	f.server.createErr = remote.APIError{StatusCode: 422, Message: "bad category"}
	_, err := f.incidents.Enqueue(ctx, reportPayload())
	require.NoError(t, err)

	result, err := f.orch.CheckAndSync(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Incidents.Parked)

	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	require.Len(t, f.repo.dead, 1)
	assert.Equal(t, EntityIncident, f.repo.dead[0].EntityType)
	assert.Equal(t, "rejected by server", f.repo.dead[0].Reason)
	assert.Contains(t, f.repo.dead[0].Payload, "Smoke in hallway")
}
