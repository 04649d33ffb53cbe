package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/loggy"
	"github.com/beaconhq/beacon/internal/remote"
	"github.com/beaconhq/beacon/internal/store"
	"github.com/beaconhq/beacon/internal/ulid"
)

// writeTestImage writes a solid PNG of the given size
func writeTestImage(t *testing.T, path string, width, height int) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestCompressorProcess(t *testing.T) {
	logger := loggy.NewNoopLogger()
	dir := t.TempDir()

	t.Run("large image is shrunk", func(t *testing.T) {
		src := filepath.Join(dir, "large.png")
		writeTestImage(t, src, 400, 200)

		c := NewCompressor(100, 80, logger)
		dst := filepath.Join(dir, "large-out.jpg")
		require.NoError(t, c.Process(src, dst, KindImage))

		out, err := imaging.Open(dst)
		require.NoError(t, err)
		assert.Equal(t, 100, out.Bounds().Dx())
		assert.Equal(t, 50, out.Bounds().Dy())
	})

	t.Run("small image keeps its size", func(t *testing.T) {
		src := filepath.Join(dir, "small.png")
		writeTestImage(t, src, 40, 30)

		c := NewCompressor(100, 80, logger)
		dst := filepath.Join(dir, "small-out.jpg")
		require.NoError(t, c.Process(src, dst, KindImage))

		out, err := imaging.Open(dst)
		require.NoError(t, err)
		assert.Equal(t, 40, out.Bounds().Dx())
		assert.Equal(t, 30, out.Bounds().Dy())
	})

	t.Run("undecodable file falls back to copy", func(t *testing.T) {
		src := filepath.Join(dir, "broken.jpg")
		require.NoError(t, os.WriteFile(src, []byte("not an image"), 0644))

		c := NewCompressor(100, 80, logger)
		dst := filepath.Join(dir, "broken-out.jpg")
		require.NoError(t, c.Process(src, dst, KindImage))

		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, "not an image", string(data))
	})

	t.Run("video is copied untouched", func(t *testing.T) {
		src := filepath.Join(dir, "clip.mp4")
		require.NoError(t, os.WriteFile(src, []byte("mp4-bytes"), 0644))

		c := NewCompressor(100, 80, logger)
		dst := filepath.Join(dir, "clip-out.mp4")
		require.NoError(t, c.Process(src, dst, KindVideo))

		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, "mp4-bytes", string(data))
	})
}

func TestDestName(t *testing.T) {
	assert.Equal(t, "med-1.jpg", DestName("med-1", "/tmp/photo.png", KindImage))
	assert.Equal(t, "med-2.mp4", DestName("med-2", "/tmp/clip.MP4", KindVideo))
	assert.Equal(t, "med-3.bin", DestName("med-3", "/tmp/noext", KindVideo))
}

// fakeUploader scripts upload outcomes per incident id
type fakeUploader struct {
	uploads  []string // incident ids in upload order
	attached []string // attached URLs
	err      error    // returned by UploadMedia when set
	errOnce  bool     // clear err after the first failure
}

func (f *fakeUploader) UploadMedia(_ context.Context, incidentID, path string) (string, error) {
	if f.err != nil {
		err := f.err
		if f.errOnce {
			f.err = nil
		}
		return "", err
	}
	f.uploads = append(f.uploads, incidentID)
	return fmt.Sprintf("https://cdn.example.com/%s", filepath.Base(path)), nil
}

func (f *fakeUploader) AttachMediaURL(_ context.Context, incidentID, url string) error {
	f.attached = append(f.attached, url)
	return nil
}

func newTestQueue(t *testing.T, uploader Uploader) (*Queue, store.Store) {
	t.Helper()

	s := store.NewMemoryStore()
	c := NewCompressor(100, 80, loggy.NewNoopLogger())
	q := NewQueue(s, uploader, c, t.TempDir(), 3, loggy.NewNoopLogger())
	return q, s
}

func enqueueFile(t *testing.T, q *Queue, incidentID string) Item {
	t.Helper()

	src := filepath.Join(t.TempDir(), "photo.png")
	writeTestImage(t, src, 10, 10)

	item, err := q.Enqueue(context.Background(), src, KindImage, incidentID)
	require.NoError(t, err)
	return item
}

func TestQueueEnqueueCopiesFile(t *testing.T) {
	q, _ := newTestQueue(t, &fakeUploader{})
	item := enqueueFile(t, q, "srv_1")

	assert.True(t, ulid.HasPrefix(item.ID, ulid.PrefixMedia))
	assert.FileExists(t, item.Path)

	count, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQueueDrainUploadsAndRemoves(t *testing.T) {
	up := &fakeUploader{}
	q, _ := newTestQueue(t, up)
	item := enqueueFile(t, q, "srv_1")

	result, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
	assert.Len(t, up.attached, 1)

	count, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	// The app-private copy is cleaned up after a successful upload
	assert.NoFileExists(t, item.Path)
}

func TestQueueDefersLocalIncidents(t *testing.T) {
	up := &fakeUploader{}
	q, _ := newTestQueue(t, up)

	localID := ulid.IncidentID()
	enqueueFile(t, q, localID)

	result, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deferred)
	assert.Zero(t, result.Attempted)
	assert.Empty(t, up.uploads)

	// Being held back never burns an attempt
	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Zero(t, pending[0].Attempts)

	// After the incident syncs, binding unblocks the upload
	require.NoError(t, q.BindIncident(context.Background(), localID, "srv_9"))

	result, err = q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, []string{"srv_9"}, up.uploads)
}

func TestQueueBindRejectsRemoteSource(t *testing.T) {
	q, _ := newTestQueue(t, &fakeUploader{})
	err := q.BindIncident(context.Background(), "srv_1", "srv_2")
	assert.Error(t, err)
}

func TestQueuePermanentRejectionParks(t *testing.T) {
	up := &fakeUploader{err: remote.APIError{StatusCode: 422, Message: "bad media"}}
	q, _ := newTestQueue(t, up)
	enqueueFile(t, q, "srv_1")

	var dead []Item
	q.OnDead = func(_ context.Context, item Item, reason string) {
		dead = append(dead, item)
		assert.Equal(t, "rejected by server", reason)
	}

	result, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Parked)

	count, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "permanently rejected items never retry")
	require.Len(t, dead, 1)
}

func TestQueueAttemptCapKeepsItemAndFile(t *testing.T) {
	up := &fakeUploader{err: remote.APIError{StatusCode: 503, Message: "overloaded"}}
	q, _ := newTestQueue(t, up)
	item := enqueueFile(t, q, "srv_1")

	var deadReasons []string
	q.OnDead = func(_ context.Context, _ Item, reason string) {
		deadReasons = append(deadReasons, reason)
	}

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		result, err := q.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)

		pending, err := q.Pending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, i, pending[0].Attempts, "attempts only grow")
		assert.NotEmpty(t, pending[0].LastError)
	}

	// Third failed attempt hits the cap; the item stops retrying but the
	// capture is not lost
	result, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stuck)
	assert.Equal(t, []string{"attempt cap reached"}, deadReasons)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1, "the item stays queued for manual action")
	assert.Equal(t, 3, pending[0].Attempts)
	assert.FileExists(t, item.Path, "the only copy of the capture survives")

	// Future drains skip it without burning anything
	result, err = q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stuck)
	assert.Zero(t, result.Attempted)
	assert.Equal(t, []string{"attempt cap reached"}, deadReasons, "surfaced once, not per drain")

	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 3, pending[0].Attempts)
}

func TestQueueConnectivityFailureAborts(t *testing.T) {
	up := &fakeUploader{err: context.DeadlineExceeded, errOnce: true}
	q, _ := newTestQueue(t, up)
	enqueueFile(t, q, "srv_1")
	enqueueFile(t, q, "srv_2")

	result, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Aborted)
	assert.Equal(t, 1, result.Attempted, "remaining items wait for the next pass")

	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Zero(t, pending[1].Attempts, "unattempted items keep their budget")
}

func TestQueueStatePersistsAcrossInstances(t *testing.T) {
	up := &fakeUploader{err: errors.New("boom"), errOnce: true}
	q, s := newTestQueue(t, up)
	enqueueFile(t, q, "srv_1")

	_, err := q.Drain(context.Background())
	require.NoError(t, err)

	// A fresh queue over the same store sees the recorded attempt,
	// as it would after a crash or restart
	c := NewCompressor(100, 80, loggy.NewNoopLogger())
	q2 := NewQueue(s, up, c, t.TempDir(), 3, loggy.NewNoopLogger())

	pending, err := q2.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "boom", pending[0].LastError)
}
