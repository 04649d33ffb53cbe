package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/loggy"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, "test-token", 5*time.Second, 100, 10, loggy.NewNoopLogger())
}

func TestCreateIncident(t *testing.T) {
	t.Run("success returns server id", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/incidents", r.URL.Path)
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

			var req CreateIncidentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "Fire", req.Title)

			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(CreateIncidentResponse{ID: "srv_8f3a2c"})
		}))

		id, err := client.CreateIncident(context.Background(), &CreateIncidentRequest{
			Title:       "Fire",
			Description: "Smoke in hallway",
			Location:    IncidentLocation{BuildingID: "b1", FloorID: "f2"},
			ReportedAt:  time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, "srv_8f3a2c", id)
	})

	t.Run("server error surfaces as APIError", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"message": "database down", "error": "internal"})
		}))

		_, err := client.CreateIncident(context.Background(), &CreateIncidentRequest{Title: "x"})
		require.Error(t, err)

		var apiErr APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	})

	t.Run("missing id in response is an error", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(CreateIncidentResponse{})
		}))

		_, err := client.CreateIncident(context.Background(), &CreateIncidentRequest{Title: "x"})
		assert.Error(t, err)
	})
}

func TestUploadMedia(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0644))

	t.Run("success returns media URL", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/media/upload", r.URL.Path)

			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "srv_8f3a2c", r.FormValue("incident_id"))

			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			assert.Equal(t, "photo.jpg", header.Filename)

			json.NewEncoder(w).Encode(UploadMediaResponse{URL: "https://cdn.example.com/m/1.jpg"})
		}))

		url, err := client.UploadMedia(context.Background(), "srv_8f3a2c", path)
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/m/1.jpg", url)
	})

	t.Run("missing file is a local error", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("server should not be reached")
		}))

		_, err := client.UploadMedia(context.Background(), "srv_8f3a2c", filepath.Join(dir, "missing.jpg"))
		assert.Error(t, err)
	})
}

func TestAttachMediaURL(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/incidents/srv_8f3a2c/media", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://cdn.example.com/m/1.jpg", body["url"])

		w.WriteHeader(http.StatusNoContent)
	}))

	err := client.AttachMediaURL(context.Background(), "srv_8f3a2c", "https://cdn.example.com/m/1.jpg")
	assert.NoError(t, err)
}

func TestVerifyToken(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/auth/verify", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))

		valid, err := client.VerifyToken(context.Background())
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("unauthorized", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))

		valid, err := client.VerifyToken(context.Background())
		require.NoError(t, err)
		assert.False(t, valid)
	})
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"unauthorized", APIError{StatusCode: 401}, ErrorKindAuth},
		{"forbidden", APIError{StatusCode: 403}, ErrorKindAuth},
		{"server error", APIError{StatusCode: 503}, ErrorKindServer},
		{"bad request", APIError{StatusCode: 400}, ErrorKindClient},
		{"unprocessable", APIError{StatusCode: 422}, ErrorKindClient},
		{"deadline", context.DeadlineExceeded, ErrorKindNetwork},
		{"plain error", errors.New("boom"), ErrorKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, ClassifyError(tt.err))
		})
	}
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(APIError{StatusCode: 400}))
	assert.True(t, IsPermanent(APIError{StatusCode: 422}))
	assert.True(t, IsPermanent(APIError{StatusCode: 404}))

	// Throttling and request timeout stay retryable
	assert.False(t, IsPermanent(APIError{StatusCode: 408}))
	assert.False(t, IsPermanent(APIError{StatusCode: 429}))

	assert.False(t, IsPermanent(APIError{StatusCode: 500}))
	assert.False(t, IsPermanent(errors.New("network down")))
}
