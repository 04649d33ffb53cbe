// Package remote implements the HTTP client for the incident reporting
// server: incident creation and update, media upload, and token checks.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/loggy"
)

// Client handles HTTP communication with the reporting server
type Client struct {
	baseURL       string
	token         string
	timeout       time.Duration
	httpClient    *http.Client
	logger        *loggy.Logger
	settingsRepo  config.SettingsRepository
	uploadLimiter *rate.Limiter
}

// NewClient creates a new HTTP client for server communication.
// Media uploads are rate limited to uploadRate per second with the given
// burst, so a large backlog drains without saturating a mobile uplink.
func NewClient(baseURL, token string, timeout time.Duration, uploadRate float64, uploadBurst int, logger *loggy.Logger) *Client {
	// Create HTTP client with custom transport for connection pooling
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}

	return &Client{
		baseURL:       baseURL,
		token:         token,
		timeout:       timeout,
		httpClient:    httpClient,
		logger:        logger,
		uploadLimiter: rate.NewLimiter(rate.Limit(uploadRate), uploadBurst),
	}
}

// SetToken updates the authentication token
func (c *Client) SetToken(token string) {
	c.token = token
}

// SetSettingsRepository sets the settings repository for the client
func (c *Client) SetSettingsRepository(repo config.SettingsRepository) {
	c.settingsRepo = repo
}

// GetToken returns the current token, checking the settings repository if available
func (c *Client) GetToken() string {
	if c.settingsRepo != nil && c.token == "" {
		// Use context with short timeout for DB lookup
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		token, err := c.settingsRepo.GetSetting(ctx, "sync.server_token")
		if err != nil {
			c.logger.Warn("Failed to get token from settings, using cached token", "error", err)
		} else if token != "" {
			// Update local cache
			c.token = token
		}
	}

	return c.token
}

// APIError represents an error response from the API
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.StatusCode, e.ErrorCode, e.Message)
}

// IncidentLocation identifies where an incident happened
type IncidentLocation struct {
	BuildingID string  `json:"building_id"`
	FloorID    string  `json:"floor_id,omitempty"`
	Room       string  `json:"room,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
}

// CreateIncidentRequest is the payload for creating an incident
type CreateIncidentRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Category    string           `json:"category,omitempty"`
	Severity    string           `json:"severity,omitempty"`
	Location    IncidentLocation `json:"location"`
	ReporterID  string           `json:"reporter_id,omitempty"`
	DeviceName  string           `json:"device_name,omitempty"`
	ReportedAt  time.Time        `json:"reported_at"`
}

// CreateIncidentResponse is the server's answer to an incident creation,
// carrying the server-assigned incident id
type CreateIncidentResponse struct {
	ID string `json:"id"`
}

// UploadMediaResponse is the server's answer to a media upload
type UploadMediaResponse struct {
	URL string `json:"url"`
}

// CreateIncident submits a new incident and returns the server-assigned id
func (c *Client) CreateIncident(ctx context.Context, req *CreateIncidentRequest) (string, error) {
	url := fmt.Sprintf("%s/api/incidents", c.baseURL)

	var resp CreateIncidentResponse
	if err := c.sendJSON(ctx, http.MethodPost, url, req, &resp); err != nil {
		return "", err
	}

	if resp.ID == "" {
		return "", fmt.Errorf("server returned no incident id")
	}

	return resp.ID, nil
}

// AttachMediaURL records an uploaded media URL on an existing incident
func (c *Client) AttachMediaURL(ctx context.Context, incidentID, mediaURL string) error {
	url := fmt.Sprintf("%s/api/incidents/%s/media", c.baseURL, incidentID)

	body := map[string]string{"url": mediaURL}
	return c.sendJSON(ctx, http.MethodPost, url, body, nil)
}

// UploadMedia uploads a media file and returns its server URL. The call
// blocks on the upload rate limiter first, honoring context cancellation.
func (c *Client) UploadMedia(ctx context.Context, incidentID, path string) (string, error) {
	if err := c.uploadLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for upload slot: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening media file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("incident_id", incidentID); err != nil {
		return "", fmt.Errorf("writing form field: %w", err)
	}

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("copying media file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/api/media/upload", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	token := c.GetToken()
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	req.Header.Add("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", decodeAPIError(resp)
	}

	var uploadResp UploadMediaResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if uploadResp.URL == "" {
		return "", fmt.Errorf("server returned no media URL")
	}

	return uploadResp.URL, nil
}

// VerifyToken verifies if a token is valid
func (c *Client) VerifyToken(ctx context.Context) (bool, error) {
	url := fmt.Sprintf("%s/api/auth/verify", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}

	// Add auth headers with latest token
	token := c.GetToken()
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}

	// If status is unauthorized, token is invalid
	if resp.StatusCode == http.StatusUnauthorized {
		return false, nil
	}

	return false, decodeAPIError(resp)
}

// sendJSON sends a JSON request and optionally decodes a JSON response
func (c *Client) sendJSON(ctx context.Context, method, url string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	// Get latest token and add auth headers
	token := c.GetToken()
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

// decodeAPIError turns a non-2xx response into an APIError
func decodeAPIError(resp *http.Response) error {
	var apiErr APIError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		// If we can't decode the error, keep the status code
		return APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
	apiErr.StatusCode = resp.StatusCode
	return apiErr
}
