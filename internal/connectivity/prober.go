package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/beaconhq/beacon/internal/loggy"
)

// Prober checks internet reachability
type Prober interface {
	// Probe returns the current connectivity state. An error means the
	// probe itself could not run, not that the device is offline.
	Probe(ctx context.Context) (State, error)
}

// HTTPProber probes reachability by requesting a well-known endpoint that
// returns a small success response (a generate_204 style URL)
type HTTPProber struct {
	url    string
	client *http.Client
	logger *loggy.Logger
}

// NewHTTPProber creates a prober for the given URL
func NewHTTPProber(url string, timeout time.Duration, logger *loggy.Logger) *HTTPProber {
	return &HTTPProber{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Probe performs a single reachability check
func (p *HTTPProber) Probe(ctx context.Context) (State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return State{}, fmt.Errorf("building probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// A transport-level failure means no working internet path
		p.logger.Debug("Connectivity probe failed", "url", p.url, "error", err)
		return State{Connected: false, InternetReachable: ReachabilityNo, Type: "unknown"}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// The network answered but not with the expected response.
		// A captive portal behaves this way: attached, not usable.
		p.logger.Debug("Connectivity probe got unexpected status", "status", resp.StatusCode)
		return State{Connected: true, InternetReachable: ReachabilityUnknown, Type: "unknown"}, nil
	}

	return State{Connected: true, InternetReachable: ReachabilityYes, Type: "unknown"}, nil
}

// ProbeWithRetry probes reachability, retrying probe setup failures with
// capped exponential backoff before giving up
func ProbeWithRetry(ctx context.Context, prober Prober, logger *loggy.Logger) (State, error) {
	var state State

	operation := func() error {
		var err error
		state, err = prober.Probe(ctx)
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		logger.Warn("Connectivity probe gave up", "error", err)
		return State{Connected: false, InternetReachable: ReachabilityUnknown, Type: "unknown"}, err
	}

	return state, nil
}
