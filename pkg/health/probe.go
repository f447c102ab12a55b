package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultProbeURL is the data-plane health endpoint of the local service
const DefaultProbeURL = "http://127.0.0.1:8800/_/healthcheck"

// ProbeResult is the outcome of the local data-plane probe
type ProbeResult struct {
	OK      bool
	Message string
}

// Prober checks the local data plane
type Prober interface {
	Probe(ctx context.Context) ProbeResult
}

// HTTPProber performs an HTTP GET against a fixed local endpoint. Any 2xx is
// healthy; other statuses and transport errors are failures.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// NewHTTPProber creates a new HTTP prober
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if url == "" {
		url = DefaultProbeURL
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Probe implements Prober
func (p *HTTPProber) Probe(ctx context.Context) ProbeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return ProbeResult{Message: fmt.Sprintf("failed to create request: %v", err)}
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return ProbeResult{Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return ProbeResult{
		OK:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		Message: message,
	}
}
