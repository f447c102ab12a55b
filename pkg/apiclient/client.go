package apiclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// Client is a JSON REST client shared by the registry and volume backends
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	retryCount int
	authToken  string
	backoff    func(attempt int) time.Duration
}

// ClientConfig holds configuration for a REST client
type ClientConfig struct {
	// Name identifies the remote service in logs and errors
	Name       string
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	AuthToken  string
	TLSConfig  *TLSConfig
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	CACertPath     string
	ClientCertPath string
	ClientKeyPath  string
	InsecureSkip   bool
}

// NewClient creates a new REST client
func NewClient(config *ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RetryCount < 0 {
		config.RetryCount = 0
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
	}

	if config.TLSConfig != nil {
		tlsConfig, err := buildTLSConfig(config.TLSConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS config: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
	}

	name := config.Name
	if name == "" {
		name = "api"
	}

	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		retryCount: config.RetryCount,
		authToken:  config.AuthToken,
		backoff:    exponentialBackoff,
	}, nil
}

func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

// buildTLSConfig builds TLS configuration from file paths
func buildTLSConfig(config *TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: config.InsecureSkip,
	}

	if config.CACertPath != "" {
		caCert, err := os.ReadFile(config.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA cert")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if config.ClientCertPath != "" && config.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(config.ClientCertPath, config.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert/key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Get performs a GET request and decodes the JSON response into out.
// Reads are retried with exponential backoff.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil, query, c.retryCount)
	if err != nil {
		return err
	}
	return c.decode(respBody, out)
}

// Post performs a single POST request and decodes the JSON response into out
// if out is non-nil. Mutations are never retried.
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	respBody, err := c.doRequest(ctx, http.MethodPost, path, body, nil, 0)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return c.decode(respBody, out)
}

func (c *Client) decode(respBody []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, c.name, err)
	}
	return nil
}

// doRequest performs an HTTP request with exponential backoff retry
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values, retries int) ([]byte, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			klog.V(4).Infof("Retrying %s %s%s (attempt %d/%d) after %v", method, c.name, path, attempt+1, retries+1, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		attempts++
		resp, err := c.doRequestOnce(ctx, method, path, body, query)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if isNonRetryableError(err) {
			klog.V(4).Infof("Non-retryable error from %s: %v", c.name, err)
			break
		}

		klog.V(4).Infof("Request to %s failed (attempt %d/%d): %v", c.name, attempt+1, retries+1, err)
	}

	if attempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("request to %s failed after %d attempts: %w", c.name, attempts, lastErr)
}

// doRequestOnce performs a single HTTP request
func (c *Client) doRequestOnce(ctx context.Context, method, path string, body interface{}, query url.Values) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	klog.V(4).Infof("%s %s", method, reqURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiResp errorResponse
		if err := json.Unmarshal(respBody, &apiResp); err == nil && apiResp.message() != "" {
			return nil, MapHTTPStatusToError(resp.StatusCode, apiResp.message())
		}
		return nil, MapHTTPStatusToError(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return respBody, nil
}

// errorResponse is the error envelope returned by the backends
type errorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (r errorResponse) message() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}
