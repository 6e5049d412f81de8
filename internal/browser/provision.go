// internal/browser/provision.go
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Instance describes a remote browser instance obtained from the provisioning
// service. ConnectURL is the CDP websocket address the driver attaches to.
type Instance struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ConnectURL string `json:"connectUrl"`
}

// ProvisionClient is a minimal REST client for a browser-as-a-service
// provisioning endpoint. It is only used when a provider API key is
// configured; otherwise the driver attaches to a local debuggable browser.
type ProvisionClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewProvisionClient initializes the client against the given endpoint.
func NewProvisionClient(endpoint, apiKey string, logger *zap.Logger) *ProvisionClient {
	return &ProvisionClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger.Named("provision"),
	}
}

// CreateInstance requests a fresh remote browser instance and returns its
// connection details.
func (c *ProvisionClient) CreateInstance(ctx context.Context) (*Instance, error) {
	body, err := json.Marshal(map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provisioning request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create provisioning request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provisioning request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provisioning response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("provisioning service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var inst Instance
	if err := json.Unmarshal(respBody, &inst); err != nil {
		return nil, fmt.Errorf("failed to decode provisioning response: %w", err)
	}
	if inst.ConnectURL == "" {
		return nil, fmt.Errorf("provisioning service returned no connect URL (instance %s)", inst.ID)
	}

	c.logger.Info("Remote browser instance provisioned",
		zap.String("instance_id", inst.ID),
		zap.Duration("duration", time.Since(start)),
	)
	return &inst, nil
}

// ReleaseInstance requests termination of a provisioned instance. Failures
// here are reported but expected to be non-fatal for callers: the browsing
// context has already been released by the time this runs.
func (c *ProvisionClient) ReleaseInstance(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint+"/sessions/"+id, nil)
	if err != nil {
		return fmt.Errorf("failed to create release request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("release request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("provisioning service returned status %d on release", resp.StatusCode)
	}

	c.logger.Info("Remote browser instance released", zap.String("instance_id", id))
	return nil
}
