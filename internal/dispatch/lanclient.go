package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/firewatch-core/internal/device"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/config"
)

const (
	// maxResponseBytes caps how much of a device response is read.
	maxResponseBytes = 64 << 10

	defaultScheme = "http"
)

// ThresholdResponse is the body a device returns from GET and PUT /threshold.
type ThresholdResponse struct {
	Success    bool               `json:"success"`
	Thresholds *device.Thresholds `json:"thresholds,omitempty"`
}

// DeviceClient calls the HTTP endpoint a device exposes. Every error means
// the device could not be reached or answered badly.
type DeviceClient interface {
	GetThresholds(ctx context.Context, address string) (*ThresholdResponse, error)
	PutThresholds(ctx context.Context, address string, t device.Thresholds) (*ThresholdResponse, error)
	TriggerAlert(ctx context.Context, address string) error
	ResetAlert(ctx context.Context, address string) error
	Health(ctx context.Context, address string) error
}

// LANClient is the DeviceClient for devices on the local network.
type LANClient struct {
	http    *http.Client
	token   string
	scheme  string
	timeout time.Duration
}

// NewLANClient builds a client from the dispatch configuration.
func NewLANClient(cfg config.DispatchConfig) *LANClient {
	scheme := cfg.DeviceScheme
	if scheme == "" {
		scheme = defaultScheme
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LANClient{
		http:    &http.Client{},
		token:   cfg.DeviceToken,
		scheme:  scheme,
		timeout: timeout,
	}
}

// Timeout returns the per-request bound.
func (c *LANClient) Timeout() time.Duration { return c.timeout }

// GetThresholds reads the device's configured thresholds.
func (c *LANClient) GetThresholds(ctx context.Context, address string) (*ThresholdResponse, error) {
	var resp ThresholdResponse
	if err := c.do(ctx, http.MethodGet, address, "/threshold", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PutThresholds asks the device to apply t. The body is
// {"safety":..,"warning":..,"danger":..}.
func (c *LANClient) PutThresholds(ctx context.Context, address string, t device.Thresholds) (*ThresholdResponse, error) {
	var resp ThresholdResponse
	if err := c.do(ctx, http.MethodPut, address, "/threshold", t, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TriggerAlert sounds the device's local alarm.
func (c *LANClient) TriggerAlert(ctx context.Context, address string) error {
	return c.do(ctx, http.MethodPost, address, "/alert/trigger", nil, nil)
}

// ResetAlert silences the device's local alarm.
func (c *LANClient) ResetAlert(ctx context.Context, address string) error {
	return c.do(ctx, http.MethodPost, address, "/alert/reset", nil, nil)
}

// Health succeeds when the device answers GET /health with 2xx.
func (c *LANClient) Health(ctx context.Context, address string) error {
	return c.do(ctx, http.MethodGet, address, "/health", nil, nil)
}

// do performs one request. out may be nil when the body is ignored.
func (c *LANClient) do(ctx context.Context, method, address, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	url := fmt.Sprintf("%s://%s%s", c.scheme, address, path)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrDeviceUnreachable, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrDeviceUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: reading %s response: %w", ErrDeviceUnreachable, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned %d", ErrDeviceUnreachable, method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: malformed %s response: %w", ErrDeviceUnreachable, path, err)
	}
	return nil
}
