package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// requestTimeout caps every license server call so a slow verification
// endpoint can never block a login path.
const requestTimeout = 5 * time.Second

var ErrServerUnavailable = errors.New("license server unavailable")

// VerifyResponse is what the license server reports for a key.
type VerifyResponse struct {
	Valid     bool       `json:"valid"`
	LicenseID string     `json:"license_id"`
	Tier      string     `json:"tier"`
	DeviceID  string     `json:"device_id"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Client talks to the external license verification endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Configured reports whether a license server has been set up. Without one
// the deployment runs on the free tier.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrServerUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("license server rejected request: status %d", resp.StatusCode)
	}

	if out != nil {
		err = json.NewDecoder(resp.Body).Decode(out)
		if err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Verify checks a license key and returns its current tier and expiry.
func (c *Client) Verify(ctx context.Context, key, deviceID string) (*VerifyResponse, error) {
	var out VerifyResponse
	err := c.post(ctx, "/licenses/verify", map[string]string{"key": key, "device_id": deviceID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping refreshes the server-side last-seen marker and revalidates the key.
func (c *Client) Ping(ctx context.Context, key, deviceID string) (*VerifyResponse, error) {
	var out VerifyResponse
	err := c.post(ctx, "/licenses/ping", map[string]string{"key": key, "device_id": deviceID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Create registers a new license with the server.
func (c *Client) Create(ctx context.Context, email, tier string) (*VerifyResponse, error) {
	var out VerifyResponse
	err := c.post(ctx, "/licenses/create", map[string]string{"email": email, "tier": tier}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Deactivate releases the license binding for this device.
func (c *Client) Deactivate(ctx context.Context, licenseID string) error {
	return c.post(ctx, "/licenses/"+licenseID+"/deactivate", map[string]string{}, nil)
}

// Get fetches a license record by key.
func (c *Client) Get(ctx context.Context, key string) (*VerifyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/licenses/key/"+key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrServerUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("license server rejected request: status %d", resp.StatusCode)
	}

	var out VerifyResponse
	err = json.NewDecoder(resp.Body).Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
