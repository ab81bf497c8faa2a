// internal/remote/client.go
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pinmesh/peerloc/internal/model"
	"github.com/pinmesh/peerloc/internal/sharing"
)

// Client handles communication with the presence backend.
type Client struct {
	baseURL    string
	apiKey     string
	deviceID   string
	httpClient *http.Client
}

// New creates a new presence API client.
func New(baseURL, apiKey, deviceID string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		deviceID:   deviceID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the presence backend is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

type presenceBody struct {
	Sharing   bool     `json:"sharing"`
	Latitude  *float64 `json:"lat,omitempty"`
	Longitude *float64 `json:"lng,omitempty"`
}

// SetSharing persists the device's sharing flag on the backend. A 401 or 403
// response wraps sharing.ErrPermissionDenied so callers can grade it.
func (c *Client) SetSharing(ctx context.Context, enabled bool, lat, lng *float64) error {
	body, err := json.Marshal(presenceBody{Sharing: enabled, Latitude: lat, Longitude: lng})
	if err != nil {
		return fmt.Errorf("failed to encode presence body: %w", err)
	}

	url := c.baseURL + "/api/v1/presence/" + c.deviceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("presence update request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("presence update returned status %d: %w", resp.StatusCode, sharing.ErrPermissionDenied)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent:
		return fmt.Errorf("presence update returned status %d", resp.StatusCode)
	}
	return nil
}

// GetSharing reads the persisted sharing flag for this device.
func (c *Client) GetSharing(ctx context.Context) (bool, error) {
	url := c.baseURL + "/api/v1/presence/" + c.deviceID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("presence read request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, fmt.Errorf("presence read returned status %d: %w", resp.StatusCode, sharing.ErrPermissionDenied)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("presence read returned status %d", resp.StatusCode)
	}

	var body presenceBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return false, fmt.Errorf("failed to decode presence body: %w", err)
	}
	return body.Sharing, nil
}

type peerEntry struct {
	DeviceID    string   `json:"deviceId"`
	DisplayName string   `json:"displayName"`
	Latitude    float64  `json:"lat"`
	Longitude   float64  `json:"lng"`
	AccuracyM   float32  `json:"accuracyM"`
	AltitudeM   *float64 `json:"altitudeM"`
	SpeedMS     *float32 `json:"speedMs"`
	UpdatedAtMs int64    `json:"updatedAtMs"`
}

// FetchPeers lists the current positions of peers sharing with this device.
func (c *Client) FetchPeers(ctx context.Context) ([]PeerPosition, error) {
	url := c.baseURL + "/api/v1/presence/" + c.deviceID + "/peers"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("peer list request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("peer list returned status %d: %w", resp.StatusCode, sharing.ErrPermissionDenied)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("peer list returned status %d", resp.StatusCode)
	}

	var entries []peerEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode peer list: %w", err)
	}

	positions := make([]PeerPosition, 0, len(entries))
	for _, e := range entries {
		p := PeerPosition{
			PeerID:      e.DeviceID,
			DisplayName: e.DisplayName,
			Reading: model.PositionReading{
				Latitude:     e.Latitude,
				Longitude:    e.Longitude,
				AccuracyM:    e.AccuracyM,
				CapturedAtMs: e.UpdatedAtMs,
			},
		}
		if e.AltitudeM != nil {
			p.Reading.AltitudeM = *e.AltitudeM
			p.Reading.HasAltitude = true
		}
		if e.SpeedMS != nil {
			p.Reading.SpeedMS = *e.SpeedMS
			p.Reading.HasSpeed = true
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// PeerPosition is one peer's decoded backend position.
type PeerPosition struct {
	PeerID      string
	DisplayName string
	Reading     model.PositionReading
}
