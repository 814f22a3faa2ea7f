package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Service-level result codes returned in the response meta block.
const (
	codeOK                   = 200
	codeAuthExpired          = 10002
	codeVerificationRequired = 6002
)

// meta is the status block every API response carries.
type meta struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// deviceListResponse is the payload of the device list endpoint.
type deviceListResponse struct {
	Meta    meta     `json:"meta"`
	Devices []Device `json:"devices"`
}

// sensibilityResponse is the payload of the detection sensibility query.
type sensibilityResponse struct {
	Meta  meta `json:"meta"`
	Value int  `json:"value"`
}

// APIClient talks to the vendor cloud over HTTPS with a pre-provisioned
// session token. The remote session is stateful, so every call is serialized
// through a single mutex; polls and device actions never overlap on the wire.
type APIClient struct {
	baseURL      string
	sessionToken string
	httpClient   *http.Client

	mu sync.Mutex
}

// NewAPIClient creates a new cloud API client.
func NewAPIClient(baseURL, sessionToken string) *APIClient {
	return &APIClient{
		baseURL:      baseURL,
		sessionToken: sessionToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetRequestTimeout overrides the default per-request timeout.
func (c *APIClient) SetRequestTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// LoadAllDevices fetches the full device list, keyed by serial.
func (c *APIClient) LoadAllDevices(ctx context.Context) (map[string]Device, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/devices", nil)
	if err != nil {
		return nil, err
	}

	var resp deviceListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &APIError{Code: 0, Message: fmt.Sprintf("malformed device list: %v", err)}
	}
	if err := checkMeta(resp.Meta); err != nil {
		return nil, err
	}

	devices := make(map[string]Device, len(resp.Devices))
	for _, dev := range resp.Devices {
		devices[dev.Serial] = dev
	}

	return devices, nil
}

// SetDefenceMode arms (1) or disarms (0) motion detection on a device.
func (c *APIClient) SetDefenceMode(ctx context.Context, serial string, flag int) error {
	path := fmt.Sprintf("/api/v3/devices/%s/defence", url.PathEscape(serial))
	return c.command(ctx, path, map[string]int{"flag": flag})
}

// PTZControl issues one PTZ command phase for a direction and speed.
func (c *APIClient) PTZControl(ctx context.Context, direction, serial, command string, speed int) error {
	path := fmt.Sprintf("/api/v3/devices/%s/ptz", url.PathEscape(serial))
	return c.command(ctx, path, map[string]interface{}{
		"direction": direction,
		"command":   command,
		"speed":     speed,
	})
}

// SoundAlarm triggers (non-zero) or clears (0) the audible alarm.
func (c *APIClient) SoundAlarm(ctx context.Context, serial string, flag int) error {
	path := fmt.Sprintf("/api/v3/devices/%s/alarm", url.PathEscape(serial))
	return c.command(ctx, path, map[string]int{"flag": flag})
}

// AlarmSound sets the alarm sound level for the given alarm mode.
func (c *APIClient) AlarmSound(ctx context.Context, serial string, level, mode int) error {
	path := fmt.Sprintf("/api/v3/devices/%s/alarm/sound", url.PathEscape(serial))
	return c.command(ctx, path, map[string]int{"level": level, "mode": mode})
}

// DetectionSensibility sets the sensitivity threshold for a detection type.
func (c *APIClient) DetectionSensibility(ctx context.Context, serial string, level, typeValue int) error {
	path := fmt.Sprintf("/api/v3/devices/%s/sensibility", url.PathEscape(serial))
	return c.command(ctx, path, map[string]int{"level": level, "type": typeValue})
}

// GetDetectionSensibility queries the current sensitivity threshold.
func (c *APIClient) GetDetectionSensibility(ctx context.Context, serial string) (int, error) {
	path := fmt.Sprintf("/api/v3/devices/%s/sensibility", url.PathEscape(serial))

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}

	var resp sensibilityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, &APIError{Code: 0, Message: fmt.Sprintf("malformed sensibility response: %v", err)}
	}
	if err := checkMeta(resp.Meta); err != nil {
		return 0, err
	}

	return resp.Value, nil
}

// command sends a PUT with a JSON payload and checks the meta block.
func (c *APIClient) command(ctx context.Context, path string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return &APIError{Code: 0, Message: fmt.Sprintf("failed to marshal payload: %v", err)}
	}

	body, err := c.do(ctx, http.MethodPut, path, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}

	var resp struct {
		Meta meta `json:"meta"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return &APIError{Code: 0, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	return checkMeta(resp.Meta)
}

// do performs one serialized HTTP round-trip and returns the response body.
func (c *APIClient) do(ctx context.Context, method, path string, reqBody io.Reader) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fullURL := c.baseURL + path
	if _, err := url.ParseRequestURI(fullURL); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, fullURL)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("sessionId", c.sessionToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Context expiry surfaces as-is so callers can distinguish timeouts.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &HTTPError{StatusCode: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrAuthExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	return body, nil
}

// checkMeta maps service-level result codes onto the package error set.
func checkMeta(m meta) error {
	switch m.Code {
	case codeOK:
		return nil
	case codeAuthExpired:
		return ErrAuthExpired
	case codeVerificationRequired:
		return ErrAuthVerificationRequired
	default:
		return &APIError{Code: m.Code, Message: m.Message}
	}
}
