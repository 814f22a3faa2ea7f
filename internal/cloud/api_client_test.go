package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAllDevices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/devices", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("sessionId"))

		json.NewEncoder(w).Encode(deviceListResponse{
			Meta: meta{Code: codeOK},
			Devices: []Device{
				{Serial: "DEV1", Name: "Front", Status: StatusOn, LocalIP: "10.0.0.5", LocalRTSPPort: 0},
				{Serial: "DEV2", Name: "Back", Status: StatusOffline, LocalIP: "10.0.0.6", LocalRTSPPort: 8554, AlarmNotify: true},
			},
		})
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, "test-token")

	devices, err := client.LoadAllDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "Front", devices["DEV1"].Name)
	assert.True(t, devices["DEV2"].AlarmNotify)
}

func TestMetaCodeMapping(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"auth expired", codeAuthExpired, ErrAuthExpired},
		{"verification required", codeVerificationRequired, ErrAuthVerificationRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"meta": meta{Code: tt.code, Message: tt.name},
				})
			}))
			defer server.Close()

			client := NewAPIClient(server.URL, "test-token")

			_, err := client.LoadAllDevices(context.Background())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUnknownMetaCodeIsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"meta": meta{Code: 5000, Message: "device busy"},
		})
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, "test-token")

	err := client.SoundAlarm(context.Background(), "DEV1", 1)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 5000, apiErr.Code)
}

func TestUnauthorizedStatusIsAuthExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, "stale-token")

	_, err := client.LoadAllDevices(context.Background())
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestUnexpectedStatusIsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, "test-token")

	_, err := client.LoadAllDevices(context.Background())
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
}

func TestInvalidBaseURL(t *testing.T) {
	client := NewAPIClient("://not-a-url", "test-token")

	_, err := client.LoadAllDevices(context.Background())
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestPTZControlPayload(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v3/devices/DEV1/ptz", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(map[string]interface{}{"meta": meta{Code: codeOK}})
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, "test-token")

	require.NoError(t, client.PTZControl(context.Background(), "UP", "DEV1", PTZStart, 5))

	assert.Equal(t, "UP", got["direction"])
	assert.Equal(t, "START", got["command"])
	assert.Equal(t, float64(5), got["speed"])
}

func TestContextCancellationSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, "test-token")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.LoadAllDevices(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
