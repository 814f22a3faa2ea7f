package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/camlink/internal/cloud"
	"github.com/yourusername/camlink/internal/coordinator"
	"go.uber.org/zap"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	return conn
}

func TestBroadcastSnapshot(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()

	conn := dialHub(t, hub)
	defer conn.Close()

	hub.BroadcastSnapshot(coordinator.Snapshot{
		"DEV1": {Serial: "DEV1", Name: "Front", Status: cloud.StatusOn},
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "snapshot", msg.Type)

	var payload struct {
		Devices map[string]cloud.Device `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "Front", payload.Devices["DEV1"].Name)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()

	conn := dialHub(t, hub)
	conn.Close()

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)
}
