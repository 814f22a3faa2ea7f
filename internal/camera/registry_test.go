package camera

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/camlink/internal/cloud"
	"github.com/yourusername/camlink/internal/coordinator"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T, client *fakeClient, lookup CredentialLookup, onDiscover DiscoveryFunc) (*Registry, *coordinator.Coordinator) {
	t.Helper()

	coord := coordinator.New(coordinator.Config{
		Client: client,
		Logger: zap.NewNop(),
	})

	registry := NewRegistry(RegistryConfig{
		Coordinator: coord,
		Client:      client,
		Logger:      zap.NewNop(),
		Lookup:      lookup,
		OnDiscover:  onDiscover,
	})

	return registry, coord
}

func TestReconcileCreatesEntitiesFromSnapshot(t *testing.T) {
	client := &fakeClient{devices: map[string]cloud.Device{
		"DEV1": {Serial: "DEV1", Name: "Front", Status: cloud.StatusOn, LocalIP: "10.0.0.5"},
		"DEV2": {Serial: "DEV2", Name: "Back", Status: cloud.StatusOn, LocalIP: "10.0.0.6"},
	}}

	lookup := func(serial string) (Credentials, bool) {
		if serial == "DEV1" {
			return Credentials{Username: "admin", Password: "secret"}, true
		}
		return Credentials{}, false
	}

	registry, coord := newTestRegistry(t, client, lookup, nil)

	_, err := coord.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, registry.Count())

	configured, err := registry.Get("DEV1")
	require.NoError(t, err)
	assert.True(t, configured.SupportsStreaming())

	unconfigured, err := registry.Get("DEV2")
	require.NoError(t, err)
	assert.False(t, unconfigured.SupportsStreaming())
	assert.Empty(t, unconfigured.StreamSource())
}

func TestDiscoveryCallbackFiresOncePerSerial(t *testing.T) {
	client := &fakeClient{devices: map[string]cloud.Device{
		"DEV1": {Serial: "DEV1", Name: "Front", Status: cloud.StatusOn, LocalIP: "10.0.0.5"},
	}}

	var discoveries atomic.Int32
	lookup := func(string) (Credentials, bool) { return Credentials{}, false }
	onDiscover := func(serial, localIP string) {
		discoveries.Add(1)
		assert.Equal(t, "DEV1", serial)
		assert.Equal(t, "10.0.0.5", localIP)
	}

	_, coord := newTestRegistry(t, client, lookup, onDiscover)

	for i := 0; i < 3; i++ {
		_, err := coord.Refresh(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), discoveries.Load())
}

func TestAddConfiguredBeforeFirstSnapshot(t *testing.T) {
	client := &fakeClient{}

	lookup := func(string) (Credentials, bool) {
		return Credentials{Username: "admin", Password: "secret"}, true
	}

	registry, _ := newTestRegistry(t, client, lookup, nil)

	cam := registry.AddConfigured("DEV9")
	require.NotNil(t, cam)
	assert.Equal(t, 1, registry.Count())

	// No snapshot entry yet: configured but unavailable, no stream.
	assert.False(t, cam.Available())
	assert.True(t, cam.SupportsStreaming())
	assert.Empty(t, cam.StreamSource())

	// Registering the same serial again returns the existing entity.
	again := registry.AddConfigured("DEV9")
	assert.Same(t, cam, again)
}

func TestStaleSerialsAreKept(t *testing.T) {
	client := &fakeClient{devices: map[string]cloud.Device{
		"DEV1": {Serial: "DEV1", Name: "Front", Status: cloud.StatusOn, LocalIP: "10.0.0.5"},
	}}

	lookup := func(string) (Credentials, bool) { return Credentials{Password: "x"}, true }
	registry, coord := newTestRegistry(t, client, lookup, nil)

	_, err := coord.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, registry.Count())

	// Serial disappears from the next snapshot; entity stays, unavailable.
	client.mu.Lock()
	client.devices = map[string]cloud.Device{}
	client.mu.Unlock()

	_, err = coord.Refresh(context.Background())
	require.NoError(t, err)

	cam, err := registry.Get("DEV1")
	require.NoError(t, err)
	assert.False(t, cam.Available())
}
