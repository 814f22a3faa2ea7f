package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/camlink/internal/cloud"
	"go.uber.org/zap"
)

// fakeClient is a scriptable cloud.Client for coordinator tests.
type fakeClient struct {
	mu        sync.Mutex
	devices   map[string]cloud.Device
	err       error
	delay     time.Duration
	loadCalls atomic.Int32
}

func (f *fakeClient) LoadAllDevices(ctx context.Context) (map[string]cloud.Device, error) {
	f.loadCalls.Add(1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	devices := make(map[string]cloud.Device, len(f.devices))
	for k, v := range f.devices {
		devices[k] = v
	}
	return devices, nil
}

func (f *fakeClient) setResult(devices map[string]cloud.Device, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
	f.err = err
}

func (f *fakeClient) SetDefenceMode(ctx context.Context, serial string, flag int) error { return nil }
func (f *fakeClient) PTZControl(ctx context.Context, direction, serial, command string, speed int) error {
	return nil
}
func (f *fakeClient) SoundAlarm(ctx context.Context, serial string, flag int) error      { return nil }
func (f *fakeClient) AlarmSound(ctx context.Context, serial string, level, mode int) error { return nil }
func (f *fakeClient) DetectionSensibility(ctx context.Context, serial string, level, typeValue int) error {
	return nil
}
func (f *fakeClient) GetDetectionSensibility(ctx context.Context, serial string) (int, error) {
	return 3, nil
}

func testDevices() map[string]cloud.Device {
	return map[string]cloud.Device{
		"DEV1": {Serial: "DEV1", Name: "Front", Status: cloud.StatusOn, LocalIP: "10.0.0.5", LocalRTSPPort: 0, AlarmNotify: false},
		"DEV2": {Serial: "DEV2", Name: "Back", Status: cloud.StatusOffline, LocalIP: "10.0.0.6", LocalRTSPPort: 8554, AlarmNotify: true},
	}
}

func newTestCoordinator(t *testing.T, client cloud.Client, config Config) *Coordinator {
	t.Helper()
	config.Client = client
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return New(config)
}

func TestRefreshPublishesSnapshot(t *testing.T) {
	client := &fakeClient{}
	client.setResult(testDevices(), nil)

	c := newTestCoordinator(t, client, Config{})

	snapshot, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	assert.Equal(t, "Front", snapshot["DEV1"].Name)
	assert.True(t, c.LastUpdateSuccess())

	published := c.Snapshot()
	assert.Equal(t, snapshot, published)
}

func TestRefreshNotifiesSubscribers(t *testing.T) {
	client := &fakeClient{}
	client.setResult(testDevices(), nil)

	c := newTestCoordinator(t, client, Config{})

	var got Snapshot
	c.Subscribe(func(s Snapshot) { got = s })

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestRefreshDropsDevicesWithoutSerial(t *testing.T) {
	client := &fakeClient{}
	client.setResult(map[string]cloud.Device{
		"":     {Name: "ghost"},
		"DEV1": {Serial: "DEV1", Name: "Front", Status: cloud.StatusOn},
	}, nil)

	c := newTestCoordinator(t, client, Config{})

	snapshot, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot, 1)
	_, ok := snapshot["DEV1"]
	assert.True(t, ok)
}

func TestRefreshAuthErrorsRequireReauth(t *testing.T) {
	for _, cause := range []error{cloud.ErrAuthExpired, cloud.ErrAuthVerificationRequired} {
		client := &fakeClient{}
		client.setResult(nil, cause)

		var reauthCalls atomic.Int32
		c := newTestCoordinator(t, client, Config{
			OnReauthRequired: func(error) { reauthCalls.Add(1) },
		})

		_, err := c.Refresh(context.Background())
		require.Error(t, err)

		var reauth *ReauthRequiredError
		require.ErrorAs(t, err, &reauth)
		assert.ErrorIs(t, err, cause)
		assert.True(t, c.Halted())
		assert.False(t, c.LastUpdateSuccess())
		assert.Equal(t, int32(1), reauthCalls.Load())
	}
}

func TestHaltedCoordinatorSkipsScheduledPolls(t *testing.T) {
	client := &fakeClient{}
	client.setResult(nil, cloud.ErrAuthExpired)

	c := newTestCoordinator(t, client, Config{
		PollInterval: 10 * time.Millisecond,
	})

	err := c.Start()
	require.Error(t, err)
	defer c.Stop()

	calls := client.loadCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, client.loadCalls.Load(), "halted coordinator must not retry")
}

func TestTransientErrorsAreRetriedNextCycle(t *testing.T) {
	client := &fakeClient{}
	client.setResult(nil, cloud.ErrInvalidURL)

	c := newTestCoordinator(t, client, Config{
		PollInterval: 10 * time.Millisecond,
	})

	require.NoError(t, c.Start(), "transient startup failure must not abort")
	defer c.Stop()

	assert.Eventually(t, func() bool {
		return client.loadCalls.Load() >= 3
	}, time.Second, 5*time.Millisecond, "coordinator must keep polling through transient failures")
	assert.False(t, c.Halted())
}

func TestTransientErrorMapping(t *testing.T) {
	causes := []error{
		cloud.ErrInvalidURL,
		&cloud.HTTPError{StatusCode: 500, Message: "boom"},
		&cloud.APIError{Code: 42, Message: "vendor unhappy"},
	}

	for _, cause := range causes {
		client := &fakeClient{}
		client.setResult(nil, cause)

		c := newTestCoordinator(t, client, Config{})

		_, err := c.Refresh(context.Background())
		require.Error(t, err)

		var transient *RefreshError
		require.ErrorAs(t, err, &transient, "cause %v must map to RefreshError", cause)
		assert.False(t, c.Halted())
		assert.False(t, c.LastUpdateSuccess())
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	client := &fakeClient{delay: time.Second}
	client.setResult(testDevices(), nil)

	c := newTestCoordinator(t, client, Config{APITimeout: 20 * time.Millisecond})

	_, err := c.Refresh(context.Background())
	require.Error(t, err)

	var transient *RefreshError
	require.ErrorAs(t, err, &transient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRefreshSingleFlight(t *testing.T) {
	client := &fakeClient{delay: 100 * time.Millisecond}
	client.setResult(testDevices(), nil)

	c := newTestCoordinator(t, client, Config{})

	var wg sync.WaitGroup
	var inFlight atomic.Int32

	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			if _, err := c.Refresh(context.Background()); errors.Is(err, ErrRefreshInFlight) {
				inFlight.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inFlight.Load(), "exactly one of two concurrent refreshes must be suppressed")
	assert.Equal(t, int32(1), client.loadCalls.Load())
}

func TestSnapshotReplacementIsAtomic(t *testing.T) {
	client := &fakeClient{}
	client.setResult(testDevices(), nil)

	c := newTestCoordinator(t, client, Config{})

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup

	// Readers must always observe a complete two-entry map while refreshes
	// swap the pointer underneath them.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snapshot := c.Snapshot()
				if len(snapshot) != 2 {
					t.Errorf("observed partial snapshot with %d entries", len(snapshot))
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		_, err := c.Refresh(context.Background())
		require.NoError(t, err)
	}

	close(done)
	wg.Wait()
}

func TestResumeReenablesPolling(t *testing.T) {
	client := &fakeClient{}
	client.setResult(nil, cloud.ErrAuthExpired)

	c := newTestCoordinator(t, client, Config{})

	_, err := c.Refresh(context.Background())
	require.Error(t, err)
	require.True(t, c.Halted())

	client.setResult(testDevices(), nil)
	c.Resume()
	assert.False(t, c.Halted())

	snapshot, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)
}
