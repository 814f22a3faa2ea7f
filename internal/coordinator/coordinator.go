package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourusername/camlink/internal/cloud"
	"go.uber.org/zap"
)

// Snapshot is an immutable point-in-time view of the device fleet, keyed by
// serial. A new map is published wholesale on every successful refresh;
// consumers must never mutate it.
type Snapshot map[string]cloud.Device

// ErrRefreshInFlight is returned when a refresh is requested while a previous
// fetch is still outstanding. The caller keeps the current snapshot.
var ErrRefreshInFlight = errors.New("coordinator: refresh already in flight")

// ReauthRequiredError is fatal to the account session. Polling halts until
// credentials are refreshed; the coordinator never retries on its own.
type ReauthRequiredError struct {
	Cause error
}

func (e *ReauthRequiredError) Error() string {
	return "re-authentication required: " + e.Cause.Error()
}

func (e *ReauthRequiredError) Unwrap() error { return e.Cause }

// RefreshError is a transient fetch failure. Entities should be treated as
// temporarily unavailable; the next scheduled cycle retries.
type RefreshError struct {
	Cause error
}

func (e *RefreshError) Error() string {
	return "invalid response from API: " + e.Cause.Error()
}

func (e *RefreshError) Unwrap() error { return e.Cause }

// Subscriber is notified with the new snapshot after each successful refresh.
type Subscriber func(Snapshot)

// Coordinator owns the cloud client and polls the device list on a fixed
// interval, publishing each result as an atomic snapshot.
type Coordinator struct {
	client cloud.Client
	logger *zap.Logger

	pollInterval time.Duration
	apiTimeout   time.Duration

	snapshot    atomic.Pointer[Snapshot]
	lastSuccess atomic.Bool

	// One fetch in flight at a time; overlapping ticks are skipped.
	fetching atomic.Bool

	// Set once a fetch fails with an auth error; cleared only by Resume.
	halted atomic.Bool

	subscribers []Subscriber
	subMutex    sync.RWMutex

	onReauthRequired func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds the configuration for the Coordinator.
type Config struct {
	Client       cloud.Client
	Logger       *zap.Logger
	PollInterval time.Duration
	APITimeout   time.Duration

	// OnReauthRequired is invoked once when polling halts on an auth failure,
	// so the lifecycle owner can force a fresh credential prompt.
	OnReauthRequired func(error)
}

// New creates a new device coordinator.
func New(config Config) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}

	apiTimeout := config.APITimeout
	if apiTimeout <= 0 {
		apiTimeout = 25 * time.Second
	}

	c := &Coordinator{
		client:           config.Client,
		logger:           config.Logger,
		pollInterval:     pollInterval,
		apiTimeout:       apiTimeout,
		onReauthRequired: config.OnReauthRequired,
		ctx:              ctx,
		cancel:           cancel,
	}

	empty := Snapshot{}
	c.snapshot.Store(&empty)

	return c
}

// Start performs an initial refresh and launches the poll loop.
func (c *Coordinator) Start() error {
	c.logger.Info("Starting device coordinator",
		zap.Duration("poll_interval", c.pollInterval),
		zap.Duration("api_timeout", c.apiTimeout),
	)

	if _, err := c.Refresh(c.ctx); err != nil {
		var reauth *ReauthRequiredError
		if errors.As(err, &reauth) {
			return err
		}
		// Transient startup failure: keep polling, the next cycle retries.
		c.logger.Warn("Initial refresh failed", zap.Error(err))
	}

	c.wg.Add(1)
	go c.pollLoop()

	return nil
}

// Stop stops the poll loop and waits for an in-flight fetch to finish.
func (c *Coordinator) Stop() {
	c.logger.Info("Stopping device coordinator")
	c.cancel()
	c.wg.Wait()
}

// pollLoop drives scheduled refreshes until the coordinator is stopped.
func (c *Coordinator) pollLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.halted.Load() {
				continue
			}

			if _, err := c.Refresh(c.ctx); err != nil {
				if errors.Is(err, ErrRefreshInFlight) {
					c.logger.Debug("Previous fetch still outstanding, skipping tick")
					continue
				}
				c.logger.Error("Scheduled refresh failed", zap.Error(err))
			}
		}
	}
}

// Refresh fetches the device list once, bounded by the API timeout, and
// publishes the result. Vendor errors are mapped onto the coordinator's own
// error types; vendor-specific failures never cross this boundary unwrapped.
func (c *Coordinator) Refresh(ctx context.Context) (Snapshot, error) {
	if !c.fetching.CompareAndSwap(false, true) {
		return c.Snapshot(), ErrRefreshInFlight
	}
	defer c.fetching.Store(false)

	fetchCtx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()

	type fetchResult struct {
		devices map[string]cloud.Device
		err     error
	}

	// The client call blocks; run it off the loop goroutine so the deadline
	// holds even if the client ignores its context.
	resultCh := make(chan fetchResult, 1)
	go func() {
		devices, err := c.client.LoadAllDevices(fetchCtx)
		resultCh <- fetchResult{devices: devices, err: err}
	}()

	var result fetchResult
	select {
	case <-fetchCtx.Done():
		result = fetchResult{err: fetchCtx.Err()}
	case result = <-resultCh:
	}

	if result.err != nil {
		return nil, c.mapError(result.err)
	}

	snapshot := c.validate(result.devices)
	c.snapshot.Store(&snapshot)
	c.lastSuccess.Store(true)

	c.logger.Debug("Snapshot published", zap.Int("devices", len(snapshot)))
	c.notify(snapshot)

	return snapshot, nil
}

// mapError translates a fetch failure into one of the two coordinator outcomes.
func (c *Coordinator) mapError(err error) error {
	if errors.Is(err, cloud.ErrAuthExpired) || errors.Is(err, cloud.ErrAuthVerificationRequired) {
		c.lastSuccess.Store(false)
		if c.halted.CompareAndSwap(false, true) {
			c.logger.Error("Authentication failed, polling halted", zap.Error(err))
			if c.onReauthRequired != nil {
				c.onReauthRequired(err)
			}
		}
		return &ReauthRequiredError{Cause: err}
	}

	// Invalid URL, HTTP errors, generic vendor errors and timeouts are all
	// transient: mark entities unavailable and retry on the next cycle.
	c.lastSuccess.Store(false)
	return &RefreshError{Cause: err}
}

// validate checks the fetched map once per cycle so consumers can read
// entries without re-validation. Entries without a serial are dropped.
func (c *Coordinator) validate(devices map[string]cloud.Device) Snapshot {
	snapshot := make(Snapshot, len(devices))
	for serial, dev := range devices {
		if serial == "" {
			c.logger.Warn("Dropping device without serial", zap.String("name", dev.Name))
			continue
		}
		if dev.Serial == "" {
			dev.Serial = serial
		}
		if dev.Status < StatusMin || dev.Status > StatusMax {
			c.logger.Warn("Device reported unknown status",
				zap.String("serial", serial),
				zap.Int("status", dev.Status),
			)
		}
		snapshot[serial] = dev
	}
	return snapshot
}

// Raw status bounds reported by the cloud API.
const (
	StatusMin = cloud.StatusOff
	StatusMax = cloud.StatusOffline
)

// Snapshot returns the latest published snapshot. Never nil.
func (c *Coordinator) Snapshot() Snapshot {
	return *c.snapshot.Load()
}

// Device returns one device's entry from the latest snapshot.
func (c *Coordinator) Device(serial string) (cloud.Device, bool) {
	dev, ok := c.Snapshot()[serial]
	return dev, ok
}

// LastUpdateSuccess reports whether the most recent fetch succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	return c.lastSuccess.Load()
}

// Halted reports whether polling stopped on an auth failure.
func (c *Coordinator) Halted() bool {
	return c.halted.Load()
}

// Resume re-enables polling after the account session has been refreshed.
func (c *Coordinator) Resume() {
	if c.halted.CompareAndSwap(true, false) {
		c.logger.Info("Polling resumed")
	}
}

// Subscribe registers a callback invoked after each successful refresh.
func (c *Coordinator) Subscribe(sub Subscriber) {
	c.subMutex.Lock()
	defer c.subMutex.Unlock()
	c.subscribers = append(c.subscribers, sub)
}

// notify invokes subscribers outside the subscriber lock.
func (c *Coordinator) notify(snapshot Snapshot) {
	c.subMutex.RLock()
	subs := make([]Subscriber, len(c.subscribers))
	copy(subs, c.subscribers)
	c.subMutex.RUnlock()

	for _, sub := range subs {
		sub(snapshot)
	}
}
