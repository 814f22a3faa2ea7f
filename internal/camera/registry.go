package camera

import (
	"fmt"
	"sync"

	"github.com/yourusername/camlink/internal/cloud"
	"github.com/yourusername/camlink/internal/coordinator"
	"go.uber.org/zap"
)

// CredentialLookup resolves stored credentials for a serial. The second return
// value is false when the camera has no configuration yet.
type CredentialLookup func(serial string) (Credentials, bool)

// DiscoveryFunc is invoked once per serial that shows up in a snapshot
// without stored credentials, so the owner can start a setup flow.
type DiscoveryFunc func(serial, localIP string)

// Registry keeps one camera entity per device serial. Entities are created
// when a serial first appears in a snapshot or was pre-configured; stale
// serials are kept, their entities simply become unavailable.
type Registry struct {
	coordinator *coordinator.Coordinator
	client      cloud.Client
	logger      *zap.Logger

	lookup     CredentialLookup
	onDiscover DiscoveryFunc

	cameras    map[string]*Camera
	discovered map[string]bool
	mutex      sync.RWMutex
}

// RegistryConfig holds the configuration for a Registry.
type RegistryConfig struct {
	Coordinator *coordinator.Coordinator
	Client      cloud.Client
	Logger      *zap.Logger
	Lookup      CredentialLookup
	OnDiscover  DiscoveryFunc
}

// NewRegistry creates a camera registry and subscribes it to the coordinator.
func NewRegistry(config RegistryConfig) *Registry {
	r := &Registry{
		coordinator: config.Coordinator,
		client:      config.Client,
		logger:      config.Logger,
		lookup:      config.Lookup,
		onDiscover:  config.OnDiscover,
		cameras:     make(map[string]*Camera),
		discovered:  make(map[string]bool),
	}

	config.Coordinator.Subscribe(r.Reconcile)

	return r
}

// Reconcile creates entities for serials appearing in the snapshot for the
// first time. Existing entities are untouched; they derive fresh state from
// the snapshot on read.
func (r *Registry) Reconcile(snapshot coordinator.Snapshot) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for serial, dev := range snapshot {
		if _, exists := r.cameras[serial]; exists {
			continue
		}
		r.add(serial, dev.LocalIP)
	}
}

// AddConfigured registers a pre-configured camera before its serial has been
// seen in any snapshot.
func (r *Registry) AddConfigured(serial string) *Camera {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if cam, exists := r.cameras[serial]; exists {
		return cam
	}

	return r.add(serial, "")
}

// add creates the entity for a serial. Caller holds the write lock.
func (r *Registry) add(serial, localIP string) *Camera {
	credentials, configured := r.lookup(serial)

	if !configured {
		r.logger.Warn("Found camera without configuration, setup required",
			zap.String("serial", serial),
			zap.String("local_ip", localIP),
		)

		if r.onDiscover != nil && !r.discovered[serial] {
			r.discovered[serial] = true
			r.onDiscover(serial, localIP)
		}

		credentials = Credentials{Username: DefaultUsername}
	}

	cam := New(Config{
		Coordinator: r.coordinator,
		Client:      r.client,
		Logger:      r.logger,
		Serial:      serial,
		Credentials: credentials,
	})
	r.cameras[serial] = cam

	r.logger.Info("Camera registered",
		zap.String("serial", serial),
		zap.Bool("configured", configured),
	)

	return cam
}

// Get returns the camera entity for a serial.
func (r *Registry) Get(serial string) (*Camera, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	cam, exists := r.cameras[serial]
	if !exists {
		return nil, fmt.Errorf("camera %s not found", serial)
	}

	return cam, nil
}

// List returns a copy of the current entity map.
func (r *Registry) List() map[string]*Camera {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	cameras := make(map[string]*Camera, len(r.cameras))
	for serial, cam := range r.cameras {
		cameras[serial] = cam
	}

	return cameras
}

// Count returns the number of registered cameras.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.cameras)
}
