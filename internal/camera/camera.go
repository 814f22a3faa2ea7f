package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/yourusername/camlink/internal/cloud"
	"github.com/yourusername/camlink/internal/coordinator"
	"go.uber.org/zap"
)

// Defaults for cameras found without stored configuration.
const (
	DefaultRTSPPort = 554
	DefaultUsername = "admin"
)

// PTZ directions accepted by PerformPTZ.
const (
	DirectionUp    = "up"
	DirectionDown  = "down"
	DirectionLeft  = "left"
	DirectionRight = "right"
)

// ErrInvalidInput marks action failures caused by rejected input, before any
// vendor call was made.
var ErrInvalidInput = errors.New("invalid input")

// ActionError wraps a vendor failure from a single device action. The cause
// is preserved; the failure never affects other devices or the snapshot.
type ActionError struct {
	Serial string
	Action string
	Cause  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("camera %s: cannot %s: %v", e.Serial, e.Action, e.Cause)
}

func (e *ActionError) Unwrap() error { return e.Cause }

// Credentials are the per-camera RTSP credentials plus the extra argument
// string appended verbatim to the derived stream URL. They are constant for
// the camera's lifetime.
type Credentials struct {
	Username  string
	Password  string
	ExtraArgs string
}

// Camera is a per-device view over the coordinator's latest snapshot. All
// state is derived on read; the only owned fields are identity and credentials.
type Camera struct {
	coordinator *coordinator.Coordinator
	client      cloud.Client
	logger      *zap.Logger

	serial      string
	credentials Credentials
}

// Config holds the configuration for a Camera.
type Config struct {
	Coordinator *coordinator.Coordinator
	Client      cloud.Client
	Logger      *zap.Logger
	Serial      string
	Credentials Credentials
}

// New creates a camera entity for one device serial.
func New(config Config) *Camera {
	credentials := config.Credentials
	if credentials.Username == "" {
		credentials.Username = DefaultUsername
	}

	return &Camera{
		coordinator: config.Coordinator,
		client:      config.Client,
		logger:      config.Logger.With(zap.String("serial", config.Serial)),
		serial:      config.Serial,
		credentials: credentials,
	}
}

// Serial returns the device serial.
func (c *Camera) Serial() string {
	return c.serial
}

// Name returns the device name from the latest snapshot.
func (c *Camera) Name() string {
	dev, ok := c.data()
	if !ok {
		return ""
	}
	return dev.Name
}

// data reads this device's entry from the published snapshot.
func (c *Camera) data() (cloud.Device, bool) {
	return c.coordinator.Device(c.serial)
}

// Available reports whether the device is reachable: the last refresh
// succeeded and the device is not offline.
func (c *Camera) Available() bool {
	if !c.coordinator.LastUpdateSuccess() {
		return false
	}
	dev, ok := c.data()
	if !ok {
		return false
	}
	return dev.Status != cloud.StatusOffline
}

// IsOn reports whether the device is powered on.
func (c *Camera) IsOn() bool {
	dev, ok := c.data()
	if !ok {
		return false
	}
	return dev.Status != cloud.StatusOff
}

// IsRecording reports whether the device records on alarm.
func (c *Camera) IsRecording() bool {
	dev, ok := c.data()
	if !ok {
		return false
	}
	return dev.AlarmNotify
}

// MotionDetectionEnabled reports the armed state of motion detection.
func (c *Camera) MotionDetectionEnabled() bool {
	dev, ok := c.data()
	if !ok {
		return false
	}
	return dev.AlarmNotify
}

// SupportsStreaming reports whether a stream source can be derived. Without a
// configured password there is nothing to authenticate the RTSP session with.
func (c *Camera) SupportsStreaming() bool {
	return c.credentials.Password != ""
}

// StreamSource derives the RTSP source URL from the latest snapshot entry and
// the stored credentials. It is recomputed on every call because the local IP
// and port may change between polls. Returns "" when no stream is available;
// it never fails.
func (c *Camera) StreamSource() string {
	if c.credentials.Password == "" {
		return ""
	}

	dev, ok := c.data()
	if !ok {
		return ""
	}

	// The cloud API sometimes reports port 0 even when the camera serves RTSP
	// on the default port.
	port := dev.LocalRTSPPort
	if port == 0 {
		port = DefaultRTSPPort
	}

	source := fmt.Sprintf("rtsp://%s:%s@%s:%d%s",
		c.credentials.Username,
		c.credentials.Password,
		dev.LocalIP,
		port,
		c.credentials.ExtraArgs,
	)

	if _, err := base.ParseURL(source); err != nil {
		c.logger.Warn("Derived stream URL failed validation", zap.Error(err))
	}

	c.logger.Debug("Stream source derived", zap.String("source", maskStreamURL(source)))

	return source
}

// PerformPTZ issues a single bounded PTZ nudge: START immediately followed by
// STOP for the given direction and speed.
func (c *Camera) PerformPTZ(ctx context.Context, direction string, speed int) error {
	normalized := strings.ToUpper(direction)
	switch strings.ToLower(direction) {
	case DirectionUp, DirectionDown, DirectionLeft, DirectionRight:
	default:
		return &ActionError{Serial: c.serial, Action: "perform PTZ",
			Cause: fmt.Errorf("%w: invalid direction %q", ErrInvalidInput, direction)}
	}
	if speed <= 0 {
		return &ActionError{Serial: c.serial, Action: "perform PTZ",
			Cause: fmt.Errorf("%w: speed must be positive, got %d", ErrInvalidInput, speed)}
	}

	if err := c.client.PTZControl(ctx, normalized, c.serial, cloud.PTZStart, speed); err != nil {
		return &ActionError{Serial: c.serial, Action: "perform PTZ", Cause: err}
	}
	if err := c.client.PTZControl(ctx, normalized, c.serial, cloud.PTZStop, speed); err != nil {
		return &ActionError{Serial: c.serial, Action: "perform PTZ", Cause: err}
	}

	return nil
}

// SetMotionDetection arms or disarms the device defence mode.
func (c *Camera) SetMotionDetection(ctx context.Context, enable bool) error {
	flag := 0
	action := "disable motion detection"
	if enable {
		flag = 1
		action = "enable motion detection"
	}

	if err := c.client.SetDefenceMode(ctx, c.serial, flag); err != nil {
		return &ActionError{Serial: c.serial, Action: action, Cause: err}
	}

	return nil
}

// SoundAlarm triggers or clears the audible alarm. The vendor treats the
// enable value as a boolean flag.
func (c *Camera) SoundAlarm(ctx context.Context, enable int) error {
	if enable < 0 {
		return &ActionError{Serial: c.serial, Action: "sound alarm",
			Cause: fmt.Errorf("%w: enable must not be negative, got %d", ErrInvalidInput, enable)}
	}

	if err := c.client.SoundAlarm(ctx, c.serial, enable); err != nil {
		return &ActionError{Serial: c.serial, Action: "sound alarm", Cause: err}
	}

	return nil
}

// WakeDevice wakes a sleeping camera by issuing a lightweight status query.
// The returned value is discarded.
func (c *Camera) WakeDevice(ctx context.Context) error {
	if _, err := c.client.GetDetectionSensibility(ctx, c.serial); err != nil {
		return &ActionError{Serial: c.serial, Action: "wake device", Cause: err}
	}

	return nil
}

// Alarm sound mode sent with every level change: sound on motion detected.
const alarmSoundModeOnMotion = 1

// SetAlarmSoundLevel sets the alarm sound level for motion-triggered alarms.
func (c *Camera) SetAlarmSoundLevel(ctx context.Context, level int) error {
	if level <= 0 {
		return &ActionError{Serial: c.serial, Action: "set alarm sound level",
			Cause: fmt.Errorf("%w: level must be positive, got %d", ErrInvalidInput, level)}
	}

	if err := c.client.AlarmSound(ctx, c.serial, level, alarmSoundModeOnMotion); err != nil {
		return &ActionError{Serial: c.serial, Action: "set alarm sound level", Cause: err}
	}

	return nil
}

// SetDetectionSensitivity sets the sensitivity threshold for a detection type.
func (c *Camera) SetDetectionSensitivity(ctx context.Context, level, typeValue int) error {
	if level <= 0 {
		return &ActionError{Serial: c.serial, Action: "set detection sensitivity",
			Cause: fmt.Errorf("%w: level must be positive, got %d", ErrInvalidInput, level)}
	}
	if typeValue <= 0 {
		return &ActionError{Serial: c.serial, Action: "set detection sensitivity",
			Cause: fmt.Errorf("%w: type must be positive, got %d", ErrInvalidInput, typeValue)}
	}

	if err := c.client.DetectionSensibility(ctx, c.serial, level, typeValue); err != nil {
		return &ActionError{Serial: c.serial, Action: "set detection sensitivity", Cause: err}
	}

	return nil
}

// maskStreamURL masks the password portion of an RTSP URL for logging.
func maskStreamURL(urlStr string) string {
	protocolEnd := strings.Index(urlStr, "://")
	if protocolEnd == -1 {
		return "***"
	}
	protocolEnd += 3

	atIdx := strings.Index(urlStr[protocolEnd:], "@")
	if atIdx == -1 {
		return urlStr
	}

	credentials := urlStr[protocolEnd : protocolEnd+atIdx]
	colonIdx := strings.Index(credentials, ":")
	if colonIdx == -1 {
		return urlStr
	}

	username := credentials[:colonIdx]
	return urlStr[:protocolEnd] + username + ":***" + urlStr[protocolEnd+atIdx:]
}
