package cloud

import "context"

// Device status values reported by the cloud API.
const (
	StatusOff     = 0
	StatusOn      = 1
	StatusOffline = 2
)

// PTZ command phases. A single PTZ nudge is START immediately followed by STOP.
const (
	PTZStart = "START"
	PTZStop  = "STOP"
)

// Region base URLs for the cloud API.
const (
	EUCloudURL     = "https://apiieu.ezvizlife.com"
	RussiaCloudURL = "https://apirus.ezvizru.com"
)

// Device is one entry from the cloud device list.
type Device struct {
	Serial        string `json:"serial"`
	Name          string `json:"name"`
	Status        int    `json:"status"`
	LocalIP       string `json:"local_ip"`
	LocalRTSPPort int    `json:"local_rtsp_port"`
	AlarmNotify   bool   `json:"alarm_notify"`
}

// Client is the fixed method surface of the vendor cloud API.
// Implementations report failures using the closed error set in errors.go.
type Client interface {
	// LoadAllDevices fetches the full device list, keyed by serial.
	LoadAllDevices(ctx context.Context) (map[string]Device, error)

	// SetDefenceMode arms (1) or disarms (0) motion detection on a device.
	SetDefenceMode(ctx context.Context, serial string, flag int) error

	// PTZControl issues one PTZ command phase (START or STOP) for a direction and speed.
	PTZControl(ctx context.Context, direction, serial, command string, speed int) error

	// SoundAlarm triggers (non-zero) or clears (0) the audible alarm.
	SoundAlarm(ctx context.Context, serial string, flag int) error

	// AlarmSound sets the alarm sound level for the given alarm mode.
	AlarmSound(ctx context.Context, serial string, level, mode int) error

	// DetectionSensibility sets the sensitivity threshold for a detection type.
	DetectionSensibility(ctx context.Context, serial string, level, typeValue int) error

	// GetDetectionSensibility queries the current sensitivity threshold.
	GetDetectionSensibility(ctx context.Context, serial string) (int, error)
}
