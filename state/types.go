package state

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the backend's control regime
type Mode int

const (
	// ModeUnknown means no mode has been observed yet
	ModeUnknown Mode = iota
	// ModeManual lets the dashboard drive devices
	ModeManual
	// ModeAuto means the backend drives devices itself
	ModeAuto
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "MANUAL"
	case ModeAuto:
		return "AUTO"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode parses AUTO or MANUAL, case-insensitively
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MANUAL":
		return ModeManual, nil
	case "AUTO":
		return ModeAuto, nil
	default:
		return ModeUnknown, fmt.Errorf("unknown mode %q", s)
	}
}

// Health describes the outcome of the most recent poll of a metric
type Health int

const (
	// HealthPending means the metric has not been polled yet
	HealthPending Health = iota
	// HealthOK means the last poll produced a valid reading
	HealthOK
	// HealthSensorError means the backend answered but the sensor failed
	HealthSensorError
	// HealthConnectionError means the request failed or the body was invalid
	HealthConnectionError
)

func (h Health) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthSensorError:
		return "sensor_error"
	case HealthConnectionError:
		return "connection_error"
	default:
		return "pending"
	}
}

// MarshalText implements encoding.TextMarshaler
func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// Metric names an independently polled piece of state
type Metric string

const (
	MetricDistance Metric = "distance"
	MetricClimate  Metric = "climate"
	MetricTouch    Metric = "touch"
	MetricCounter  Metric = "counter"
	MetricMode     Metric = "mode"
)

// Status is the bookkeeping shared by every metric
type Status struct {
	Health    Health    `json:"health"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Distance is the last distance reading
type Distance struct {
	Status
	Centimeters float64 `json:"centimeters"`
	Measurable  bool    `json:"measurable"`
	Alert       bool    `json:"alert"`
}

// Climate is the last temperature and humidity reading
type Climate struct {
	Status
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// Touch is the last touch sensor reading
type Touch struct {
	Status
	Touched bool `json:"touched"`
}

// Counter is the last counter reading. A failed poll leaves Value on
// screen, so Seen tells whether there is a value at all.
type Counter struct {
	Status
	Value float64 `json:"value"`
	Seen  bool    `json:"seen"`
}

// ModeState is the last observed control regime. A failed mode poll keeps
// the last observed mode and only changes Health.
type ModeState struct {
	Status
	Mode Mode `json:"mode"`
}

// Device is the displayed state of one controllable device
type Device struct {
	Name      string    `json:"name"`
	On        bool      `json:"on"`
	Pending   bool      `json:"pending"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot is an immutable copy of the dashboard state
type Snapshot struct {
	Version  uint64    `json:"version"`
	Distance Distance  `json:"distance"`
	Climate  Climate   `json:"climate"`
	Touch    Touch     `json:"touch"`
	Counter  Counter   `json:"counter"`
	Mode     ModeState `json:"mode"`
	Devices  []Device  `json:"devices"`
}

// Manual reports whether device controls are interactive
func (s Snapshot) Manual() bool {
	return s.Mode.Mode == ModeManual
}

// Device looks up a device by name
func (s Snapshot) Device(name string) (Device, bool) {
	for _, d := range s.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}
