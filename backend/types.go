package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Variant selects which backend profile the dashboard talks to. The
// profiles come from unrelated front-ends and are never assumed to share a
// backend: /gettouch means "touch sensor" for VariantSensors and "manual
// mode flag" for VariantSwitches.
type Variant string

const (
	// VariantSensors polls counter, distance, touch and climate; no controls
	VariantSensors Variant = "sensors"
	// VariantSwitches polls distance and climate, reads the mode flag from
	// /gettouch and drives devices through GET /{index}/{0|1}
	VariantSwitches Variant = "switches"
	// VariantSnapshot polls the consolidated /data document and drives
	// devices through POST /control and /toggle_mode
	VariantSnapshot Variant = "snapshot"
)

// ParseVariant parses a variant name
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantSensors, VariantSwitches, VariantSnapshot:
		return v, nil
	default:
		return "", fmt.Errorf("unknown variant %q (expected sensors, switches or snapshot)", s)
	}
}

// HasMode reports whether the variant polls a manual/auto mode
func (v Variant) HasMode() bool {
	return v == VariantSwitches || v == VariantSnapshot
}

// HasControls reports whether the variant exposes device toggles
func (v Variant) HasControls() bool {
	return v == VariantSwitches || v == VariantSnapshot
}

// CanToggleMode reports whether the backend accepts mode toggle commands
func (v Variant) CanToggleMode() bool {
	return v == VariantSnapshot
}

// Device is a controllable appliance. Index addresses it on the legacy
// /{index}/{state} endpoint.
type Device struct {
	Name  string `yaml:"name"`
	Index int    `yaml:"index"`
}

// DefaultDevices returns the devices each variant's front-end wired up
func DefaultDevices(v Variant) []Device {
	switch v {
	case VariantSwitches:
		return []Device{{Name: "aircon", Index: 0}, {Name: "heater", Index: 1}, {Name: "humidifier", Index: 2}}
	case VariantSnapshot:
		return []Device{{Name: "aircon", Index: 0}, {Name: "heater", Index: 1}, {Name: "dehumidifier", Index: 2}}
	default:
		return nil
	}
}

// OutOfRange is the string the backend reports for an unmeasurable distance
const OutOfRange = "Out of Range"

// DistanceValue is either a distance in centimetres or unmeasurable. The
// backend encodes unmeasurable as the string "Out of Range" or the number -1.
type DistanceValue struct {
	Centimeters float64
	Measurable  bool
}

// UnmarshalJSON implements json.Unmarshaler
func (d *DistanceValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = DistanceValue{}
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == OutOfRange {
			*d = DistanceValue{}
			return nil
		}
		return fmt.Errorf("unexpected distance value %q", s)
	}

	var cm float64
	if err := json.Unmarshal(data, &cm); err != nil {
		return fmt.Errorf("unexpected distance value %s: %w", data, err)
	}
	*d = DistanceValue{Centimeters: cm, Measurable: cm != -1}
	return nil
}

// DistanceResponse is the body of GET /getdistance
type DistanceResponse struct {
	Value DistanceValue `json:"value"`
	Alert bool          `json:"alert"`
}

// ClimateResponse is the body of GET /gettemperature
type ClimateResponse struct {
	Status      string   `json:"status"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Message     string   `json:"message,omitempty"`
}

// OK reports whether the sensor produced a usable reading
func (c *ClimateResponse) OK() bool {
	return c.Status == "success" && c.Temperature != nil && c.Humidity != nil
}

// Flag is an integer flag the backend may send as a number, a boolean or a
// numeric string.
type Flag struct {
	Value int
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = Flag{}
	case bytes.Equal(data, []byte("true")):
		*f = Flag{Value: 1, Set: true}
	case bytes.Equal(data, []byte("false")):
		*f = Flag{Value: 0, Set: true}
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("flag %q is not numeric", s)
		}
		*f = Flag{Value: int(n), Set: n == float64(int(n))}
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unexpected flag value %s: %w", data, err)
		}
		*f = Flag{Value: int(n), Set: n == float64(int(n))}
	}
	return nil
}

// TouchResponse is the body of GET /gettouch. Sensor backends fill Touched,
// switch backends fill CurrentState (1 = manual).
type TouchResponse struct {
	Touched      bool `json:"touched"`
	CurrentState Flag `json:"current_state"`
}

// Manual reports whether the mode flag says manual control
func (t *TouchResponse) Manual() bool {
	return t.CurrentState.Set && t.CurrentState.Value == 1
}

// CounterResponse is the body of GET /getcounter
type CounterResponse struct {
	Value float64 `json:"value"`
}

// SnapshotResponse is the body of GET /data
type SnapshotResponse struct {
	Sensors SnapshotSensors `json:"sensors"`
	Status  SnapshotStatus  `json:"status"`
}

// SnapshotSensors holds the consolidated sensor readings
type SnapshotSensors struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Distance    float64 `json:"distance"`
}

// SnapshotStatus holds the control regime and device states
type SnapshotStatus struct {
	Mode    string            `json:"mode"`
	Devices map[string]string `json:"devices"`
}

// DeviceStates converts "ON"/"OFF" strings to booleans; other values are
// dropped.
func (s *SnapshotStatus) DeviceStates() map[string]bool {
	states := make(map[string]bool, len(s.Devices))
	for name, v := range s.Devices {
		switch strings.ToUpper(v) {
		case "ON":
			states[name] = true
		case "OFF":
			states[name] = false
		}
	}
	return states
}

// Action returns the ON/OFF action string for a desired state
func Action(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// CommandResult is the optional body of /control and /toggle_mode answers
type CommandResult struct {
	Success *bool  `json:"success"`
	Message string `json:"message,omitempty"`
	Mode    string `json:"mode,omitempty"`
}
