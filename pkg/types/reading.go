package types

import "time"

// ReadingKind identifies which sensor a reading came from
type ReadingKind string

const (
	KindTemperature ReadingKind = "temperature"
	KindHumidity    ReadingKind = "humidity"
	KindDistance    ReadingKind = "distance"
	KindTouch       ReadingKind = "touch"
	KindCounter     ReadingKind = "counter"
	KindDevice      ReadingKind = "device"
)

// Reading is one decoded sensor value exported to Prometheus. Boolean
// readings (touch, device on/off) are carried as 0 or 1.
type Reading struct {
	Kind      ReadingKind
	Timestamp time.Time
	Value     float64
	// Source is the backend base URL the reading was polled from
	Source string
	// Device is set for KindDevice readings
	Device string
}

// BoolValue converts a boolean reading to its exported value
func BoolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
