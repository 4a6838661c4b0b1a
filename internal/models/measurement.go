package models

import (
	"encoding/json"
	"math"
	"time"
)

// Measurement represents one network quality sample.
// An offline reading uses SpeedKbps 0 and LatencyMs +Inf.
type Measurement struct {
	SpeedKbps float64   `json:"speed_kbps"`
	LatencyMs float64   `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// WireLatencyMs returns LatencyMs in a JSON-safe form. JSON has no +Inf,
// so the offline sentinel encodes as -1 on the wire while staying +Inf
// in memory.
func (m *Measurement) WireLatencyMs() float64 {
	if math.IsInf(m.LatencyMs, 1) {
		return -1
	}
	return m.LatencyMs
}

// MarshalJSON encodes the measurement with the wire form of LatencyMs.
func (m Measurement) MarshalJSON() ([]byte, error) {
	type wire struct {
		SpeedKbps float64   `json:"speed_kbps"`
		LatencyMs float64   `json:"latency_ms"`
		Timestamp time.Time `json:"timestamp"`
	}
	return json.Marshal(wire{
		SpeedKbps: m.SpeedKbps,
		LatencyMs: m.WireLatencyMs(),
		Timestamp: m.Timestamp,
	})
}
