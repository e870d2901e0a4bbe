package domain

import (
	"fmt"
	"strings"
	"time"
)

// NodeStatus is derived node health.
// Params: online/warning/critical/offline/maintenance constants.
// Returns: status value published to subscribers and used for alert triggers.
type NodeStatus string

const (
	// NodeStatusOnline means every fresh sensor is below its thresholds.
	NodeStatusOnline NodeStatus = "online"
	// NodeStatusWarning means at least one sensor reached its warning threshold.
	NodeStatusWarning NodeStatus = "warning"
	// NodeStatusCritical means at least one sensor reached its critical threshold.
	NodeStatusCritical NodeStatus = "critical"
	// NodeStatusOffline means no enabled sensor reported within the staleness window.
	NodeStatusOffline NodeStatus = "offline"
	// NodeStatusMaintenance is set administratively and overrides derivation.
	NodeStatusMaintenance NodeStatus = "maintenance"
)

// Alarming reports whether status qualifies for alert creation.
func (s NodeStatus) Alarming() bool {
	return s == NodeStatusWarning || s == NodeStatusCritical
}

// LineStatus is administrative line state, independent of node health.
type LineStatus string

const (
	LineStatusActive      LineStatus = "active"
	LineStatusInactive    LineStatus = "inactive"
	LineStatusMaintenance LineStatus = "maintenance"
)

// ParseLineStatus normalizes configured line status.
// Params: raw value; empty maps to active.
// Returns: line status or error for unknown values.
func ParseLineStatus(value string) (LineStatus, error) {
	switch LineStatus(strings.ToLower(strings.TrimSpace(value))) {
	case "", LineStatusActive:
		return LineStatusActive, nil
	case LineStatusInactive:
		return LineStatusInactive, nil
	case LineStatusMaintenance:
		return LineStatusMaintenance, nil
	default:
		return "", fmt.Errorf("unsupported line status %q", value)
	}
}

// SensorType identifies measurement channel kind.
type SensorType string

const (
	SensorRadar       SensorType = "radar"
	SensorVibration   SensorType = "vibration"
	SensorSmokeFire   SensorType = "smoke_fire"
	SensorTemperature SensorType = "temperature"
	SensorHumidity    SensorType = "humidity"
	SensorGas         SensorType = "gas"
	SensorPressure    SensorType = "pressure"
	SensorWaterLevel  SensorType = "water_level"
	SensorMotion      SensorType = "motion"
)

var sensorTypes = map[SensorType]struct{}{
	SensorRadar:       {},
	SensorVibration:   {},
	SensorSmokeFire:   {},
	SensorTemperature: {},
	SensorHumidity:    {},
	SensorGas:         {},
	SensorPressure:    {},
	SensorWaterLevel:  {},
	SensorMotion:      {},
}

// ParseSensorType normalizes configured sensor type.
// Params: raw type name (case-insensitive).
// Returns: sensor type or error for unknown values.
func ParseSensorType(value string) (SensorType, error) {
	normalized := SensorType(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := sensorTypes[normalized]; !ok {
		return "", fmt.Errorf("unsupported sensor type %q", value)
	}
	return normalized, nil
}

// LifeSafety reports whether sensor type always escalates alerts to critical severity.
func (t SensorType) LifeSafety() bool {
	return t == SensorSmokeFire || t == SensorGas
}

// GeoPoint is one WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox is a station geographic extent.
type BoundingBox struct {
	Min GeoPoint `json:"min"`
	Max GeoPoint `json:"max"`
}

// Station is the top-level monitored site.
// Params: identity, bounding box, and ordered line ids.
// Returns: station snapshot.
type Station struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Bounds  BoundingBox `json:"bounds"`
	LineIDs []string    `json:"line_ids"`
}

// Line is one monitored run with ordered nodes.
// Params: identity, parent station, administrative status, geometry, and ordered node ids.
// Returns: line snapshot.
type Line struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	Name      string     `json:"name"`
	StationID string     `json:"station_id"`
	Status    LineStatus `json:"status"`
	LengthM   float64    `json:"length_m"`
	Start     GeoPoint   `json:"start"`
	End       GeoPoint   `json:"end"`
	NodeIDs   []string   `json:"node_ids"`
}

// Node is one physical monitoring point.
// Params: identity, parent line, position, hardware metadata, maintenance flag, and derived status.
// Returns: node snapshot.
type Node struct {
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	LineID      string     `json:"line_id"`
	Position    GeoPoint   `json:"position"`
	Battery     float64    `json:"battery"`
	Signal      float64    `json:"signal"`
	LastOnline  *time.Time `json:"last_online,omitempty"`
	Hub         bool       `json:"hub"`
	CameraID    string     `json:"camera_id,omitempty"`
	Maintenance bool       `json:"maintenance"`
	Status      NodeStatus `json:"status"`
	SensorIDs   []string   `json:"sensor_ids"`
}

// Sensor is one measurement channel.
// Params: identity, type, unit, optional thresholds, last reading, and enabled flag.
// Returns: sensor snapshot.
type Sensor struct {
	ID                string     `json:"id"`
	NodeID            string     `json:"node_id"`
	Type              SensorType `json:"type"`
	Unit              string     `json:"unit"`
	WarningThreshold  *float64   `json:"warning_threshold,omitempty"`
	CriticalThreshold *float64   `json:"critical_threshold,omitempty"`
	CurrentValue      *float64   `json:"current_value,omitempty"`
	LastReading       *time.Time `json:"last_reading,omitempty"`
	Enabled           bool       `json:"enabled"`
}

// Level returns the threshold level reached by current value.
// Params: none.
// Returns: critical, warning, or online when no threshold is reached or no value exists.
func (s Sensor) Level() NodeStatus {
	if s.CurrentValue == nil {
		return NodeStatusOnline
	}
	value := *s.CurrentValue
	if s.CriticalThreshold != nil && value >= *s.CriticalThreshold {
		return NodeStatusCritical
	}
	if s.WarningThreshold != nil && value >= *s.WarningThreshold {
		return NodeStatusWarning
	}
	return NodeStatusOnline
}

// ThresholdFor returns the threshold matching an alarming level.
// Params: warning or critical level.
// Returns: threshold pointer or nil.
func (s Sensor) ThresholdFor(level NodeStatus) *float64 {
	switch level {
	case NodeStatusCritical:
		return s.CriticalThreshold
	case NodeStatusWarning:
		return s.WarningThreshold
	default:
		return nil
	}
}

// Clone returns a copy that shares no pointers with the receiver.
func (s Sensor) Clone() Sensor {
	out := s
	out.WarningThreshold = cloneFloat(s.WarningThreshold)
	out.CriticalThreshold = cloneFloat(s.CriticalThreshold)
	out.CurrentValue = cloneFloat(s.CurrentValue)
	out.LastReading = cloneTime(s.LastReading)
	return out
}

// Clone returns a copy that shares no pointers or slices with the receiver.
func (n Node) Clone() Node {
	out := n
	out.LastOnline = cloneTime(n.LastOnline)
	out.SensorIDs = append([]string(nil), n.SensorIDs...)
	return out
}

// Clone returns a copy with an independent node id slice.
func (l Line) Clone() Line {
	out := l
	out.NodeIDs = append([]string(nil), l.NodeIDs...)
	return out
}

// Clone returns a copy with an independent line id slice.
func (s Station) Clone() Station {
	out := s
	out.LineIDs = append([]string(nil), s.LineIDs...)
	return out
}

func cloneFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
