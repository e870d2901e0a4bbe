package hub

import (
	"time"

	"stationmon/internal/domain"
)

// Kind names one event type.
type Kind string

const (
	KindSensorUpdated     Kind = "sensor.updated"
	KindNodeStatus        Kind = "node.status"
	KindAlertCreated      Kind = "alert.created"
	KindAlertTransitioned Kind = "alert.transitioned"
)

// Event is one hub message.
// Params: kind and payload set by publisher; ID, Seq, and At assigned by hub.
// Returns: immutable event delivered to subscribers.
type Event struct {
	ID      string    `json:"id"`
	Seq     uint64    `json:"seq"`
	Kind    Kind      `json:"kind"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// SensorUpdated is payload for KindSensorUpdated.
type SensorUpdated struct {
	Sensor        domain.Sensor     `json:"sensor"`
	NodeID        string            `json:"node_id"`
	NodeStatus    domain.NodeStatus `json:"node_status"`
	StatusChanged bool              `json:"status_changed"`
}

// NodeStatusChanged is payload for KindNodeStatus.
type NodeStatusChanged struct {
	NodeID     string            `json:"node_id"`
	NodeStatus domain.NodeStatus `json:"node_status"`
	Previous   domain.NodeStatus `json:"previous"`
}

// AlertChanged is payload for KindAlertCreated and KindAlertTransitioned.
type AlertChanged struct {
	Alert domain.Alert `json:"alert"`
}

// NewSensorUpdated builds sensor.updated event.
func NewSensorUpdated(payload SensorUpdated) Event {
	return Event{Kind: KindSensorUpdated, Payload: payload}
}

// NewNodeStatus builds node.status event.
func NewNodeStatus(payload NodeStatusChanged) Event {
	return Event{Kind: KindNodeStatus, Payload: payload}
}

// NewAlertCreated builds alert.created event.
func NewAlertCreated(alert domain.Alert) Event {
	return Event{Kind: KindAlertCreated, Payload: AlertChanged{Alert: alert}}
}

// NewAlertTransitioned builds alert.transitioned event.
func NewAlertTransitioned(alert domain.Alert) Event {
	return Event{Kind: KindAlertTransitioned, Payload: AlertChanged{Alert: alert}}
}
