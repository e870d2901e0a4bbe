package domain

import "time"

// AlertSeverity ranks alert urgency.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertState is the processing lifecycle state.
// Params: unprocessed/acknowledged/in_progress/resolved/closed constants.
// Returns: state used by transition checks and subscribers.
type AlertState string

const (
	// AlertStateUnprocessed is the initial state after creation.
	AlertStateUnprocessed AlertState = "unprocessed"
	// AlertStateAcknowledged marks that an operator has seen the alert.
	AlertStateAcknowledged AlertState = "acknowledged"
	// AlertStateInProgress marks active handling.
	AlertStateInProgress AlertState = "in_progress"
	// AlertStateResolved marks the underlying issue as handled.
	AlertStateResolved AlertState = "resolved"
	// AlertStateClosed is terminal; closed alerts are immutable.
	AlertStateClosed AlertState = "closed"
)

// AlertSource references topology entities by id.
// Params: station/line/node/sensor ids captured at creation.
// Returns: weak reference that survives topology removal.
type AlertSource struct {
	StationID string `json:"station_id"`
	LineID    string `json:"line_id"`
	NodeID    string `json:"node_id"`
	SensorID  string `json:"sensor_id"`
}

// AlertTrigger snapshots the condition that raised an alert.
type AlertTrigger struct {
	NodeStatus NodeStatus `json:"node_status"`
	SensorType SensorType `json:"sensor_type"`
	Value      *float64   `json:"value,omitempty"`
	Threshold  *float64   `json:"threshold,omitempty"`
	Unit       string     `json:"unit,omitempty"`
}

// Note is one append-only operator comment.
type Note struct {
	Author string    `json:"author"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Alert is one tracked incident.
// Params: identity, severity, lifecycle timestamps/actors, source reference, and notes.
// Returns: alert snapshot for API and subscribers.
type Alert struct {
	ID             string        `json:"id"`
	Severity       AlertSeverity `json:"severity"`
	State          AlertState    `json:"state"`
	Category       string        `json:"category"`
	Message        string        `json:"message"`
	Source         AlertSource   `json:"source"`
	Trigger        AlertTrigger  `json:"trigger"`
	CreatedAt      time.Time     `json:"created_at"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string        `json:"acknowledged_by,omitempty"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	StartedBy      string        `json:"started_by,omitempty"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy     string        `json:"resolved_by,omitempty"`
	ClosedAt       *time.Time    `json:"closed_at,omitempty"`
	ClosedBy       string        `json:"closed_by,omitempty"`
	Notes          []Note        `json:"notes"`
}

// Clone returns a deep copy of alert.
func (a Alert) Clone() Alert {
	out := a
	out.Trigger.Value = cloneFloat(a.Trigger.Value)
	out.Trigger.Threshold = cloneFloat(a.Trigger.Threshold)
	out.AcknowledgedAt = cloneTime(a.AcknowledgedAt)
	out.StartedAt = cloneTime(a.StartedAt)
	out.ResolvedAt = cloneTime(a.ResolvedAt)
	out.ClosedAt = cloneTime(a.ClosedAt)
	out.Notes = append(make([]Note, 0, len(a.Notes)), a.Notes...)
	return out
}
