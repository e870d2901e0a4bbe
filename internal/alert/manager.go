package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"stationmon/internal/clock"
	"stationmon/internal/domain"
	"stationmon/internal/hub"
	"stationmon/internal/metrics"
	"stationmon/internal/templatefmt"

	"github.com/google/uuid"
)

// Publisher receives alert events.
type Publisher interface {
	Publish(event hub.Event) hub.Event
}

// Options configures alert manager.
// Params: clock, logger, message template, and id generator (defaults to UUIDv4).
// Returns: manager construction settings.
type Options struct {
	Clock    clock.Clock
	Logger   *slog.Logger
	Template *template.Template
	NewID    func() string
}

// Trigger describes the status transition that raises an alert.
// Params: owning station/line ids, node snapshot, triggering sensor, and new node status.
// Returns: input for Manager.Raise.
type Trigger struct {
	StationID  string
	LineID     string
	Node       domain.Node
	Sensor     domain.Sensor
	NodeStatus domain.NodeStatus
}

// Filter selects alerts in List; zero fields match everything.
type Filter struct {
	State    domain.AlertState
	Severity domain.AlertSeverity
	NodeID   string
}

// Manager owns alert creation and lifecycle transitions.
type Manager struct {
	store    *Store
	pub      Publisher
	clock    clock.Clock
	logger   *slog.Logger
	template *template.Template
	newID    func() string
}

// NewManager creates alert lifecycle manager.
// Params: store, event publisher, and options.
// Returns: manager ready to raise and transition alerts.
func NewManager(store *Store, pub Publisher, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Template == nil {
		opts.Template = template.Must(templatefmt.ParseAlertTemplate("default", templatefmt.DefaultAlertMessage))
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Manager{
		store:    store,
		pub:      pub,
		clock:    opts.Clock,
		logger:   opts.Logger,
		template: opts.Template,
		newID:    opts.NewID,
	}
}

// SeverityFor maps node status and sensor type to alert severity.
// Params: alarming node status and triggering sensor type.
// Returns: critical for life-safety sensors, high for critical status, medium otherwise.
func SeverityFor(status domain.NodeStatus, sensorType domain.SensorType) domain.AlertSeverity {
	if sensorType.LifeSafety() {
		return domain.SeverityCritical
	}
	if status == domain.NodeStatusCritical {
		return domain.SeverityHigh
	}
	return domain.SeverityMedium
}

// Raise creates exactly one unprocessed alert for trigger and publishes alert.created.
// Params: trigger captured by status derivation.
// Returns: created alert or validation error.
func (m *Manager) Raise(trigger Trigger) (domain.Alert, error) {
	if trigger.Node.ID == "" {
		return domain.Alert{}, fmt.Errorf("raise: node id is required: %w", ErrValidation)
	}
	if !trigger.NodeStatus.Alarming() {
		return domain.Alert{}, fmt.Errorf("raise: status %s is not alarming: %w", trigger.NodeStatus, ErrValidation)
	}

	sensor := trigger.Sensor
	alert := domain.Alert{
		ID:       m.newID(),
		Severity: SeverityFor(trigger.NodeStatus, sensor.Type),
		State:    domain.AlertStateUnprocessed,
		Category: string(sensor.Type),
		Source: domain.AlertSource{
			StationID: trigger.StationID,
			LineID:    trigger.LineID,
			NodeID:    trigger.Node.ID,
			SensorID:  sensor.ID,
		},
		Trigger: domain.AlertTrigger{
			NodeStatus: trigger.NodeStatus,
			SensorType: sensor.Type,
			Value:      sensor.Clone().CurrentValue,
			Threshold:  sensor.Clone().ThresholdFor(trigger.NodeStatus),
			Unit:       sensor.Unit,
		},
		CreatedAt: m.clock.Now(),
		Notes:     []domain.Note{},
	}
	alert.Message = m.renderMessage(alert, trigger.Node)

	err := m.store.Insert(alert, func(created domain.Alert) {
		m.pub.Publish(hub.NewAlertCreated(created))
	})
	if err != nil {
		return domain.Alert{}, err
	}
	metrics.AlertsCreated.WithLabelValues(string(alert.Severity)).Inc()
	m.logger.Info("alert raised",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"node_id", alert.Source.NodeID,
		"sensor_id", alert.Source.SensorID,
		"node_status", trigger.NodeStatus,
	)
	return alert, nil
}

func (m *Manager) renderMessage(alert domain.Alert, node domain.Node) string {
	data := templatefmt.AlertMessageData{
		AlertID:    alert.ID,
		Severity:   string(alert.Severity),
		StationID:  alert.Source.StationID,
		LineID:     alert.Source.LineID,
		NodeID:     node.ID,
		NodeName:   node.Name,
		SensorID:   alert.Source.SensorID,
		SensorType: string(alert.Trigger.SensorType),
		NodeStatus: string(alert.Trigger.NodeStatus),
		Unit:       alert.Trigger.Unit,
		Value:      alert.Trigger.Value,
		Threshold:  alert.Trigger.Threshold,
	}
	message, err := templatefmt.Render(m.template, data)
	if err != nil {
		m.logger.Warn("alert message render failed", "alert_id", alert.ID, "error", err)
		return fmt.Sprintf("%s %s on node %s", alert.Trigger.SensorType, alert.Trigger.NodeStatus, node.ID)
	}
	return message
}

type transition struct {
	to            domain.AlertState
	from          []domain.AlertState
	actorRequired bool
}

var (
	toAcknowledged = transition{to: domain.AlertStateAcknowledged, from: []domain.AlertState{domain.AlertStateUnprocessed}, actorRequired: true}
	toInProgress   = transition{to: domain.AlertStateInProgress, from: []domain.AlertState{domain.AlertStateAcknowledged}}
	toResolved     = transition{to: domain.AlertStateResolved, from: []domain.AlertState{domain.AlertStateAcknowledged, domain.AlertStateInProgress}, actorRequired: true}
	toClosed       = transition{to: domain.AlertStateClosed, from: []domain.AlertState{domain.AlertStateResolved}}
)

func (t transition) allows(from domain.AlertState) bool {
	for _, state := range t.from {
		if state == from {
			return true
		}
	}
	return false
}

// Acknowledge moves unprocessed alert to acknowledged; actor is required.
func (m *Manager) Acknowledge(ctx context.Context, id, actor string) (domain.Alert, error) {
	return m.transition(ctx, id, actor, toAcknowledged)
}

// Start moves acknowledged alert to in_progress; actor is optional.
func (m *Manager) Start(ctx context.Context, id, actor string) (domain.Alert, error) {
	return m.transition(ctx, id, actor, toInProgress)
}

// Resolve moves acknowledged or in_progress alert to resolved; actor is required.
func (m *Manager) Resolve(ctx context.Context, id, actor string) (domain.Alert, error) {
	return m.transition(ctx, id, actor, toResolved)
}

// Close moves resolved alert to terminal closed state; actor is optional.
func (m *Manager) Close(ctx context.Context, id, actor string) (domain.Alert, error) {
	return m.transition(ctx, id, actor, toClosed)
}

// transition applies one lifecycle move.
// Params: context, alert id, actor, and transition rule.
// Returns: updated alert, ErrNotFound, or *InvalidTransitionError; failures mutate nothing.
func (m *Manager) transition(ctx context.Context, id, actor string, rule transition) (domain.Alert, error) {
	if err := ctx.Err(); err != nil {
		return domain.Alert{}, err
	}
	actor = strings.TrimSpace(actor)

	updated, _, err := m.store.Update(id, func(alert *domain.Alert) error {
		if !rule.allows(alert.State) {
			return &InvalidTransitionError{AlertID: id, From: alert.State, To: rule.to}
		}
		if rule.actorRequired && actor == "" {
			return &InvalidTransitionError{AlertID: id, From: alert.State, To: rule.to, Reason: "actor is required"}
		}

		now := m.clock.Now()
		alert.State = rule.to
		switch rule.to {
		case domain.AlertStateAcknowledged:
			alert.AcknowledgedAt, alert.AcknowledgedBy = &now, actor
		case domain.AlertStateInProgress:
			alert.StartedAt, alert.StartedBy = &now, actor
		case domain.AlertStateResolved:
			alert.ResolvedAt, alert.ResolvedBy = &now, actor
		case domain.AlertStateClosed:
			alert.ClosedAt, alert.ClosedBy = &now, actor
		}
		return nil
	}, func(committed domain.Alert) {
		m.pub.Publish(hub.NewAlertTransitioned(committed))
	})
	if err != nil {
		return domain.Alert{}, err
	}

	metrics.AlertTransitions.WithLabelValues(string(rule.to)).Inc()
	m.logger.Info("alert transitioned", "alert_id", id, "state", rule.to, "actor", actor)
	return updated, nil
}

// AddNote appends operator note and publishes alert.transitioned with unchanged state.
// Params: context, alert id, author, and non-empty text.
// Returns: updated alert, ErrNotFound for missing or closed alert, or ErrValidation.
func (m *Manager) AddNote(ctx context.Context, id, author, text string) (domain.Alert, error) {
	if err := ctx.Err(); err != nil {
		return domain.Alert{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Alert{}, fmt.Errorf("note text is required: %w", ErrValidation)
	}

	updated, _, err := m.store.Update(id, func(alert *domain.Alert) error {
		if alert.State == domain.AlertStateClosed {
			return fmt.Errorf("alert %q is closed: %w", id, ErrNotFound)
		}
		alert.Notes = append(alert.Notes, domain.Note{
			Author: strings.TrimSpace(author),
			Text:   text,
			At:     m.clock.Now(),
		})
		return nil
	}, func(committed domain.Alert) {
		m.pub.Publish(hub.NewAlertTransitioned(committed))
	})
	if err != nil {
		return domain.Alert{}, err
	}
	m.logger.Debug("alert note added", "alert_id", id, "author", author)
	return updated, nil
}

// Get returns alert by id.
func (m *Manager) Get(id string) (domain.Alert, error) {
	alert, _, err := m.store.Get(id)
	return alert, err
}

// List returns alerts matching filter in creation order.
func (m *Manager) List(filter Filter) []domain.Alert {
	return m.store.List(func(alert domain.Alert) bool {
		if filter.State != "" && alert.State != filter.State {
			return false
		}
		if filter.Severity != "" && alert.Severity != filter.Severity {
			return false
		}
		if filter.NodeID != "" && alert.Source.NodeID != filter.NodeID {
			return false
		}
		return true
	})
}
