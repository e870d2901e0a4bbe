package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"stationmon/internal/alert"
	"stationmon/internal/clock"
	"stationmon/internal/domain"
	"stationmon/internal/hub"
	"stationmon/internal/metrics"
	"stationmon/internal/topology"
)

const (
	defaultStalenessWindow = 5 * time.Minute
	defaultMaxFutureSkew   = time.Minute
)

var (
	// ErrInvalidValue is returned for NaN or infinite readings.
	ErrInvalidValue = errors.New("reading value must be finite")
	// ErrFutureTimestamp is returned for readings stamped beyond the allowed clock skew.
	ErrFutureTimestamp = errors.New("reading timestamp too far in the future")
)

// AlertRaiser creates alerts for alarming transitions.
type AlertRaiser interface {
	Raise(trigger alert.Trigger) (domain.Alert, error)
}

// Publisher receives status events.
type Publisher interface {
	Publish(event hub.Event) hub.Event
}

// Options configures status engine.
// Params: staleness window (default 5m), max future skew (default 1m), clock, and logger.
// Returns: engine construction settings.
type Options struct {
	StalenessWindow time.Duration
	MaxFutureSkew   time.Duration
	Clock           clock.Clock
	Logger          *slog.Logger
}

// Result describes one accepted reading.
type Result struct {
	Sensor         domain.Sensor     `json:"sensor"`
	NodeStatus     domain.NodeStatus `json:"node_status"`
	PreviousStatus domain.NodeStatus `json:"-"`
	StatusChanged  bool              `json:"status_changed"`
	Alert          *domain.Alert     `json:"alert,omitempty"`
}

// NodeChange describes one node recompute outside the reading path.
type NodeChange struct {
	NodeID         string            `json:"node_id"`
	NodeStatus     domain.NodeStatus `json:"node_status"`
	PreviousStatus domain.NodeStatus `json:"previous_status"`
	StatusChanged  bool              `json:"status_changed"`
	Alert          *domain.Alert     `json:"alert,omitempty"`
}

// Engine applies readings and administrative changes to topology and derives node status.
type Engine struct {
	mutator *topology.Mutator
	nodes   *topology.Store
	alerts  AlertRaiser
	pub     Publisher
	window  time.Duration
	skew    time.Duration
	clock   clock.Clock
	logger  *slog.Logger
}

// NewEngine creates status derivation engine.
// Params: topology store, its mutator, alert raiser, event publisher, and options.
// Returns: engine; the mutator should not be shared with other writers.
func NewEngine(store *topology.Store, mutator *topology.Mutator, alerts AlertRaiser, pub Publisher, opts Options) *Engine {
	if opts.StalenessWindow <= 0 {
		opts.StalenessWindow = defaultStalenessWindow
	}
	if opts.MaxFutureSkew <= 0 {
		opts.MaxFutureSkew = defaultMaxFutureSkew
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		mutator: mutator,
		nodes:   store,
		alerts:  alerts,
		pub:     pub,
		window:  opts.StalenessWindow,
		skew:    opts.MaxFutureSkew,
		clock:   opts.Clock,
		logger:  opts.Logger,
	}
}

// RecordReading stores one reading and recomputes owning node status.
// Params: context, sensor id, value, and reading time (zero uses engine clock).
// Returns: result with optional alert, topology.ErrNotFound for unknown sensors,
// ErrInvalidValue, ErrFutureTimestamp, or topology.ErrOutOfOrder for readings older
// than the stored one; rejected readings leave topology unchanged.
func (e *Engine) RecordReading(ctx context.Context, sensorID string, value float64, ts time.Time) (Result, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		metrics.ReadingsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		return Result{}, fmt.Errorf("sensor %q: %w", sensorID, ErrInvalidValue)
	}
	now := e.clock.Now()
	if ts.IsZero() {
		ts = now
	}
	if ts.After(now.Add(e.skew)) {
		metrics.ReadingsTotal.WithLabelValues(metrics.ResultFuture).Inc()
		return Result{}, fmt.Errorf("sensor %q at %s: %w", sensorID, ts.UTC().Format(time.RFC3339), ErrFutureTimestamp)
	}

	var result Result
	err := e.mutator.UpdateBySensor(ctx, sensorID, func(tx *topology.NodeTx) error {
		if err := tx.SetSensorReading(sensorID, value, ts); err != nil {
			return err
		}
		change := e.recompute(tx, now)
		sensor, _ := tx.Sensor(sensorID)
		result = Result{
			Sensor:         sensor.Clone(),
			NodeStatus:     change.NodeStatus,
			PreviousStatus: change.PreviousStatus,
			StatusChanged:  change.StatusChanged,
		}

		tx.OnCommit(func() {
			e.pub.Publish(hub.NewSensorUpdated(hub.SensorUpdated{
				Sensor:        result.Sensor,
				NodeID:        tx.Node.ID,
				NodeStatus:    result.NodeStatus,
				StatusChanged: result.StatusChanged,
			}))
			if change.StatusChanged {
				e.observeTransition(tx.Node.ID, change)
			}
			if change.StatusChanged && change.NodeStatus.Alarming() {
				result.Alert = e.raise(tx, sensorID, change.NodeStatus)
			}
		})
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, topology.ErrNotFound):
			metrics.ReadingsTotal.WithLabelValues(metrics.ResultNotFound).Inc()
		case errors.Is(err, topology.ErrOutOfOrder):
			metrics.ReadingsTotal.WithLabelValues(metrics.ResultOutOfOrder).Inc()
			e.logger.Debug("out of order reading dropped", "sensor_id", sensorID, "ts", ts)
		default:
			metrics.ReadingsTotal.WithLabelValues(metrics.ResultError).Inc()
		}
		return Result{}, err
	}
	metrics.ReadingsTotal.WithLabelValues(metrics.ResultAccepted).Inc()
	return result, nil
}

// SetMaintenance toggles node maintenance flag and recomputes status.
// Params: context, node id, and desired flag.
// Returns: node change; publishes node.status when status changes and never raises alerts.
func (e *Engine) SetMaintenance(ctx context.Context, nodeID string, enabled bool) (NodeChange, error) {
	now := e.clock.Now()
	var change NodeChange
	err := e.mutator.Update(ctx, nodeID, func(tx *topology.NodeTx) error {
		tx.SetMaintenance(enabled)
		change = e.recompute(tx, now)
		tx.OnCommit(func() {
			if change.StatusChanged {
				e.publishNodeStatus(change)
			}
		})
		return nil
	})
	if err != nil {
		return NodeChange{}, err
	}
	e.logger.Info("node maintenance updated", "node_id", nodeID, "maintenance", enabled, "node_status", change.NodeStatus)
	return change, nil
}

// Sweep recomputes every node against current clock.
// Params: context checked between nodes.
// Returns: changed nodes in topology order, or context error.
func (e *Engine) Sweep(ctx context.Context) ([]NodeChange, error) {
	now := e.clock.Now()
	changes := make([]NodeChange, 0)
	for _, nodeID := range e.nodes.NodeIDs() {
		if err := ctx.Err(); err != nil {
			return changes, err
		}
		var change NodeChange
		err := e.mutator.Update(ctx, nodeID, func(tx *topology.NodeTx) error {
			change = e.recompute(tx, now)
			tx.OnCommit(func() {
				if !change.StatusChanged {
					return
				}
				e.publishNodeStatus(change)
				if change.NodeStatus.Alarming() {
					change.Alert = e.raise(tx, "", change.NodeStatus)
				}
			})
			return nil
		})
		if errors.Is(err, topology.ErrNotFound) {
			continue
		}
		if err != nil {
			return changes, err
		}
		if change.StatusChanged {
			changes = append(changes, change)
		}
	}
	if len(changes) > 0 {
		e.logger.Debug("staleness sweep changed nodes", "count", len(changes))
	}
	return changes, nil
}

// recompute derives and stores node status inside a transaction.
func (e *Engine) recompute(tx *topology.NodeTx, now time.Time) NodeChange {
	previous := tx.Node.Status
	next := Derive(tx.Node, tx.Sensors, now, e.window)
	change := NodeChange{
		NodeID:         tx.Node.ID,
		NodeStatus:     next,
		PreviousStatus: previous,
		StatusChanged:  next != previous,
	}
	tx.SetNodeStatus(next)
	if change.StatusChanged && next != domain.NodeStatusOffline {
		tx.SetLastOnline(now)
	}
	return change
}

func (e *Engine) publishNodeStatus(change NodeChange) {
	e.observeTransition(change.NodeID, change)
	e.pub.Publish(hub.NewNodeStatus(hub.NodeStatusChanged{
		NodeID:     change.NodeID,
		NodeStatus: change.NodeStatus,
		Previous:   change.PreviousStatus,
	}))
}

func (e *Engine) observeTransition(nodeID string, change NodeChange) {
	metrics.NodeStatusTransitions.WithLabelValues(string(change.NodeStatus)).Inc()
	e.logger.Debug("node status changed", "node_id", nodeID, "from", change.PreviousStatus, "to", change.NodeStatus)
}

// raise creates alert for alarming transition; runs under node lock.
func (e *Engine) raise(tx *topology.NodeTx, preferredSensorID string, level domain.NodeStatus) *domain.Alert {
	sensor, ok := TriggeringSensor(tx.Sensors, preferredSensorID, level)
	if !ok {
		e.logger.Warn("no triggering sensor for alarming status", "node_id", tx.Node.ID, "node_status", level)
		return nil
	}
	created, err := e.alerts.Raise(alert.Trigger{
		StationID:  tx.StationID,
		LineID:     tx.Node.LineID,
		Node:       tx.Node.Clone(),
		Sensor:     sensor,
		NodeStatus: level,
	})
	if err != nil {
		e.logger.Error("raise alert failed", "node_id", tx.Node.ID, "sensor_id", sensor.ID, "error", err)
		return nil
	}
	return &created
}
