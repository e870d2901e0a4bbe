package topology

import (
	"context"
	"fmt"
	"time"

	"stationmon/internal/domain"
)

// Mutator is the only write path for node status and sensor readings.
// Params: store created by NewMutator.
// Returns: transactional per-node updates.
type Mutator struct {
	store *Store
}

// NewMutator binds mutator to store.
func NewMutator(store *Store) *Mutator {
	return &Mutator{store: store}
}

// NodeTx is a working copy of one node and its sensors.
// Changes become visible only when the transaction callback returns nil.
type NodeTx struct {
	StationID string
	Node      domain.Node
	Sensors   []domain.Sensor

	onCommit []func()
}

// Sensor returns working copy of one sensor.
func (tx *NodeTx) Sensor(sensorID string) (*domain.Sensor, bool) {
	for i := range tx.Sensors {
		if tx.Sensors[i].ID == sensorID {
			return &tx.Sensors[i], true
		}
	}
	return nil, false
}

// SetSensorReading records current value and reading time.
// Params: sensor id, measured value, and reading timestamp.
// Returns: ErrNotFound when sensor does not belong to node, ErrOutOfOrder when
// at precedes the stored reading (stored value and time are left untouched).
func (tx *NodeTx) SetSensorReading(sensorID string, value float64, at time.Time) error {
	sensor, ok := tx.Sensor(sensorID)
	if !ok {
		return notFound("sensor", sensorID)
	}
	if sensor.LastReading != nil && at.Before(*sensor.LastReading) {
		return fmt.Errorf("sensor %q at %s: %w", sensorID, at.UTC().Format(time.RFC3339Nano), ErrOutOfOrder)
	}
	sensor.CurrentValue = &value
	at = at.UTC()
	sensor.LastReading = &at
	return nil
}

// SetNodeStatus stores derived status.
func (tx *NodeTx) SetNodeStatus(status domain.NodeStatus) {
	tx.Node.Status = status
}

// SetLastOnline stores node last-online time.
func (tx *NodeTx) SetLastOnline(at time.Time) {
	at = at.UTC()
	tx.Node.LastOnline = &at
}

// SetMaintenance stores administrative maintenance flag.
func (tx *NodeTx) SetMaintenance(enabled bool) {
	tx.Node.Maintenance = enabled
}

// OnCommit registers hook executed after commit while node lock is still held.
// Hooks run in registration order and are skipped when the transaction fails.
// Hooks must not call Store lookups for the same node.
func (tx *NodeTx) OnCommit(fn func()) {
	tx.onCommit = append(tx.onCommit, fn)
}

// Update runs one transaction on node.
// Params: context, node id, and callback mutating the working copy.
// Returns: callback error, ErrNotFound for unknown/removed node, or context error.
func (m *Mutator) Update(ctx context.Context, nodeID string, fn func(tx *NodeTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry, ok := m.store.entryFor(nodeID)
	if !ok {
		return notFound("node", nodeID)
	}
	return m.run(ctx, entry, fn)
}

// UpdateBySensor runs one transaction on the node owning sensor.
// Params: context, sensor id, and callback mutating the working copy.
// Returns: callback error, ErrNotFound for unknown sensor, or context error.
func (m *Mutator) UpdateBySensor(ctx context.Context, sensorID string, fn func(tx *NodeTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nodeID, ok := m.store.nodeOfSensor(sensorID)
	if !ok {
		return notFound("sensor", sensorID)
	}
	entry, ok := m.store.entryFor(nodeID)
	if !ok {
		return notFound("sensor", sensorID)
	}
	return m.run(ctx, entry, func(tx *NodeTx) error {
		if _, ok := tx.Sensor(sensorID); !ok {
			return notFound("sensor", sensorID)
		}
		return fn(tx)
	})
}

func (m *Mutator) run(ctx context.Context, entry *nodeEntry, fn func(tx *NodeTx) error) error {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.removed {
		return notFound("node", entry.node.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &NodeTx{
		StationID: entry.stationID,
		Node:      entry.node.Clone(),
		Sensors:   cloneSensors(entry.sensors),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.Sensors) != len(entry.sensors) {
		return fmt.Errorf("node %q transaction changed sensor set", entry.node.ID)
	}

	// Structural fields stay owned by the store.
	tx.Node.ID = entry.node.ID
	tx.Node.LineID = entry.node.LineID
	tx.Node.SensorIDs = entry.node.SensorIDs
	for i := range tx.Sensors {
		tx.Sensors[i].ID = entry.sensors[i].ID
		tx.Sensors[i].NodeID = entry.sensors[i].NodeID
	}
	entry.node = tx.Node.Clone()
	entry.sensors = cloneSensors(tx.Sensors)

	for _, hook := range tx.onCommit {
		hook()
	}
	return nil
}
