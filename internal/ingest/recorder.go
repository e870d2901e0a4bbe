package ingest

import (
	"context"
	"errors"
	"time"

	"stationmon/internal/domain"
	"stationmon/internal/status"
	"stationmon/internal/topology"
)

// Recorder applies one reading to topology.
// Params: context, sensor id, value, and reading time.
// Returns: derivation result or topology.ErrNotFound for unknown sensor.
type Recorder interface {
	RecordReading(ctx context.Context, sensorID string, value float64, ts time.Time) (status.Result, error)
}

// BatchItem is one per-reading outcome in a batch response.
type BatchItem struct {
	SensorID      string            `json:"sensor_id"`
	Found         bool              `json:"found"`
	Sensor        *domain.Sensor    `json:"sensor,omitempty"`
	NodeStatus    domain.NodeStatus `json:"node_status,omitempty"`
	StatusChanged bool              `json:"status_changed"`
	Alert         *domain.Alert     `json:"alert,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// recordBatch applies readings in order and never stops on per-reading failures.
// Params: context, recorder, and readings; missing timestamps use the engine clock.
// Returns: one item per reading and the first retryable error.
func recordBatch(ctx context.Context, rec Recorder, readings []domain.Reading) ([]BatchItem, error) {
	items := make([]BatchItem, 0, len(readings))
	var firstErr error
	for _, reading := range readings {
		item := BatchItem{SensorID: reading.SensorID}
		result, err := rec.RecordReading(ctx, reading.SensorID, *reading.Value, reading.At(time.Time{}))
		switch {
		case err == nil:
			sensor := result.Sensor
			item.Found = true
			item.Sensor = &sensor
			item.NodeStatus = result.NodeStatus
			item.StatusChanged = result.StatusChanged
			item.Alert = result.Alert
		case errors.Is(err, topology.ErrNotFound):
		case errors.Is(err, status.ErrInvalidValue),
			errors.Is(err, status.ErrFutureTimestamp),
			errors.Is(err, topology.ErrOutOfOrder):
			item.Found = true
			item.Error = err.Error()
		default:
			item.Found = true
			item.Error = err.Error()
			if firstErr == nil {
				firstErr = err
			}
		}
		items = append(items, item)
	}
	return items, firstErr
}
