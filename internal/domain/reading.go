package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Reading is one externally submitted sensor measurement.
// Params: sensor id, numeric value, and optional measurement timestamp.
// Returns: validated reading for the status engine.
type Reading struct {
	SensorID string     `json:"sensor_id"`
	Value    *float64   `json:"value"`
	TS       *time.Time `json:"ts,omitempty"`
}

// At returns reading timestamp or fallback when absent.
// Params: fallback time used when TS is not set.
// Returns: measurement time in UTC.
func (r Reading) At(fallback time.Time) time.Time {
	if r.TS == nil || r.TS.IsZero() {
		return fallback
	}
	return r.TS.UTC()
}

// DecodeReading decodes and validates one reading payload.
// Params: JSON document bytes.
// Returns: validated reading or decode/validation error.
func DecodeReading(raw []byte) (Reading, error) {
	var reading Reading
	if err := json.Unmarshal(raw, &reading); err != nil {
		return Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	if err := reading.Validate(); err != nil {
		return Reading{}, err
	}
	return reading, nil
}

// DecodeReadingReader decodes and validates one reading from stream.
// Params: decoder positioned at one JSON object.
// Returns: validated reading or decode/validation error.
func DecodeReadingReader(reader *json.Decoder) (Reading, error) {
	var reading Reading
	if err := reader.Decode(&reading); err != nil {
		return Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	if err := reading.Validate(); err != nil {
		return Reading{}, err
	}
	return reading, nil
}

// DecodeReadingsReader decodes and validates one batch of readings.
// Params: decoder positioned at one JSON array.
// Returns: validated readings or decode/validation error.
func DecodeReadingsReader(reader *json.Decoder) ([]Reading, error) {
	var readings []Reading
	if err := reader.Decode(&readings); err != nil {
		return nil, fmt.Errorf("decode reading batch: %w", err)
	}
	if len(readings) == 0 {
		return nil, errors.New("reading batch must contain at least one reading")
	}
	for i := range readings {
		if err := readings[i].Validate(); err != nil {
			return nil, fmt.Errorf("reading[%d]: %w", i, err)
		}
	}
	return readings, nil
}

// Validate checks the reading contract.
// Params: reading fields parsed from transport.
// Returns: validation error when sensor id or value is missing.
func (r Reading) Validate() error {
	if strings.TrimSpace(r.SensorID) == "" {
		return errors.New("sensor_id is required")
	}
	if r.Value == nil {
		return errors.New("value is required")
	}
	return nil
}
