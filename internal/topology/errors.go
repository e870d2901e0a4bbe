package topology

import (
	"errors"
	"fmt"

	"stationmon/internal/templatefmt"
)

var (
	// ErrNotFound is returned when a station, line, node, or sensor id is unknown.
	ErrNotFound = errors.New("topology entity not found")
	// ErrStaleConfiguration is returned when provisioning data violates topology invariants.
	ErrStaleConfiguration = errors.New("stale topology configuration")
	// ErrOutOfOrder is returned when a reading is older than the sensor's stored reading.
	ErrOutOfOrder = errors.New("reading older than stored reading")
)

// StaleConfigurationError reports an inverted threshold pair.
// Params: sensor id and offending thresholds.
// Returns: error that matches ErrStaleConfiguration.
type StaleConfigurationError struct {
	SensorID string
	Warning  float64
	Critical float64
}

// Error renders threshold violation.
func (e *StaleConfigurationError) Error() string {
	return fmt.Sprintf("sensor %q: critical threshold %s is below warning threshold %s",
		e.SensorID, templatefmt.FormatValue(e.Critical), templatefmt.FormatValue(e.Warning))
}

// Unwrap links typed error to ErrStaleConfiguration.
func (e *StaleConfigurationError) Unwrap() error {
	return ErrStaleConfiguration
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

func staleConfig(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrStaleConfiguration)
}
