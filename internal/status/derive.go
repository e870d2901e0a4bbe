package status

import (
	"time"

	"stationmon/internal/domain"
)

// Derive computes node status from maintenance flag and enabled sensors.
// Params: node, its sensors, current time, and staleness window.
// Returns: maintenance, offline, critical, warning, or online in that precedence.
func Derive(node domain.Node, sensors []domain.Sensor, now time.Time, window time.Duration) domain.NodeStatus {
	if node.Maintenance {
		return domain.NodeStatusMaintenance
	}

	fresh := false
	level := domain.NodeStatusOnline
	for _, sensor := range sensors {
		if !sensor.Enabled {
			continue
		}
		if sensor.LastReading != nil && now.Sub(*sensor.LastReading) <= window {
			fresh = true
		}
		switch sensor.Level() {
		case domain.NodeStatusCritical:
			level = domain.NodeStatusCritical
		case domain.NodeStatusWarning:
			if level != domain.NodeStatusCritical {
				level = domain.NodeStatusWarning
			}
		}
	}
	if !fresh {
		return domain.NodeStatusOffline
	}
	return level
}

// TriggeringSensor picks the sensor responsible for an alarming level.
// Params: node sensors, preferred sensor id (may be empty), and alarming level.
// Returns: preferred sensor when it qualifies, else first qualifying enabled sensor in node order.
func TriggeringSensor(sensors []domain.Sensor, preferredID string, level domain.NodeStatus) (domain.Sensor, bool) {
	if preferredID != "" {
		for _, sensor := range sensors {
			if sensor.ID == preferredID && sensor.Enabled && sensor.Level() == level {
				return sensor.Clone(), true
			}
		}
	}
	for _, sensor := range sensors {
		if sensor.Enabled && sensor.Level() == level {
			return sensor.Clone(), true
		}
	}
	return domain.Sensor{}, false
}
