package topology

import (
	"fmt"

	"stationmon/internal/config"
	"stationmon/internal/domain"
)

// Build loads initial topology from configuration.
// Params: validated config with station tree.
// Returns: populated store or ErrStaleConfiguration for duplicate ids, unknown enums,
// or inverted thresholds.
func Build(cfg config.Config) (*Store, error) {
	store := NewStore()
	for _, stationCfg := range cfg.Station {
		station := domain.Station{
			ID:   stationCfg.ID,
			Name: stationCfg.Name,
			Bounds: domain.BoundingBox{
				Min: domain.GeoPoint{Lat: stationCfg.MinLat, Lon: stationCfg.MinLon},
				Max: domain.GeoPoint{Lat: stationCfg.MaxLat, Lon: stationCfg.MaxLon},
			},
		}
		if err := store.addStation(station); err != nil {
			return nil, err
		}

		for _, lineCfg := range stationCfg.Line {
			line, err := lineFromConfig(lineCfg)
			if err != nil {
				return nil, err
			}
			if err := store.AddLine(stationCfg.ID, line); err != nil {
				return nil, err
			}

			for _, nodeCfg := range lineCfg.Node {
				node, sensors, err := nodeFromConfig(nodeCfg)
				if err != nil {
					return nil, err
				}
				if err := store.AddNode(lineCfg.ID, node, sensors); err != nil {
					return nil, err
				}
			}
		}
	}
	return store, nil
}

func lineFromConfig(cfg config.LineConfig) (domain.Line, error) {
	status, err := domain.ParseLineStatus(cfg.Status)
	if err != nil {
		return domain.Line{}, fmt.Errorf("line %q: %v: %w", cfg.ID, err, ErrStaleConfiguration)
	}
	return domain.Line{
		ID:      cfg.ID,
		Code:    cfg.Code,
		Name:    cfg.Name,
		Status:  status,
		LengthM: cfg.LengthM,
		Start:   domain.GeoPoint{Lat: cfg.StartLat, Lon: cfg.StartLon},
		End:     domain.GeoPoint{Lat: cfg.EndLat, Lon: cfg.EndLon},
	}, nil
}

func nodeFromConfig(cfg config.NodeConfig) (domain.Node, []domain.Sensor, error) {
	node := domain.Node{
		ID:          cfg.ID,
		Code:        cfg.Code,
		Name:        cfg.Name,
		Position:    domain.GeoPoint{Lat: cfg.Lat, Lon: cfg.Lon},
		Battery:     cfg.Battery,
		Signal:      cfg.Signal,
		Hub:         cfg.Hub,
		CameraID:    cfg.CameraID,
		Maintenance: cfg.Maintenance,
	}
	sensors := make([]domain.Sensor, 0, len(cfg.Sensor))
	for _, sensorCfg := range cfg.Sensor {
		sensorType, err := domain.ParseSensorType(sensorCfg.Type)
		if err != nil {
			return domain.Node{}, nil, fmt.Errorf("sensor %q: %v: %w", sensorCfg.ID, err, ErrStaleConfiguration)
		}
		sensors = append(sensors, domain.Sensor{
			ID:                sensorCfg.ID,
			Type:              sensorType,
			Unit:              sensorCfg.Unit,
			WarningThreshold:  sensorCfg.Warning,
			CriticalThreshold: sensorCfg.Critical,
			Enabled:           sensorCfg.IsEnabled(),
		})
	}
	return node, sensors, nil
}
