package topology

import (
	"time"

	"stationmon/internal/domain"
)

// FeatureCollection is a GeoJSON (RFC 7946) feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is one GeoJSON feature with flat properties.
type Feature struct {
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry is a Point or LineString with [lon, lat] coordinates.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

func pointGeometry(p domain.GeoPoint) Geometry {
	return Geometry{Type: "Point", Coordinates: []float64{p.Lon, p.Lat}}
}

func lineGeometry(start, end domain.GeoPoint) Geometry {
	return Geometry{Type: "LineString", Coordinates: [][]float64{{start.Lon, start.Lat}, {end.Lon, end.Lat}}}
}

// FeatureCollection projects one station into GeoJSON.
// Params: station id.
// Returns: line features followed by node features, or ErrNotFound.
func (s *Store) FeatureCollection(stationID string) (FeatureCollection, error) {
	lines, err := s.LinesOf(stationID)
	if err != nil {
		return FeatureCollection{}, err
	}

	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0)}
	var nodeFeatures []Feature
	for _, line := range lines {
		fc.Features = append(fc.Features, Feature{
			Type:     "Feature",
			ID:       line.ID,
			Geometry: lineGeometry(line.Start, line.End),
			Properties: map[string]any{
				"kind":       "line",
				"id":         line.ID,
				"code":       line.Code,
				"name":       line.Name,
				"status":     line.Status,
				"length_m":   line.LengthM,
				"node_count": len(line.NodeIDs),
			},
		})

		nodes, err := s.NodesOf(line.ID)
		if err != nil {
			// Line removed between snapshots.
			continue
		}
		for _, node := range nodes {
			var lastOnline any
			if node.LastOnline != nil {
				lastOnline = node.LastOnline.Format(time.RFC3339)
			}
			nodeFeatures = append(nodeFeatures, Feature{
				Type:     "Feature",
				ID:       node.ID,
				Geometry: pointGeometry(node.Position),
				Properties: map[string]any{
					"kind":         "node",
					"id":           node.ID,
					"code":         node.Code,
					"name":         node.Name,
					"line_name":    line.Name,
					"status":       node.Status,
					"hub":          node.Hub,
					"battery":      node.Battery,
					"signal":       node.Signal,
					"last_online":  lastOnline,
					"sensor_count": len(node.SensorIDs),
					"camera_id":    node.CameraID,
				},
			})
		}
	}
	fc.Features = append(fc.Features, nodeFeatures...)
	return fc, nil
}
