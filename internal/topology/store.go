package topology

import (
	"strings"
	"sync"

	"stationmon/internal/domain"
)

// nodeEntry owns one node and its sensors.
// Lock order is Store.mu before nodeEntry.mu.
type nodeEntry struct {
	mu        sync.RWMutex
	stationID string
	node      domain.Node
	sensors   []domain.Sensor
	removed   bool
}

func (e *nodeEntry) sensorIndex(sensorID string) int {
	for i := range e.sensors {
		if e.sensors[i].ID == sensorID {
			return i
		}
	}
	return -1
}

// Store is the in-memory Station→Line→Node→Sensor hierarchy.
// Params: built by Build or NewStore plus provisioning calls.
// Returns: concurrent-safe lookup indices returning value copies.
type Store struct {
	mu           sync.RWMutex
	stations     map[string]*domain.Station
	stationOrder []string
	lines        map[string]*domain.Line
	nodes        map[string]*nodeEntry
	sensorNode   map[string]string
}

// NewStore creates empty topology store.
func NewStore() *Store {
	return &Store{
		stations:   make(map[string]*domain.Station),
		lines:      make(map[string]*domain.Line),
		nodes:      make(map[string]*nodeEntry),
		sensorNode: make(map[string]string),
	}
}

// FindStation returns station copy by id.
func (s *Store) FindStation(id string) (domain.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	station, ok := s.stations[id]
	if !ok {
		return domain.Station{}, notFound("station", id)
	}
	return station.Clone(), nil
}

// FindLine returns line copy by id.
func (s *Store) FindLine(id string) (domain.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	line, ok := s.lines[id]
	if !ok {
		return domain.Line{}, notFound("line", id)
	}
	return line.Clone(), nil
}

// FindNode returns node copy by id.
func (s *Store) FindNode(id string) (domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.nodes[id]
	if !ok {
		return domain.Node{}, notFound("node", id)
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.node.Clone(), nil
}

// FindSensor returns sensor copy by id.
func (s *Store) FindSensor(id string) (domain.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.nodes[s.sensorNode[id]]
	if !ok {
		return domain.Sensor{}, notFound("sensor", id)
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	idx := entry.sensorIndex(id)
	if idx < 0 {
		return domain.Sensor{}, notFound("sensor", id)
	}
	return entry.sensors[idx].Clone(), nil
}

// SensorsOf returns ordered sensor snapshot for one node.
// Params: node id.
// Returns: fresh slice of sensor copies on every call, or ErrNotFound.
func (s *Store) SensorsOf(nodeID string) ([]domain.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.nodes[nodeID]
	if !ok {
		return nil, notFound("node", nodeID)
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return cloneSensors(entry.sensors), nil
}

// NodesOf returns ordered node snapshot for one line.
func (s *Store) NodesOf(lineID string) ([]domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	line, ok := s.lines[lineID]
	if !ok {
		return nil, notFound("line", lineID)
	}
	out := make([]domain.Node, 0, len(line.NodeIDs))
	for _, nodeID := range line.NodeIDs {
		entry := s.nodes[nodeID]
		entry.mu.RLock()
		out = append(out, entry.node.Clone())
		entry.mu.RUnlock()
	}
	return out, nil
}

// LinesOf returns ordered line snapshot for one station.
func (s *Store) LinesOf(stationID string) ([]domain.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	station, ok := s.stations[stationID]
	if !ok {
		return nil, notFound("station", stationID)
	}
	out := make([]domain.Line, 0, len(station.LineIDs))
	for _, lineID := range station.LineIDs {
		out = append(out, s.lines[lineID].Clone())
	}
	return out, nil
}

// Stations returns all stations in load order.
func (s *Store) Stations() []domain.Station {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Station, 0, len(s.stationOrder))
	for _, id := range s.stationOrder {
		out = append(out, s.stations[id].Clone())
	}
	return out
}

// NodeIDs returns every node id in station, line, and node order.
func (s *Store) NodeIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.nodes))
	for _, stationID := range s.stationOrder {
		for _, lineID := range s.stations[stationID].LineIDs {
			out = append(out, s.lines[lineID].NodeIDs...)
		}
	}
	return out
}

// addStation registers one station without lines.
func (s *Store) addStation(station domain.Station) error {
	station.ID = strings.TrimSpace(station.ID)
	if station.ID == "" {
		return staleConfig("station id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stations[station.ID]; exists {
		return staleConfig("duplicate station id %q", station.ID)
	}
	station.LineIDs = nil
	s.stations[station.ID] = &station
	s.stationOrder = append(s.stationOrder, station.ID)
	return nil
}

// AddLine appends one empty line to a station.
// Params: parent station id and line definition; NodeIDs are ignored.
// Returns: ErrNotFound for unknown station, ErrStaleConfiguration for duplicate id.
func (s *Store) AddLine(stationID string, line domain.Line) error {
	line.ID = strings.TrimSpace(line.ID)
	if line.ID == "" {
		return staleConfig("line id is required")
	}
	if line.Status == "" {
		line.Status = domain.LineStatusActive
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	station, ok := s.stations[stationID]
	if !ok {
		return notFound("station", stationID)
	}
	if _, exists := s.lines[line.ID]; exists {
		return staleConfig("duplicate line id %q", line.ID)
	}
	line.StationID = stationID
	line.NodeIDs = nil
	s.lines[line.ID] = &line
	station.LineIDs = append(station.LineIDs, line.ID)
	return nil
}

// RemoveLine detaches one line and discards its nodes and sensors.
func (s *Store) RemoveLine(lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.lines[lineID]
	if !ok {
		return notFound("line", lineID)
	}
	for _, nodeID := range line.NodeIDs {
		s.dropNodeLocked(nodeID)
	}
	station := s.stations[line.StationID]
	station.LineIDs = removeID(station.LineIDs, lineID)
	delete(s.lines, lineID)
	return nil
}

// AddNode appends one node with its sensors to a line.
// Params: parent line id, node definition, and ordered sensors (at least one).
// Returns: ErrNotFound for unknown line; StaleConfigurationError for inverted thresholds;
// ErrStaleConfiguration for duplicate ids. Failure leaves store unchanged.
func (s *Store) AddNode(lineID string, node domain.Node, sensors []domain.Sensor) error {
	node.ID = strings.TrimSpace(node.ID)
	if node.ID == "" {
		return staleConfig("node id is required")
	}
	if len(sensors) == 0 {
		return staleConfig("node %q has no sensors", node.ID)
	}
	owned := cloneSensors(sensors)
	seen := make(map[string]struct{}, len(owned))
	for i := range owned {
		sensor := &owned[i]
		sensor.ID = strings.TrimSpace(sensor.ID)
		if sensor.ID == "" {
			return staleConfig("node %q sensor[%d] id is required", node.ID, i)
		}
		if _, dup := seen[sensor.ID]; dup {
			return staleConfig("duplicate sensor id %q", sensor.ID)
		}
		seen[sensor.ID] = struct{}{}
		if err := validateThresholds(*sensor); err != nil {
			return err
		}
		sensor.NodeID = node.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.lines[lineID]
	if !ok {
		return notFound("line", lineID)
	}
	if _, exists := s.nodes[node.ID]; exists {
		return staleConfig("duplicate node id %q", node.ID)
	}
	for _, sensor := range owned {
		if _, exists := s.sensorNode[sensor.ID]; exists {
			return staleConfig("duplicate sensor id %q", sensor.ID)
		}
	}

	node.LineID = lineID
	node.SensorIDs = make([]string, 0, len(owned))
	for _, sensor := range owned {
		node.SensorIDs = append(node.SensorIDs, sensor.ID)
		s.sensorNode[sensor.ID] = node.ID
	}
	node.Status = domain.NodeStatusOffline
	if node.Maintenance {
		node.Status = domain.NodeStatusMaintenance
	}
	s.nodes[node.ID] = &nodeEntry{
		stationID: line.StationID,
		node:      node.Clone(),
		sensors:   owned,
	}
	line.NodeIDs = append(line.NodeIDs, node.ID)
	return nil
}

// RemoveNode detaches one node and discards its sensors.
// In-flight transactions on the node fail with ErrNotFound.
func (s *Store) RemoveNode(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.nodes[nodeID]
	if !ok {
		return notFound("node", nodeID)
	}
	line := s.lines[entry.node.LineID]
	line.NodeIDs = removeID(line.NodeIDs, nodeID)
	s.dropNodeLocked(nodeID)
	return nil
}

// dropNodeLocked removes node indices; caller holds s.mu exclusively.
func (s *Store) dropNodeLocked(nodeID string) {
	entry, ok := s.nodes[nodeID]
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.removed = true
	for _, sensor := range entry.sensors {
		delete(s.sensorNode, sensor.ID)
	}
	entry.mu.Unlock()
	delete(s.nodes, nodeID)
}

// entryFor resolves node entry without holding store lock afterwards.
func (s *Store) entryFor(nodeID string) (*nodeEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.nodes[nodeID]
	return entry, ok
}

func (s *Store) nodeOfSensor(sensorID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodeID, ok := s.sensorNode[sensorID]
	return nodeID, ok
}

func validateThresholds(sensor domain.Sensor) error {
	if sensor.WarningThreshold == nil || sensor.CriticalThreshold == nil {
		return nil
	}
	if *sensor.CriticalThreshold < *sensor.WarningThreshold {
		return &StaleConfigurationError{
			SensorID: sensor.ID,
			Warning:  *sensor.WarningThreshold,
			Critical: *sensor.CriticalThreshold,
		}
	}
	return nil
}

func cloneSensors(sensors []domain.Sensor) []domain.Sensor {
	out := make([]domain.Sensor, 0, len(sensors))
	for _, sensor := range sensors {
		out = append(out, sensor.Clone())
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
