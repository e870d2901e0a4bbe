package alert

import (
	"fmt"
	"sync"

	"stationmon/internal/domain"
)

// Store keeps alerts in process memory in creation order.
// Params: none; one RWMutex guards the whole alert set.
// Returns: revisioned alert records; lookups return deep copies.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
	order   []string
}

type record struct {
	alert    domain.Alert
	revision uint64
}

// NewStore creates empty alert store.
func NewStore() *Store {
	return &Store{records: make(map[string]*record)}
}

// Insert adds new alert at revision 1.
// Params: alert with unique id and hook run under lock after insert.
// Returns: error for duplicate id.
func (s *Store) Insert(alert domain.Alert, committed func(domain.Alert)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[alert.ID]; exists {
		return fmt.Errorf("alert %q already exists: %w", alert.ID, ErrValidation)
	}
	s.records[alert.ID] = &record{alert: alert.Clone(), revision: 1}
	s.order = append(s.order, alert.ID)
	if committed != nil {
		committed(alert.Clone())
	}
	return nil
}

// Get returns alert copy and revision.
// Params: alert id.
// Returns: stored alert or ErrNotFound.
func (s *Store) Get(id string) (domain.Alert, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.Alert{}, 0, fmt.Errorf("alert %q: %w", id, ErrNotFound)
	}
	return rec.alert.Clone(), rec.revision, nil
}

// Update mutates one alert atomically.
// Params: alert id, mutation applied to a copy, and hook run under lock after commit.
// Returns: committed alert and revision; mutation error leaves record unchanged.
func (s *Store) Update(id string, mutate func(*domain.Alert) error, committed func(domain.Alert)) (domain.Alert, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.Alert{}, 0, fmt.Errorf("alert %q: %w", id, ErrNotFound)
	}
	working := rec.alert.Clone()
	if err := mutate(&working); err != nil {
		return domain.Alert{}, 0, err
	}
	working.ID = rec.alert.ID
	rec.alert = working
	rec.revision++
	if committed != nil {
		committed(working.Clone())
	}
	return working.Clone(), rec.revision, nil
}

// List returns alerts accepted by match in creation order.
func (s *Store) List(match func(domain.Alert) bool) []domain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Alert, 0)
	for _, id := range s.order {
		alert := s.records[id].alert
		if match == nil || match(alert) {
			out = append(out, alert.Clone())
		}
	}
	return out
}

// Len returns stored alert count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
