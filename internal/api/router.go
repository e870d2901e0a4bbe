package api

import (
	"context"
	"log/slog"
	"net/http"

	"stationmon/internal/alert"
	"stationmon/internal/config"
	"stationmon/internal/domain"
	"stationmon/internal/status"
	"stationmon/internal/topology"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Topology exposes read-only topology lookups.
type Topology interface {
	Stations() []domain.Station
	LinesOf(stationID string) ([]domain.Line, error)
	FindNode(id string) (domain.Node, error)
	SensorsOf(nodeID string) ([]domain.Sensor, error)
	FeatureCollection(stationID string) (topology.FeatureCollection, error)
}

// Maintenance toggles node maintenance mode.
type Maintenance interface {
	SetMaintenance(ctx context.Context, nodeID string, enabled bool) (status.NodeChange, error)
}

// Alerts exposes alert lifecycle operations.
type Alerts interface {
	Acknowledge(ctx context.Context, id, actor string) (domain.Alert, error)
	Start(ctx context.Context, id, actor string) (domain.Alert, error)
	Resolve(ctx context.Context, id, actor string) (domain.Alert, error)
	Close(ctx context.Context, id, actor string) (domain.Alert, error)
	AddNote(ctx context.Context, id, author, text string) (domain.Alert, error)
	Get(id string) (domain.Alert, error)
	List(filter alert.Filter) []domain.Alert
}

// Deps wires router handlers.
// Params: route config, domain services, and optional readings/stream/metrics handlers.
// Returns: router dependencies; nil handlers leave routes unmounted.
type Deps struct {
	HTTP        config.HTTPConfig
	Topology    Topology
	Maintenance Maintenance
	Alerts      Alerts
	Readings    http.Handler
	Stream      http.Handler
	Metrics     http.Handler
	Ready       func() bool
	Logger      *slog.Logger
}

// NewRouter builds HTTP router for the service.
// Params: router dependencies.
// Returns: chi router with health, gateway, topology, alert, and stream routes.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handlers{deps: deps, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get(deps.HTTP.HealthPath, h.health)
	r.Get(deps.HTTP.ReadyPath, h.ready)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, deps.HTTP.MetricsPath, deps.Metrics)
	}
	if deps.Readings != nil {
		r.Method(http.MethodPost, deps.HTTP.ReadingsPath, deps.Readings)
	}
	if deps.Stream != nil {
		r.Method(http.MethodGet, deps.HTTP.StreamPath, deps.Stream)
	}

	r.Get("/stations", h.listStations)
	r.Get("/stations/{id}/geojson", h.stationGeoJSON)

	r.Route("/nodes/{id}", func(r chi.Router) {
		r.Get("/", h.getNode)
		r.Put("/maintenance", h.setMaintenance)
	})

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.listAlerts)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getAlert)
			r.Post("/acknowledge", h.transition(deps.Alerts.Acknowledge))
			r.Post("/start", h.transition(deps.Alerts.Start))
			r.Post("/resolve", h.transition(deps.Alerts.Resolve))
			r.Post("/close", h.transition(deps.Alerts.Close))
			r.Post("/notes", h.addNote)
		})
	})
	return r
}
