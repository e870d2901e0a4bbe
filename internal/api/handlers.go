package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"stationmon/internal/alert"
	"stationmon/internal/domain"
	"stationmon/internal/topology"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxCommandBody = 64 << 10

type handlers struct {
	deps   Deps
	logger *slog.Logger
}

type stationView struct {
	domain.Station
	Lines []domain.Line `json:"lines"`
}

type nodeView struct {
	Node    domain.Node     `json:"node"`
	Sensors []domain.Sensor `json:"sensors"`
}

type maintenanceRequest struct {
	Enabled *bool `json:"enabled"`
}

type actorRequest struct {
	Actor string `json:"actor"`
}

type noteRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

func (h *handlers) health(writer http.ResponseWriter, _ *http.Request) {
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write([]byte("ok"))
}

func (h *handlers) ready(writer http.ResponseWriter, _ *http.Request) {
	if h.deps.Ready != nil && !h.deps.Ready() {
		writer.WriteHeader(http.StatusServiceUnavailable)
		_, _ = writer.Write([]byte("not-ready"))
		return
	}
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write([]byte("ready"))
}

func (h *handlers) listStations(writer http.ResponseWriter, _ *http.Request) {
	stations := h.deps.Topology.Stations()
	out := make([]stationView, 0, len(stations))
	for _, station := range stations {
		lines, err := h.deps.Topology.LinesOf(station.ID)
		if err != nil {
			// Station removed between the two lookups.
			continue
		}
		out = append(out, stationView{Station: station, Lines: lines})
	}
	writeJSON(writer, http.StatusOK, out)
}

func (h *handlers) stationGeoJSON(writer http.ResponseWriter, request *http.Request) {
	collection, err := h.deps.Topology.FeatureCollection(chi.URLParam(request, "id"))
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	writer.Header().Set("Content-Type", "application/geo+json")
	writer.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(writer).Encode(collection)
}

func (h *handlers) getNode(writer http.ResponseWriter, request *http.Request) {
	nodeID := chi.URLParam(request, "id")
	node, err := h.deps.Topology.FindNode(nodeID)
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	sensors, err := h.deps.Topology.SensorsOf(nodeID)
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, nodeView{Node: node, Sensors: sensors})
}

func (h *handlers) setMaintenance(writer http.ResponseWriter, request *http.Request) {
	var body maintenanceRequest
	if err := decodeBody(writer, request, &body, false); err != nil {
		h.writeError(writer, request, err)
		return
	}
	if body.Enabled == nil {
		h.writeError(writer, request, fmt.Errorf("enabled is required: %w", errBadRequest))
		return
	}
	change, err := h.deps.Maintenance.SetMaintenance(request.Context(), chi.URLParam(request, "id"), *body.Enabled)
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, change)
}

func (h *handlers) listAlerts(writer http.ResponseWriter, request *http.Request) {
	filter, err := parseFilter(request)
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, h.deps.Alerts.List(filter))
}

func (h *handlers) getAlert(writer http.ResponseWriter, request *http.Request) {
	found, err := h.deps.Alerts.Get(chi.URLParam(request, "id"))
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, found)
}

// transition adapts one lifecycle operation to an HTTP handler.
// Params: manager method taking alert id and actor.
// Returns: handler reading optional {"actor"} body.
func (h *handlers) transition(apply func(ctx context.Context, id, actor string) (domain.Alert, error)) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		var body actorRequest
		if err := decodeBody(writer, request, &body, true); err != nil {
			h.writeError(writer, request, err)
			return
		}
		updated, err := apply(request.Context(), chi.URLParam(request, "id"), body.Actor)
		if err != nil {
			h.writeError(writer, request, err)
			return
		}
		writeJSON(writer, http.StatusOK, updated)
	}
}

func (h *handlers) addNote(writer http.ResponseWriter, request *http.Request) {
	var body noteRequest
	if err := decodeBody(writer, request, &body, false); err != nil {
		h.writeError(writer, request, err)
		return
	}
	updated, err := h.deps.Alerts.AddNote(request.Context(), chi.URLParam(request, "id"), body.Author, body.Text)
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, updated)
}

var errBadRequest = errors.New("bad request")

// decodeBody decodes one JSON object from a size-limited body.
// Params: writer/request pair, target, and whether an empty body is allowed.
// Returns: error wrapping errBadRequest for malformed input.
func decodeBody(writer http.ResponseWriter, request *http.Request, target any, allowEmpty bool) error {
	request.Body = http.MaxBytesReader(writer, request.Body, maxCommandBody)
	decoder := json.NewDecoder(request.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("decode body: %w: %w", err, errBadRequest)
	}
	if decoder.More() {
		return fmt.Errorf("decode body: trailing data: %w", errBadRequest)
	}
	return nil
}

func parseFilter(request *http.Request) (alert.Filter, error) {
	query := request.URL.Query()
	filter := alert.Filter{
		State:    domain.AlertState(query.Get("state")),
		Severity: domain.AlertSeverity(query.Get("severity")),
		NodeID:   query.Get("node_id"),
	}
	switch filter.State {
	case "", domain.AlertStateUnprocessed, domain.AlertStateAcknowledged, domain.AlertStateInProgress,
		domain.AlertStateResolved, domain.AlertStateClosed:
	default:
		return alert.Filter{}, fmt.Errorf("unknown state %q: %w", filter.State, errBadRequest)
	}
	switch filter.Severity {
	case "", domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
	default:
		return alert.Filter{}, fmt.Errorf("unknown severity %q: %w", filter.Severity, errBadRequest)
	}
	return filter, nil
}

// writeError maps domain errors to HTTP status codes.
func (h *handlers) writeError(writer http.ResponseWriter, request *http.Request, err error) {
	code := http.StatusInternalServerError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, topology.ErrNotFound), errors.Is(err, alert.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, alert.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.As(err, &tooLarge):
		code = http.StatusRequestEntityTooLarge
	case errors.Is(err, alert.ErrValidation), errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	if code >= http.StatusInternalServerError {
		h.logger.Error("api request failed",
			"method", request.Method,
			"path", request.URL.Path,
			"request_id", middleware.GetReqID(request.Context()),
			"error", err.Error(),
		)
	}
	writeJSON(writer, code, map[string]string{"error": err.Error()})
}

func writeJSON(writer http.ResponseWriter, code int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(code)
	_ = json.NewEncoder(writer).Encode(value)
}
