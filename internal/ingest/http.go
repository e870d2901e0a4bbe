package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"stationmon/internal/metrics"
	"stationmon/internal/status"
	"stationmon/internal/topology"
)

// HTTPHandler decodes JSON readings and forwards them to the status engine.
// Params: recorder applies readings, max body limits payload size.
// Returns: HTTP handler for the readings endpoint.
type HTTPHandler struct {
	recorder    Recorder
	maxBodySize int64
	logger      *slog.Logger
}

// NewHTTPHandler creates readings HTTP handler.
// Params: recorder, max request body size in bytes, and logger.
// Returns: configured handler.
func NewHTTPHandler(recorder Recorder, maxBodySize int64, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{recorder: recorder, maxBodySize: maxBodySize, logger: logger}
}

// ServeHTTP handles one reading or a batch of readings.
// Params: HTTP request/response writer pair.
// Returns: 200 with result, 404 for unknown sensor (single), 400 for invalid payload or value.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writer.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	decoded, err := decodePayload(body)
	if err != nil {
		metrics.ReadingsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		writeJSON(writer, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx := request.Context()
	if decoded.batch {
		items, err := recordBatch(ctx, h.recorder, decoded.readings)
		if err != nil {
			h.logger.Warn("reading batch partially failed", "count", len(items), "error", err.Error())
		}
		writeJSON(writer, http.StatusOK, items)
		return
	}

	reading := decoded.readings[0]
	result, err := h.recorder.RecordReading(ctx, reading.SensorID, *reading.Value, reading.At(time.Time{}))
	if errors.Is(err, topology.ErrNotFound) {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	if errors.Is(err, status.ErrInvalidValue) || errors.Is(err, status.ErrFutureTimestamp) {
		writeJSON(writer, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if errors.Is(err, topology.ErrOutOfOrder) {
		writeJSON(writer, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("record reading failed", "sensor_id", reading.SensorID, "error", err.Error())
		writeJSON(writer, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(writer, http.StatusOK, result)
}

func writeJSON(writer http.ResponseWriter, code int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(code)
	_ = json.NewEncoder(writer).Encode(value)
}
