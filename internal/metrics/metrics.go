package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stationmon"

// Reading results used as readings_total labels.
const (
	ResultAccepted   = "accepted"
	ResultNotFound   = "not_found"
	ResultInvalid    = "invalid"
	ResultOutOfOrder = "out_of_order"
	ResultFuture     = "future"
	ResultError      = "error"
)

var ReadingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ingest",
	Name:      "readings_total",
	Help:      "Sensor readings processed, by result.",
}, []string{"result"})

var NodeStatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "status",
	Name:      "node_status_transitions_total",
	Help:      "Node status changes, by new status.",
}, []string{"status"})

var AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "alert",
	Name:      "alerts_created_total",
	Help:      "Alerts raised, by severity.",
}, []string{"severity"})

var AlertTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "alert",
	Name:      "alert_transitions_total",
	Help:      "Alert lifecycle transitions, by target state.",
}, []string{"state"})

var HubEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "hub",
	Name:      "events_published_total",
	Help:      "Events published to the broadcast hub, by kind.",
}, []string{"kind"})

var HubEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "hub",
	Name:      "events_dropped_total",
	Help:      "Events dropped because a subscriber buffer was full.",
})

var HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "hub",
	Name:      "subscribers",
	Help:      "Active hub subscriptions.",
})

var RelayPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "relay",
	Name:      "publish_failures_total",
	Help:      "Hub events that could not be relayed after retries.",
})

// Handler returns Prometheus exposition handler for default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
