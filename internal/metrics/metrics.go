package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Connection roles
const (
	RoleAnonymous  = "anonymous"
	RoleIdentified = "identified"
)

// Telemetry outcomes
const (
	ResultOK               = "ok"
	ResultMalformed        = "malformed"
	ResultUnknownDevice    = "unknown_device"
	ResultPersistenceError = "persistence_error"
)

// Delivery outcomes
const (
	DeliveryDelivered = "delivered"
	DeliveryDropped   = "dropped"
)

var (
	ConnectionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Number of open relay connections by role",
	}, []string{"role"})
	TelemetryMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_telemetry_messages_total",
		Help: "Inbound telemetry messages by outcome",
	}, []string{"result"})
	BroadcastDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_broadcast_deliveries_total",
		Help: "Per-connection broadcast deliveries by outcome",
	}, []string{"result"})
	IngestDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_ingest_duration_seconds",
		Help:    "Duration of the ingestion store transaction in seconds",
		Buckets: prometheus.DefBuckets,
	})

	registerOnce sync.Once
)

func init() {
	InitMetrics()
}

// InitMetrics registers all Prometheus collectors used by the relay.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ConnectionsActive,
			TelemetryMessagesTotal,
			BroadcastDeliveriesTotal,
			IngestDurationSeconds,
		)
	})
}

// Handler returns an HTTP handler that exposes the registered Prometheus metrics.
func Handler() http.Handler {
	InitMetrics()
	return promhttp.Handler()
}

func ConnectionOpened(role string) {
	ConnectionsActive.WithLabelValues(role).Inc()
}

func ConnectionClosed(role string) {
	ConnectionsActive.WithLabelValues(role).Dec()
}

func RecordTelemetry(result string) {
	TelemetryMessagesTotal.WithLabelValues(result).Inc()
}

func RecordDelivery(result string) {
	BroadcastDeliveriesTotal.WithLabelValues(result).Inc()
}

// ObserveIngest tracks a completed ingestion transaction.
func ObserveIngest(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	IngestDurationSeconds.Observe(duration.Seconds())
}
