package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTelemetry(t *testing.T) {
	before := testutil.ToFloat64(TelemetryMessagesTotal.WithLabelValues(ResultUnknownDevice))
	RecordTelemetry(ResultUnknownDevice)
	assert.Equal(t, before+1, testutil.ToFloat64(TelemetryMessagesTotal.WithLabelValues(ResultUnknownDevice)))
}

func TestConnectionGauge(t *testing.T) {
	before := testutil.ToFloat64(ConnectionsActive.WithLabelValues(RoleIdentified))
	ConnectionOpened(RoleIdentified)
	ConnectionOpened(RoleIdentified)
	ConnectionClosed(RoleIdentified)
	assert.Equal(t, before+1, testutil.ToFloat64(ConnectionsActive.WithLabelValues(RoleIdentified)))
}

func TestHandlerExposesRelayMetrics(t *testing.T) {
	RecordDelivery(DeliveryDelivered)
	ObserveIngest(-time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relay_broadcast_deliveries_total")
	assert.Contains(t, rec.Body.String(), "relay_ingest_duration_seconds")
}
