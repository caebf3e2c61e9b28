package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordUpdate("agreements", 0)
		m.RecordState("agreements", "LandAgreementState")
		m.RecordDecodeError("agreements", "LandAgreementState")
		m.RecordRouted("LandAgreementState", "none")
		m.RecordSMSDispatch("title_transferred", "sent", "")
		m.RecordCaseSync("updated", "")
		m.RecordOutboundRequest("twilio", "POST", 201, 0.1)
		m.RecordRetry("twilio")
		m.RecordDBQuery("insert", "dispatch_journal", 0.01, nil)
	})
}

func TestRecordUpdate_CountsEmptyBatches(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordUpdate("agreements", 2)
	m.RecordUpdate("agreements", 0)
	m.RecordUpdate("agreements", 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.ledgerUpdatesTotal.WithLabelValues("agreements")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ledgerEmptyUpdatesTotal.WithLabelValues("agreements")))
}

func TestInstrumentedTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	m := NewMetrics(prometheus.NewRegistry())
	client := NewHTTPClient(m, "case_management", 5*time.Second)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboundRequestsTotal.WithLabelValues("case_management", "GET", "5xx")))
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(201))
	assert.Equal(t, "4xx", statusCodeToString(400))
	assert.Equal(t, "5xx", statusCodeToString(503))
	assert.Equal(t, "transport_error", statusCodeToString(0))
	assert.Equal(t, "unknown", statusCodeToString(700))
}
