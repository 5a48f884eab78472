package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/ws/events", "/ws"},
		{"/api/v1", "/api/v1"},
		{"/api/v1/escrows", "/api/v1/escrows"},
		{"/api/v1/escrows/abc123", "/api/v1/escrows/:address"},
		{"/api/v1/escrows/abc123/deposit", "/api/v1/escrows/:address/deposit"},
		{"/api/v1/escrows/abc123/authorities/platform", "/api/v1/escrows/:address/authorities"},
		{"/api/v1/escrows/abc123/withdrawals/emergency", "/api/v1/escrows/:address/withdrawals"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, canonicalPath(tc.raw), "path %q", tc.raw)
	}
}

func TestInstrumentHandlerCountsRequests(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/v1/escrows/:address", "200"))

	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/escrows/abc123", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/v1/escrows/:address", "200"))
	assert.Equal(t, before+1, after)
}

func TestInstrumentHandlerRecordsStatus(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("POST", "/api/v1/escrows", "409"))

	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/escrows", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	after := testutil.ToFloat64(httpRequests.WithLabelValues("POST", "/api/v1/escrows", "409"))
	assert.Equal(t, before+1, after)
}

func TestRecordEscrowOperationOutcomes(t *testing.T) {
	okBefore := testutil.ToFloat64(escrowOperations.WithLabelValues("deposit", "success"))
	failBefore := testutil.ToFloat64(escrowOperations.WithLabelValues("deposit", "failure"))

	RecordEscrowOperation("deposit", nil, 5*time.Millisecond)
	RecordEscrowOperation("deposit", assert.AnError, 5*time.Millisecond)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(escrowOperations.WithLabelValues("deposit", "success")))
	assert.Equal(t, failBefore+1, testutil.ToFloat64(escrowOperations.WithLabelValues("deposit", "failure")))
}

func TestRecordsOpenGauge(t *testing.T) {
	before := testutil.ToFloat64(recordsOpen)
	AddRecordsOpen(1)
	AddRecordsOpen(1)
	AddRecordsOpen(-1)
	assert.Equal(t, before+1, testutil.ToFloat64(recordsOpen))
}

func TestHandlerServesRegistry(t *testing.T) {
	RecordEscrowEvent("escrow.deposit")
	SetHostStats(12.5, 1024)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
