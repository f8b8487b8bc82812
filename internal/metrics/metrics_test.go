package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.StreamEvent("Chat")
	r.StreamEvent("Chat")
	r.StreamEvent("heartbeat")
	r.StreamError()
	r.Reconciled("replaced_optimistic")
	r.PageLoad("ok")
	r.PageLoad("error")
	r.Handover()
	r.Refresh("ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.streamEvents.WithLabelValues("Chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.streamEvents.WithLabelValues("heartbeat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.streamErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reconcile.WithLabelValues("replaced_optimistic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pageLoads.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.handovers))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.refreshes.WithLabelValues("ok")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.StreamEvent("Chat")
		r.StreamError()
		r.Reconciled("inserted")
		r.PageLoad("ok")
		r.Handover()
		r.Refresh("ok")
	})
}

func TestHandler_ServesCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	r.Handover()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "coven_console_handover_detections_total 1")
}
