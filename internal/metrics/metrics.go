// ABOUTME: Prometheus counters for stream traffic, reconciliation, paging and handovers
// ABOUTME: A nil *Recorder is valid and records nothing

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coven_console"

// Recorder holds the console's counters. All methods are safe on a nil
// receiver so components can run without metrics.
type Recorder struct {
	streamEvents *prometheus.CounterVec
	streamErrors prometheus.Counter
	reconcile    *prometheus.CounterVec
	pageLoads    *prometheus.CounterVec
	handovers    prometheus.Counter
	refreshes    *prometheus.CounterVec
}

// New creates a Recorder and registers its counters on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Push stream events received, by event name.",
		}, []string{"event"}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "errors_total",
			Help:      "Push stream transport and decode errors.",
		}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "reconcile_outcomes_total",
			Help:      "Streamed message merges, by outcome.",
		}, []string{"outcome"}),
		pageLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "page_loads_total",
			Help:      "History page loads, by result.",
		}, []string{"result"}),
		handovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handover",
			Name:      "detections_total",
			Help:      "Handover signals acted on.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handover",
			Name:      "refreshes_total",
			Help:      "Thread refreshes triggered by handovers, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(r.streamEvents, r.streamErrors, r.reconcile, r.pageLoads, r.handovers, r.refreshes)
	return r
}

// Handler serves the counters gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// StreamEvent counts one push stream event.
func (r *Recorder) StreamEvent(event string) {
	if r == nil {
		return
	}
	r.streamEvents.WithLabelValues(event).Inc()
}

// StreamError counts one stream failure.
func (r *Recorder) StreamError() {
	if r == nil {
		return
	}
	r.streamErrors.Inc()
}

// Reconciled counts one streamed merge outcome.
func (r *Recorder) Reconciled(outcome string) {
	if r == nil {
		return
	}
	r.reconcile.WithLabelValues(outcome).Inc()
}

// PageLoad counts one history page load. result is "ok", "error",
// "stale", "in_flight" or "no_more".
func (r *Recorder) PageLoad(result string) {
	if r == nil {
		return
	}
	r.pageLoads.WithLabelValues(result).Inc()
}

// Handover counts one acted-on handover signal.
func (r *Recorder) Handover() {
	if r == nil {
		return
	}
	r.handovers.Inc()
}

// Refresh counts one handover refresh attempt.
func (r *Recorder) Refresh(result string) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(result).Inc()
}
