package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/buildpass/buildpass-backend/pkg/httputil"
)

const namespace = "buildpass"

// Metrics provides observability for the legality service. All methods are
// safe to call on a nil *Metrics.
type Metrics struct {
	// Check outcomes by resolved status
	Checks *prometheus.CounterVec

	// Snapshot recomputes by outcome: changed, unchanged, propagation_failed, failed
	Recomputes *prometheus.CounterVec

	// Best-effort lookups that failed, by source
	LookupDegraded *prometheus.CounterVec

	// Listing mirror updates that failed
	PropagationFailures prometheus.Counter

	// Check cache hits and misses
	CacheResults *prometheus.CounterVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers all legality metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Checks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legality_checks_total",
			Help:      "Total interactive legality checks by resolved status",
		}, []string{"status"}),

		Recomputes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legality_recomputes_total",
			Help:      "Total snapshot recomputes by outcome",
		}, []string{"outcome"}),

		LookupDegraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legality_lookup_degraded_total",
			Help:      "Best-effort lookups that failed and were skipped, by source",
		}, []string{"source"}),

		PropagationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legality_listing_propagation_failures_total",
			Help:      "Listing mirror updates that failed during a recompute",
		}),

		CacheResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legality_check_cache_total",
			Help:      "Check cache lookups by result",
		}, []string{"result"}), // result: "hit", "miss", "error"

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "path"}),
	}
}

// IncCheck records the status of one interactive check
func (m *Metrics) IncCheck(status string) {
	if m != nil {
		m.Checks.WithLabelValues(status).Inc()
	}
}

// IncRecompute records a recompute outcome
func (m *Metrics) IncRecompute(outcome string) {
	if m != nil {
		m.Recomputes.WithLabelValues(outcome).Inc()
	}
}

// IncDegraded records failed best-effort sources
func (m *Metrics) IncDegraded(sources ...string) {
	if m == nil {
		return
	}
	for _, s := range sources {
		m.LookupDegraded.WithLabelValues(s).Inc()
	}
}

// AddPropagationFailures records failed listing updates
func (m *Metrics) AddPropagationFailures(n int) {
	if m != nil && n > 0 {
		m.PropagationFailures.Add(float64(n))
	}
}

// IncCache records a cache lookup result
func (m *Metrics) IncCache(result string) {
	if m != nil {
		m.CacheResults.WithLabelValues(result).Inc()
	}
}

// Middleware records request counts and latency. Paths are chi route patterns
// so that ids do not create new label values.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := httputil.WrapResponseWriter(w)
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		m.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
