package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the HLS edge proxy.
type Metrics struct {
	registry                *prometheus.Registry
	requestsTotal           prometheus.Counter
	segmentsServedTotal     *prometheus.CounterVec
	segmentBytesTotal       *prometheus.CounterVec
	adBreaksInsertedTotal   prometheus.Counter
	streamsPublishedTotal   prometheus.Counter
	upstreamErrorsTotal     prometheus.Counter
	adDecisionFailuresTotal prometheus.Counter
	enrichmentFailuresTotal prometheus.Counter
	activeSessions          prometheus.Gauge
	errorsTotal             prometheus.Counter
}

// New creates and registers Prometheus metrics for the proxy.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_requests_total",
		Help: "Total number of HTTP requests received",
	})
	segmentsServedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_segments_served_total",
		Help: "Total number of media segments proxied to viewers",
	}, []string{"quality"})
	segmentBytesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_segment_bytes_total",
		Help: "Total media bytes proxied to viewers",
	}, []string{"quality"})
	adBreaksInsertedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_ad_breaks_inserted_total",
		Help: "Total number of ad breaks inserted into playlists",
	})
	streamsPublishedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_streams_published_total",
		Help: "Total number of accepted publish hooks",
	})
	upstreamErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_upstream_errors_total",
		Help: "Total number of failed origin or ad-origin fetches",
	})
	adDecisionFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_ad_decision_failures_total",
		Help: "Total number of absorbed ad-decision call failures",
	})
	enrichmentFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_enrichment_failures_total",
		Help: "Total number of absorbed session-context enrichment failures",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hls_active_sessions",
		Help: "Number of viewer sessions currently tracked",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		segmentsServedTotal,
		segmentBytesTotal,
		adBreaksInsertedTotal,
		streamsPublishedTotal,
		upstreamErrorsTotal,
		adDecisionFailuresTotal,
		enrichmentFailuresTotal,
		activeSessions,
		errorsTotal,
	)

	return &Metrics{
		registry:                registry,
		requestsTotal:           requestsTotal,
		segmentsServedTotal:     segmentsServedTotal,
		segmentBytesTotal:       segmentBytesTotal,
		adBreaksInsertedTotal:   adBreaksInsertedTotal,
		streamsPublishedTotal:   streamsPublishedTotal,
		upstreamErrorsTotal:     upstreamErrorsTotal,
		adDecisionFailuresTotal: adDecisionFailuresTotal,
		enrichmentFailuresTotal: enrichmentFailuresTotal,
		activeSessions:          activeSessions,
		errorsTotal:             errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// ObserveSegmentServed records one proxied segment and its size for a quality.
// The empty quality label covers single-rendition streams.
func (m *Metrics) ObserveSegmentServed(quality string, bytes int64) {
	m.segmentsServedTotal.WithLabelValues(quality).Inc()
	m.segmentBytesTotal.WithLabelValues(quality).Add(float64(bytes))
}

// IncAdBreaksInserted increments the inserted ad break counter.
func (m *Metrics) IncAdBreaksInserted() {
	m.adBreaksInsertedTotal.Inc()
}

// IncStreamsPublished increments the accepted publish hook counter.
func (m *Metrics) IncStreamsPublished() {
	m.streamsPublishedTotal.Inc()
}

// IncUpstreamErrors increments the failed upstream fetch counter.
func (m *Metrics) IncUpstreamErrors() {
	m.upstreamErrorsTotal.Inc()
}

// IncAdDecisionFailures increments the absorbed ad-decision failure counter.
func (m *Metrics) IncAdDecisionFailures() {
	m.adDecisionFailuresTotal.Inc()
}

// IncEnrichmentFailures increments the absorbed enrichment failure counter.
func (m *Metrics) IncEnrichmentFailures() {
	m.enrichmentFailuresTotal.Inc()
}

// SetActiveSessions sets the tracked sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
