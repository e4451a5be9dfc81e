package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process collectors. A nil *Metrics is valid and records
// nothing, so packages can take one optionally.
type Metrics struct {
	registry *prometheus.Registry

	downloadsActive   prometheus.Gauge
	downloadAttempts  prometheus.Counter
	downloadsFinished *prometheus.CounterVec
	searches          prometheus.Counter
	providerWarnings  *prometheus.CounterVec
	loopFaults        prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		downloadsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "videojockey", Name: "downloads_active",
			Help: "Downloads currently holding a worker slot.",
		}),
		downloadAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "videojockey", Name: "download_attempts_total",
			Help: "Fetch attempts started.",
		}),
		downloadsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "videojockey", Name: "download_results_total",
			Help: "Fetch attempt outcomes by result (completed, retry, failed, cancelled).",
		}, []string{"result"}),
		searches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "videojockey", Name: "searches_total",
			Help: "Metadata searches served.",
		}),
		providerWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "videojockey", Name: "search_provider_warnings_total",
			Help: "Provider failures degraded to warnings, by provider.",
		}, []string{"provider"}),
		loopFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "videojockey", Name: "scheduler_faults_total",
			Help: "Scheduling loop iterations that failed and backed off.",
		}),
	}
	m.registry.MustRegister(
		m.downloadsActive, m.downloadAttempts, m.downloadsFinished,
		m.searches, m.providerWarnings, m.loopFaults,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) DownloadStarted() {
	if m == nil {
		return
	}
	m.downloadsActive.Inc()
	m.downloadAttempts.Inc()
}

func (m *Metrics) DownloadFinished(result string) {
	if m == nil {
		return
	}
	m.downloadsActive.Dec()
	m.downloadsFinished.WithLabelValues(result).Inc()
}

func (m *Metrics) SearchServed(warningProviders []string) {
	if m == nil {
		return
	}
	m.searches.Inc()
	for _, p := range warningProviders {
		m.providerWarnings.WithLabelValues(p).Inc()
	}
}

func (m *Metrics) LoopFault() {
	if m == nil {
		return
	}
	m.loopFaults.Inc()
}
