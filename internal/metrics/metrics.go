// Package metrics exports instrument I/O counters and exchange latency in
// Prometheus format.
package metrics

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaunagostinho/k648x-driver/internal/k648x"
)

// Source is anything that can report a port's I/O counters.
type Source interface {
	Name() string
	Model() string
	Stats() k648x.Stats
	IsConnected() bool
}

var (
	ioErrorsDesc = prometheus.NewDesc(
		"k648x_io_errors_total",
		"Failed transport operations.",
		[]string{"port", "model"}, nil,
	)
	writeReadsDesc = prometheus.NewDesc(
		"k648x_write_reads_total",
		"Successful command/response exchanges.",
		[]string{"port", "model"}, nil,
	)
	writeOnlysDesc = prometheus.NewDesc(
		"k648x_write_onlys_total",
		"Successful commands without response.",
		[]string{"port", "model"}, nil,
	)
	connectedDesc = prometheus.NewDesc(
		"k648x_connected",
		"1 while the port has an initialized session.",
		[]string{"port", "model"}, nil,
	)
)

// Metrics owns a private registry so several instances can coexist.
type Metrics struct {
	registry *prometheus.Registry
	duration *prometheus.HistogramVec

	mu      sync.RWMutex
	sources map[string]Source
}

// New creates the registry with the process and Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "k648x_exchange_duration_seconds",
			Help:    "Transport operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"port", "kind"}),
		sources: make(map[string]Source),
	}
	m.registry.MustRegister(
		m,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Add starts exporting src's counters.
func (m *Metrics) Add(src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.Name()] = src
}

// Observe records one exchange's latency. It is a k648x.Observer.
func (m *Metrics) Observe(ex k648x.Exchange) {
	kind := "write"
	if ex.WriteRead {
		kind = "writeRead"
	}
	m.duration.WithLabelValues(ex.Port, kind).Observe(ex.Duration.Seconds())
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- ioErrorsDesc
	ch <- writeReadsDesc
	ch <- writeOnlysDesc
	ch <- connectedDesc
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.mu.RLock()
	sources := make([]Source, 0, len(m.sources))
	for _, src := range m.sources {
		sources = append(sources, src)
	}
	m.mu.RUnlock()
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name() < sources[j].Name() })

	for _, src := range sources {
		name := src.Name()
		st := src.Stats()
		model := src.Model()
		ch <- prometheus.MustNewConstMetric(ioErrorsDesc, prometheus.CounterValue, float64(st.IOErrors), name, model)
		ch <- prometheus.MustNewConstMetric(writeReadsDesc, prometheus.CounterValue, float64(st.WriteReads), name, model)
		ch <- prometheus.MustNewConstMetric(writeOnlysDesc, prometheus.CounterValue, float64(st.WriteOnlys), name, model)

		up := 0.0
		if src.IsConnected() {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(connectedDesc, prometheus.GaugeValue, up, name, model)
	}
}
