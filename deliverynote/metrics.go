package deliverynote

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	Messages      *prometheus.CounterVec
	Files         *prometheus.CounterVec
	Records       *prometheus.CounterVec
	Watermark     *prometheus.GaugeVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deliverynote_cycles_total",
			Help: "Poll cycles by result (ok, error, busy)",
		}, []string{"result"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "deliverynote_cycle_duration_seconds",
			Help:    "Duration of poll cycles",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deliverynote_messages_total",
			Help: "Unread messages by outcome (handled, unmatched, duplicate, unread, failed)",
		}, []string{"outcome"}),
		Files: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deliverynote_files_total",
			Help: "Spreadsheet files by vendor and result (ok, error)",
		}, []string{"vendor", "result"}),
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deliverynote_records_emitted_total",
			Help: "Shipment records written to JSON output",
		}, []string{"vendor"}),
		Watermark: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deliverynote_watermark_date",
			Help: "Committed watermark per vendor as YYYYMMDD",
		}, []string{"vendor"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records the duration and result of a poll cycle.
// Call with time.Now() at the start of the cycle.
func (m *Metrics) ObserveCycle(start time.Time, result string) {
	m.CycleDuration.Observe(time.Since(start).Seconds())
	m.Cycles.WithLabelValues(result).Inc()
}

// SetWatermark exports a committed watermark.
func (m *Metrics) SetWatermark(vendor string, d Date) {
	m.Watermark.WithLabelValues(vendor).Set(float64(d.Key()))
}
