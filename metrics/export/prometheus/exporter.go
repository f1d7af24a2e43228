package prometheus

import (
	"net/http"

	gmpAuth "github.com/MrEthical07/gmpAuth"
	"github.com/MrEthical07/gmpAuth/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() gmpAuth.MetricsSnapshot
	AuditDropped() uint64
}

// eventDropSource is implemented by sources that split drops by event type.
type eventDropSource interface {
	AuditDroppedByEvent() map[string]uint64
}

// Exporter is a prometheus.Collector over an engine's counters. Values are
// read from a fresh snapshot on every scrape.
type Exporter struct {
	source       metricsSource
	counters     []counterDesc
	histograms   []histogramDesc
	auditDropped *prometheus.Desc
	eventDropped *prometheus.Desc
}

type counterDesc struct {
	id   gmpAuth.MetricID
	desc *prometheus.Desc
}

type histogramDesc struct {
	id   gmpAuth.MetricID
	desc *prometheus.Desc
}

// NewExporter creates an exporter that reads from engine.
func NewExporter(engine *gmpAuth.Engine) *Exporter {
	return NewExporterFromSource(engine)
}

// NewExporterFromSource creates an exporter from any snapshot source.
func NewExporterFromSource(source metricsSource) *Exporter {
	e := &Exporter{
		source:       source,
		counters:     make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms:   make([]histogramDesc, 0, len(internaldefs.HistogramDefs)),
		auditDropped: prometheus.NewDesc(internaldefs.AuditDroppedName, "Audit events dropped because the dispatcher buffer was full.", nil, nil),
		eventDropped: prometheus.NewDesc(internaldefs.AuditDroppedByEventName, "Audit events dropped, by event type.", []string{"event_type"}, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, histogramDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	for _, h := range e.histograms {
		ch <- h.desc
	}
	ch <- e.auditDropped
	ch <- e.eventDropped
}

// Collect implements prometheus.Collector. A disabled engine reports
// nothing but the audit drop counter.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if e == nil || e.source == nil {
		return
	}
	snapshot := e.source.MetricsSnapshot()

	if len(snapshot.Counters) > 0 {
		for _, c := range e.counters {
			ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(snapshot.Counters[c.id]))
		}
	}
	for _, h := range e.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.UpperBounds))
		for i, bound := range internaldefs.UpperBounds {
			buckets[bound] = cumulative[i]
		}
		// Sum is not tracked by the engine.
		ch <- prometheus.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}
	ch <- prometheus.MustNewConstMetric(e.auditDropped, prometheus.CounterValue, float64(e.source.AuditDropped()))
	if src, ok := e.source.(eventDropSource); ok {
		for eventType, n := range src.AuditDroppedByEvent() {
			ch <- prometheus.MustNewConstMetric(e.eventDropped, prometheus.CounterValue, float64(n), eventType)
		}
	}
}

// Handler serves the exporter from a private registry, so it never touches
// prometheus.DefaultRegisterer.
func (e *Exporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
