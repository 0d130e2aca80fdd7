// Package metrics exposes sync and classification metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector is what the engine and the refresh controller record into
type MetricsCollector interface {
	RecordFetch(repo string, duration time.Duration, err error)
	RecordCommit(repo string, created, updated, unchanged, deleted int)
	RecordItemFailures(count int)
	RecordPayloadSkips(count int)
	RecordWakes(count int)
	RecordIntent(kind string, err error)
	SetSectionCounts(counts map[string]int)
	SetBadge(count int)
}

// Collector is the Prometheus implementation of MetricsCollector
type Collector struct {
	fetches       *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	itemsSynced   *prometheus.CounterVec
	itemFailures  prometheus.Counter
	payloadSkips  prometheus.Counter
	wakes         prometheus.Counter
	intents       *prometheus.CounterVec
	sectionCounts *prometheus.GaugeVec
	badge         prometheus.Gauge
}

// NewCollector creates a Collector and registers it with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "argh_fetch_total",
			Help: "Remote fetches per repository and result",
		}, []string{"repo", "result"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "argh_fetch_latency_seconds",
			Help:    "Latency of remote repository fetches",
			Buckets: prometheus.DefBuckets,
		}),
		itemsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "argh_items_synced_total",
			Help: "Items reconciled by disposition",
		}, []string{"disposition"}),
		itemFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "argh_item_failures_total",
			Help: "Item level storage failures",
		}),
		payloadSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "argh_payload_skips_total",
			Help: "Malformed remote payloads skipped",
		}),
		wakes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "argh_snooze_wakes_total",
			Help: "Snoozed items woken automatically",
		}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "argh_intents_total",
			Help: "User intents applied per kind and result",
		}, []string{"kind", "result"}),
		sectionCounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "argh_section_items",
			Help: "Items currently classified into each section",
		}, []string{"section"}),
		badge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "argh_badge_count",
			Help: "Unread comment badge count",
		}),
	}

	reg.MustRegister(
		c.fetches,
		c.fetchLatency,
		c.itemsSynced,
		c.itemFailures,
		c.payloadSkips,
		c.wakes,
		c.intents,
		c.sectionCounts,
		c.badge,
	)

	return c
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) RecordFetch(repo string, duration time.Duration, err error) {
	c.fetches.WithLabelValues(repo, result(err)).Inc()
	c.fetchLatency.Observe(duration.Seconds())
}

func (c *Collector) RecordCommit(repo string, created, updated, unchanged, deleted int) {
	c.itemsSynced.WithLabelValues("new").Add(float64(created))
	c.itemsSynced.WithLabelValues("updated").Add(float64(updated))
	c.itemsSynced.WithLabelValues("unchanged").Add(float64(unchanged))
	c.itemsSynced.WithLabelValues("deleted").Add(float64(deleted))
}

func (c *Collector) RecordItemFailures(count int) {
	c.itemFailures.Add(float64(count))
}

func (c *Collector) RecordPayloadSkips(count int) {
	c.payloadSkips.Add(float64(count))
}

func (c *Collector) RecordWakes(count int) {
	c.wakes.Add(float64(count))
}

func (c *Collector) RecordIntent(kind string, err error) {
	c.intents.WithLabelValues(kind, result(err)).Inc()
}

// SetSectionCounts replaces the section gauges
func (c *Collector) SetSectionCounts(counts map[string]int) {
	c.sectionCounts.Reset()
	for section, n := range counts {
		c.sectionCounts.WithLabelValues(section).Set(float64(n))
	}
}

func (c *Collector) SetBadge(count int) {
	c.badge.Set(float64(count))
}

// Nop discards everything
type Nop struct{}

func (Nop) RecordFetch(string, time.Duration, error) {}
func (Nop) RecordCommit(string, int, int, int, int) {}
func (Nop) RecordItemFailures(int) {}
func (Nop) RecordPayloadSkips(int) {}
func (Nop) RecordWakes(int) {}
func (Nop) RecordIntent(string, error) {}
func (Nop) SetSectionCounts(map[string]int) {}
func (Nop) SetBadge(int) {}

// Handler returns the scrape handler for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
