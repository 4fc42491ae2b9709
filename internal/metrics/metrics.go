// Package metrics exposes Prometheus collectors for the scrape service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal         *prometheus.CounterVec
	itemsTotal          *prometheus.CounterVec
	itemDurationSeconds *prometheus.HistogramVec
	postsSavedTotal     *prometheus.CounterVec
	waitSeconds         *prometheus.HistogramVec
	lastCycleTimestamp  prometheus.Gauge
	shutdownRequested   prometheus.Gauge
	registryItems       prometheus.Gauge

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgscraper_cycles_total",
				Help: "Scrape cycles, labeled by outcome (completed, abandoned, failed).",
			},
			[]string{"outcome"},
		)
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgscraper_items_total",
				Help: "Channel scrape attempts, labeled by status.",
			},
			[]string{"status"},
		)
		itemDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tgscraper_item_duration_seconds",
				Help:    "Duration of a single channel scrape.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"status"},
		)
		postsSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgscraper_posts_saved_total",
				Help: "New posts persisted, labeled by channel.",
			},
			[]string{"channel"},
		)
		waitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tgscraper_wait_seconds",
				Help:    "Time actually spent waiting between cycles, labeled by kind (interval, cooldown).",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 3600},
			},
			[]string{"kind"},
		)
		lastCycleTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tgscraper_last_cycle_timestamp_seconds",
				Help: "Unix time at which the last cycle finished.",
			},
		)
		shutdownRequested = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tgscraper_shutdown_requested",
				Help: "1 once a graceful shutdown has been requested.",
			},
		)
		registryItems = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tgscraper_registry_items",
				Help: "Number of channels in the registry snapshot of the current cycle.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCycle records a finished cycle.
func ObserveCycle(outcome string, items int) {
	Init()
	cyclesTotal.WithLabelValues(outcome).Inc()
	registryItems.Set(float64(items))
	lastCycleTimestamp.SetToCurrentTime()
}

// ObserveItem records one channel attempt.
func ObserveItem(status string, took time.Duration) {
	Init()
	itemsTotal.WithLabelValues(status).Inc()
	itemDurationSeconds.WithLabelValues(status).Observe(took.Seconds())
}

// ObservePostsSaved adds n saved posts for channel.
func ObservePostsSaved(channel string, n int) {
	if n <= 0 {
		return
	}
	Init()
	postsSavedTotal.WithLabelValues(channel).Add(float64(n))
}

// ObserveWait records time spent in an inter-cycle wait.
func ObserveWait(kind string, waited time.Duration) {
	Init()
	waitSeconds.WithLabelValues(kind).Observe(waited.Seconds())
}

// MarkShutdownRequested flips the shutdown gauge.
func MarkShutdownRequested() {
	Init()
	shutdownRequested.Set(1)
}
