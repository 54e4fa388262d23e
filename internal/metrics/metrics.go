// Package metrics collects Prometheus metrics for bidding, lifecycle transitions,
// the deadline scheduler and the change notifier.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector is what the ledger, engine, scheduler and notifier report to.
type MetricsCollector interface {
	RecordBidAccepted()
	RecordBidRejected(reason string)
	RecordTransition(result string)
	RecordSchedulerCycle(duration time.Duration, due int)
	RecordSchedulerFailure()
	ObserverSubscribed()
	ObserverRemoved(dropped bool)
}

// Collector is the Prometheus-backed MetricsCollector
type Collector struct {
	bidsAccepted      prometheus.Counter
	bidsRejected      *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	schedulerCycle    prometheus.Histogram
	schedulerDue      prometheus.Gauge
	schedulerFailures prometheus.Counter
	observers         prometheus.Gauge
	observersDropped  prometheus.Counter
}

// NewCollector creates a Collector and registers it with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bidsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_bids_accepted_total",
			Help: "Bids appended to a ledger.",
		}),
		bidsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_bids_rejected_total",
			Help: "Bid submissions rejected, by reason.",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_transitions_total",
			Help: "Lifecycle transitions applied, by result.",
		}, []string{"result"}),
		schedulerCycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auction_scheduler_cycle_seconds",
			Help:    "Duration of one deadline scheduler scan.",
			Buckets: prometheus.DefBuckets,
		}),
		schedulerDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_scheduler_due_auctions",
			Help: "Auctions found due in the last scan.",
		}),
		schedulerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_scheduler_failures_total",
			Help: "Transitions that failed and will be retried next cycle.",
		}),
		observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_observers",
			Help: "Currently subscribed observers.",
		}),
		observersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_observers_dropped_total",
			Help: "Observers dropped because their buffer overflowed.",
		}),
	}

	reg.MustRegister(
		c.bidsAccepted,
		c.bidsRejected,
		c.transitions,
		c.schedulerCycle,
		c.schedulerDue,
		c.schedulerFailures,
		c.observers,
		c.observersDropped,
	)

	return c
}

func (c *Collector) RecordBidAccepted() {
	c.bidsAccepted.Inc()
}

func (c *Collector) RecordBidRejected(reason string) {
	c.bidsRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordTransition(result string) {
	c.transitions.WithLabelValues(result).Inc()
}

func (c *Collector) RecordSchedulerCycle(duration time.Duration, due int) {
	c.schedulerCycle.Observe(duration.Seconds())
	c.schedulerDue.Set(float64(due))
}

func (c *Collector) RecordSchedulerFailure() {
	c.schedulerFailures.Inc()
}

func (c *Collector) ObserverSubscribed() {
	c.observers.Inc()
}

func (c *Collector) ObserverRemoved(dropped bool) {
	c.observers.Dec()
	if dropped {
		c.observersDropped.Inc()
	}
}

// Handler returns the scrape handler for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything. Used when metrics are not wired, e.g. in tests.
type Nop struct{}

func (Nop) RecordBidAccepted() {}
func (Nop) RecordBidRejected(string) {}
func (Nop) RecordTransition(string) {}
func (Nop) RecordSchedulerCycle(time.Duration, int) {}
func (Nop) RecordSchedulerFailure() {}
func (Nop) ObserverSubscribed() {}
func (Nop) ObserverRemoved(bool) {}
