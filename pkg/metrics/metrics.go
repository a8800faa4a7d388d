// Package metrics records per-run Prometheus metrics and writes them as a
// node-exporter textfile, since a run is a short-lived process with nothing
// to scrape.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/entrhq/courier/pkg/ledger"
	"github.com/entrhq/courier/pkg/types"
)

const namespace = "courier"

// Run collects the metrics of one run. A nil *Run records nothing.
type Run struct {
	registry *prometheus.Registry

	items      *prometheus.CounterVec
	pages      prometheus.Counter
	downloaded prometheus.Counter
	amounts    *prometheus.CounterVec
	authWait   prometheus.Gauge
	duration   prometheus.Gauge
	lastRun    prometheus.Gauge
	outcome    *prometheus.GaugeVec
}

// NewRun creates the metrics for a run of workflow against site.
func NewRun(site, workflow string) *Run {
	labels := prometheus.Labels{"site": site, "workflow": workflow}
	r := &Run{
		registry: prometheus.NewRegistry(),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "items_total",
			Help:        "Ledger keys handled in the run, by resulting status.",
			ConstLabels: labels,
		}, []string{"status"}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "pages_visited_total",
			Help:        "Distinct UI pages walked during traversal.",
			ConstLabels: labels,
		}),
		downloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "downloaded_bytes_total",
			Help:        "Bytes of documents saved in the run.",
			ConstLabels: labels,
		}),
		amounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "amount_entered_total",
			Help:        "Money entered as expenses in the run, by category.",
			ConstLabels: labels,
		}, []string{"category"}),
		authWait: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "auth_code_wait_seconds",
			Help:        "Time spent waiting for the operator to supply a one-time code.",
			ConstLabels: labels,
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "run_duration_seconds",
			Help:        "Wall time of the run.",
			ConstLabels: labels,
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_run_timestamp_seconds",
			Help:        "Unix time the run finished.",
			ConstLabels: labels,
		}),
		outcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "run_outcome",
			Help:        "1 for the outcome and error kind of the run.",
			ConstLabels: labels,
		}, []string{"outcome", "kind"}),
	}
	r.registry.MustRegister(r.items, r.pages, r.downloaded, r.amounts, r.authWait, r.duration, r.lastRun, r.outcome)
	return r
}

// Registry exposes the run's collectors.
func (r *Run) Registry() *prometheus.Registry {
	return r.registry
}

// Item counts a handled key.
func (r *Run) Item(status ledger.Status) {
	if r == nil {
		return
	}
	r.items.WithLabelValues(string(status)).Inc()
}

// Page counts a walked page.
func (r *Run) Page() {
	if r == nil {
		return
	}
	r.pages.Inc()
}

// Downloaded adds saved document bytes.
func (r *Run) Downloaded(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.downloaded.Add(float64(n))
}

// Entered adds an amount entered under category.
func (r *Run) Entered(category string, amount decimal.Decimal) {
	if r == nil || !amount.IsPositive() {
		return
	}
	r.amounts.WithLabelValues(category).Add(amount.InexactFloat64())
}

// AuthWait records how long the code wait took.
func (r *Run) AuthWait(d time.Duration) {
	if r == nil {
		return
	}
	r.authWait.Set(d.Seconds())
}

// Finish records the run's outcome.
func (r *Run) Finish(err error, d time.Duration, at time.Time) {
	if r == nil {
		return
	}
	r.duration.Set(d.Seconds())
	r.lastRun.Set(float64(at.Unix()))
	kind := string(types.KindOf(err))
	if err != nil && kind == "" {
		kind = "unknown"
	}
	r.outcome.WithLabelValues(string(types.OutcomeOf(err)), kind).Set(1)
}

// WriteTextfile writes the metrics to path for a textfile collector.
func (r *Run) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
