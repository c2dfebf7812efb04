// Package metrics pushes run gauges to a Prometheus Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/verte-zerg/punchsync/internal/run"
)

// Job is the Pushgateway job name.
const Job = "punchsync"

// Outcome label values of punchsync_records.
const (
	OutcomeTotal     = "total"
	OutcomeSent      = "sent"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

type collectors struct {
	registry  *prometheus.Registry
	records   *prometheus.GaugeVec
	anomalies *prometheus.GaugeVec
	up        *prometheus.GaugeVec
	lastRun   prometheus.Gauge
}

func newCollectors() *collectors {
	c := &collectors{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "punchsync_records",
			Help: "Punches handled in the last run, by terminal and outcome.",
		}, []string{"terminal", "outcome"}),
		anomalies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "punchsync_anomalies",
			Help: "Anomalies flagged by the backend in the last run.",
		}, []string{"terminal", "anomaly"}),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "punchsync_terminal_up",
			Help: "Whether the terminal was read successfully in the last run.",
		}, []string{"terminal"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "punchsync_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}
	c.registry.MustRegister(c.records, c.anomalies, c.up, c.lastRun)
	return c
}

func (c *collectors) observe(res run.Result) {
	for _, t := range res.Terminals {
		name := t.Terminal.Name
		c.records.WithLabelValues(name, OutcomeTotal).Set(float64(t.Counts.Total))
		c.records.WithLabelValues(name, OutcomeSent).Set(float64(t.Counts.Sent))
		c.records.WithLabelValues(name, OutcomeDuplicate).Set(float64(t.Counts.Duplicates))
		c.records.WithLabelValues(name, OutcomeError).Set(float64(t.Counts.Errors))
		for label, n := range t.Counts.Anomalies {
			c.anomalies.WithLabelValues(name, label).Set(float64(n))
		}
		up := 1.0
		if t.Err != nil {
			up = 0
		}
		c.up.WithLabelValues(name).Set(up)
	}
	c.lastRun.Set(float64(res.FinishedAt.Unix()))
}

// Pusher publishes the gauges of each run. It implements run.Sink.
type Pusher struct {
	url    string
	client *http.Client
}

// NewPusher creates a pusher targeting the Pushgateway at url. A nil client
// uses http.DefaultClient.
func NewPusher(url string, client *http.Client) *Pusher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Pusher{url: url, client: client}
}

func (p *Pusher) Name() string {
	return "pushgateway"
}

// Publish replaces the run group of the tenant on the Pushgateway.
func (p *Pusher) Publish(ctx context.Context, res run.Result) error {
	c := newCollectors()
	c.observe(res)

	pusher := push.New(p.url, Job).Gatherer(c.registry).Client(p.client)
	if res.TenantID != "" {
		pusher = pusher.Grouping("tenant", res.TenantID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics (%d terminals): %w", len(res.Terminals), err)
	}
	return nil
}
