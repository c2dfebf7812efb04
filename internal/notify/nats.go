// Package notify announces completed runs on NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/verte-zerg/punchsync/internal/run"
	"github.com/verte-zerg/punchsync/internal/stats"
)

// DefaultSubject is the subject run events are published on.
const DefaultSubject = "attendance.sync.completed"

const connectTimeout = 5 * time.Second

// Totals mirrors stats.Counts on the wire.
type Totals struct {
	Total      int            `json:"total"`
	Sent       int            `json:"sent"`
	Duplicates int            `json:"duplicates"`
	Errors     int            `json:"errors"`
	Anomalies  map[string]int `json:"anomalies,omitempty"`
}

// TerminalEvent is the per-terminal part of a RunCompleted event.
type TerminalEvent struct {
	Name     string `json:"name"`
	DeviceID string `json:"deviceId"`
	Totals
	Error string `json:"error,omitempty"`
}

// RunCompleted is published once per finished run.
type RunCompleted struct {
	RunID       string          `json:"runId"`
	TenantID    string          `json:"tenantId"`
	WindowStart time.Time       `json:"windowStart"`
	WindowEnd   time.Time       `json:"windowEnd"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
	Totals      Totals          `json:"totals"`
	Terminals   []TerminalEvent `json:"terminals"`
}

func totals(c stats.Counts) Totals {
	return Totals{
		Total:      c.Total,
		Sent:       c.Sent,
		Duplicates: c.Duplicates,
		Errors:     c.Errors,
		Anomalies:  c.Anomalies,
	}
}

// NewRunCompleted builds the event for res.
func NewRunCompleted(res run.Result) RunCompleted {
	ev := RunCompleted{
		RunID:       res.ID.String(),
		TenantID:    res.TenantID,
		WindowStart: res.Window.Start,
		WindowEnd:   res.Window.End,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
		Totals:      totals(res.Total),
		Terminals:   make([]TerminalEvent, 0, len(res.Terminals)),
	}
	for _, t := range res.Terminals {
		te := TerminalEvent{
			Name:     t.Terminal.Name,
			DeviceID: t.Terminal.DeviceID,
			Totals:   totals(t.Counts),
		}
		if t.Err != nil {
			te.Error = t.Err.Error()
		}
		ev.Terminals = append(ev.Terminals, te)
	}
	return ev
}

// Publisher sends RunCompleted events. A connection is opened per event and
// drained afterwards, matching the one-shot life of a run. It implements
// run.Sink.
type Publisher struct {
	url     string
	subject string
	logger  *zap.Logger
}

// NewPublisher creates a publisher for the NATS server at url.
func NewPublisher(url, subject string, logger *zap.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{url: url, subject: subject, logger: logger}
}

func (p *Publisher) Name() string {
	return "nats"
}

// Publish sends the event for res and waits for the server to acknowledge
// the flush.
func (p *Publisher) Publish(ctx context.Context, res run.Result) error {
	payload, err := json.Marshal(NewRunCompleted(res))
	if err != nil {
		return fmt.Errorf("failed to encode run event: %w", err)
	}

	nc, err := nats.Connect(p.url,
		nats.Name("punchsync"),
		nats.Timeout(connectTimeout),
		nats.NoReconnect(),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			p.logger.Warn("nats async error", zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}
	defer nc.Close()

	if err := nc.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush run event: %w", err)
	}
	if err := nc.Drain(); err != nil {
		p.logger.Debug("nats drain failed", zap.Error(err))
	}
	p.logger.Debug("run event published", zap.String("subject", p.subject), zap.Int("bytes", len(payload)))
	return nil
}
