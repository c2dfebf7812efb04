// Package run sweeps every configured terminal once and aggregates the
// outcome.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verte-zerg/punchsync/internal/model"
	"github.com/verte-zerg/punchsync/internal/stats"
	"github.com/verte-zerg/punchsync/internal/window"
)

// ErrInterrupted is returned when the run context is cancelled. Partial
// results are discarded.
var ErrInterrupted = errors.New("run interrupted")

const sinkTimeout = 10 * time.Second

// Syncer processes one terminal. *reconcile.Engine satisfies it.
type Syncer interface {
	SyncTerminal(ctx context.Context, cfg model.TerminalConfig, w model.SyncWindow) (stats.Counts, error)
}

// Sink receives the result of a completed run.
type Sink interface {
	Name() string
	Publish(ctx context.Context, res Result) error
}

// TerminalResult is the outcome of one terminal.
type TerminalResult struct {
	Terminal model.TerminalConfig
	Counts   stats.Counts
	Err      error
}

// Result is the outcome of a whole run.
type Result struct {
	ID         uuid.UUID
	TenantID   string
	Window     model.SyncWindow
	StartedAt  time.Time
	FinishedAt time.Time
	Terminals  []TerminalResult
	Total      stats.Counts
}

// Summary converts the result into the rows of the final report.
func (r Result) Summary() stats.Summary {
	s := stats.Summary{Total: r.Total}
	for _, t := range r.Terminals {
		row := stats.TerminalRow{Name: t.Terminal.Name, Counts: t.Counts}
		if t.Err != nil {
			row.Err = t.Err.Error()
		}
		s.Terminals = append(s.Terminals, row)
	}
	return s
}

// Failed returns how many terminals ended with an error.
func (r Result) Failed() int {
	n := 0
	for _, t := range r.Terminals {
		if t.Err != nil {
			n++
		}
	}
	return n
}

// Runner drives one sequential sweep over the configured terminals.
type Runner struct {
	cfg     model.Config
	syncer  Syncer
	sinks   []Sink
	logger  *zap.Logger
	now     func() time.Time
	onStart func(Result)
}

// Option customizes a Runner.
type Option func(*Runner)

// WithSinks adds result sinks.
func WithSinks(sinks ...Sink) Option {
	return func(r *Runner) {
		r.sinks = append(r.sinks, sinks...)
	}
}

// WithLogger sets the runner logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// OnStart registers fn to be called once the window is known, before the
// first terminal.
func OnStart(fn func(Result)) Option {
	return func(r *Runner) {
		r.onStart = fn
	}
}

// NewRunner creates a runner for cfg.
func NewRunner(cfg model.Config, syncer Syncer, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		syncer: syncer,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PlanWindow returns the window a run starting at now covers.
func PlanWindow(cfg model.Config, now time.Time) (model.SyncWindow, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	if cfg.Since != nil {
		return window.Since(cfg.Since.In(loc), now)
	}
	return window.Compute(now), nil
}

// Run processes every terminal in configuration order. Terminal failures are
// recorded and the sweep continues.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	started := r.now()
	w, err := PlanWindow(r.cfg, started)
	if err != nil {
		return Result{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Result{}, fmt.Errorf("failed to create run id: %w", err)
	}

	res := Result{
		ID:        id,
		TenantID:  r.cfg.Backend.TenantID,
		Window:    w,
		StartedAt: started,
	}
	log := r.logger.With(zap.String("run_id", id.String()))
	log.Info("run started",
		zap.Time("window_start", w.Start),
		zap.Time("window_end", w.End),
		zap.Int("terminals", len(r.cfg.Terminals)))
	if r.onStart != nil {
		r.onStart(res)
	}

	for _, t := range r.cfg.Terminals {
		if ctx.Err() != nil {
			log.Warn("run interrupted")
			return Result{}, ErrInterrupted
		}
		counts, err := r.syncer.SyncTerminal(ctx, t, w)
		if ctx.Err() != nil {
			log.Warn("run interrupted", zap.String("terminal", t.Name))
			return Result{}, ErrInterrupted
		}
		res.Terminals = append(res.Terminals, TerminalResult{Terminal: t, Counts: counts, Err: err})
		res.Total.Merge(counts)
	}
	res.FinishedAt = r.now()

	log.Info("run finished",
		zap.Int("total", res.Total.Total),
		zap.Int("sent", res.Total.Sent),
		zap.Int("duplicates", res.Total.Duplicates),
		zap.Int("errors", res.Total.Errors),
		zap.Int("failed_terminals", res.Failed()),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))

	r.publish(ctx, res, log)
	return res, nil
}

func (r *Runner) publish(ctx context.Context, res Result, log *zap.Logger) {
	for _, sink := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := sink.Publish(sctx, res)
		cancel()
		if err != nil {
			log.Warn("failed to publish run result", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}
}
