// Package reconcile pulls punches from one terminal and forwards them to the
// attendance backend.
package reconcile

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/verte-zerg/punchsync/internal/classify"
	"github.com/verte-zerg/punchsync/internal/model"
	"github.com/verte-zerg/punchsync/internal/stats"
	"github.com/verte-zerg/punchsync/internal/terminal"
)

// Deliverer sends one classified punch to the backend.
type Deliverer interface {
	Deliver(ctx context.Context, punch model.ClassifiedPunch, deviceID string) model.Outcome
}

// DeviceInfo describes what was read from a terminal before delivering.
type DeviceInfo struct {
	Name     string
	Firmware string
	Users    int
	Records  int
	InWindow int
}

// Observer receives progress as a terminal is processed. Calls happen on the
// engine's goroutine, in order.
type Observer interface {
	TerminalStarted(cfg model.TerminalConfig)
	TerminalConnected(cfg model.TerminalConfig, info DeviceInfo)
	PunchProcessed(cfg model.TerminalConfig, index, total int, punch model.ClassifiedPunch, outcome model.Outcome)
	TerminalFinished(cfg model.TerminalConfig, counts stats.Counts, err error)
}

type nopObserver struct{}

func (nopObserver) TerminalStarted(model.TerminalConfig) {}

func (nopObserver) TerminalConnected(model.TerminalConfig, DeviceInfo) {}

func (nopObserver) PunchProcessed(model.TerminalConfig, int, int, model.ClassifiedPunch, model.Outcome) {
}

func (nopObserver) TerminalFinished(model.TerminalConfig, stats.Counts, error) {}

// Engine runs the per-terminal pipeline: fetch, filter, classify, order and
// deliver. It is sequential; one record is fully handled before the next.
type Engine struct {
	dialer    terminal.Dialer
	deliverer Deliverer
	timeout   time.Duration
	observer  Observer
	logger    *zap.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithObserver reports progress to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTimeout bounds connecting to and reading from each terminal.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// NewEngine creates an engine reading terminals through dialer and
// delivering through deliverer.
func NewEngine(dialer terminal.Dialer, deliverer Deliverer, opts ...Option) *Engine {
	e := &Engine{
		dialer:    dialer,
		deliverer: deliverer,
		timeout:   terminal.DefaultTimeout,
		observer:  nopObserver{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncTerminal delivers every in-window punch of one terminal. On a
// connection or listing failure the counts gathered so far are returned with
// a *terminal.Error. Cancellation returns ctx.Err().
func (e *Engine) SyncTerminal(ctx context.Context, cfg model.TerminalConfig, w model.SyncWindow) (stats.Counts, error) {
	log := e.logger.With(zap.String("terminal", cfg.Name))
	e.observer.TerminalStarted(cfg)

	var counts stats.Counts
	err := terminal.WithConn(ctx, e.dialer, cfg, e.timeout, func(conn terminal.Conn) error {
		punches, info, err := e.fetch(ctx, conn, cfg, w, log)
		if err != nil {
			return err
		}
		e.observer.TerminalConnected(cfg, info)

		counts.Total = len(punches)
		for i, punch := range punches {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcome := e.deliverer.Deliver(ctx, punch, cfg.DeviceID)
			if err := ctx.Err(); err != nil {
				return err
			}
			counts.Record(outcome)
			if outcome.Kind == model.OutcomeFailed {
				log.Warn("delivery failed",
					zap.String("employee", punch.EmployeeID),
					zap.String("timestamp", punch.Timestamp),
					zap.String("reason", outcome.Reason))
			}
			e.observer.PunchProcessed(cfg, i+1, len(punches), punch, outcome)
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		} else {
			log.Error("terminal failed", zap.Error(err))
		}
	}
	e.observer.TerminalFinished(cfg, counts, err)
	return counts, err
}

// Collect reads and classifies the in-window punches of one terminal
// without delivering them.
func (e *Engine) Collect(ctx context.Context, cfg model.TerminalConfig, w model.SyncWindow) ([]model.ClassifiedPunch, DeviceInfo, error) {
	log := e.logger.With(zap.String("terminal", cfg.Name))
	var (
		punches []model.ClassifiedPunch
		info    DeviceInfo
	)
	err := terminal.WithConn(ctx, e.dialer, cfg, e.timeout, func(conn terminal.Conn) error {
		var err error
		punches, info, err = e.fetch(ctx, conn, cfg, w, log)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, DeviceInfo{}, ctxErr
		}
		return nil, DeviceInfo{}, err
	}
	return punches, info, nil
}

func (e *Engine) fetch(ctx context.Context, conn terminal.Conn, cfg model.TerminalConfig, w model.SyncWindow, log *zap.Logger) ([]model.ClassifiedPunch, DeviceInfo, error) {
	var info DeviceInfo

	// Device metadata is diagnostic only.
	name, err := conn.DeviceName(ctx)
	if err != nil {
		log.Warn("failed to read device name", zap.Error(err))
	}
	info.Name = name
	firmware, err := conn.FirmwareVersion(ctx)
	if err != nil {
		log.Warn("failed to read firmware version", zap.Error(err))
	}
	info.Firmware = firmware
	if err := ctx.Err(); err != nil {
		return nil, info, err
	}

	users, err := conn.Users(ctx)
	if err != nil {
		return nil, info, &terminal.Error{Terminal: cfg.Name, Op: terminal.OpListUsers, Err: err}
	}
	info.Users = len(users)

	records, err := conn.Attendance(ctx)
	if err != nil {
		return nil, info, &terminal.Error{Terminal: cfg.Name, Op: terminal.OpListAttendance, Err: err}
	}
	info.Records = len(records)

	selected := SelectWindow(records, w)
	info.InWindow = len(selected)
	log.Info("terminal read",
		zap.String("device", info.Name),
		zap.String("firmware", info.Firmware),
		zap.Int("users", info.Users),
		zap.Int("records", info.Records),
		zap.Int("in_window", info.InWindow))

	punches := make([]model.ClassifiedPunch, 0, len(selected))
	for _, rec := range selected {
		punch := classify.Classify(rec)
		if punch.Category == model.CategoryUnknown {
			log.Debug("unknown terminal state", zap.Int("state", rec.State), zap.String("user", rec.UserID))
		}
		punches = append(punches, punch)
	}
	return punches, info, nil
}

// SelectWindow keeps the records inside w and orders them by ascending
// timestamp. Records with equal timestamps keep their device order.
func SelectWindow(records []model.RawPunchRecord, w model.SyncWindow) []model.RawPunchRecord {
	out := make([]model.RawPunchRecord, 0, len(records))
	for _, rec := range records {
		if w.Contains(rec.Timestamp) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
