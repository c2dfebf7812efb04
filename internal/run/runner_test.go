package run_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/verte-zerg/punchsync/internal/delivery"
	"github.com/verte-zerg/punchsync/internal/model"
	"github.com/verte-zerg/punchsync/internal/reconcile"
	"github.com/verte-zerg/punchsync/internal/run"
	"github.com/verte-zerg/punchsync/internal/stats"
	"github.com/verte-zerg/punchsync/internal/terminal"
	"github.com/verte-zerg/punchsync/internal/terminal/terminaltest"
)

// 2026-10-14 is a Wednesday.
var now = time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func baseConfig(terminals ...model.TerminalConfig) model.Config {
	return model.Config{
		Backend:   model.BackendConfig{TenantID: "340a6c2a-160e-4f4b-917e-6eea8fd5ff2d"},
		Terminals: terminals,
		Location:  time.UTC,
	}
}

func punchAt(userID string, ts time.Time, state int) model.RawPunchRecord {
	return model.RawPunchRecord{UserID: userID, Timestamp: ts, State: state, Verify: 1}
}

func TestRunTwoTerminalsEndToEnd(t *testing.T) {
	var (
		mu      sync.Mutex
		devices []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		devices = append(devices, r.Header.Get("X-Device-ID"))
		mu.Unlock()
		if body["timestamp"] == "2026-10-13T17:00:00.000Z" {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, `{"status":"DUPLICATE"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"status":"CREATED"}`)
	}))
	defer srv.Close()

	dialer := terminaltest.NewDialer().
		Add("CP", &terminaltest.Device{Records: []model.RawPunchRecord{
			punchAt("42", time.Date(2026, 10, 13, 17, 0, 0, 0, time.UTC), 1),
			punchAt("42", time.Date(2026, 10, 13, 8, 0, 0, 0, time.UTC), 0),
			punchAt("42", time.Date(2026, 10, 5, 8, 0, 0, 0, time.UTC), 0),
		}}).
		Add("CIT", &terminaltest.Device{Records: []model.RawPunchRecord{
			punchAt("7", time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC), 0),
		}})
	cfg := baseConfig(
		model.TerminalConfig{Name: "CP", Address: "192.168.16.174", Port: 4370, DeviceID: "EJB8241100241"},
		model.TerminalConfig{Name: "CIT", Address: "192.168.16.175", Port: 4370, DeviceID: "EJB8241100244"},
	)
	client := delivery.New(delivery.Options{Endpoint: srv.URL, TenantID: cfg.Backend.TenantID})
	engine := reconcile.NewEngine(dialer, client)

	var started run.Result
	res, err := run.NewRunner(cfg, engine,
		run.WithClock(clock),
		run.WithLogger(zaptest.NewLogger(t)),
		run.OnStart(func(r run.Result) { started = r }),
	).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, stats.Counts{Total: 3, Sent: 2, Duplicates: 1, Errors: 0}, res.Total)
	require.Len(t, res.Terminals, 2)
	assert.Equal(t, stats.Counts{Total: 2, Sent: 1, Duplicates: 1}, res.Terminals[0].Counts)
	assert.Equal(t, stats.Counts{Total: 1, Sent: 1}, res.Terminals[1].Counts)
	assert.Equal(t, 0, res.Failed())
	assert.Equal(t, []string{"EJB8241100241", "EJB8241100241", "EJB8241100244"}, devices)

	assert.Equal(t, uuid.Version(7), res.ID.Version())
	assert.Equal(t, res.ID, started.ID)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), res.Window.Start)
	assert.Equal(t, now, res.Window.End)
	assert.Equal(t, cfg.Backend.TenantID, res.TenantID)
}

func TestRunContinuesPastTerminalFailure(t *testing.T) {
	dialer := terminaltest.NewDialer().
		Add("CP", &terminaltest.Device{Records: []model.RawPunchRecord{
			punchAt("42", now.Add(-time.Hour), 0),
		}})
	cfg := baseConfig(model.TerminalConfig{Name: "CIT"}, model.TerminalConfig{Name: "CP"})
	rec := deliverAll{}
	engine := reconcile.NewEngine(dialer, rec)

	res, err := run.NewRunner(cfg, engine, run.WithClock(clock)).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Terminals, 2)
	var termErr *terminal.Error
	require.ErrorAs(t, res.Terminals[0].Err, &termErr)
	assert.Equal(t, terminal.OpConnect, termErr.Op)
	assert.Equal(t, 0, res.Terminals[0].Counts.Total)
	assert.NoError(t, res.Terminals[1].Err)
	assert.Equal(t, stats.Counts{Total: 1, Sent: 1}, res.Total)
	assert.Equal(t, 1, res.Failed())

	summary := res.Summary()
	require.Len(t, summary.Terminals, 2)
	assert.Contains(t, summary.Terminals[0].Err, "connect")
	assert.Empty(t, summary.Terminals[1].Err)
}

type deliverAll struct{}

func (deliverAll) Deliver(context.Context, model.ClassifiedPunch, string) model.Outcome {
	return model.Outcome{Kind: model.OutcomeDelivered, Status: "CREATED"}
}

type syncFunc func(ctx context.Context, cfg model.TerminalConfig, w model.SyncWindow) (stats.Counts, error)

func (f syncFunc) SyncTerminal(ctx context.Context, cfg model.TerminalConfig, w model.SyncWindow) (stats.Counts, error) {
	return f(ctx, cfg, w)
}

func TestRunInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []string
	syncer := syncFunc(func(ctx context.Context, cfg model.TerminalConfig, _ model.SyncWindow) (stats.Counts, error) {
		seen = append(seen, cfg.Name)
		cancel()
		return stats.Counts{Total: 1}, ctx.Err()
	})
	sink := &recordingSink{}
	cfg := baseConfig(model.TerminalConfig{Name: "CP"}, model.TerminalConfig{Name: "CIT"})

	res, err := run.NewRunner(cfg, syncer, run.WithClock(clock), run.WithSinks(sink)).Run(ctx)
	assert.ErrorIs(t, err, run.ErrInterrupted)
	assert.Equal(t, run.Result{}, res)
	assert.Equal(t, []string{"CP"}, seen)
	assert.Empty(t, sink.results)
}

type recordingSink struct {
	err     error
	results []run.Result
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, res run.Result) error {
	s.results = append(s.results, res)
	return s.err
}

func TestRunPublishesToSinks(t *testing.T) {
	syncer := syncFunc(func(context.Context, model.TerminalConfig, model.SyncWindow) (stats.Counts, error) {
		return stats.Counts{Total: 2, Sent: 2, Anomalies: map[string]int{"LATE_CHECKIN": 1}}, nil
	})
	failing := &recordingSink{err: errors.New("pushgateway down")}
	ok := &recordingSink{}
	cfg := baseConfig(model.TerminalConfig{Name: "CP"})

	res, err := run.NewRunner(cfg, syncer, run.WithClock(clock), run.WithSinks(failing, ok)).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, failing.results, 1)
	require.Len(t, ok.results, 1)
	assert.Equal(t, res.ID, ok.results[0].ID)
	assert.Equal(t, map[string]int{"LATE_CHECKIN": 1}, ok.results[0].Total.Anomalies)
}

func TestPlanWindow(t *testing.T) {
	monday := time.Date(2026, time.October, 19, 9, 0, 0, 0, time.UTC)
	w, err := run.PlanWindow(baseConfig(), monday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), w.Start)

	since := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)
	cfg := baseConfig()
	cfg.Since = &since
	w, err = run.PlanWindow(cfg, monday)
	require.NoError(t, err)
	assert.Equal(t, since, w.Start)
	assert.Equal(t, monday, w.End)

	future := monday.Add(time.Hour)
	cfg.Since = &future
	_, err = run.PlanWindow(cfg, monday)
	assert.Error(t, err)
}

func TestPlanWindowUsesConfiguredLocation(t *testing.T) {
	loc := time.FixedZone("UTC+1", 3600)
	cfg := baseConfig()
	cfg.Location = loc

	// Sunday 23:30 UTC is already Monday 00:30 at UTC+1.
	w, err := run.PlanWindow(cfg, time.Date(2026, time.October, 18, 23, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, loc), w.Start)
	assert.Equal(t, loc, w.Start.Location())
}
