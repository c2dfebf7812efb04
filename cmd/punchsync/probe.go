package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/punchsync/internal/model"
	"github.com/verte-zerg/punchsync/internal/reconcile"
	"github.com/verte-zerg/punchsync/internal/report"
	"github.com/verte-zerg/punchsync/internal/run"
)

func (a *app) probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Connect to every terminal and print device details without sending anything",
		Args:  cobra.NoArgs,
		RunE:  a.runProbe,
	}
}

func (a *app) runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	engine, w, err := a.collector(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	printer := report.NewPrinter(a.stdout)
	failed := 0
	for _, t := range cfg.Terminals {
		_, info, err := engine.Collect(ctx, t, w)
		if errors.Is(err, context.Canceled) {
			return WrapExitError(ExitInterrupted, "probe aborted", err)
		}
		if err != nil {
			failed++
		}
		printer.Probe(t, info, err)
	}
	if err := printer.Err(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d terminals failed", failed, len(cfg.Terminals)))
	}
	return nil
}

// collector builds an engine that only reads terminals, along with the
// window a sync started now would cover.
func (a *app) collector(cfg model.Config) (*reconcile.Engine, model.SyncWindow, error) {
	w, err := run.PlanWindow(cfg, a.now())
	if err != nil {
		return nil, model.SyncWindow{}, WrapExitError(ExitFailure, "invalid window", err)
	}
	engine := reconcile.NewEngine(
		a.newDialer(cfg.Location, a.logger),
		nil,
		reconcile.WithTimeout(cfg.TerminalTimeout),
		reconcile.WithLogger(a.logger),
	)
	return engine, w, nil
}
