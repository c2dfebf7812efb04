package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/punchsync/internal/model"
	"github.com/verte-zerg/punchsync/internal/report"
)

func (a *app) punchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "punches <terminal>",
		Short: "List the classified in-window punches of one terminal without sending them",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runPunches,
	}
}

func (a *app) runPunches(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	target, ok := findTerminal(cfg.Terminals, args[0])
	if !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("unknown terminal %q", args[0]))
	}
	engine, w, err := a.collector(cfg)
	if err != nil {
		return err
	}

	punches, _, err := engine.Collect(cmd.Context(), target, w)
	if errors.Is(err, context.Canceled) {
		return WrapExitError(ExitInterrupted, "listing aborted", err)
	}
	if err != nil {
		return err
	}
	printer := report.NewPrinter(a.stdout)
	printer.Punches(target, punches)
	if err := printer.Err(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func findTerminal(terminals []model.TerminalConfig, name string) (model.TerminalConfig, bool) {
	for _, t := range terminals {
		if t.Name == name {
			return t, true
		}
	}
	return model.TerminalConfig{}, false
}
