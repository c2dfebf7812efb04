package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/punchsync/internal/config"
	"github.com/verte-zerg/punchsync/internal/delivery"
	"github.com/verte-zerg/punchsync/internal/metrics"
	"github.com/verte-zerg/punchsync/internal/model"
	"github.com/verte-zerg/punchsync/internal/notify"
	"github.com/verte-zerg/punchsync/internal/reconcile"
	"github.com/verte-zerg/punchsync/internal/report"
	"github.com/verte-zerg/punchsync/internal/run"
)

func (a *app) syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Forward in-window punches of every terminal (default command)",
		Args:  cobra.NoArgs,
		RunE:  a.runSync,
	}
	cmd.Flags().BoolVar(&a.failOnErrors, "fail-on-errors", false, "exit 1 when a delivery or terminal failed")
	return cmd
}

func (a *app) runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}

	printer := report.NewPrinter(a.stdout)
	client := delivery.New(delivery.Options{
		Endpoint:  cfg.Backend.URL.String(),
		TenantID:  cfg.Backend.TenantID,
		APIKey:    cfg.Backend.APIKey,
		Timeout:   cfg.Backend.Timeout,
		RateLimit: cfg.Backend.RateLimit,
		UserAgent: "punchsync/" + version,
	})
	engine := reconcile.NewEngine(
		a.newDialer(cfg.Location, a.logger),
		client,
		reconcile.WithTimeout(cfg.TerminalTimeout),
		reconcile.WithObserver(printer),
		reconcile.WithLogger(a.logger),
	)
	runner := run.NewRunner(cfg, engine,
		run.WithSinks(a.sinks(cfg)...),
		run.WithLogger(a.logger),
		run.WithClock(a.now),
		run.OnStart(func(r run.Result) {
			printer.Header(r.Window, cfg.Backend.URL.Redacted(), cfg.Backend.TenantID, len(cfg.Terminals))
		}),
	)

	res, err := runner.Run(cmd.Context())
	if errors.Is(err, run.ErrInterrupted) {
		return WrapExitError(ExitInterrupted, "sync aborted", err)
	}
	if err != nil {
		return err
	}

	printer.Summary(res.Summary())
	if err := printer.Err(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if a.failOnErrors && (res.Total.Errors > 0 || res.Failed() > 0) {
		return NewExitError(ExitFailure, fmt.Sprintf("%d delivery errors, %d failed terminals", res.Total.Errors, res.Failed()))
	}
	return nil
}

func (a *app) sinks(cfg model.Config) []run.Sink {
	var sinks []run.Sink
	if cfg.Report.PushgatewayURL != "" {
		sinks = append(sinks, metrics.NewPusher(cfg.Report.PushgatewayURL, nil))
	}
	if cfg.Report.NATSURL != "" {
		sinks = append(sinks, notify.NewPublisher(cfg.Report.NATSURL, cfg.Report.NATSSubject, a.logger))
	}
	return sinks
}

// loadConfig merges the config file into flags that were not set explicitly
// and resolves the result.
func (a *app) loadConfig(cmd *cobra.Command) (model.Config, error) {
	path := a.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	fileCfg, err := config.LoadConfig(path)
	if err != nil {
		return model.Config{}, WrapExitError(ExitFailure, "failed to load config", err)
	}

	s := &a.settings
	applyStringConfig(cmd, "backend-url", &s.BackendURL, fileCfg.Backend.URL)
	applyStringConfig(cmd, "tenant-id", &s.TenantID, fileCfg.Backend.TenantID)
	applyStringConfig(cmd, "api-key", &s.APIKey, fileCfg.Backend.APIKey)
	applyStringConfig(cmd, "timeout", &s.Timeout, fileCfg.Backend.Timeout)
	applyFloatConfig(cmd, "rate-limit", &s.RateLimit, fileCfg.Backend.RateLimit)
	applyStringConfig(cmd, "timezone", &s.Timezone, fileCfg.Sync.Timezone)
	applyStringConfig(cmd, "since", &s.Since, fileCfg.Sync.Since)
	applyStringConfig(cmd, "terminal-timeout", &s.TerminalTimeout, fileCfg.Sync.TerminalTimeout)
	applyStringConfig(cmd, "pushgateway-url", &s.PushgatewayURL, fileCfg.Report.PushgatewayURL)
	applyStringConfig(cmd, "nats-url", &s.NATSURL, fileCfg.Report.NATSURL)
	applyStringConfig(cmd, "nats-subject", &s.NATSSubject, fileCfg.Report.NATSSubject)
	s.Terminals = fileCfg.Terminals

	cfg, err := config.Resolve(*s)
	if err != nil {
		return model.Config{}, WrapExitError(ExitFailure, "invalid configuration ("+path+")", err)
	}
	return cfg, nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}
