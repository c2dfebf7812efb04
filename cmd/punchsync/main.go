// Package main provides the CLI entrypoint for punchsync.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/verte-zerg/punchsync/internal/config"
	"github.com/verte-zerg/punchsync/internal/terminal"
	"github.com/verte-zerg/punchsync/internal/zk"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := newApp()
	err := a.execute(ctx, a.rootCmd())
	stop()
	os.Exit(GetExitCode(err))
}

type app struct {
	configPath   string
	verbose      bool
	logFormat    string
	failOnErrors bool
	settings     config.Settings

	logger *zap.Logger
	stdout io.Writer
	now    func() time.Time

	newLogger func(verbose bool, format string) (*zap.Logger, error)
	newDialer func(loc *time.Location, logger *zap.Logger) terminal.Dialer
}

func newApp() *app {
	return &app{
		settings:  config.DefaultSettings(),
		stdout:    os.Stdout,
		now:       time.Now,
		newLogger: buildLogger,
		newDialer: func(loc *time.Location, logger *zap.Logger) terminal.Dialer {
			return zk.NewDialer(loc, logger)
		},
	}
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "punchsync",
		Short:         "Forward time-clock punches to the attendance ledger",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := a.newLogger(a.verbose, a.logFormat)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		RunE: a.runSync,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default "+config.DefaultConfigPath()+")")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&a.logFormat, "log-format", "json", "log encoding: json or console")

	s := &a.settings
	pf.StringVar(&s.BackendURL, "backend-url", s.BackendURL, "attendance webhook URL")
	pf.StringVar(&s.TenantID, "tenant-id", "", "tenant UUID sent as X-Tenant-ID")
	pf.StringVar(&s.APIKey, "api-key", "", "API key sent as X-API-Key")
	pf.StringVar(&s.Timeout, "timeout", s.Timeout, "timeout of one webhook call")
	pf.Float64Var(&s.RateLimit, "rate-limit", 0, "max webhook calls per second (0 = unlimited)")
	pf.StringVar(&s.Timezone, "timezone", s.Timezone, "zone terminal clocks run in (IANA name or Local)")
	pf.StringVar(&s.Since, "since", "", "window start (YYYY-MM-DD or RFC 3339) instead of the weekly window")
	pf.StringVar(&s.TerminalTimeout, "terminal-timeout", s.TerminalTimeout, "timeout of terminal connect and reads")
	pf.StringVar(&s.PushgatewayURL, "pushgateway-url", "", "Prometheus Pushgateway to push run metrics to")
	pf.StringVar(&s.NATSURL, "nats-url", "", "NATS server to publish run events to")
	pf.StringVar(&s.NATSSubject, "nats-subject", s.NATSSubject, "subject of run events")

	rootCmd.Flags().BoolVar(&a.failOnErrors, "fail-on-errors", false, "exit 1 when a delivery or terminal failed")

	rootCmd.AddCommand(a.syncCmd())
	rootCmd.AddCommand(a.probeCmd())
	rootCmd.AddCommand(a.punchesCmd())
	rootCmd.AddCommand(a.configCmd())

	return rootCmd
}

// execute runs cmd and flushes the logger on every exit path.
func (a *app) execute(ctx context.Context, cmd *cobra.Command) error {
	defer func() {
		if a.logger != nil {
			_ = a.logger.Sync()
		}
	}()
	return cmd.ExecuteContext(ctx)
}

func buildLogger(verbose bool, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	switch format {
	case "", "json":
	case "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return cfg.Build()
}
