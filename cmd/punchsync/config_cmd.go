package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verte-zerg/punchsync/internal/config"
)

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  a.runConfigCmd,
	}
}

func (a *app) runConfigCmd(cmd *cobra.Command, _ []string) error {
	path := a.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o600); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		a.logger.Info("config created", zap.String("path", path))
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	editCmd := exec.CommandContext(cmd.Context(), parts[0], append(parts[1:], path)...)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	if err := editCmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# punchsync configuration
# Uncomment a value to enable it. CLI flags override config values.

[backend]
# url = %q
# tenant-id = ""            # Tenant UUID (required)
# api-key = ""              # Sent as X-API-Key when set
# timeout = %q             # Timeout of one webhook call
# rate-limit = 0.0          # Max webhook calls per second (0 = unlimited)

[sync]
# timezone = %q          # Zone the terminal clocks run in
# since = "2026-01-05"      # Start of the window instead of the weekly window
# terminal-timeout = %q    # Timeout of terminal connect and reads

[report]
# pushgateway-url = "http://localhost:9091"
# nats-url = "nats://localhost:4222"
# nats-subject = %q

# One table per terminal, processed in file order.
# [[terminals]]
# name = "Reception"
# address = "192.168.1.201"
# port = %d
# device-id = "ABC1234567890"
# password = 0
`,
		config.DefaultBackendURL,
		config.DefaultTimeout,
		config.DefaultTimezone,
		config.DefaultTerminalTimeout,
		config.DefaultNATSSubject,
		config.DefaultTerminalPort,
	)
}
