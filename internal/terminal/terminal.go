// Package terminal defines the capability contract of a time-clock terminal.
package terminal

import (
	"context"
	"fmt"
	"time"

	"github.com/verte-zerg/punchsync/internal/model"
)

// DefaultTimeout bounds connecting to and reading from a terminal.
const DefaultTimeout = 15 * time.Second

// User is an enrolled user on a terminal.
type User struct {
	UID       int
	UserID    string
	Name      string
	Privilege int
}

// Conn is an open session with a terminal.
type Conn interface {
	DeviceName(ctx context.Context) (string, error)
	FirmwareVersion(ctx context.Context) (string, error)
	Users(ctx context.Context) ([]User, error)
	Attendance(ctx context.Context) ([]model.RawPunchRecord, error)
	Close() error
}

// Dialer opens sessions with terminals.
type Dialer interface {
	Dial(ctx context.Context, cfg model.TerminalConfig, timeout time.Duration) (Conn, error)
}

// Operation names used in Error.
const (
	OpConnect        = "connect"
	OpListUsers      = "list users"
	OpListAttendance = "list attendance"
)

// Error reports a terminal-level failure: the terminal could not be reached
// or a listing call failed after connecting.
type Error struct {
	Terminal string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("terminal %s: %s: %v", e.Terminal, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithConn dials the terminal, runs fn with the session and closes it.
// Close runs exactly once for every successful dial, whatever fn does.
func WithConn(ctx context.Context, d Dialer, cfg model.TerminalConfig, timeout time.Duration, fn func(Conn) error) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := d.Dial(ctx, cfg, timeout)
	if err != nil {
		return &Error{Terminal: cfg.Name, Op: OpConnect, Err: err}
	}
	// Best-effort disconnect.
	defer func() { _ = conn.Close() }()
	return fn(conn)
}
