// Package terminaltest provides an in-memory terminal for tests.
package terminaltest

import (
	"context"
	"sync"
	"time"

	"github.com/verte-zerg/punchsync/internal/model"
	"github.com/verte-zerg/punchsync/internal/terminal"
)

// Device is the canned content and failure modes of one fake terminal.
type Device struct {
	Name          string
	Firmware      string
	Users         []terminal.User
	Records       []model.RawPunchRecord
	DialErr       error
	UsersErr      error
	AttendanceErr error
	// Block makes Attendance wait until the context is cancelled.
	Block bool
}

// Dialer serves fake devices keyed by terminal name.
type Dialer struct {
	mu       sync.Mutex
	devices  map[string]*Device
	dials    map[string]int
	closes   map[string]int
	timeouts map[string]time.Duration
}

// NewDialer creates a dialer with no devices.
func NewDialer() *Dialer {
	return &Dialer{
		devices:  map[string]*Device{},
		dials:    map[string]int{},
		closes:   map[string]int{},
		timeouts: map[string]time.Duration{},
	}
}

// Add registers a device under a terminal name.
func (d *Dialer) Add(name string, dev *Device) *Dialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[name] = dev
	return d
}

// Dial implements terminal.Dialer. Unknown terminals fail like an
// unreachable host.
func (d *Dialer) Dial(ctx context.Context, cfg model.TerminalConfig, timeout time.Duration) (terminal.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[cfg.Name]++
	d.timeouts[cfg.Name] = timeout
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dev, ok := d.devices[cfg.Name]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	if dev.DialErr != nil {
		return nil, dev.DialErr
	}
	return &conn{dialer: d, name: cfg.Name, dev: dev}, nil
}

// Dials returns how many times the terminal was dialed.
func (d *Dialer) Dials(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[name]
}

// Closes returns how many sessions with the terminal were closed.
func (d *Dialer) Closes(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes[name]
}

// Timeout returns the timeout of the last dial to the terminal.
func (d *Dialer) Timeout(name string) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timeouts[name]
}

type conn struct {
	dialer *Dialer
	name   string
	dev    *Device
}

func (c *conn) DeviceName(context.Context) (string, error) {
	return c.dev.Name, nil
}

func (c *conn) FirmwareVersion(context.Context) (string, error) {
	return c.dev.Firmware, nil
}

func (c *conn) Users(context.Context) ([]terminal.User, error) {
	if c.dev.UsersErr != nil {
		return nil, c.dev.UsersErr
	}
	return append([]terminal.User(nil), c.dev.Users...), nil
}

func (c *conn) Attendance(ctx context.Context) ([]model.RawPunchRecord, error) {
	if c.dev.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.dev.AttendanceErr != nil {
		return nil, c.dev.AttendanceErr
	}
	return append([]model.RawPunchRecord(nil), c.dev.Records...), nil
}

func (c *conn) Close() error {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()
	c.dialer.closes[c.name]++
	return nil
}
