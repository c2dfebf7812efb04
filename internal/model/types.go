// Package model defines shared data structures.
package model

import (
	"net/url"
	"time"
)

// Config is the resolved settings for one run. It is built once at process
// start and never mutated afterwards.
type Config struct {
	Backend         BackendConfig
	Terminals       []TerminalConfig
	TerminalTimeout time.Duration
	Location        *time.Location
	Since           *time.Time
	Report          ReportConfig
}

// BackendConfig describes the attendance ledger endpoint.
type BackendConfig struct {
	URL       *url.URL
	TenantID  string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64
}

// ReportConfig holds optional machine-facing sinks for the run result.
type ReportConfig struct {
	PushgatewayURL string
	NATSURL        string
	NATSSubject    string
}

// TerminalConfig identifies one physical time-clock terminal.
type TerminalConfig struct {
	Name     string
	Address  string
	Port     int
	DeviceID string
	Password int
}

// RawPunchRecord is an attendance record as read from a terminal.
type RawPunchRecord struct {
	UID       int
	UserID    string
	Timestamp time.Time
	State     int
	Verify    int
}

// SyncWindow is the closed interval of punches considered by a run.
type SyncWindow struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies within the window, both ends included.
func (w SyncWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Direction tells whether a punch is an arrival or a departure.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Method is the verification method the employee used on the terminal.
type Method string

const (
	MethodPIN         Method = "PIN_CODE"
	MethodFingerprint Method = "FINGERPRINT"
	MethodFace        Method = "FACE_RECOGNITION"
	MethodBadge       Method = "RFID_BADGE"
)

// Category is a diagnostic label for the raw terminal state.
type Category string

const (
	CategoryCheckIn  Category = "CHECK_IN"
	CategoryCheckOut Category = "CHECK_OUT"
	CategoryBreakOut Category = "BREAK_OUT"
	CategoryBreakIn  Category = "BREAK_IN"
	CategoryOTIn     Category = "OT_IN"
	CategoryOTOut    Category = "OT_OUT"
	CategoryUnknown  Category = "UNKNOWN"
)

// ClassifiedPunch is a punch ready to be sent to the backend.
type ClassifiedPunch struct {
	EmployeeID    string
	Timestamp     string
	LocalTime     time.Time
	Direction     Direction
	TerminalState int
	Method        Method
	Category      Category
}

// OutcomeKind is the result class of one delivery.
type OutcomeKind int

const (
	OutcomeDelivered OutcomeKind = iota
	OutcomeDuplicate
	OutcomeSuppressed
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is what the backend made of one delivered punch.
type Outcome struct {
	Kind    OutcomeKind
	Status  string
	Reason  string
	Anomaly string
}

// Succeeded reports whether the backend accepted the punch, including the
// duplicate and debounce cases.
func (o Outcome) Succeeded() bool {
	return o.Kind != OutcomeFailed
}
