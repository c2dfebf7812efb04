package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/punchsync/internal/model"
)

// Defaults.
const (
	DefaultBackendURL      = "http://localhost:3000/api/v1/attendance/webhook/state"
	DefaultTimeout         = "15s"
	DefaultTerminalTimeout = "15s"
	DefaultTerminalPort    = 4370
	DefaultTimezone        = "Local"
	DefaultNATSSubject     = "attendance.sync.completed"
)

const sinceDateLayout = "2006-01-02"

// Settings are the merged file and flag values before validation.
type Settings struct {
	BackendURL      string
	TenantID        string
	APIKey          string
	Timeout         string
	RateLimit       float64
	Timezone        string
	Since           string
	TerminalTimeout string
	PushgatewayURL  string
	NATSURL         string
	NATSSubject     string
	Terminals       []TerminalConfig
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		BackendURL:      DefaultBackendURL,
		Timeout:         DefaultTimeout,
		Timezone:        DefaultTimezone,
		TerminalTimeout: DefaultTerminalTimeout,
		NATSSubject:     DefaultNATSSubject,
	}
}

// Resolve validates s and builds the run configuration.
func Resolve(s Settings) (model.Config, error) {
	var cfg model.Config

	backendURL, err := parseHTTPURL(s.BackendURL)
	if err != nil {
		return model.Config{}, fmt.Errorf("invalid backend url: %w", err)
	}
	tenant := strings.TrimSpace(s.TenantID)
	if tenant == "" {
		return model.Config{}, errors.New("tenant-id is required")
	}
	if _, err := uuid.Parse(tenant); err != nil {
		return model.Config{}, fmt.Errorf("invalid tenant-id %q: %w", tenant, err)
	}
	timeout, err := parsePositiveDuration("timeout", s.Timeout)
	if err != nil {
		return model.Config{}, err
	}
	if s.RateLimit < 0 {
		return model.Config{}, errors.New("rate-limit must be >= 0")
	}
	cfg.Backend = model.BackendConfig{
		URL:       backendURL,
		TenantID:  tenant,
		APIKey:    strings.TrimSpace(s.APIKey),
		Timeout:   timeout,
		RateLimit: s.RateLimit,
	}

	if cfg.TerminalTimeout, err = parsePositiveDuration("terminal-timeout", s.TerminalTimeout); err != nil {
		return model.Config{}, err
	}
	if cfg.Location, err = loadLocation(s.Timezone); err != nil {
		return model.Config{}, err
	}
	if strings.TrimSpace(s.Since) != "" {
		since, err := parseSince(s.Since, cfg.Location)
		if err != nil {
			return model.Config{}, err
		}
		cfg.Since = &since
	}

	if cfg.Terminals, err = resolveTerminals(s.Terminals); err != nil {
		return model.Config{}, err
	}

	cfg.Report = model.ReportConfig{
		PushgatewayURL: strings.TrimSpace(s.PushgatewayURL),
		NATSURL:        strings.TrimSpace(s.NATSURL),
		NATSSubject:    strings.TrimSpace(s.NATSSubject),
	}
	if cfg.Report.PushgatewayURL != "" {
		if _, err := parseHTTPURL(cfg.Report.PushgatewayURL); err != nil {
			return model.Config{}, fmt.Errorf("invalid pushgateway-url: %w", err)
		}
	}
	if cfg.Report.NATSSubject == "" {
		cfg.Report.NATSSubject = DefaultNATSSubject
	}
	return cfg, nil
}

func resolveTerminals(in []TerminalConfig) ([]model.TerminalConfig, error) {
	if len(in) == 0 {
		return nil, errors.New("no terminals configured (add a [[terminals]] entry)")
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]model.TerminalConfig, 0, len(in))
	for i, t := range in {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("terminal #%d: name is required", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("terminal %q is configured twice", name)
		}
		seen[name] = struct{}{}

		address := strings.TrimSpace(t.Address)
		if address == "" {
			return nil, fmt.Errorf("terminal %q: address is required", name)
		}
		port := t.Port
		if port == 0 {
			port = DefaultTerminalPort
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("terminal %q: port %d out of range", name, port)
		}
		deviceID := strings.TrimSpace(t.DeviceID)
		if deviceID == "" {
			return nil, fmt.Errorf("terminal %q: device-id is required", name)
		}
		if t.Password < 0 {
			return nil, fmt.Errorf("terminal %q: password must be >= 0", name)
		}
		out = append(out, model.TerminalConfig{
			Name:     name,
			Address:  address,
			Port:     port,
			DeviceID: deviceID,
			Password: t.Password,
		})
	}
	return out, nil
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("host is empty")
	}
	return u, nil
}

func parsePositiveDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be > 0", name)
	}
	return d, nil
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	return loc, nil
}

// parseSince accepts a date, taken as midnight in loc, or an RFC 3339
// timestamp.
func parseSince(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.ParseInLocation(sinceDateLayout, raw, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since %q: expected YYYY-MM-DD or RFC 3339", raw)
	}
	return t.In(loc), nil
}
