// Package delivery posts classified punches to the attendance ledger webhook.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/verte-zerg/punchsync/internal/model"
)

// DefaultTimeout bounds one webhook call.
const DefaultTimeout = 15 * time.Second

const maxResponseSize = 1 << 20

// Backend status strings with a meaning for the outcome.
const (
	StatusCreated         = "CREATED"
	StatusDuplicate       = "DUPLICATE"
	StatusDebounceBlocked = "DEBOUNCE_BLOCKED"
)

// Options configures a Client.
type Options struct {
	Endpoint string
	TenantID string
	APIKey   string
	Timeout  time.Duration
	// RateLimit caps requests per second. Zero disables pacing.
	RateLimit float64
	UserAgent string
	// Transport allows injecting a custom HTTP transport for tests.
	Transport http.RoundTripper
}

// Client delivers punches one request at a time. It never retries.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a delivery client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "punchsync"
	}
	c := &Client{
		opts: opts,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
		},
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c
}

type payload struct {
	EmployeeID    string          `json:"employeeId"`
	Timestamp     string          `json:"timestamp"`
	Type          model.Direction `json:"type"`
	TerminalState int             `json:"terminalState"`
	Method        model.Method    `json:"method"`
}

type response struct {
	Status  string `json:"status"`
	Anomaly string `json:"anomaly"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Deliver posts one punch on behalf of the terminal identified by deviceID.
// Every failure, transport or backend, is folded into a Failed outcome.
func (c *Client) Deliver(ctx context.Context, punch model.ClassifiedPunch, deviceID string) model.Outcome {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return failed(err.Error())
		}
	}

	body, err := json.Marshal(payload{
		EmployeeID:    punch.EmployeeID,
		Timestamp:     punch.Timestamp,
		Type:          punch.Direction,
		TerminalState: punch.TerminalState,
		Method:        punch.Method,
	})
	if err != nil {
		return failed(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return failed(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("X-Device-ID", deviceID)
	req.Header.Set("X-Tenant-ID", c.opts.TenantID)
	if c.opts.APIKey != "" {
		req.Header.Set("X-API-Key", c.opts.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return failed(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return failed(fmt.Sprintf("failed to read response: %v", err))
	}
	var decoded response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return failed(fmt.Sprintf("invalid response (HTTP %d): %v", resp.StatusCode, err))
	}
	return interpret(resp.StatusCode, decoded)
}

func interpret(code int, r response) model.Outcome {
	accepted := code == http.StatusCreated
	switch r.Status {
	case StatusCreated, StatusDuplicate, StatusDebounceBlocked:
		accepted = true
	}
	if !accepted {
		reason := r.Error
		if reason == "" {
			reason = r.Message
		}
		if reason == "" {
			reason = "HTTP " + strconv.Itoa(code)
		}
		return model.Outcome{Kind: model.OutcomeFailed, Status: r.Status, Reason: reason}
	}

	out := model.Outcome{Kind: model.OutcomeDelivered, Status: r.Status, Anomaly: r.Anomaly}
	switch r.Status {
	case StatusDuplicate:
		out.Kind = model.OutcomeDuplicate
	case StatusDebounceBlocked:
		out.Kind = model.OutcomeSuppressed
	case "":
		out.Status = "OK"
	}
	return out
}

func failed(reason string) model.Outcome {
	return model.Outcome{Kind: model.OutcomeFailed, Reason: reason}
}
