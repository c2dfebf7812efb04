package delivery_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/punchsync/internal/delivery"
	"github.com/verte-zerg/punchsync/internal/model"
)

var punch = model.ClassifiedPunch{
	EmployeeID:    "00042",
	Timestamp:     "2026-10-12T08:01:00.000Z",
	Direction:     model.DirectionIn,
	TerminalState: 0,
	Method:        model.MethodFingerprint,
	Category:      model.CategoryCheckIn,
}

func backend(t *testing.T, code int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDeliverRequestShape(t *testing.T) {
	var got struct {
		method  string
		headers http.Header
		body    map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.headers = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got.body))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"status":"CREATED"}`)
	}))
	defer srv.Close()

	c := delivery.New(delivery.Options{
		Endpoint:  srv.URL,
		TenantID:  "340a6c2a-160e-4f4b-917e-6eea8fd5ff2d",
		APIKey:    "secret",
		UserAgent: "punchsync/test",
	})
	out := c.Deliver(context.Background(), punch, "EJB8241100241")

	assert.Equal(t, model.OutcomeDelivered, out.Kind)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "application/json", got.headers.Get("Content-Type"))
	assert.Equal(t, "EJB8241100241", got.headers.Get("X-Device-ID"))
	assert.Equal(t, "340a6c2a-160e-4f4b-917e-6eea8fd5ff2d", got.headers.Get("X-Tenant-ID"))
	assert.Equal(t, "secret", got.headers.Get("X-API-Key"))
	assert.Equal(t, "punchsync/test", got.headers.Get("User-Agent"))
	assert.Equal(t, map[string]any{
		"employeeId":    "00042",
		"timestamp":     "2026-10-12T08:01:00.000Z",
		"type":          "IN",
		"terminalState": float64(0),
		"method":        "FINGERPRINT",
	}, got.body)
}

func TestDeliverOmitsEmptyAPIKey(t *testing.T) {
	var hasKey atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasKey.Store(len(r.Header.Values("X-API-Key")) > 0)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	out := delivery.New(delivery.Options{Endpoint: srv.URL}).Deliver(context.Background(), punch, "dev")
	assert.Equal(t, model.OutcomeDelivered, out.Kind)
	assert.Equal(t, "OK", out.Status)
	assert.False(t, hasKey.Load())
}

func TestDeliverInterpretsResponses(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		kind    model.OutcomeKind
		status  string
		reason  string
		anomaly string
	}{
		{name: "created", code: 201, body: `{"status":"CREATED"}`, kind: model.OutcomeDelivered, status: "CREATED"},
		{name: "created with anomaly", code: 201, body: `{"status":"CREATED","anomaly":"LATE_CHECKIN"}`, kind: model.OutcomeDelivered, status: "CREATED", anomaly: "LATE_CHECKIN"},
		{name: "duplicate on 200", code: 200, body: `{"status":"DUPLICATE"}`, kind: model.OutcomeDuplicate, status: "DUPLICATE"},
		{name: "debounce on 200", code: 200, body: `{"status":"DEBOUNCE_BLOCKED"}`, kind: model.OutcomeSuppressed, status: "DEBOUNCE_BLOCKED"},
		{name: "201 without status", code: 201, body: `{}`, kind: model.OutcomeDelivered, status: "OK"},
		{name: "201 with other status", code: 201, body: `{"status":"QUEUED"}`, kind: model.OutcomeDelivered, status: "QUEUED"},
		{name: "200 with other status", code: 200, body: `{"status":"QUEUED"}`, kind: model.OutcomeFailed, status: "QUEUED", reason: "HTTP 200"},
		{name: "error field", code: 400, body: `{"error":"Employee not found"}`, kind: model.OutcomeFailed, reason: "Employee not found"},
		{name: "message field", code: 422, body: `{"message":"Invalid timestamp"}`, kind: model.OutcomeFailed, reason: "Invalid timestamp"},
		{name: "error wins over message", code: 500, body: `{"error":"boom","message":"ignored"}`, kind: model.OutcomeFailed, reason: "boom"},
		{name: "no reason", code: 503, body: `{}`, kind: model.OutcomeFailed, reason: "HTTP 503"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := backend(t, tt.code, tt.body)
			out := delivery.New(delivery.Options{Endpoint: srv.URL}).Deliver(context.Background(), punch, "dev")
			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, tt.reason, out.Reason)
			assert.Equal(t, tt.anomaly, out.Anomaly)
		})
	}
}

func TestDeliverMalformedJSON(t *testing.T) {
	srv := backend(t, http.StatusCreated, `<html>oops</html>`)
	out := delivery.New(delivery.Options{Endpoint: srv.URL}).Deliver(context.Background(), punch, "dev")
	assert.Equal(t, model.OutcomeFailed, out.Kind)
	assert.Contains(t, out.Reason, "HTTP 201")
}

func TestDeliverTransportError(t *testing.T) {
	srv := backend(t, http.StatusCreated, `{}`)
	srv.Close()

	out := delivery.New(delivery.Options{Endpoint: srv.URL}).Deliver(context.Background(), punch, "dev")
	assert.Equal(t, model.OutcomeFailed, out.Kind)
	assert.NotEmpty(t, out.Reason)
}

func TestDeliverTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := delivery.New(delivery.Options{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
	out := c.Deliver(context.Background(), punch, "dev")
	assert.Equal(t, model.OutcomeFailed, out.Kind)
}

func TestDeliverNeverRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"down"}`)
	}))
	defer srv.Close()

	out := delivery.New(delivery.Options{Endpoint: srv.URL}).Deliver(context.Background(), punch, "dev")
	assert.Equal(t, model.OutcomeFailed, out.Kind)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDeliverRateLimitHonoursContext(t *testing.T) {
	srv := backend(t, http.StatusCreated, `{"status":"CREATED"}`)
	c := delivery.New(delivery.Options{Endpoint: srv.URL, RateLimit: 0.001})

	first := c.Deliver(context.Background(), punch, "dev")
	require.Equal(t, model.OutcomeDelivered, first.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	second := c.Deliver(ctx, punch, "dev")
	assert.Equal(t, model.OutcomeFailed, second.Kind)
}
