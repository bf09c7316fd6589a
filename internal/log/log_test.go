package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithComponentReplacesTag(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelDebug, Output: &buf}).With(FieldIdentity, "42")
	l.WithComponent(ComponentTelegram).Info("Message received")

	line := buf.String()
	if strings.Count(line, "component=") != 1 || !strings.Contains(line, "component=telegram") {
		t.Errorf("component tag wrong: %s", line)
	}
	if !strings.Contains(line, "identity=42") {
		t.Errorf("attributes lost: %s", line)
	}
}

func TestFieldsOrdered(t *testing.T) {
	got := NewFields().WithCommand("CREATE_EXPENSE", "c1").WithMessage("42", "").WithError(errors.New("boom")).ToSlice()
	want := []any{FieldCommandID, "c1", FieldError, "boom", FieldIdentity, "42", FieldIntent, "CREATE_EXPENSE"}
	if len(got) != len(want) {
		t.Fatalf("ToSlice = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ToSlice[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMiddlewareCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Component: ComponentHTTP, Output: &buf})

	h := Middleware(logger)(RequestIDMiddleware(func(*http.Request) string { return "req_1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).HTTPEnd(r.Context(), r, http.StatusTeapot, 3*time.Millisecond, "10.0.0.1")
		})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	line := buf.String()
	for _, want := range []string{"level=WARN", "request_id=req_1", "status_code=418", "path=/healthz", "component=http"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %q: %s", want, line)
		}
	}
}

func TestFromContextDefault(t *testing.T) {
	if l := FromContext(context.Background()); l.Component() != ComponentApp {
		t.Errorf("default component = %q", l.Component())
	}
}
