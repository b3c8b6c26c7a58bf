package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"
)

// captureOutput redirects log output to a buffer for the test's duration.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })
	return &buf
}

// ==================== Level Tests ====================

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.input); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestSetLevelFiltersRecords(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(slog.LevelWarn)
	defer SetLevel(slog.LevelInfo)

	if got := GetLevel(); got != slog.LevelWarn {
		t.Errorf("GetLevel() = %v, want warn", got)
	}

	Info("suppressed line")
	Warn("visible line")

	out := buf.String()
	if strings.Contains(out, "suppressed line") {
		t.Error("info record emitted below the configured level")
	}
	if !strings.Contains(out, "visible line") {
		t.Errorf("warn record missing from output: %q", out)
	}
}

func TestSetReportCaller(t *testing.T) {
	buf := captureOutput(t)

	SetReportCaller(false)
	defer SetReportCaller(true)
	Info("plain record")
	if strings.Contains(buf.String(), "log_test.go") {
		t.Errorf("source annotation present with caller reporting off: %q", buf.String())
	}

	buf.Reset()
	SetReportCaller(true)
	Info("annotated record")
	if !strings.Contains(buf.String(), "log_test.go") {
		t.Errorf("source annotation missing: %q", buf.String())
	}
}

// ==================== Entry Chaining Tests ====================

func TestEntryChaining(t *testing.T) {
	buf := captureOutput(t)

	WithField("provider", "anthropic").
		WithField("status", 429).
		WithError(errors.New("rate limited")).
		Warn("request throttled")

	out := buf.String()
	for _, want := range []string{"request throttled", "provider=anthropic", "status=429", "error=rate limited", "[warn]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestWithFields(t *testing.T) {
	buf := captureOutput(t)

	WithFields(Fields{"attempt": 2}).Info("retrying")

	out := buf.String()
	if !strings.Contains(out, "retrying") || !strings.Contains(out, "attempt=2") {
		t.Errorf("output = %q", out)
	}
}

// ==================== Writer Tests ====================

func TestWriterLevel(t *testing.T) {
	buf := captureOutput(t)

	w := WriterLevel(slog.LevelError)
	if _, err := w.Write([]byte("upstream closed\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := Writer().Write([]byte("\n")); err != nil {
		t.Fatalf("blank Write failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "[error]") || !strings.Contains(out, "upstream closed") {
		t.Errorf("output = %q, want error-level record", out)
	}
	if strings.Count(out, "\n") != 1 {
		t.Errorf("blank writes must emit nothing, got %q", out)
	}
}

// ==================== Exit Handler Tests ====================

func TestExitHandlersRunInOrder(t *testing.T) {
	exitHandlersMu.Lock()
	saved := exitHandlers
	exitHandlers = nil
	exitHandlersMu.Unlock()
	defer func() {
		exitHandlersMu.Lock()
		exitHandlers = saved
		exitHandlersMu.Unlock()
	}()

	var order []string
	RegisterExitHandler(func() { order = append(order, "flush") })
	RegisterExitHandler(func() { order = append(order, "close") })
	runExitHandlers()

	if len(order) != 2 || order[0] != "flush" || order[1] != "close" {
		t.Errorf("handler order = %v", order)
	}
}

// ==================== Masking Tests ====================

func TestMaskHeaderValue(t *testing.T) {
	cases := []struct {
		key   string
		value string
		want  string
	}{
		{"Authorization", "Bearer sk-abcdefghijklmnop", "Bearer sk-a...mnop"},
		{"x-api-key", "sk-ant-secretsecret", "sk-a...cret"},
		{"X-Secret-Token", "abcd1234", "ab...34"},
		{"Content-Type", "application/json", "application/json"},
	}
	for _, tc := range cases {
		if got := MaskHeaderValue(tc.key, tc.value); got != tc.want {
			t.Errorf("MaskHeaderValue(%q, %q) = %q, want %q", tc.key, tc.value, got, tc.want)
		}
	}
}

func TestMaskHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("x-api-key", "sk-ant-secretsecret")
	h.Set("Accept", "application/json")

	masked := MaskHeaders(h)
	if got := masked["X-Api-Key"]; got != "sk-a...cret" {
		t.Errorf("masked key = %q", got)
	}
	if got := masked["Accept"]; got != "application/json" {
		t.Errorf("plain header = %q, want passthrough", got)
	}
	if MaskHeaders(nil) != nil {
		t.Error("empty header set must mask to nil")
	}
}
