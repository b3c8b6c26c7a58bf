package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/inferkit/inferkit/internal/provider"
)

func testConfig(adapter provider.Adapter, ctx provider.Context) *ExecutionConfig {
	return &ExecutionConfig{
		Adapter:         adapter,
		ProviderContext: ctx,
		Retry:           DefaultRetryPolicy(),
	}
}

type recordingInterceptor struct {
	BaseInterceptor
	mu       sync.Mutex
	sends    int
	retries  []int
	errs     []error
	response int
}

func (r *recordingInterceptor) BeforeSend(ctx *RequestContext, req *http.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends++
	return nil
}

func (r *recordingInterceptor) OnResponse(ctx *RequestContext, resp *http.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.response++
	return nil
}

func (r *recordingInterceptor) OnError(ctx *RequestContext, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingInterceptor) OnRetry(ctx *RequestContext, err error, attempt int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = append(r.retries, attempt)
}

// ==================== Header Merge Tests ====================

func TestExecuteJSON_PerCallHeadersWin(t *testing.T) {
	var seen http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	cfg := testConfig(&provider.AnthropicAdapter{}, provider.Context{
		APIKey: "sk-base",
		Extra:  map[string]string{"X-Trace": "base", "X-Team": "infra"},
	})

	_, err := ExecuteJSON(context.Background(), cfg, http.MethodPost, srv.URL, []byte(`{}`),
		map[string]string{"X-Trace": "per-call"})
	if err != nil {
		t.Fatalf("ExecuteJSON failed: %v", err)
	}

	if got := seen.Get("X-Trace"); got != "per-call" {
		t.Errorf("X-Trace = %q, want per-call override", got)
	}
	if got := seen.Get("X-Team"); got != "infra" {
		t.Errorf("X-Team = %q, want base value preserved", got)
	}
	if got := seen.Get("x-api-key"); got != "sk-base" {
		t.Errorf("x-api-key = %q", got)
	}
	if got := seen.Get("anthropic-version"); got == "" {
		t.Error("anthropic-version header missing")
	}
}

// ==================== 401 Retry Tests ====================

func TestExecuteJSON_RetryOn401RebuildsCredential(t *testing.T) {
	var calls atomic.Int32
	var keys []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Authorization"))
		mu.Unlock()
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"expired"}}`)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	attempt := atomic.Int32{}
	rec := &recordingInterceptor{}
	cfg := testConfig(&provider.OpenAIAdapter{}, provider.Context{
		Credential: func() (string, error) {
			return fmt.Sprintf("key-%d", attempt.Add(1)), nil
		},
	})
	cfg.Interceptors = []Interceptor{rec}

	result, err := ExecuteJSON(context.Background(), cfg, http.MethodPost, srv.URL, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("ExecuteJSON failed: %v", err)
	}
	if !gjson.GetBytes(result.Payload, "ok").Bool() {
		t.Errorf("payload = %s", result.Payload)
	}

	if calls.Load() != 2 {
		t.Fatalf("server saw %d requests, want 2", calls.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if keys[0] == keys[1] {
		t.Errorf("retry reused credential %q; headers must be rebuilt", keys[0])
	}
	if len(rec.retries) != 1 || rec.retries[0] != 1 {
		t.Errorf("OnRetry calls = %v, want exactly one with attempt 1", rec.retries)
	}
	if rec.sends != 2 {
		t.Errorf("BeforeSend calls = %d, want 2", rec.sends)
	}
}

func TestExecuteJSON_Second401NotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key"}}`)
	}))
	defer srv.Close()

	cfg := testConfig(&provider.OpenAIAdapter{}, provider.Context{APIKey: "sk-bad"})

	_, err := ExecuteJSON(context.Background(), cfg, http.MethodPost, srv.URL, []byte(`{}`), nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	var statusErr StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error type = %T, want StatusError", err)
	}
	if !statusErr.IsUnauthorized() {
		t.Errorf("status = %d, want 401", statusErr.StatusCode())
	}
	if calls.Load() != 2 {
		t.Errorf("server saw %d requests, want exactly 2", calls.Load())
	}
}

func TestExecuteJSON_RetryDisabled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := testConfig(&provider.OpenAIAdapter{}, provider.Context{APIKey: "sk"})
	cfg.Retry = RetryPolicy{}

	_, err := ExecuteJSON(context.Background(), cfg, http.MethodPost, srv.URL, []byte(`{}`), nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d requests, want 1", calls.Load())
	}
}

// ==================== Classification Tests ====================

func TestExecuteJSON_RateLimitedCarriesRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	cfg := testConfig(&provider.OpenAIAdapter{}, provider.Context{APIKey: "sk"})

	_, err := ExecuteJSON(context.Background(), cfg, http.MethodPost, srv.URL, []byte(`{}`), nil)
	var statusErr StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if !statusErr.IsRateLimited() {
		t.Errorf("status = %d, want 429", statusErr.StatusCode())
	}
	if statusErr.RetryAfter() == nil || *statusErr.RetryAfter() != 5*time.Second {
		t.Errorf("RetryAfter = %v, want 5s", statusErr.RetryAfter())
	}
	if statusErr.Category() != provider.CategoryQuotaError {
		t.Errorf("category = %v, want quota", statusErr.Category())
	}
	// 429 is surfaced, never auto-retried.
	if calls.Load() != 1 {
		t.Errorf("server saw %d requests, want 1", calls.Load())
	}
}

func TestExecuteJSON_ErrorMessageFromVendorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-request-id", "req_abc")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens is required"}}`)
	}))
	defer srv.Close()

	cfg := testConfig(&provider.AnthropicAdapter{}, provider.Context{APIKey: "sk"})

	_, err := ExecuteJSON(context.Background(), cfg, http.MethodPost, srv.URL, []byte(`{}`), nil)
	var statusErr StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if statusErr.Error() != "max_tokens is required" {
		t.Errorf("message = %q", statusErr.Error())
	}
	if statusErr.RequestID() != "req_abc" {
		t.Errorf("request id = %q, want req_abc", statusErr.RequestID())
	}
	if statusErr.Category() != provider.CategoryUserError {
		t.Errorf("category = %v, want user error", statusErr.Category())
	}
}

// ==================== Interceptor Tests ====================

type failingInterceptor struct {
	BaseInterceptor
}

func (failingInterceptor) BeforeSend(*RequestContext, *http.Request) error {
	return errors.New("blocked by policy")
}

func TestExecuteJSON_BeforeSendShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	cfg := testConfig(&provider.OpenAIAdapter{}, provider.Context{APIKey: "sk"})
	cfg.Interceptors = []Interceptor{failingInterceptor{}}

	_, err := ExecuteJSON(context.Background(), cfg, http.MethodPost, srv.URL, []byte(`{}`), nil)
	if err == nil || err.Error() != "blocked by policy" {
		t.Fatalf("error = %v, want blocked by policy", err)
	}
	if calls.Load() != 0 {
		t.Errorf("server saw %d requests, want 0", calls.Load())
	}
}

// ==================== Shape Tests ====================

func TestExecuteStream_ForcesStreamFlag(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"ping\"}\n\n")
	}))
	defer srv.Close()

	cfg := testConfig(&provider.AnthropicAdapter{}, provider.Context{APIKey: "sk"})

	resp, rctx, err := ExecuteStream(context.Background(), cfg, srv.URL, []byte(`{"model":"m","stream":false}`), nil)
	if err != nil {
		t.Fatalf("ExecuteStream failed: %v", err)
	}
	defer resp.Body.Close()

	if !gjson.GetBytes(body, "stream").Bool() {
		t.Errorf("request body = %s, want stream forced to true", body)
	}
	if !rctx.Stream {
		t.Error("request context not marked as streaming")
	}
	if rctx.RequestID == "" {
		t.Error("request id not assigned")
	}
}

func TestExecuteMultipart_FreshBodyPerAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		if len(payload) == 0 {
			t.Error("attempt received an empty body")
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	var builds atomic.Int32
	buildForm := func() (io.Reader, string, error) {
		builds.Add(1)
		return strings.NewReader("--boundary\r\ncontent\r\n--boundary--\r\n"), "multipart/form-data; boundary=boundary", nil
	}

	cfg := testConfig(&provider.OpenAIAdapter{}, provider.Context{APIKey: "sk"})

	result, err := ExecuteMultipart(context.Background(), cfg, srv.URL, buildForm, nil)
	if err != nil {
		t.Fatalf("ExecuteMultipart failed: %v", err)
	}
	if !gjson.GetBytes(result.Payload, "ok").Bool() {
		t.Errorf("payload = %s", result.Payload)
	}
	if builds.Load() != 2 {
		t.Errorf("body built %d times, want once per attempt", builds.Load())
	}
}
