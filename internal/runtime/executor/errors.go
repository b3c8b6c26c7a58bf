package executor

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/inferkit/inferkit/internal/provider"
)

// StatusError is the typed error for any non-success HTTP status. The code
// selects the taxonomy branch: 401 is Unauthorized, 429 is RateLimited with
// an optional retry-after hint, everything else is a plain API error.
type StatusError struct {
	code       int
	msg        string
	retryAfter *time.Duration
	requestID  string
	category   provider.ErrorCategory
}

func (e StatusError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("status %d", e.code)
}

func (e StatusError) StatusCode() int { return e.code }

func (e StatusError) RetryAfter() *time.Duration { return e.retryAfter }

// RequestID returns the upstream request correlation id, if the response
// carried one.
func (e StatusError) RequestID() string { return e.requestID }

func (e StatusError) Category() provider.ErrorCategory { return e.category }

func (e StatusError) Unwrap() error { return nil }

// IsUnauthorized reports whether the status is 401.
func (e StatusError) IsUnauthorized() bool { return e.code == http.StatusUnauthorized }

// IsRateLimited reports whether the status is 429.
func (e StatusError) IsRateLimited() bool { return e.code == http.StatusTooManyRequests }

func NewStatusError(code int, msg string, retryAfter *time.Duration) StatusError {
	return StatusError{
		code:       code,
		msg:        msg,
		retryAfter: retryAfter,
		category:   provider.CategorizeError(code, msg),
	}
}

// TransportError wraps a send/connect failure. Transport failures bypass the
// classifier and are never retried by the pipeline.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports a JSON body that stayed malformed after the repair pass.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// requestIDHeaders are checked in order for an upstream correlation id.
var requestIDHeaders = []string{
	"x-request-id",
	"request-id",
	"x-amzn-requestid",
	"cf-ray",
}

const errorBodySample = 200

// ClassifyHTTPError maps a non-success response to a typed error. The adapter
// may override message extraction for its vendor envelope; otherwise the
// common {"error":{"message":...}} and {"message":...} shapes are tried, and
// the raw body text is the last resort.
func ClassifyHTTPError(adapter provider.Adapter, status int, body []byte, headers http.Header, fallback string) error {
	msg := ""
	if adapter != nil {
		msg = adapter.ErrorMessage(body)
	}
	if msg == "" {
		parsed := gjson.ParseBytes(body)
		if m := parsed.Get("error.message").String(); m != "" {
			msg = m
		} else if m := parsed.Get("message").String(); m != "" {
			msg = m
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > errorBodySample {
			msg = msg[:errorBodySample]
		}
	}
	if msg == "" {
		msg = fallback
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	var retryAfter *time.Duration
	if status == http.StatusTooManyRequests {
		if d := parseRetryAfter(headers); d > 0 {
			retryAfter = &d
		}
	}

	err := NewStatusError(status, msg, retryAfter)
	err.requestID = extractRequestID(headers)
	return err
}

// parseRetryAfter reads the Retry-After header, accepting both delta-seconds
// and HTTP-date forms, with x-ratelimit-reset-after as a fallback.
func parseRetryAfter(headers http.Header) time.Duration {
	raw := headers.Get("Retry-After")
	if raw == "" {
		raw = headers.Get("x-ratelimit-reset-after")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(raw); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func extractRequestID(headers http.Header) string {
	for _, key := range requestIDHeaders {
		if v := headers.Get(key); v != "" {
			return v
		}
	}
	return ""
}
