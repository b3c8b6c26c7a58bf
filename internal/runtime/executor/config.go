// Package executor implements the request execution pipeline: header
// building, interceptor hooks, the bounded 401 retry, error classification,
// and SSE stream consumption. It performs one request per invocation and is
// safe for concurrent use because ExecutionConfig is read-only.
package executor

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/inferkit/inferkit/internal/provider"
)

// RetryPolicy bounds automatic retries. Regardless of configuration, the
// pipeline never performs more than one retry per call.
type RetryPolicy struct {
	// RetryOn401 enables the single header-rebuilding retry on 401.
	RetryOn401 bool
}

// DefaultRetryPolicy retries once on 401.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{RetryOn401: true}
}

// ExecutionConfig is the immutable per-provider configuration shared by all
// calls to one provider. It must not be mutated after construction.
type ExecutionConfig struct {
	// Adapter builds and merges headers and extracts vendor error messages.
	Adapter provider.Adapter

	// ProviderContext carries endpoint and credentials for the adapter.
	ProviderContext provider.Context

	// HTTPClient is the shared client handle. Nil falls back to a client on
	// SharedTransport.
	HTTPClient *http.Client

	// Interceptors run in install order on every attempt. The slice is
	// read-only once installed.
	Interceptors []Interceptor

	// Retry is the retry policy. The zero value disables the 401 retry;
	// use DefaultRetryPolicy to enable it.
	Retry RetryPolicy
}

func (c *ExecutionConfig) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return defaultClient
}

func (c *ExecutionConfig) providerID() string {
	if c.Adapter != nil {
		return c.Adapter.ID()
	}
	return ""
}

// RequestContext identifies one call. It is created once per call and passed
// unchanged to every interceptor hook and error path, so hooks can correlate
// retries and errors with the original request.
type RequestContext struct {
	RequestID  string
	ProviderID string
	URL        string
	Stream     bool
}

func newRequestContext(cfg *ExecutionConfig, url string, stream bool) *RequestContext {
	return &RequestContext{
		RequestID:  uuid.NewString(),
		ProviderID: cfg.providerID(),
		URL:        url,
		Stream:     stream,
	}
}
