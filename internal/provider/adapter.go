// Package provider holds the per-vendor capability surface: header-building
// adapters, the error taxonomy, and the converter/serializer registry.
package provider

import (
	"net/http"
)

// Context carries the static, per-provider request inputs an adapter needs to
// build headers. It lives on the execution config and is read-only for the
// lifetime of a call.
type Context struct {
	// BaseURL is the provider endpoint root.
	BaseURL string

	// APIKey is the static credential, used when Credential is nil.
	APIKey string

	// Credential, when set, is consulted on every header build. A 401 retry
	// rebuilds headers from scratch, so a refreshing source gets a chance to
	// supply a new token.
	Credential func() (string, error)

	// Extra headers applied after the adapter defaults.
	Extra map[string]string
}

func (c Context) credential() (string, error) {
	if c.Credential != nil {
		return c.Credential()
	}
	return c.APIKey, nil
}

// Adapter is the per-vendor capability consumed by the execution pipeline.
// Implementations must be safe for concurrent use; they hold configuration,
// never per-call state.
type Adapter interface {
	// ID returns the provider identifier used for registry lookup and error
	// attribution.
	ID() string

	// BuildHeaders produces base headers from scratch. Called once per
	// attempt: the 401 retry path calls it again rather than reusing the
	// first attempt's headers.
	BuildHeaders(ctx Context, stream bool) (http.Header, error)

	// MergeRequestHeaders overlays per-call headers onto base. Per-call
	// values win on key collision.
	MergeRequestHeaders(base http.Header, perCall map[string]string) http.Header

	// ErrorMessage extracts a human-readable message from a vendor error
	// body, or "" when the body has no recognizable envelope.
	ErrorMessage(body []byte) string
}

// OptionConfigurable is implemented by adapters that accept per-client
// settings from a provider config entry's options map. WithOptions returns a
// configured copy; the registered adapter is never mutated.
type OptionConfigurable interface {
	WithOptions(opts map[string]string) Adapter
}

// MergeRequestHeaders is the default overlay used by the bundled adapters.
func MergeRequestHeaders(base http.Header, perCall map[string]string) http.Header {
	merged := base.Clone()
	if merged == nil {
		merged = http.Header{}
	}
	for k, v := range perCall {
		merged.Set(k, v)
	}
	return merged
}

func applyCommonHeaders(h http.Header, ctx Context, stream bool) {
	h.Set("Content-Type", "application/json")
	if stream {
		h.Set("Accept", "text/event-stream")
	} else {
		h.Set("Accept", "application/json")
	}
	for k, v := range ctx.Extra {
		h.Set(k, v)
	}
}
