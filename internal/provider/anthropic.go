package provider

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/inferkit/inferkit/internal/translator/ir"
)

const anthropicDefaultVersion = "2023-06-01"

// AnthropicAdapter builds headers for the Anthropic Messages API.
type AnthropicAdapter struct {
	// Version overrides the anthropic-version header.
	Version string

	// Beta lists anthropic-beta feature flags to request.
	Beta []string
}

func (a *AnthropicAdapter) ID() string { return ir.ProviderAnthropic }

func (a *AnthropicAdapter) BuildHeaders(ctx Context, stream bool) (http.Header, error) {
	key, err := ctx.credential()
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("x-api-key", key)
	version := a.Version
	if version == "" {
		version = anthropicDefaultVersion
	}
	h.Set("anthropic-version", version)
	if len(a.Beta) > 0 {
		h.Set("anthropic-beta", strings.Join(a.Beta, ","))
	}
	applyCommonHeaders(h, ctx, stream)
	return h, nil
}

// WithOptions returns a copy configured from a provider options map. Known
// keys: "anthropic-version" and "beta" (comma-separated flag list).
func (a *AnthropicAdapter) WithOptions(opts map[string]string) Adapter {
	clone := *a
	if v := opts["anthropic-version"]; v != "" {
		clone.Version = v
	}
	if v := opts["beta"]; v != "" {
		clone.Beta = strings.Split(v, ",")
	}
	return &clone
}

func (a *AnthropicAdapter) MergeRequestHeaders(base http.Header, perCall map[string]string) http.Header {
	return MergeRequestHeaders(base, perCall)
}

// ErrorMessage extracts the message from an Anthropic error envelope:
// {"type":"error","error":{"type":"...","message":"..."}}
func (a *AnthropicAdapter) ErrorMessage(body []byte) string {
	parsed := gjson.ParseBytes(body)
	if msg := parsed.Get("error.message").String(); msg != "" {
		return msg
	}
	return parsed.Get("message").String()
}
