package provider

import (
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/inferkit/inferkit/internal/translator/ir"
)

// OpenAIAdapter builds headers for OpenAI-compatible chat completion APIs.
type OpenAIAdapter struct {
	// Organization sets the OpenAI-Organization header when non-empty.
	Organization string
}

func (a *OpenAIAdapter) ID() string { return ir.ProviderOpenAI }

func (a *OpenAIAdapter) BuildHeaders(ctx Context, stream bool) (http.Header, error) {
	key, err := ctx.credential()
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+key)
	if a.Organization != "" {
		h.Set("OpenAI-Organization", a.Organization)
	}
	applyCommonHeaders(h, ctx, stream)
	return h, nil
}

// WithOptions returns a copy configured from a provider options map. The only
// known key is "organization".
func (a *OpenAIAdapter) WithOptions(opts map[string]string) Adapter {
	clone := *a
	if v := opts["organization"]; v != "" {
		clone.Organization = v
	}
	return &clone
}

func (a *OpenAIAdapter) MergeRequestHeaders(base http.Header, perCall map[string]string) http.Header {
	return MergeRequestHeaders(base, perCall)
}

// ErrorMessage extracts the message from an OpenAI error envelope:
// {"error":{"message":"...","type":"...","code":"..."}}
func (a *OpenAIAdapter) ErrorMessage(body []byte) string {
	return gjson.GetBytes(body, "error.message").String()
}
