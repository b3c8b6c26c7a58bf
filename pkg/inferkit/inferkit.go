// Package inferkit is the public API for the multi-provider client engine.
// It wires the provider registry, the execution pipeline, and the streaming
// converters behind a small Client surface.
package inferkit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/inferkit/inferkit/internal/config"
	"github.com/inferkit/inferkit/internal/logging"
	"github.com/inferkit/inferkit/internal/provider"
	"github.com/inferkit/inferkit/internal/runtime/executor"
	"github.com/inferkit/inferkit/internal/translator/from_ir"
	"github.com/inferkit/inferkit/internal/translator/ir"
	"github.com/inferkit/inferkit/internal/translator/to_ir"
)

// Re-exported types so callers do not import internal packages.
type (
	Config           = config.Config
	ProviderConfig   = config.ProviderConfig
	Result           = executor.Result
	RequestContext   = executor.RequestContext
	Interceptor      = executor.Interceptor
	BaseInterceptor  = executor.BaseInterceptor
	StatusError      = executor.StatusError
	TransportError   = executor.TransportError
	ParseError       = executor.ParseError
	StreamItem       = executor.StreamItem
	UnifiedEvent     = ir.UnifiedEvent
	ConvertOptions   = ir.ConvertOptions
	SerializeOptions = ir.SerializeOptions
	DocumentRef      = ir.DocumentRef
)

// Provider identifiers accepted by NewClient.
const (
	ProviderAnthropic = ir.ProviderAnthropic
	ProviderOpenAI    = ir.ProviderOpenAI
)

// Default endpoints per provider.
const (
	AnthropicDefaultBaseURL = "https://api.anthropic.com"
	OpenAIDefaultBaseURL    = "https://api.openai.com/v1"
)

func init() {
	provider.Register(&provider.AnthropicAdapter{},
		func(opts ir.ConvertOptions) ir.StreamConverter { return to_ir.NewAnthropicConverter(opts) },
		func(opts ir.SerializeOptions) ir.StreamSerializer { return from_ir.NewAnthropicSerializer(opts) },
	)
	provider.Register(&provider.OpenAIAdapter{},
		func(opts ir.ConvertOptions) ir.StreamConverter { return to_ir.NewOpenAIConverter(opts) },
		func(opts ir.SerializeOptions) ir.StreamSerializer { return from_ir.NewOpenAISerializer(opts) },
	)
}

// Options configures a Client.
type Options struct {
	// Provider selects the registered provider (anthropic, openai).
	Provider string

	// APIKey is the static credential. Ignored when Credential is set.
	APIKey string

	// Credential, when set, is consulted on every header build, including
	// the 401 retry's rebuild.
	Credential func() (string, error)

	// BaseURL overrides the provider default endpoint.
	BaseURL string

	// ProxyURL routes requests through a proxy (http, https, socks5).
	ProxyURL string

	// Headers are extra headers attached to every request.
	Headers map[string]string

	// ProviderOptions carries provider-specific adapter settings, such as
	// anthropic-version, beta flags, or an OpenAI organization.
	ProviderOptions map[string]string

	// HTTPClient overrides the shared client. Takes precedence over
	// ProxyURL.
	HTTPClient *http.Client

	// Interceptors run in install order on every attempt.
	Interceptors []Interceptor

	// DisableAuthRetry turns off the single 401 retry.
	DisableAuthRetry bool

	// UnsupportedParts selects serializer behavior for cross-provider
	// parts with no wire representation.
	UnsupportedParts ir.UnsupportedPartBehavior
}

// Client executes requests against one provider. It is immutable after
// construction and safe for concurrent use.
type Client struct {
	providerID  string
	baseURL     string
	cfg         *executor.ExecutionConfig
	unsupported ir.UnsupportedPartBehavior
}

// NewClient builds a client for the given provider.
func NewClient(opts Options) (*Client, error) {
	adapter, err := provider.LookupAdapter(opts.Provider)
	if err != nil {
		return nil, err
	}
	if len(opts.ProviderOptions) > 0 {
		if configurable, ok := adapter.(provider.OptionConfigurable); ok {
			adapter = configurable.WithOptions(opts.ProviderOptions)
		}
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		switch opts.Provider {
		case ProviderAnthropic:
			baseURL = AnthropicDefaultBaseURL
		case ProviderOpenAI:
			baseURL = OpenAIDefaultBaseURL
		default:
			return nil, fmt.Errorf("inferkit: no default base URL for provider %q", opts.Provider)
		}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient, err = executor.NewHTTPClient(opts.ProxyURL)
		if err != nil {
			return nil, err
		}
	}

	retry := executor.DefaultRetryPolicy()
	if opts.DisableAuthRetry {
		retry.RetryOn401 = false
	}

	return &Client{
		providerID: opts.Provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cfg: &executor.ExecutionConfig{
			Adapter: adapter,
			ProviderContext: provider.Context{
				BaseURL:    baseURL,
				APIKey:     opts.APIKey,
				Credential: opts.Credential,
				Extra:      opts.Headers,
			},
			HTTPClient:   httpClient,
			Interceptors: opts.Interceptors,
			Retry:        retry,
		},
		unsupported: opts.UnsupportedParts,
	}, nil
}

// NewClientFromConfig builds a client for the named provider entry in cfg.
func NewClientFromConfig(cfg *Config, providerName string) (*Client, error) {
	entry := cfg.Provider(providerName)
	if entry == nil {
		return nil, fmt.Errorf("inferkit: provider %q not configured", providerName)
	}
	unsupported := ir.UnsupportedPartDrop
	if cfg.UnsupportedParts == "text" {
		unsupported = ir.UnsupportedPartAsText
	}
	return NewClient(Options{
		Provider:         entry.Name,
		APIKey:           entry.APIKey,
		BaseURL:          entry.BaseURL,
		ProxyURL:         cfg.ProxyURL,
		Headers:          entry.Headers,
		ProviderOptions:  entry.Options,
		DisableAuthRetry: !cfg.RetryOn401,
		UnsupportedParts: unsupported,
	})
}

// LoadConfig loads configuration from the specified path.
func LoadConfig(path string) (*Config, error) {
	return config.LoadConfig(path)
}

// Provider returns the client's provider id.
func (c *Client) Provider() string { return c.providerID }

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// ExecuteJSON performs a buffered JSON call. body may be nil for GET/DELETE
// resource calls.
func (c *Client) ExecuteJSON(ctx context.Context, method, path string, body []byte, headers map[string]string) (*Result, error) {
	return executor.ExecuteJSON(ctx, c.cfg, method, c.url(path), body, headers)
}

// ExecuteBytes performs a buffered binary call; the payload comes back raw.
func (c *Client) ExecuteBytes(ctx context.Context, method, path string, body []byte, contentType string, headers map[string]string) (*Result, error) {
	return executor.ExecuteBytes(ctx, c.cfg, method, c.url(path), body, contentType, headers)
}

// ExecuteMultipart performs a multipart POST. buildForm is invoked fresh on
// every attempt and returns the encoded form and its content type.
func (c *Client) ExecuteMultipart(ctx context.Context, path string, buildForm func() (io.Reader, string, error), headers map[string]string) (*Result, error) {
	return executor.ExecuteMultipart(ctx, c.cfg, c.url(path), buildForm, headers)
}

// StreamOptions configures one streaming call.
type StreamOptions struct {
	// Headers are per-call headers merged over the adapter's base set.
	Headers map[string]string

	// Documents is the citation document list converters resolve against.
	Documents []DocumentRef
}

// Stream performs a streaming POST and pumps the SSE response through the
// provider's converter. The channel closes after the finalizer's StreamEnd;
// cancelling ctx abandons the stream without a terminal event.
func (c *Client) Stream(ctx context.Context, path string, body []byte, opts StreamOptions) (<-chan StreamItem, error) {
	converter, err := provider.NewConverter(c.providerID, ir.ConvertOptions{Documents: opts.Documents})
	if err != nil {
		return nil, err
	}
	resp, rctx, err := executor.ExecuteStream(ctx, c.cfg, c.url(path), body, opts.Headers)
	if err != nil {
		return nil, err
	}
	return executor.RunSSEStream(ctx, resp.Body, converter, executor.StreamConfig{
		Name: rctx.ProviderID + " stream",
	}), nil
}

// Serializer builds a fresh unified-to-wire serializer for the client's
// provider, honoring the client's unsupported-parts policy.
func (c *Client) Serializer(opts SerializeOptions) (ir.StreamSerializer, error) {
	opts.UnsupportedParts = c.unsupported
	return provider.NewSerializer(c.providerID, opts)
}

// WatchConfig hot-reloads the config file at path, re-applying the log level
// and invoking onReload (which may be nil) with each changed config. Stop the
// returned watcher to end watching.
func WatchConfig(path string, onReload func(*Config)) (*config.Watcher, error) {
	w := config.NewWatcher(path, func(cfg *Config) {
		logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
		if onReload != nil {
			onReload(cfg)
		}
	})
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}

// NewConverter builds a fresh wire-to-unified converter for one stream of the
// given provider.
func NewConverter(providerID string, opts ConvertOptions) (ir.StreamConverter, error) {
	return provider.NewConverter(providerID, opts)
}

// NewSerializer builds a fresh unified-to-wire serializer for one stream of
// the given provider.
func NewSerializer(providerID string, opts SerializeOptions) (ir.StreamSerializer, error) {
	return provider.NewSerializer(providerID, opts)
}
