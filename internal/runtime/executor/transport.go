package executor

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// TransportConfig tunes the shared transport. Values favor long-lived
// streaming connections to a small set of provider hosts.
var TransportConfig = struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
}{
	MaxIdleConns:          256,
	MaxIdleConnsPerHost:   64,
	MaxConnsPerHost:       128,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ResponseHeaderTimeout: 60 * time.Second,
	DialTimeout:           30 * time.Second,
	KeepAlive:             30 * time.Second,
}

func configureHTTP2(transport *http.Transport) {
	h2Transport, err := http2.ConfigureTransports(transport)
	if err != nil {
		return
	}
	h2Transport.ReadIdleTimeout = 30 * time.Second
	h2Transport.PingTimeout = 15 * time.Second
	h2Transport.StrictMaxConcurrentStreams = true
}

func newDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   TransportConfig.DialTimeout,
		KeepAlive: TransportConfig.KeepAlive,
	}
}

func baseTransport() *http.Transport {
	t := &http.Transport{
		MaxIdleConns:          TransportConfig.MaxIdleConns,
		MaxIdleConnsPerHost:   TransportConfig.MaxIdleConnsPerHost,
		MaxConnsPerHost:       TransportConfig.MaxConnsPerHost,
		IdleConnTimeout:       TransportConfig.IdleConnTimeout,
		TLSHandshakeTimeout:   TransportConfig.TLSHandshakeTimeout,
		ExpectContinueTimeout: TransportConfig.ExpectContinueTimeout,
		ResponseHeaderTimeout: TransportConfig.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	configureHTTP2(t)
	return t
}

// SharedTransport is the default transport for all clients.
var SharedTransport = baseTransport()

var defaultClient = &http.Client{Transport: SharedTransport}

func init() {
	SharedTransport.DialContext = newDialer().DialContext
}

// NewHTTPClient builds a client on a fresh transport, routed through proxyURL
// when non-empty. http, https, and socks5 schemes are supported.
func NewHTTPClient(proxyURL string) (*http.Client, error) {
	if proxyURL == "" {
		return &http.Client{Transport: SharedTransport}, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	t := baseTransport()
	switch parsed.Scheme {
	case "socks5":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("create SOCKS5 dialer: %w", err)
		}
		t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	case "http", "https":
		t.Proxy = http.ProxyURL(parsed)
		t.DialContext = newDialer().DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}
	return &http.Client{Transport: t}, nil
}
