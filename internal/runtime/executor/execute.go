package executor

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/tidwall/sjson"
)

// Result is the outcome of a buffered execution shape.
type Result struct {
	// Payload is the response body. For the JSON shape it has passed
	// validation (with one repair pass); for the binary shape it is raw.
	Payload []byte
	Status  int
	Headers http.Header
}

// bodyFactory produces a fresh request body and its content type. It is
// invoked once per attempt so the 401 retry never reuses a consumed reader;
// multipart forms in particular cannot be replayed.
type bodyFactory func() (io.Reader, string, error)

func jsonBody(body []byte) bodyFactory {
	if body == nil {
		return func() (io.Reader, string, error) { return nil, "", nil }
	}
	return func() (io.Reader, string, error) {
		return bytes.NewReader(body), "application/json", nil
	}
}

// ExecuteJSON performs a buffered JSON call. body may be nil for GET/DELETE
// resource calls. The response body is validated as JSON, with one repair
// pass before a ParseError is surfaced.
func ExecuteJSON(ctx context.Context, cfg *ExecutionConfig, method, url string, body []byte, perCall map[string]string) (*Result, error) {
	rctx := newRequestContext(cfg, url, false)
	resp, err := send(ctx, cfg, rctx, method, jsonBody(body), perCall)
	if err != nil {
		return nil, err
	}
	result, err := readBuffered(resp)
	if err != nil {
		runOnError(cfg.Interceptors, rctx, err)
		return nil, err
	}
	repaired, err := parseJSONWithRepair(result.Payload)
	if err != nil {
		runOnError(cfg.Interceptors, rctx, err)
		return nil, err
	}
	result.Payload = repaired
	return result, nil
}

// ExecuteBytes performs a buffered binary call (audio, files). The payload is
// returned as-is.
func ExecuteBytes(ctx context.Context, cfg *ExecutionConfig, method, url string, body []byte, contentType string, perCall map[string]string) (*Result, error) {
	makeBody := func() (io.Reader, string, error) {
		if body == nil {
			return nil, "", nil
		}
		return bytes.NewReader(body), contentType, nil
	}
	rctx := newRequestContext(cfg, url, false)
	resp, err := send(ctx, cfg, rctx, method, makeBody, perCall)
	if err != nil {
		return nil, err
	}
	result, err := readBuffered(resp)
	if err != nil {
		runOnError(cfg.Interceptors, rctx, err)
		return nil, err
	}
	return result, nil
}

// ExecuteMultipart performs a multipart POST. buildForm is invoked fresh on
// every attempt and must return the encoded form body and its content type
// (including the boundary).
func ExecuteMultipart(ctx context.Context, cfg *ExecutionConfig, url string, buildForm bodyFactory, perCall map[string]string) (*Result, error) {
	rctx := newRequestContext(cfg, url, false)
	resp, err := send(ctx, cfg, rctx, http.MethodPost, buildForm, perCall)
	if err != nil {
		return nil, err
	}
	result, err := readBuffered(resp)
	if err != nil {
		runOnError(cfg.Interceptors, rctx, err)
		return nil, err
	}
	repaired, err := parseJSONWithRepair(result.Payload)
	if err != nil {
		runOnError(cfg.Interceptors, rctx, err)
		return nil, err
	}
	result.Payload = repaired
	return result, nil
}

// ExecuteStream performs the raw-streaming shape: same header, interceptor,
// retry and classification semantics, but hands back the live response for
// the caller to pump. The body is wrapped for transparent decompression; the
// caller owns closing it. "stream": true is forced into the request body so
// the upstream always answers with SSE.
func ExecuteStream(ctx context.Context, cfg *ExecutionConfig, url string, body []byte, perCall map[string]string) (*http.Response, *RequestContext, error) {
	if len(body) > 0 {
		if forced, err := sjson.SetBytes(body, "stream", true); err == nil {
			body = forced
		}
	}
	rctx := newRequestContext(cfg, url, true)
	resp, err := send(ctx, cfg, rctx, http.MethodPost, jsonBody(body), perCall)
	if err != nil {
		return nil, rctx, err
	}
	decoded, err := decodeResponseBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		err = &TransportError{Op: "decode body", Err: err}
		runOnError(cfg.Interceptors, rctx, err)
		return nil, rctx, err
	}
	resp.Body = decoded
	return resp, rctx, nil
}

// send drives one call: build, intercept, send, the bounded 401 retry, and
// error classification. On success the response is returned unread with
// on-response hooks already run.
func send(ctx context.Context, cfg *ExecutionConfig, rctx *RequestContext, method string, makeBody bodyFactory, perCall map[string]string) (*http.Response, error) {
	resp, err := sendOnce(ctx, cfg, rctx, method, makeBody, perCall)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && cfg.Retry.RetryOn401 {
		authErr := NewStatusError(http.StatusUnauthorized, "401 Unauthorized", nil)
		runOnRetry(cfg.Interceptors, rctx, authErr, 1)
		drainAndClose(resp.Body)

		// Headers are rebuilt from scratch inside sendOnce, which lets a
		// refreshing credential source take effect. Exactly one retry,
		// regardless of what the second attempt returns.
		resp, err = sendOnce(ctx, cfg, rctx, method, makeBody, perCall)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		classified := classifyResponse(cfg, resp)
		runOnError(cfg.Interceptors, rctx, classified)
		return nil, classified
	}

	if err := runOnResponse(cfg.Interceptors, rctx, resp); err != nil {
		drainAndClose(resp.Body)
		runOnError(cfg.Interceptors, rctx, err)
		return nil, err
	}
	return resp, nil
}

// sendOnce performs one attempt: fresh base headers, per-call merge, fresh
// body, before-send hooks, network send. Transport failures come back as
// TransportError and are never retried.
func sendOnce(ctx context.Context, cfg *ExecutionConfig, rctx *RequestContext, method string, makeBody bodyFactory, perCall map[string]string) (*http.Response, error) {
	base, err := cfg.Adapter.BuildHeaders(cfg.ProviderContext, rctx.Stream)
	if err != nil {
		return nil, err
	}
	headers := base
	if len(perCall) > 0 {
		headers = cfg.Adapter.MergeRequestHeaders(base, perCall)
	}

	body, contentType, err := makeBody()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rctx.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header = headers.Clone()
	if contentType != "" {
		// The body factory knows the real content type; a multipart
		// boundary differs per attempt, so the adapter default must not
		// survive.
		req.Header.Set("Content-Type", contentType)
	}

	if err := runBeforeSend(cfg.Interceptors, rctx, req); err != nil {
		return nil, err
	}

	resp, err := cfg.client().Do(req)
	if err != nil {
		return nil, &TransportError{Op: method + " " + rctx.URL, Err: err}
	}
	return resp, nil
}

func classifyResponse(cfg *ExecutionConfig, resp *http.Response) error {
	// decodeResponseBody takes ownership of resp.Body and closes it on
	// failure; decoded.Close closes it on success.
	var body []byte
	decoded, err := decodeResponseBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err == nil {
		body, _ = io.ReadAll(decoded)
		_ = decoded.Close()
	}
	return ClassifyHTTPError(cfg.Adapter, resp.StatusCode, body, resp.Header, http.StatusText(resp.StatusCode))
}

func readBuffered(resp *http.Response) (*Result, error) {
	decoded, err := decodeResponseBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, &TransportError{Op: "decode body", Err: err}
	}
	payload, err := io.ReadAll(decoded)
	closeErr := decoded.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, &TransportError{Op: "read body", Err: err}
	}
	return &Result{
		Payload: payload,
		Status:  resp.StatusCode,
		Headers: resp.Header,
	}, nil
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
