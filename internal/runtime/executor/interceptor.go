package executor

import (
	"net/http"

	log "github.com/inferkit/inferkit/internal/logging"
)

// Interceptor observes and may steer a call at four points. Implementations
// must be safe for concurrent calls and must not hold per-call mutable state;
// key any such state by RequestContext.RequestID.
//
// The pipeline itself emits no logs or metrics. All side effects are
// interceptor-mediated.
type Interceptor interface {
	// BeforeSend runs before each attempt. It may mutate req in place or
	// return an error to short-circuit the whole call without network I/O.
	BeforeSend(ctx *RequestContext, req *http.Request) error

	// OnResponse runs after a successful (2xx) response. Returning an error
	// fails the call, e.g. to enforce a response-level policy.
	OnResponse(ctx *RequestContext, resp *http.Response) error

	// OnError runs after classification, before the error is returned.
	OnError(ctx *RequestContext, err error)

	// OnRetry runs before the single 401 retry. attempt is always 1.
	OnRetry(ctx *RequestContext, err error, attempt int)
}

func runBeforeSend(interceptors []Interceptor, ctx *RequestContext, req *http.Request) error {
	for _, ic := range interceptors {
		if err := ic.BeforeSend(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func runOnResponse(interceptors []Interceptor, ctx *RequestContext, resp *http.Response) error {
	for _, ic := range interceptors {
		if err := ic.OnResponse(ctx, resp); err != nil {
			return err
		}
	}
	return nil
}

func runOnError(interceptors []Interceptor, ctx *RequestContext, err error) {
	for _, ic := range interceptors {
		ic.OnError(ctx, err)
	}
}

func runOnRetry(interceptors []Interceptor, ctx *RequestContext, err error, attempt int) {
	for _, ic := range interceptors {
		ic.OnRetry(ctx, err, attempt)
	}
}

// BaseInterceptor is a no-op implementation for embedding, so interceptors
// only implement the hooks they care about.
type BaseInterceptor struct{}

func (BaseInterceptor) BeforeSend(*RequestContext, *http.Request) error     { return nil }
func (BaseInterceptor) OnResponse(*RequestContext, *http.Response) error    { return nil }
func (BaseInterceptor) OnError(*RequestContext, error)                      {}
func (BaseInterceptor) OnRetry(*RequestContext, error, int)                 {}

// LoggingInterceptor logs request lifecycle with masked headers.
type LoggingInterceptor struct {
	BaseInterceptor
}

func (LoggingInterceptor) BeforeSend(ctx *RequestContext, req *http.Request) error {
	log.WithFields(log.Fields{
		"request_id": ctx.RequestID,
		"provider":   ctx.ProviderID,
		"stream":     ctx.Stream,
		"headers":    log.MaskHeaders(req.Header),
	}).Debugf("sending %s %s", req.Method, ctx.URL)
	return nil
}

func (LoggingInterceptor) OnResponse(ctx *RequestContext, resp *http.Response) error {
	log.WithFields(log.Fields{
		"request_id": ctx.RequestID,
		"provider":   ctx.ProviderID,
		"status":     resp.StatusCode,
	}).Debug("response received")
	return nil
}

func (LoggingInterceptor) OnError(ctx *RequestContext, err error) {
	log.WithFields(log.Fields{
		"request_id": ctx.RequestID,
		"provider":   ctx.ProviderID,
	}).WithError(err).Warn("request failed")
}

func (LoggingInterceptor) OnRetry(ctx *RequestContext, err error, attempt int) {
	log.WithFields(log.Fields{
		"request_id": ctx.RequestID,
		"provider":   ctx.ProviderID,
		"attempt":    attempt,
	}).WithError(err).Info("retrying after credential rebuild")
}
