// Package middleware wraps a provider.Transport with logging, retries
// and telemetry. The synthtext core never retries on its own; the retry
// middleware is an opt-in for callers that want it.
package middleware

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/ncecere/synthtext/provider"
)

// TransportMiddleware wraps a provider.Transport with additional
// behavior such as logging, retries, or telemetry.
type TransportMiddleware func(provider.Transport) provider.Transport

// WrapTransport applies the provided middlewares around the base
// transport. Middlewares are applied in the order provided, so the
// first middleware becomes the outermost wrapper.
func WrapTransport(base provider.Transport, mws ...TransportMiddleware) provider.Transport {
	wrapped := base
	for i := len(mws) - 1; i >= 0; i-- {
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

// LoggingOptions controls which aspects of a transport call are logged.
type LoggingOptions struct {
	// Logger is the destination for log output.
	Logger zerolog.Logger
	// LogRequest controls whether request metadata is logged.
	LogRequest bool
	// LogResponse controls whether successful responses are logged.
	LogResponse bool
	// LogErrors controls whether errors are logged.
	LogErrors bool
}

func defaultLoggingOptions(opts LoggingOptions) LoggingOptions {
	// By default, log request metadata and errors.
	if !opts.LogRequest && !opts.LogResponse && !opts.LogErrors {
		opts.LogRequest = true
		opts.LogErrors = true
	}
	return opts
}

// LoggingTransport returns a TransportMiddleware that logs Send and
// OpenStream calls. Logs carry the engine, endpoint, status and
// duration, never request or response bodies.
func LoggingTransport(opts LoggingOptions) TransportMiddleware {
	opts = defaultLoggingOptions(opts)

	return func(next provider.Transport) provider.Transport {
		return &loggingTransport{next: next, opts: opts}
	}
}

type loggingTransport struct {
	next provider.Transport
	opts LoggingOptions
}

func (l *loggingTransport) event(level zerolog.Level, req *provider.Request) *zerolog.Event {
	return l.opts.Logger.WithLevel(level).
		Str("engine", req.Engine).
		Str("endpoint", string(req.Endpoint))
}

func (l *loggingTransport) Send(ctx context.Context, req *provider.Request) (*provider.RawResponse, error) {
	start := time.Now()
	if l.opts.LogRequest {
		l.event(zerolog.DebugLevel, req).Msg("transport.send start")
	}

	res, err := l.next.Send(ctx, req)
	dur := time.Since(start)

	if err != nil {
		if l.opts.LogErrors {
			l.event(zerolog.ErrorLevel, req).Dur("duration", dur).Err(err).Msg("transport.send error")
		}
		return nil, err
	}

	if l.opts.LogResponse {
		l.event(zerolog.InfoLevel, req).Dur("duration", dur).Int("status", res.StatusCode).Msg("transport.send done")
	}
	return res, nil
}

func (l *loggingTransport) OpenStream(ctx context.Context, req *provider.Request) (*provider.RawStream, error) {
	if l.opts.LogRequest {
		l.event(zerolog.DebugLevel, req).Msg("transport.stream start")
	}

	stream, err := l.next.OpenStream(ctx, req)
	if err != nil {
		if l.opts.LogErrors {
			l.event(zerolog.ErrorLevel, req).Err(err).Msg("transport.stream error")
		}
		return nil, err
	}

	if l.opts.LogResponse {
		l.event(zerolog.InfoLevel, req).Int("status", stream.StatusCode).Msg("transport.stream established")
	}
	return stream, nil
}

// RetryOptions configures the retry middleware.
type RetryOptions struct {
	// MaxAttempts is the maximum number of attempts, including the first
	// call. If zero or negative, a default of 3 attempts is used.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry. If zero, a
	// default of 100ms is used.
	InitialBackoff time.Duration
	// MaxBackoff caps the backoff delay. If zero, no cap is applied.
	MaxBackoff time.Duration
	// ShouldRetry determines whether a given error is considered
	// transient. If nil, timeouts and temporary network errors are
	// retried.
	ShouldRetry func(error) bool
}

func defaultRetryOptions(opts RetryOptions) RetryOptions {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 100 * time.Millisecond
	}
	if opts.ShouldRetry == nil {
		opts.ShouldRetry = isTransientError
	}
	return opts
}

// RetryTransport returns a TransportMiddleware that retries Send and
// OpenStream when they fail at the connection level. Responses with an
// error status are delivered, not retried, and an established stream is
// never re-opened.
func RetryTransport(opts RetryOptions) TransportMiddleware {
	opts = defaultRetryOptions(opts)

	return func(next provider.Transport) provider.Transport {
		return &retryTransport{next: next, opt: opts}
	}
}

type retryTransport struct {
	next provider.Transport
	opt  RetryOptions
}

func (r *retryTransport) Send(ctx context.Context, req *provider.Request) (*provider.RawResponse, error) {
	return retry(ctx, r.opt, func() (*provider.RawResponse, error) {
		return r.next.Send(ctx, req)
	})
}

func (r *retryTransport) OpenStream(ctx context.Context, req *provider.Request) (*provider.RawStream, error) {
	return retry(ctx, r.opt, func() (*provider.RawStream, error) {
		return r.next.OpenStream(ctx, req)
	})
}

func retry[T any](ctx context.Context, opt RetryOptions, call func() (*T, error)) (*T, error) {
	var lastErr error

	backoff := opt.InitialBackoff
	for attempt := 1; attempt <= opt.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepWithContext(ctx, backoff); err != nil {
				return nil, err
			}
			backoff = nextBackoff(backoff, opt.MaxBackoff)
		}

		res, err := call()
		if err == nil {
			return res, nil
		}
		// Do not retry on context cancellation.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !opt.ShouldRetry(err) {
			return nil, err
		}
		lastErr = err
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("middleware: retry: exhausted attempts with no result")
}

// sleepWithContext sleeps for the given duration or returns early if
// the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// nextBackoff computes the next backoff delay using exponential
// backoff with an optional maximum cap.
func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if max > 0 && next > max {
		return max
	}
	return next
}

// isTransientError reports whether err looks like a transient network
// error suitable for retry.
func isTransientError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// CallKind describes the kind of transport call for telemetry purposes.
type CallKind string

const (
	// CallSend represents a blocking Send call.
	CallSend CallKind = "send"
	// CallStream represents establishing a stream.
	CallStream CallKind = "stream"
)

// CallInfo contains high-level metadata about a transport call that can
// be used for metrics or tracing.
type CallInfo struct {
	Kind       CallKind
	Engine     string
	Endpoint   provider.Endpoint
	StatusCode int
	StartTime  time.Time
	EndTime    time.Time
	Err        error
}

// TelemetryHooks defines callbacks that are invoked around transport
// calls.
type TelemetryHooks struct {
	OnCall func(ctx context.Context, info CallInfo)
}

// TelemetryTransport returns a TransportMiddleware that invokes the
// provided telemetry hooks around Send and OpenStream calls.
func TelemetryTransport(hooks TelemetryHooks) TransportMiddleware {
	return func(next provider.Transport) provider.Transport {
		return &telemetryTransport{next: next, hooks: hooks}
	}
}

type telemetryTransport struct {
	next  provider.Transport
	hooks TelemetryHooks
}

func (t *telemetryTransport) Send(ctx context.Context, req *provider.Request) (*provider.RawResponse, error) {
	start := time.Now()
	res, err := t.next.Send(ctx, req)
	if t.hooks.OnCall != nil {
		info := CallInfo{
			Kind:      CallSend,
			Engine:    req.Engine,
			Endpoint:  req.Endpoint,
			StartTime: start,
			EndTime:   time.Now(),
			Err:       err,
		}
		if res != nil {
			info.StatusCode = res.StatusCode
		}
		t.hooks.OnCall(ctx, info)
	}
	return res, err
}

func (t *telemetryTransport) OpenStream(ctx context.Context, req *provider.Request) (*provider.RawStream, error) {
	start := time.Now()
	stream, err := t.next.OpenStream(ctx, req)
	if t.hooks.OnCall != nil {
		info := CallInfo{
			Kind:      CallStream,
			Engine:    req.Engine,
			Endpoint:  req.Endpoint,
			StartTime: start,
			EndTime:   time.Now(),
			Err:       err,
		}
		if stream != nil {
			info.StatusCode = stream.StatusCode
		}
		t.hooks.OnCall(ctx, info)
	}
	return stream, err
}
