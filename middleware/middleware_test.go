package middleware

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/synthtext/provider"
)

type scriptedTransport struct {
	errs  []error
	calls int
}

func (s *scriptedTransport) next() error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedTransport) Send(context.Context, *provider.Request) (*provider.RawResponse, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return &provider.RawResponse{StatusCode: 200, Body: []byte(`{}`)}, nil
}

func (s *scriptedTransport) OpenStream(context.Context, *provider.Request) (*provider.RawStream, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return &provider.RawStream{StatusCode: 200}, nil
}

var testRequest = &provider.Request{Engine: "gptj_6B", Endpoint: provider.EndpointCompletions}

func dialError() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func TestWrapTransport_Order(t *testing.T) {
	var order []string
	mark := func(name string) TransportMiddleware {
		return func(next provider.Transport) provider.Transport {
			return TelemetryTransport(TelemetryHooks{OnCall: func(context.Context, CallInfo) {
				order = append(order, name)
			}})(next)
		}
	}

	tr := WrapTransport(&scriptedTransport{}, mark("outer"), mark("inner"))
	_, err := tr.Send(context.Background(), testRequest)
	require.NoError(t, err)
	// Hooks fire on the way out, so the innermost reports first.
	assert.Equal(t, []string{"inner", "outer"}, order)
}

func TestRetryTransport_RetriesConnectionErrors(t *testing.T) {
	base := &scriptedTransport{errs: []error{dialError(), dialError()}}
	tr := WrapTransport(base, RetryTransport(RetryOptions{MaxAttempts: 3, InitialBackoff: time.Millisecond}))

	res, err := tr.Send(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, 3, base.calls)
}

func TestRetryTransport_GivesUp(t *testing.T) {
	base := &scriptedTransport{errs: []error{dialError(), dialError(), dialError()}}
	tr := WrapTransport(base, RetryTransport(RetryOptions{MaxAttempts: 2, InitialBackoff: time.Millisecond}))

	_, err := tr.OpenStream(context.Background(), testRequest)
	var opErr *net.OpError
	assert.ErrorAs(t, err, &opErr)
	assert.Equal(t, 2, base.calls)
}

func TestRetryTransport_DoesNotRetryOtherErrors(t *testing.T) {
	base := &scriptedTransport{errs: []error{errors.New("tls: bad certificate")}}
	tr := WrapTransport(base, RetryTransport(RetryOptions{InitialBackoff: time.Millisecond}))

	_, err := tr.Send(context.Background(), testRequest)
	assert.Error(t, err)
	assert.Equal(t, 1, base.calls)
}

func TestRetryTransport_StopsOnCancel(t *testing.T) {
	base := &scriptedTransport{errs: []error{dialError(), dialError()}}
	tr := WrapTransport(base, RetryTransport(RetryOptions{MaxAttempts: 5, InitialBackoff: time.Hour}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := tr.Send(ctx, testRequest)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, base.calls)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, nextBackoff(100*time.Millisecond, 0))
	assert.Equal(t, 150*time.Millisecond, nextBackoff(100*time.Millisecond, 150*time.Millisecond))
}

func TestLoggingTransport(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	base := &scriptedTransport{errs: []error{nil, dialError()}}
	tr := WrapTransport(base, LoggingTransport(LoggingOptions{Logger: logger}))

	_, err := tr.Send(context.Background(), testRequest)
	require.NoError(t, err)
	_, err = tr.OpenStream(context.Background(), testRequest)
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"message":"transport.send start"`)
	assert.Contains(t, out, `"engine":"gptj_6B"`)
	assert.Contains(t, out, `"message":"transport.stream error"`)
	assert.NotContains(t, out, "transport.send done")
}

func TestTelemetryTransport(t *testing.T) {
	var infos []CallInfo
	hooks := TelemetryHooks{OnCall: func(_ context.Context, info CallInfo) {
		infos = append(infos, info)
	}}
	base := &scriptedTransport{errs: []error{nil, dialError()}}
	tr := WrapTransport(base, TelemetryTransport(hooks))

	_, err := tr.Send(context.Background(), testRequest)
	require.NoError(t, err)
	_, err = tr.OpenStream(context.Background(), testRequest)
	require.Error(t, err)

	require.Len(t, infos, 2)
	assert.Equal(t, CallSend, infos[0].Kind)
	assert.Equal(t, 200, infos[0].StatusCode)
	assert.Equal(t, "gptj_6B", infos[0].Engine)
	assert.NoError(t, infos[0].Err)
	assert.False(t, infos[0].EndTime.Before(infos[0].StartTime))

	assert.Equal(t, CallStream, infos[1].Kind)
	assert.Zero(t, infos[1].StatusCode)
	assert.Error(t, infos[1].Err)
}
