package synthtext

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/synthtext/provider"
)

// fakeTransport records every call and replays a canned response.
type fakeTransport struct {
	status  int
	body    string
	err     error
	source  *fakeSource
	calls   int
	streams int
	last    *provider.Request
}

func (f *fakeTransport) Send(_ context.Context, req *provider.Request) (*provider.RawResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &provider.RawResponse{StatusCode: f.status, Body: []byte(f.body)}, nil
}

func (f *fakeTransport) OpenStream(_ context.Context, req *provider.Request) (*provider.RawStream, error) {
	f.streams++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &provider.RawStream{StatusCode: f.status, Chunks: f.source}, nil
}

var errConnReset = errors.New("connection reset by peer")

// fakeSource yields chunks in order. When failAt is positive, the pull
// with that one-based number fails instead.
type fakeSource struct {
	chunks []string
	failAt int
	pulls  int
	closed int
}

func (s *fakeSource) Next(ctx context.Context) (provider.RawChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.pulls++
	if s.failAt > 0 && s.pulls == s.failAt {
		return nil, errConnReset
	}
	if s.pulls > len(s.chunks) {
		return nil, io.EOF
	}
	return provider.RawChunk(s.chunks[s.pulls-1]), nil
}

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

func textChunks(n int) []string {
	chunks := make([]string, n)
	for i := range chunks {
		chunks[i] = fmt.Sprintf(`{"text":"t%d","reached_end":false}`, i)
	}
	return chunks
}

func newTestEngine(t *testing.T, tr provider.Transport, def EngineDefinition) *Engine {
	t.Helper()
	e, err := NewEngine(tr, def)
	require.NoError(t, err)
	return e
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
