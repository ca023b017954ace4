package app

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/synthtext"
	"github.com/ncecere/synthtext/provider"
)

type stubTransport struct {
	status   int
	body     string
	chunks   []string
	requests []*provider.Request
}

func (s *stubTransport) Send(_ context.Context, req *provider.Request) (*provider.RawResponse, error) {
	s.requests = append(s.requests, req)
	return &provider.RawResponse{StatusCode: s.status, Body: []byte(s.body)}, nil
}

func (s *stubTransport) OpenStream(_ context.Context, req *provider.Request) (*provider.RawStream, error) {
	s.requests = append(s.requests, req)
	return &provider.RawStream{StatusCode: s.status, Chunks: &sliceSource{chunks: s.chunks}}, nil
}

type sliceSource struct {
	chunks []string
	pos    int
}

func (s *sliceSource) Next(context.Context) (provider.RawChunk, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return provider.RawChunk(c), nil
}

func (s *sliceSource) Close() error { return nil }

// run executes the CLI against tr with a configuration taken from the
// environment.
func run(t *testing.T, tr *stubTransport, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("SYNTHTEXT_API_KEY", "test-key")
	t.Setenv("SYNTHTEXT_ENGINE", "")

	var stdout, stderr bytes.Buffer
	a := New("test", WithOutput(&stdout, &stderr), WithTransport(tr))
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	args = append([]string{"--config", cfgPath, "--log-format", "json"}, args...)
	err := a.Execute(context.Background(), args)
	return stdout.String(), stderr.String(), err
}

func TestTextCompletionNow(t *testing.T) {
	tr := &stubTransport{status: 200, body: `{"text":" there","reached_end":true,"truncated_prompt":true,"total_tokens":9}`}

	out, logs, err := run(t, tr, "tc", "now", "hello", "-m", "16", "-k", "40", "-p", "0.9", "-t", "0.7", "-u", "\n")
	require.NoError(t, err)
	assert.Equal(t, "hello there\n", out)
	assert.Contains(t, logs, "prompt was truncated")
	assert.Contains(t, logs, `"total_tokens":9`)

	require.Len(t, tr.requests, 1)
	assert.Equal(t, "gptj_6B", tr.requests[0].Engine)
	assert.Equal(t, provider.EndpointCompletions, tr.requests[0].Endpoint)
	assert.JSONEq(t, `{"prompt":"hello","max_tokens":16,"temperature":0.7,"top_k":40,"top_p":0.9,"stop":["\n"]}`, string(tr.requests[0].Body))
}

func TestTextCompletionValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"top_p out of range", []string{"tc", "now", "x", "-p", "1.5"}},
		{"top_k out of range", []string{"tc", "now", "x", "-k", "1001"}},
		{"top_k not a number", []string{"tc", "now", "x", "-k", "many"}},
		{"max_tokens over engine limit", []string{"tc", "now", "x", "-m", "2049"}},
		{"too many stop sequences", []string{"tc", "now", "x", "-u", "a", "-u", "b", "-u", "c", "-u", "d", "-u", "e", "-u", "f"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &stubTransport{status: 200, body: `{"text":"x"}`}
			_, _, err := run(t, tr, tt.args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, synthtext.ErrInvalidParameter)
			assert.Empty(t, tr.requests)
		})
	}
}

func TestTextCompletionEngineOverride(t *testing.T) {
	tr := &stubTransport{status: 200, body: `{"text":"!","reached_end":true}`}
	_, _, err := run(t, tr, "-e", "boris6b", "t", "n", "hi", "-m", "2048")
	require.NoError(t, err)
	require.Len(t, tr.requests, 1)
	assert.Equal(t, "boris_6B", tr.requests[0].Engine)

	tr = &stubTransport{status: 200, body: `{"text":"!","reached_end":true}`}
	_, _, err = run(t, tr, "-e", "fairseq_gpt_13B", "t", "n", "hi", "-m", "2048")
	assert.ErrorIs(t, err, synthtext.ErrInvalidParameter)
	assert.Empty(t, tr.requests)
}

func TestTextCompletionStream(t *testing.T) {
	tr := &stubTransport{status: 200, chunks: []string{
		`{"text":" brown","reached_end":false}`,
		`{"text":" fox","reached_end":false}`,
		`{"text":".","reached_end":true,"total_tokens":6}`,
	}}

	out, logs, err := run(t, tr, "tc", "stream", "The quick")
	require.NoError(t, err)
	assert.Equal(t, "The quick brown fox.\n", out)
	assert.Contains(t, logs, `"total_tokens":6`)
	require.Len(t, tr.requests, 1)
	assert.Contains(t, string(tr.requests[0].Body), `"stream":true`)
}

func TestTextCompletionStreamError(t *testing.T) {
	tr := &stubTransport{status: 200, chunks: []string{
		`{"text":"a","reached_end":false}`,
		`{not json`,
	}}

	out, _, err := run(t, tr, "tc", "s", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, synthtext.ErrDecode)
	assert.Equal(t, "xa\n", out)
}

func TestTextCompletionAPIError(t *testing.T) {
	tr := &stubTransport{status: 401, body: `{"status":401,"error":"invalid API key"}`}
	_, _, err := run(t, tr, "tc", "now", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, synthtext.ErrAPI)
	assert.Contains(t, err.Error(), "invalid API key")
}

func TestLogProbabilities(t *testing.T) {
	tr := &stubTransport{status: 200, body: `{"logprob":-0.5,"is_greedy":true,"total_tokens":3}`}
	out, _, err := run(t, tr, "lp", "The capital of France is", " Paris")
	require.NoError(t, err)
	assert.Equal(t, "log probability: -0.5\nis greedy: true\ntotal tokens: 3\n", out)

	require.Len(t, tr.requests, 1)
	assert.Equal(t, provider.EndpointLogProb, tr.requests[0].Endpoint)
	assert.JSONEq(t, `{"context":"The capital of France is","continuation":" Paris"}`, string(tr.requests[0].Body))
}

func TestLogProbabilitiesEmptyContinuation(t *testing.T) {
	tr := &stubTransport{}
	_, _, err := run(t, tr, "l", "ctx", "")
	assert.ErrorIs(t, err, synthtext.ErrInvalidParameter)
	assert.Empty(t, tr.requests)
}

func TestConfigFindPath(t *testing.T) {
	var stdout bytes.Buffer
	a := New("test", WithOutput(&stdout, io.Discard))
	err := a.Execute(context.Background(), []string{"--config", "/tmp/elsewhere.json", "config", "fp"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/elsewhere.json\n", stdout.String())
}

func TestConfigGenerate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	var stdout bytes.Buffer
	a := New("test", WithOutput(&stdout, io.Discard))
	require.NoError(t, a.Execute(context.Background(), []string{"config", "generate", path, "-a", "secret", "-e", "boris6b"}))
	assert.FileExists(t, path)

	a = New("test", WithOutput(&stdout, io.Discard))
	err := a.Execute(context.Background(), []string{"config", "g", path, "-a", "secret"})
	require.Error(t, err)

	a = New("test", WithOutput(&stdout, io.Discard))
	require.NoError(t, a.Execute(context.Background(), []string{"config", "g", path, "-a", "other", "--create"}))
}

func TestConfigGenerateDump(t *testing.T) {
	var stdout bytes.Buffer
	a := New("test", WithOutput(&stdout, io.Discard))
	path := filepath.Join(t.TempDir(), "config.json")
	err := a.Execute(context.Background(), []string{"--config", path, "config", "g", "-a", "k", "-e", "custom,4096", "-d"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"api_key":"k","engine_definition":"custom,4096"}`, stdout.String())
	assert.NoFileExists(t, path)
}

func TestEngines(t *testing.T) {
	out, _, err := run(t, &stubTransport{}, "engines")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "gptj_6B")
	assert.Contains(t, out, "fairseq_gpt_13B")
	assert.Contains(t, out, "1024")
}
