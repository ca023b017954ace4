package textsynth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ncecere/synthtext/provider"
)

func newTestClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(provider.ClientOptions{
		BaseURL:    ts.URL,
		APIKey:     "test-key",
		HTTPClient: ts.Client(),
		Headers:    http.Header{"X-Trace": []string{"abc"}},
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return client
}

func TestClientSend_MapsRequestAndResponse(t *testing.T) {
	ctx := context.Background()

	var recordedBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.URL.Path; got != "/v1/engines/gptj_6B/completions" {
			t.Fatalf("unexpected path: %s", got)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %q", auth)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("unexpected content type: %q", ct)
		}
		if got := r.Header.Get("X-Trace"); got != "abc" {
			t.Fatalf("custom header not forwarded: %q", got)
		}
		b, _ := io.ReadAll(r.Body)
		recordedBody = string(b)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text":" world","reached_end":true}`)
	}))
	defer ts.Close()

	res, err := newTestClient(t, ts).Send(ctx, &provider.Request{
		Engine:   "gptj_6B",
		Endpoint: provider.EndpointCompletions,
		Body:     []byte(`{"prompt":"hello"}`),
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", res.StatusCode)
	}
	if string(res.Body) != `{"text":" world","reached_end":true}` {
		t.Fatalf("unexpected body: %s", res.Body)
	}
	if recordedBody != `{"prompt":"hello"}` {
		t.Fatalf("unexpected request body: %s", recordedBody)
	}
}

func TestClientSend_ErrorStatusIsNotAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/v1/engines/boris_6B/logprob" {
			t.Fatalf("unexpected path: %s", got)
		}
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"status":401,"error":"invalid API key"}`)
	}))
	defer ts.Close()

	res, err := newTestClient(t, ts).Send(context.Background(), &provider.Request{
		Engine:   "boris_6B",
		Endpoint: provider.EndpointLogProb,
		Body:     []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", res.StatusCode)
	}
	if string(res.Body) != `{"status":401,"error":"invalid API key"}` {
		t.Fatalf("unexpected body: %s", res.Body)
	}
}

func TestClientOpenStream_FramesAcrossWrites(t *testing.T) {
	ctx := context.Background()

	// Frames are split at awkward points to exercise buffering.
	writes := []string{
		`{"text":"He`,
		`llo","reached_end":false}` + "\n",
		"\n" + `{"text":", wor`,
		`ld","reached_end":false}` + "\r\n\r\n",
		`{"text":"!","reached_end":true,"total_tokens":5}` + "\n\n",
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatalf("response writer does not support flushing")
		}
		w.Header().Set("Content-Type", "application/json")
		for _, s := range writes {
			fmt.Fprint(w, s)
			flusher.Flush()
		}
	}))
	defer ts.Close()

	stream, err := newTestClient(t, ts).OpenStream(ctx, &provider.Request{
		Engine:   "gptj_6B",
		Endpoint: provider.EndpointCompletions,
		Body:     []byte(`{"prompt":"x","stream":true}`),
	})
	if err != nil {
		t.Fatalf("OpenStream error: %v", err)
	}
	if stream.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", stream.StatusCode)
	}
	defer stream.Chunks.Close()

	want := []string{
		`{"text":"Hello","reached_end":false}`,
		`{"text":", world","reached_end":false}`,
		`{"text":"!","reached_end":true,"total_tokens":5}`,
	}
	for i, w := range want {
		chunk, err := stream.Chunks.Next(ctx)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if string(chunk) != w {
			t.Fatalf("chunk %d = %q, want %q", i, chunk, w)
		}
	}
	if _, err := stream.Chunks.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestClientOpenStream_ErrorBodyIsOnlyChunk(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"status":429,"error":"rate limited"}`)
	}))
	defer ts.Close()

	ctx := context.Background()
	stream, err := newTestClient(t, ts).OpenStream(ctx, &provider.Request{Engine: "gptj_6B", Endpoint: provider.EndpointCompletions})
	if err != nil {
		t.Fatalf("OpenStream error: %v", err)
	}
	if stream.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: %d", stream.StatusCode)
	}
	chunk, err := stream.Chunks.Next(ctx)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if string(chunk) != `{"status":429,"error":"rate limited"}` {
		t.Fatalf("unexpected chunk: %s", chunk)
	}
	if _, err := stream.Chunks.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestClientOpenStream_ConnectionFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	client := newTestClient(t, ts)
	ts.Close()

	_, err := client.OpenStream(context.Background(), &provider.Request{Engine: "gptj_6B", Endpoint: provider.EndpointCompletions})
	if err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestNewClient_Env(t *testing.T) {
	t.Setenv("TEXTSYNTH_API_KEY", "")
	if _, err := NewClient(provider.ClientOptions{}); err == nil {
		t.Fatalf("expected missing API key error")
	}

	t.Setenv("TEXTSYNTH_API_KEY", "env-key")
	t.Setenv("TEXTSYNTH_BASE_URL", "https://example.test/v1/")
	client, err := NewClient(provider.ClientOptions{})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if client.apiKey != "env-key" {
		t.Fatalf("unexpected api key: %q", client.apiKey)
	}
	if got := client.endpointURL("my engine", provider.EndpointLogProb); got != "https://example.test/v1/engines/my%20engine/logprob" {
		t.Fatalf("unexpected endpoint: %s", got)
	}
}

func TestNewRequest_RequiresEngine(t *testing.T) {
	client, err := NewClient(provider.ClientOptions{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if _, err := client.Send(context.Background(), &provider.Request{Endpoint: provider.EndpointCompletions}); err == nil {
		t.Fatalf("expected error for missing engine")
	}
}
