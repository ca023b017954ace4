package synthtext

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// sseEvent is the JSON body of one SSE data event.
type sseEvent struct {
	Text            string `json:"text"`
	ReachedEnd      bool   `json:"reached_end,omitempty"`
	TruncatedPrompt bool   `json:"truncated_prompt,omitempty"`
	TotalTokens     *int   `json:"total_tokens,omitempty"`
	Error           string `json:"error,omitempty"`
	Kind            string `json:"kind,omitempty"`
}

type flusher interface {
	Flush() error
}

// WriteFragmentsAsSSE writes every fragment of seq to w using the
// Server-Sent Events framing, one JSON `data:` event per fragment,
// followed by a final `data: [DONE]` marker. A terminal stream error is
// sent as an event with an "error" field before the function returns
// it. seq is closed on return.
//
// w is flushed after each event when it implements http.Flusher or a
// Flush() error method (such as *bufio.Writer).
func WriteFragmentsAsSSE(ctx context.Context, w io.Writer, seq *FragmentSequence) error {
	defer seq.Close()

	flush := func() error {
		switch f := w.(type) {
		case http.Flusher:
			f.Flush()
		case flusher:
			return f.Flush()
		}
		return nil
	}
	emit := func(ev sseEvent) error {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		return flush()
	}

	for frag, err := range seq.All(ctx) {
		if err != nil {
			ev := sseEvent{Error: err.Error()}
			if ee, ok := AsExecutionError(err); ok {
				ev.Kind = string(ee.Kind)
			}
			if werr := emit(ev); werr != nil {
				return werr
			}
			return err
		}

		ev := sseEvent{Text: frag.Text, ReachedEnd: frag.ReachedEnd}
		if md := frag.Metadata; md != nil {
			ev.TruncatedPrompt = md.TruncatedPrompt
			ev.TotalTokens = md.TotalTokens
		}
		if err := emit(ev); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	return flush()
}

// ServeFragmentsAsSSE sets the standard SSE headers on w and then calls
// WriteFragmentsAsSSE.
func ServeFragmentsAsSSE(ctx context.Context, w http.ResponseWriter, seq *FragmentSequence) error {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	return WriteFragmentsAsSSE(ctx, w, seq)
}
