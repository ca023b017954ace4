package synthtext

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of an unparseable error body is quoted.
const maxErrorBody = 8 * 1024

type completionBody struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

// completionPayload is both the blocking response and a single stream
// frame. Servers report tokens either as total_tokens or as
// input_tokens/output_tokens.
type completionPayload struct {
	Text            *string `json:"text"`
	ReachedEnd      bool    `json:"reached_end"`
	TruncatedPrompt bool    `json:"truncated_prompt"`
	TotalTokens     *int    `json:"total_tokens"`
	InputTokens     *int    `json:"input_tokens"`
	OutputTokens    *int    `json:"output_tokens"`
	Status          int     `json:"status"`
	Error           string  `json:"error"`
}

type logProbBody struct {
	Context      string `json:"context"`
	Continuation string `json:"continuation"`
}

type logProbPayload struct {
	LogProb     *float64 `json:"logprob"`
	IsGreedy    bool     `json:"is_greedy"`
	TotalTokens int      `json:"total_tokens"`
	Status      int      `json:"status"`
	Error       string   `json:"error"`
}

type errorPayload struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

var errMissingText = errors.New("payload has no text field")

func decodeCompletion(data []byte) (*completionPayload, error) {
	var p completionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Error == "" && p.Text == nil && !p.ReachedEnd {
		return nil, errMissingText
	}
	return &p, nil
}

func (p *completionPayload) text() string {
	if p.Text == nil {
		return ""
	}
	return *p.Text
}

func (p *completionPayload) totalTokens() *int {
	if p.TotalTokens != nil {
		return p.TotalTokens
	}
	if p.InputTokens != nil && p.OutputTokens != nil {
		n := *p.InputTokens + *p.OutputTokens
		return &n
	}
	return nil
}

func (p *completionPayload) hasMetadata() bool {
	return p.ReachedEnd || p.TruncatedPrompt || p.TotalTokens != nil || p.InputTokens != nil || p.OutputTokens != nil
}

func (p *completionPayload) result() *CompletionResult {
	return &CompletionResult{
		Text:            p.text(),
		TruncatedPrompt: p.TruncatedPrompt,
		ReachedEnd:      p.ReachedEnd,
		TotalTokens:     p.totalTokens(),
		InputTokens:     p.InputTokens,
		OutputTokens:    p.OutputTokens,
	}
}

func (p *completionPayload) fragment(index int) *CompletionFragment {
	frag := &CompletionFragment{
		Index:      index,
		Text:       p.text(),
		ReachedEnd: p.ReachedEnd,
	}
	if p.hasMetadata() {
		frag.Metadata = &FragmentMetadata{
			TruncatedPrompt: p.TruncatedPrompt,
			TotalTokens:     p.totalTokens(),
			InputTokens:     p.InputTokens,
			OutputTokens:    p.OutputTokens,
		}
	}
	return frag
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// apiError builds the error for a non-2xx response. A JSON error payload
// is surfaced verbatim; anything else is quoted, truncated.
func apiError(status int, body []byte) *ExecutionError {
	ee := &ExecutionError{Kind: KindAPI, Stage: StageStatus, StatusCode: status}
	var p errorPayload
	if err := json.Unmarshal(body, &p); err == nil && p.Error != "" {
		ee.Message = p.Error
		return ee
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	ee.Message = msg
	return ee
}

// payloadError builds the error for an error payload delivered with a
// successful status, e.g. mid-stream.
func payloadError(stage Stage, status int, message string) *ExecutionError {
	return &ExecutionError{Kind: KindAPI, Stage: stage, StatusCode: status, Message: message}
}

func jsonMarshal(v any) ([]byte, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("synthtext: encode request: %w", err)
	}
	return buf, nil
}
