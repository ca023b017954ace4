package synthtext

// CompletionResult is the outcome of a blocking completion.
type CompletionResult struct {
	// Text is the generated continuation, without the prompt.
	Text string
	// TruncatedPrompt is set when the server discarded the beginning of
	// the prompt to fit the engine's context length. It is a warning,
	// not an error.
	TruncatedPrompt bool
	// ReachedEnd is set when generation ended on its own or at a stop
	// sequence rather than at the token limit.
	ReachedEnd bool
	// TotalTokens is nil only when the server omits token counts.
	TotalTokens *int
	// InputTokens and OutputTokens are reported by newer API versions.
	InputTokens  *int
	OutputTokens *int
}

// CompletionFragment is one increment of a streamed completion.
type CompletionFragment struct {
	// Index is the zero-based position of the fragment in its sequence.
	Index int
	// Text is the newly generated text.
	Text string
	// ReachedEnd marks the last fragment of the sequence.
	ReachedEnd bool
	// Metadata is set when the server attached completion metadata,
	// normally only on the last fragment.
	Metadata *FragmentMetadata
}

// FragmentMetadata is the completion metadata carried by a stream frame.
type FragmentMetadata struct {
	TruncatedPrompt bool
	TotalTokens     *int
	InputTokens     *int
	OutputTokens    *int
}

// LogProbabilities is the result of scoring a continuation.
type LogProbabilities struct {
	// LogProbability is the logarithm of the probability that the
	// continuation follows the context.
	LogProbability float64
	// IsGreedy is true if the continuation would be produced by greedy
	// sampling.
	IsGreedy bool
	// TotalTokens is the number of tokens evaluated.
	TotalTokens int
}
