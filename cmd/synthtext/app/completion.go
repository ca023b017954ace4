package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ncecere/synthtext"
)

type completionFlags struct {
	maxTokens   string
	temperature float64
	topK        string
	topP        string
	until       []string
}

func (a *App) textCompletionCommand() *cobra.Command {
	var flags completionFlags

	cmd := &cobra.Command{
		Use:     "text-completion",
		Aliases: []string{"tc", "t"},
		Short:   "Complete and synthesize text",
		Long: `Complete and synthesize text with the configured engine.

Sampling parameters apply to both methods. Unset parameters use the
server defaults.`,
		Example: `  synthtext text-completion now "Once upon a time" -m 50
  synthtext tc stream "The quick brown fox" -k 40 -p 0.9
  synthtext tc now "Q: What is Go?\nA:" -u "\n" -u "Q:"`,
	}
	cmd.PersistentFlags().StringVarP(&flags.maxTokens, "max-tokens", "m", "", "maximum number of tokens to generate, up to the engine's limit")
	cmd.PersistentFlags().Float64VarP(&flags.temperature, "temperature", "t", 1, "sampling temperature")
	cmd.PersistentFlags().StringVarP(&flags.topK, "top-k", "k", "", "sample among the k most likely tokens (0..1000)")
	cmd.PersistentFlags().StringVarP(&flags.topP, "top-p", "p", "", "sample among tokens within cumulative probability p (0..1)")

	now := &cobra.Command{
		Use:     "now <prompt>",
		Aliases: []string{"n"},
		Short:   "Run the completion and print the result",
		Args:    cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.runNow(c, args[0], flags)
		},
	}
	now.Flags().StringArrayVarP(&flags.until, "until", "u", nil, "stop when this string is generated (repeatable, at most 5)")

	stream := &cobra.Command{
		Use:     "stream <prompt>",
		Aliases: []string{"s"},
		Short:   "Stream the completion as it is generated",
		Args:    cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.runStream(c, args[0], flags)
		},
	}
	stream.Flags().StringArrayVarP(&flags.until, "until", "u", nil, "stop when this string is generated (repeatable, at most 5)")

	cmd.AddCommand(now, stream)
	return cmd
}

// buildCompletion validates the flags and returns the request and stop
// sequences. Nothing is sent.
func (a *App) buildCompletion(cmd *cobra.Command, prompt string, flags completionFlags) (*synthtext.CompletionRequest, *synthtext.Stop, error) {
	engine, err := a.engine()
	if err != nil {
		return nil, nil, err
	}
	req := engine.TextCompletion(prompt)

	if flags.maxTokens != "" {
		m, err := synthtext.ParseMaxTokens(flags.maxTokens, engine.Definition())
		if err != nil {
			return nil, nil, err
		}
		if err := req.SetMaxTokens(m); err != nil {
			return nil, nil, err
		}
	}
	if cmd.Flags().Changed("temperature") {
		if err := req.SetTemperature(flags.temperature); err != nil {
			return nil, nil, err
		}
	}
	if flags.topK != "" {
		k, err := synthtext.ParseTopK(flags.topK)
		if err != nil {
			return nil, nil, err
		}
		if err := req.SetTopK(k); err != nil {
			return nil, nil, err
		}
	}
	if flags.topP != "" {
		p, err := synthtext.ParseTopP(flags.topP)
		if err != nil {
			return nil, nil, err
		}
		if err := req.SetTopP(p); err != nil {
			return nil, nil, err
		}
	}

	if len(flags.until) == 0 {
		return req, nil, nil
	}
	stop, err := synthtext.NewStop(flags.until)
	if err != nil {
		return nil, nil, err
	}
	return req, &stop, nil
}

func (a *App) runNow(cmd *cobra.Command, prompt string, flags completionFlags) error {
	req, stop, err := a.buildCompletion(cmd, prompt, flags)
	if err != nil {
		return err
	}

	res, err := synthtext.ExecuteNow(cmd.Context(), req, stop)
	if err != nil {
		return fmt.Errorf("text completion: %w", err)
	}

	a.printf("%s%s\n", prompt, res.Text)
	a.reportUsage(res)
	return nil
}

func (a *App) runStream(cmd *cobra.Command, prompt string, flags completionFlags) error {
	req, stop, err := a.buildCompletion(cmd, prompt, flags)
	if err != nil {
		return err
	}

	seq, err := synthtext.ExecuteStream(cmd.Context(), req, stop)
	if err != nil {
		return fmt.Errorf("text completion: %w", err)
	}
	defer seq.Close()

	a.printf("%s", prompt)
	res := &synthtext.CompletionResult{}
	for frag, err := range seq.All(cmd.Context()) {
		if err != nil {
			a.printf("\n")
			return fmt.Errorf("text completion stream: %w", err)
		}
		a.printf("%s", frag.Text)
		if md := frag.Metadata; md != nil {
			res.TruncatedPrompt = res.TruncatedPrompt || md.TruncatedPrompt
			if md.TotalTokens != nil {
				res.TotalTokens = md.TotalTokens
			}
		}
	}
	a.printf("\n")
	a.reportUsage(res)
	return nil
}

func (a *App) reportUsage(res *synthtext.CompletionResult) {
	if res.TruncatedPrompt {
		a.logger.Warn().Msg("prompt was truncated; it exceeds the engine's maximum context length")
	}
	if res.TotalTokens != nil {
		a.logger.Info().Int("total_tokens", *res.TotalTokens).Msg("tokens used")
	}
}
