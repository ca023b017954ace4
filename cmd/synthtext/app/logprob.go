package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ncecere/synthtext"
)

func (a *App) logProbabilitiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "log-probabilities <context> <continuation>",
		Aliases: []string{"lp", "l"},
		Short:   "Compute the log probability of a continuation",
		Long: `Return the logarithm of the probability that continuation is generated
after context. An empty context stands for the End-Of-Text token. The
continuation must not be empty.`,
		Example: `  synthtext lp "The capital of France is" " Paris"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			continuation, err := synthtext.NewNonEmptyString(args[1])
			if err != nil {
				return err
			}
			engine, err := a.engine()
			if err != nil {
				return err
			}

			lp, err := engine.LogProbabilities(cmd.Context(), args[0], continuation)
			if err != nil {
				return fmt.Errorf("log probabilities: %w", err)
			}

			a.printf("log probability: %g\n", lp.LogProbability)
			a.printf("is greedy: %t\n", lp.IsGreedy)
			a.printf("total tokens: %d\n", lp.TotalTokens)
			return nil
		},
	}
}
