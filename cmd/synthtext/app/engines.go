package app

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (a *App) enginesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List the preset and configured engines",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			reg := cfg.Registry()

			w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			_, _ = w.Write([]byte("NAME\tID\tMAX TOKENS\tDEFAULT\n"))
			for _, name := range reg.Names() {
				def, err := reg.Engine(name)
				if err != nil {
					return err
				}
				mark := ""
				if def == cfg.Engine {
					mark = "*"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, def.ID(), def.MaxTokens(), mark)
			}
			return w.Flush()
		},
	}
}
