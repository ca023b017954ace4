package app

import (
	"github.com/spf13/cobra"

	"github.com/ncecere/synthtext"
	"github.com/ncecere/synthtext/internal/config"
)

func (a *App) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Aliases: []string{"c"},
		Short:   "Find or generate the configuration file",
	}

	findPath := &cobra.Command{
		Use:     "find-path",
		Aliases: []string{"fp", "f"},
		Short:   "Print the configuration file location, whether or not it exists",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := config.FindPath(a.flags.ConfigPath)
			if err != nil {
				return err
			}
			a.printf("%s\n", path)
			return nil
		},
	}

	var (
		apiKey string
		dump   bool
		create bool
	)
	generate := &cobra.Command{
		Use:     "generate [path]",
		Aliases: []string{"g"},
		Short:   "Write a configuration file",
		Long: `Write a configuration file to path, or to the default location (see
"synthtext config find-path") when no path is given.

The engine definition is taken from --engine. An existing file is left
alone unless --create is passed. Paths ending in .yaml or .yml are
written as YAML, anything else as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := a.flags.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			opts := config.GenerateOptions{
				Path:   path,
				APIKey: apiKey,
				Dump:   dump,
				Create: create,
				Out:    a.stdout,
			}
			if a.flags.Engine != "" {
				def, err := synthtext.ParseEngineDefinition(a.flags.Engine)
				if err != nil {
					return err
				}
				opts.Engine = def
			}

			written, err := config.Generate(opts)
			if err != nil {
				return err
			}
			if written != "" {
				a.logger.Info().Str("path", written).Msg("configuration written")
			}
			return nil
		},
	}
	generate.Flags().StringVarP(&apiKey, "api-key", "a", "", "API key used to authenticate")
	generate.Flags().BoolVarP(&dump, "dump", "d", false, "print the configuration instead of writing it")
	generate.Flags().BoolVarP(&create, "create", "f", false, "overwrite an existing file")
	_ = generate.MarkFlagRequired("api-key")

	cmd.AddCommand(findPath, generate)
	return cmd
}
