// Package app wires the synthtext command tree.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ncecere/synthtext"
	"github.com/ncecere/synthtext/internal/config"
	"github.com/ncecere/synthtext/internal/logging"
	"github.com/ncecere/synthtext/middleware"
	"github.com/ncecere/synthtext/provider"
	"github.com/ncecere/synthtext/registry"
	"github.com/ncecere/synthtext/textsynth"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Engine     string
	Retries    int
	NoColor    bool
}

// App holds the state shared by the commands of one invocation.
type App struct {
	version string
	stdout  io.Writer
	stderr  io.Writer
	flags   globalFlags
	logger  zerolog.Logger

	// transport replaces the HTTP client when set.
	transport provider.Transport
}

// Option configures an App.
type Option func(*App)

// WithOutput redirects command output and logs.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(a *App) {
		a.stdout = stdout
		a.stderr = stderr
	}
}

// WithTransport makes every command use t instead of the TextSynth HTTP
// client.
func WithTransport(t provider.Transport) Option {
	return func(a *App) {
		a.transport = t
	}
}

// New creates an App.
func New(version string, opts ...Option) *App {
	a := &App{
		version: version,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.New(logging.Config{Level: "info", Writer: a.stderr})
	return a
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return &a.logger
}

// Execute runs the command tree with args.
func (a *App) Execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *App) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "synthtext",
		Short:   "A command line client for the TextSynth API",
		Version: a.version,
		Long: `synthtext completes text and computes log probabilities with the
TextSynth API, and can serve the same operations over HTTP.

The API key and engine definition are read from the configuration file
(see "synthtext config find-path"), overridable with SYNTHTEXT_API_KEY
and SYNTHTEXT_ENGINE.`,
		PersistentPreRunE: a.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVarP(&a.flags.ConfigPath, "config", "c", "", "override the configuration file location")
	root.PersistentFlags().StringVar(&a.flags.LogLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.flags.LogFormat, "log-format", "auto", "log format: auto, console, json")
	root.PersistentFlags().StringVarP(&a.flags.Engine, "engine", "e", "", "engine name or definition (id,max_tokens) overriding the configuration")
	root.PersistentFlags().IntVar(&a.flags.Retries, "retries", 0, "retry connection failures this many times")
	root.PersistentFlags().BoolVar(&a.flags.NoColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored log output")

	root.SetVersionTemplate("synthtext {{.Version}}\n")

	root.AddCommand(
		a.textCompletionCommand(),
		a.logProbabilitiesCommand(),
		a.configCommand(),
		a.enginesCommand(),
		a.serveCommand(),
	)
	return root
}

// setup rebuilds the logger from the parsed flags.
func (a *App) setup(_ *cobra.Command, _ []string) error {
	a.logger = logging.New(logging.Config{
		Level:   a.flags.LogLevel,
		Format:  a.flags.LogFormat,
		Writer:  a.stderr,
		NoColor: a.flags.NoColor,
	})
	return nil
}

func (a *App) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	a.logger.Debug().Str("path", cfg.Path).Str("engine", cfg.Engine.String()).Msg("configuration loaded")
	return cfg, nil
}

// engineDefinition resolves --engine against the configured engines,
// falling back to the configured definition.
func (a *App) engineDefinition(cfg *config.Config) (synthtext.EngineDefinition, error) {
	if a.flags.Engine == "" {
		return cfg.Engine, nil
	}
	return registry.Resolve(cfg.Registry(), a.flags.Engine)
}

// newTransport returns the transport stack: the HTTP client, request
// logging and, with --retries, connection retries.
func (a *App) newTransport(cfg *config.Config) (provider.Transport, error) {
	base := a.transport
	if base == nil {
		client, err := textsynth.NewClient(provider.ClientOptions{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
		})
		if err != nil {
			return nil, err
		}
		base = client
	}

	mws := []middleware.TransportMiddleware{
		middleware.LoggingTransport(middleware.LoggingOptions{Logger: a.logger}),
	}
	if a.flags.Retries > 0 {
		mws = append(mws, middleware.RetryTransport(middleware.RetryOptions{MaxAttempts: a.flags.Retries + 1}))
	}
	return middleware.WrapTransport(base, mws...), nil
}

// engine loads the configuration and builds the engine every API
// command runs against.
func (a *App) engine() (*synthtext.Engine, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	def, err := a.engineDefinition(cfg)
	if err != nil {
		return nil, err
	}
	transport, err := a.newTransport(cfg)
	if err != nil {
		return nil, err
	}
	return synthtext.NewEngine(transport, def, synthtext.WithLogger(a.logger))
}

func (a *App) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.stdout, format, args...)
}

// ContextWithSignals returns a context cancelled on SIGINT or SIGTERM.
func ContextWithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
