package app

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ncecere/synthtext/internal/server"
)

func (a *App) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve completions over HTTP",
		Long: `Start an HTTP server exposing the completion pipeline:

  POST /v1/completions   blocking or, with "stream": true, Server-Sent Events
  POST /v1/logprob       log probability of a continuation
  GET  /v1/engines       preset and configured engines
  GET  /healthz          liveness
  GET  /metrics          Prometheus metrics

Server settings are read from SYNTHTEXT_ADDR, SYNTHTEXT_READ_TIMEOUT,
SYNTHTEXT_REQUEST_TIMEOUT and SYNTHTEXT_BODY_LIMIT.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			def, err := a.engineDefinition(cfg)
			if err != nil {
				return err
			}
			transport, err := a.newTransport(cfg)
			if err != nil {
				return err
			}
			srvCfg, err := server.LoadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				srvCfg.Addr = addr
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			srv, err := server.New(srvCfg, server.Options{
				Transport:     transport,
				Registry:      cfg.Registry(),
				DefaultEngine: def,
				Logger:        a.logger,
				Metrics:       reg,
			})
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Listen() }()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			a.logger.Info().Msg("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overriding SYNTHTEXT_ADDR")
	return cmd
}
