// Package main provides the entry point for the synthtext CLI.
package main

import (
	"context"
	"os"

	"github.com/ncecere/synthtext/cmd/synthtext/app"
)

// Version information populated at build time.
var version = "dev"

func main() {
	application := app.New(version)

	// Ctrl-C cancels the context, which also closes an open stream.
	ctx, cancel := app.ContextWithSignals(context.Background())
	defer cancel()

	if err := application.Execute(ctx, os.Args[1:]); err != nil {
		application.Logger().Error().Err(err).Msg("synthtext failed")
		cancel()
		os.Exit(1)
	}
}
