package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/decom/cmd/decom/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Cancel on interrupt. Steps in flight still restore what they suspended.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if err == nil {
		return
	}

	var exit *commands.ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			log.Error().Err(exit.Err).Msg("Command failed")
		}
		cancel()
		os.Exit(exit.Code)
	}

	log.Error().Err(err).Msg("Command execution failed")
	cancel()
	os.Exit(1)
}
