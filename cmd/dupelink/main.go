package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dupelink/internal/app"
	"dupelink/internal/config"
	"dupelink/internal/logging"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.FromFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logging.Setup(cfg.Verbosity)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize app")
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("dedup run failed")
		application.Close()
		os.Exit(1)
	}
}
