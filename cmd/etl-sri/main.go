// Command etl-sri runs the SRI RUC catastro DAG once: it downloads the catastro CSV from
// Cloud Storage, normalizes it and replaces the BigQuery table with it.
//
// Configuration is read from ETL_SRI_* environment variables and, if ETL_SRI_CONFIG is set,
// from that file. The exit status is non-zero when any task fails.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/emiliosri/etlsri"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := etlsri.LoadConfig(os.Getenv(etlsri.EnvPrefix + "_CONFIG"))
	if err != nil {
		fallback.Error().Err(err).Msg("failed to load config")
		return 2
	}

	p, err := etlsri.New(cfg)
	if err != nil {
		fallback.Error().Err(err).Msg("failed to build pipeline")
		return 2
	}

	res, err := p.DAG().Run(ctx)
	if err != nil {
		if res == nil {
			l := p.Logger()
			l.Error().Err(err).Msg("dag run rejected")
		}
		return 1
	}

	return 0
}
