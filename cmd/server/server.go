package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bourse/internal/clock"
	"bourse/internal/httpapi"
	"bourse/internal/ledger"
	"bourse/internal/marketdata"
	"bourse/internal/registry"
)

const datasetName = "default"

func main() {
	cmd := &cobra.Command{
		Use:   "server address port dataset_file",
		Short: "Boot the backtesting HTTP surface over one dataset file",
		Args:  cobra.ExactArgs(3),
		RunE:  run,
	}
	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(_ *cobra.Command, args []string) error {
	address := args[0]
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("malformed port %q: %w", args[1], err)
	}
	datasetFile := args[2]

	ps, err := marketdata.LoadCSV(datasetFile)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}

	reg := registry.New(registry.Config{
		Variant:     registry.BBO,
		Frequency:   clock.Daily,
		MaxSlippage: 0.10,
		Costs:       ledger.CostModel{ledger.PctOfValue{Pct: 0.01}},
	})
	reg.RegisterDataset(datasetName, ps)

	srv := httpapi.New(address, port, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	return nil
}
