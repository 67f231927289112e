package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/diagnosis/railwatch/internal/schedule"
	"github.com/diagnosis/railwatch/pkg/config"
)

var (
	backend    string
	timezone   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "schedules",
	Short:         "Manage the RailWatch train schedule store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "schedule backend (mongo, postgres or memory); defaults to SCHEDULE_BACKEND")
	rootCmd.PersistentFlags().StringVar(&timezone, "tz", "", "timezone for arrival times; defaults to PREDICTION_TIMEZONE")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(listCmd)
}

// openStore resolves flags over the environment and opens the configured backend.
func openStore(ctx context.Context) (schedule.Store, func(), *config.Config, error) {
	cfg := config.Load()
	if backend != "" {
		cfg.Schedule.Backend = backend
	}
	if timezone != "" {
		cfg.Prediction.Timezone = timezone
	}
	loc, err := time.LoadLocation(cfg.Prediction.Timezone)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid timezone %q: %w", cfg.Prediction.Timezone, err)
	}
	store, closeFn, err := schedule.Open(ctx, cfg, loc)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, closeFn, cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
