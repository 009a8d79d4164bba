package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bucketreplicator/internal/app"
	"bucketreplicator/internal/config"
	"bucketreplicator/internal/logger"
	"bucketreplicator/internal/state"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "bucketreplicator",
	Short:         "Replicate objects from one S3-compatible bucket to another",
	Long:          `Copies every object missing from the target bucket, skipping keys already recorded in the state file or already present on the target. Safe to re-run after partial failures.`,
	SilenceErrors: true,
	RunE:          runReplication,
}

var failuresCmd = &cobra.Command{
	Use:           "failures",
	Short:         "List keys that exhausted their retries, from the state file",
	SilenceErrors: true,
	RunE:          listFailures,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	config.RegisterFlags(rootCmd.Flags())

	failuresCmd.Flags().String("state-file", config.Default().Replicate.StateFile, "State file of already copied keys")
	rootCmd.AddCommand(failuresCmd)
}

func runReplication(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// configuration is valid; later errors are not usage errors
	cmd.SilenceUsage = true

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, stopping listers and copiers...")
		cancel()
	}()

	replicator, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create replicator: %w", err)
	}

	_, err = replicator.Run(ctx)

	if closeErr := replicator.Close(); closeErr != nil {
		log.Error("Error closing replicator", zap.Error(closeErr))
	}

	return err
}

func listFailures(cmd *cobra.Command, args []string) error {
	path, err := cmd.Flags().GetString("state-file")
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("state file: %w", err)
	}
	cmd.SilenceUsage = true

	store, err := state.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	failures, err := store.Failures(cmd.Context())
	if err != nil {
		return fmt.Errorf("read failures: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, f := range failures {
		if err := enc.Encode(f); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
