package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Artfain/verity/api"
	"github.com/Artfain/verity/core"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "verity",
		Short:         "Video verdict ledger combining a classifier with human votes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	registerFlags(root.PersistentFlags())
	root.AddCommand(serveCommand(), validateCommand())
	return root
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			hub := api.NewHub(cfg.API.AllowedOrigins, logger.With().Str("module", "ws").Logger())

			state, err := core.NewState(cfg.Consensus, core.StateOptions{
				Registerer: reg,
				Logger:     &logger,
				Observers:  []core.Observer{hub.Publish},
			})
			if err != nil {
				return err
			}
			defer state.Close()
			logger.Info().
				Str("backend", cfg.Consensus.Backend).
				Str("data_dir", cfg.Consensus.DataDir).
				Int("blocks", state.Ledger.Len()).
				Int("nodes", state.Registry.Count()).
				Msg("state loaded")

			if cfg.API.SweepInterval > 0 {
				go state.Consensus.RunSweeper(ctx, cfg.API.SweepInterval)
			}

			srv := api.NewServer(cfg.API, state, hub, reg, logger.With().Str("module", "api").Logger())
			if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
}

func validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check every block hash and link of the persisted chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Flags())
			if err != nil {
				return err
			}
			store, err := cfg.Consensus.OpenStore()
			if err != nil {
				return err
			}
			defer store.Close()

			chain, err := store.LoadChain()
			if err != nil {
				return err
			}
			if err := core.ValidateChain(chain); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chain valid: %d blocks\n", len(chain))
			return nil
		},
	}
}
