package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"botvault/internal/config"
	"botvault/internal/logging"
	"botvault/internal/watch"
	"botvault/internal/workspace"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMirrorCmd() *cobra.Command {
	var (
		configPath string
		autoCommit bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "mirror <bot> <dir>",
		Short: "Mirror a local directory into a bot",
		Long: `Opens the data directory of the configured store directly and keeps the
bot's files in sync with a local directory until interrupted. Files that do
not exist locally are removed from the bot on start. Run it only while no
server is using the same data directory.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.Path()
			}
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			logger, err := logging.NewDevelopment(verbose)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			defer logger.Sync()

			reg := workspace.NewRegistry(cfg.Database.Path, cfg.Database.InMemory, workspace.OptionsFromConfig(cfg), logger.Logger, nil)
			defer reg.CloseAll()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ws, err := reg.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("opening bot: %w", err)
			}

			m, err := watch.NewMirror(args[1], ws, watch.Options{AutoCommit: autoCommit, Logger: logger.ForTenant(args[0])})
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Seed(ctx); err != nil {
				return fmt.Errorf("seeding mirror: %w", err)
			}
			logger.Info("watching for changes", zap.String("dir", args[1]))

			if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (defaults to BOTVAULT_CONFIG or config/config.<BOTVAULT_ENV>.json)")
	cmd.Flags().BoolVar(&autoCommit, "commit", false, "commit every mirrored change")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}
