package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newInstallCmd() *cobra.Command {
	var (
		configPath string
		activate   bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Warm the cache for the current version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			cfg.SkipWaiting = false

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			storage, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = storage.Close() }()

			mgr, err := newManager(cfg, storage, logger)
			if err != nil {
				return err
			}
			defer func() { _ = mgr.Close() }()

			res, err := mgr.Install(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Installed %s: %d cached, %d failed\n", cfg.Version, len(res.Cached), len(res.Failed))
			for _, p := range res.Failed {
				fmt.Fprintf(out, "  failed: %s\n", p)
			}

			if !activate {
				return nil
			}
			evicted, err := mgr.Activate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Activated %s, evicted %d stale store(s)\n", cfg.Version, len(evicted))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&activate, "activate", true, "evict stale versions after installing")
	return cmd
}
