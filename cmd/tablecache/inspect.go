package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/pario-ai/tablecache/pkg/inspect"
)

func newInspectCmd() *cobra.Command {
	var (
		configPath string
		statusURL  string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Serve cache inspection tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			// Stdout carries the protocol; keep logs on stderr.
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

			var status inspect.StatusSource
			if statusURL != "" {
				status = inspect.RemoteStatus{URL: statusURL}
			}

			srv := inspect.New(storage, status, cfg.Version, version, logger)
			return srv.Run(ctx, &mcp.StdioTransport{})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&statusURL, "status-url", "", "status endpoint of a running proxy, e.g. http://localhost:8080/_tablecache/status")
	return cmd
}
