package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/tablecache/pkg/manager"
	"github.com/pario-ai/tablecache/pkg/proxy"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the caching proxy in front of the app origin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var mgr *manager.Manager
			if cfg.RegisterManager() {
				storage, err := openStorage(ctx, cfg)
				if err != nil {
					return err
				}
				defer func() { _ = storage.Close() }()

				mgr, err = newManager(cfg, storage, logger)
				if err != nil {
					return err
				}
				defer func() { _ = mgr.Close() }()
			} else {
				logger.Info("cache manager not registered", zap.String("env", cfg.Env))
			}

			srv, err := proxy.New(cfg, mgr, nil, logger)
			if err != nil {
				return err
			}

			if mgr != nil {
				go register(ctx, mgr, cfg.SkipWaiting, logger)
			}

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults plus TABLECACHE_* env when empty)")
	return cmd
}

// registerBackoff is the first retry delay of register; it doubles up to
// maxRegisterBackoff.
var registerBackoff = time.Second

const maxRegisterBackoff = 30 * time.Second

// register drives the manager to its resting phase until ctx is done.
// Requests pass straight to the origin meanwhile. Failed installs and failed
// activations under skip_waiting are retried with backoff; a manager left
// waiting is activated on SIGHUP.
func register(ctx context.Context, mgr *manager.Manager, skipWaiting bool, logger *zap.Logger) {
	backoff := registerBackoff
	for {
		var err error
		switch mgr.Phase() {
		case manager.PhaseUninitialized:
			err = mgr.Register(ctx)
		case manager.PhaseWaiting:
			if !skipWaiting {
				activateOnHangup(ctx, mgr, logger)
				return
			}
			_, err = mgr.Activate(ctx)
		default:
			return
		}
		if err == nil {
			backoff = registerBackoff
			continue
		}
		logger.Warn("cache manager registration failed, retrying",
			zap.Stringer("phase", mgr.Phase()),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < maxRegisterBackoff {
			backoff = min(backoff*2, maxRegisterBackoff)
		}
	}
}

func activateOnHangup(ctx context.Context, mgr *manager.Manager, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	logger.Info("cache manager waiting, send SIGHUP to activate")
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := mgr.Activate(ctx); err != nil {
				logger.Error("activation failed", zap.Error(err))
				continue
			}
			return
		}
	}
}
