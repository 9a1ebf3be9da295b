package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ahmethakanbesel/treasury-api/internal/config"
	"github.com/ahmethakanbesel/treasury-api/internal/notification"
	"github.com/ahmethakanbesel/treasury-api/internal/platform/sqlite"
	"github.com/ahmethakanbesel/treasury-api/internal/server"
	"github.com/ahmethakanbesel/treasury-api/internal/task"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(cfg *config.Config) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the sync workers and the expiry sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := *cfg
			if port != "" {
				c.Port = port
			}
			return serve(cmd.Context(), c)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	// Cancelled on SIGINT/SIGTERM; every request, worker and stream inherits it.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	a := wire(cfg, db)

	// Re-queue syncs interrupted by the previous process before workers start.
	if err := recoverSyncs(ctx, a); err != nil {
		slog.Error("failed to recover stale syncs", "error", err)
	}

	srv := server.New(ctx, cfg.Port, a.Services)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.pool.Run(gctx)
		return nil
	})
	a.pool.Notify()

	g.Go(func() error {
		notification.NewSweeper(a.Notifications, cfg.SweepInterval).Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		return nil
	})

	slog.Info("server started", "port", cfg.Port, "workers", cfg.Workers)
	err = g.Wait()
	slog.Info("server stopped")
	return err
}

func newSweepCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired notifications once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := sqlite.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			n, err := wire(*cfg, db).Notifications.ExpireSweep(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired notifications\n", n)
			return nil
		},
	}
}

func newRecoverCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Re-queue interrupted syncs and release connections stuck in SYNCING",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := sqlite.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			return recoverSyncs(cmd.Context(), wire(*cfg, db))
		},
	}
}

// recoverSyncs re-queues interrupted DATA_SYNC tasks, then frees SYNCING
// connections whose task is gone or already finished.
func recoverSyncs(ctx context.Context, a *app) error {
	if err := a.Tasks.RecoverStale(ctx, []task.Type{task.TypeDataSync}); err != nil {
		return err
	}
	n, err := a.Connections.ReleaseStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("released stale connections", "count", n)
	}
	return nil
}
