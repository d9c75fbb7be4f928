package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/nodeflow/internal/api"
	"github.com/gyaneshwarpardhi/nodeflow/internal/config"
	"github.com/gyaneshwarpardhi/nodeflow/internal/engine"
)

func newServeCmd() *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the design, execute it and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), addr, watch)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload the design when the config file changes")
	return cmd
}

func serve(parent context.Context, addr string, watch bool) error {
	loader, cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng := engine.New(engCtx, newRegistry(), cfg.Engine)
	defer eng.Shutdown()

	if err := eng.LoadDesign(&cfg.Design); err != nil {
		return err
	}
	slog.Info("design loaded", "nodes", len(cfg.Design.Nodes), "links", len(cfg.Design.Links))

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	if watch {
		loader.OnChange(func(newCfg *config.Config) {
			if err := config.Validate(newCfg); err != nil {
				slog.Warn("hot-reload skipped: config invalid", "err", err)
				return
			}
			if err := eng.LoadDesign(&newCfg.Design); err != nil {
				slog.Warn("hot-reload skipped: design rejected", "err", err)
				return
			}
			slog.Info("design hot-reloaded", "nodes", len(newCfg.Design.Nodes))
		})
		stopWatch, err := loader.Watch()
		if err != nil {
			slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
		} else {
			defer stopWatch()
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.New(eng, loader),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutCancel()
		return srv.Shutdown(shutCtx)
	})

	err = g.Wait()
	cancel()
	eng.Shutdown()
	slog.Info("goodbye")
	return err
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
