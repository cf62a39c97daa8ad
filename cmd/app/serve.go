package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // For pprof profiling
	"os"
	"os/signal"
	"syscall"

	"price_watch/internal/api"
	"price_watch/internal/app"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start configured feeds and the HTTP control surface",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Bool("listen", false, "Run an in-process listener on the configured channel.")
	serveCmd.Flags().String("pprof", "", "Serve pprof on this address (e.g. localhost:6060).")
}

func runServe(cmd *cobra.Command, _ []string) error {
	withListener, _ := cmd.Flags().GetBool("listen")
	pprofAddr, _ := cmd.Flags().GetString("pprof")

	bootstrap := app.NewBootstrap(configPath)
	defer bootstrap.Shutdown()
	if err := bootstrap.Initialize(); err != nil {
		return err
	}
	cfg := bootstrap.Config

	if pprofAddr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", pprofAddr))
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.StartConfiguredFeeds(); err != nil {
		slog.Error("Some configured feeds failed to start", slog.Any("error", err))
	}

	srv := api.NewServer(cfg.HTTP.Addr, api.NewHandler(bootstrap.Feeds, bootstrap.KV))
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("✅ HTTP server listening", slog.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("👋 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withListener || cfg.Listener.Enabled {
		l := bootstrap.NewListener("")
		g.Go(func() error {
			return l.Run(gctx)
		})
	}

	slog.Info("✨ Price Watch fully operational. Press Ctrl+C to exit.")
	return g.Wait()
}
