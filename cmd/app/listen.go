package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"price_watch/internal/app"
	"price_watch/internal/infra"
	"price_watch/internal/listener"

	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print every message on a channel until the stop signal arrives",
	RunE: func(cmd *cobra.Command, _ []string) error {
		channel, _ := cmd.Flags().GetString("channel")

		bootstrap := app.NewBootstrap(configPath)
		defer bootstrap.Shutdown()
		if err := bootstrap.LoadConfig(); err != nil {
			return err
		}
		if err := bootstrap.OpenBroker(); err != nil {
			return err
		}
		warnLocalBroker(bootstrap.Config)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		l := bootstrap.NewListener(channel)
		if err := l.Run(ctx); err != nil {
			return err
		}
		slog.Info("Listener finished",
			slog.String("channel", l.Channel()),
			slog.Uint64("received", l.Received()),
		)
		return nil
	},
}

var stopListenersCmd = &cobra.Command{
	Use:   "stop-listeners",
	Short: "Publish the stop signal; every listener on the channel exits",
	RunE: func(cmd *cobra.Command, _ []string) error {
		channel, _ := cmd.Flags().GetString("channel")

		bootstrap := app.NewBootstrap(configPath)
		defer bootstrap.Shutdown()
		if err := bootstrap.LoadConfig(); err != nil {
			return err
		}
		if err := bootstrap.OpenBroker(); err != nil {
			return err
		}
		warnLocalBroker(bootstrap.Config)

		if channel == "" {
			channel = bootstrap.Config.Listener.Channel
		}
		if err := listener.SendStop(cmd.Context(), bootstrap.Broker, channel); err != nil {
			return err
		}
		slog.Info("Stop signal sent", slog.String("channel", channel))
		return nil
	},
}

func init() {
	listenCmd.Flags().String("channel", "", "Channel to listen on (defaults to listener.channel).")
	stopListenersCmd.Flags().String("channel", "", "Channel to signal (defaults to listener.channel).")
}

func warnLocalBroker(cfg *infra.Config) {
	if cfg.Broker.Backend == infra.StoreMemory {
		slog.Warn("Memory broker only reaches this process; set broker.backend=redis to talk to other processes")
	}
}
