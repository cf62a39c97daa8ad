package main

import (
	"fmt"
	"os"

	"price_watch/internal/infra"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "price-watch",
	Short:         "Stream exchange trades, keep the last price per symbol and fan out alerts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", infra.DefaultConfigPath, "Path to the YAML configuration file.")

	rootCmd.AddCommand(serveCmd, listenCmd, stopListenersCmd, pricesCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
