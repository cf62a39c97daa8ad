package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"price_watch/internal/app"
	"price_watch/internal/domain"
	"price_watch/internal/service"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// keyLister is implemented by the persistent KV backends
type keyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

var pricesCmd = &cobra.Command{
	Use:   "prices [SYMBOL...]",
	Short: "Print the last stored price per symbol (all symbols when none given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		bootstrap := app.NewBootstrap(configPath)
		defer bootstrap.Shutdown()
		if err := bootstrap.LoadConfig(); err != nil {
			return err
		}
		if err := bootstrap.OpenStore(); err != nil {
			return err
		}

		if bootstrap.KV == nil {
			return errors.New("prices needs a persistent store: set store.backend to redis or sqlite")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		symbols, err := resolveSymbols(ctx, bootstrap.KV, args)
		if err != nil {
			return err
		}

		entries, err := service.NewLastValueStore(bootstrap.KV, false).GetMany(ctx, symbols)
		if err != nil {
			return err
		}
		renderPrices(os.Stdout, symbols, entries)
		return nil
	},
}

func resolveSymbols(ctx context.Context, kv domain.KVStore, args []string) ([]string, error) {
	if len(args) > 0 {
		symbols := make([]string, 0, len(args))
		for _, a := range args {
			sym, err := domain.NormalizeSymbol(a)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", err, a)
			}
			symbols = append(symbols, sym)
		}
		return symbols, nil
	}

	lister, ok := kv.(keyLister)
	if !ok {
		return nil, errors.New("store cannot list symbols; pass them as arguments")
	}
	keys, err := lister.Keys(ctx, service.KeyEntryPrefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	symbols := make([]string, 0, len(keys))
	for _, k := range keys {
		symbols = append(symbols, strings.TrimPrefix(k, service.KeyEntryPrefix))
	}
	sort.Strings(symbols)
	return symbols, nil
}

func renderPrices(w io.Writer, symbols []string, entries map[string]domain.LastValueEntry) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Symbol", "Price", "Quantity", "Updated"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	for _, sym := range symbols {
		e, ok := entries[sym]
		if !ok {
			table.Append([]string{sym, "-", "-", "-"})
			continue
		}
		qty := "-"
		if e.Quantity != nil {
			qty = e.Quantity.String()
		}
		updated := time.UnixMilli(e.UpdatedAtMillis).UTC().Format(time.RFC3339)
		table.Append([]string{sym, e.Price.String(), qty, updated})
	}
	table.Render()
}
