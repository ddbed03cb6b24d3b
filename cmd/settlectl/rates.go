package main

import (
	"fmt"
	"strings"

	"settlement-service/internal/fx"
	"settlement-service/pkg/cache"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(ratesCmd)
	ratesCmd.AddCommand(ratesInvalidateCmd)
	ratesCmd.AddCommand(ratesQuoteCmd)
}

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Inspect and reset exchange rates",
}

var ratesInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop every cached exchange rate shared through redis",
	RunE:  runRatesInvalidate,
}

func runRatesInvalidate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !cfg.Redis.Enabled {
		return fmt.Errorf("redis is not configured; each server keeps its own in-process rate cache")
	}
	c, err := cache.NewCacheService(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	conv := fx.NewConverter(c.RateCache("fx"), nil, logger)
	if err := conv.Invalidate(cmd.Context()); err != nil {
		return fmt.Errorf("invalidate rates: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "exchange rate cache cleared")
	return nil
}

var ratesQuoteCmd = &cobra.Command{
	Use:   "quote AMOUNT FROM TO",
	Short: "Convert an amount using the live rate source",
	Args:  cobra.ExactArgs(3),
	RunE:  runRatesQuote,
}

func runRatesQuote(cmd *cobra.Command, args []string) error {
	amount, err := decimal.NewFromString(args[0])
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[0])
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	conv := fx.NewConverter(fx.NewMemoryRateCache(), fx.NewHTTPRateSource(cfg.FX.APIURL, cfg.FX.Timeout), logger,
		fx.WithTimeout(cfg.FX.Timeout))
	q, err := conv.Quote(cmd.Context(), amount, strings.ToUpper(args[1]), strings.ToUpper(args[2]))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s %s (rate %s, %s)\n",
		q.Amount, q.From, q.Converted, q.To, q.Rate, q.Source)
	return nil
}
