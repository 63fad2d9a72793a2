package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pricepulse/shopcrawler/internal/app"
	"github.com/pricepulse/shopcrawler/internal/config"
	"github.com/pricepulse/shopcrawler/internal/logging"
	"github.com/pricepulse/shopcrawler/internal/market"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shopcrawler",
		Short: "Catalog crawler for storefront price monitoring.",
		Long: `shopcrawler walks a storefront's category taxonomy, pages through every
listing, and emits one price record per product variant. Interrupted runs
resume from the on-disk ledger without re-emitting records.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable development logging")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newMarketsCmd())
	return cmd
}

func newCrawlCmd() *cobra.Command {
	var (
		flagMarket      string
		flagMode        string
		flagMaxRecords  int
		flagMaxDuration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Starts a catalog crawl for one market",
		Long: `Seeds the frontier with the market's navigation payload and crawls until
the catalog is exhausted, the record cap is hit, or the wall-clock budget
expires. Flags override the corresponding config file settings.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("market") {
				cfg.Crawler.Market = flagMarket
			}
			if cmd.Flags().Changed("mode") {
				cfg.Crawler.Mode = flagMode
			}
			if cmd.Flags().Changed("max-records") {
				cfg.Crawler.MaxRecords = flagMaxRecords
			}
			if cmd.Flags().Changed("max-duration") {
				cfg.Crawler.MaxDurationSeconds = int(flagMaxDuration.Seconds())
			}
			if flagDebug {
				cfg.Logging.Development = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// Market validation fails fast, before any service spins up.
			if _, err := market.Lookup(cfg.Crawler.Market); err != nil {
				return err
			}

			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() {
				_ = logger.Sync()
			}()

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer a.Close(ctx)

			if err := a.Run(ctx); err != nil {
				return fmt.Errorf("crawl %s: %w", a.RunID(), err)
			}
			logger.Info("crawl finished", zap.String("run_id", a.RunID()))
			return nil
		},
	}

	cmd.Flags().StringVar(&flagMarket, "market", "", "market to crawl (see 'shopcrawler markets')")
	cmd.Flags().StringVar(&flagMode, "mode", "", "extraction mode: shallow or deep")
	cmd.Flags().IntVar(&flagMaxRecords, "max-records", 0, "stop after this many records (0 = unlimited)")
	cmd.Flags().DurationVar(&flagMaxDuration, "max-duration", 0, "stop after this wall-clock budget (0 = unlimited)")
	return cmd
}

func newMarketsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "markets",
		Short: "Lists the supported markets",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(strings.Join(market.Names(), "\n"))
		},
	}
}
