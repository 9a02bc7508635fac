package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pricepulse/api"
	"pricepulse/config"
	"pricepulse/scraper"
	"pricepulse/scraper/amazon"
	"pricepulse/scraper/ebay"
	"pricepulse/scraper/walmart"
	"pricepulse/services"
	"pricepulse/storage"
	"pricepulse/utils"
)

func main() {
	logger := utils.NewLogger()
	cfg := config.Load()

	cmd := "ingest"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	ledger, err := storage.Open(cfg, logger)
	if err != nil {
		logger.Error("Failed to open ledger store: %v", err)
		if cfg.StorageDriver == "postgres" {
			logger.Error("Make sure Docker is running: docker compose up -d")
		}
		os.Exit(1)
	}
	defer ledger.Close()

	lexicon, err := services.LoadLexicon(cfg.SentimentLexiconPath)
	if err != nil {
		logger.Error("Failed to load sentiment lexicon: %v", err)
		os.Exit(1)
	}
	compareCfg, err := services.LoadCompareConfig(cfg.ComparisonConfigPath)
	if err != nil {
		logger.Error("Failed to load comparison config: %v", err)
		os.Exit(1)
	}

	trend := services.NewTrendAnalyzer(ledger, cfg.TrendThresholdPct)
	sentiment := services.NewSentimentExtractor(ledger, lexicon, cfg.SentimentTopK, cfg.SentimentHalfLife)
	comparator := services.NewComparator(ledger, trend, sentiment, compareCfg,
		cfg.CompareMaxProducts, cfg.TrendWindowDays)
	query := services.NewQuery(ledger, trend, sentiment, comparator, logger)

	switch cmd {
	case "ingest":
		runIngest(cfg, logger, ledger, query, args)
	case "refresh":
		if len(args) != 2 {
			fmt.Fprintf(os.Stderr, "usage: pricepulse refresh <marketplace> <external-id>\n")
			os.Exit(2)
		}
		runRefresh(cfg, logger, ledger, args[0], args[1])
	case "serve":
		server := api.NewServer(query, logger)
		if err := server.Run(cfg.APIAddr); err != nil {
			logger.Error("API server failed: %v", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "usage: pricepulse [ingest <query> | refresh <marketplace> <external-id> | serve]\n")
		os.Exit(2)
	}
}

func buildRegistry(cfg *config.Config, logger *utils.Logger) *scraper.Registry {
	registry := scraper.NewRegistry()
	for _, name := range cfg.Marketplaces {
		switch name {
		case "amazon":
			registry.Register(amazon.New(cfg, logger))
		case "walmart":
			registry.Register(walmart.New(cfg, logger))
		case "ebay":
			registry.Register(ebay.New(cfg, logger))
		default:
			logger.Warn("Unknown marketplace %q in config, skipping", name)
		}
	}
	return registry
}

func runRefresh(cfg *config.Config, logger *utils.Logger, ledger storage.Ledger, marketplace, externalID string) {
	registry := buildRegistry(cfg, logger)
	norm := services.NewNormalizer(logger)
	runner := services.NewIngestRunner(registry, ledger, norm, cfg, logger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := runner.Refresh(ctx, marketplace, externalID)
	if err != nil {
		logger.Error("Refresh failed: %v", err)
		os.Exit(1)
	}
	logger.Info("Refreshed %s — %s at %.2f %s", p.ID, p.Title, p.CurrentPrice, p.Currency)
}

func runIngest(cfg *config.Config, logger *utils.Logger, ledger storage.Ledger,
	query *services.Query, args []string) {
	searchQuery := strings.Join(args, " ")
	if searchQuery == "" {
		searchQuery = "wireless earbuds"
	}

	logger.Info("=== PricePulse ingestion starting ===")
	logger.Info("Config — marketplaces: %s | pages: %d | concurrency: %d | rate: %dms",
		strings.Join(cfg.Marketplaces, ","), cfg.PagesToFetch, cfg.MaxConcurrency, cfg.RateLimitMs)

	registry := buildRegistry(cfg, logger)
	if len(registry.Names()) == 0 {
		logger.Error("No marketplace adapters configured. Exiting.")
		os.Exit(1)
	}

	var audit *storage.CSVAudit
	if cfg.RawAuditPath != "" {
		a, err := storage.NewCSVAudit(cfg.RawAuditPath)
		if err != nil {
			logger.Warn("Raw audit disabled: %v", err)
		} else {
			audit = a
			defer audit.Close()
		}
	}

	norm := services.NewNormalizer(logger)
	runner := services.NewIngestRunner(registry, ledger, norm, cfg, logger, audit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := runner.Run(ctx, searchQuery)

	logger.Info("Run %s finished in %s — %d products ingested, %d failures",
		report.RunID, report.Duration.Round(time.Millisecond), len(report.Succeeded), len(report.Failed))
	for _, f := range report.Failed {
		logger.Warn("  %s/%s: %s", f.Marketplace, f.Item, f.Err)
	}
	if report.Cancelled {
		logger.Warn("Run was cancelled before completion")
	}

	overview, err := query.StatsOverview(context.Background())
	if err != nil {
		logger.Error("Failed to compute ledger overview: %v", err)
		return
	}
	query.PrintOverview(overview)
}
