package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"flipfinder/config"
	"flipfinder/fetcher"
	"flipfinder/models"
	"flipfinder/posters"
	"flipfinder/services"
	"flipfinder/storage"
	"flipfinder/utils"
)

// main performs one full pipeline pass: ingest freshly scraped listings,
// refresh verified market values, re-check live listings, work the posting
// queue and print a summary. Scheduling is external; run it from cron at
// the desired interval.
func main() {
	cfg := config.Load()
	logger := utils.NewLogger(utils.ParseLevel(cfg.LogLevel))
	ctx := context.Background()

	logger.Info("=== Flipfinder pipeline starting ===")
	logger.Info("Config — gate: %.0f%% | market window: %dd | concurrency: %d | rate: %dms",
		cfg.MinDiscountPercent, cfg.MarketMaxAgeDays, cfg.MaxConcurrency, cfg.RateLimitMs)

	store, err := storage.NewPostgresStore(cfg.DSN())
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		logger.Error("Make sure Docker is running: docker compose up -d")
		os.Exit(1)
	}
	defer store.Close()

	var cache services.MarketValueCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unavailable (%v) — market value cache disabled", err)
		} else {
			cache = storage.NewMarketCache(client, time.Duration(cfg.MarketCacheTTLMin)*time.Minute)
			defer client.Close()
		}
	}

	// Ingest freshly scraped listings, if a batch file was provided
	if cfg.IngestInputPath != "" {
		raws, err := loadRawListings(cfg.IngestInputPath)
		if err != nil {
			logger.Error("Failed to load raw listings from %s: %v", cfg.IngestInputPath, err)
		} else {
			estimator := services.NewEstimator(cfg.MinDiscountPercent)
			ingestor := services.NewIngestor(estimator, store, logger)
			report := ingestor.Ingest(ctx, raws, int64(cfg.IngestUserID))
			logger.Info("Ingest — %d received, %d accepted, %d rejected, %d removed",
				report.Received, report.Accepted, report.Rejected, report.Removed)
		}
	}

	// Market value refresh
	calculator := services.NewMarketValueCalculator(store, store, cache, logger,
		cfg.MarketMaxAgeDays, cfg.MarketSampleLimit, cfg.MinDiscountPercent)
	refresh, err := calculator.RefreshAllOpportunities(ctx, 100)
	if err != nil {
		logger.Error("Market value refresh failed: %v", err)
	} else {
		logger.Info("Market values — updated %d, skipped %d, removed %d, errors %d",
			refresh.Updated, refresh.Skipped, refresh.Removed, refresh.Errors)
	}

	// Tracking cycle
	var pages fetcher.PageFetcher
	fetchTimeout := time.Duration(cfg.FetchTimeoutMs) * time.Millisecond
	if cfg.Fetcher == "chrome" {
		pages = fetcher.NewChromeFetcher(cfg.ChromeBin, fetchTimeout, logger)
	} else {
		pages = fetcher.NewHTTPFetcher(fetchTimeout, cfg.MaxRetries, logger)
	}

	tracker := services.NewTracker(store, store, logger, cfg.MaxConcurrency, cfg.RateLimitMs)
	cycle, err := tracker.RunTrackingCycle(ctx, pages.Fetch)
	if err != nil {
		logger.Error("Tracking cycle failed: %v", err)
	} else {
		logger.Info("Tracking — checked %d, %d sold, %d price changes, %d errors",
			cycle.Checked, len(cycle.StatusChanges), len(cycle.PriceChanges), len(cycle.Errors))
	}

	// Posting queue
	registry := services.NewPosterRegistry()
	for platform, endpoint := range cfg.PosterEndpoints {
		if endpoint == "" {
			continue
		}
		registry.Register(platform,
			posters.NewHTTPPoster(platform, endpoint, cfg.PosterAPIKey, fetchTimeout, logger))
		logger.Info("Registered poster for %s", platform)
	}

	processor := services.NewQueueProcessor(store, store, registry, logger, cfg.QueueMaxRetries)
	processed, err := processor.ProcessQueue(ctx, cfg.QueueBatchSize)
	if err != nil {
		logger.Error("Queue processing failed: %v", err)
	} else {
		logger.Info("Posting queue — processed %d items", processed)
	}

	// Summary and CSV export
	opportunities, err := store.FilterListings(ctx, storage.ListingFilter{
		Status: models.StatusOpportunity,
		Limit:  500,
	})
	if err != nil {
		logger.Error("Failed to fetch opportunities for report: %v", err)
		return
	}

	if csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath); err != nil {
		logger.Error("Failed to create CSV writer: %v", err)
	} else {
		if err := csvWriter.WriteOpportunities(opportunities); err != nil {
			logger.Error("CSV write failed: %v", err)
		} else {
			logger.Info("Opportunities exported to %s", cfg.CSVOutputPath)
		}
		csvWriter.Close()
	}

	insightSvc := services.NewInsightService(logger)
	report := insightSvc.Generate(opportunities)
	insightSvc.Print(report)

	fmt.Printf("  Done. %d active opportunities | CSV → %s\n\n",
		report.TotalOpportunities, cfg.CSVOutputPath)
}

// loadRawListings reads a scraper output file: a JSON array of raw listings.
func loadRawListings(path string) ([]*models.RawListing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raws []*models.RawListing
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return raws, nil
}
