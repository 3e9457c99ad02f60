package services

import (
	"context"
	"math"
	"sort"
	"time"

	"flipfinder/models"
	"flipfinder/storage"
	"flipfinder/utils"
)

const (
	// minSamples is the smallest sold-price history that yields a verified value.
	minSamples = 3
	// iqrFence is the standard Tukey fence multiplier.
	iqrFence = 1.5
)

// MarketValueCache caches verified market values between refresh runs.
// Entries are keyed by platform, product and sample window, so results
// computed under one maxAgeDays are never served for another. A nil cache
// disables caching.
type MarketValueCache interface {
	Get(ctx context.Context, platform, productName string, maxAgeDays int) (*models.MarketValueResult, bool)
	Put(ctx context.Context, platform, productName string, maxAgeDays int, r *models.MarketValueResult) error
}

// MarketValueCalculator refines heuristic estimates using outlier-filtered
// sold-price history.
type MarketValueCalculator struct {
	samples  storage.SoldSampleStore
	listings storage.ListingStore
	cache    MarketValueCache
	logger   *utils.Logger

	maxAgeDays         int
	sampleLimit        int
	minDiscountPercent float64
}

// NewMarketValueCalculator creates a calculator. cache may be nil.
func NewMarketValueCalculator(samples storage.SoldSampleStore, listings storage.ListingStore,
	cache MarketValueCache, logger *utils.Logger, maxAgeDays, sampleLimit int, minDiscountPercent float64) *MarketValueCalculator {
	return &MarketValueCalculator{
		samples:            samples,
		listings:           listings,
		cache:              cache,
		logger:             logger,
		maxAgeDays:         maxAgeDays,
		sampleLimit:        sampleLimit,
		minDiscountPercent: minDiscountPercent,
	}
}

// CalculateVerifiedMarketValue computes the median of IQR-filtered sold
// prices for the product on one platform. Returns (nil, nil) when fewer than
// three qualifying samples exist; the caller must keep its prior estimate.
func (c *MarketValueCalculator) CalculateVerifiedMarketValue(ctx context.Context, productName, platform string, maxAgeDays int) (*models.MarketValueResult, error) {
	if c.cache != nil {
		if r, ok := c.cache.Get(ctx, platform, productName, maxAgeDays); ok {
			return r, nil
		}
	}

	since := time.Now().AddDate(0, 0, -maxAgeDays)
	samples, err := c.samples.RecentSold(ctx, productName, platform, since, c.sampleLimit)
	if err != nil {
		return nil, err
	}
	if len(samples) < minSamples {
		return nil, nil
	}

	prices := make([]float64, 0, len(samples))
	for _, s := range samples {
		prices = append(prices, s.SoldPrice)
	}

	filtered, removed := removeOutliers(prices)
	if len(filtered) == 0 {
		return nil, nil
	}

	min, max := filtered[0], filtered[len(filtered)-1]
	var sum float64
	for _, p := range filtered {
		sum += p
	}
	avg := sum / float64(len(filtered))

	result := &models.MarketValueResult{
		VerifiedValue:   median(filtered),
		SampleCount:     len(filtered),
		OutliersRemoved: removed,
		MinPrice:        min,
		MaxPrice:        max,
		AveragePrice:    round2(avg),
		Confidence:      marketConfidence(len(filtered), min, max, avg),
		Platform:        platform,
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, platform, productName, maxAgeDays, result); err != nil {
			c.logger.Warn("[market] cache put failed for %q: %v", productName, err)
		}
	}
	return result, nil
}

// removeOutliers drops prices outside [Q1 - 1.5*IQR, Q3 + 1.5*IQR].
// Returns the sorted surviving prices and the number removed.
func removeOutliers(prices []float64) ([]float64, int) {
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)

	n := len(sorted)
	q1 := sorted[n/4]
	q3 := sorted[n*3/4]
	iqr := q3 - q1
	lower := q1 - iqrFence*iqr
	upper := q3 + iqrFence*iqr

	filtered := sorted[:0]
	removed := 0
	for _, p := range sorted {
		if p < lower || p > upper {
			removed++
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered, removed
}

// median of an already sorted slice.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return round2((sorted[n/2-1] + sorted[n/2]) / 2)
}

func marketConfidence(count int, min, max, avg float64) string {
	spread := 0.0
	if avg > 0 {
		spread = (max - min) / avg
	}
	switch {
	case count < 5 || spread > 0.5:
		return "low"
	case count >= 10 && spread < 0.3:
		return "high"
	default:
		return "medium"
	}
}

// TrueDiscount is the rounded percentage by which the verified value exceeds
// the asking price. Returns 0 when the verified value is 0, never NaN or Inf.
func TrueDiscount(verifiedValue, askingPrice float64) float64 {
	if verifiedValue <= 0 {
		return 0
	}
	return math.Round((verifiedValue - askingPrice) / verifiedValue * 100)
}

// RefreshOpportunities walks a page of stored opportunities and replaces
// heuristic estimates with verified market values where enough sold history
// exists. Listings whose true discount regresses below the gate are removed.
// Per-listing failures are logged and counted; they never abort the batch.
func (c *MarketValueCalculator) RefreshOpportunities(ctx context.Context, limit, offset int) (*models.RefreshReport, error) {
	page, err := c.listings.OpportunityPage(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	report := &models.RefreshReport{}
	for _, l := range page {
		result, err := c.CalculateVerifiedMarketValue(ctx, l.Title, l.Platform, c.maxAgeDays)
		if err != nil {
			c.logger.Error("[market] listing %d: %v", l.ID, err)
			report.Errors++
			continue
		}
		if result == nil {
			report.Skipped++
			continue
		}

		trueDiscount := TrueDiscount(result.VerifiedValue, l.AskingPrice)
		if trueDiscount < c.minDiscountPercent {
			if err := c.listings.DeleteListing(ctx, l.ID); err != nil {
				c.logger.Error("[market] remove listing %d: %v", l.ID, err)
				report.Errors++
				continue
			}
			c.logger.Info("[market] listing %d removed: true discount %.0f%% below gate", l.ID, trueDiscount)
			report.Removed++
			continue
		}

		source := "sold_history_" + result.Platform
		if err := c.listings.UpdateVerifiedValue(ctx, l.ID, result.VerifiedValue, source, trueDiscount); err != nil {
			c.logger.Error("[market] update listing %d: %v", l.ID, err)
			report.Errors++
			continue
		}
		report.Updated++
	}

	c.logger.Info("[market] refresh done — updated %d, skipped %d, removed %d, errors %d",
		report.Updated, report.Skipped, report.Removed, report.Errors)
	return report, nil
}

// RefreshAllOpportunities pages through every stored opportunity and runs
// RefreshOpportunities on each page, accumulating the per-page reports.
// Removed listings shrink the result set underneath offset-based pagination,
// so the offset only advances past rows that actually survived the page.
func (c *MarketValueCalculator) RefreshAllOpportunities(ctx context.Context, pageSize int) (*models.RefreshReport, error) {
	if pageSize < 1 {
		pageSize = 100
	}

	total := &models.RefreshReport{}
	offset := 0
	for {
		r, err := c.RefreshOpportunities(ctx, pageSize, offset)
		if err != nil {
			return total, err
		}
		total.Updated += r.Updated
		total.Skipped += r.Skipped
		total.Removed += r.Removed
		total.Errors += r.Errors

		processed := r.Updated + r.Skipped + r.Removed + r.Errors
		if processed < pageSize {
			break
		}
		offset += pageSize - r.Removed
	}
	return total, nil
}
