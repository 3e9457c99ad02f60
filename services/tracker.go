package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"flipfinder/models"
	"flipfinder/storage"
	"flipfinder/utils"
)

// priceChangeThreshold is the minimum relative price delta that is persisted;
// smaller movements are treated as scrape noise.
const priceChangeThreshold = 0.01

// soldRule is one ordered sold-status detection rule. Platform-specific rules
// are consulted before the generic fallback (empty platform). Detection over
// unstructured scraped text is best effort; these phrases are a heuristic,
// not a guarantee.
type soldRule struct {
	platform string
	phrases  []string
}

var soldRules = []soldRule{
	{"craigslist", []string{
		"deleted by its author",
		"has expired",
		"posting has been flagged",
	}},
	{"ebay", []string{
		"listing has ended",
		"sold for $",
		"this listing was ended",
	}},
	{"facebook", []string{
		"marked as sold",
		"listing is unavailable",
		"no longer available",
	}},
	{"offerup", []string{
		"item sold",
		"has been sold",
		"sold!",
	}},
	{"mercari", []string{
		"item sold",
		"has been sold",
		"sold out",
	}},
	{"", []string{ // generic fallback for unknown platforms
		"sold",
		"no longer available",
		"item is unavailable",
	}},
}

// priceRule is one ordered price-extraction rule; platform rules run before
// the generic dollar-amount patterns.
type priceRule struct {
	platform string
	pattern  *regexp.Regexp
}

var priceRules = []priceRule{
	// eBay structured price attribute, e.g. itemprop="price" content="199.99".
	{"ebay", regexp.MustCompile(`(?i)itemprop="price"\s+content="([\d,]+(?:\.\d{1,2})?)"`)},
	{"ebay", regexp.MustCompile(`(?i)"price"\s*:\s*"?\$?([\d,]+(?:\.\d{1,2})?)`)},
	// Generic labelled amounts: "Asking: $350", "price: $199.99".
	{"", regexp.MustCompile(`(?i)(?:asking|price)\s*:?\s*\$\s*([\d,]+(?:\.\d{1,2})?)`)},
	// Bare dollar amounts: "$1,234.56".
	{"", regexp.MustCompile(`\$\s*([\d,]+(?:\.\d{1,2})?)`)},
}

// DetectSoldStatus reports whether the scraped page text indicates the
// listing has been sold or removed. Empty text never matches.
func DetectSoldStatus(pageText, platform string) bool {
	if strings.TrimSpace(pageText) == "" {
		return false
	}
	text := strings.ToLower(pageText)
	platform = strings.ToLower(platform)

	known := false
	for _, rule := range soldRules {
		if rule.platform != platform {
			continue
		}
		known = true
		for _, phrase := range rule.phrases {
			if strings.Contains(text, phrase) {
				return true
			}
		}
	}
	if known {
		return false
	}

	// Unknown platform: generic fallback indicators.
	for _, rule := range soldRules {
		if rule.platform != "" {
			continue
		}
		for _, phrase := range rule.phrases {
			if strings.Contains(text, phrase) {
				return true
			}
		}
	}
	return false
}

// ExtractCurrentPrice pulls the current asking price out of scraped page
// text. Returns nil when no price is found or the parsed value is exactly 0.
func ExtractCurrentPrice(pageText, platform string) *float64 {
	platform = strings.ToLower(platform)
	for _, rule := range priceRules {
		if rule.platform != "" && rule.platform != platform {
			continue
		}
		m := rule.pattern.FindStringSubmatch(pageText)
		if len(m) < 2 {
			continue
		}
		raw := strings.ReplaceAll(m[1], ",", "")
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil || price == 0 {
			continue
		}
		return &price
	}
	return nil
}

// Tracker re-checks live listings for sold transitions and price movements.
type Tracker struct {
	listings storage.ListingStore
	samples  storage.SoldSampleStore
	logger   *utils.Logger

	maxConcurrency int
	rateLimitMs    int
}

// NewTracker creates a Tracker running fetches through a bounded worker pool.
// samples may be nil; sold transitions are then not recorded as history.
func NewTracker(listings storage.ListingStore, samples storage.SoldSampleStore, logger *utils.Logger, maxConcurrency, rateLimitMs int) *Tracker {
	return &Tracker{
		listings:       listings,
		samples:        samples,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		rateLimitMs:    rateLimitMs,
	}
}

// ProcessListingCheck applies one observation to a listing. A pass that
// transitions the listing to SOLD performs no price handling in the same
// call; re-reporting sold for an already terminal listing is a no-op.
func (t *Tracker) ProcessListingCheck(ctx context.Context, listingID int64, isSold bool, extractedPrice *float64) (*models.TrackingOutcome, error) {
	listing, err := t.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("tracker: load listing %d: %w", listingID, err)
	}

	outcome := &models.TrackingOutcome{}

	if listing.Status.IsTerminal() {
		return outcome, nil
	}

	if isSold {
		if err := t.listings.UpdateListingStatus(ctx, listing.ID, models.StatusSold); err != nil {
			return nil, fmt.Errorf("tracker: mark sold %d: %w", listing.ID, err)
		}
		outcome.StatusChange = &models.StatusChange{
			ListingID:      listing.ID,
			PreviousStatus: listing.Status,
			NewStatus:      models.StatusSold,
		}
		t.logger.Info("[tracker] listing %d sold (%s → SOLD)", listing.ID, listing.Status)
		t.recordSold(ctx, listing)
		return outcome, nil
	}

	if extractedPrice == nil || listing.AskingPrice <= 0 {
		return outcome, nil
	}

	previous := listing.AskingPrice
	current := *extractedPrice
	delta := (current - previous) / previous
	if delta < priceChangeThreshold && delta > -priceChangeThreshold {
		return outcome, nil
	}

	changePercent := round2(delta * 100)
	note := fmt.Sprintf("Price changed from $%.2f to $%.2f (%+.1f%%) on %s",
		previous, current, changePercent, time.Now().Format("2006-01-02"))
	notes := listing.Notes
	if notes != "" {
		notes += "\n"
	}
	notes += note

	if err := t.listings.UpdateListingPrice(ctx, listing.ID, current, notes); err != nil {
		return nil, fmt.Errorf("tracker: update price %d: %w", listing.ID, err)
	}

	outcome.PriceChange = &models.PriceChange{
		ListingID:     listing.ID,
		PreviousPrice: previous,
		NewPrice:      current,
		ChangePercent: changePercent,
	}
	t.logger.Info("[tracker] listing %d price $%.2f → $%.2f (%+.1f%%)", listing.ID, previous, current, changePercent)
	return outcome, nil
}

// recordSold feeds a confirmed sale back into the sold-price history so later
// market value refreshes can use it. Best effort: recording failures are
// logged, never surfaced.
func (t *Tracker) recordSold(ctx context.Context, listing *models.Listing) {
	if t.samples == nil || listing.AskingPrice <= 0 {
		return
	}
	sample := &models.SoldSample{
		ProductName: listing.Title,
		Platform:    listing.Platform,
		SoldPrice:   listing.AskingPrice,
		SoldAt:      time.Now(),
	}
	if err := t.samples.InsertSoldSamples(ctx, []*models.SoldSample{sample}); err != nil {
		t.logger.Warn("[tracker] record sold sample for listing %d: %v", listing.ID, err)
	}
}

// RunTrackingCycle fetches every trackable listing's page and applies sold
// and price detection. Per-listing failures are recorded and the cycle
// continues; no panic or error from one listing aborts the rest.
func (t *Tracker) RunTrackingCycle(ctx context.Context, fetch func(ctx context.Context, url string) (string, error)) (*models.TrackingReport, error) {
	trackable, err := t.listings.Trackable(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracker: load trackable listings: %w", err)
	}

	report := &models.TrackingReport{}
	var mu sync.Mutex

	pool := utils.NewWorkerPool(t.maxConcurrency, t.rateLimitMs)
	for _, l := range trackable {
		l := l
		pool.Submit(func() {
			outcome, checkErr := t.checkOne(ctx, l, fetch)

			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			if checkErr != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("listing %d: %v", l.ID, checkErr))
				return
			}
			if outcome.StatusChange != nil {
				report.StatusChanges = append(report.StatusChanges, *outcome.StatusChange)
			}
			if outcome.PriceChange != nil {
				report.PriceChanges = append(report.PriceChanges, *outcome.PriceChange)
			}
		})
	}
	pool.Wait()

	t.logger.Info("[tracker] cycle done — checked %d, %d status changes, %d price changes, %d errors",
		report.Checked, len(report.StatusChanges), len(report.PriceChanges), len(report.Errors))
	return report, nil
}

func (t *Tracker) checkOne(ctx context.Context, l *models.Listing, fetch func(ctx context.Context, url string) (string, error)) (outcome *models.TrackingOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	page, err := fetch(ctx, l.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %v", err)
	}
	if page == "" {
		return nil, fmt.Errorf("fetch: empty page")
	}

	isSold := DetectSoldStatus(page, l.Platform)
	var price *float64
	if !isSold {
		price = ExtractCurrentPrice(page, l.Platform)
	}
	return t.ProcessListingCheck(ctx, l.ID, isSold, price)
}
