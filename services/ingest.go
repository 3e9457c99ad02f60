package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"flipfinder/models"
	"flipfinder/storage"
	"flipfinder/utils"
)

// priceRegexp captures numeric price values out of raw scraped price strings.
var priceRegexp = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)

// ValidationError marks a raw listing rejected before valuation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid listing: %s %s", e.Field, e.Reason)
}

// Ingestor validates raw scraped listings, runs them through the value
// estimator and persists the ones that clear the minimum-discount gate.
type Ingestor struct {
	estimator *Estimator
	listings  storage.ListingStore
	logger    *utils.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(estimator *Estimator, listings storage.ListingStore, logger *utils.Logger) *Ingestor {
	return &Ingestor{estimator: estimator, listings: listings, logger: logger}
}

// Ingest processes one batch of raw listings for a user. Listings below the
// discount gate are skipped, or deleted if a previously qualifying row
// exists. Per-listing failures are counted and never abort the batch.
func (g *Ingestor) Ingest(ctx context.Context, raws []*models.RawListing, userID int64) *models.IngestReport {
	report := &models.IngestReport{Received: len(raws)}
	seen := make(map[string]struct{})

	for _, raw := range raws {
		key := listingKey(raw.Platform, raw.ExternalID)
		if _, dup := seen[key]; dup {
			g.logger.Debug("[ingest] duplicate skipped: %s", key)
			report.Skipped++
			continue
		}
		seen[key] = struct{}{}

		if err := g.ingestOne(ctx, raw, userID, report); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				g.logger.Warn("[ingest] rejected %q: %v", raw.Title, err)
				report.Rejected++
			} else {
				g.logger.Error("[ingest] %q: %v", raw.Title, err)
				report.Rejected++
			}
		}
	}

	g.logger.Info("[ingest] %d received — %d accepted, %d rejected, %d skipped, %d removed",
		report.Received, report.Accepted, report.Rejected, report.Skipped, report.Removed)
	return report
}

func (g *Ingestor) ingestOne(ctx context.Context, raw *models.RawListing, userID int64, report *models.IngestReport) error {
	if err := validate(raw); err != nil {
		return err
	}

	askingPrice := ParsePrice(raw.RawPrice)
	if askingPrice <= 0 {
		return &ValidationError{Field: "price", Reason: fmt.Sprintf("unparseable: %q", raw.RawPrice)}
	}

	// Normalize the upsert key once; scrapers are inconsistent about casing
	// and the stored row must be findable on every re-scrape.
	platform := strings.ToLower(strings.TrimSpace(raw.Platform))
	externalID := strings.TrimSpace(raw.ExternalID)

	title := normaliseText(raw.Title)
	description := normaliseText(raw.Description)
	est := g.estimator.Estimate(title, description, askingPrice, raw.Condition, raw.Category)

	if est.DiscountPercent < g.estimator.MinDiscountPercent() {
		// Below the gate: remove a previously qualifying row, otherwise skip.
		existing, err := g.listings.FindByKey(ctx, platform, externalID, userID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				report.Skipped++
				return nil
			}
			return fmt.Errorf("lookup existing: %w", err)
		}
		if err := g.listings.DeleteListing(ctx, existing.ID); err != nil {
			return fmt.Errorf("remove regressed listing %d: %w", existing.ID, err)
		}
		g.logger.Info("[ingest] listing %d removed — discount %.0f%% below gate", existing.ID, est.DiscountPercent)
		report.Removed++
		return nil
	}

	listing := &models.Listing{
		UserID:      userID,
		Platform:    platform,
		ExternalID:  externalID,
		Title:       title,
		Description: description,
		AskingPrice: askingPrice,
		Condition:   raw.Condition,
		Category:    est.Category,
		Status:      models.StatusOpportunity,

		EstimatedValue:  est.EstimatedValue,
		EstimatedLow:    est.EstimatedLow,
		EstimatedHigh:   est.EstimatedHigh,
		ProfitPotential: est.ProfitPotential,
		ProfitLow:       est.ProfitLow,
		ProfitHigh:      est.ProfitHigh,
		ValueScore:      est.ValueScore,
		DiscountPercent: est.DiscountPercent,

		ResaleDifficulty: est.ResaleDifficulty,
		Confidence:       est.Confidence,
		ComparableURLs:   est.ComparableURLs,
		Tags:             est.Reasoning,

		URL:      strings.TrimSpace(raw.URL),
		Location: normaliseText(raw.Location),

		CreatedAt: time.Now(),
	}
	if raw.ImageURL != "" {
		listing.ImageURLs = []string{raw.ImageURL}
	}

	if err := g.listings.UpsertListing(ctx, listing); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	report.Accepted++
	g.logger.Debug("[ingest] accepted %q — score %.0f, discount %.0f%%", title, est.ValueScore, est.DiscountPercent)
	return nil
}

func validate(raw *models.RawListing) error {
	switch {
	case strings.TrimSpace(raw.Title) == "":
		return &ValidationError{Field: "title", Reason: "is required"}
	case strings.TrimSpace(raw.URL) == "":
		return &ValidationError{Field: "url", Reason: "is required"}
	case strings.TrimSpace(raw.ExternalID) == "":
		return &ValidationError{Field: "externalId", Reason: "is required"}
	case strings.TrimSpace(raw.Platform) == "":
		return &ValidationError{Field: "platform", Reason: "is required"}
	}
	return nil
}

// listingKey is the batch dedupe key, normalized the same way the persisted
// upsert key is.
func listingKey(platform, externalID string) string {
	return strings.ToLower(strings.TrimSpace(platform)) + "|" + strings.TrimSpace(externalID)
}

// ParsePrice extracts a numeric price from a raw scraped string, stripping
// currency symbols and thousands separators. Returns 0 when nothing parses.
func ParsePrice(raw string) float64 {
	cleaned := strings.ReplaceAll(raw, ",", "")
	match := priceRegexp.FindString(cleaned)
	if match == "" {
		return 0
	}
	price, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return price
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
