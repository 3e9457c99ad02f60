package services

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"flipfinder/models"
)

// platformFeeRate approximates the combined marketplace fee taken on resale.
const platformFeeRate = 0.13

// multiplierRange is the low/high resale multiplier for one category.
type multiplierRange struct {
	low  float64
	high float64
}

var categoryRanges = map[string]multiplierRange{
	"electronics":  {1.2, 1.6},
	"collectibles": {1.5, 2.5},
	"furniture":    {1.3, 1.8},
	"tools":        {1.3, 1.7},
	"appliances":   {1.2, 1.5},
	"sporting":     {1.2, 1.6},
	"clothing":     {1.4, 2.0},
	"gaming":       {1.3, 1.8},
	"other":        {1.2, 1.5},
}

// defaultRange is used when the category is unknown.
var defaultRange = multiplierRange{1.2, 1.5}

var conditionMultipliers = map[string]float64{
	"new":      1.0,
	"like_new": 0.9,
	"good":     0.75,
	"fair":     0.6,
	"poor":     0.4,
}

const defaultConditionMultiplier = 0.75 // missing condition is treated as "good"

// valueKeywords are brand/quality signals; each match multiplies the boost factor.
var valueKeywords = []string{
	"apple", "sony", "bose", "dyson", "dewalt", "milwaukee", "makita",
	"le creuset", "vitamix", "herman miller", "kitchenaid",
	"sealed", "new in box", "nib", "unopened", "brand new",
	"rare", "limited edition", "vintage", "discontinued",
	"authentic", "mint",
}

// riskKeywords are damage/wear signals; each match multiplies the penalty factor.
var riskKeywords = []string{
	"broken", "cracked", "damaged", "for parts", "not working", "as is",
	"missing", "needs repair", "scratched", "dented", "stained", "torn",
	"water damage", "heavy wear", "no returns",
}

const (
	keywordBoost   = 1.1
	keywordPenalty = 0.85
)

// categoryPattern maps detection keywords to a category. The list is ordered;
// the first pattern that matches wins.
type categoryPattern struct {
	category string
	keywords []string
}

var categoryPatterns = []categoryPattern{
	{"gaming", []string{"playstation", "ps5", "ps4", "xbox", "nintendo", "switch", "gaming pc", "console", "gamecube"}},
	{"electronics", []string{"iphone", "ipad", "macbook", "laptop", "tablet", "tv", "monitor", "camera", "headphones", "speaker", "drone", "phone"}},
	{"tools", []string{"drill", "saw", "sander", "wrench", "tool", "compressor", "welder", "grinder"}},
	{"appliances", []string{"refrigerator", "washer", "dryer", "microwave", "dishwasher", "blender", "mixer", "espresso"}},
	{"furniture", []string{"couch", "sofa", "table", "chair", "dresser", "desk", "bookshelf", "cabinet", "bed frame"}},
	{"sporting", []string{"bike", "bicycle", "kayak", "golf", "treadmill", "weights", "dumbbell", "snowboard", "ski"}},
	{"collectibles", []string{"card", "coin", "stamp", "comic", "figurine", "memorabilia", "antique", "first edition"}},
	{"clothing", []string{"jacket", "sneaker", "boots", "handbag", "purse", "watch", "jersey", "coat"}},
}

// fillerWords are stripped from titles before building comparable-search queries.
var fillerWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "for": {}, "with": {},
	"in": {}, "on": {}, "of": {}, "to": {}, "from": {}, "new": {}, "used": {},
	"great": {}, "good": {}, "excellent": {}, "condition": {}, "obo": {},
	"sale": {}, "selling": {}, "must": {}, "see": {}, "like": {},
}

const maxQueryWords = 5

// Estimator turns raw listing attributes into a scored valuation. Estimate is
// pure: identical inputs always produce identical outputs.
type Estimator struct {
	minDiscountPercent float64
}

// NewEstimator creates an Estimator gating opportunities at minDiscountPercent.
func NewEstimator(minDiscountPercent float64) *Estimator {
	return &Estimator{minDiscountPercent: minDiscountPercent}
}

// MinDiscountPercent returns the opportunity gate threshold.
func (e *Estimator) MinDiscountPercent() float64 {
	return e.minDiscountPercent
}

// Estimate computes the valuation range, profit potential, value score,
// confidence and comparable-search URLs for a listing.
func (e *Estimator) Estimate(title, description string, askingPrice float64, condition, category string) models.EstimationResult {
	text := strings.ToLower(title + " " + description)

	if category == "" {
		category = DetectCategory(title, description)
	}
	catRange, ok := categoryRanges[strings.ToLower(category)]
	if !ok {
		catRange = defaultRange
	}

	condMult, ok := conditionMultipliers[normaliseCondition(condition)]
	if !ok {
		condMult = defaultConditionMultiplier
	}

	var reasoning []string
	boost := 1.0
	valueHits := 0
	for _, kw := range valueKeywords {
		if strings.Contains(text, kw) {
			boost *= keywordBoost
			valueHits++
			reasoning = append(reasoning, fmt.Sprintf("value signal: %q", kw))
		}
	}

	penalty := 1.0
	riskHits := 0
	for _, kw := range riskKeywords {
		if strings.Contains(text, kw) {
			penalty *= keywordPenalty
			riskHits++
			reasoning = append(reasoning, fmt.Sprintf("risk signal: %q", kw))
		}
	}

	low := round2(askingPrice * catRange.low * condMult * boost * penalty)
	high := round2(askingPrice * catRange.high * condMult * boost * penalty)
	value := round2((low + high) / 2)

	profit := round2(value - askingPrice - value*platformFeeRate)
	profitLow := round2(low - askingPrice - low*platformFeeRate)
	profitHigh := round2(high - askingPrice - high*platformFeeRate)

	score := valueScore(profit, askingPrice)
	discount := discountPercent(value, askingPrice)

	confidence := "medium"
	switch {
	case riskHits > 0:
		confidence = "low"
	case valueHits > 0:
		confidence = "high"
	}

	reasoning = append(reasoning, fmt.Sprintf(
		"category %s (%.1fx-%.1fx), condition multiplier %.2f", category, catRange.low, catRange.high, condMult))

	return models.EstimationResult{
		EstimatedValue:   value,
		EstimatedLow:     low,
		EstimatedHigh:    high,
		ProfitPotential:  profit,
		ProfitLow:        profitLow,
		ProfitHigh:       profitHigh,
		ValueScore:       score,
		DiscountPercent:  discount,
		Confidence:       confidence,
		ResaleDifficulty: resaleDifficulty(category, valueHits, riskHits),
		Category:         category,
		Reasoning:        reasoning,
		ComparableURLs:   ComparableSearchURLs(title),
	}
}

// valueScore maps profit into a 0-100 score. Base is the profit margin
// shifted so that break-even scores 50, then capped for low absolute profit
// and boosted above fixed dollar thresholds.
func valueScore(profit, askingPrice float64) float64 {
	var score float64
	if askingPrice <= 0 {
		// No margin can be computed; lowest band.
		score = 0
	} else {
		margin := profit / askingPrice
		score = clamp(margin*100+50, 0, 100)
	}

	switch {
	case profit <= 0:
		score = math.Min(score, 10)
	case profit < 20:
		score = math.Min(score, 40)
	}

	if profit > 100 {
		score += 10
	}
	if profit > 200 {
		score += 10
	}
	return clamp(score, 0, 100)
}

// discountPercent is the percentage by which estimated value exceeds asking
// price. Returns 0 when value is 0, never NaN or Inf.
func discountPercent(value, askingPrice float64) float64 {
	if value <= 0 {
		return 0
	}
	return math.Round((value - askingPrice) / value * 100)
}

func resaleDifficulty(category string, valueHits, riskHits int) string {
	switch {
	case riskHits > 0:
		return "hard"
	case valueHits > 0 && (category == "electronics" || category == "gaming"):
		return "easy"
	default:
		return "moderate"
	}
}

// DetectCategory guesses a category from the title and description using an
// ordered keyword list; the first match wins and unknown items fall back to
// "other".
func DetectCategory(title, description string) string {
	text := strings.ToLower(title + " " + description)
	for _, cp := range categoryPatterns {
		for _, kw := range cp.keywords {
			if strings.Contains(text, kw) {
				return cp.category
			}
		}
	}
	return "other"
}

// ComparableSearchURLs builds deterministic sold/active search links across
// marketplaces from the listing title.
func ComparableSearchURLs(title string) []string {
	query := searchQuery(title)
	if query == "" {
		return nil
	}
	escaped := url.QueryEscape(query)
	dashed := strings.ReplaceAll(query, " ", "-")

	return []string{
		"https://www.ebay.com/sch/i.html?_nkw=" + escaped + "&LH_Sold=1&LH_Complete=1",
		"https://www.ebay.com/sch/i.html?_nkw=" + escaped,
		"https://www.facebook.com/marketplace/search/?query=" + escaped,
		"https://offerup.com/search?q=" + escaped,
		"https://www.mercari.com/search/?keyword=" + escaped,
		"https://craigslist.org/search/sss?query=" + url.QueryEscape(dashed),
	}
}

// searchQuery strips filler words from a title and keeps the first few
// content words.
func searchQuery(title string) string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(title)) {
		w = strings.Trim(w, ".,!?:;()[]\"'-$")
		if w == "" {
			continue
		}
		if _, filler := fillerWords[w]; filler {
			continue
		}
		words = append(words, w)
		if len(words) == maxQueryWords {
			break
		}
	}
	return strings.Join(words, " ")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func normaliseCondition(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}
