package services

import (
	"math"
	"reflect"
	"strings"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.01
}

func TestEstimateKnownValues(t *testing.T) {
	e := NewEstimator(70)
	r := e.Estimate("Sony headphones, sealed", "", 100, "new", "electronics")

	// 100 * 1.2..1.6 * 1.0 * 1.1^2 (sony, sealed)
	if !almostEqual(r.EstimatedLow, 145.20) {
		t.Errorf("EstimatedLow: got %.2f, want 145.20", r.EstimatedLow)
	}
	if !almostEqual(r.EstimatedHigh, 193.60) {
		t.Errorf("EstimatedHigh: got %.2f, want 193.60", r.EstimatedHigh)
	}
	if !almostEqual(r.EstimatedValue, 169.40) {
		t.Errorf("EstimatedValue: got %.2f, want 169.40", r.EstimatedValue)
	}
	if !almostEqual(r.ProfitPotential, 47.38) {
		t.Errorf("ProfitPotential: got %.2f, want 47.38", r.ProfitPotential)
	}
	if r.DiscountPercent != 41 {
		t.Errorf("DiscountPercent: got %.0f, want 41", r.DiscountPercent)
	}
	if r.Confidence != "high" {
		t.Errorf("Confidence: got %q, want high", r.Confidence)
	}
}

func TestEstimateIsPure(t *testing.T) {
	e := NewEstimator(70)
	a := e.Estimate("Vintage Omega watch, rare", "mint condition", 250, "good", "")
	b := e.Estimate("Vintage Omega watch, rare", "mint condition", 250, "good", "")
	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs must produce identical outputs")
	}
}

func TestValueScoreBounds(t *testing.T) {
	e := NewEstimator(70)
	inputs := []struct {
		title     string
		price     float64
		condition string
	}{
		{"broken iphone for parts", 50, "poor"},
		{"Sealed rare vintage Sony camera", 10, "new"},
		{"Dining table", 0, ""},
		{"Herman Miller Aeron chair", 400, "like new"},
		{"junk drawer lot as is", 1, "fair"},
	}
	for _, in := range inputs {
		r := e.Estimate(in.title, "", in.price, in.condition, "")
		if r.ValueScore < 0 || r.ValueScore > 100 {
			t.Errorf("Estimate(%q): score %.1f out of [0,100]", in.title, r.ValueScore)
		}
	}
}

func TestEstimateZeroAskingPrice(t *testing.T) {
	e := NewEstimator(70)
	r := e.Estimate("Free couch", "", 0, "good", "furniture")
	if r.ValueScore != 0 {
		t.Errorf("zero asking price: score %.1f, want 0", r.ValueScore)
	}
	if r.DiscountPercent != 0 {
		t.Errorf("zero asking price: discount %.1f, want 0", r.DiscountPercent)
	}
	if math.IsNaN(r.ProfitPotential) || math.IsInf(r.ProfitPotential, 0) {
		t.Error("profit must be finite for zero asking price")
	}
}

func TestEstimateRiskSignals(t *testing.T) {
	e := NewEstimator(70)
	r := e.Estimate("Broken iPhone for parts", "", 50, "poor", "")
	if r.Confidence != "low" {
		t.Errorf("Confidence: got %q, want low", r.Confidence)
	}
	if r.ResaleDifficulty != "hard" {
		t.Errorf("ResaleDifficulty: got %q, want hard", r.ResaleDifficulty)
	}
	if r.ValueScore > 10 {
		t.Errorf("negative profit should cap score at 10, got %.1f", r.ValueScore)
	}
	if r.Category != "electronics" {
		t.Errorf("Category: got %q, want electronics", r.Category)
	}
}

func TestEstimateUnknownCategoryAndCondition(t *testing.T) {
	e := NewEstimator(70)
	// Must not panic; defaults apply.
	r := e.Estimate("Mystery box", "", 20, "pristine", "widgets")
	if r.EstimatedValue <= 0 {
		t.Errorf("unknown category/condition should still estimate, got %.2f", r.EstimatedValue)
	}
	// default range 1.2-1.5, default condition multiplier 0.75
	if !almostEqual(r.EstimatedLow, 20*1.2*0.75) {
		t.Errorf("EstimatedLow: got %.2f, want %.2f", r.EstimatedLow, 20*1.2*0.75)
	}
}

func TestDetectCategory(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"PS5 console bundle", "gaming"},
		{"MacBook Pro 16 laptop", "electronics"},
		{"DeWalt cordless drill", "tools"},
		{"Mid century dresser", "furniture"},
		{"Pokemon card collection", "collectibles"},
		{"Random household stuff", "other"},
	}
	for _, tt := range tests {
		if got := DetectCategory(tt.title, ""); got != tt.want {
			t.Errorf("DetectCategory(%q) = %q; want %q", tt.title, got, tt.want)
		}
	}
}

func TestComparableSearchURLs(t *testing.T) {
	urls := ComparableSearchURLs("The Sony WH-1000XM5 headphones for sale, great condition!")
	if len(urls) != 6 {
		t.Fatalf("expected 6 search URLs, got %d", len(urls))
	}
	if !strings.Contains(urls[0], "LH_Sold=1") {
		t.Errorf("first URL should be the eBay sold search, got %s", urls[0])
	}
	for _, u := range urls {
		if strings.Contains(strings.ToLower(u), "condition") {
			t.Errorf("filler word leaked into query: %s", u)
		}
	}

	// Deterministic across calls.
	again := ComparableSearchURLs("The Sony WH-1000XM5 headphones for sale, great condition!")
	if !reflect.DeepEqual(urls, again) {
		t.Error("comparable URL set must be deterministic")
	}
}

func TestComparableSearchURLsEmptyTitle(t *testing.T) {
	if urls := ComparableSearchURLs("   "); urls != nil {
		t.Errorf("blank title should yield no URLs, got %v", urls)
	}
}

func TestProfitBoostThresholds(t *testing.T) {
	// Profit just over $100 gains one boost; over $200 gains both.
	if got := valueScore(150, 100); got != 100 {
		t.Errorf("score for $150 profit on $100: got %.1f, want 100 (clamped)", got)
	}
	if got := valueScore(15, 1000); got != 40 {
		t.Errorf("low absolute profit should cap at 40, got %.1f", got)
	}
	if got := valueScore(-10, 100); got != 10 {
		t.Errorf("negative profit should cap at 10, got %.1f", got)
	}
}
