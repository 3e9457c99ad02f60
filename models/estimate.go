package models

// EstimationResult is the output of the heuristic value estimator. It is
// computed purely from the listing attributes, never from market history.
type EstimationResult struct {
	EstimatedValue  float64
	EstimatedLow    float64
	EstimatedHigh   float64
	ProfitPotential float64
	ProfitLow       float64
	ProfitHigh      float64
	ValueScore      float64
	DiscountPercent float64

	Confidence       string // high | medium | low
	ResaleDifficulty string // easy | moderate | hard
	Category         string
	Reasoning        []string
	ComparableURLs   []string
}

// MarketValueResult is a statistically verified market value derived from
// outlier-filtered sold-price history.
type MarketValueResult struct {
	VerifiedValue   float64
	SampleCount     int
	OutliersRemoved int
	MinPrice        float64
	MaxPrice        float64
	AveragePrice    float64
	Confidence      string // high | medium | low
	Platform        string
}

// IngestReport summarises one ingestion batch.
type IngestReport struct {
	Received int
	Accepted int
	Rejected int
	Skipped  int
	Removed  int
}

// TrackingReport aggregates one full tracking cycle.
type TrackingReport struct {
	Checked       int
	StatusChanges []StatusChange
	PriceChanges  []PriceChange
	Errors        []string
}

// RefreshReport aggregates one batch of market-value refreshes.
type RefreshReport struct {
	Updated int
	Skipped int
	Removed int
	Errors  int
}

// OpportunityReport holds the computed analytics over stored opportunities.
type OpportunityReport struct {
	TotalOpportunities int
	AverageDiscount    float64
	AverageScore       float64
	BestProfit         *Listing
	TopScored          []*Listing
	ByPlatform         map[string]int
	ByCategory         map[string]int
}
