package models

import "time"

// ListingStatus is the lifecycle state of a tracked listing.
type ListingStatus string

const (
	StatusNew         ListingStatus = "NEW"
	StatusOpportunity ListingStatus = "OPPORTUNITY"
	StatusListed      ListingStatus = "LISTED"
	StatusSold        ListingStatus = "SOLD"
	StatusExpired     ListingStatus = "EXPIRED"
)

// TrackableStatuses are the states the tracker still re-checks.
// SOLD and EXPIRED are terminal; the two sets never overlap.
var TrackableStatuses = []ListingStatus{StatusNew, StatusOpportunity, StatusListed}

// IsTerminal reports whether the status admits no further automated transitions.
func (s ListingStatus) IsTerminal() bool {
	return s == StatusSold || s == StatusExpired
}

// RawListing holds unprocessed scraped data as delivered by a scraper.
// Price is still a string here ("$1,234", "Asking: $350") and must be
// parsed before valuation.
type RawListing struct {
	Title       string    `json:"title"`
	RawPrice    string    `json:"raw_price"`
	URL         string    `json:"url"`
	ExternalID  string    `json:"external_id"`
	Platform    string    `json:"platform"`
	Location    string    `json:"location,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Description string    `json:"description,omitempty"`
	Condition   string    `json:"condition,omitempty"`
	Category    string    `json:"category,omitempty"`
	ScrapedAt   time.Time `json:"scraped_at,omitempty"`
}

// Listing is a persisted flip opportunity. A row exists only while the
// listing clears the minimum-discount gate; (Platform, ExternalID, UserID)
// is the upsert key.
type Listing struct {
	ID          int64
	UserID      int64
	Platform    string
	ExternalID  string
	Title       string
	Description string
	AskingPrice float64
	Condition   string
	Category    string
	Status      ListingStatus

	EstimatedValue  float64
	EstimatedLow    float64
	EstimatedHigh   float64
	ProfitPotential float64
	ProfitLow       float64
	ProfitHigh      float64
	ValueScore      float64
	DiscountPercent float64

	ResaleDifficulty string
	Confidence       string

	VerifiedMarketValue *float64
	MarketDataSource    string
	TrueDiscountPercent *float64

	ComparableURLs []string
	Tags           []string
	ImageURLs      []string
	Notes          string
	RequestToBuy   bool

	URL      string
	Location string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SoldSample is one historical sold-price observation. Read-only input to
// the market value calculator.
type SoldSample struct {
	ID          int64
	ProductName string
	Platform    string
	SoldPrice   float64
	SoldAt      time.Time
}

// StatusChange records a status transition observed during one tracking pass.
type StatusChange struct {
	ListingID      int64
	PreviousStatus ListingStatus
	NewStatus      ListingStatus
}

// PriceChange records a price movement observed during one tracking pass.
// ChangePercent is signed: negative for price drops.
type PriceChange struct {
	ListingID     int64
	PreviousPrice float64
	NewPrice      float64
	ChangePercent float64
}

// TrackingOutcome is the ephemeral result of one tracking pass over a single
// listing. A pass that transitioned the listing to SOLD never also carries a
// price change.
type TrackingOutcome struct {
	StatusChange *StatusChange
	PriceChange  *PriceChange
}
