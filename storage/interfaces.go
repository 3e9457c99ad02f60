package storage

import (
	"context"
	"errors"
	"time"

	"flipfinder/models"
)

// ErrNotFound is returned when a referenced listing or queue item does not exist.
var ErrNotFound = errors.New("storage: not found")

// ListingStore is the persistence contract for flip opportunities.
type ListingStore interface {
	// UpsertListing inserts or updates on the (platform, external_id, user_id) key
	// and fills in the row ID.
	UpsertListing(ctx context.Context, l *models.Listing) error
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	FindByKey(ctx context.Context, platform, externalID string, userID int64) (*models.Listing, error)
	DeleteListing(ctx context.Context, id int64) error

	// Trackable returns every listing whose status still admits re-checking.
	Trackable(ctx context.Context) ([]*models.Listing, error)
	// OpportunityPage returns a page of OPPORTUNITY listings ordered by ID.
	OpportunityPage(ctx context.Context, limit, offset int) ([]*models.Listing, error)

	UpdateListingStatus(ctx context.Context, id int64, status models.ListingStatus) error
	UpdateListingPrice(ctx context.Context, id int64, price float64, notes string) error
	UpdateVerifiedValue(ctx context.Context, id int64, verified float64, source string, trueDiscount float64) error
}

// SoldSampleStore provides access to historical sold-price observations.
type SoldSampleStore interface {
	// RecentSold matches productName case-insensitively as a substring, on one
	// platform, sold since the given time, most recent first, capped at limit.
	RecentSold(ctx context.Context, productName, platform string, since time.Time, limit int) ([]*models.SoldSample, error)
	// InsertSoldSamples records new sold observations in one batch.
	InsertSoldSamples(ctx context.Context, samples []*models.SoldSample) error
}

// QueueStore is the persistence contract for the cross-posting queue.
type QueueStore interface {
	InsertQueueItem(ctx context.Context, item *models.PostingQueueItem) error
	GetQueueItem(ctx context.Context, id string) (*models.PostingQueueItem, error)
	UpdateQueueItem(ctx context.Context, item *models.PostingQueueItem) error
	// DuePending returns PENDING items whose scheduledAt is null or due,
	// oldest createdAt first, capped at limit.
	DuePending(ctx context.Context, now time.Time, limit int) ([]*models.PostingQueueItem, error)
	QueueStats(ctx context.Context, userID int64) (*models.QueueStats, error)
}
