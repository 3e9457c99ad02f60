package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"flipfinder/models"
	"flipfinder/storage"
	"flipfinder/utils"
)

// PlatformPoster posts a listing to one target marketplace. Implementations
// may return an error or a PostResult with Success=false; both count as a
// failed attempt.
type PlatformPoster interface {
	Post(ctx context.Context, listing *models.Listing, item *models.PostingQueueItem) (*models.PostResult, error)
}

// PosterRegistry maps platform names to posters. It is populated once at
// startup and read-only during processing.
type PosterRegistry struct {
	mu      sync.RWMutex
	posters map[string]PlatformPoster
}

// NewPosterRegistry creates an empty registry.
func NewPosterRegistry() *PosterRegistry {
	return &PosterRegistry{posters: make(map[string]PlatformPoster)}
}

// Register binds a poster to a platform name.
func (r *PosterRegistry) Register(platform string, poster PlatformPoster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posters[platform] = poster
}

// Lookup returns the poster for a platform, if any.
func (r *PosterRegistry) Lookup(platform string) (PlatformPoster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.posters[platform]
	return p, ok
}

// QueueProcessor drives queued cross-post requests to a terminal
// POSTED or FAILED outcome with bounded retries. It has no internal timer;
// ProcessQueue is meant to be invoked periodically by an external scheduler.
type QueueProcessor struct {
	queue      storage.QueueStore
	listings   storage.ListingStore
	registry   *PosterRegistry
	logger     *utils.Logger
	maxRetries int
}

// NewQueueProcessor creates a processor using the given poster registry.
func NewQueueProcessor(queue storage.QueueStore, listings storage.ListingStore,
	registry *PosterRegistry, logger *utils.Logger, maxRetries int) *QueueProcessor {
	return &QueueProcessor{
		queue:      queue,
		listings:   listings,
		registry:   registry,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Enqueue creates a PENDING cross-post request for a listing.
func (p *QueueProcessor) Enqueue(ctx context.Context, listingID, userID int64, targetPlatform string) (*models.PostingQueueItem, error) {
	if _, err := p.listings.GetListing(ctx, listingID); err != nil {
		return nil, fmt.Errorf("queue: enqueue listing %d: %w", listingID, err)
	}

	item := &models.PostingQueueItem{
		ID:             uuid.NewString(),
		ListingID:      listingID,
		UserID:         userID,
		TargetPlatform: targetPlatform,
		Status:         models.QueuePending,
		MaxRetries:     p.maxRetries,
		CreatedAt:      time.Now(),
	}
	if err := p.queue.InsertQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("queue: insert item: %w", err)
	}
	p.logger.Info("[queue] enqueued %s — listing %d → %s", item.ID, listingID, targetPlatform)
	return item, nil
}

// ProcessItem advances one queue item through the PENDING → IN_PROGRESS →
// {POSTED | PENDING | FAILED} state machine. A missing poster fails the item
// immediately without consuming a retry.
func (p *QueueProcessor) ProcessItem(ctx context.Context, item *models.PostingQueueItem) error {
	poster, ok := p.registry.Lookup(item.TargetPlatform)
	if !ok {
		item.Status = models.QueueFailed
		item.ErrorMessage = fmt.Sprintf("no poster registered for platform %q", item.TargetPlatform)
		p.logger.Warn("[queue] item %s failed: %s", item.ID, item.ErrorMessage)
		return p.queue.UpdateQueueItem(ctx, item)
	}

	// A missing listing is surfaced to the caller rather than retried.
	listing, err := p.listings.GetListing(ctx, item.ListingID)
	if err != nil {
		return fmt.Errorf("queue: load listing %d: %w", item.ListingID, err)
	}

	item.Status = models.QueueInProgress
	if err := p.queue.UpdateQueueItem(ctx, item); err != nil {
		return fmt.Errorf("queue: mark in progress: %w", err)
	}

	result, err := p.invoke(ctx, poster, listing, item)
	if err != nil {
		return p.recordFailure(ctx, item, err.Error())
	}
	if result == nil {
		return p.recordFailure(ctx, item, "poster returned no result")
	}
	if !result.Success {
		msg := result.ErrorMessage
		if msg == "" {
			msg = "poster reported failure"
		}
		return p.recordFailure(ctx, item, msg)
	}

	now := time.Now()
	item.Status = models.QueuePosted
	item.ExternalPostID = result.ExternalPostID
	item.ExternalPostURL = result.ExternalPostURL
	item.ErrorMessage = ""
	item.PostedAt = &now
	p.logger.Info("[queue] item %s posted to %s (%s)", item.ID, item.TargetPlatform, item.ExternalPostURL)
	return p.queue.UpdateQueueItem(ctx, item)
}

// invoke calls the poster, translating a panic into a failed attempt.
func (p *QueueProcessor) invoke(ctx context.Context, poster PlatformPoster, listing *models.Listing, item *models.PostingQueueItem) (result *models.PostResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("poster panic: %v", r)
		}
	}()
	return poster.Post(ctx, listing, item)
}

// recordFailure increments the retry count and either requeues the item as
// PENDING or marks it FAILED once retries are exhausted.
func (p *QueueProcessor) recordFailure(ctx context.Context, item *models.PostingQueueItem, msg string) error {
	item.RetryCount++
	item.ErrorMessage = msg
	if item.RetryCount < item.MaxRetries {
		item.Status = models.QueuePending
		p.logger.Warn("[queue] item %s attempt %d/%d failed: %s — will retry",
			item.ID, item.RetryCount, item.MaxRetries, msg)
	} else {
		item.Status = models.QueueFailed
		p.logger.Error("[queue] item %s failed permanently after %d attempts: %s",
			item.ID, item.RetryCount, msg)
	}
	return p.queue.UpdateQueueItem(ctx, item)
}

// ProcessQueue handles up to batchSize due PENDING items, oldest first, and
// returns the number processed.
func (p *QueueProcessor) ProcessQueue(ctx context.Context, batchSize int) (int, error) {
	due, err := p.queue.DuePending(ctx, time.Now(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("queue: load due items: %w", err)
	}

	processed := 0
	for _, item := range due {
		if err := p.ProcessItem(ctx, item); err != nil {
			p.logger.Error("[queue] item %s: %v", item.ID, err)
		}
		processed++
	}
	return processed, nil
}

// GetQueueStats returns per-status counts for one user's queue.
func (p *QueueProcessor) GetQueueStats(ctx context.Context, userID int64) (*models.QueueStats, error) {
	return p.queue.QueueStats(ctx, userID)
}
