package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"flipfinder/models"
)

// scriptedPoster returns canned results, failing the first n attempts.
type scriptedPoster struct {
	failuresLeft int
	calls        int
	panics       bool
}

func (p *scriptedPoster) Post(_ context.Context, _ *models.Listing, _ *models.PostingQueueItem) (*models.PostResult, error) {
	p.calls++
	if p.panics {
		panic("poster exploded")
	}
	if p.failuresLeft > 0 {
		p.failuresLeft--
		return nil, errors.New("marketplace timeout")
	}
	return &models.PostResult{
		Success:         true,
		ExternalPostID:  "ext-123",
		ExternalPostURL: "https://mercari.com/item/ext-123",
	}, nil
}

func queueFixture(t *testing.T, maxRetries int) (*QueueProcessor, *memStore, *PosterRegistry, *models.Listing) {
	t.Helper()
	store := newMemStore()
	l := &models.Listing{
		UserID: 1, Platform: "craigslist", ExternalID: "q1",
		Title: "Espresso machine", AskingPrice: 80, Status: models.StatusOpportunity,
	}
	if err := store.UpsertListing(context.Background(), l); err != nil {
		t.Fatal(err)
	}
	registry := NewPosterRegistry()
	proc := NewQueueProcessor(store, store, registry, newTestLogger(), maxRetries)
	return proc, store, registry, l
}

func TestProcessItemSuccess(t *testing.T) {
	ctx := context.Background()
	proc, store, registry, l := queueFixture(t, 3)
	registry.Register("mercari", &scriptedPoster{})

	item, err := proc.Enqueue(ctx, l.ID, 1, "mercari")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := proc.ProcessItem(ctx, item); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := store.GetQueueItem(ctx, item.ID)
	if got.Status != models.QueuePosted {
		t.Errorf("Status: got %s, want POSTED", got.Status)
	}
	if got.ExternalPostID != "ext-123" || got.ExternalPostURL == "" {
		t.Errorf("external post fields not persisted: %+v", got)
	}
	if got.PostedAt == nil {
		t.Error("PostedAt should be set")
	}
	if got.ErrorMessage != "" {
		t.Errorf("ErrorMessage should be cleared, got %q", got.ErrorMessage)
	}
}

func TestProcessItemNoHandlerFailsImmediately(t *testing.T) {
	ctx := context.Background()
	proc, store, _, l := queueFixture(t, 3)

	item, err := proc.Enqueue(ctx, l.ID, 1, "poshmark")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := proc.ProcessItem(ctx, item); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := store.GetQueueItem(ctx, item.ID)
	if got.Status != models.QueueFailed {
		t.Errorf("Status: got %s, want FAILED", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("missing handler must not consume a retry, RetryCount = %d", got.RetryCount)
	}
	if got.ErrorMessage == "" {
		t.Error("expected a descriptive error message")
	}
}

func TestProcessItemRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	proc, store, registry, l := queueFixture(t, 2)
	poster := &scriptedPoster{failuresLeft: 99}
	registry.Register("mercari", poster)

	item, err := proc.Enqueue(ctx, l.ID, 1, "mercari")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// First attempt: failure with retries remaining reverts to PENDING.
	if err := proc.ProcessItem(ctx, item); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ := store.GetQueueItem(ctx, item.ID)
	if got.Status != models.QueuePending {
		t.Errorf("after attempt 1: status %s, want PENDING", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("after attempt 1: RetryCount %d, want 1", got.RetryCount)
	}
	if got.ErrorMessage == "" {
		t.Error("errorMessage should be set on a failed attempt")
	}

	// Second attempt exhausts maxRetries.
	if err := proc.ProcessItem(ctx, got); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ = store.GetQueueItem(ctx, item.ID)
	if got.Status != models.QueueFailed {
		t.Errorf("after attempt 2: status %s, want FAILED", got.Status)
	}
	if got.RetryCount != got.MaxRetries {
		t.Errorf("RetryCount %d should equal MaxRetries %d", got.RetryCount, got.MaxRetries)
	}
}

func TestProcessItemRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	proc, store, registry, l := queueFixture(t, 3)
	registry.Register("mercari", &scriptedPoster{failuresLeft: 1})

	item, err := proc.Enqueue(ctx, l.ID, 1, "mercari")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := proc.ProcessItem(ctx, item); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetQueueItem(ctx, item.ID)
	if got.Status != models.QueuePending {
		t.Fatalf("after failure: status %s, want PENDING", got.Status)
	}

	if err := proc.ProcessItem(ctx, got); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetQueueItem(ctx, item.ID)
	if got.Status != models.QueuePosted {
		t.Errorf("after success: status %s, want POSTED", got.Status)
	}
}

func TestProcessItemPosterPanicCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	proc, store, registry, l := queueFixture(t, 2)
	registry.Register("mercari", &scriptedPoster{panics: true})

	item, err := proc.Enqueue(ctx, l.ID, 1, "mercari")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := proc.ProcessItem(ctx, item); err != nil {
		t.Fatalf("panic must not escape ProcessItem: %v", err)
	}

	got, _ := store.GetQueueItem(ctx, item.ID)
	if got.Status != models.QueuePending {
		t.Errorf("Status: got %s, want PENDING", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount: got %d, want 1", got.RetryCount)
	}
}

// nilPoster violates the PlatformPoster contract by returning neither a
// result nor an error.
type nilPoster struct{}

func (nilPoster) Post(_ context.Context, _ *models.Listing, _ *models.PostingQueueItem) (*models.PostResult, error) {
	return nil, nil
}

func TestProcessItemNilResultCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	proc, store, registry, l := queueFixture(t, 2)
	registry.Register("mercari", nilPoster{})

	item, err := proc.Enqueue(ctx, l.ID, 1, "mercari")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := proc.ProcessItem(ctx, item); err != nil {
		t.Fatalf("nil result must not escape ProcessItem: %v", err)
	}

	got, _ := store.GetQueueItem(ctx, item.ID)
	if got.Status != models.QueuePending {
		t.Errorf("Status: got %s, want PENDING", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount: got %d, want 1", got.RetryCount)
	}
	if got.ErrorMessage == "" {
		t.Error("expected an error message for the failed attempt")
	}
}

func TestProcessQueueFIFOAndBatchLimit(t *testing.T) {
	ctx := context.Background()
	proc, store, registry, l := queueFixture(t, 3)
	poster := &scriptedPoster{}
	registry.Register("mercari", poster)

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 4; i++ {
		item := &models.PostingQueueItem{
			ID:             string(rune('a' + i)),
			ListingID:      l.ID,
			UserID:         1,
			TargetPlatform: "mercari",
			Status:         models.QueuePending,
			MaxRetries:     3,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.InsertQueueItem(ctx, item); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, item.ID)
	}
	// One item scheduled in the future must not be picked up.
	future := time.Now().Add(time.Hour)
	deferred := &models.PostingQueueItem{
		ID: "z", ListingID: l.ID, UserID: 1, TargetPlatform: "mercari",
		Status: models.QueuePending, MaxRetries: 3,
		ScheduledAt: &future, CreatedAt: base,
	}
	if err := store.InsertQueueItem(ctx, deferred); err != nil {
		t.Fatal(err)
	}

	processed, err := proc.ProcessQueue(ctx, 3)
	if err != nil {
		t.Fatalf("process queue: %v", err)
	}
	if processed != 3 {
		t.Errorf("processed: got %d, want 3 (batch limit)", processed)
	}

	// Oldest three were posted, newest still pending, deferred untouched.
	for i, id := range ids {
		got, _ := store.GetQueueItem(ctx, id)
		if i < 3 && got.Status != models.QueuePosted {
			t.Errorf("item %s: status %s, want POSTED", id, got.Status)
		}
		if i == 3 && got.Status != models.QueuePending {
			t.Errorf("item %s: status %s, want PENDING", id, got.Status)
		}
	}
	got, _ := store.GetQueueItem(ctx, "z")
	if got.Status != models.QueuePending {
		t.Errorf("deferred item: status %s, want PENDING", got.Status)
	}
}

func TestGetQueueStats(t *testing.T) {
	ctx := context.Background()
	proc, store, _, l := queueFixture(t, 3)

	seed := []models.QueueStatus{
		models.QueuePending, models.QueuePending, models.QueuePosted, models.QueueFailed,
	}
	for i, status := range seed {
		item := &models.PostingQueueItem{
			ID: string(rune('a' + i)), ListingID: l.ID, UserID: 1,
			TargetPlatform: "mercari", Status: status, MaxRetries: 3,
			CreatedAt: time.Now(),
		}
		if err := store.InsertQueueItem(ctx, item); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := proc.GetQueueStats(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Pending != 2 || stats.Posted != 1 || stats.Failed != 1 || stats.Total != 4 {
		t.Errorf("stats: got %+v, want 2 pending, 1 posted, 1 failed, 4 total", stats)
	}
}

func TestEnqueueMissingListing(t *testing.T) {
	proc, _, _, _ := queueFixture(t, 3)
	if _, err := proc.Enqueue(context.Background(), 999, 1, "mercari"); err == nil {
		t.Error("enqueue of a missing listing must fail")
	}
}
