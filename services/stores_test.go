package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"flipfinder/models"
	"flipfinder/storage"
	"flipfinder/utils"
)

func newTestLogger() *utils.Logger { return utils.NewLogger(utils.LevelError) }

// memStore is an in-memory stand-in for the Postgres store, used across the
// service tests.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	listings map[int64]*models.Listing
	samples  []*models.SoldSample
	queue    map[string]*models.PostingQueueItem
}

func newMemStore() *memStore {
	return &memStore{
		listings: make(map[int64]*models.Listing),
		queue:    make(map[string]*models.PostingQueueItem),
	}
}

/* ---------- ListingStore ---------- */

func (m *memStore) UpsertListing(_ context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.listings {
		if existing.Platform == l.Platform && existing.ExternalID == l.ExternalID && existing.UserID == l.UserID {
			l.ID = existing.ID
			cp := *l
			// The Postgres ON CONFLICT update leaves these columns untouched.
			cp.Status = existing.Status
			cp.Notes = existing.Notes
			cp.RequestToBuy = existing.RequestToBuy
			cp.VerifiedMarketValue = existing.VerifiedMarketValue
			cp.MarketDataSource = existing.MarketDataSource
			cp.TrueDiscountPercent = existing.TrueDiscountPercent
			cp.CreatedAt = existing.CreatedAt
			m.listings[l.ID] = &cp
			return nil
		}
	}
	m.nextID++
	l.ID = m.nextID
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *memStore) GetListing(_ context.Context, id int64) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing %d: %w", id, storage.ErrNotFound)
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) FindByKey(_ context.Context, platform, externalID string, userID int64) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.listings {
		if l.Platform == platform && l.ExternalID == externalID && l.UserID == userID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("listing %s/%s: %w", platform, externalID, storage.ErrNotFound)
}

func (m *memStore) DeleteListing(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listings, id)
	return nil
}

func (m *memStore) Trackable(_ context.Context) ([]*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Listing
	for _, l := range m.listings {
		if !l.Status.IsTerminal() {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) OpportunityPage(_ context.Context, limit, offset int) ([]*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Listing
	for _, l := range m.listings {
		if l.Status == models.StatusOpportunity {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateListingStatus(_ context.Context, id int64, status models.ListingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return fmt.Errorf("listing %d: %w", id, storage.ErrNotFound)
	}
	l.Status = status
	return nil
}

func (m *memStore) UpdateListingPrice(_ context.Context, id int64, price float64, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return fmt.Errorf("listing %d: %w", id, storage.ErrNotFound)
	}
	l.AskingPrice = price
	l.Notes = notes
	return nil
}

func (m *memStore) UpdateVerifiedValue(_ context.Context, id int64, verified float64, source string, trueDiscount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return fmt.Errorf("listing %d: %w", id, storage.ErrNotFound)
	}
	l.VerifiedMarketValue = &verified
	l.MarketDataSource = source
	l.TrueDiscountPercent = &trueDiscount
	return nil
}

/* ---------- SoldSampleStore ---------- */

func (m *memStore) RecentSold(_ context.Context, productName, platform string, since time.Time, limit int) ([]*models.SoldSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(productName)
	var out []*models.SoldSample
	for _, s := range m.samples {
		if s.Platform != platform || s.SoldAt.Before(since) {
			continue
		}
		if !strings.Contains(strings.ToLower(s.ProductName), needle) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SoldAt.After(out[j].SoldAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) InsertSoldSamples(_ context.Context, samples []*models.SoldSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range samples {
		cp := *s
		cp.ID = int64(len(m.samples) + 1)
		m.samples = append(m.samples, &cp)
	}
	return nil
}

/* ---------- QueueStore ---------- */

func (m *memStore) InsertQueueItem(_ context.Context, item *models.PostingQueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.queue[item.ID] = &cp
	return nil
}

func (m *memStore) GetQueueItem(_ context.Context, id string) (*models.PostingQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.queue[id]
	if !ok {
		return nil, fmt.Errorf("queue item %s: %w", id, storage.ErrNotFound)
	}
	cp := *item
	return &cp, nil
}

func (m *memStore) UpdateQueueItem(_ context.Context, item *models.PostingQueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queue[item.ID]; !ok {
		return fmt.Errorf("queue item %s: %w", item.ID, storage.ErrNotFound)
	}
	cp := *item
	m.queue[item.ID] = &cp
	return nil
}

func (m *memStore) DuePending(_ context.Context, now time.Time, limit int) ([]*models.PostingQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PostingQueueItem
	for _, item := range m.queue {
		if item.Status != models.QueuePending {
			continue
		}
		if item.ScheduledAt != nil && item.ScheduledAt.After(now) {
			continue
		}
		cp := *item
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) QueueStats(_ context.Context, userID int64) (*models.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.QueueStats{}
	for _, item := range m.queue {
		if item.UserID != userID {
			continue
		}
		switch item.Status {
		case models.QueuePending:
			stats.Pending++
		case models.QueueInProgress:
			stats.InProgress++
		case models.QueuePosted:
			stats.Posted++
		case models.QueueFailed:
			stats.Failed++
		}
		stats.Total++
	}
	return stats, nil
}
