package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"flipfinder/models"
)

// PostgresStore persists listings, sold samples and the posting queue.
// It implements ListingStore, SoldSampleStore and QueueStore.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection, runs schema migrations and returns a
// ready-to-use store.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	st := &PostgresStore{db: db}
	if err := st.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return st, nil
}

func (st *PostgresStore) migrate() error {
	_, err := st.db.Exec(`
		CREATE TABLE IF NOT EXISTS listings (
			id                    BIGSERIAL PRIMARY KEY,
			user_id               BIGINT       NOT NULL,
			platform              VARCHAR(50)  NOT NULL,
			external_id           VARCHAR(255) NOT NULL,
			title                 TEXT         NOT NULL,
			description           TEXT         NOT NULL DEFAULT '',
			asking_price          NUMERIC(12,2) NOT NULL DEFAULT 0,
			condition             VARCHAR(50)  NOT NULL DEFAULT '',
			category              VARCHAR(50)  NOT NULL DEFAULT '',
			status                VARCHAR(20)  NOT NULL DEFAULT 'NEW',
			estimated_value       NUMERIC(12,2) NOT NULL DEFAULT 0,
			estimated_low         NUMERIC(12,2) NOT NULL DEFAULT 0,
			estimated_high        NUMERIC(12,2) NOT NULL DEFAULT 0,
			profit_potential      NUMERIC(12,2) NOT NULL DEFAULT 0,
			profit_low            NUMERIC(12,2) NOT NULL DEFAULT 0,
			profit_high           NUMERIC(12,2) NOT NULL DEFAULT 0,
			value_score           NUMERIC(5,1) NOT NULL DEFAULT 0,
			discount_percent      NUMERIC(5,1) NOT NULL DEFAULT 0,
			resale_difficulty     VARCHAR(20)  NOT NULL DEFAULT '',
			confidence            VARCHAR(20)  NOT NULL DEFAULT '',
			verified_market_value NUMERIC(12,2),
			market_data_source    VARCHAR(100) NOT NULL DEFAULT '',
			true_discount_percent NUMERIC(5,1),
			comparable_urls       JSONB        NOT NULL DEFAULT '[]',
			tags                  JSONB        NOT NULL DEFAULT '[]',
			image_urls            JSONB        NOT NULL DEFAULT '[]',
			notes                 TEXT         NOT NULL DEFAULT '',
			request_to_buy        BOOLEAN      NOT NULL DEFAULT FALSE,
			url                   TEXT         NOT NULL DEFAULT '',
			location              TEXT         NOT NULL DEFAULT '',
			created_at            TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at            TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			UNIQUE (platform, external_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_listings_status   ON listings(status);
		CREATE INDEX IF NOT EXISTS idx_listings_platform ON listings(platform);
		CREATE INDEX IF NOT EXISTS idx_listings_score    ON listings(value_score);

		CREATE TABLE IF NOT EXISTS sold_samples (
			id           BIGSERIAL PRIMARY KEY,
			product_name TEXT          NOT NULL,
			platform     VARCHAR(50)   NOT NULL,
			sold_price   NUMERIC(12,2) NOT NULL,
			sold_at      TIMESTAMPTZ   NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sold_samples_platform ON sold_samples(platform, sold_at);

		CREATE TABLE IF NOT EXISTS posting_queue (
			id                VARCHAR(36) PRIMARY KEY,
			listing_id        BIGINT      NOT NULL,
			user_id           BIGINT      NOT NULL,
			target_platform   VARCHAR(50) NOT NULL,
			status            VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			retry_count       INT         NOT NULL DEFAULT 0,
			max_retries       INT         NOT NULL DEFAULT 3,
			external_post_id  VARCHAR(255) NOT NULL DEFAULT '',
			external_post_url TEXT        NOT NULL DEFAULT '',
			error_message     TEXT        NOT NULL DEFAULT '',
			scheduled_at      TIMESTAMPTZ,
			posted_at         TIMESTAMPTZ,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_posting_queue_status ON posting_queue(status, created_at);
	`)
	return err
}

func (st *PostgresStore) Close() error {
	return st.db.Close()
}

/* ---------- JSON codec for []string columns ---------- */

// encodeStrings serialises a string slice for a JSONB column. The codec lives
// here at the storage boundary; business logic only ever sees []string.
func encodeStrings(s []string) ([]byte, error) {
	if s == nil {
		s = []string{}
	}
	return json.Marshal(s)
}

func decodeStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s []string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s, nil
}

/* ---------- ListingStore ---------- */

const listingColumns = `id, user_id, platform, external_id, title, description, asking_price,
	condition, category, status, estimated_value, estimated_low, estimated_high,
	profit_potential, profit_low, profit_high, value_score, discount_percent,
	resale_difficulty, confidence, verified_market_value, market_data_source,
	true_discount_percent, comparable_urls, tags, image_urls, notes,
	request_to_buy, url, location, created_at, updated_at`

func scanListing(row interface{ Scan(...any) error }) (*models.Listing, error) {
	l := &models.Listing{}
	var comparables, tags, images []byte
	var verified sql.NullFloat64
	var trueDiscount sql.NullFloat64
	err := row.Scan(
		&l.ID, &l.UserID, &l.Platform, &l.ExternalID, &l.Title, &l.Description, &l.AskingPrice,
		&l.Condition, &l.Category, &l.Status, &l.EstimatedValue, &l.EstimatedLow, &l.EstimatedHigh,
		&l.ProfitPotential, &l.ProfitLow, &l.ProfitHigh, &l.ValueScore, &l.DiscountPercent,
		&l.ResaleDifficulty, &l.Confidence, &verified, &l.MarketDataSource,
		&trueDiscount, &comparables, &tags, &images, &l.Notes,
		&l.RequestToBuy, &l.URL, &l.Location, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if verified.Valid {
		l.VerifiedMarketValue = &verified.Float64
	}
	if trueDiscount.Valid {
		l.TrueDiscountPercent = &trueDiscount.Float64
	}
	if l.ComparableURLs, err = decodeStrings(comparables); err != nil {
		return nil, fmt.Errorf("postgres: decode comparable_urls: %w", err)
	}
	if l.Tags, err = decodeStrings(tags); err != nil {
		return nil, fmt.Errorf("postgres: decode tags: %w", err)
	}
	if l.ImageURLs, err = decodeStrings(images); err != nil {
		return nil, fmt.Errorf("postgres: decode image_urls: %w", err)
	}
	return l, nil
}

// UpsertListing inserts or refreshes a row on the (platform, external_id,
// user_id) key and fills in the generated ID.
func (st *PostgresStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	comparables, err := encodeStrings(l.ComparableURLs)
	if err != nil {
		return fmt.Errorf("postgres: encode comparable_urls: %w", err)
	}
	tags, err := encodeStrings(l.Tags)
	if err != nil {
		return fmt.Errorf("postgres: encode tags: %w", err)
	}
	images, err := encodeStrings(l.ImageURLs)
	if err != nil {
		return fmt.Errorf("postgres: encode image_urls: %w", err)
	}

	return st.db.QueryRowContext(ctx, `
		INSERT INTO listings (
			user_id, platform, external_id, title, description, asking_price,
			condition, category, status, estimated_value, estimated_low, estimated_high,
			profit_potential, profit_low, profit_high, value_score, discount_percent,
			resale_difficulty, confidence, comparable_urls, tags, image_urls,
			notes, request_to_buy, url, location
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
		ON CONFLICT (platform, external_id, user_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			asking_price = EXCLUDED.asking_price,
			condition = EXCLUDED.condition,
			category = EXCLUDED.category,
			estimated_value = EXCLUDED.estimated_value,
			estimated_low = EXCLUDED.estimated_low,
			estimated_high = EXCLUDED.estimated_high,
			profit_potential = EXCLUDED.profit_potential,
			profit_low = EXCLUDED.profit_low,
			profit_high = EXCLUDED.profit_high,
			value_score = EXCLUDED.value_score,
			discount_percent = EXCLUDED.discount_percent,
			resale_difficulty = EXCLUDED.resale_difficulty,
			confidence = EXCLUDED.confidence,
			comparable_urls = EXCLUDED.comparable_urls,
			tags = EXCLUDED.tags,
			image_urls = EXCLUDED.image_urls,
			url = EXCLUDED.url,
			location = EXCLUDED.location,
			updated_at = NOW()
		RETURNING id
	`,
		l.UserID, l.Platform, l.ExternalID, l.Title, l.Description, l.AskingPrice,
		l.Condition, l.Category, l.Status, l.EstimatedValue, l.EstimatedLow, l.EstimatedHigh,
		l.ProfitPotential, l.ProfitLow, l.ProfitHigh, l.ValueScore, l.DiscountPercent,
		l.ResaleDifficulty, l.Confidence, comparables, tags, images,
		l.Notes, l.RequestToBuy, l.URL, l.Location,
	).Scan(&l.ID)
}

func (st *PostgresStore) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	row := st.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("listing %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get listing: %w", err)
	}
	return l, nil
}

func (st *PostgresStore) FindByKey(ctx context.Context, platform, externalID string, userID int64) (*models.Listing, error) {
	row := st.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE platform = $1 AND external_id = $2 AND user_id = $3`,
		platform, externalID, userID)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("listing %s/%s: %w", platform, externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find listing: %w", err)
	}
	return l, nil
}

func (st *PostgresStore) DeleteListing(ctx context.Context, id int64) error {
	_, err := st.db.ExecContext(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete listing: %w", err)
	}
	return nil
}

func (st *PostgresStore) queryListings(ctx context.Context, query string, args ...any) ([]*models.Listing, error) {
	rows, err := st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query listings: %w", err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (st *PostgresStore) Trackable(ctx context.Context) ([]*models.Listing, error) {
	statuses := make([]string, 0, len(models.TrackableStatuses))
	for _, s := range models.TrackableStatuses {
		statuses = append(statuses, "'"+string(s)+"'")
	}
	return st.queryListings(ctx,
		`SELECT `+listingColumns+` FROM listings
		 WHERE status IN (`+strings.Join(statuses, ",")+`) AND url <> ''
		 ORDER BY id`)
}

func (st *PostgresStore) OpportunityPage(ctx context.Context, limit, offset int) ([]*models.Listing, error) {
	return st.queryListings(ctx,
		`SELECT `+listingColumns+` FROM listings
		 WHERE status = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		models.StatusOpportunity, limit, offset)
}

// ListingFilter selects stored listings by optional criteria. Zero-valued
// fields are ignored.
type ListingFilter struct {
	Platform string
	Status   models.ListingStatus
	MinScore float64
	MinPrice float64
	MaxPrice float64
	Limit    int
	Offset   int
}

// FilterListings applies optional filters with limit/offset pagination.
func (st *PostgresStore) FilterListings(ctx context.Context, f ListingFilter) ([]*models.Listing, error) {
	var conds []string
	var args []any
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Platform != "" {
		add("platform = $%d", f.Platform)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.MinScore > 0 {
		add("value_score >= $%d", f.MinScore)
	}
	if f.MinPrice > 0 {
		add("asking_price >= $%d", f.MinPrice)
	}
	if f.MaxPrice > 0 {
		add("asking_price <= $%d", f.MaxPrice)
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY value_score DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	return st.queryListings(ctx, query, args...)
}

func (st *PostgresStore) UpdateListingStatus(ctx context.Context, id int64, status models.ListingStatus) error {
	_, err := st.db.ExecContext(ctx,
		`UPDATE listings SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("postgres: update status: %w", err)
	}
	return nil
}

func (st *PostgresStore) UpdateListingPrice(ctx context.Context, id int64, price float64, notes string) error {
	_, err := st.db.ExecContext(ctx,
		`UPDATE listings SET asking_price = $1, notes = $2, updated_at = NOW() WHERE id = $3`,
		price, notes, id)
	if err != nil {
		return fmt.Errorf("postgres: update price: %w", err)
	}
	return nil
}

func (st *PostgresStore) UpdateVerifiedValue(ctx context.Context, id int64, verified float64, source string, trueDiscount float64) error {
	_, err := st.db.ExecContext(ctx,
		`UPDATE listings
		 SET verified_market_value = $1, market_data_source = $2, true_discount_percent = $3, updated_at = NOW()
		 WHERE id = $4`,
		verified, source, trueDiscount, id)
	if err != nil {
		return fmt.Errorf("postgres: update verified value: %w", err)
	}
	return nil
}

/* ---------- SoldSampleStore ---------- */

func (st *PostgresStore) RecentSold(ctx context.Context, productName, platform string, since time.Time, limit int) ([]*models.SoldSample, error) {
	rows, err := st.db.QueryContext(ctx, `
		SELECT id, product_name, platform, sold_price, sold_at
		FROM sold_samples
		WHERE product_name ILIKE '%' || $1 || '%'
		  AND platform = $2
		  AND sold_at >= $3
		ORDER BY sold_at DESC
		LIMIT $4
	`, productName, platform, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent sold: %w", err)
	}
	defer rows.Close()

	var samples []*models.SoldSample
	for rows.Next() {
		s := &models.SoldSample{}
		if err := rows.Scan(&s.ID, &s.ProductName, &s.Platform, &s.SoldPrice, &s.SoldAt); err != nil {
			return nil, fmt.Errorf("postgres: scan sample: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// InsertSoldSamples batch-inserts sold-price observations.
func (st *PostgresStore) InsertSoldSamples(ctx context.Context, samples []*models.SoldSample) error {
	if len(samples) == 0 {
		return nil
	}

	const batchSize = 50
	for i := 0; i < len(samples); i += batchSize {
		end := i + batchSize
		if end > len(samples) {
			end = len(samples)
		}
		if err := st.insertSampleBatch(ctx, samples[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (st *PostgresStore) insertSampleBatch(ctx context.Context, batch []*models.SoldSample) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*4)

	for idx, s := range batch {
		base := idx * 4
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4))
		valueArgs = append(valueArgs, s.ProductName, s.Platform, s.SoldPrice, s.SoldAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO sold_samples (product_name, platform, sold_price, sold_at)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	_, err := st.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		return fmt.Errorf("postgres: insert samples: %w", err)
	}
	return nil
}

/* ---------- QueueStore ---------- */

func (st *PostgresStore) InsertQueueItem(ctx context.Context, item *models.PostingQueueItem) error {
	_, err := st.db.ExecContext(ctx, `
		INSERT INTO posting_queue (
			id, listing_id, user_id, target_platform, status, retry_count, max_retries,
			external_post_id, external_post_url, error_message, scheduled_at, posted_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		item.ID, item.ListingID, item.UserID, item.TargetPlatform, item.Status,
		item.RetryCount, item.MaxRetries, item.ExternalPostID, item.ExternalPostURL,
		item.ErrorMessage, item.ScheduledAt, item.PostedAt, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert queue item: %w", err)
	}
	return nil
}

func (st *PostgresStore) GetQueueItem(ctx context.Context, id string) (*models.PostingQueueItem, error) {
	item := &models.PostingQueueItem{}
	err := st.db.QueryRowContext(ctx, `
		SELECT id, listing_id, user_id, target_platform, status, retry_count, max_retries,
		       external_post_id, external_post_url, error_message, scheduled_at, posted_at, created_at
		FROM posting_queue WHERE id = $1
	`, id).Scan(
		&item.ID, &item.ListingID, &item.UserID, &item.TargetPlatform, &item.Status,
		&item.RetryCount, &item.MaxRetries, &item.ExternalPostID, &item.ExternalPostURL,
		&item.ErrorMessage, &item.ScheduledAt, &item.PostedAt, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("queue item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get queue item: %w", err)
	}
	return item, nil
}

func (st *PostgresStore) UpdateQueueItem(ctx context.Context, item *models.PostingQueueItem) error {
	_, err := st.db.ExecContext(ctx, `
		UPDATE posting_queue
		SET status = $1, retry_count = $2, external_post_id = $3, external_post_url = $4,
		    error_message = $5, scheduled_at = $6, posted_at = $7
		WHERE id = $8
	`,
		item.Status, item.RetryCount, item.ExternalPostID, item.ExternalPostURL,
		item.ErrorMessage, item.ScheduledAt, item.PostedAt, item.ID)
	if err != nil {
		return fmt.Errorf("postgres: update queue item: %w", err)
	}
	return nil
}

func (st *PostgresStore) DuePending(ctx context.Context, now time.Time, limit int) ([]*models.PostingQueueItem, error) {
	rows, err := st.db.QueryContext(ctx, `
		SELECT id, listing_id, user_id, target_platform, status, retry_count, max_retries,
		       external_post_id, external_post_url, error_message, scheduled_at, posted_at, created_at
		FROM posting_queue
		WHERE status = $1 AND (scheduled_at IS NULL OR scheduled_at <= $2)
		ORDER BY created_at ASC
		LIMIT $3
	`, models.QueuePending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: due pending: %w", err)
	}
	defer rows.Close()

	var items []*models.PostingQueueItem
	for rows.Next() {
		item := &models.PostingQueueItem{}
		if err := rows.Scan(
			&item.ID, &item.ListingID, &item.UserID, &item.TargetPlatform, &item.Status,
			&item.RetryCount, &item.MaxRetries, &item.ExternalPostID, &item.ExternalPostURL,
			&item.ErrorMessage, &item.ScheduledAt, &item.PostedAt, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (st *PostgresStore) QueueStats(ctx context.Context, userID int64) (*models.QueueStats, error) {
	rows, err := st.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM posting_queue WHERE user_id = $1 GROUP BY status
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: queue stats: %w", err)
	}
	defer rows.Close()

	stats := &models.QueueStats{}
	for rows.Next() {
		var status models.QueueStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("postgres: scan stats: %w", err)
		}
		switch status {
		case models.QueuePending:
			stats.Pending = count
		case models.QueueInProgress:
			stats.InProgress = count
		case models.QueuePosted:
			stats.Posted = count
		case models.QueueFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}
