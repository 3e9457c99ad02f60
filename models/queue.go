package models

import "time"

// QueueStatus is the lifecycle state of a cross-posting request.
type QueueStatus string

const (
	QueuePending    QueueStatus = "PENDING"
	QueueInProgress QueueStatus = "IN_PROGRESS"
	QueuePosted     QueueStatus = "POSTED"
	QueueFailed     QueueStatus = "FAILED"
)

// PostingQueueItem is a request to cross-post a listing to another platform.
// FAILED is reached only after exhausting retries, or immediately when no
// poster is registered for TargetPlatform.
type PostingQueueItem struct {
	ID             string
	ListingID      int64
	UserID         int64
	TargetPlatform string
	Status         QueueStatus
	RetryCount     int
	MaxRetries     int

	ExternalPostID  string
	ExternalPostURL string
	ErrorMessage    string

	ScheduledAt *time.Time
	PostedAt    *time.Time
	CreatedAt   time.Time
}

// PostResult is what a platform poster reports back for one attempt.
type PostResult struct {
	Success         bool
	ExternalPostID  string
	ExternalPostURL string
	ErrorMessage    string
}

// QueueStats holds per-status counts for one user's posting queue.
type QueueStats struct {
	Pending    int
	InProgress int
	Posted     int
	Failed     int
	Total      int
}
