// Package posters implements platform posters for the cross-posting queue.
// Each marketplace gets one HTTPPoster pointed at its listing-creation
// endpoint; the queue processor selects them by platform name.
package posters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"flipfinder/models"
	"flipfinder/utils"
)

// HTTPPoster posts a listing as JSON to a marketplace endpoint with bearer
// auth. A non-2xx response counts as a failed attempt and is retried by the
// queue processor, not here.
type HTTPPoster struct {
	platform string
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *utils.Logger
}

// NewHTTPPoster creates a poster for one target platform.
func NewHTTPPoster(platform, endpoint, apiKey string, timeout time.Duration, logger *utils.Logger) *HTTPPoster {
	return &HTTPPoster{
		platform: platform,
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// listingPayload is the wire shape marketplace listing APIs accept.
type listingPayload struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price"`
	Condition   string   `json:"condition,omitempty"`
	Category    string   `json:"category,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
	Location    string   `json:"location,omitempty"`
}

// postResponse is the subset of the create-listing response we rely on.
type postResponse struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Post submits the listing and maps the response to a PostResult.
func (p *HTTPPoster) Post(ctx context.Context, listing *models.Listing, item *models.PostingQueueItem) (*models.PostResult, error) {
	payload := listingPayload{
		Title:       listing.Title,
		Description: listing.Description,
		Price:       listing.AskingPrice,
		Condition:   listing.Condition,
		Category:    listing.Category,
		ImageURLs:   listing.ImageURLs,
		Location:    listing.Location,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("poster %s: marshal payload: %w", p.platform, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("poster %s: build request: %w", p.platform, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poster %s: request: %w", p.platform, err)
	}
	defer resp.Body.Close()

	var decoded postResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("poster %s: decode response: %w", p.platform, err)
	}

	if resp.StatusCode >= 300 {
		msg := decoded.Error
		if msg == "" {
			msg = fmt.Sprintf("API returned %d", resp.StatusCode)
		}
		p.logger.Warn("[poster] %s rejected listing %d: %s", p.platform, listing.ID, msg)
		return &models.PostResult{Success: false, ErrorMessage: msg}, nil
	}

	p.logger.Info("[poster] %s accepted listing %d as %s", p.platform, listing.ID, decoded.ID)
	return &models.PostResult{
		Success:         true,
		ExternalPostID:  decoded.ID,
		ExternalPostURL: decoded.URL,
	}, nil
}
