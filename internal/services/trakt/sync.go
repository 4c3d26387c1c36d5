package trakt

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// SyncHistoryRequest represents the request body for /sync/history
type SyncHistoryRequest struct {
	Movies   []SyncItem `json:"movies,omitempty"`
	Episodes []SyncItem `json:"episodes,omitempty"`
}

// SyncItem is a movie or episode submitted to the history
type SyncItem struct {
	WatchedAt string `json:"watched_at,omitempty"` // ISO 8601 format
	IDs       IDs    `json:"ids"`
}

// NewSyncItem builds a history entry for the object with the given Trakt id
func NewSyncItem(traktID int64, watchedAt int64) SyncItem {
	item := SyncItem{IDs: IDs{Trakt: traktID}}
	if watchedAt > 0 {
		item.WatchedAt = time.Unix(watchedAt, 0).UTC().Format(time.RFC3339)
	}
	return item
}

// SyncHistoryResponse represents the response from /sync/history
type SyncHistoryResponse struct {
	Added struct {
		Movies   int `json:"movies"`
		Episodes int `json:"episodes"`
	} `json:"added"`
	NotFound struct {
		Movies   []SyncItem `json:"movies"`
		Episodes []SyncItem `json:"episodes"`
	} `json:"not_found"`
}

// NotFoundMovies returns the Trakt ids of the movies Trakt rejected
func (r *SyncHistoryResponse) NotFoundMovies() map[int64]bool {
	return idSet(r.NotFound.Movies)
}

// NotFoundEpisodes returns the Trakt ids of the episodes Trakt rejected
func (r *SyncHistoryResponse) NotFoundEpisodes() map[int64]bool {
	return idSet(r.NotFound.Episodes)
}

func idSet(items []SyncItem) map[int64]bool {
	set := make(map[int64]bool, len(items))
	for _, item := range items {
		set[item.IDs.Trakt] = true
	}
	return set
}

// AddToHistory adds movies and/or episodes to the user's watch history in one request
func (c *Client) AddToHistory(ctx context.Context, request SyncHistoryRequest) (*SyncHistoryResponse, error) {
	var resp SyncHistoryResponse
	if err := c.doRequest(ctx, http.MethodPost, "/sync/history", request, &resp); err != nil {
		return nil, fmt.Errorf("failed to add to history: %w", err)
	}
	return &resp, nil
}

// HistoryRecord is one watch of an object in the user's history
type HistoryRecord struct {
	ID        int64     `json:"id"`
	WatchedAt time.Time `json:"watched_at"`
	Action    string    `json:"action"`
	Type      string    `json:"type"`
}

// GetHistory retrieves every watch of one movie or episode. historyType is "movies" or "episodes".
func (c *Client) GetHistory(ctx context.Context, historyType string, traktID int64) ([]HistoryRecord, error) {
	path := fmt.Sprintf("/sync/history/%s/%d?limit=1000", historyType, traktID)

	var records []HistoryRecord
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, fmt.Errorf("failed to get watched history: %w", err)
	}
	return records, nil
}

// RemoveHistoryResponse represents the response from /sync/history/remove
type RemoveHistoryResponse struct {
	Deleted struct {
		Movies   int `json:"movies"`
		Episodes int `json:"episodes"`
	} `json:"deleted"`
	NotFound struct {
		IDs []int64 `json:"ids"`
	} `json:"not_found"`
}

// RemoveFromHistory deletes history records by their history ids
func (c *Client) RemoveFromHistory(ctx context.Context, historyIDs []int64) (*RemoveHistoryResponse, error) {
	body := map[string][]int64{"ids": historyIDs}

	var resp RemoveHistoryResponse
	if err := c.doRequest(ctx, http.MethodPost, "/sync/history/remove", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to remove from history: %w", err)
	}
	return &resp, nil
}
