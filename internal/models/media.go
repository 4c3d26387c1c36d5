package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RawHistoryItem is a provider's native representation of one watched occurrence.
// The core never looks inside it.
type RawHistoryItem = json.RawMessage

// Show identifies the show an episode belongs to, as seen by the provider
type Show struct {
	ServiceID string `json:"serviceId"`
	ID        string `json:"id,omitempty"`
	Title     string `json:"title"`
}

// MediaItem is a normalized watch-history record produced by a provider
type MediaItem struct {
	ServiceID string    `json:"serviceId"`
	ID        string    `json:"id"`
	Type      MediaType `json:"type"`
	Title     string    `json:"title"`
	Year      int       `json:"year,omitempty"`

	// Episode specific fields
	Season int   `json:"season,omitempty"`
	Number int   `json:"number,omitempty"`
	Show   *Show `json:"show,omitempty"`

	WatchedAt int64   `json:"watchedAt,omitempty"` // unix seconds, 0 when unknown
	Progress  float64 `json:"progress"`            // percent watched, 0-100

	// Provider history record the item was loaded from
	HistoryID string `json:"historyId,omitempty"`

	// Position inside a sync store, stable once assigned
	Index    int  `json:"index"`
	Selected bool `json:"selected,omitempty"`

	Trakt *CatalogMatch `json:"trakt,omitempty"`
}

// DatabaseID returns the stable key identifying the item in every cache table
func (m *MediaItem) DatabaseID() string {
	id := m.ID
	if id == "" {
		id = strings.ReplaceAll(m.fullTitle(), " ", "-")
	}
	key := fmt.Sprintf("%s_%s_%s", m.ServiceID, m.Type, id)
	if m.Type == MediaTypeEpisode && (m.Season > 0 || m.Number > 0) {
		key = fmt.Sprintf("%s_%d_%d", key, m.Season, m.Number)
	}
	return strings.ToLower(key)
}

func (m *MediaItem) fullTitle() string {
	if m.Type == MediaTypeEpisode && m.Show != nil {
		return m.Show.Title + " " + m.Title
	}
	return m.Title
}

// IsMatched reports whether a canonical match was found for the item
func (m *MediaItem) IsMatched() bool {
	return m.Trakt != nil && m.Trakt.ID > 0
}

// IsCommitted reports whether the item already has a remote history record
func (m *MediaItem) IsCommitted() bool {
	return m.Trakt != nil && (m.Trakt.SyncID > 0 || m.Trakt.WatchStatus == WatchPresent)
}

// IsSelectable reports whether the item can be selected for a commit
func (m *MediaItem) IsSelectable() bool {
	return m.IsMatched() && !m.IsCommitted() && m.WatchedAt > 0
}

// Clone returns a deep copy of the item
func (m *MediaItem) Clone() *MediaItem {
	c := *m
	if m.Show != nil {
		show := *m.Show
		c.Show = &show
	}
	if m.Trakt != nil {
		c.Trakt = m.Trakt.Clone()
	}
	return &c
}

// CatalogShow is the canonical show an episode match belongs to
type CatalogShow struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Year  int    `json:"year,omitempty"`
}

// CatalogMatch is the canonical identity resolved from a MediaItem
type CatalogMatch struct {
	Type  MediaType    `json:"type"`
	ID    int64        `json:"id"`
	Title string       `json:"title"`
	Year  int          `json:"year,omitempty"`
	Slug  string       `json:"slug,omitempty"`
	Show  *CatalogShow `json:"show,omitempty"`

	Season int `json:"season,omitempty"`
	Number int `json:"number,omitempty"`

	// Sync bookkeeping, specific to one watched occurrence
	SyncID       int64       `json:"syncId,omitempty"`
	WatchStatus  WatchStatus `json:"watchStatus"`
	WatchedAt    int64       `json:"watchedAt,omitempty"`
	OtherWatches []int64     `json:"otherWatches,omitempty"`

	Confidence float64 `json:"confidence,omitempty"`
}

// DatabaseID returns the canonical key of the match
func (c *CatalogMatch) DatabaseID() string {
	return fmt.Sprintf("trakt_%s_%d", c.Type, c.ID)
}

// Clone returns a deep copy of the match
func (c *CatalogMatch) Clone() *CatalogMatch {
	m := *c
	if c.Show != nil {
		show := *c.Show
		m.Show = &show
	}
	if c.OtherWatches != nil {
		m.OtherWatches = append([]int64(nil), c.OtherWatches...)
	}
	return &m
}

// WithoutSyncState returns a copy stripped of the watch-session bookkeeping
func (c *CatalogMatch) WithoutSyncState() *CatalogMatch {
	m := c.Clone()
	m.ResetWatch()
	return m
}

// ResetWatch forgets everything known about the remote history of the match
func (c *CatalogMatch) ResetWatch() {
	c.SyncID = 0
	c.WatchStatus = WatchUnknown
	c.WatchedAt = 0
	c.OtherWatches = nil
}

// SetWatched records the remote history record matching this occurrence
func (c *CatalogMatch) SetWatched(syncID, watchedAt int64, others []int64) {
	c.SyncID = syncID
	c.WatchStatus = WatchPresent
	c.WatchedAt = watchedAt
	c.OtherWatches = others
}

// SetNotWatched records that the remote history has no record for this occurrence
func (c *CatalogMatch) SetNotWatched(others []int64) {
	c.SyncID = 0
	c.WatchStatus = WatchAbsent
	c.WatchedAt = 0
	c.OtherWatches = others
}
