package models

import "time"

// ProviderSessionState holds the pagination cursor of one provider for one session.
// It is passed into and returned from every history load instead of living on the provider.
type ProviderSessionState struct {
	NextPage               int              `json:"nextPage"`
	NextURL                string           `json:"nextUrl,omitempty"`
	HasReachedHistoryEnd   bool             `json:"hasReachedHistoryEnd"`
	HasReachedLastSyncDate bool             `json:"hasReachedLastSyncDate"`
	HasCheckedHistoryCache bool             `json:"hasCheckedHistoryCache"`
	LeftoverItems          []RawHistoryItem `json:"leftoverItems,omitempty"`

	// Every raw item fetched this session, in order. Persisted as the
	// front-of-history snapshot for the next session.
	Fetched []RawHistoryItem `json:"fetched,omitempty"`
}

// HasReachedEnd reports whether there is nothing left to load this session
func (s *ProviderSessionState) HasReachedEnd() bool {
	return (len(s.LeftoverItems) == 0 && s.HasReachedHistoryEnd) || s.HasReachedLastSyncDate
}

// Clone returns a copy that can be mutated without affecting s
func (s *ProviderSessionState) Clone() *ProviderSessionState {
	c := *s
	c.LeftoverItems = append([]RawHistoryItem(nil), s.LeftoverItems...)
	c.Fetched = append([]RawHistoryItem(nil), s.Fetched...)
	return &c
}

// ServiceData is the persisted front-of-history snapshot of a provider
type ServiceData struct {
	NextPage             int              `json:"nextPage"`
	NextURL              string           `json:"nextUrl,omitempty"`
	HasReachedHistoryEnd bool             `json:"hasReachedHistoryEnd"`
	Items                []RawHistoryItem `json:"items,omitempty"`

	// Recency signal of Items[0], used to decide whether the snapshot is stale
	FirstWatchedAt int64  `json:"firstWatchedAt,omitempty"`
	FirstID        string `json:"firstId,omitempty"`
}

// ResumeState is the persisted per-provider resumption record
type ResumeState struct {
	ProviderID           string `boltholdKey:"ProviderID"`
	LastSyncTimestamp    int64
	LastSyncID           string
	AutoSyncEnabled      bool `boltholdIndex:"AutoSyncEnabled"`
	AutoSyncIntervalDays int

	// Bookkeeping of the last auto-sync pass
	LastCheckedAt time.Time
	Failed        bool
	FailureReason string
	UpdatedAt     time.Time
}

// IsDue reports whether an auto-sync pass should run for the provider
func (r *ResumeState) IsDue(now time.Time) bool {
	if !r.AutoSyncEnabled {
		return false
	}
	if r.LastCheckedAt.IsZero() || r.Failed {
		return true
	}
	interval := time.Duration(r.AutoSyncIntervalDays) * 24 * time.Hour
	return now.Sub(r.LastCheckedAt) >= interval
}

// Correction pins a provider item to an exact canonical identity
type Correction struct {
	DatabaseID string    `boltholdKey:"DatabaseID"`
	Type       MediaType // canonical type, required with TraktID
	TraktID    int64
	URL        string // canonical URL, used when TraktID is 0
	Source     CorrectionSource
	CreatedAt  time.Time
}

// IsURL reports whether the correction resolves by canonical URL
func (c *Correction) IsURL() bool {
	return c.TraktID == 0 && c.URL != ""
}
