// Package providertest provides an in-memory provider for tests
package providertest

import (
	"context"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/amaumene/scrobblarr/internal/models"
)

// RawItem is the raw history record format of the fake provider
type RawItem struct {
	HistoryID string  `json:"historyId"`
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Year      int     `json:"year,omitempty"`
	Show      string  `json:"show,omitempty"`
	Season    int     `json:"season,omitempty"`
	Number    int     `json:"number,omitempty"`
	WatchedAt int64   `json:"watchedAt"`
	Progress  float64 `json:"progress"`
}

// Raw encodes item
func Raw(item RawItem) models.RawHistoryItem {
	if item.Progress == 0 {
		item.Progress = 100
	}
	data, _ := json.Marshal(item)
	return data
}

// Movie builds a raw movie record
func Movie(historyID, title string, year int, watchedAt int64) models.RawHistoryItem {
	return Raw(RawItem{
		HistoryID: historyID,
		Type:      string(models.MediaTypeMovie),
		ID:        slug(title),
		Title:     title,
		Year:      year,
		WatchedAt: watchedAt,
	})
}

// Episode builds a raw episode record
func Episode(historyID, show string, season, number int, title string, watchedAt int64) models.RawHistoryItem {
	return Raw(RawItem{
		HistoryID: historyID,
		Type:      string(models.MediaTypeEpisode),
		ID:        slug(show + " " + title),
		Title:     title,
		Show:      show,
		Season:    season,
		Number:    number,
		WatchedAt: watchedAt,
	})
}

func slug(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "-"))
}

func decode(raw models.RawHistoryItem) RawItem {
	var item RawItem
	_ = json.Unmarshal(raw, &item)
	return item
}

// Provider serves fixed pages of raw history
type Provider struct {
	mu sync.Mutex
	id string

	Pages      [][]models.RawHistoryItem
	LoadErr    error
	ConvertErr error
	Items      map[string]*models.MediaItem

	// Block makes LoadHistoryItems wait for its context to be canceled.
	// Started is closed once a blocked call is waiting.
	Block   bool
	Started chan struct{}

	LoadCalls    int
	ConvertCalls int
	Converted    []string
}

// New creates a provider without history
func New(id string, pages ...[]models.RawHistoryItem) *Provider {
	return &Provider{
		id:      id,
		Pages:   pages,
		Items:   make(map[string]*models.MediaItem),
		Started: make(chan struct{}),
	}
}

// ID returns the provider id
func (p *Provider) ID() string {
	return p.id
}

// LoadHistoryItems returns the page at state.NextPage
func (p *Provider) LoadHistoryItems(ctx context.Context, state *models.ProviderSessionState) ([]models.RawHistoryItem, error) {
	p.mu.Lock()
	p.LoadCalls++
	block := p.Block
	err := p.LoadErr
	p.mu.Unlock()

	if block {
		close(p.Started)
		<-ctx.Done()
		return nil, context.Cause(ctx)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if state.NextPage >= len(p.Pages) {
		state.HasReachedHistoryEnd = true
		return nil, nil
	}
	page := append([]models.RawHistoryItem(nil), p.Pages[state.NextPage]...)
	state.NextPage++
	state.HasReachedHistoryEnd = state.NextPage >= len(p.Pages)
	return page, nil
}

// IsNewHistoryItem compares watched times, falling back to history ids on equal times
func (p *Provider) IsNewHistoryItem(raw models.RawHistoryItem, sinceTimestamp int64, sinceID string) bool {
	item := decode(raw)
	if item.WatchedAt != sinceTimestamp {
		return item.WatchedAt > sinceTimestamp
	}
	return item.HistoryID > sinceID
}

// HistoryItemID returns the history id of raw
func (p *Provider) HistoryItemID(raw models.RawHistoryItem) string {
	return decode(raw).HistoryID
}

// ConvertHistoryItems converts raw records into media items
func (p *Provider) ConvertHistoryItems(ctx context.Context, raws []models.RawHistoryItem) ([]*models.MediaItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConvertCalls++
	if p.ConvertErr != nil {
		return nil, p.ConvertErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := make([]*models.MediaItem, 0, len(raws))
	for _, raw := range raws {
		r := decode(raw)
		p.Converted = append(p.Converted, r.HistoryID)
		item := &models.MediaItem{
			ServiceID: p.id,
			ID:        r.ID,
			Type:      models.MediaType(r.Type),
			Title:     r.Title,
			Year:      r.Year,
			Season:    r.Season,
			Number:    r.Number,
		}
		if r.Show != "" {
			item.Show = &models.Show{ServiceID: p.id, Title: r.Show}
		}
		p.updateItem(item, r)
		items = append(items, item)
	}
	return items, nil
}

// UpdateItemFromHistory re-stamps item from raw
func (p *Provider) UpdateItemFromHistory(item *models.MediaItem, raw models.RawHistoryItem) {
	p.updateItem(item, decode(raw))
}

func (p *Provider) updateItem(item *models.MediaItem, r RawItem) {
	item.WatchedAt = r.WatchedAt
	item.Progress = r.Progress
}

// GetItem returns the item registered under id
func (p *Provider) GetItem(ctx context.Context, id string) (*models.MediaItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.Items[id]
	if !ok {
		return nil, nil
	}
	return item.Clone(), nil
}

// SetLoadErr makes the next page loads fail with err
func (p *Provider) SetLoadErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LoadErr = err
}
