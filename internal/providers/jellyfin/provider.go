// Package jellyfin reads the played items of a Jellyfin user as watch history
package jellyfin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/models"
)

// ProviderID is the service id of Jellyfin items
const ProviderID = "jellyfin"

// Config holds the connection settings of a Jellyfin server
type Config struct {
	BaseURL  string
	APIKey   string
	UserID   string
	PageSize int
}

type userData struct {
	Played           bool    `json:"Played"`
	PlayedPercentage float64 `json:"PlayedPercentage"`
	LastPlayedDate   string  `json:"LastPlayedDate"`
}

// item is the subset of a Jellyfin BaseItemDto the provider reads
type item struct {
	ID                string   `json:"Id"`
	Name              string   `json:"Name"`
	Type              string   `json:"Type"`
	ProductionYear    int      `json:"ProductionYear"`
	SeriesID          string   `json:"SeriesId"`
	SeriesName        string   `json:"SeriesName"`
	ParentIndexNumber int      `json:"ParentIndexNumber"`
	IndexNumber       int      `json:"IndexNumber"`
	UserData          userData `json:"UserData"`
}

func (i *item) playedAt() int64 {
	if i.UserData.LastPlayedDate == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, i.UserData.LastPlayedDate)
	if err != nil {
		return 0
	}
	return t.Unix()
}

func (i *item) progress() float64 {
	if i.UserData.Played {
		return 100
	}
	return i.UserData.PlayedPercentage
}

func (i *item) historyID() string {
	return fmt.Sprintf("%s_%d", i.ID, i.playedAt())
}

type itemsResponse struct {
	Items            []json.RawMessage `json:"Items"`
	TotalRecordCount int               `json:"TotalRecordCount"`
}

// Provider implements providers.Provider over the Jellyfin REST API
type Provider struct {
	baseURL    string
	apiKey     string
	userID     string
	pageSize   int
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewProvider creates a Jellyfin provider
func NewProvider(cfg Config, logger *logrus.Logger) *Provider {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Provider{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		userID:     cfg.UserID,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// ID returns the provider id
func (p *Provider) ID() string {
	return ProviderID
}

// LoadHistoryItems fetches one page of played items, most recently played first
func (p *Provider) LoadHistoryItems(ctx context.Context, state *models.ProviderSessionState) ([]models.RawHistoryItem, error) {
	start := state.NextPage * p.pageSize

	query := url.Values{}
	query.Set("Filters", "IsPlayed")
	query.Set("Recursive", "true")
	query.Set("IncludeItemTypes", "Movie,Episode")
	query.Set("SortBy", "DatePlayed")
	query.Set("SortOrder", "Descending")
	query.Set("Fields", "ProductionYear")
	query.Set("StartIndex", strconv.Itoa(start))
	query.Set("Limit", strconv.Itoa(p.pageSize))

	var resp itemsResponse
	endpoint := fmt.Sprintf("/Users/%s/Items?%s", url.PathEscape(p.userID), query.Encode())
	if err := p.doRequest(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("failed to load played items: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"start": start,
		"count": len(resp.Items),
		"total": resp.TotalRecordCount,
	}).Debug("Loaded Jellyfin history page")

	state.NextPage++
	state.HasReachedHistoryEnd = len(resp.Items) == 0 || start+len(resp.Items) >= resp.TotalRecordCount

	raws := make([]models.RawHistoryItem, len(resp.Items))
	for i, raw := range resp.Items {
		raws[i] = models.RawHistoryItem(raw)
	}
	return raws, nil
}

// IsNewHistoryItem compares the last played time, falling back to history ids on equal times
func (p *Provider) IsNewHistoryItem(raw models.RawHistoryItem, sinceTimestamp int64, sinceID string) bool {
	it, err := decode(raw)
	if err != nil {
		return false
	}
	if ts := it.playedAt(); ts != sinceTimestamp {
		return ts > sinceTimestamp
	}
	return it.historyID() > sinceID
}

// HistoryItemID identifies one play of an item
func (p *Provider) HistoryItemID(raw models.RawHistoryItem) string {
	it, err := decode(raw)
	if err != nil {
		return ""
	}
	return it.historyID()
}

// ConvertHistoryItems converts played items into media items
func (p *Provider) ConvertHistoryItems(ctx context.Context, raws []models.RawHistoryItem) ([]*models.MediaItem, error) {
	items := make([]*models.MediaItem, 0, len(raws))
	for _, raw := range raws {
		it, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode played item: %w", err)
		}
		items = append(items, p.toMediaItem(it))
	}
	return items, nil
}

// UpdateItemFromHistory re-stamps the watched time and progress of item
func (p *Provider) UpdateItemFromHistory(item *models.MediaItem, raw models.RawHistoryItem) {
	it, err := decode(raw)
	if err != nil {
		return
	}
	item.WatchedAt = it.playedAt()
	item.Progress = it.progress()
}

// GetItem fetches a single item of the user library
func (p *Provider) GetItem(ctx context.Context, id string) (*models.MediaItem, error) {
	var it item
	endpoint := fmt.Sprintf("/Users/%s/Items/%s", url.PathEscape(p.userID), url.PathEscape(id))
	if err := p.doRequest(ctx, endpoint, &it); err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return p.toMediaItem(&it), nil
}

func (p *Provider) toMediaItem(it *item) *models.MediaItem {
	m := &models.MediaItem{
		ServiceID: ProviderID,
		ID:        it.ID,
		Title:     it.Name,
		Year:      it.ProductionYear,
		WatchedAt: it.playedAt(),
		Progress:  it.progress(),
	}
	if it.Type == "Episode" {
		m.Type = models.MediaTypeEpisode
		m.Season = it.ParentIndexNumber
		m.Number = it.IndexNumber
		m.Year = 0
		m.Show = &models.Show{ServiceID: ProviderID, ID: it.SeriesID, Title: it.SeriesName}
	} else {
		m.Type = models.MediaTypeMovie
	}
	return m
}

func decode(raw models.RawHistoryItem) (*item, error) {
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

// doRequest performs an authenticated GET request and decodes the JSON response
func (p *Provider) doRequest(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Emby-Token", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("jellyfin returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
