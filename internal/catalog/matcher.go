// Package catalog resolves provider media items to their canonical Trakt identity
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amaumene/scrobblarr/internal/cache"
	"github.com/amaumene/scrobblarr/internal/cancel"
	"github.com/amaumene/scrobblarr/internal/metrics"
	"github.com/amaumene/scrobblarr/internal/models"
	"github.com/amaumene/scrobblarr/internal/services/trakt"
	"github.com/amaumene/scrobblarr/internal/utils"
)

// ErrNotFound is returned when the catalog has no object for an exact lookup
var ErrNotFound = errors.New("not found in catalog")

var tracer = otel.Tracer("github.com/amaumene/scrobblarr/internal/catalog")

// Tables is the set of cache tables the matcher reads and writes
var Tables = []string{cache.TableItemsToTraktItems, cache.TableTraktItems, cache.TableURLsToTraktItems}

// Client is the part of the Trakt API the matcher uses
type Client interface {
	Search(ctx context.Context, searchType, query string, extended bool) ([]trakt.SearchResult, error)
	SearchExact(ctx context.Context, searchType string, traktID int64) (*trakt.SearchResult, error)
	GetEpisode(ctx context.Context, showID string, season, number int) (*trakt.Episode, error)
	ResolveURL(ctx context.Context, rawURL string) (*trakt.SearchResult, error)
}

// Result is the outcome of matching one item in a batch
type Result struct {
	Match *models.CatalogMatch // nil when nothing matched
	Err   error
}

// Matcher finds canonical matches, consulting corrections and the cache before searching
type Matcher struct {
	client      Client
	store       cache.Store
	corrections CorrectionSource
	concurrency int
	logger      *logrus.Logger
}

// NewMatcher creates a new matcher. corrections may be nil.
func NewMatcher(client Client, store cache.Store, corrections CorrectionSource, concurrency int, logger *logrus.Logger) *Matcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Matcher{
		client:      client,
		store:       store,
		corrections: corrections,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Find resolves item. A correction, when given, fully determines the target.
// A fuzzy search without result returns (nil, nil); an exact lookup without result
// returns an error wrapping ErrNotFound.
func (m *Matcher) Find(ctx context.Context, item *models.MediaItem, correction *models.Correction) (*models.CatalogMatch, error) {
	ctx, span := tracer.Start(ctx, "catalog.Find")
	defer span.End()
	span.SetAttributes(attribute.String("item", item.DatabaseID()))

	tables, err := m.store.Get(ctx, Tables...)
	if err != nil {
		return nil, fmt.Errorf("failed to load matcher cache: %w", err)
	}

	match, err := m.find(ctx, tables, item, correction)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := m.store.Set(ctx, tables); err != nil {
		return nil, fmt.Errorf("failed to save matcher cache: %w", err)
	}
	return match, nil
}

// FindAll resolves every item concurrently, looking corrections up itself.
// Results are aligned with items. Cache writes of the whole batch are flushed once,
// after every lookup finished; nothing is flushed when ctx is canceled.
func (m *Matcher) FindAll(ctx context.Context, items []*models.MediaItem) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "catalog.FindAll")
	defer span.End()
	span.SetAttributes(attribute.Int("items", len(items)))

	tables, err := m.store.Get(ctx, Tables...)
	if err != nil {
		return nil, fmt.Errorf("failed to load matcher cache: %w", err)
	}

	results := make([]Result, len(items))
	p := pool.New().WithMaxGoroutines(m.concurrency)
	for i, item := range items {
		p.Go(func() {
			correction, err := m.correctionFor(item)
			if err != nil {
				results[i].Err = err
				return
			}
			results[i].Match, results[i].Err = m.find(ctx, tables, item, correction)
		})
	}
	p.Wait()

	if err := cancel.Cause(ctx); err != nil {
		return nil, err
	}

	if err := m.store.Set(ctx, tables); err != nil {
		return nil, fmt.Errorf("failed to save matcher cache: %w", err)
	}
	return results, nil
}

func (m *Matcher) correctionFor(item *models.MediaItem) (*models.Correction, error) {
	if m.corrections == nil {
		return nil, nil
	}
	return m.corrections.Get(item.DatabaseID())
}

func (m *Matcher) find(ctx context.Context, tables *cache.Tables, item *models.MediaItem, correction *models.Correction) (*models.CatalogMatch, error) {
	if correction != nil {
		match, err := m.findByCorrection(ctx, tables, item, correction)
		if err != nil {
			metrics.CatalogMatches.WithLabelValues("correction", "error").Inc()
			return nil, err
		}
		metrics.CatalogMatches.WithLabelValues("correction", "found").Inc()
		return match, nil
	}

	databaseID := item.DatabaseID()
	if match, ok := cachedMatch(tables, databaseID); ok {
		metrics.CatalogMatches.WithLabelValues("cache", "found").Inc()
		return match, nil
	}

	match, err := m.search(ctx, item)
	if errors.Is(err, ErrNotFound) {
		metrics.CatalogMatches.WithLabelValues("search", "not_found").Inc()
		m.logger.WithField("item", databaseID).Debug("No catalog match found")
		return nil, nil
	}
	if err != nil {
		metrics.CatalogMatches.WithLabelValues("search", "error").Inc()
		return nil, err
	}
	metrics.CatalogMatches.WithLabelValues("search", "found").Inc()

	match.Confidence = matchConfidence(item, match)
	if err := storeMatch(tables, match); err != nil {
		return nil, err
	}
	if err := cache.Set(tables.Table(cache.TableItemsToTraktItems), databaseID, match.DatabaseID()); err != nil {
		return nil, err
	}
	return match.WithoutSyncState(), nil
}

// cachedMatch follows databaseID -> canonical id -> match. Sync bookkeeping is never reused.
func cachedMatch(tables *cache.Tables, databaseID string) (*models.CatalogMatch, bool) {
	canonical, ok := cache.Get[string](tables.Table(cache.TableItemsToTraktItems), databaseID)
	if !ok {
		return nil, false
	}
	return canonicalMatch(tables, canonical)
}

func canonicalMatch(tables *cache.Tables, canonical string) (*models.CatalogMatch, bool) {
	match, ok := cache.Get[models.CatalogMatch](tables.Table(cache.TableTraktItems), canonical)
	if !ok {
		return nil, false
	}
	return match.WithoutSyncState(), true
}

func storeMatch(tables *cache.Tables, match *models.CatalogMatch) error {
	return cache.Set(tables.Table(cache.TableTraktItems), match.DatabaseID(), match.WithoutSyncState())
}

func (m *Matcher) findByCorrection(ctx context.Context, tables *cache.Tables, item *models.MediaItem, correction *models.Correction) (*models.CatalogMatch, error) {
	if correction.IsURL() {
		canonicalURL, err := CanonicalURL(correction.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid correction for %s: %w", correction.DatabaseID, err)
		}
		if canonical, ok := cache.Get[string](tables.Table(cache.TableURLsToTraktItems), canonicalURL); ok {
			if match, ok := canonicalMatch(tables, canonical); ok {
				return withConfidence(match, 1), nil
			}
		}

		res, err := m.client.ResolveURL(ctx, canonicalURL)
		if err != nil {
			return nil, exactLookupError(canonicalURL, err)
		}
		match, err := m.fromSearchResult(ctx, item, res)
		if err != nil {
			return nil, exactLookupError(canonicalURL, err)
		}
		match.Confidence = 1
		if err := storeMatch(tables, match); err != nil {
			return nil, err
		}
		if err := cache.Set(tables.Table(cache.TableURLsToTraktItems), canonicalURL, match.DatabaseID()); err != nil {
			return nil, err
		}
		return match.WithoutSyncState(), nil
	}

	canonical := (&models.CatalogMatch{Type: correction.Type, ID: correction.TraktID}).DatabaseID()
	if match, ok := canonicalMatch(tables, canonical); ok {
		return withConfidence(match, 1), nil
	}

	res, err := m.client.SearchExact(ctx, string(correction.Type), correction.TraktID)
	if err != nil {
		return nil, exactLookupError(canonical, err)
	}
	match, err := m.fromSearchResult(ctx, item, res)
	if err != nil {
		return nil, exactLookupError(canonical, err)
	}
	match.Confidence = 1
	if err := storeMatch(tables, match); err != nil {
		return nil, err
	}
	return match.WithoutSyncState(), nil
}

func withConfidence(match *models.CatalogMatch, confidence float64) *models.CatalogMatch {
	match.Confidence = confidence
	return match
}

func exactLookupError(target string, err error) error {
	if trakt.IsNotFound(err) || errors.Is(err, ErrNotFound) {
		return fmt.Errorf("correction target %s: %w", target, ErrNotFound)
	}
	return err
}

func (m *Matcher) search(ctx context.Context, item *models.MediaItem) (*models.CatalogMatch, error) {
	if item.Type == models.MediaTypeEpisode {
		if item.Show == nil || item.Show.Title == "" {
			return nil, ErrNotFound
		}
		if item.Season > 0 || item.Number > 0 {
			return m.searchEpisodeByNumber(ctx, item)
		}
		return m.searchEpisodeByTitle(ctx, item)
	}
	return m.searchMovie(ctx, item)
}

func (m *Matcher) searchMovie(ctx context.Context, item *models.MediaItem) (*models.CatalogMatch, error) {
	if item.Title == "" {
		return nil, ErrNotFound
	}
	results, err := m.client.Search(ctx, "movie", item.Title, false)
	if err != nil {
		return nil, err
	}

	var movies []*trakt.Movie
	for _, r := range results {
		if r.Movie != nil {
			movies = append(movies, r.Movie)
		}
	}
	movie := pickCandidate(movies, item.Title, item.Year, func(m *trakt.Movie) (string, int) { return m.Title, m.Year })
	if movie == nil {
		return nil, ErrNotFound
	}
	return movieMatch(movie), nil
}

func (m *Matcher) searchEpisodeByNumber(ctx context.Context, item *models.MediaItem) (*models.CatalogMatch, error) {
	results, err := m.client.Search(ctx, "show", item.Show.Title, false)
	if err != nil {
		return nil, err
	}

	var shows []*trakt.Show
	for _, r := range results {
		if r.Show != nil {
			shows = append(shows, r.Show)
		}
	}
	show := pickCandidate(shows, item.Show.Title, 0, func(s *trakt.Show) (string, int) { return s.Title, s.Year })
	if show == nil {
		return nil, ErrNotFound
	}

	episode, err := m.client.GetEpisode(ctx, strconv.FormatInt(show.IDs.Trakt, 10), item.Season, item.Number)
	if trakt.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return episodeMatch(show, episode), nil
}

func (m *Matcher) searchEpisodeByTitle(ctx context.Context, item *models.MediaItem) (*models.CatalogMatch, error) {
	if item.Title == "" {
		return nil, ErrNotFound
	}
	results, err := m.client.Search(ctx, "episode", item.Title, false)
	if err != nil {
		return nil, err
	}

	want := NormalizeTitle(item.Title)
	for _, r := range results {
		if r.Episode == nil || r.Show == nil {
			continue
		}
		if NormalizeTitle(r.Episode.Title) == want && titlesMatch(r.Show.Title, item.Show.Title) {
			return episodeMatch(r.Show, r.Episode), nil
		}
	}
	return nil, ErrNotFound
}

// pickCandidate accepts a single candidate as is. Among several, the first one with an
// equal normalized title and a compatible year wins, falling back to the first candidate.
func pickCandidate[T any](candidates []T, title string, year int, fields func(T) (string, int)) T {
	var zero T
	if len(candidates) == 0 {
		return zero
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	want := NormalizeTitle(title)
	for _, c := range candidates {
		cTitle, cYear := fields(c)
		if NormalizeTitle(cTitle) != want {
			continue
		}
		if year == 0 || cYear == 0 || year == cYear {
			return c
		}
	}
	return candidates[0]
}

// fromSearchResult converts an exact lookup result. A show result only resolves an
// episode item that carries its season and number.
func (m *Matcher) fromSearchResult(ctx context.Context, item *models.MediaItem, res *trakt.SearchResult) (*models.CatalogMatch, error) {
	switch {
	case res == nil:
		return nil, ErrNotFound
	case res.Movie != nil:
		return movieMatch(res.Movie), nil
	case res.Episode != nil && res.Show != nil:
		return episodeMatch(res.Show, res.Episode), nil
	case res.Show != nil && item.Type == models.MediaTypeEpisode && (item.Season > 0 || item.Number > 0):
		episode, err := m.client.GetEpisode(ctx, strconv.FormatInt(res.Show.IDs.Trakt, 10), item.Season, item.Number)
		if err != nil {
			return nil, err
		}
		return episodeMatch(res.Show, episode), nil
	}
	return nil, fmt.Errorf("result does not identify a movie or an episode: %w", ErrNotFound)
}

func movieMatch(movie *trakt.Movie) *models.CatalogMatch {
	return &models.CatalogMatch{
		Type:  models.MediaTypeMovie,
		ID:    movie.IDs.Trakt,
		Title: movie.Title,
		Year:  movie.Year,
		Slug:  movie.IDs.Slug,
	}
}

func episodeMatch(show *trakt.Show, episode *trakt.Episode) *models.CatalogMatch {
	return &models.CatalogMatch{
		Type:   models.MediaTypeEpisode,
		ID:     episode.IDs.Trakt,
		Title:  episode.Title,
		Year:   show.Year,
		Slug:   show.IDs.Slug,
		Season: episode.Season,
		Number: episode.Number,
		Show: &models.CatalogShow{
			ID:    show.IDs.Trakt,
			Title: show.Title,
			Year:  show.Year,
		},
	}
}

func matchConfidence(item *models.MediaItem, match *models.CatalogMatch) float64 {
	if item.Type == models.MediaTypeEpisode && item.Show != nil && match.Show != nil {
		if item.Title == "" || match.Title == "" {
			return utils.TitleSimilarity(item.Show.Title, match.Show.Title)
		}
		return (utils.TitleSimilarity(item.Show.Title, match.Show.Title) + utils.TitleSimilarity(item.Title, match.Title)) / 2
	}
	return utils.TitleSimilarity(item.Title, match.Title)
}
