package controllers

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/services/trakt"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeTrakt is an in-memory Trakt serving search, history and commits
type fakeTrakt struct {
	mu       sync.Mutex
	movies   map[string]*trakt.Movie
	history  map[int64][]trakt.HistoryRecord
	notFound map[int64]bool
	addErr   error
	nextID   int64

	requests     []trakt.SyncHistoryRequest
	historyCalls int
}

func newFakeTrakt() *fakeTrakt {
	return &fakeTrakt{
		movies:   make(map[string]*trakt.Movie),
		history:  make(map[int64][]trakt.HistoryRecord),
		notFound: make(map[int64]bool),
		nextID:   1000,
	}
}

func (f *fakeTrakt) addMovie(traktID int64, title string, year int) {
	f.movies[title] = &trakt.Movie{Title: title, Year: year, IDs: trakt.IDs{Trakt: traktID}}
}

func (f *fakeTrakt) watch(traktID, syncID int64, watchedAt int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[traktID] = append(f.history[traktID], trakt.HistoryRecord{
		ID:        syncID,
		WatchedAt: time.Unix(watchedAt, 0).UTC(),
		Action:    "watch",
	})
}

func (f *fakeTrakt) records(traktID int64) []trakt.HistoryRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]trakt.HistoryRecord(nil), f.history[traktID]...)
}

func (f *fakeTrakt) Search(ctx context.Context, searchType, query string, extended bool) ([]trakt.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if movie, ok := f.movies[query]; ok && searchType == "movie" {
		return []trakt.SearchResult{{Type: "movie", Movie: movie}}, nil
	}
	return nil, nil
}

func (f *fakeTrakt) SearchExact(ctx context.Context, searchType string, traktID int64) (*trakt.SearchResult, error) {
	return nil, &trakt.APIError{StatusCode: 404}
}

func (f *fakeTrakt) GetEpisode(ctx context.Context, showID string, season, number int) (*trakt.Episode, error) {
	return nil, &trakt.APIError{StatusCode: 404}
}

func (f *fakeTrakt) ResolveURL(ctx context.Context, rawURL string) (*trakt.SearchResult, error) {
	return nil, &trakt.APIError{StatusCode: 404}
}

func (f *fakeTrakt) AddToHistory(ctx context.Context, request trakt.SyncHistoryRequest) (*trakt.SyncHistoryResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.requests = append(f.requests, request)

	var resp trakt.SyncHistoryResponse
	add := func(items []trakt.SyncItem) ([]trakt.SyncItem, int) {
		var missing []trakt.SyncItem
		added := 0
		for _, item := range items {
			if f.notFound[item.IDs.Trakt] {
				missing = append(missing, item)
				continue
			}
			watchedAt, _ := time.Parse(time.RFC3339, item.WatchedAt)
			f.nextID++
			f.history[item.IDs.Trakt] = append(f.history[item.IDs.Trakt], trakt.HistoryRecord{
				ID:        f.nextID,
				WatchedAt: watchedAt,
				Action:    "watch",
			})
			added++
		}
		return missing, added
	}
	resp.NotFound.Movies, resp.Added.Movies = add(request.Movies)
	resp.NotFound.Episodes, resp.Added.Episodes = add(request.Episodes)
	return &resp, nil
}

func (f *fakeTrakt) GetHistory(ctx context.Context, historyType string, traktID int64) ([]trakt.HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	return append([]trakt.HistoryRecord(nil), f.history[traktID]...), nil
}

func (f *fakeTrakt) RemoveFromHistory(ctx context.Context, historyIDs []int64) (*trakt.RemoveHistoryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	remove := make(map[int64]bool, len(historyIDs))
	for _, id := range historyIDs {
		remove[id] = true
	}
	var resp trakt.RemoveHistoryResponse
	for traktID, records := range f.history {
		kept := records[:0]
		for _, r := range records {
			if remove[r.ID] {
				resp.Deleted.Movies++
				delete(remove, r.ID)
				continue
			}
			kept = append(kept, r)
		}
		f.history[traktID] = kept
	}
	for id := range remove {
		resp.NotFound.IDs = append(resp.NotFound.IDs, id)
	}
	return &resp, nil
}

func (f *fakeTrakt) getHistoryCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls
}
