package catalog

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/cache"
	"github.com/amaumene/scrobblarr/internal/events"
	"github.com/amaumene/scrobblarr/internal/models"
	"github.com/amaumene/scrobblarr/internal/services/trakt"
)

type fakeClient struct {
	mu       sync.Mutex
	search   map[string][]trakt.SearchResult // keyed by type + ":" + query
	exact    map[int64]*trakt.SearchResult
	episodes map[string]*trakt.Episode // keyed by show id + season + number
	urls     map[string]*trakt.SearchResult
	calls    []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		search:   make(map[string][]trakt.SearchResult),
		exact:    make(map[int64]*trakt.SearchResult),
		episodes: make(map[string]*trakt.Episode),
		urls:     make(map[string]*trakt.SearchResult),
	}
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func (f *fakeClient) Search(ctx context.Context, searchType, query string, extended bool) ([]trakt.SearchResult, error) {
	f.record("search:" + searchType + ":" + query)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.search[searchType+":"+query], nil
}

func (f *fakeClient) SearchExact(ctx context.Context, searchType string, traktID int64) (*trakt.SearchResult, error) {
	f.record("exact:" + searchType)
	if res, ok := f.exact[traktID]; ok {
		return res, nil
	}
	return nil, &trakt.APIError{StatusCode: 404}
}

func (f *fakeClient) GetEpisode(ctx context.Context, showID string, season, number int) (*trakt.Episode, error) {
	f.record("episode:" + showID)
	key := showID + ":" + string(rune('0'+season)) + ":" + string(rune('0'+number))
	if ep, ok := f.episodes[key]; ok {
		return ep, nil
	}
	return nil, &trakt.APIError{StatusCode: 404}
}

func (f *fakeClient) ResolveURL(ctx context.Context, rawURL string) (*trakt.SearchResult, error) {
	f.record("url:" + rawURL)
	if res, ok := f.urls[rawURL]; ok {
		return res, nil
	}
	return nil, &trakt.APIError{StatusCode: 404}
}

type staticCorrections map[string]*models.Correction

func (s staticCorrections) Get(databaseID string) (*models.Correction, error) {
	return s[databaseID], nil
}

func movieResult(id int64, title string, year int) trakt.SearchResult {
	return trakt.SearchResult{Type: "movie", Movie: &trakt.Movie{Title: title, Year: year, IDs: trakt.IDs{Trakt: id}}}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestMatcher(client Client, corrections CorrectionSource) (*Matcher, *cache.MemoryStore) {
	store := cache.NewMemoryStore(nil)
	return NewMatcher(client, store, corrections, 4, testLogger()), store
}

func movie(title string, year int) *models.MediaItem {
	return &models.MediaItem{ServiceID: "netflix", ID: title, Type: models.MediaTypeMovie, Title: title, Year: year}
}

func TestTitleTieBreakIgnoresYearWhenSourceHasNone(t *testing.T) {
	client := newFakeClient()
	client.search["movie:The Office"] = []trakt.SearchResult{
		movieResult(1, "The Office", 2005),
		movieResult(2, "The Office (US)", 2005),
	}
	m, _ := newTestMatcher(client, nil)

	match, err := m.Find(context.Background(), movie("The Office", 0), nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if match == nil || match.ID != 1 {
		t.Fatalf("Expected candidate 1, got %+v", match)
	}
	if match.Confidence != 1 {
		t.Errorf("Expected confidence 1 for identical titles, got %v", match.Confidence)
	}
}

func TestTitleTieBreakUsesYear(t *testing.T) {
	client := newFakeClient()
	client.search["movie:Heat"] = []trakt.SearchResult{
		movieResult(10, "Heat", 1986),
		movieResult(11, "Heat", 1995),
		movieResult(12, "The Heat", 2013),
	}
	m, _ := newTestMatcher(client, nil)

	match, err := m.Find(context.Background(), movie("Heat", 1995), nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if match == nil || match.ID != 11 {
		t.Fatalf("Expected candidate 11, got %+v", match)
	}
}

func TestTitleTieBreakFallsBackToFirst(t *testing.T) {
	client := newFakeClient()
	client.search["movie:Alien"] = []trakt.SearchResult{
		movieResult(20, "Aliens", 1986),
		movieResult(21, "Alien Covenant", 2017),
	}
	m, _ := newTestMatcher(client, nil)

	match, _ := m.Find(context.Background(), movie("Alien", 1979), nil)
	if match == nil || match.ID != 20 {
		t.Fatalf("Expected first candidate, got %+v", match)
	}
}

func TestFuzzyNotFoundIsNil(t *testing.T) {
	m, store := newTestMatcher(newFakeClient(), nil)

	match, err := m.Find(context.Background(), movie("Unknown", 0), nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if match != nil {
		t.Errorf("Expected no match, got %+v", match)
	}
	if store.Flushes != 0 {
		t.Errorf("Expected nothing cached, got %d flushes", store.Flushes)
	}
}

func TestCacheMonotonicity(t *testing.T) {
	client := newFakeClient()
	client.search["movie:Heat"] = []trakt.SearchResult{movieResult(11, "Heat", 1995)}
	corrections := staticCorrections{}
	m, _ := newTestMatcher(client, corrections)

	item := movie("Heat", 1995)
	if _, err := m.Find(context.Background(), item, nil); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	before := client.callCount()

	// a correction for another item must not affect this one
	corrections["netflix_movie_other"] = &models.Correction{DatabaseID: "netflix_movie_other", Type: models.MediaTypeMovie, TraktID: 99}

	results, err := m.FindAll(context.Background(), []*models.MediaItem{item})
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if results[0].Match == nil || results[0].Match.ID != 11 {
		t.Fatalf("Expected cached match 11, got %+v", results[0])
	}
	if client.callCount() != before {
		t.Errorf("Expected no network call on cache hit, got %d new calls", client.callCount()-before)
	}
}

func TestCorrectionPrecedence(t *testing.T) {
	client := newFakeClient()
	client.search["movie:Heat"] = []trakt.SearchResult{movieResult(11, "Heat", 1995)}
	client.exact[500] = &trakt.SearchResult{Type: "movie", Movie: &trakt.Movie{Title: "Heat (Director's Cut)", Year: 1995, IDs: trakt.IDs{Trakt: 500}}}
	m, _ := newTestMatcher(client, nil)

	item := movie("Heat", 1995)
	correction := &models.Correction{DatabaseID: item.DatabaseID(), Type: models.MediaTypeMovie, TraktID: 500}

	match, err := m.Find(context.Background(), item, correction)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if match.ID != 500 {
		t.Errorf("Expected corrected match 500, got %d", match.ID)
	}
	if client.called("search:") {
		t.Error("Expected fuzzy search never to run when a correction exists")
	}

	// the corrected target is cached by canonical id
	calls := client.callCount()
	if _, err := m.Find(context.Background(), item, correction); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if client.callCount() != calls {
		t.Error("Expected the corrected target to be served from cache")
	}
}

func TestCorrectionPrecedenceOverCachedMatch(t *testing.T) {
	client := newFakeClient()
	client.search["movie:Heat"] = []trakt.SearchResult{movieResult(11, "Heat", 1995)}
	client.exact[500] = &trakt.SearchResult{Type: "movie", Movie: &trakt.Movie{Title: "Heat", Year: 1995, IDs: trakt.IDs{Trakt: 500}}}
	m, _ := newTestMatcher(client, nil)

	item := movie("Heat", 1995)
	m.Find(context.Background(), item, nil)

	match, err := m.Find(context.Background(), item, &models.Correction{DatabaseID: item.DatabaseID(), Type: models.MediaTypeMovie, TraktID: 500})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if match.ID != 500 {
		t.Errorf("Expected correction to override the cached match, got %d", match.ID)
	}
}

func TestCorrectionNotFoundIsError(t *testing.T) {
	m, _ := newTestMatcher(newFakeClient(), nil)
	item := movie("Heat", 1995)

	_, err := m.Find(context.Background(), item, &models.Correction{DatabaseID: item.DatabaseID(), Type: models.MediaTypeMovie, TraktID: 404})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestURLCorrectionCachesURL(t *testing.T) {
	client := newFakeClient()
	client.urls["https://trakt.tv/movies/heat-1995"] = &trakt.SearchResult{Type: "movie", Movie: &trakt.Movie{Title: "Heat", Year: 1995, IDs: trakt.IDs{Trakt: 11, Slug: "heat-1995"}}}
	m, _ := newTestMatcher(client, nil)

	first := movie("Heat", 1995)
	correction := &models.Correction{DatabaseID: first.DatabaseID(), URL: "https://trakt.tv/movies/Heat-1995/?utm=x"}
	match, err := m.Find(context.Background(), first, correction)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if match.ID != 11 {
		t.Fatalf("Expected match 11, got %d", match.ID)
	}

	// another item corrected to the same url resolves without a request
	second := movie("Heat (1995)", 0)
	calls := client.callCount()
	match, err = m.Find(context.Background(), second, &models.Correction{DatabaseID: second.DatabaseID(), URL: "https://trakt.tv/movies/heat-1995"})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if match.ID != 11 || client.callCount() != calls {
		t.Errorf("Expected cached url shortcut, got match %d and %d new calls", match.ID, client.callCount()-calls)
	}
}

func TestCachedMatchIsStrippedOfSyncState(t *testing.T) {
	client := newFakeClient()
	client.search["movie:Heat"] = []trakt.SearchResult{movieResult(11, "Heat", 1995)}
	m, store := newTestMatcher(client, nil)

	item := movie("Heat", 1995)
	first, _ := m.Find(context.Background(), item, nil)
	first.SetWatched(77, 1700000000, []int64{1600000000})

	// poison the cached canonical entry with bookkeeping
	tables, _ := store.Get(context.Background(), Tables...)
	poisoned := first.Clone()
	cache.Set(tables.Table(cache.TableTraktItems), poisoned.DatabaseID(), poisoned)
	store.Set(context.Background(), tables)

	second, err := m.Find(context.Background(), movie("Heat", 1995), nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if second.SyncID != 0 || second.WatchStatus != models.WatchUnknown || second.WatchedAt != 0 || second.OtherWatches != nil {
		t.Errorf("Expected sync state to be stripped, got %+v", second)
	}
}

func TestEpisodeByTitleShowSubstring(t *testing.T) {
	client := newFakeClient()
	client.search["episode:Pilot"] = []trakt.SearchResult{
		{Type: "episode", Show: &trakt.Show{Title: "Scrubs", IDs: trakt.IDs{Trakt: 1}}, Episode: &trakt.Episode{Title: "Pilot", Season: 1, Number: 1, IDs: trakt.IDs{Trakt: 100}}},
		{Type: "episode", Show: &trakt.Show{Title: "The Office (US)", Year: 2005, IDs: trakt.IDs{Trakt: 2}}, Episode: &trakt.Episode{Title: "Pilot", Season: 1, Number: 1, IDs: trakt.IDs{Trakt: 200}}},
	}
	m, _ := newTestMatcher(client, nil)

	item := &models.MediaItem{ServiceID: "netflix", ID: "e1", Type: models.MediaTypeEpisode, Title: "Pilot", Show: &models.Show{Title: "The Office"}}
	match, err := m.Find(context.Background(), item, nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if match == nil || match.ID != 200 || match.Show.ID != 2 {
		t.Fatalf("Expected episode 200 of show 2, got %+v", match)
	}

	miss := &models.MediaItem{ServiceID: "netflix", ID: "e2", Type: models.MediaTypeEpisode, Title: "Pilot", Show: &models.Show{Title: "Parks and Recreation"}}
	match, err = m.Find(context.Background(), miss, nil)
	if err != nil || match != nil {
		t.Errorf("Expected no match without error, got %+v (%v)", match, err)
	}
}

func TestEpisodeByNumber(t *testing.T) {
	client := newFakeClient()
	client.search["show:The Office"] = []trakt.SearchResult{
		{Type: "show", Show: &trakt.Show{Title: "The Office", Year: 2005, IDs: trakt.IDs{Trakt: 2, Slug: "the-office-us"}}},
	}
	client.episodes["2:2:3"] = &trakt.Episode{Title: "Office Olympics", Season: 2, Number: 3, IDs: trakt.IDs{Trakt: 300}}
	m, _ := newTestMatcher(client, nil)

	item := &models.MediaItem{ServiceID: "netflix", ID: "e3", Type: models.MediaTypeEpisode, Title: "Office Olympics", Season: 2, Number: 3, Show: &models.Show{Title: "The Office"}}
	match, err := m.Find(context.Background(), item, nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if match == nil || match.ID != 300 || match.Season != 2 || match.Number != 3 {
		t.Fatalf("Expected episode 300 (2x3), got %+v", match)
	}
	if match.DatabaseID() != "trakt_episode_300" {
		t.Errorf("Unexpected canonical id %s", match.DatabaseID())
	}
}

func TestFindAllFlushesOnce(t *testing.T) {
	client := newFakeClient()
	client.search["movie:Heat"] = []trakt.SearchResult{movieResult(11, "Heat", 1995)}
	client.search["movie:Alien"] = []trakt.SearchResult{movieResult(12, "Alien", 1979)}
	client.search["movie:Dune"] = []trakt.SearchResult{movieResult(13, "Dune", 2021)}
	m, store := newTestMatcher(client, nil)

	items := []*models.MediaItem{movie("Heat", 0), movie("Alien", 0), movie("Unknown", 0), movie("Dune", 0)}
	results, err := m.FindAll(context.Background(), items)
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	want := []int64{11, 12, 0, 13}
	for i, r := range results {
		var got int64
		if r.Match != nil {
			got = r.Match.ID
		}
		if got != want[i] || r.Err != nil {
			t.Errorf("Item %d: expected %d, got %d (%v)", i, want[i], got, r.Err)
		}
	}
	if store.Flushes != 1 {
		t.Errorf("Expected exactly 1 flush, got %d", store.Flushes)
	}
	if store.Len(cache.TableItemsToTraktItems) != 3 {
		t.Errorf("Expected 3 cached mappings, got %d", store.Len(cache.TableItemsToTraktItems))
	}
}

func TestFindAllCanceledDoesNotFlush(t *testing.T) {
	client := newFakeClient()
	client.search["movie:Heat"] = []trakt.SearchResult{movieResult(11, "Heat", 1995)}
	m, store := newTestMatcher(client, nil)

	ctx, cancelFn := context.WithCancel(context.Background())
	cancelFn()

	if _, err := m.FindAll(ctx, []*models.MediaItem{movie("Heat", 0)}); err == nil {
		t.Fatal("Expected canceled FindAll to fail")
	}
	if store.Flushes != 0 {
		t.Errorf("Expected no flush, got %d", store.Flushes)
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := map[string]string{
		"The Office":      "office",
		"  the   Office ": "office",
		"A Quiet Place":   "quietplace",
		"An Education":    "education",
		"Theory":          "theory",
		"The":             "the",
		"STRASSE":         "strasse",
	}
	for in, want := range tests {
		if got := NormalizeTitle(in); got != want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCorrectionsService(t *testing.T) {
	db, err := models.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	dispatcher := events.NewDispatcher()
	rec := events.NewRecorder(10)
	dispatcher.Subscribe(rec.Handle, events.CorrectionChanged)
	svc := NewCorrections(db, dispatcher, testLogger())

	if c, err := svc.Get("netflix_movie_heat"); err != nil || c != nil {
		t.Fatalf("Expected no correction, got %+v (%v)", c, err)
	}

	if err := svc.Put(&models.Correction{DatabaseID: "netflix_movie_heat", URL: "https://trakt.tv/movies/Heat-1995/"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	c, err := svc.Get("netflix_movie_heat")
	if err != nil || c == nil {
		t.Fatalf("Expected stored correction, got %v", err)
	}
	if c.URL != "https://trakt.tv/movies/heat-1995" || c.Source != models.CorrectionSourceUser {
		t.Errorf("Unexpected stored correction %+v", c)
	}

	if err := svc.Put(&models.Correction{DatabaseID: "x", TraktID: 5, Type: models.MediaTypeShow}); err == nil {
		t.Error("Expected show correction to be rejected")
	}
	if err := svc.Put(&models.Correction{DatabaseID: "x"}); err == nil {
		t.Error("Expected empty correction to be rejected")
	}

	if err := svc.Delete("netflix_movie_heat"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	list, _ := svc.List()
	if len(list) != 0 {
		t.Errorf("Expected no corrections, got %d", len(list))
	}
	if len(rec.Events()) != 2 {
		t.Errorf("Expected 2 correction events, got %d", len(rec.Events()))
	}
}
