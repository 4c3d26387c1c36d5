package jellyfin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/models"
)

const playedPage = `{
  "Items": [
    {"Id": "ep1", "Name": "Pilot", "Type": "Episode", "SeriesId": "s1", "SeriesName": "The Office",
     "ParentIndexNumber": 1, "IndexNumber": 1, "ProductionYear": 2005,
     "UserData": {"Played": true, "LastPlayedDate": "2024-03-02T20:15:00.0000000Z"}},
    {"Id": "mv1", "Name": "Heat", "Type": "Movie", "ProductionYear": 1995,
     "UserData": {"Played": false, "PlayedPercentage": 42.5, "LastPlayedDate": "2024-03-01T10:00:00.0000000Z"}}
  ],
  "TotalRecordCount": 3
}`

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewProvider(Config{BaseURL: server.URL + "/", APIKey: "key", UserID: "u1", PageSize: 2}, logger)
}

func TestLoadHistoryItems(t *testing.T) {
	var gotQuery, gotToken string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("StartIndex")
		gotToken = r.Header.Get("X-Emby-Token")
		if r.URL.Path != "/Users/u1/Items" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, playedPage)
	})

	state := &models.ProviderSessionState{NextPage: 0}
	raws, err := p.LoadHistoryItems(context.Background(), state)
	if err != nil {
		t.Fatalf("Failed to load history: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("Expected 2 raw items, got %d", len(raws))
	}
	if gotQuery != "0" {
		t.Errorf("Expected StartIndex 0, got %s", gotQuery)
	}
	if gotToken != "key" {
		t.Errorf("Expected api key header, got %q", gotToken)
	}
	if state.NextPage != 1 {
		t.Errorf("Expected next page 1, got %d", state.NextPage)
	}
	if state.HasReachedHistoryEnd {
		t.Error("Expected more history to be available")
	}

	items, err := p.ConvertHistoryItems(context.Background(), raws)
	if err != nil {
		t.Fatalf("Failed to convert items: %v", err)
	}
	ep := items[0]
	if ep.Type != models.MediaTypeEpisode || ep.Season != 1 || ep.Number != 1 {
		t.Errorf("Expected episode 1x1, got %s %dx%d", ep.Type, ep.Season, ep.Number)
	}
	if ep.Show == nil || ep.Show.Title != "The Office" {
		t.Errorf("Expected show The Office, got %+v", ep.Show)
	}
	if ep.Progress != 100 {
		t.Errorf("Expected played episode at 100%%, got %v", ep.Progress)
	}
	if ep.DatabaseID() != "jellyfin_episode_ep1_1_1" {
		t.Errorf("Unexpected database id %s", ep.DatabaseID())
	}

	movie := items[1]
	if movie.Type != models.MediaTypeMovie || movie.Year != 1995 || movie.Progress != 42.5 {
		t.Errorf("Unexpected movie %+v", movie)
	}
	if movie.WatchedAt != 1709287200 {
		t.Errorf("Expected watched at 1709287200, got %d", movie.WatchedAt)
	}

	if !p.IsNewHistoryItem(raws[0], movie.WatchedAt, p.HistoryItemID(raws[1])) {
		t.Error("Expected episode to be newer than the movie")
	}
	if p.IsNewHistoryItem(raws[1], movie.WatchedAt, p.HistoryItemID(raws[1])) {
		t.Error("Expected item not to be newer than itself")
	}
}

func TestLoadHistoryItemsLastPage(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Items": [{"Id": "mv9", "Name": "Alien", "Type": "Movie"}], "TotalRecordCount": 3}`)
	})

	state := &models.ProviderSessionState{NextPage: 1}
	if _, err := p.LoadHistoryItems(context.Background(), state); err != nil {
		t.Fatalf("Failed to load history: %v", err)
	}
	if !state.HasReachedHistoryEnd {
		t.Error("Expected history end to be reached")
	}
}

func TestLoadHistoryItemsError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	state := &models.ProviderSessionState{}
	if _, err := p.LoadHistoryItems(context.Background(), state); err == nil {
		t.Fatal("Expected error on 401")
	}
	if state.NextPage != 0 {
		t.Errorf("Expected cursor to stay at 0, got %d", state.NextPage)
	}
}
