package trakt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// IDs holds the identifiers Trakt exposes for an object
type IDs struct {
	Trakt int64  `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int64  `json:"tmdb,omitempty"`
	TVDB  int64  `json:"tvdb,omitempty"`
}

// Movie represents a Trakt movie
type Movie struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   IDs    `json:"ids"`
}

// Show represents a Trakt show
type Show struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   IDs    `json:"ids"`
}

// Episode represents a Trakt episode
type Episode struct {
	Season int    `json:"season"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	IDs    IDs    `json:"ids"`
}

// SearchResult is one candidate returned by the search endpoints
type SearchResult struct {
	Type    string   `json:"type"` // "movie", "show" or "episode"
	Score   float64  `json:"score"`
	Movie   *Movie   `json:"movie,omitempty"`
	Show    *Show    `json:"show,omitempty"`
	Episode *Episode `json:"episode,omitempty"`
}

// Search queries the catalog by text. searchType is "movie", "show" or "episode".
func (c *Client) Search(ctx context.Context, searchType, query string, extended bool) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("query", query)
	if extended {
		params.Set("extended", "full")
	}
	path := fmt.Sprintf("/search/%s?%s", searchType, params.Encode())

	var results []SearchResult
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &results); err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", searchType, err)
	}

	return results, nil
}

// SearchExact looks an object up by its canonical Trakt id
func (c *Client) SearchExact(ctx context.Context, searchType string, traktID int64) (*SearchResult, error) {
	path := fmt.Sprintf("/search/trakt/%d?type=%s", traktID, url.QueryEscape(searchType))

	var results []SearchResult
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &results); err != nil {
		return nil, fmt.Errorf("failed to look up %s %d: %w", searchType, traktID, err)
	}
	if len(results) == 0 {
		return nil, &APIError{StatusCode: http.StatusNotFound, Body: fmt.Sprintf("%s %d not found", searchType, traktID)}
	}

	return &results[0], nil
}

// GetMovie retrieves a movie by Trakt id or slug
func (c *Client) GetMovie(ctx context.Context, id string) (*Movie, error) {
	var movie Movie
	if err := c.doRequest(ctx, http.MethodGet, "/movies/"+url.PathEscape(id), nil, &movie); err != nil {
		return nil, fmt.Errorf("failed to get movie %s: %w", id, err)
	}
	return &movie, nil
}

// GetShow retrieves a show by Trakt id or slug
func (c *Client) GetShow(ctx context.Context, id string) (*Show, error) {
	var show Show
	if err := c.doRequest(ctx, http.MethodGet, "/shows/"+url.PathEscape(id), nil, &show); err != nil {
		return nil, fmt.Errorf("failed to get show %s: %w", id, err)
	}
	return &show, nil
}

// GetEpisode retrieves a single episode of a show
func (c *Client) GetEpisode(ctx context.Context, showID string, season, number int) (*Episode, error) {
	path := fmt.Sprintf("/shows/%s/seasons/%d/episodes/%d", url.PathEscape(showID), season, number)

	var episode Episode
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &episode); err != nil {
		return nil, fmt.Errorf("failed to get episode %s %dx%d: %w", showID, season, number, err)
	}
	return &episode, nil
}

// ResolveURL resolves a trakt.tv movie, show or episode URL into a search result
func (c *Client) ResolveURL(ctx context.Context, rawURL string) (*SearchResult, error) {
	ref, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	switch ref.Type {
	case "movie":
		movie, err := c.GetMovie(ctx, ref.Slug)
		if err != nil {
			return nil, err
		}
		return &SearchResult{Type: "movie", Movie: movie}, nil
	case "show":
		show, err := c.GetShow(ctx, ref.Slug)
		if err != nil {
			return nil, err
		}
		return &SearchResult{Type: "show", Show: show}, nil
	default:
		show, err := c.GetShow(ctx, ref.Slug)
		if err != nil {
			return nil, err
		}
		episode, err := c.GetEpisode(ctx, ref.Slug, ref.Season, ref.Number)
		if err != nil {
			return nil, err
		}
		return &SearchResult{Type: "episode", Show: show, Episode: episode}, nil
	}
}

// URLRef is the object a trakt.tv URL points to
type URLRef struct {
	Type   string // "movie", "show" or "episode"
	Slug   string
	Season int
	Number int
}

// ParseURL parses trakt.tv/movies/{slug}, /shows/{slug} and
// /shows/{slug}/seasons/{n}/episodes/{n} URLs
func ParseURL(rawURL string) (*URLRef, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "movies":
		return &URLRef{Type: "movie", Slug: parts[1]}, nil
	case len(parts) == 2 && parts[0] == "shows":
		return &URLRef{Type: "show", Slug: parts[1]}, nil
	case len(parts) == 6 && parts[0] == "shows" && parts[2] == "seasons" && parts[4] == "episodes":
		season, err := strconv.Atoi(parts[3])
		if err != nil {
			return nil, fmt.Errorf("invalid season in url %q", rawURL)
		}
		number, err := strconv.Atoi(parts[5])
		if err != nil {
			return nil, fmt.Errorf("invalid episode in url %q", rawURL)
		}
		return &URLRef{Type: "episode", Slug: parts[1], Season: season, Number: number}, nil
	}
	return nil, fmt.Errorf("unsupported trakt url %q", rawURL)
}
