package catalog

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/amaumene/scrobblarr/internal/services/trakt"
)

var leadingArticles = map[string]bool{"a": true, "an": true, "the": true}

// NormalizeTitle case-folds title, drops one leading "a", "an" or "the" and removes all whitespace.
// Two titles are considered equal when their normalized forms are.
func NormalizeTitle(title string) string {
	fields := strings.Fields(cases.Fold().String(title))
	if len(fields) > 1 && leadingArticles[fields[0]] {
		fields = fields[1:]
	}
	return strings.Join(fields, "")
}

// titlesMatch reports whether one normalized title contains the other
func titlesMatch(a, b string) bool {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

// CanonicalURL rewrites a trakt.tv URL to its canonical form
func CanonicalURL(rawURL string) (string, error) {
	ref, err := trakt.ParseURL(rawURL)
	if err != nil {
		return "", err
	}
	slug := strings.ToLower(ref.Slug)
	switch ref.Type {
	case "movie":
		return "https://trakt.tv/movies/" + slug, nil
	case "show":
		return "https://trakt.tv/shows/" + slug, nil
	default:
		return fmt.Sprintf("https://trakt.tv/shows/%s/seasons/%d/episodes/%d", slug, ref.Season, ref.Number), nil
	}
}
