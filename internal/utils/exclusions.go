package utils

import (
	"bufio"
	"os"
	"strings"
)

// ExclusionList holds terms of titles that must never be committed
type ExclusionList struct {
	terms []string
}

// NewExclusionList creates a list from terms
func NewExclusionList(terms ...string) *ExclusionList {
	return &ExclusionList{terms: terms}
}

// LoadExclusionList loads exclusion terms from a file, one per line
func LoadExclusionList(path string) (*ExclusionList, error) {
	// If file doesn't exist, return empty list
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &ExclusionList{terms: []string{}}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var terms []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		term := strings.TrimSpace(scanner.Text())
		if term != "" && !strings.HasPrefix(term, "#") {
			terms = append(terms, term)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &ExclusionList{terms: terms}, nil
}

// IsExcluded checks if a title matches any exclusion term
// Returns (isExcluded, matchedTerm)
func (l *ExclusionList) IsExcluded(title string) (bool, string) {
	if l == nil {
		return false, ""
	}
	titleLower := strings.ToLower(title)

	for _, term := range l.terms {
		termLower := strings.ToLower(term)
		if strings.Contains(titleLower, termLower) {
			return true, term
		}
	}

	return false, ""
}

// Len returns the number of terms
func (l *ExclusionList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.terms)
}
