package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLoadExclusionList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exclusions.txt")
	content := "# trailers are not real watches\ntrailer\n\n  Sample  \n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	list, err := LoadExclusionList(path)
	if err != nil {
		t.Fatalf("Failed to load list: %v", err)
	}
	if list.Len() != 2 {
		t.Fatalf("Expected 2 terms, got %d", list.Len())
	}

	excluded, term := list.IsExcluded("Dune Official TRAILER")
	if !excluded || term != "trailer" {
		t.Errorf("Expected title to be excluded by 'trailer', got %v %q", excluded, term)
	}
	if excluded, _ := list.IsExcluded("Dune"); excluded {
		t.Error("Expected Dune not to be excluded")
	}
}

func TestLoadExclusionListMissingFile(t *testing.T) {
	list, err := LoadExclusionList(filepath.Join(t.TempDir(), "missing.txt"))
	if err != nil {
		t.Fatalf("Expected missing file to be ignored, got %v", err)
	}
	if list.Len() != 0 {
		t.Errorf("Expected empty list, got %d terms", list.Len())
	}
}

func TestTitleSimilarity(t *testing.T) {
	if got := TitleSimilarity("The Office", "the office"); got != 1 {
		t.Errorf("Expected 1 for case-only difference, got %v", got)
	}
	if got := TitleSimilarity("kitten", "sitting"); got < 0.57 || got > 0.58 {
		t.Errorf("Expected about 0.571, got %v", got)
	}
	if got := TitleSimilarity("", ""); got != 1 {
		t.Errorf("Expected 1 for two empty titles, got %v", got)
	}
	if got := TitleSimilarity("abc", "xyz"); got != 0 {
		t.Errorf("Expected 0 for disjoint titles, got %v", got)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "json")
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", logger.GetLevel())
	}
	logger.WithField("provider", "jellyfin").Debug("Loaded page")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"provider":"jellyfin"`) {
		t.Errorf("Expected a JSON entry, got %q", buf.String())
	}

	buf.Reset()
	logger = newLogger(&buf, "nonsense", "")
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("Expected info level fallback, got %s", logger.GetLevel())
	}
	logger.Info("Started")
	if !strings.Contains(buf.String(), `msg=Started`) {
		t.Errorf("Expected a text entry, got %q", buf.String())
	}
}
