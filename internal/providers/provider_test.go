package providers_test

import (
	"testing"

	"github.com/amaumene/scrobblarr/internal/providers"
	"github.com/amaumene/scrobblarr/internal/providers/providertest"
)

func TestRegistry(t *testing.T) {
	registry, err := providers.NewRegistry(providertest.New("netflix"), providertest.New("hbo"))
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}

	ids := registry.IDs()
	if len(ids) != 2 || ids[0] != "hbo" || ids[1] != "netflix" {
		t.Errorf("Expected [hbo netflix], got %v", ids)
	}

	if _, ok := registry.Get("netflix"); !ok {
		t.Error("Expected netflix to be registered")
	}
	if _, ok := registry.Get("disney"); ok {
		t.Error("Expected disney not to be registered")
	}

	if err := registry.Register(providertest.New("hbo")); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}

func TestHistoryItemTime(t *testing.T) {
	p := providertest.New("netflix")
	raw := providertest.Movie("h1", "Heat", 1995, 1700000000)

	if got := providers.HistoryItemTime(p, raw); got != 1700000000 {
		t.Errorf("Expected 1700000000, got %d", got)
	}
}
