// Package history pages through a provider's watch history and turns raw
// records into media items, reusing cached conversions.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amaumene/scrobblarr/internal/cache"
	"github.com/amaumene/scrobblarr/internal/cancel"
	"github.com/amaumene/scrobblarr/internal/events"
	"github.com/amaumene/scrobblarr/internal/metrics"
	"github.com/amaumene/scrobblarr/internal/models"
	"github.com/amaumene/scrobblarr/internal/providers"
)

// ErrItemGetterUnsupported is returned by GetItem for providers that cannot fetch single items
var ErrItemGetterUnsupported = errors.New("provider cannot fetch single items")

var tracer = otel.Tracer("github.com/amaumene/scrobblarr/internal/history")

// Tables is the set of cache tables the loader reads and writes
var Tables = []string{cache.TableHistoryItemsToItems, cache.TableItems, cache.TableServicesData}

// Loader loads the history of one provider
type Loader struct {
	provider   providers.Provider
	store      cache.Store
	dispatcher *events.Dispatcher
	logger     *logrus.Logger
}

// NewLoader creates a loader for provider
func NewLoader(provider providers.Provider, store cache.Store, dispatcher *events.Dispatcher, logger *logrus.Logger) *Loader {
	return &Loader{
		provider:   provider,
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// ProviderID returns the id of the provider the loader reads
func (l *Loader) ProviderID() string {
	return l.provider.ID()
}

// Load returns up to itemsToLoad items newer than (sinceTimestamp, sinceID), or every
// remaining item when itemsToLoad is 0 or less. sinceTimestamp 0 disables the filter.
//
// state is never modified: the advanced cursor is returned as a new state. On error,
// including cancellation, nothing is written to the cache and state stays valid for a retry.
func (l *Loader) Load(ctx context.Context, state *models.ProviderSessionState, itemsToLoad int, sinceTimestamp int64, sinceID string) ([]*models.MediaItem, *models.ProviderSessionState, error) {
	ctx, span := tracer.Start(ctx, "history.Load")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", l.provider.ID()),
		attribute.Int("items_to_load", itemsToLoad),
	)

	if state == nil {
		state = &models.ProviderSessionState{}
	}

	items, newState, err := l.load(ctx, state, itemsToLoad, sinceTimestamp, sinceID)
	if err != nil {
		if cancel.IsCanceled(err) {
			l.logger.WithField("provider", l.provider.ID()).Debug("History load canceled")
		} else {
			span.RecordError(err)
			l.logger.WithError(err).WithField("provider", l.provider.ID()).Error("Failed to load history")
		}
		l.dispatcher.Dispatch(events.Event{Name: events.HistoryLoadError, ProviderID: l.provider.ID(), Err: err})
		return nil, state, err
	}

	l.logger.WithFields(logrus.Fields{
		"provider":          l.provider.ID(),
		"items":             len(items),
		"reached_end":       newState.HasReachedEnd(),
		"reached_last_sync": newState.HasReachedLastSyncDate,
	}).Debug("Loaded history")
	return items, newState, nil
}

func (l *Loader) load(ctx context.Context, state *models.ProviderSessionState, itemsToLoad int, sinceTimestamp int64, sinceID string) ([]*models.MediaItem, *models.ProviderSessionState, error) {
	tables, err := l.store.Get(ctx, Tables...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history cache: %w", err)
	}

	s := state.Clone()
	quotaReached := func(n int) bool { return itemsToLoad > 0 && n >= itemsToLoad }

	var accepted []models.RawHistoryItem
	for !s.HasReachedEnd() && !quotaReached(len(accepted)) {
		var raws []models.RawHistoryItem
		if len(s.LeftoverItems) > 0 {
			raws = s.LeftoverItems
			s.LeftoverItems = nil
		} else {
			page, err := l.provider.LoadHistoryItems(ctx, s)
			if err != nil {
				if ctxErr := cancel.Cause(ctx); ctxErr != nil {
					return nil, nil, ctxErr
				}
				return nil, nil, fmt.Errorf("failed to load history page: %w", err)
			}
			if len(page) == 0 {
				s.HasReachedHistoryEnd = true
			}
			if !s.HasCheckedHistoryCache {
				page = l.checkHistoryCache(tables, s, page)
			}
			s.Fetched = append(s.Fetched, page...)
			raws = page
		}

		for i, raw := range raws {
			isNew := sinceTimestamp == 0 || l.provider.IsNewHistoryItem(raw, sinceTimestamp, sinceID)
			if quotaReached(len(accepted)) {
				s.LeftoverItems = append([]models.RawHistoryItem(nil), raws[i:]...)
				if !isNew {
					s.HasReachedLastSyncDate = true
				}
				break
			}
			if !isNew {
				s.HasReachedLastSyncDate = true
				s.LeftoverItems = append([]models.RawHistoryItem(nil), raws[i:]...)
				break
			}
			accepted = append(accepted, raw)
		}
	}

	items, err := l.toMediaItems(ctx, tables, accepted)
	if err != nil {
		return nil, nil, err
	}

	if len(s.Fetched) > 0 {
		if err := cache.Set(tables.Table(cache.TableServicesData), l.provider.ID(), l.snapshot(s)); err != nil {
			return nil, nil, fmt.Errorf("failed to encode history snapshot: %w", err)
		}
	}

	if err := cancel.Cause(ctx); err != nil {
		return nil, nil, err
	}
	if err := l.store.Set(ctx, tables); err != nil {
		return nil, nil, fmt.Errorf("failed to save history cache: %w", err)
	}
	return items, s, nil
}

// checkHistoryCache reconciles the first page of a session with the snapshot of the
// previous one. An empty live history, or a live first item newer than the snapshot's
// first item, makes the snapshot stale; otherwise, ties included, the snapshot is kept
// in front of the live page and its cursor restored.
func (l *Loader) checkHistoryCache(tables *cache.Tables, s *models.ProviderSessionState, page []models.RawHistoryItem) []models.RawHistoryItem {
	s.HasCheckedHistoryCache = true

	data, ok := cache.Get[models.ServiceData](tables.Table(cache.TableServicesData), l.provider.ID())
	if !ok || len(data.Items) == 0 {
		return page
	}

	if len(page) == 0 || l.isNewerThanSnapshot(page[0], &data) {
		tables.Table(cache.TableServicesData).Remove(l.provider.ID())
		l.logger.WithField("provider", l.provider.ID()).Debug("Discarding stale history snapshot")
		return page
	}

	seen := make(map[string]bool, len(data.Items))
	merged := make([]models.RawHistoryItem, 0, len(data.Items)+len(page))
	for _, raw := range data.Items {
		seen[l.provider.HistoryItemID(raw)] = true
		merged = append(merged, raw)
	}
	for _, raw := range page {
		if !seen[l.provider.HistoryItemID(raw)] {
			merged = append(merged, raw)
		}
	}

	s.NextPage = data.NextPage
	s.NextURL = data.NextURL
	s.HasReachedHistoryEnd = data.HasReachedHistoryEnd

	l.logger.WithFields(logrus.Fields{
		"provider": l.provider.ID(),
		"cached":   len(data.Items),
	}).Debug("Restored history snapshot")
	return merged
}

func (l *Loader) isNewerThanSnapshot(raw models.RawHistoryItem, data *models.ServiceData) bool {
	if l.provider.HistoryItemID(raw) == data.FirstID {
		return false
	}
	if providers.HistoryItemTime(l.provider, raw) == data.FirstWatchedAt {
		return false
	}
	return l.provider.IsNewHistoryItem(raw, data.FirstWatchedAt, data.FirstID)
}

func (l *Loader) snapshot(s *models.ProviderSessionState) models.ServiceData {
	first := s.Fetched[0]
	return models.ServiceData{
		NextPage:             s.NextPage,
		NextURL:              s.NextURL,
		HasReachedHistoryEnd: s.HasReachedHistoryEnd,
		Items:                s.Fetched,
		FirstWatchedAt:       providers.HistoryItemTime(l.provider, first),
		FirstID:              l.provider.HistoryItemID(first),
	}
}

// toMediaItems reuses cached items and converts the misses in one batch, preserving order
func (l *Loader) toMediaItems(ctx context.Context, tables *cache.Tables, raws []models.RawHistoryItem) ([]*models.MediaItem, error) {
	historyTable := tables.Table(cache.TableHistoryItemsToItems)
	itemsTable := tables.Table(cache.TableItems)

	items := make([]*models.MediaItem, len(raws))
	var missIndexes []int
	var misses []models.RawHistoryItem
	for i, raw := range raws {
		historyID := l.provider.HistoryItemID(raw)
		if databaseID, ok := cache.Get[string](historyTable, historyID); ok {
			if cached, ok := cache.Get[models.MediaItem](itemsTable, databaseID); ok {
				item := cached
				l.provider.UpdateItemFromHistory(&item, raw)
				item.HistoryID = historyID
				item.Selected = false
				if item.Trakt != nil {
					item.Trakt = item.Trakt.WithoutSyncState()
				}
				items[i] = &item
				continue
			}
		}
		missIndexes = append(missIndexes, i)
		misses = append(misses, raw)
	}

	if reused := len(raws) - len(misses); reused > 0 {
		metrics.HistoryItemsLoaded.WithLabelValues(l.provider.ID(), "cache").Add(float64(reused))
	}
	if len(misses) == 0 {
		return items, nil
	}

	converted, err := l.provider.ConvertHistoryItems(ctx, misses)
	if err != nil {
		if ctxErr := cancel.Cause(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to convert history items: %w", err)
	}
	if len(converted) != len(misses) {
		return nil, fmt.Errorf("provider %s converted %d of %d history items", l.provider.ID(), len(converted), len(misses))
	}

	for j, item := range converted {
		historyID := l.provider.HistoryItemID(misses[j])
		item.HistoryID = historyID
		items[missIndexes[j]] = item
		databaseID := item.DatabaseID()
		if err := cache.Set(historyTable, historyID, databaseID); err != nil {
			return nil, err
		}
		if err := cache.Set(itemsTable, databaseID, item); err != nil {
			return nil, err
		}
	}
	metrics.HistoryItemsLoaded.WithLabelValues(l.provider.ID(), "converted").Add(float64(len(converted)))
	return items, nil
}

// GetItem fetches a single item when the provider supports it
func (l *Loader) GetItem(ctx context.Context, id string) (*models.MediaItem, error) {
	getter, ok := l.provider.(providers.ItemGetter)
	if !ok {
		return nil, ErrItemGetterUnsupported
	}
	item, err := getter.GetItem(ctx, id)
	if err != nil {
		if ctxErr := cancel.Cause(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return item, nil
}
