package controllers

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amaumene/scrobblarr/internal/cache"
	"github.com/amaumene/scrobblarr/internal/cancel"
	"github.com/amaumene/scrobblarr/internal/events"
	"github.com/amaumene/scrobblarr/internal/metrics"
	"github.com/amaumene/scrobblarr/internal/models"
	"github.com/amaumene/scrobblarr/internal/services/trakt"
	"github.com/amaumene/scrobblarr/internal/syncstore"
)

var tracer = otel.Tracer("github.com/amaumene/scrobblarr/internal/controllers")

// CommitClient submits watches to the remote history
type CommitClient interface {
	AddToHistory(ctx context.Context, request trakt.SyncHistoryRequest) (*trakt.SyncHistoryResponse, error)
}

// CommitResult reports what happened to each item of a commit
type CommitResult struct {
	Committed []*models.MediaItem // accepted and reconciled
	NotFound  []*models.MediaItem // rejected by the remote, left untouched
	Skipped   []*models.MediaItem // without a match or a watched time, never sent
}

// CommitController writes local watches to the remote history
type CommitController struct {
	client     CommitClient
	reconciler *ReconcileController
	cache      cache.Store
	dispatcher *events.Dispatcher
	logger     *logrus.Logger
}

// NewCommitController creates a new commit controller
func NewCommitController(client CommitClient, reconciler *ReconcileController, store cache.Store, dispatcher *events.Dispatcher, logger *logrus.Logger) *CommitController {
	return &CommitController{
		client:     client,
		reconciler: reconciler,
		cache:      store,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Sync commits items in a single request. Accepted items are reconciled against the remote
// history, folded back into store by index and written to the items cache table.
// Items the remote reports as not found are returned untouched in the result.
func (c *CommitController) Sync(ctx context.Context, store *syncstore.Store, items []*models.MediaItem) (*CommitResult, error) {
	ctx, span := tracer.Start(ctx, "commit.Sync")
	defer span.End()

	result := &CommitResult{}

	// Step 1: Build one request body partitioned by type
	var request trakt.SyncHistoryRequest
	var batch []*models.MediaItem
	for _, item := range items {
		if !item.IsMatched() || item.WatchedAt <= 0 {
			result.Skipped = append(result.Skipped, item)
			continue
		}
		syncItem := trakt.NewSyncItem(item.Trakt.ID, item.WatchedAt)
		switch item.Trakt.Type {
		case models.MediaTypeMovie:
			request.Movies = append(request.Movies, syncItem)
		case models.MediaTypeEpisode:
			request.Episodes = append(request.Episodes, syncItem)
		default:
			result.Skipped = append(result.Skipped, item)
			continue
		}
		batch = append(batch, item.Clone())
	}
	span.SetAttributes(
		attribute.Int("movies", len(request.Movies)),
		attribute.Int("episodes", len(request.Episodes)),
	)
	if len(batch) == 0 {
		return result, nil
	}

	tables, err := c.cache.Get(ctx, cache.TableItems)
	if err != nil {
		return nil, fmt.Errorf("failed to load items cache: %w", err)
	}

	// Step 2: Submit the whole batch
	resp, err := c.client.AddToHistory(ctx, request)
	if err != nil {
		if ctxErr := cancel.Cause(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		span.RecordError(err)
		c.dispatcher.Dispatch(events.Event{Name: events.CommitError, Err: err, Count: len(batch)})
		return nil, fmt.Errorf("failed to commit %d items: %w", len(batch), err)
	}

	// Step 3: Reconcile accepted items, leave rejected ones untouched
	notFound := map[models.MediaType]map[int64]bool{
		models.MediaTypeMovie:   resp.NotFoundMovies(),
		models.MediaTypeEpisode: resp.NotFoundEpisodes(),
	}
	itemsTable := tables.Table(cache.TableItems)
	var updates []syncstore.IndexedItem
	for _, item := range batch {
		if notFound[item.Trakt.Type][item.Trakt.ID] {
			result.NotFound = append(result.NotFound, item)
			metrics.CommitItems.WithLabelValues(string(item.Trakt.Type), "not_found").Inc()
			c.logger.WithFields(logrus.Fields{
				"title":    item.Title,
				"trakt_id": item.Trakt.ID,
			}).Warn("Item not found by Trakt, not committed")
			continue
		}

		if err := c.reconciler.Reconcile(ctx, item.Trakt, item.WatchedAt, true); err != nil {
			if !cancel.IsCanceled(err) {
				c.logger.WithError(err).WithField("title", item.Title).Warn("Failed to reconcile committed item")
			}
			item.Trakt.SetWatched(item.Trakt.SyncID, item.WatchedAt, item.Trakt.OtherWatches)
		}
		item.Selected = false

		result.Committed = append(result.Committed, item)
		metrics.CommitItems.WithLabelValues(string(item.Trakt.Type), "added").Inc()
		updates = append(updates, syncstore.IndexedItem{Index: item.Index, Item: item})
		if err := cache.Set(itemsTable, item.DatabaseID(), cachedItem(item)); err != nil {
			return nil, fmt.Errorf("failed to encode committed item: %w", err)
		}
	}

	// Step 4: Fold confirmed items back and flush them once. The remote history already
	// holds them, so a cancellation from here on must not drop the bookkeeping.
	if store != nil && len(updates) > 0 {
		if err := store.Update(updates, models.UpdateConfirm); err != nil {
			c.logger.WithError(err).Warn("Failed to update sync store with committed items")
		}
	}
	if err := c.cache.Set(context.WithoutCancel(ctx), tables); err != nil {
		return nil, fmt.Errorf("failed to save committed items: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"committed": len(result.Committed),
		"not_found": len(result.NotFound),
		"skipped":   len(result.Skipped),
	}).Info("Committed watches to Trakt")
	c.dispatcher.Dispatch(events.Event{
		Name:       events.CommitSuccess,
		ProviderID: providerOf(store),
		Count:      len(result.Committed),
	})
	return result, nil
}

// cachedItem is the form of item kept in the items table. The table is keyed by media,
// shared by every history occurrence, so watch bookkeeping and selection stay out of it.
func cachedItem(item *models.MediaItem) *models.MediaItem {
	c := item.Clone()
	c.Selected = false
	c.HistoryID = ""
	if c.Trakt != nil {
		c.Trakt = c.Trakt.WithoutSyncState()
	}
	return c
}

func providerOf(store *syncstore.Store) string {
	if store == nil {
		return ""
	}
	return store.ProviderID()
}

// Undo deletes the remote record of the committed item at index and refreshes the store
// and the items cache table.
func (c *CommitController) Undo(ctx context.Context, store *syncstore.Store, index int) (*models.MediaItem, error) {
	item, ok := store.Item(index)
	if !ok {
		return nil, fmt.Errorf("item index %d out of range", index)
	}
	if !item.IsCommitted() || item.Trakt.SyncID == 0 {
		return nil, fmt.Errorf("item %d has no remote history record", index)
	}

	tables, err := c.cache.Get(ctx, cache.TableItems)
	if err != nil {
		return nil, fmt.Errorf("failed to load items cache: %w", err)
	}
	if err := c.reconciler.Remove(ctx, item.Trakt); err != nil {
		return nil, err
	}

	if err := store.Update([]syncstore.IndexedItem{{Index: index, Item: item}}, models.UpdateRefresh); err != nil {
		return nil, err
	}
	if err := cache.Set(tables.Table(cache.TableItems), item.DatabaseID(), cachedItem(item)); err != nil {
		return nil, fmt.Errorf("failed to encode item: %w", err)
	}
	if err := c.cache.Set(context.WithoutCancel(ctx), tables); err != nil {
		return nil, fmt.Errorf("failed to save item: %w", err)
	}
	return item, nil
}
