package controllers

import (
	"context"
	"fmt"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/cancel"
	"github.com/amaumene/scrobblarr/internal/events"
	"github.com/amaumene/scrobblarr/internal/models"
	"github.com/amaumene/scrobblarr/internal/services/trakt"
)

// DefaultMatchWindow is how far apart a local watch and a remote history record may be
// and still be considered the same occurrence
const DefaultMatchWindow = 26 * time.Hour

// HistoryClient reads and deletes remote history records
type HistoryClient interface {
	GetHistory(ctx context.Context, historyType string, traktID int64) ([]trakt.HistoryRecord, error)
	RemoveFromHistory(ctx context.Context, historyIDs []int64) (*trakt.RemoveHistoryResponse, error)
}

// ReconcileController links local watches to records of the remote history
type ReconcileController struct {
	client     HistoryClient
	records    *gocache.Cache
	window     time.Duration
	dispatcher *events.Dispatcher
	logger     *logrus.Logger
}

// NewReconcileController creates a new reconcile controller. A window of 0 uses DefaultMatchWindow.
func NewReconcileController(client HistoryClient, window time.Duration, dispatcher *events.Dispatcher, logger *logrus.Logger) *ReconcileController {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	return &ReconcileController{
		client:     client,
		records:    gocache.New(15*time.Minute, 30*time.Minute),
		window:     window,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Reconcile sets the watch state of match from the remote history. Matches whose state is
// already known are left alone unless force is set, which also refreshes the remote records.
func (c *ReconcileController) Reconcile(ctx context.Context, match *models.CatalogMatch, localWatchedAt int64, force bool) error {
	if match == nil || match.ID == 0 {
		return nil
	}
	if !force && match.WatchStatus != models.WatchUnknown {
		return nil
	}

	records, err := c.history(ctx, match, force)
	if err != nil {
		if ctxErr := cancel.Cause(ctx); ctxErr != nil {
			return ctxErr
		}
		c.dispatcher.Dispatch(events.Event{Name: events.ReconcileError, Err: err})
		return fmt.Errorf("failed to reconcile %s: %w", match.DatabaseID(), err)
	}

	c.apply(match, records, localWatchedAt)

	c.logger.WithFields(logrus.Fields{
		"match":   match.DatabaseID(),
		"status":  match.WatchStatus,
		"sync_id": match.SyncID,
		"others":  len(match.OtherWatches),
	}).Debug("Reconciled watch")
	return nil
}

// apply picks the record matching localWatchedAt: an exact timestamp wins, otherwise the
// earliest record within the window. Every other record becomes an other watch.
// Earliest rather than closest: of records at T-30h, T-20h and T+1h, T-20h is chosen.
func (c *ReconcileController) apply(match *models.CatalogMatch, records []trakt.HistoryRecord, localWatchedAt int64) {
	sorted := append([]trakt.HistoryRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].WatchedAt.Before(sorted[j].WatchedAt)
	})

	chosen := -1
	if localWatchedAt > 0 {
		for i, r := range sorted {
			if r.WatchedAt.Unix() == localWatchedAt {
				chosen = i
				break
			}
		}
		if chosen < 0 {
			window := int64(c.window / time.Second)
			for i, r := range sorted {
				diff := r.WatchedAt.Unix() - localWatchedAt
				if diff >= -window && diff <= window {
					chosen = i
					break
				}
			}
		}
	}

	var others []int64
	for i, r := range sorted {
		if i != chosen {
			others = append(others, r.ID)
		}
	}

	if chosen < 0 {
		match.SetNotWatched(others)
		return
	}
	match.SetWatched(sorted[chosen].ID, sorted[chosen].WatchedAt.Unix(), others)
}

// Remove deletes the remote record linked to match and forgets its watch state
func (c *ReconcileController) Remove(ctx context.Context, match *models.CatalogMatch) error {
	if match == nil || match.SyncID == 0 {
		return fmt.Errorf("match has no remote history record")
	}

	resp, err := c.client.RemoveFromHistory(ctx, []int64{match.SyncID})
	if err != nil {
		if ctxErr := cancel.Cause(ctx); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to remove history record %d: %w", match.SyncID, err)
	}
	for _, id := range resp.NotFound.IDs {
		if id == match.SyncID {
			c.logger.WithField("sync_id", id).Warn("History record was already gone")
		}
	}

	c.records.Delete(recordsKey(match))
	c.logger.WithFields(logrus.Fields{
		"match":   match.DatabaseID(),
		"sync_id": match.SyncID,
	}).Info("Removed watch from history")
	match.ResetWatch()
	return nil
}

func (c *ReconcileController) history(ctx context.Context, match *models.CatalogMatch, refresh bool) ([]trakt.HistoryRecord, error) {
	key := recordsKey(match)
	if !refresh {
		if cached, ok := c.records.Get(key); ok {
			return cached.([]trakt.HistoryRecord), nil
		}
	}

	records, err := c.client.GetHistory(ctx, historyType(match.Type), match.ID)
	if err != nil {
		return nil, err
	}
	c.records.SetDefault(key, records)
	return records, nil
}

func recordsKey(match *models.CatalogMatch) string {
	return match.DatabaseID()
}

func historyType(t models.MediaType) string {
	if t == models.MediaTypeEpisode {
		return "episodes"
	}
	return "movies"
}
