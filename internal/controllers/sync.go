package controllers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/cache"
	"github.com/amaumene/scrobblarr/internal/cancel"
	"github.com/amaumene/scrobblarr/internal/catalog"
	"github.com/amaumene/scrobblarr/internal/events"
	"github.com/amaumene/scrobblarr/internal/history"
	"github.com/amaumene/scrobblarr/internal/metrics"
	"github.com/amaumene/scrobblarr/internal/models"
	"github.com/amaumene/scrobblarr/internal/providers"
	"github.com/amaumene/scrobblarr/internal/syncstore"
	"github.com/amaumene/scrobblarr/internal/utils"
)

// ErrUnknownProvider is returned when a pass is requested for a provider that is not registered
var ErrUnknownProvider = errors.New("unknown provider")

// SyncOptions tunes which loaded items an auto-sync pass commits
type SyncOptions struct {
	MinProgress float64              // percent watched below which items are skipped
	Exclusions  *utils.ExclusionList // titles never committed, may be nil
}

// SyncController runs unattended sync passes: load new history, match, reconcile and commit
type SyncController struct {
	db         *models.Database
	registry   *providers.Registry
	cache      cache.Store
	matcher    *catalog.Matcher
	reconciler *ReconcileController
	committer  *CommitController
	stores     *syncstore.Aggregate
	options    SyncOptions
	dispatcher *events.Dispatcher
	logger     *logrus.Logger

	// one pass at a time, whoever triggers it
	passMu sync.Mutex
}

// NewSyncController creates a new sync controller
func NewSyncController(
	db *models.Database,
	registry *providers.Registry,
	store cache.Store,
	matcher *catalog.Matcher,
	reconciler *ReconcileController,
	committer *CommitController,
	stores *syncstore.Aggregate,
	options SyncOptions,
	dispatcher *events.Dispatcher,
	logger *logrus.Logger,
) *SyncController {
	return &SyncController{
		db:         db,
		registry:   registry,
		cache:      store,
		matcher:    matcher,
		reconciler: reconciler,
		committer:  committer,
		stores:     stores,
		options:    options,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// EnableAutoSync turns auto-sync on for providers that have no resume state yet
func (c *SyncController) EnableAutoSync(providerIDs ...string) error {
	for _, id := range providerIDs {
		if _, ok := c.registry.Get(id); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
		}
		_, err := c.db.GetResumeState(id)
		if err == nil {
			continue
		}
		if !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("failed to get resume state: %w", err)
		}
		state := &models.ResumeState{ProviderID: id, AutoSyncEnabled: true, AutoSyncIntervalDays: 1}
		if err := c.db.SaveResumeState(state); err != nil {
			return fmt.Errorf("failed to save resume state: %w", err)
		}
		c.logger.WithField("provider", id).Info("Enabled auto-sync")
	}
	return nil
}

// Run runs a pass for every provider with auto-sync enabled and due, one after the other
func (c *SyncController) Run(ctx context.Context) error {
	c.logger.Info("Starting auto-sync")

	states, err := c.db.GetAutoSyncStates()
	if err != nil {
		return fmt.Errorf("failed to get auto-sync states: %w", err)
	}

	now := time.Now()
	var errs []error
	for _, state := range states {
		if !state.IsDue(now) {
			c.logger.WithField("provider", state.ProviderID).Debug("Auto-sync not due")
			continue
		}
		if _, ok := c.registry.Get(state.ProviderID); !ok {
			c.logger.WithField("provider", state.ProviderID).Warn("Auto-sync enabled for unregistered provider, skipping")
			continue
		}
		if err := c.RunProvider(ctx, state.ProviderID); err != nil {
			if cancel.IsCanceled(err) {
				return err
			}
			errs = append(errs, err)
		}
	}

	c.logger.Info("Auto-sync completed")
	return errors.Join(errs...)
}

// RunProvider runs one pass for a provider. The resume cursor only moves forward on a
// clean pass; any failure flags the provider for a retry. A canceled pass leaves the
// resume state untouched.
func (c *SyncController) RunProvider(ctx context.Context, providerID string) error {
	p, ok := c.registry.Get(providerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	c.passMu.Lock()
	defer c.passMu.Unlock()

	ctx, span := tracer.Start(ctx, "autosync.RunProvider")
	defer span.End()

	logger := c.logger.WithFields(logrus.Fields{
		"provider": providerID,
		"pass":     uuid.NewString(),
	})

	state, err := c.db.GetResumeStateOrDefault(providerID)
	if err != nil {
		return fmt.Errorf("failed to get resume state: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"since":    state.LastSyncTimestamp,
		"since_id": state.LastSyncID,
	}).Info("Starting sync pass")

	outcome, err := c.pass(ctx, p, state, logger)
	if err != nil && cancel.IsCanceled(err) {
		metrics.AutoSyncPasses.WithLabelValues(providerID, "canceled").Inc()
		logger.Info("Sync pass canceled")
		return err
	}

	state.LastCheckedAt = time.Now()
	if err != nil {
		state.Failed = true
		state.FailureReason = err.Error()
		if saveErr := c.db.SaveResumeState(state); saveErr != nil {
			logger.WithError(saveErr).Error("Failed to save resume state")
		}
		metrics.AutoSyncPasses.WithLabelValues(providerID, "failed").Inc()
		span.RecordError(err)
		logger.WithError(err).Error("Sync pass failed")
		c.dispatcher.Dispatch(events.Event{Name: events.AutoSyncError, ProviderID: providerID, Err: err})
		return fmt.Errorf("sync pass for %s failed: %w", providerID, err)
	}

	state.Failed = false
	state.FailureReason = ""
	if newest := outcome.newest; newest != nil && isAfter(newest, state.LastSyncTimestamp, state.LastSyncID) {
		state.LastSyncTimestamp = newest.WatchedAt
		state.LastSyncID = newest.HistoryID
	}
	if err := c.db.SaveResumeState(state); err != nil {
		return fmt.Errorf("failed to save resume state: %w", err)
	}

	metrics.AutoSyncPasses.WithLabelValues(providerID, "success").Inc()
	logger.WithFields(logrus.Fields{
		"loaded":    outcome.loaded,
		"committed": outcome.committed,
		"cursor":    state.LastSyncTimestamp,
	}).Info("Sync pass completed")
	c.dispatcher.Dispatch(events.Event{Name: events.AutoSyncSuccess, ProviderID: providerID, Count: outcome.committed})
	return nil
}

type passOutcome struct {
	loaded    int
	committed int
	newest    *models.MediaItem // newest item known to be in the remote history
}

func (c *SyncController) pass(ctx context.Context, p providers.Provider, state *models.ResumeState, logger *logrus.Entry) (*passOutcome, error) {
	outcome := &passOutcome{}
	store := c.stores.Store(p.ID())
	store.Reset()

	// Step 1: Load everything newer than the cursor
	loader := history.NewLoader(p, c.cache, c.dispatcher, c.logger)
	loaded, session, err := loader.Load(ctx, nil, 0, state.LastSyncTimestamp, state.LastSyncID)
	if err != nil {
		return nil, err
	}
	store.SetSession(session)
	outcome.loaded = len(loaded)

	// Step 2: Drop partial watches and excluded titles
	var items []*models.MediaItem
	for _, item := range loaded {
		if item.Progress < c.options.MinProgress {
			logger.WithFields(logrus.Fields{
				"title":    item.Title,
				"progress": item.Progress,
			}).Debug("Skipping partially watched item")
			continue
		}
		if excluded, term := c.isExcluded(item); excluded {
			logger.WithFields(logrus.Fields{
				"title": item.Title,
				"term":  term,
			}).Debug("Skipping excluded item")
			continue
		}
		items = append(items, item)
	}
	for i, index := range store.AddItems(items...) {
		items[i].Index = index
	}
	if len(items) == 0 {
		return outcome, nil
	}

	// Step 3: Match everything
	results, err := c.matcher.FindAll(ctx, items)
	if err != nil {
		return nil, err
	}
	var problems []error
	var matched []*models.MediaItem
	for i, res := range results {
		item := items[i]
		if res.Err != nil {
			c.dispatcher.Dispatch(events.Event{Name: events.MatchError, ProviderID: p.ID(), Err: res.Err, Indexes: []int{item.Index}})
			problems = append(problems, fmt.Errorf("failed to match %q: %w", item.Title, res.Err))
			continue
		}
		if res.Match == nil {
			logger.WithField("title", item.Title).Warn("No Trakt match found")
			problems = append(problems, fmt.Errorf("no Trakt match for %q", item.Title))
			continue
		}
		item.Trakt = res.Match
		matched = append(matched, item)
	}

	// Step 4: Look up remote watches for matches not checked yet
	for _, item := range matched {
		if err := c.reconciler.Reconcile(ctx, item.Trakt, item.WatchedAt, false); err != nil {
			if cancel.IsCanceled(err) {
				return nil, err
			}
			problems = append(problems, err)
		}
	}
	updates := make([]syncstore.IndexedItem, len(matched))
	for i, item := range matched {
		updates[i] = syncstore.IndexedItem{Index: item.Index, Item: item}
	}
	if err := store.Update(updates, models.UpdateRefresh); err != nil {
		return nil, err
	}

	// Step 5: Commit what the remote history does not have yet
	var toCommit []*models.MediaItem
	for _, item := range matched {
		switch item.Trakt.WatchStatus {
		case models.WatchAbsent:
			toCommit = append(toCommit, item)
		case models.WatchPresent:
			outcome.newest = newer(outcome.newest, item)
		}
	}
	if len(toCommit) > 0 {
		result, err := c.committer.Sync(ctx, store, toCommit)
		if err != nil {
			return nil, err
		}
		outcome.committed = len(result.Committed)
		for _, item := range result.Committed {
			outcome.newest = newer(outcome.newest, item)
		}
		if len(result.NotFound) > 0 {
			problems = append(problems, fmt.Errorf("%d items not found by Trakt", len(result.NotFound)))
		}
	}

	if len(problems) > 0 {
		return outcome, errors.Join(problems...)
	}
	return outcome, nil
}

func (c *SyncController) isExcluded(item *models.MediaItem) (bool, string) {
	if c.options.Exclusions == nil {
		return false, ""
	}
	if excluded, term := c.options.Exclusions.IsExcluded(item.Title); excluded {
		return true, term
	}
	if item.Show != nil {
		return c.options.Exclusions.IsExcluded(item.Show.Title)
	}
	return false, ""
}

func newer(current, candidate *models.MediaItem) *models.MediaItem {
	if current == nil || isAfter(candidate, current.WatchedAt, current.HistoryID) {
		return candidate
	}
	return current
}

func isAfter(item *models.MediaItem, timestamp int64, id string) bool {
	if item.WatchedAt != timestamp {
		return item.WatchedAt > timestamp
	}
	return item.HistoryID > id
}

// Rematch matches the queued items of a provider's store again, after a correction
// changed what they should resolve to. Items stay queued when the batch fails.
func (c *SyncController) Rematch(ctx context.Context, providerID string) (int, error) {
	store := c.stores.Store(providerID)
	indexes := store.TakeLoadQueue()
	if len(indexes) == 0 {
		return 0, nil
	}

	items := make([]*models.MediaItem, 0, len(indexes))
	for _, index := range indexes {
		if item, ok := store.Item(index); ok {
			items = append(items, item)
		}
	}

	results, err := c.matcher.FindAll(ctx, items)
	if err != nil {
		store.QueueLoad(indexes...)
		return 0, err
	}

	var updates []syncstore.IndexedItem
	for i, res := range results {
		item := items[i]
		if res.Err != nil {
			c.dispatcher.Dispatch(events.Event{Name: events.MatchError, ProviderID: providerID, Err: res.Err, Indexes: []int{item.Index}})
			continue
		}
		item.Trakt = res.Match
		item.Selected = false
		if item.Trakt != nil {
			if err := c.reconciler.Reconcile(ctx, item.Trakt, item.WatchedAt, false); err != nil {
				if cancel.IsCanceled(err) {
					store.QueueLoad(indexes...)
					return 0, err
				}
				c.logger.WithError(err).WithField("title", item.Title).Warn("Failed to reconcile rematched item")
			}
		}
		updates = append(updates, syncstore.IndexedItem{Index: item.Index, Item: item})
	}

	if err := store.Update(updates, models.UpdateRefresh); err != nil {
		return 0, err
	}
	return len(updates), nil
}

// DefaultLoadPageSize is how many items LoadMore appends when the store has no page size
const DefaultLoadPageSize = 50

// LoadResult reports what LoadMore appended to a store
type LoadResult struct {
	Loaded     int
	ReachedEnd bool
}

// LoadMore appends the next page of a provider's history to its store, continuing the
// store's session. A session stopped at the auto-sync cursor continues past it. New items
// are matched and checked against the remote history but never committed.
func (c *SyncController) LoadMore(ctx context.Context, providerID string) (*LoadResult, error) {
	p, ok := c.registry.Get(providerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	c.passMu.Lock()
	defer c.passMu.Unlock()

	ctx, span := tracer.Start(ctx, "sync.LoadMore")
	defer span.End()

	store := c.stores.Store(providerID)
	data := store.Data()
	perPage := data.PerPage
	if perPage <= 0 {
		perPage = DefaultLoadPageSize
	}
	session := data.Session
	if session == nil {
		session = &models.ProviderSessionState{}
	}
	session.HasReachedLastSyncDate = false
	if session.HasReachedEnd() {
		return &LoadResult{ReachedEnd: true}, nil
	}

	// Step 1: Load one page, the store is untouched on failure
	loader := history.NewLoader(p, c.cache, c.dispatcher, c.logger)
	loaded, next, err := loader.Load(ctx, session, perPage, 0, "")
	if err != nil {
		return nil, err
	}
	store.SetSession(next)
	for i, index := range store.AddItems(loaded...) {
		loaded[i].Index = index
	}
	result := &LoadResult{Loaded: len(loaded), ReachedEnd: next.HasReachedEnd()}
	if len(loaded) == 0 {
		return result, nil
	}

	// Step 2: Match the new items; a failed batch is queued for a rematch
	results, err := c.matcher.FindAll(ctx, loaded)
	if err != nil {
		store.QueueLoad(indexesOf(loaded)...)
		return result, err
	}

	// Step 3: Look up remote watches and fold the matches back
	var updates []syncstore.IndexedItem
	for i, res := range results {
		item := loaded[i]
		if res.Err != nil {
			c.dispatcher.Dispatch(events.Event{Name: events.MatchError, ProviderID: providerID, Err: res.Err, Indexes: []int{item.Index}})
			continue
		}
		if res.Match == nil {
			continue
		}
		item.Trakt = res.Match
		if err := c.reconciler.Reconcile(ctx, item.Trakt, item.WatchedAt, false); err != nil {
			if cancel.IsCanceled(err) {
				store.QueueLoad(indexesOf(loaded)...)
				return result, err
			}
			c.logger.WithError(err).WithField("title", item.Title).Warn("Failed to reconcile loaded item")
		}
		updates = append(updates, syncstore.IndexedItem{Index: item.Index, Item: item})
	}
	if err := store.Update(updates, models.UpdateRefresh); err != nil {
		return result, err
	}

	c.logger.WithFields(logrus.Fields{
		"provider":    providerID,
		"loaded":      result.Loaded,
		"matched":     len(updates),
		"reached_end": result.ReachedEnd,
	}).Info("Loaded more history")
	return result, nil
}

func indexesOf(items []*models.MediaItem) []int {
	indexes := make([]int, len(items))
	for i, item := range items {
		indexes[i] = item.Index
	}
	return indexes
}
