package handlers

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/cancel"
	"github.com/amaumene/scrobblarr/internal/controllers"
	"github.com/amaumene/scrobblarr/internal/models"
	"github.com/amaumene/scrobblarr/internal/providers"
	"github.com/amaumene/scrobblarr/internal/syncstore"
)

const defaultPerPage = 50

// ItemsHandler serves the loaded items of each provider and commits selections
type ItemsHandler struct {
	registry  *providers.Registry
	stores    *syncstore.Aggregate
	committer *controllers.CommitController
	syncCtrl  *controllers.SyncController
	cancels   *cancel.Registry
	logger    *logrus.Logger
}

// NewItemsHandler creates a new items handler
func NewItemsHandler(
	registry *providers.Registry,
	stores *syncstore.Aggregate,
	committer *controllers.CommitController,
	syncCtrl *controllers.SyncController,
	cancels *cancel.Registry,
	logger *logrus.Logger,
) *ItemsHandler {
	return &ItemsHandler{
		registry:  registry,
		stores:    stores,
		committer: committer,
		syncCtrl:  syncCtrl,
		cancels:   cancels,
		logger:    logger,
	}
}

// CommitCancelKey returns the cancel key of the commits of a provider
func CommitCancelKey(providerID string) string {
	return "commit:" + providerID
}

// ItemsResponse is one page of items
type ItemsResponse struct {
	Provider   string              `json:"provider"`
	Page       int                 `json:"page"`
	PerPage    int                 `json:"per_page"`
	TotalPages int                 `json:"total_pages"`
	Items      []*models.MediaItem `json:"items"`
}

// CommitResponse summarizes a commit
type CommitResponse struct {
	Committed int      `json:"committed"`
	NotFound  []string `json:"not_found"`
	Skipped   int      `json:"skipped"`
}

// SelectionRequest selects or deselects one item
type SelectionRequest struct {
	Selected bool `json:"selected"`
}

func (h *ItemsHandler) store(w http.ResponseWriter, r *http.Request) (*syncstore.Store, bool) {
	id := r.PathValue("provider")
	if _, ok := h.registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "Unknown provider")
		return nil, false
	}
	return h.stores.Store(id), true
}

func pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid item index")
		return 0, false
	}
	return index, true
}

// List handles GET /api/providers/{provider}/items
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", defaultPerPage)
	items, total := store.Page(page, perPage)
	if items == nil {
		items = []*models.MediaItem{}
	}

	writeJSON(w, http.StatusOK, ItemsResponse{
		Provider:   store.ProviderID(),
		Page:       page,
		PerPage:    perPage,
		TotalPages: total,
		Items:      items,
	})
}

// Select handles POST /api/providers/{provider}/items/{index}/selection
func (h *ItemsHandler) Select(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}

	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := store.SetSelected(index, req.Selected); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"selected": len(store.SelectedItems())})
}

// SelectAll handles POST /api/providers/{provider}/selection
func (h *ItemsHandler) SelectAll(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"selected": store.SelectAll()})
}

// ClearSelection handles DELETE /api/providers/{provider}/selection
func (h *ItemsHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	store.ClearSelection()
	writeJSON(w, http.StatusOK, map[string]int{"selected": 0})
}

// Commit handles POST /api/providers/{provider}/commit
func (h *ItemsHandler) Commit(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	selected := store.SelectedItems()
	if len(selected) == 0 {
		writeError(w, http.StatusBadRequest, "No item selected")
		return
	}

	ctx, release := h.cancels.WithKey(r.Context(), CommitCancelKey(store.ProviderID()))
	defer release()

	result, err := h.committer.Sync(ctx, store, selected)
	if err != nil {
		if cancel.IsCanceled(err) {
			writeError(w, http.StatusConflict, "Commit canceled")
			return
		}
		writeInternalError(w, h.logger, err, "Failed to commit items")
		return
	}

	response := CommitResponse{
		Committed: len(result.Committed),
		NotFound:  []string{},
		Skipped:   len(result.Skipped),
	}
	for _, item := range result.NotFound {
		response.NotFound = append(response.NotFound, item.Title)
	}
	writeJSON(w, http.StatusOK, response)
}

// Undo handles DELETE /api/providers/{provider}/items/{index}/watch
func (h *ItemsHandler) Undo(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}

	item, ok := store.Item(index)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown item")
		return
	}
	if !item.IsCommitted() {
		writeError(w, http.StatusConflict, "Item is not in the Trakt history")
		return
	}

	item, err := h.committer.Undo(r.Context(), store, index)
	if err != nil {
		writeInternalError(w, h.logger, err, "Failed to remove watch")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// LoadResponse summarizes a load of the next history page
type LoadResponse struct {
	Loaded     int  `json:"loaded"`
	ReachedEnd bool `json:"reached_end"`
}

// Load handles POST /api/providers/{provider}/load
func (h *ItemsHandler) Load(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	result, err := h.syncCtrl.LoadMore(r.Context(), store.ProviderID())
	if err != nil {
		if cancel.IsCanceled(err) {
			writeError(w, http.StatusConflict, "Load canceled")
			return
		}
		writeInternalError(w, h.logger, err, "Failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, LoadResponse{Loaded: result.Loaded, ReachedEnd: result.ReachedEnd})
}

// Rematch handles POST /api/providers/{provider}/rematch
func (h *ItemsHandler) Rematch(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	n, err := h.syncCtrl.Rematch(r.Context(), store.ProviderID())
	if err != nil {
		if cancel.IsCanceled(err) {
			writeError(w, http.StatusConflict, "Rematch canceled")
			return
		}
		writeInternalError(w, h.logger, err, "Failed to rematch items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rematched": n})
}
