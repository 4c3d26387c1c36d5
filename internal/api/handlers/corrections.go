package handlers

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/catalog"
	"github.com/amaumene/scrobblarr/internal/models"
	"github.com/amaumene/scrobblarr/internal/syncstore"
)

// CorrectionsHandler manages the correction overlay
type CorrectionsHandler struct {
	corrections *catalog.Corrections
	stores      *syncstore.Aggregate
	logger      *logrus.Logger
}

// NewCorrectionsHandler creates a new corrections handler
func NewCorrectionsHandler(corrections *catalog.Corrections, stores *syncstore.Aggregate, logger *logrus.Logger) *CorrectionsHandler {
	return &CorrectionsHandler{
		corrections: corrections,
		stores:      stores,
		logger:      logger,
	}
}

// CorrectionRequest pins an item to a Trakt id or a Trakt URL
type CorrectionRequest struct {
	DatabaseID string           `json:"database_id"`
	Type       models.MediaType `json:"type,omitempty"`
	TraktID    int64            `json:"trakt_id,omitempty"`
	URL        string           `json:"url,omitempty"`
}

// List handles GET /api/corrections
func (h *CorrectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	corrections, err := h.corrections.List()
	if err != nil {
		writeInternalError(w, h.logger, err, "Failed to list corrections")
		return
	}
	if corrections == nil {
		corrections = []*models.Correction{}
	}
	writeJSON(w, http.StatusOK, corrections)
}

// Put handles PUT /api/corrections
func (h *CorrectionsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	correction := &models.Correction{
		DatabaseID: req.DatabaseID,
		Type:       req.Type,
		TraktID:    req.TraktID,
		URL:        req.URL,
		Source:     models.CorrectionSourceUser,
	}
	if err := h.corrections.Put(correction); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.queueRematch(correction.DatabaseID)
	writeJSON(w, http.StatusOK, correction)
}

// Delete handles DELETE /api/corrections/{id}
func (h *CorrectionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.corrections.Delete(id); err != nil {
		writeInternalError(w, h.logger, err, "Failed to delete correction")
		return
	}

	h.queueRematch(id)
	w.WriteHeader(http.StatusNoContent)
}

// queueRematch schedules every loaded occurrence of the item for a new match
func (h *CorrectionsHandler) queueRematch(databaseID string) {
	for _, store := range h.stores.Stores() {
		var indexes []int
		for _, item := range store.Items() {
			if item.DatabaseID() == databaseID {
				indexes = append(indexes, item.Index)
			}
		}
		if len(indexes) > 0 {
			store.QueueLoad(indexes...)
			h.logger.WithFields(logrus.Fields{
				"provider": store.ProviderID(),
				"items":    len(indexes),
			}).Debug("Queued items for rematch")
		}
	}
}
