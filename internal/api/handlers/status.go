package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/cancel"
	"github.com/amaumene/scrobblarr/internal/events"
	"github.com/amaumene/scrobblarr/internal/models"
	"github.com/amaumene/scrobblarr/internal/scheduler"
	"github.com/amaumene/scrobblarr/internal/syncstore"
)

// StatusHandler handles status requests
type StatusHandler struct {
	db       *models.Database
	stores   *syncstore.Aggregate
	recorder *events.Recorder
	cancels  *cancel.Registry
	logger   *logrus.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(db *models.Database, stores *syncstore.Aggregate, recorder *events.Recorder, cancels *cancel.Registry, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		db:       db,
		stores:   stores,
		recorder: recorder,
		cancels:  cancels,
		logger:   logger,
	}
}

// ProviderStatus is the sync state of one provider
type ProviderStatus struct {
	ID                string     `json:"id"`
	AutoSyncEnabled   bool       `json:"auto_sync_enabled"`
	LastSyncTimestamp int64      `json:"last_sync_timestamp"`
	LastSyncID        string     `json:"last_sync_id,omitempty"`
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	Failed            bool       `json:"failed"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	Items             int        `json:"items"`
	Selectable        int        `json:"selectable"`
	Selected          int        `json:"selected"`
}

// EventStatus is one recent event
type EventStatus struct {
	Name     events.Name `json:"name"`
	Provider string      `json:"provider,omitempty"`
	Error    string      `json:"error,omitempty"`
	Count    int         `json:"count,omitempty"`
	Time     time.Time   `json:"time"`
}

// StatusResponse represents the status response
type StatusResponse struct {
	Syncing   bool             `json:"syncing"`
	Providers []ProviderStatus `json:"providers"`
	Events    []EventStatus    `json:"events"`
}

// ServeHTTP handles the status endpoint
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	response := StatusResponse{
		Syncing:   h.cancels.Active(scheduler.CancelKey) > 0,
		Providers: []ProviderStatus{},
		Events:    []EventStatus{},
	}

	for _, store := range h.stores.Stores() {
		status := ProviderStatus{
			ID:         store.ProviderID(),
			Items:      store.Len(),
			Selectable: len(store.SelectableItems()),
			Selected:   len(store.SelectedItems()),
		}

		state, err := h.db.GetResumeState(store.ProviderID())
		switch {
		case err == nil:
			status.AutoSyncEnabled = state.AutoSyncEnabled
			status.LastSyncTimestamp = state.LastSyncTimestamp
			status.LastSyncID = state.LastSyncID
			status.Failed = state.Failed
			status.FailureReason = state.FailureReason
			if !state.LastCheckedAt.IsZero() {
				checked := state.LastCheckedAt
				status.LastCheckedAt = &checked
			}
		case !errors.Is(err, models.ErrNotFound):
			writeInternalError(w, h.logger, err, "Failed to get resume state")
			return
		}

		response.Providers = append(response.Providers, status)
	}

	for _, e := range h.recorder.Events() {
		event := EventStatus{Name: e.Name, Provider: e.ProviderID, Count: e.Count, Time: e.Time}
		if e.Err != nil {
			event.Error = e.Err.Error()
		}
		response.Events = append(response.Events, event)
	}

	writeJSON(w, http.StatusOK, response)
}
