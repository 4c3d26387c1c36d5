package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/cancel"
	"github.com/amaumene/scrobblarr/internal/providers"
)

// Trigger starts sync passes in the background
type Trigger interface {
	TriggerProvider(providerID string)
}

// SyncHandler triggers and cancels sync passes
type SyncHandler struct {
	registry *providers.Registry
	trigger  Trigger
	cancels  *cancel.Registry
	logger   *logrus.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(registry *providers.Registry, trigger Trigger, cancels *cancel.Registry, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{
		registry: registry,
		trigger:  trigger,
		cancels:  cancels,
		logger:   logger,
	}
}

// Trigger handles POST /api/sync/{provider}
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("provider")
	if _, ok := h.registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "Unknown provider")
		return
	}

	h.trigger.TriggerProvider(id)
	h.logger.WithField("provider", id).Info("Sync triggered")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// Cancel handles POST /api/cancel/{key}
func (h *SyncHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	n := h.cancels.Cancel(key)
	h.logger.WithFields(logrus.Fields{
		"key":      key,
		"canceled": n,
	}).Info("Cancel requested")
	writeJSON(w, http.StatusOK, map[string]int{"canceled": n})
}
