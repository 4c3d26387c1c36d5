package catalog

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/events"
	"github.com/amaumene/scrobblarr/internal/models"
)

// CorrectionSource looks up the correction of an item, returning nil when there is none
type CorrectionSource interface {
	Get(databaseID string) (*models.Correction, error)
}

// Corrections manages the persisted correction overlay. Corrections live in their own
// bucket and survive cache expiry.
type Corrections struct {
	db         *models.Database
	dispatcher *events.Dispatcher
	logger     *logrus.Logger
}

// NewCorrections creates the correction service
func NewCorrections(db *models.Database, dispatcher *events.Dispatcher, logger *logrus.Logger) *Corrections {
	return &Corrections{db: db, dispatcher: dispatcher, logger: logger}
}

// Get returns the correction of an item, or nil
func (c *Corrections) Get(databaseID string) (*models.Correction, error) {
	correction, err := c.db.GetCorrection(databaseID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get correction: %w", err)
	}
	return correction, nil
}

// Put validates and stores a correction, replacing any previous one for the same item
func (c *Corrections) Put(correction *models.Correction) error {
	if correction.DatabaseID == "" {
		return fmt.Errorf("correction requires a database id")
	}
	switch {
	case correction.TraktID > 0:
		if correction.Type != models.MediaTypeMovie && correction.Type != models.MediaTypeEpisode {
			return fmt.Errorf("correction type must be movie or episode, got %q", correction.Type)
		}
		correction.URL = ""
	case correction.URL != "":
		canonical, err := CanonicalURL(correction.URL)
		if err != nil {
			return fmt.Errorf("invalid correction url: %w", err)
		}
		correction.URL = canonical
	default:
		return fmt.Errorf("correction requires a trakt id or url")
	}
	if correction.Source == "" {
		correction.Source = models.CorrectionSourceUser
	}

	if err := c.db.SaveCorrection(correction); err != nil {
		return fmt.Errorf("failed to save correction: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"item":     correction.DatabaseID,
		"trakt_id": correction.TraktID,
		"url":      correction.URL,
	}).Info("Saved correction")
	c.dispatcher.Dispatch(events.Event{Name: events.CorrectionChanged})
	return nil
}

// Delete removes the correction of an item
func (c *Corrections) Delete(databaseID string) error {
	if err := c.db.DeleteCorrection(databaseID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete correction: %w", err)
	}
	c.dispatcher.Dispatch(events.Event{Name: events.CorrectionChanged})
	return nil
}

// List returns every correction
func (c *Corrections) List() ([]*models.Correction, error) {
	corrections, err := c.db.GetAllCorrections()
	if err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}
	return corrections, nil
}
