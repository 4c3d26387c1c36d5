package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/cancel"
	"github.com/amaumene/scrobblarr/internal/controllers"
)

// CancelKey is the cancel key of every sync pass the scheduler starts
const CancelKey = "autosync"

// Runner runs sync passes
type Runner interface {
	Run(ctx context.Context) error
	RunProvider(ctx context.Context, providerID string) error
}

var _ Runner = (*controllers.SyncController)(nil)

// Scheduler triggers auto-sync passes on a cron schedule and on demand
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	runner   Runner
	cancels  *cancel.Registry
	logger   *logrus.Logger

	// canceled by Stop, parent of every pass
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, schedule string, cancels *cancel.Registry, logger *logrus.Logger) *Scheduler {
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(),
		schedule: schedule,
		runner:   runner,
		cancels:  cancels,
		logger:   logger,
		ctx:      ctx,
		stop:     stop,
	}
}

// Start starts the scheduler and runs a first pass immediately
func (s *Scheduler) Start() error {
	s.logger.WithField("schedule", s.schedule).Info("Starting scheduler")

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.runSync()
	})
	if err != nil {
		return fmt.Errorf("failed to add auto-sync job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSync()
	}()

	return nil
}

// Stop stops the scheduler, cancels running passes and waits for them to return
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
	s.stop()
	s.wg.Wait()
}

// TriggerProvider starts a pass for one provider in the background
func (s *Scheduler) TriggerProvider(providerID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runProvider(providerID)
	}()
}

// runSync executes the auto-sync job
func (s *Scheduler) runSync() {
	s.logger.Info("Running scheduled auto-sync")
	ctx, release := s.cancels.WithKey(s.ctx, CancelKey)
	defer release()

	if err := s.runner.Run(ctx); err != nil {
		if cancel.IsCanceled(err) {
			s.logger.Info("Auto-sync job canceled")
			return
		}
		s.logger.WithError(err).Error("Auto-sync job failed")
	} else {
		s.logger.Info("Auto-sync job completed successfully")
	}
}

// runProvider executes a manually triggered pass
func (s *Scheduler) runProvider(providerID string) {
	logger := s.logger.WithField("provider", providerID)
	logger.Info("Running triggered sync")
	ctx, release := s.cancels.WithKey(s.ctx, CancelKey)
	defer release()

	if err := s.runner.RunProvider(ctx, providerID); err != nil {
		if cancel.IsCanceled(err) {
			logger.Info("Triggered sync canceled")
			return
		}
		logger.WithError(err).Error("Triggered sync failed")
	} else {
		logger.Info("Triggered sync completed successfully")
	}
}
