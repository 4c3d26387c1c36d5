package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amaumene/scrobblarr/internal/api"
	"github.com/amaumene/scrobblarr/internal/cancel"
	"github.com/amaumene/scrobblarr/internal/scheduler"
	"github.com/amaumene/scrobblarr/internal/services/trakt"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "scrobblarr",
		Short:         "Sync media server watch history to Trakt",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the auto-sync scheduler",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "sync [provider]",
			Short: "Run one sync pass and exit",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSync(cmd.Context(), args)
			},
		},
		&cobra.Command{
			Use:   "auth",
			Short: "Authenticate with Trakt using the device flow",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAuth(cmd.Context())
			},
		},
	)
	return root
}

// signalContext is canceled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(parent context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("Starting Scrobblarr")

	ctx, stop := signalContext(parent)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ensureAuthenticated(ctx); err != nil {
		return err
	}

	// Scheduler
	sched := scheduler.NewScheduler(a.syncCtrl, cfg.AutoSyncSchedule, a.cancels, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// HTTP server
	server := api.NewServer(cfg, api.Dependencies{
		DB:          a.db,
		Registry:    a.registry,
		Stores:      a.stores,
		Recorder:    a.recorder,
		Cancels:     a.cancels,
		Committer:   a.committer,
		SyncCtrl:    a.syncCtrl,
		Trigger:     sched,
		Corrections: a.corrections,
	}, logger)

	logger.Info("Scrobblarr is running")
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("Scrobblarr stopped")
	return nil
}

func runSync(parent context.Context, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(parent)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.traktClient.IsAuthenticated() {
		return fmt.Errorf("not authenticated with Trakt, run 'scrobblarr auth' first")
	}

	ids := a.registry.IDs()
	if len(args) == 1 {
		ids = args
	}

	ctx, release := a.cancels.WithKey(ctx, scheduler.CancelKey)
	defer release()

	var errs []error
	for _, id := range ids {
		if err := a.syncCtrl.RunProvider(ctx, id); err != nil {
			if cancel.IsCanceled(err) {
				logger.Info("Sync canceled")
				return nil
			}
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func runAuth(parent context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(parent)
	defer stop()

	client, err := trakt.NewClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Trakt client: %w", err)
	}
	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("failed to authenticate with Trakt: %w", err)
	}
	logger.Info("Trakt authentication complete")
	return nil
}
