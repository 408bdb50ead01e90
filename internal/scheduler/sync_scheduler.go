package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/socialpulse/socialpulse/internal/collector"
	"github.com/socialpulse/socialpulse/internal/models"
)

// AccountLister lists the accounts due for collection.
type AccountLister interface {
	ListActiveAccounts(ctx context.Context, platform models.Platform) ([]*models.SocialAccount, error)
}

// Syncer collects one account's metrics. *collector.Collector satisfies it.
type Syncer interface {
	Sync(ctx context.Context, account *models.SocialAccount) (*collector.Result, error)
}

// TokenRefresher renews credentials close to expiry. *accounts.Service
// satisfies it.
type TokenRefresher interface {
	RefreshExpiring(ctx context.Context, window time.Duration) (int, error)
}

// ActivityPruner deletes account history older than a retention window.
type ActivityPruner interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// SyncScheduler periodically refreshes expiring tokens and then collects
// analytics for every active Instagram account.
type SyncScheduler struct {
	accounts      AccountLister
	syncer        Syncer
	refresher     TokenRefresher
	pruner        ActivityPruner
	retention     time.Duration
	logger        *slog.Logger
	stopChan      chan struct{}
	stopOnce      sync.Once
	interval      time.Duration
	refreshWindow time.Duration
}

// NewSyncScheduler creates a new sync scheduler. refresher may be nil.
func NewSyncScheduler(
	accounts AccountLister,
	syncer Syncer,
	refresher TokenRefresher,
	interval time.Duration,
	refreshWindow time.Duration,
	logger *slog.Logger,
) *SyncScheduler {
	return &SyncScheduler{
		accounts:      accounts,
		syncer:        syncer,
		refresher:     refresher,
		logger:        logger,
		stopChan:      make(chan struct{}),
		interval:      interval,
		refreshWindow: refreshWindow,
	}
}

// SetActivityRetention prunes account history older than retention at the
// end of every cycle.
func (s *SyncScheduler) SetActivityRetention(pruner ActivityPruner, retention time.Duration) {
	s.pruner = pruner
	s.retention = retention
}

// Start runs a cycle immediately and then once per interval until Stop is
// called or ctx is cancelled.
func (s *SyncScheduler) Start(ctx context.Context) {
	s.logger.Info("Starting analytics sync scheduler",
		"interval", s.interval,
		"token_refresh_window", s.refreshWindow)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runCycle(ctx)

	for {
		select {
		case <-ticker.C:
			s.runCycle(ctx)
		case <-s.stopChan:
			s.logger.Info("Analytics sync scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Analytics sync scheduler stopping due to context cancellation")
			return
		}
	}
}

// Stop stops the scheduler
func (s *SyncScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *SyncScheduler) runCycle(ctx context.Context) {
	if s.refresher != nil {
		refreshed, err := s.refresher.RefreshExpiring(ctx, s.refreshWindow)
		if err != nil {
			s.logger.Error("Failed to refresh expiring tokens", "error", err)
		} else if refreshed > 0 {
			s.logger.Info("Refreshed expiring tokens", "count", refreshed)
		}
	}

	accounts, err := s.accounts.ListActiveAccounts(ctx, models.PlatformInstagram)
	if err != nil {
		s.logger.Error("Failed to list active accounts", "error", err)
		return
	}

	synced, failed := 0, 0
	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.syncer.Sync(ctx, account); err != nil {
			s.logger.Warn("Analytics sync failed",
				"account_id", account.ID,
				"username", account.Username,
				"error", err)
			failed++
			continue
		}
		synced++
	}

	s.logger.Info("Analytics sync cycle complete",
		"accounts", len(accounts),
		"synced", synced,
		"failed", failed)

	s.pruneActivity(ctx)
}

func (s *SyncScheduler) pruneActivity(ctx context.Context) {
	if s.pruner == nil || s.retention <= 0 {
		return
	}
	deleted, err := s.pruner.DeleteOlderThan(ctx, s.retention)
	if err != nil {
		s.logger.Error("Failed to prune activity logs", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("Pruned activity logs", "deleted", deleted, "retention", s.retention)
	}
}
