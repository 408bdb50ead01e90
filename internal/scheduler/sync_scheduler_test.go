package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialpulse/socialpulse/internal/collector"
	"github.com/socialpulse/socialpulse/internal/models"
)

type fakeLister struct {
	accounts []*models.SocialAccount
	err      error
}

func (f *fakeLister) ListActiveAccounts(ctx context.Context, platform models.Platform) ([]*models.SocialAccount, error) {
	return f.accounts, f.err
}

type fakeSyncer struct {
	mu     sync.Mutex
	synced []string
	fail   map[string]bool
}

func (f *fakeSyncer) Sync(ctx context.Context, account *models.SocialAccount) (*collector.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, account.ID)
	if f.fail[account.ID] {
		return nil, collector.ErrNoValidToken
	}
	return &collector.Result{AccountID: account.ID}, nil
}

func (f *fakeSyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.synced)
}

type fakeRefresher struct {
	window time.Duration
	calls  int
	err    error
}

func (f *fakeRefresher) RefreshExpiring(ctx context.Context, window time.Duration) (int, error) {
	f.window = window
	f.calls++
	return 1, f.err
}

type fakePruner struct {
	ages []time.Duration
}

func (f *fakePruner) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	f.ages = append(f.ages, age)
	return 2, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunCycleSyncsEveryAccount(t *testing.T) {
	lister := &fakeLister{accounts: []*models.SocialAccount{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	syncer := &fakeSyncer{fail: map[string]bool{"b": true}}
	refresher := &fakeRefresher{}

	s := NewSyncScheduler(lister, syncer, refresher, time.Hour, 48*time.Hour, discardLogger())
	s.runCycle(context.Background())

	assert.Equal(t, []string{"a", "b", "c"}, syncer.synced, "a failing account does not stop the cycle")
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, 48*time.Hour, refresher.window)
}

func TestRunCycleContinuesAfterRefreshFailure(t *testing.T) {
	lister := &fakeLister{accounts: []*models.SocialAccount{{ID: "a"}}}
	syncer := &fakeSyncer{}

	s := NewSyncScheduler(lister, syncer, &fakeRefresher{err: errors.New("provider down")}, time.Hour, time.Hour, discardLogger())
	s.runCycle(context.Background())

	assert.Equal(t, 1, syncer.count())
}

func TestRunCycleListFailure(t *testing.T) {
	syncer := &fakeSyncer{}
	s := NewSyncScheduler(&fakeLister{err: errors.New("db down")}, syncer, nil, time.Hour, time.Hour, discardLogger())
	s.runCycle(context.Background())

	assert.Zero(t, syncer.count())
}

func TestRunCyclePrunesActivity(t *testing.T) {
	pruner := &fakePruner{}
	s := NewSyncScheduler(&fakeLister{}, &fakeSyncer{}, nil, time.Hour, time.Hour, discardLogger())
	s.SetActivityRetention(pruner, 90*24*time.Hour)
	s.runCycle(context.Background())

	assert.Equal(t, []time.Duration{90 * 24 * time.Hour}, pruner.ages)

	disabled := &fakePruner{}
	s.SetActivityRetention(disabled, 0)
	s.runCycle(context.Background())
	assert.Empty(t, disabled.ages)
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	lister := &fakeLister{accounts: []*models.SocialAccount{{ID: "a"}}}
	syncer := &fakeSyncer{}
	s := NewSyncScheduler(lister, syncer, nil, time.Hour, time.Hour, discardLogger())

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return syncer.count() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	s := NewSyncScheduler(&fakeLister{}, &fakeSyncer{}, nil, 10*time.Millisecond, time.Hour, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
