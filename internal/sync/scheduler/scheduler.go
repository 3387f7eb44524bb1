// Package scheduler decides when sync passes run: at startup, on reconnect,
// periodically and on demand, each behind the capability gate.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/logging"
	syncpkg "github.com/kimhsiao/crafttrack/internal/sync"
)

// AccountChecker reports whether an account is linked.
type AccountChecker interface {
	IsLinked(ctx context.Context) bool
}

// SettingsProvider reports the user's cloud sync toggle.
type SettingsProvider interface {
	SyncEnabled() bool
}

// Trigger names what asked for a pass.
type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerOnline   Trigger = "online"
	TriggerPeriodic Trigger = "periodic"
	TriggerManual   Trigger = "manual"
)

// Scheduler manages background sync operations.
type Scheduler struct {
	engine       syncpkg.SyncEngineInterface
	accounts     AccountChecker
	settings     SettingsProvider
	syncInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu             sync.RWMutex
	ctx            context.Context
	isRunning      bool
	isOnline       bool
	syncInProgress bool
	lastSyncTime   time.Time
	lastResult     *syncpkg.SyncResult
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // periodic trigger; <= 0 disables it
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{SyncInterval: 15 * time.Minute}
}

// NewScheduler creates a new Scheduler. The device is assumed online until
// told otherwise.
func NewScheduler(engine syncpkg.SyncEngineInterface, accounts AccountChecker, settings SettingsProvider, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	return &Scheduler{
		engine:       engine,
		accounts:     accounts,
		settings:     settings,
		syncInterval: config.SyncInterval,
		ctx:          context.Background(),
		isOnline:     true,
	}
}

// CanSync checks the capability gate: linked account, sync enabled, online.
// The returned error names the first unmet condition.
func (s *Scheduler) CanSync(ctx context.Context) error {
	if s.accounts == nil || !s.accounts.IsLinked(ctx) {
		return errors.New(errors.ErrSyncNotConfigured, "no linked account")
	}
	if s.settings == nil || !s.settings.SyncEnabled() {
		return errors.New(errors.ErrSyncNotConfigured, "cloud sync is disabled")
	}
	if !s.IsOnline() {
		return errors.New(errors.ErrNetworkUnreachable, "device is offline")
	}
	return nil
}

// Start fires the startup trigger and begins the periodic loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ctx = ctx
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	periodic := s.syncInterval > 0
	if periodic {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"interval_minutes": s.syncInterval.Minutes(),
	})

	s.trigger(ctx, TriggerStartup)

	if periodic {
		go s.periodicSyncLoop(ctx, stopCh)
	}
}

// Stop stops the periodic loop and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus records connectivity. Going from offline to online while
// running fires a trigger.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	running := s.isRunning
	ctx := s.ctx
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	logging.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})
	if isOnline && running {
		s.trigger(ctx, TriggerOnline)
	}
}

func (s *Scheduler) periodicSyncLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.trigger(ctx, TriggerPeriodic)
		}
	}
}

// trigger starts one background pass if the scheduler is running, the gate
// allows it and no pass is in progress. It reports whether a pass was started.
func (s *Scheduler) trigger(ctx context.Context, reason Trigger) bool {
	if err := s.CanSync(ctx); err != nil {
		logging.Debug("Sync trigger gated", map[string]interface{}{
			"trigger": string(reason), "reason": err.Error(),
		})
		return false
	}

	// wg.Add happens under mu while isRunning holds, so it always precedes
	// the wg.Wait in Stop.
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		logging.Debug("Scheduler stopped, ignoring trigger", map[string]interface{}{"trigger": string(reason)})
		return false
	}
	if s.syncInProgress {
		s.mu.Unlock()
		logging.Debug("Sync already in progress, skipping", map[string]interface{}{"trigger": string(reason)})
		return false
	}
	s.syncInProgress = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runSync(ctx, reason)
	}()
	return true
}

func (s *Scheduler) runSync(ctx context.Context, reason Trigger) *syncpkg.SyncResult {
	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	logging.Info("Starting sync", map[string]interface{}{"trigger": string(reason)})
	result := s.engine.Sync(ctx)
	if result.Skipped {
		return result
	}

	s.mu.Lock()
	s.lastSyncTime = result.EndTime
	s.lastResult = result
	s.mu.Unlock()

	if !result.Success {
		logging.ErrorWithCode("Sync finished with errors", string(errors.ErrSyncFailed), s.engine.LastError(),
			map[string]interface{}{"trigger": string(reason), "errors": len(result.Errors)})
	}
	return result
}

// TriggerSync requests a background pass. It returns true if a pass was
// started, false if the scheduler is stopped, the gate is closed or a pass
// is already running.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	return s.trigger(ctx, TriggerManual)
}

// SyncNow runs a gated pass and waits for it. It works whether or not the
// scheduler is started; while started, Stop waits for it. A pass already
// running yields a skipped result.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	if err := s.CanSync(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		// The engine reports the skip and emits the event.
		return s.engine.Sync(ctx), nil
	}
	s.syncInProgress = true
	tracked := s.isRunning
	if tracked {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if tracked {
		defer s.wg.Done()
	}
	return s.runSync(ctx, TriggerManual), nil
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	IsRunning      bool
	IsOnline       bool
	SyncEnabled    bool
	SyncInProgress bool
	LastSyncTime   *time.Time
	LastResult     *syncpkg.SyncResult
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		SyncEnabled:    s.settings != nil && s.settings.SyncEnabled(),
		SyncInProgress: s.syncInProgress,
		LastResult:     s.lastResult,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	return status
}

// IsOnline returns whether the device is considered online.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
