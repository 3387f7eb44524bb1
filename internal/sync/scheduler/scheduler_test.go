// Package scheduler tests for background sync scheduling functionality.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kimhsiao/crafttrack/internal/errors"
	syncpkg "github.com/kimhsiao/crafttrack/internal/sync"
)

// =====================================================
// Test Helpers
// =====================================================

// fakeEngine counts passes. When block is set, each pass waits on it.
type fakeEngine struct {
	calls   atomic.Int32
	block   chan struct{}
	started chan struct{}
	running atomic.Bool
	fail    bool
}

func (f *fakeEngine) Sync(ctx context.Context) *syncpkg.SyncResult {
	if !f.running.CompareAndSwap(false, true) {
		return &syncpkg.SyncResult{Skipped: true}
	}
	defer f.running.Store(false)
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	res := &syncpkg.SyncResult{Success: !f.fail, StartTime: time.Now(), EndTime: time.Now()}
	if f.fail {
		res.Errors = []string{"push project p1: boom"}
	}
	return res
}

func (f *fakeEngine) SetEventHandler(syncpkg.SyncEventHandler) {}

func (f *fakeEngine) Status() syncpkg.SyncStatus { return syncpkg.SyncStatusIdle }

func (f *fakeEngine) LastSync() *time.Time { return nil }

func (f *fakeEngine) PendingChanges(context.Context) (int, error) { return 0, nil }

func (f *fakeEngine) LastError() error {
	if f.fail {
		return errors.New(errors.ErrSyncFailed, "boom")
	}
	return nil
}

type fakeAccount struct{ linked bool }

func (a fakeAccount) IsLinked(context.Context) bool { return a.linked }

type fakeSettings struct {
	mu      sync.Mutex
	enabled bool
}

func (s *fakeSettings) SyncEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func createTestScheduler(t *testing.T, interval time.Duration) (*fakeEngine, *Scheduler) {
	t.Helper()
	engine := &fakeEngine{}
	s := NewScheduler(engine, fakeAccount{linked: true}, &fakeSettings{enabled: true}, &SchedulerConfig{SyncInterval: interval})
	t.Cleanup(s.Stop)
	return engine, s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// =====================================================
// Config & Gate
// =====================================================

func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()
	if config.SyncInterval != 15*time.Minute {
		t.Errorf("SyncInterval = %v, want 15m", config.SyncInterval)
	}
}

func TestNewScheduler_initialState(t *testing.T) {
	_, s := createTestScheduler(t, time.Hour)

	if s.IsRunning() {
		t.Error("scheduler should not be running before Start")
	}
	if !s.IsOnline() {
		t.Error("scheduler should assume online initially")
	}
	status := s.GetStatus()
	if status.LastSyncTime != nil || status.LastResult != nil {
		t.Errorf("status = %+v, want no previous pass", status)
	}
	if !status.SyncEnabled {
		t.Error("SyncEnabled should reflect settings")
	}
}

func TestCanSync(t *testing.T) {
	tests := []struct {
		name     string
		linked   bool
		enabled  bool
		online   bool
		wantCode errors.ErrorCode
	}{
		{"all conditions hold", true, true, true, ""},
		{"no account", false, true, true, errors.ErrSyncNotConfigured},
		{"sync disabled", true, false, true, errors.ErrSyncNotConfigured},
		{"offline", true, true, false, errors.ErrNetworkUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(&fakeEngine{}, fakeAccount{linked: tt.linked}, &fakeSettings{enabled: tt.enabled}, nil)
			s.SetOnlineStatus(tt.online)

			err := s.CanSync(context.Background())
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("CanSync() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantCode) {
				t.Errorf("CanSync() error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestCanSync_nilProviders(t *testing.T) {
	s := NewScheduler(&fakeEngine{}, nil, nil, nil)
	if err := s.CanSync(context.Background()); !errors.Is(err, errors.ErrSyncNotConfigured) {
		t.Errorf("CanSync() error = %v, want ErrSyncNotConfigured", err)
	}
}

// =====================================================
// Triggers
// =====================================================

func TestStart_firesStartupTrigger(t *testing.T) {
	engine, s := createTestScheduler(t, time.Hour)

	s.Start(context.Background())
	waitFor(t, "startup pass", func() bool { return engine.calls.Load() == 1 })

	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	s.Start(context.Background())
	s.Stop()
	if got := engine.calls.Load(); got != 1 {
		t.Errorf("passes = %d, want 1 (second Start is a no-op)", got)
	}
}

func TestStart_gatedDoesNothing(t *testing.T) {
	engine := &fakeEngine{}
	s := NewScheduler(engine, fakeAccount{linked: true}, &fakeSettings{enabled: false}, &SchedulerConfig{SyncInterval: 10 * time.Millisecond})

	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if got := engine.calls.Load(); got != 0 {
		t.Errorf("passes = %d, want 0 while sync is disabled", got)
	}
}

func TestPeriodicTrigger(t *testing.T) {
	engine, s := createTestScheduler(t, 10*time.Millisecond)

	s.Start(context.Background())
	waitFor(t, "periodic passes", func() bool { return engine.calls.Load() >= 3 })
	s.Stop()

	after := engine.calls.Load()
	time.Sleep(40 * time.Millisecond)
	if got := engine.calls.Load(); got != after {
		t.Errorf("passes after Stop = %d, want %d", got, after)
	}
}

func TestSetOnlineStatus_reconnectTriggers(t *testing.T) {
	engine, s := createTestScheduler(t, time.Hour)
	s.SetOnlineStatus(false)

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	if got := engine.calls.Load(); got != 0 {
		t.Fatalf("passes = %d, want 0 while offline", got)
	}

	s.SetOnlineStatus(true)
	waitFor(t, "reconnect pass", func() bool { return engine.calls.Load() == 1 })

	// online -> online is not a transition
	s.SetOnlineStatus(true)
	time.Sleep(20 * time.Millisecond)
	if got := engine.calls.Load(); got != 1 {
		t.Errorf("passes = %d, want 1", got)
	}
}

func TestSetOnlineStatus_notRunning(t *testing.T) {
	engine, s := createTestScheduler(t, time.Hour)
	s.SetOnlineStatus(false)
	s.SetOnlineStatus(true)
	time.Sleep(20 * time.Millisecond)
	if got := engine.calls.Load(); got != 0 {
		t.Errorf("passes = %d, want 0 before Start", got)
	}
}

func TestTriggerSync_deduplicates(t *testing.T) {
	engine, s := createTestScheduler(t, time.Hour)
	engine.block = make(chan struct{})
	engine.started = make(chan struct{}, 1)

	s.Start(context.Background())
	<-engine.started
	if s.TriggerSync(context.Background()) {
		t.Error("TriggerSync() during a pass = true, want false")
	}
	if !s.GetStatus().SyncInProgress {
		t.Error("SyncInProgress = false during a pass")
	}

	close(engine.block)
	waitFor(t, "pass to finish", func() bool { return !s.GetStatus().SyncInProgress })
	if got := engine.calls.Load(); got != 1 {
		t.Errorf("passes = %d, want 1", got)
	}
}

func TestTriggerSync_stoppedScheduler(t *testing.T) {
	engine, s := createTestScheduler(t, time.Hour)
	if s.TriggerSync(context.Background()) {
		t.Error("TriggerSync() before Start = true, want false")
	}

	s.Start(context.Background())
	waitFor(t, "startup pass", func() bool { return !s.GetStatus().SyncInProgress && engine.calls.Load() == 1 })
	s.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TriggerSync(context.Background()) {
				t.Error("TriggerSync() after Stop = true, want false")
			}
		}()
	}
	wg.Wait()
	if got := engine.calls.Load(); got != 1 {
		t.Errorf("passes = %d, want 1", got)
	}
}

func TestStop_racesManualTriggers(t *testing.T) {
	_, s := createTestScheduler(t, time.Hour)
	s.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.TriggerSync(context.Background())
			_, _ = s.SyncNow(context.Background())
		}()
	}
	s.Stop()
	wg.Wait()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestTriggerSync_gated(t *testing.T) {
	engine, s := createTestScheduler(t, time.Hour)
	s.SetOnlineStatus(false)
	if s.TriggerSync(context.Background()) {
		t.Error("TriggerSync() offline = true, want false")
	}
	if got := engine.calls.Load(); got != 0 {
		t.Errorf("passes = %d, want 0", got)
	}
}

// =====================================================
// SyncNow
// =====================================================

func TestSyncNow(t *testing.T) {
	engine, s := createTestScheduler(t, time.Hour)

	res, err := s.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow() error = %v", err)
	}
	if !res.Success || res.Skipped {
		t.Errorf("result = %+v, want a successful pass", res)
	}
	if engine.calls.Load() != 1 {
		t.Errorf("passes = %d, want 1", engine.calls.Load())
	}
	status := s.GetStatus()
	if status.LastSyncTime == nil || status.LastResult != res {
		t.Errorf("status = %+v, want last pass recorded", status)
	}
}

func TestSyncNow_gateReason(t *testing.T) {
	engine := &fakeEngine{}
	s := NewScheduler(engine, fakeAccount{linked: false}, &fakeSettings{enabled: true}, nil)

	res, err := s.SyncNow(context.Background())
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if !errors.Is(err, errors.ErrSyncNotConfigured) {
		t.Errorf("SyncNow() error = %v, want ErrSyncNotConfigured", err)
	}
	if engine.calls.Load() != 0 {
		t.Error("engine ran despite the gate")
	}
}

func TestSyncNow_failedPassIsNotAnError(t *testing.T) {
	engine, s := createTestScheduler(t, time.Hour)
	engine.fail = true

	res, err := s.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow() error = %v", err)
	}
	if res.Success || len(res.Errors) != 1 {
		t.Errorf("result = %+v, want one recorded failure", res)
	}
}

func TestSyncNow_whileBackgroundPassRuns(t *testing.T) {
	engine, s := createTestScheduler(t, time.Hour)
	engine.block = make(chan struct{})
	engine.started = make(chan struct{}, 1)

	s.Start(context.Background())
	<-engine.started

	res, err := s.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow() error = %v", err)
	}
	if !res.Skipped {
		t.Errorf("result = %+v, want skipped", res)
	}
	close(engine.block)
}

func TestStop_idempotent(t *testing.T) {
	_, s := createTestScheduler(t, time.Hour)
	s.Stop()
	s.Start(context.Background())
	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}
