// Package scheduler writes backup archives on a fixed interval and prunes
// old ones.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/export"
	"github.com/kimhsiao/crafttrack/internal/logging"
)

// ExportInterval defines the scheduling frequency.
type ExportInterval string

const (
	IntervalManual  ExportInterval = "manual"
	IntervalDaily   ExportInterval = "daily"
	IntervalWeekly  ExportInterval = "weekly"
	IntervalMonthly ExportInterval = "monthly"
)

const (
	archivePrefix = "crafttrack_"
	plainSuffix   = ".tar.gz"
	sealedSuffix  = ".tar.gz.enc"
	stampLayout   = "20060102_150405.000"
)

// ParseInterval validates a configured interval name.
func ParseInterval(s string) (ExportInterval, error) {
	switch i := ExportInterval(strings.ToLower(strings.TrimSpace(s))); i {
	case IntervalManual, IntervalDaily, IntervalWeekly, IntervalMonthly:
		return i, nil
	case "":
		return IntervalManual, nil
	default:
		return "", errors.Newf(errors.ErrInvalid, "unknown backup interval %q", s)
	}
}

// Duration returns the period of the interval; zero for manual.
func (i ExportInterval) Duration() time.Duration {
	switch i {
	case IntervalDaily:
		return 24 * time.Hour
	case IntervalWeekly:
		return 7 * 24 * time.Hour
	case IntervalMonthly:
		// Approximate as 30 days
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// SchedulerConfig holds the scheduler configuration.
type SchedulerConfig struct {
	Interval       ExportInterval
	RetentionCount int // archives to keep; 0 keeps all
	IncludeMedia   bool
	ExportDir      string
	Password       string // empty writes unencrypted archives
}

// Scheduler manages automatic backups.
type Scheduler struct {
	service export.ExportServiceInterface
	config  SchedulerConfig
	now     func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a new backup scheduler.
func NewScheduler(service export.ExportServiceInterface, config *SchedulerConfig) *Scheduler {
	cfg := *config
	if cfg.RetentionCount < 0 {
		cfg.RetentionCount = 0
	}
	return &Scheduler{service: service, config: cfg, now: time.Now}
}

// Start begins periodic backups. A backup runs immediately when the newest
// archive is older than one interval. Manual mode does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	period := s.config.Interval.Duration()
	if period == 0 {
		logging.Debug("Backup scheduler in manual mode", nil)
		return nil
	}
	if s.config.ExportDir == "" {
		return errors.New(errors.ErrInvalid, "backup directory is required")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	logging.Info("Backup scheduler started", map[string]interface{}{
		"interval":        string(s.config.Interval),
		"retention_count": s.config.RetentionCount,
		"dir":             s.config.ExportDir,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.due(period) {
			s.runLogged(ctx)
		}
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runLogged(ctx)
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop halts the scheduler and waits for a running backup.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
	logging.Info("Backup scheduler stopped", nil)
}

func (s *Scheduler) due(period time.Duration) bool {
	archives, err := ListArchives(s.config.ExportDir)
	if err != nil || len(archives) == 0 {
		return true
	}
	return s.now().Sub(archives[0].CreatedAt) >= period
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		logging.Error("Scheduled backup failed", err)
	}
}

// RunOnce writes one archive into the export directory and applies the
// retention policy.
func (s *Scheduler) RunOnce(ctx context.Context) (*export.ExportResult, error) {
	suffix := plainSuffix
	if s.config.Password != "" {
		suffix = sealedSuffix
	}
	name := archivePrefix + s.now().UTC().Format(stampLayout) + suffix
	result, err := s.service.Export(ctx, &export.ExportConfig{
		OutputPath:   filepath.Join(s.config.ExportDir, name),
		Password:     s.config.Password,
		IncludeMedia: s.config.IncludeMedia,
	})
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}

	if s.config.RetentionCount > 0 {
		// A failed prune does not fail the backup.
		if err := s.applyRetentionPolicy(); err != nil {
			logging.Warn("Backup retention failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return result, nil
}

// applyRetentionPolicy removes all but the newest RetentionCount archives.
func (s *Scheduler) applyRetentionPolicy() error {
	archives, err := ListArchives(s.config.ExportDir)
	if err != nil {
		return err
	}
	if len(archives) <= s.config.RetentionCount {
		return nil
	}
	for _, a := range archives[s.config.RetentionCount:] {
		if err := os.Remove(a.Path); err != nil {
			logging.Warn("Failed to delete old backup", map[string]interface{}{"path": a.Path, "error": err.Error()})
			continue
		}
		logging.Debug("Deleted old backup", map[string]interface{}{"path": a.Path})
	}
	return nil
}

// ArchiveInfo describes an archive on disk.
type ArchiveInfo struct {
	Path      string
	SizeBytes int64
	CreatedAt time.Time
	Encrypted bool
}

// ListArchives returns the scheduler's archives in dir, newest first. The
// creation time comes from the file name.
func ListArchives(dir string) ([]*ArchiveInfo, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var archives []*ArchiveInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, archivePrefix) {
			continue
		}
		stamp := strings.TrimPrefix(name, archivePrefix)
		encrypted := strings.HasSuffix(stamp, sealedSuffix)
		switch {
		case encrypted:
			stamp = strings.TrimSuffix(stamp, sealedSuffix)
		case strings.HasSuffix(stamp, plainSuffix):
			stamp = strings.TrimSuffix(stamp, plainSuffix)
		default:
			continue
		}
		created, err := time.Parse(stampLayout, stamp)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		archives = append(archives, &ArchiveInfo{
			Path:      filepath.Join(dir, name),
			SizeBytes: info.Size(),
			CreatedAt: created,
			Encrypted: encrypted,
		})
	}
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].CreatedAt.After(archives[j].CreatedAt)
	})
	return archives, nil
}

// GetConfig returns the scheduler configuration.
func (s *Scheduler) GetConfig() SchedulerConfig {
	return s.config
}
