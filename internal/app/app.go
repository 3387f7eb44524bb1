// Package app wires the store, gateway, sync engine and trigger layer into
// one application instance.
package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/kimhsiao/crafttrack/internal/account"
	"github.com/kimhsiao/crafttrack/internal/config"
	"github.com/kimhsiao/crafttrack/internal/connectivity"
	"github.com/kimhsiao/crafttrack/internal/crypto"
	"github.com/kimhsiao/crafttrack/internal/db"
	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/events"
	"github.com/kimhsiao/crafttrack/internal/export"
	backup "github.com/kimhsiao/crafttrack/internal/export/scheduler"
	"github.com/kimhsiao/crafttrack/internal/gateway"
	"github.com/kimhsiao/crafttrack/internal/logging"
	"github.com/kimhsiao/crafttrack/internal/remote"
	"github.com/kimhsiao/crafttrack/internal/storage"
	syncpkg "github.com/kimhsiao/crafttrack/internal/sync"
	"github.com/kimhsiao/crafttrack/internal/sync/scheduler"
	"github.com/kimhsiao/crafttrack/internal/uuid"
)

const (
	blobDir      = "blobs"
	deviceIDFile = "device_id"
)

// App is one application instance. The sync side (Client, Engine,
// Scheduler, Monitor) is nil when no API base URL is configured.
type App struct {
	Config    *config.Config
	Store     *db.Store
	Blobs     *storage.BlobStore
	Gateway   *gateway.Gateway
	Accounts  *account.Manager
	Hub       *events.Hub
	Inspector *syncpkg.Inspector
	Backups   *export.ExportService
	Backup    *backup.Scheduler

	Client    *remote.Client
	Engine    *syncpkg.Engine
	Scheduler *scheduler.Scheduler
	Monitor   *connectivity.Monitor

	conn     *db.DB
	deviceID string
}

// New opens the data directory and wires every component.
func New(cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrStorageUnavailable, "create data directory", err)
	}
	deviceID, err := loadDeviceID(cfg)
	if err != nil {
		return nil, err
	}
	sealer, err := crypto.NewSealer(crypto.DeviceKey(deviceID))
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageUnavailable, "open database", err)
	}
	store := db.NewStore(conn)
	blobs := storage.NewBlobStore(filepath.Join(cfg.DataDir, blobDir))

	a := &App{
		Config:   cfg,
		Store:    store,
		Blobs:    blobs,
		Gateway:  gateway.New(store, blobs),
		Accounts: account.NewManager(store, sealer),
		Hub:      events.NewHub(),
		conn:     conn,
		deviceID: deviceID,
	}

	if cfg.API.BaseURL != "" {
		client, err := remote.NewClient(remote.Config{
			BaseURL:    cfg.API.BaseURL,
			Timeout:    cfg.API.Timeout,
			MaxRetries: cfg.API.MaxRetries,
		}, a.Accounts)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Client = client
		a.Engine = syncpkg.NewEngine(store, client, blobs, syncpkg.WithEventHandler(a.Hub))
		a.Scheduler = scheduler.NewScheduler(a.Engine, a.Accounts, cfg, &scheduler.SchedulerConfig{
			SyncInterval: cfg.Sync.Interval,
		})
		a.Monitor = connectivity.NewMonitor(client, a.onConnectivity, cfg.Sync.ProbeInterval)
	}
	a.Inspector = syncpkg.NewInspector(store, a.Engine)

	a.Backups = export.NewExportService(store, blobs)
	interval, err := backup.ParseInterval(cfg.Backup.Interval)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Backup = backup.NewScheduler(a.Backups, &backup.SchedulerConfig{
		Interval:       interval,
		RetentionCount: cfg.Backup.Keep,
		IncludeMedia:   cfg.Backup.IncludePhotos,
		ExportDir:      cfg.Backup.Dir,
		Password:       cfg.Backup.Password,
	})

	logging.Debug("Application initialized", map[string]interface{}{
		"data_dir": cfg.DataDir, "sync_configured": a.Engine != nil,
	})
	return a, nil
}

// loadDeviceID returns the configured device id, or the one persisted in the
// data directory, creating it on first run. It survives a local reset.
func loadDeviceID(cfg *config.Config) (string, error) {
	if cfg.DeviceID != "" {
		return cfg.DeviceID, nil
	}
	path := filepath.Join(cfg.DataDir, deviceIDFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	id := uuid.New()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", errors.Wrap(errors.ErrStorageUnavailable, "write device id", err)
	}
	return id, nil
}

// DeviceID returns the device identity used to seal the credential.
func (a *App) DeviceID() string {
	return a.deviceID
}

func (a *App) onConnectivity(online bool) {
	a.Scheduler.SetOnlineStatus(online)
	a.Hub.BroadcastConnectivity(online)
}

// SyncConfigured reports whether a remote API is configured.
func (a *App) SyncConfigured() bool {
	return a.Engine != nil
}

// Sync probes connectivity and runs one gated pass.
func (a *App) Sync(ctx context.Context) (*syncpkg.SyncResult, error) {
	if !a.SyncConfigured() {
		return nil, errors.New(errors.ErrSyncNotConfigured, "api.base_url is not set")
	}
	a.Monitor.Check(ctx)
	return a.Scheduler.SyncNow(ctx)
}

// Status is the user-facing sync summary.
type Status struct {
	*syncpkg.Snapshot
	Configured  bool   `json:"configured"`
	SyncEnabled bool   `json:"sync_enabled"`
	Linked      bool   `json:"linked"`
	UserID      string `json:"user_id,omitempty"`
	Online      *bool  `json:"online,omitempty"`
}

// Status collects local counts, tombstones, last sync time and gate inputs.
func (a *App) Status(ctx context.Context) (*Status, error) {
	snap, err := a.Inspector.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Snapshot:    snap,
		Configured:  a.SyncConfigured(),
		SyncEnabled: a.Config.SyncEnabled(),
	}
	acct, err := a.Accounts.Current(ctx)
	if err != nil {
		return nil, err
	}
	if acct != nil {
		st.UserID = acct.UserID
		st.Linked = a.Accounts.IsLinked(ctx)
	}
	if a.Scheduler != nil && a.Scheduler.IsRunning() {
		online := a.Scheduler.IsOnline()
		st.Online = &online
	}
	return st, nil
}

// Reset deletes every local record, tombstone, setting stored in the
// database and pending photo payload. The account is unlinked as a result.
func (a *App) Reset(ctx context.Context) error {
	if err := a.Store.Reset(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(a.Config.DataDir, blobDir)); err != nil {
		return errors.Wrap(errors.ErrStorageUnavailable, "remove photo payloads", err)
	}
	if a.Engine != nil {
		a.Engine.ClearErrorHistory()
	}
	logging.Info("Local data reset", nil)
	return nil
}

// Close stops background work and releases the database.
func (a *App) Close() error {
	if a.Backup != nil {
		a.Backup.Stop()
	}
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Monitor != nil {
		a.Monitor.Stop()
	}
	a.Hub.Close()
	a.Store.Close()
	return a.conn.Close()
}
