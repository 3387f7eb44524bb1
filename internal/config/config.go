// Package config loads settings from an optional file and CRAFTTRACK_*
// environment variables.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/kimhsiao/crafttrack/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. CRAFTTRACK_API_BASE_URL.
const EnvPrefix = "CRAFTTRACK"

// FileName is the config file created in the data directory when a setting
// is first persisted.
const FileName = "config.yaml"

// Keys
const (
	KeyDataDir       = "data_dir"
	KeyDeviceID      = "device_id"
	KeyAPIBaseURL    = "api.base_url"
	KeyAPITimeout    = "api.timeout"
	KeyAPIMaxRetries = "api.max_retries"
	KeySyncEnabled   = "sync.enabled"
	KeySyncInterval  = "sync.interval"
	KeyProbeInterval = "sync.probe_interval"
	KeyLogLevel      = "log.level"
	KeyLogFile       = "log.file"
	KeyServerAddr    = "server.addr"

	KeyBackupDir      = "backup.dir"
	KeyBackupInterval = "backup.interval"
	KeyBackupKeep     = "backup.keep"
	KeyBackupPhotos   = "backup.include_photos"
	KeyBackupPassword = "backup.password"
)

// APIConfig configures the remote client.
type APIConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// SyncConfig configures the trigger layer.
type SyncConfig struct {
	Enabled       bool
	Interval      time.Duration
	ProbeInterval time.Duration
}

// LogConfig configures logging.
type LogConfig struct {
	Level string
	File  string
}

// ServerConfig configures the local event server.
type ServerConfig struct {
	Addr string
}

// BackupConfig configures local backup archives.
type BackupConfig struct {
	Dir           string
	Interval      string // manual, daily, weekly or monthly
	Keep          int
	IncludePhotos bool
	Password      string
}

// Config is a loaded configuration. The sync toggle can change at runtime;
// read it through SyncEnabled.
type Config struct {
	DataDir  string
	DeviceID string
	API      APIConfig
	Sync     SyncConfig
	Log      LogConfig
	Server   ServerConfig
	Backup   BackupConfig

	mu   sync.RWMutex
	v    *viper.Viper
	path string
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".crafttrack"
	}
	return filepath.Join(home, ".crafttrack")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDataDir, defaultDataDir())
	v.SetDefault(KeyDeviceID, "")
	v.SetDefault(KeyAPIBaseURL, "")
	v.SetDefault(KeyAPITimeout, 15*time.Second)
	v.SetDefault(KeyAPIMaxRetries, 2)
	v.SetDefault(KeySyncEnabled, false)
	v.SetDefault(KeySyncInterval, 15*time.Minute)
	v.SetDefault(KeyProbeInterval, 30*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyServerAddr, "127.0.0.1:8090")
	v.SetDefault(KeyBackupDir, "")
	v.SetDefault(KeyBackupInterval, "manual")
	v.SetDefault(KeyBackupKeep, 7)
	v.SetDefault(KeyBackupPhotos, true)
	v.SetDefault(KeyBackupPassword, "")
}

// Load reads configuration. path may be empty or name a file that does not
// exist yet; defaults and environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	c := &Config{v: v, path: path}
	if err := c.read(); err != nil {
		return nil, err
	}
	if c.path == "" {
		candidate := filepath.Join(c.DataDir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			c.path = candidate
			if err := c.read(); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// read loads the file, if any, and refreshes the typed fields.
func (c *Config) read() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path != "" {
		if _, err := os.Stat(c.path); err == nil {
			c.v.SetConfigFile(c.path)
			if err := c.v.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config %s: %w", c.path, err)
			}
		}
	}

	c.DataDir = expandHome(c.v.GetString(KeyDataDir))
	c.DeviceID = c.v.GetString(KeyDeviceID)
	c.API = APIConfig{
		BaseURL:    strings.TrimSpace(c.v.GetString(KeyAPIBaseURL)),
		Timeout:    c.v.GetDuration(KeyAPITimeout),
		MaxRetries: c.v.GetInt(KeyAPIMaxRetries),
	}
	c.Sync = SyncConfig{
		Enabled:       c.v.GetBool(KeySyncEnabled),
		Interval:      c.v.GetDuration(KeySyncInterval),
		ProbeInterval: c.v.GetDuration(KeyProbeInterval),
	}
	c.Log = LogConfig{Level: c.v.GetString(KeyLogLevel), File: c.v.GetString(KeyLogFile)}
	c.Server = ServerConfig{Addr: c.v.GetString(KeyServerAddr)}
	c.Backup = BackupConfig{
		Dir:           expandHome(c.v.GetString(KeyBackupDir)),
		Interval:      c.v.GetString(KeyBackupInterval),
		Keep:          c.v.GetInt(KeyBackupKeep),
		IncludePhotos: c.v.GetBool(KeyBackupPhotos),
		Password:      c.v.GetString(KeyBackupPassword),
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(c.DataDir, "backups")
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Path returns the config file in use, or where it will be written.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.path != "" {
		return c.path
	}
	return filepath.Join(c.DataDir, FileName)
}

// SyncEnabled reports the cloud sync toggle.
func (c *Config) SyncEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Sync.Enabled
}

// SetSyncEnabled changes the toggle and persists it to the config file.
// Only keys already in the file plus the toggle are written.
func (c *Config) SetSyncEnabled(enabled bool) error {
	path := c.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file := viper.New()
	file.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := file.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	file.Set(KeySyncEnabled, enabled)
	if err := file.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}

	c.mu.Lock()
	c.path = path
	c.mu.Unlock()
	if err := c.read(); err != nil {
		return err
	}
	logging.Info("Cloud sync setting changed", map[string]interface{}{"enabled": enabled, "path": path})
	return nil
}

// Reload re-reads the config file.
func (c *Config) Reload() error {
	return c.read()
}

// Watch reloads the config when its file is written or replaced and then
// calls onChange. It stops when ctx is done.
func (c *Config) Watch(ctx context.Context, onChange func(*Config)) error {
	path := c.Path()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				c.mu.Lock()
				c.path = path
				c.mu.Unlock()
				if err := c.Reload(); err != nil {
					logging.Warn("Failed to reload config", map[string]interface{}{"path": path, "error": err.Error()})
					continue
				}
				logging.Debug("Config reloaded", map[string]interface{}{"path": path})
				if onChange != nil {
					onChange(c)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("Config watcher error", map[string]interface{}{"error": err.Error()})
			}
		}
	}()
	return nil
}
