package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"camstore/internal/model"
)

// Config represents the main configuration for camstore.
type Config struct {
	StationID  string           `toml:"station_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Layout     LayoutConfig     `toml:"layout"`
	Storage    StorageConfig    `toml:"storage"`
	Cameras    []CameraConfig   `toml:"cameras"`
	Queue      QueueConfig      `toml:"queue"`
	Backup     BackupConfig     `toml:"backup"`
	Cleanup    CleanupConfig    `toml:"cleanup"`
	Database   DatabaseConfig   `toml:"database"`
	Offsite    OffsiteConfig    `toml:"offsite"`
	Encryption EncryptionConfig `toml:"encryption"`
	Server     ServerConfig     `toml:"server"`
}

// LayoutConfig holds the directories collections live in.
type LayoutConfig struct {
	ImagesDir  string `toml:"images_dir"`
	VideosDir  string `toml:"videos_dir"`
	ArchiveDir string `toml:"archive_dir"`
}

// Layout converts the configured directories to a model.Layout.
func (c LayoutConfig) Layout() model.Layout {
	return model.Layout{ImagesDir: c.ImagesDir, VideosDir: c.VideosDir, ArchiveDir: c.ArchiveDir}
}

// StorageConfig represents configuration for the document store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type          string   `toml:"type"`                 // "filesystem", "badger" or "memory"
	BadgerDir     string   `toml:"badger_dir,omitempty"` // only used for type=badger
	LockTimeout   Duration `toml:"lock_timeout"`
	LockWarnAfter Duration `toml:"lock_warn_after"`
	ShutdownGrace Duration `toml:"shutdown_grace"`
}

// CameraConfig holds the retention policy of one camera. The camera with
// id "default" supplies the policy for cameras not listed.
type CameraConfig struct {
	ID               string   `toml:"id"`
	Threshold        float64  `toml:"threshold"`
	KeyframeInterval Duration `toml:"keyframe_interval"`
}

// QueueConfig controls the flag mutation queue consumer.
type QueueConfig struct {
	Interval Duration `toml:"interval"`
}

// BackupConfig controls the daily archive run.
type BackupConfig struct {
	Enabled        bool   `toml:"enabled"`
	Time           string `toml:"time"`       // "HH:MM" local time
	DayOffset      int    `toml:"day_offset"` // 0 archives the current day, -1 the previous one
	CopyWorkers    int    `toml:"copy_workers"`
	RetireArchived bool   `toml:"retire_archived"`
}

// CleanupConfig holds reclaim settings.
type CleanupConfig struct {
	Ignore        []string `toml:"ignore"`
	DeleteOrphans bool     `toml:"delete_orphans"` // used by the scheduled cleanup
}

// DatabaseConfig represents configuration for the run history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// OffsiteConfig controls replication of archive snapshots to a vault.
type OffsiteConfig struct {
	Enabled bool        `toml:"enabled"`
	Encrypt bool        `toml:"encrypt"`
	Vault   VaultConfig `toml:"vault"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ServerConfig controls the REST API.
type ServerConfig struct {
	Listen          string   `toml:"listen"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"` // requests per minute per client; 0 disables
}

// Duration is a time.Duration encoded as a string such as "1m30s".
type Duration struct {
	time.Duration
}

// Dur wraps a time.Duration.
func Dur(d time.Duration) Duration { return Duration{d} }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	d.Duration = v
	return nil
}

// Defaults applied to zero-valued settings.
const (
	DefaultThreshold        = 80.0
	DefaultKeyframeInterval = 10 * time.Minute
	DefaultLockTimeout      = 30 * time.Second
	DefaultLockWarnAfter    = 2 * time.Second
	DefaultShutdownGrace    = 5 * time.Second
	DefaultQueueInterval    = time.Second
	DefaultBackupTime       = "00:15"
	DefaultDayOffset        = -1
	DefaultCopyWorkers      = 4
	DefaultListen           = "127.0.0.1:8080"
	DefaultShutdownTimeout  = 10 * time.Second
)

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(stationID, baseDir string) *Config {
	return &Config{
		StationID: stationID,
		BaseDir:   baseDir,
		LogDir:    filepath.Join(baseDir, "log"),
		Layout: LayoutConfig{
			ImagesDir:  filepath.Join(baseDir, "images"),
			VideosDir:  filepath.Join(baseDir, "videos"),
			ArchiveDir: filepath.Join(baseDir, "archive"),
		},
		Storage: StorageConfig{
			Type:          "filesystem",
			LockTimeout:   Dur(DefaultLockTimeout),
			LockWarnAfter: Dur(DefaultLockWarnAfter),
			ShutdownGrace: Dur(DefaultShutdownGrace),
		},
		Cameras: []CameraConfig{
			{ID: model.DefaultCamera, Threshold: DefaultThreshold, KeyframeInterval: Dur(DefaultKeyframeInterval)},
		},
		Queue: QueueConfig{Interval: Dur(DefaultQueueInterval)},
		Backup: BackupConfig{
			Enabled:        true,
			Time:           DefaultBackupTime,
			DayOffset:      DefaultDayOffset,
			CopyWorkers:    DefaultCopyWorkers,
			RetireArchived: true,
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "camstore.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "camstore.key"),
		},
		Server: ServerConfig{
			Listen:          DefaultListen,
			ShutdownTimeout: Dur(DefaultShutdownTimeout),
		},
	}
}

// ApplyDefaults fills zero-valued tunables with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Storage.Type == "" {
		c.Storage.Type = "filesystem"
	}
	setDur(&c.Storage.LockTimeout, DefaultLockTimeout)
	setDur(&c.Storage.LockWarnAfter, DefaultLockWarnAfter)
	setDur(&c.Storage.ShutdownGrace, DefaultShutdownGrace)
	setDur(&c.Queue.Interval, DefaultQueueInterval)
	setDur(&c.Server.ShutdownTimeout, DefaultShutdownTimeout)
	if c.Backup.Time == "" {
		c.Backup.Time = DefaultBackupTime
	}
	if c.Backup.CopyWorkers <= 0 {
		c.Backup.CopyWorkers = DefaultCopyWorkers
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
}

func setDur(d *Duration, def time.Duration) {
	if d.Duration <= 0 {
		d.Duration = def
	}
}

// DailyTime parses Backup.Time into hour and minute.
func (c BackupConfig) DailyTime() (hour, minute int, err error) {
	t, err := time.Parse("15:04", c.Time)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid backup time %q: %w", c.Time, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
