package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"camstore/internal/api"
	"camstore/internal/config"
	"camstore/internal/database"
	"camstore/internal/docstore"
	"camstore/internal/encryption"
	"camstore/internal/fs"
	"camstore/internal/model"
	"camstore/internal/mutation"
	"camstore/internal/retention"
	"camstore/internal/station"
	"camstore/internal/vault"
)

// historyMetadataName is the vault metadata item holding the history database.
const historyMetadataName = "history.db"

// idGenerator produces the operation id attached to log lines.
var idGenerator station.IDGenerator = station.UUIDGenerator{}

// App is the application layer between the CLI and station.Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw CLI arguments, and manages resource lifecycles on Close.
type App struct {
	cfg       *config.Config
	store     *docstore.Store
	queue     *mutation.Queue
	history   *database.SQLiteHistory
	vault     station.Vault
	encryptor station.Encryptor
	service   *station.Service
	logger    *slog.Logger
	logFile   *os.File
}

// New creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "serve", "backup")
// and is attached to every log line. The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	cfg.ApplyDefaults()

	opID := idGenerator.New()
	if len(opID) > 8 {
		opID = opID[:8]
	}
	opID = operation + "-" + opID
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &App{cfg: cfg, logger: logger, logFile: logFile}
	if err := a.wire(ctx); err != nil {
		a.closeResources(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.cfg
	log := &slogAdapter{l: a.logger}
	clock := station.RealClock{}
	layout := cfg.Layout.Layout()

	store, err := docstore.NewStoreFromConfig(cfg.Storage, layout, log)
	if err != nil {
		return fmt.Errorf("creating document store: %w", err)
	}
	a.store = store
	a.queue = mutation.NewQueue(store, log, cfg.Queue.Interval.Duration)

	history, err := database.NewHistoryFromConfig(cfg.Database, cfg.StationID, clock)
	if err != nil {
		return fmt.Errorf("creating history database: %w", err)
	}
	a.history = history
	if err := history.CheckMigrations(); err != nil {
		return fmt.Errorf("history schema out of date: %w", err)
	}

	blobs := fs.NewBlobStore(cfg.Cleanup.Ignore)

	var replicator *station.Replicator
	if cfg.Offsite.Enabled {
		v, err := vault.NewVaultFromConfig(ctx, cfg.Offsite.Vault)
		if err != nil {
			return fmt.Errorf("creating vault: %w", err)
		}
		a.vault = v
		if err := a.checkHistoryVersion(); err != nil {
			return err
		}

		if cfg.Offsite.Encrypt {
			enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
			if err != nil {
				return fmt.Errorf("creating encryptor: %w", err)
			}
			if !enc.IsConfigured() {
				return fmt.Errorf("offsite encryption enabled but no keys found: run `camstore keys init`")
			}
			a.encryptor = enc
		}
		replicator = station.NewReplicator(a.vault, a.encryptor, blobs, cfg.StationID, log, clock)
	}

	a.service = station.NewService(station.Deps{
		Store:      store,
		Queue:      a.queue,
		Blobs:      blobs,
		History:    history,
		Layout:     layout,
		Policies:   PoliciesFromConfig(cfg.Cameras),
		Replicator: replicator,
		Logger:     log,
		Clock:      clock,
	}, station.Options{
		CopyWorkers:    cfg.Backup.CopyWorkers,
		RetireArchived: cfg.Backup.RetireArchived,
		DayOffset:      cfg.Backup.DayOffset,
	})
	return nil
}

// checkHistoryVersion compares the local history with the copy in the vault.
// A newer remote copy means this station's history was restored elsewhere or
// lost locally; the run continues but the operator is warned.
func (a *App) checkHistoryVersion() error {
	remote, err := a.vault.GetMetadataVersion(a.cfg.StationID, historyMetadataName)
	if err != nil {
		return fmt.Errorf("checking remote history version: %w", err)
	}
	local, err := a.history.MaxOperationID()
	if err != nil {
		return fmt.Errorf("checking local history version: %w", err)
	}
	if remote > local {
		a.logger.Warn("local history is behind the vault copy", "local", local, "remote", remote)
	}
	return nil
}

// PoliciesFromConfig builds the retention policies of the configured cameras.
// The "default" camera, when present, replaces the built-in fallback policy.
func PoliciesFromConfig(cameras []config.CameraConfig) retention.PolicySet {
	set := retention.PolicySet{
		Default: retention.Policy{
			Threshold:        config.DefaultThreshold,
			KeyframeInterval: config.DefaultKeyframeInterval,
		},
		Cameras: make(map[string]retention.Policy),
	}
	for _, c := range cameras {
		p := retention.Policy{Threshold: c.Threshold, KeyframeInterval: c.KeyframeInterval.Duration}
		if p.Threshold <= 0 {
			p.Threshold = config.DefaultThreshold
		}
		if c.ID == model.DefaultCamera || c.ID == "" {
			set.Default = p
			continue
		}
		set.Cameras[c.ID] = p
	}
	return set
}

// Service returns the wired station service.
func (a *App) Service() *station.Service { return a.service }

// Queue returns the flag mutation queue.
func (a *App) Queue() *mutation.Queue { return a.queue }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Config returns the effective configuration.
func (a *App) Config() *config.Config { return a.cfg }

// API returns the REST server over the station service.
func (a *App) API() *api.Server {
	return api.NewServer(a.service, a.cfg.Server, a.cfg.StationID, &slogAdapter{l: a.logger}, station.RealClock{})
}

// Scheduler returns the daily backup scheduler described by the config.
func (a *App) Scheduler() (*station.Scheduler, error) {
	hour, minute, err := a.cfg.Backup.DailyTime()
	if err != nil {
		return nil, err
	}
	return station.NewScheduler(a.service, hour, minute, a.cfg.Cleanup.DeleteOrphans), nil
}

// Backup snapshots the given date, or the configured default date when empty.
func (a *App) Backup(ctx context.Context, date string) (*station.BackupResult, error) {
	return a.service.TriggerBackup(ctx, date)
}

// Cleanup reclaims entries marked for deletion in a collection.
func (a *App) Cleanup(ctx context.Context, kind, date string, deleteOrphans bool) (*station.CleanupResult, error) {
	k, err := model.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	return a.service.TriggerCleanup(ctx, k, date, deleteOrphans)
}

// History returns the most recent archive runs.
func (a *App) History(limit int) ([]*station.Operation, error) {
	return a.service.History(limit)
}

// OffsiteGet restores one archived blob from the vault to outPath.
// passphrase is only used when the snapshot was replicated encrypted.
func (a *App) OffsiteGet(date, name, outPath, passphrase string) error {
	manifest, err := a.service.OffsiteManifest(date)
	if err != nil {
		return err
	}

	var decryptCtx station.DecryptionContext
	if manifest.Encrypted {
		enc := a.encryptor
		if enc == nil {
			if enc, err = encryption.NewEncryptorFromConfig(a.cfg.Encryption); err != nil {
				return fmt.Errorf("creating encryptor: %w", err)
			}
		}
		if decryptCtx, err = enc.Unlock(passphrase); err != nil {
			return fmt.Errorf("unlocking private key: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(a.service.OffsiteFile(date, name, pw, decryptCtx))
	}()
	if err := fs.WriteFileAtomic(outPath, pr, -1); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("restoring %s: %w", name, err)
	}
	return nil
}

// NeedsPassphrase reports whether restoring from the snapshot of date
// requires unlocking the private key.
func (a *App) NeedsPassphrase(date string) (bool, error) {
	manifest, err := a.service.OffsiteManifest(date)
	if err != nil {
		return false, err
	}
	return manifest.Encrypted, nil
}

// SetupKeys generates the offsite encryption key pair.
func SetupKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	return enc.Setup(passphrase)
}

// Close drains pending flag changes, closes the store and the history
// database, and uploads the history to the vault when it is newer than the
// vault's copy.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.queue != nil {
		if _, err := a.queue.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("draining flag queue: %w", err))
		}
	}
	if a.vault != nil && a.history != nil {
		if err := a.uploadHistory(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeResources(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeResources(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing document store: %w", err))
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing history database: %w", err))
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// uploadHistory snapshots the history database to a temp file and uploads
// it as metadata with version = newest operation id.
func (a *App) uploadHistory() error {
	local, err := a.history.MaxOperationID()
	if err != nil {
		return fmt.Errorf("checking local history version: %w", err)
	}
	remote, err := a.vault.GetMetadataVersion(a.cfg.StationID, historyMetadataName)
	if err != nil {
		return fmt.Errorf("checking remote history version: %w", err)
	}
	if local <= remote {
		return nil
	}

	tmpDir, err := os.MkdirTemp("", "camstore-history-*")
	if err != nil {
		return fmt.Errorf("creating temp dir for history backup: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, historyMetadataName)
	if err := a.history.BackupTo(tmpPath); err != nil {
		return fmt.Errorf("backing up history database: %w", err)
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("opening history backup for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat history backup: %w", err)
	}
	if err := a.vault.PutMetadata(a.cfg.StationID, historyMetadataName, f, info.Size(), local); err != nil {
		return fmt.Errorf("uploading history to vault: %w", err)
	}
	a.logger.Info("history uploaded to vault", "version", local)
	return nil
}
