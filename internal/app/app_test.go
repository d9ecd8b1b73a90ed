package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"camstore/internal/config"
	"camstore/internal/model"
	"camstore/internal/station"
	"camstore/internal/testutil"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig("station-test", t.TempDir())
	cfg.Storage.Type = "memory"
	cfg.Database.Type = "memory"
	cfg.Offsite = config.OffsiteConfig{
		Enabled: true,
		Encrypt: true,
		Vault:   config.VaultConfig{Type: "memory", Name: "test"},
	}
	cfg.Encryption.Type = "test"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func ingestFrame(t *testing.T, a *App, ts time.Time, shade uint8) *model.Entry {
	t.Helper()
	name := model.LowresName("", ts)
	testutil.WriteJPEG(t, a.cfg.Layout.ImagesDir, name, shade)
	sim := 10.0
	entry, err := a.Service().Ingest(context.Background(), station.Observation{
		Timestamp:  ts,
		LowresFile: name,
		Similarity: &sim,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	return entry
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"unknown storage", func(c *config.Config) { c.Storage.Type = "etcd" }},
		{"unknown database", func(c *config.Config) { c.Database.Type = "postgres" }},
		{"unknown vault", func(c *config.Config) { c.Offsite.Vault.Type = "tape" }},
		{"filesystem vault without root", func(c *config.Config) { c.Offsite.Vault.Type = "filesystem" }},
		{"age keys missing", func(c *config.Config) { c.Encryption.Type = "age" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			tt.modify(cfg)
			if _, err := New(context.Background(), cfg, "test"); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestApp_BackupAndOffsiteGet(t *testing.T) {
	cfg := newTestConfig(t)
	a := newTestApp(t, cfg)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	entry := ingestFrame(t, a, now, 120)

	date := now.Format(model.DateLayout)
	result, err := a.Backup(ctx, date)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if result.Count != 1 || result.Replicated != 1 {
		t.Fatalf("Backup() = count %d replicated %d, want 1/1", result.Count, result.Replicated)
	}

	need, err := a.NeedsPassphrase(date)
	if err != nil {
		t.Fatalf("NeedsPassphrase() error = %v", err)
	}
	if !need {
		t.Error("NeedsPassphrase() = false for encrypted snapshot")
	}

	out := filepath.Join(t.TempDir(), "restored", entry.LowresFile)
	if err := a.OffsiteGet(date, entry.LowresFile, out, "secret"); err != nil {
		t.Fatalf("OffsiteGet() error = %v", err)
	}
	want, _ := os.ReadFile(filepath.Join(cfg.Layout.ImagesDir, entry.LowresFile))
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading restored file: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("restored file differs from the original")
	}

	if err := a.OffsiteGet(date, "image_19990101000000.jpg", filepath.Join(t.TempDir(), "x.jpg"), "secret"); err == nil {
		t.Error("OffsiteGet() of unknown file expected error")
	}

	cleaned, err := a.Cleanup(ctx, "images", "", false)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if cleaned.DeletedCount != 1 {
		t.Errorf("Cleanup() DeletedCount = %d, want 1 retired entry", cleaned.DeletedCount)
	}

	ops, err := a.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(ops) != 2 || ops[0].Operation != "cleanup" || ops[1].Operation != "backup" {
		t.Errorf("History() = %+v, want cleanup then backup", ops)
	}

	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	version, err := a.vault.GetMetadataVersion(cfg.StationID, historyMetadataName)
	if err != nil {
		t.Fatalf("GetMetadataVersion() error = %v", err)
	}
	if version != 2 {
		t.Errorf("uploaded history version = %d, want 2", version)
	}
}

func TestApp_Cleanup_InvalidKind(t *testing.T) {
	a := newTestApp(t, newTestConfig(t))
	defer a.Close(context.Background())

	if _, err := a.Cleanup(context.Background(), "audio", "", false); err == nil {
		t.Error("Cleanup() expected error for unknown kind")
	}
}

func TestApp_OffsiteDisabled(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Offsite.Enabled = false
	a := newTestApp(t, cfg)
	defer a.Close(context.Background())

	err := a.OffsiteGet("20240115", "image_20240115120000.jpg", filepath.Join(t.TempDir(), "x.jpg"), "")
	if err != station.ErrOffsiteDisabled {
		t.Errorf("OffsiteGet() error = %v, want ErrOffsiteDisabled", err)
	}
}

func TestNew_TagsLogLinesWithOperation(t *testing.T) {
	prev := idGenerator
	idGenerator = testutil.NewStubIDGenerator("run")
	t.Cleanup(func() { idGenerator = prev })

	cfg := newTestConfig(t)
	a := newTestApp(t, cfg)
	a.logger.Info("station ready")
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "camstore.log"))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !bytes.Contains(data, []byte("\ttest-run1\tstation ready")) {
		t.Errorf("log missing operation id:\n%s", data)
	}
}

func TestApp_CloseWithoutRunsSkipsUpload(t *testing.T) {
	cfg := newTestConfig(t)
	a := newTestApp(t, cfg)

	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	version, err := a.vault.GetMetadataVersion(cfg.StationID, historyMetadataName)
	if err != nil {
		t.Fatalf("GetMetadataVersion() error = %v", err)
	}
	if version != 0 {
		t.Errorf("history version = %d, want 0 when nothing ran", version)
	}
}

func TestApp_Scheduler(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Backup.Time = "02:30"
	a := newTestApp(t, cfg)
	defer a.Close(context.Background())

	s, err := a.Scheduler()
	if err != nil {
		t.Fatalf("Scheduler() error = %v", err)
	}
	now := time.Date(2024, 1, 15, 3, 0, 0, 0, time.Local)
	want := time.Date(2024, 1, 16, 2, 30, 0, 0, time.Local)
	if got := s.NextRun(now); !got.Equal(want) {
		t.Errorf("NextRun() = %v, want %v", got, want)
	}

	a.cfg.Backup.Time = "25:00"
	if _, err := a.Scheduler(); err == nil {
		t.Error("Scheduler() expected error for invalid time")
	}
}

func TestPoliciesFromConfig(t *testing.T) {
	set := PoliciesFromConfig([]config.CameraConfig{
		{ID: "default", Threshold: 70, KeyframeInterval: config.Dur(5 * time.Minute)},
		{ID: "north", Threshold: 90},
		{ID: "south"},
	})

	tests := []struct {
		camera        string
		wantThreshold float64
		wantKeyframe  time.Duration
	}{
		{"default", 70, 5 * time.Minute},
		{"unknown", 70, 5 * time.Minute},
		{"north", 90, 0},
		{"south", config.DefaultThreshold, 0},
	}
	for _, tt := range tests {
		t.Run(tt.camera, func(t *testing.T) {
			p := set.For(tt.camera)
			if p.Threshold != tt.wantThreshold || p.KeyframeInterval != tt.wantKeyframe {
				t.Errorf("For(%q) = %+v, want threshold %v keyframe %v", tt.camera, p, tt.wantThreshold, tt.wantKeyframe)
			}
		})
	}

	empty := PoliciesFromConfig(nil)
	if p := empty.For("any"); p.Threshold != config.DefaultThreshold || p.KeyframeInterval != config.DefaultKeyframeInterval {
		t.Errorf("default policy = %+v", p)
	}
}

func TestSetupKeys(t *testing.T) {
	cfg := config.NewConfig("station-test", t.TempDir())
	if err := SetupKeys(cfg, "hunter2"); err != nil {
		t.Fatalf("SetupKeys() error = %v", err)
	}
	for _, p := range []string{cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("key file %s missing: %v", p, err)
		}
	}
	if err := SetupKeys(cfg, "hunter2"); err == nil {
		t.Error("second SetupKeys() expected error")
	}
}
