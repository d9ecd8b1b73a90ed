package station_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"camstore/internal/model"
	"camstore/internal/station"
	"camstore/internal/testutil"
)

func fileSize(t *testing.T, dir, name string) int64 {
	t.Helper()
	info, err := os.Stat(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("stat %s: %v", name, err)
	}
	return info.Size()
}

func TestService_TriggerBackup_CreatesSnapshot(t *testing.T) {
	f := newFixture(t, station.Options{RetireArchived: true, CopyWorkers: 2})
	ctx := context.Background()

	changed := f.ingest(t, "", capture(10, 0, 0), score(50), true)
	similar := f.ingest(t, "", capture(10, 0, 5), score(95), false)
	favorite := f.ingest(t, "", capture(10, 0, 7), score(95), false)
	unscored := f.ingest(t, "", capture(10, 0, 9), nil, false)
	yesterday := f.ingest(t, "", time.Date(2024, 1, 14, 23, 0, 0, 0, time.Local), score(10), false)

	f.flag(t, model.ImagesKey(), favorite.ID, model.FieldFavorite, true)

	result, err := f.svc.TriggerBackup(ctx, "")
	if err != nil {
		t.Fatalf("TriggerBackup() error = %v", err)
	}

	if result.Date != "20240115" {
		t.Errorf("Date = %q, want %q", result.Date, "20240115")
	}
	if result.State != station.StateNoDirectory {
		t.Errorf("State = %v, want %v", result.State, station.StateNoDirectory)
	}
	if result.Count != 2 {
		t.Errorf("Count = %d, want 2", result.Count)
	}
	if result.Copied != 3 {
		t.Errorf("Copied = %d, want 3", result.Copied)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Errors = %v, want none", result.Errors)
	}

	dir := f.layout.Dir(model.BackupKey("20240115"))
	wantSize := fileSize(t, dir, changed.LowresFile) + fileSize(t, dir, changed.HiresFile) + fileSize(t, dir, favorite.LowresFile)
	if result.Size != wantSize {
		t.Errorf("Size = %d, want %d", result.Size, wantSize)
	}

	snap, err := f.svc.Snapshot("20240115")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	for _, id := range []string{changed.ID, favorite.ID} {
		if _, ok := snap.Files[id]; !ok {
			t.Errorf("snapshot missing %s", id)
		}
	}
	for _, id := range []string{similar.ID, unscored.ID, yesterday.ID} {
		if _, ok := snap.Files[id]; ok {
			t.Errorf("snapshot should not contain %s", id)
		}
	}
	if snap.Info == nil {
		t.Fatal("snapshot has no info")
	}
	if snap.Info.Count != 2 || snap.Info.Size != wantSize {
		t.Errorf("Info = %+v, want count 2 size %d", snap.Info, wantSize)
	}
	if snap.Info.Date != "15.01.2024" {
		t.Errorf("Info.Date = %q, want %q", snap.Info.Date, "15.01.2024")
	}
	if snap.Info.Threshold[model.DefaultCamera] != 80 {
		t.Errorf("Info.Threshold = %v, want default camera at 80", snap.Info.Threshold)
	}
	if !testutil.FileExists(dir, changed.HiresFile) {
		t.Error("hires blob not copied")
	}
	if testutil.FileExists(dir, similar.LowresFile) {
		t.Error("dropped frame copied into archive")
	}

	// Same-date working-set entries are retired, favorites included.
	if result.Retired != 4 {
		t.Errorf("Retired = %d, want 4", result.Retired)
	}
	images, _ := f.svc.Collection(model.KindImages)
	for _, id := range []string{changed.ID, similar.ID, favorite.ID, unscored.ID} {
		if !images[id].ToBeDeleted() {
			t.Errorf("%s not marked for deletion", id)
		}
	}
	if images[yesterday.ID].ToBeDeleted() {
		t.Error("entry from another date was retired")
	}
}

func TestService_TriggerBackup_Idempotent(t *testing.T) {
	f := newFixture(t, station.Options{RetireArchived: true})
	ctx := context.Background()
	f.ingest(t, "", capture(10, 0, 0), score(50), false)

	first, err := f.svc.TriggerBackup(ctx, "20240115")
	if err != nil {
		t.Fatalf("first TriggerBackup() error = %v", err)
	}

	second, err := f.svc.TriggerBackup(ctx, "20240115")
	if err != nil {
		t.Fatalf("second TriggerBackup() error = %v", err)
	}
	if second.State != station.StateIndexed {
		t.Errorf("State = %v, want %v", second.State, station.StateIndexed)
	}
	if second.Count != first.Count || second.Size != first.Size {
		t.Errorf("second result = %d/%d, want %d/%d", second.Count, second.Size, first.Count, first.Size)
	}
	if second.Copied != 0 || second.Retired != 0 {
		t.Errorf("second run copied %d and retired %d, want 0", second.Copied, second.Retired)
	}
}

func TestService_TriggerBackup_WithoutRetirement(t *testing.T) {
	f := newFixture(t, station.Options{})
	e := f.ingest(t, "", capture(10, 0, 0), score(50), false)

	result, err := f.svc.TriggerBackup(context.Background(), "20240115")
	if err != nil {
		t.Fatalf("TriggerBackup() error = %v", err)
	}
	if result.Retired != 0 {
		t.Errorf("Retired = %d, want 0", result.Retired)
	}
	images, _ := f.svc.Collection(model.KindImages)
	if images[e.ID].ToBeDeleted() {
		t.Error("entry retired with retirement disabled")
	}
}

func TestService_TriggerBackup_CopyFailures(t *testing.T) {
	f := newFixture(t, station.Options{})
	ctx := context.Background()

	gone := f.ingest(t, "north", capture(9, 0, 0), score(10), false)
	partial := f.ingest(t, "north", capture(9, 0, 10), score(10), true)
	kept := f.ingest(t, "north", capture(9, 0, 20), score(10), false)

	os.Remove(filepath.Join(f.layout.ImagesDir, gone.LowresFile))
	os.Remove(filepath.Join(f.layout.ImagesDir, partial.HiresFile))

	result, err := f.svc.TriggerBackup(ctx, "20240115")
	if err != nil {
		t.Fatalf("TriggerBackup() error = %v", err)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("Errors = %v, want 2", result.Errors)
	}
	if result.Count != 2 {
		t.Errorf("Count = %d, want 2", result.Count)
	}

	snap, err := f.svc.Snapshot("20240115")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if _, ok := snap.Files[gone.ID]; ok {
		t.Error("entry with no copied file kept in snapshot")
	}
	p, ok := snap.Files[partial.ID]
	if !ok {
		t.Fatal("partially copied entry missing")
	}
	if p.HiresFile != "" || p.LowresFile != partial.LowresFile {
		t.Errorf("partial entry files = %q/%q, want lowres only", p.LowresFile, p.HiresFile)
	}
	if _, ok := snap.Files[kept.ID]; !ok {
		t.Error("copied entry missing")
	}
}

// copyHookBlobs runs onCopy before every Copy; a non-nil return fails it.
type copyHookBlobs struct {
	station.BlobStore
	onCopy func(name string) error
}

func (b *copyHookBlobs) Copy(srcDir, dstDir, name string) (int64, error) {
	if err := b.onCopy(name); err != nil {
		return 0, err
	}
	return b.BlobStore.Copy(srcDir, dstDir, name)
}

func withCopyHook(onCopy func(name string) error) func(*station.Deps) {
	return func(d *station.Deps) {
		d.Blobs = &copyHookBlobs{BlobStore: d.Blobs, onCopy: onCopy}
	}
}

func TestService_TriggerBackup_CopyFailureNotRetired(t *testing.T) {
	var broken string
	f := newFixture(t, station.Options{RetireArchived: true}, withCopyHook(func(name string) error {
		if name == broken {
			return errors.New("input/output error")
		}
		return nil
	}))
	ctx := context.Background()

	lost := f.ingest(t, "", capture(10, 0, 0), score(10), false)
	saved := f.ingest(t, "", capture(10, 0, 10), score(10), false)
	dropped := f.ingest(t, "", capture(10, 0, 20), score(95), false)
	broken = lost.LowresFile

	result, err := f.svc.TriggerBackup(ctx, "20240115")
	if err != nil {
		t.Fatalf("TriggerBackup() error = %v", err)
	}
	if result.Count != 1 || len(result.Errors) != 1 {
		t.Fatalf("Count = %d, Errors = %v, want 1 entry and 1 error", result.Count, result.Errors)
	}
	if result.Retired != 2 {
		t.Errorf("Retired = %d, want 2", result.Retired)
	}

	if _, err := f.svc.TriggerCleanup(ctx, model.KindImages, "", false); err != nil {
		t.Fatalf("TriggerCleanup() error = %v", err)
	}

	images, _ := f.svc.Collection(model.KindImages)
	e, ok := images[lost.ID]
	if !ok {
		t.Fatal("entry whose copy failed was reclaimed")
	}
	if e.ToBeDeleted() {
		t.Error("entry whose copy failed is marked for deletion")
	}
	if !testutil.FileExists(f.layout.ImagesDir, lost.LowresFile) {
		t.Error("only copy of a failed frame deleted")
	}
	for _, id := range []string{saved.ID, dropped.ID} {
		if _, ok := images[id]; ok {
			t.Errorf("%s not reclaimed", id)
		}
	}
}

func TestService_TriggerBackup_CompletesAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	f := newFixture(t, station.Options{CopyWorkers: 1}, withCopyHook(func(string) error {
		once.Do(cancel)
		return nil
	}))
	for i := 0; i < 5; i++ {
		f.ingest(t, "", capture(13, 0, i), score(10), true)
	}

	result, err := f.svc.TriggerBackup(ctx, "20240115")
	if err != nil {
		t.Fatalf("TriggerBackup() error = %v", err)
	}
	if result.State != station.StateNoDirectory {
		t.Errorf("State = %v, want %v", result.State, station.StateNoDirectory)
	}
	if result.Count != 5 || result.Copied != 10 {
		t.Errorf("Count/Copied = %d/%d, want 5/10", result.Count, result.Copied)
	}

	again, err := f.svc.TriggerBackup(context.Background(), "20240115")
	if err != nil {
		t.Fatalf("second TriggerBackup() error = %v", err)
	}
	if again.State != station.StateIndexed || again.Count != 5 {
		t.Errorf("second run = %v with %d entries, want indexed with 5", again.State, again.Count)
	}
}

func TestService_TriggerBackup_RepairsMissingIndex(t *testing.T) {
	f := newFixture(t, station.Options{RetireArchived: true})
	ctx := context.Background()

	dir := f.layout.Dir(model.BackupKey("20240115"))
	older := capture(8, 0, 0)
	newer := capture(8, 0, 30)
	testutil.WriteJPEG(t, dir, model.LowresName("", older), 100)
	testutil.WriteJPEG(t, dir, model.HiresName("", older), 100)
	testutil.WriteJPEG(t, dir, model.LowresName("", newer), 130)
	testutil.WriteFile(t, dir, "notes.txt", []byte("not an image"))

	// Retirement only follows a fresh snapshot.
	live := f.ingest(t, "", capture(10, 0, 0), score(50), false)

	result, err := f.svc.TriggerBackup(ctx, "20240115")
	if err != nil {
		t.Fatalf("TriggerBackup() error = %v", err)
	}
	if result.State != station.StateDirectoryNoIndex {
		t.Errorf("State = %v, want %v", result.State, station.StateDirectoryNoIndex)
	}
	if result.Count != 2 {
		t.Fatalf("Count = %d, want 2", result.Count)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Errors = %v, want none", result.Errors)
	}

	snap, err := f.svc.Snapshot("20240115")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	o := snap.Files[model.EntryID("", older)]
	n := snap.Files[model.EntryID("", newer)]
	if o == nil || n == nil {
		t.Fatalf("snapshot entries = %v", snap.Files.SortedIDs())
	}
	if o.HiresFile != model.HiresName("", older) || o.LowresFile != model.LowresName("", older) {
		t.Errorf("older entry files = %q/%q", o.LowresFile, o.HiresFile)
	}
	wantSize := fileSize(t, dir, o.LowresFile) + fileSize(t, dir, o.HiresFile)
	if o.Size != wantSize {
		t.Errorf("older entry size = %d, want %d", o.Size, wantSize)
	}
	if o.Similarity == nil || *o.Similarity != 0 {
		t.Errorf("oldest similarity = %v, want 0", o.Similarity)
	}
	if n.Similarity == nil || *n.Similarity <= 0 || *n.Similarity >= 100 {
		t.Errorf("newer similarity = %v, want between 0 and 100", n.Similarity)
	}
	if f.cmp.Calls() != 1 {
		t.Errorf("comparator calls = %d, want 1", f.cmp.Calls())
	}
	if result.Retired != 0 {
		t.Errorf("Retired = %d, want 0", result.Retired)
	}
	images, _ := f.svc.Collection(model.KindImages)
	if images[live.ID].ToBeDeleted() {
		t.Error("repair retired working-set entries")
	}
}

func TestService_TriggerBackup_RepairComparatorFailure(t *testing.T) {
	f := newFixture(t, station.Options{})
	f.cmp.Err = errors.New("frames differ in size")

	dir := f.layout.Dir(model.BackupKey("20240115"))
	testutil.WriteJPEG(t, dir, model.LowresName("", capture(8, 0, 0)), 100)
	testutil.WriteJPEG(t, dir, model.LowresName("", capture(8, 0, 30)), 100)

	result, err := f.svc.TriggerBackup(context.Background(), "20240115")
	if err != nil {
		t.Fatalf("TriggerBackup() error = %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want 1", result.Errors)
	}
	if !strings.Contains(result.Errors[0].Err, "frames differ in size") {
		t.Errorf("error = %q", result.Errors[0].Err)
	}

	snap, _ := f.svc.Snapshot("20240115")
	if s := snap.Files[model.EntryID("", capture(8, 0, 30))].Similarity; s != nil {
		t.Errorf("newer similarity = %v, want nil", *s)
	}
}

func TestService_TriggerBackup_Concurrent(t *testing.T) {
	f := newFixture(t, station.Options{CopyWorkers: 1})
	for i := 0; i < 20; i++ {
		f.ingest(t, "", capture(11, 0, i), score(10), true)
	}

	var wg sync.WaitGroup
	results := make([]*station.BackupResult, 5)
	errs := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.svc.TriggerBackup(context.Background(), "20240115")
		}()
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("TriggerBackup() #%d error = %v", i, errs[i])
		}
		if results[i].Count != 20 {
			t.Errorf("TriggerBackup() #%d count = %d, want 20", i, results[i].Count)
		}
	}

	// Exactly one run built the snapshot.
	ops, err := f.svc.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	created := 0
	for _, op := range ops {
		if strings.HasPrefix(op.Summary, station.StateNoDirectory.String()) {
			created++
		}
	}
	if created != 1 {
		t.Errorf("snapshot created %d times, want 1", created)
	}
}

func TestBackupState_MarshalText(t *testing.T) {
	tests := []struct {
		state station.BackupState
		want  string
	}{
		{station.StateNoDirectory, "no_directory"},
		{station.StateDirectoryNoIndex, "directory_no_index"},
		{station.StateIndexed, "indexed"},
	}
	for _, tt := range tests {
		got, err := tt.state.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText() error = %v", err)
		}
		if string(got) != tt.want {
			t.Errorf("MarshalText() = %q, want %q", got, tt.want)
		}
		var back station.BackupState
		if err := back.UnmarshalText(got); err != nil || back != tt.state {
			t.Errorf("UnmarshalText(%q) = %v, %v", got, back, err)
		}
	}

	var s station.BackupState
	if err := s.UnmarshalText([]byte("archived")); err == nil {
		t.Error("UnmarshalText() expected error for unknown state")
	}
}
