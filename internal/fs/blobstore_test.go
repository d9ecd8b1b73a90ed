package fs

import (
	"bytes"
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestOSBlobStore_List(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"image_20240115103000.jpg", "images.json", ".tmp-123", "notes.txt"} {
		writeTestFile(t, filepath.Join(dir, name), "x")
	}
	if err := os.Mkdir(filepath.Join(dir, "20240115"), 0755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(dir, IgnoreFileName), "*.txt\n")

	s := NewBlobStore(nil)
	names, err := s.List(dir)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 1 || names[0] != "image_20240115103000.jpg" {
		t.Errorf("List() = %v, want only the image", names)
	}
}

func TestOSBlobStore_CopySizeRemove(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	dst := t.TempDir()
	writeTestFile(t, filepath.Join(src, "a.jpg"), "hello world")

	s := NewBlobStore(nil)
	n, err := s.Copy(src, dst, "a.jpg")
	if err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if n != 11 {
		t.Errorf("Copy() = %d bytes, want 11", n)
	}

	size, err := s.Size(dst, "a.jpg")
	if err != nil || size != 11 {
		t.Fatalf("Size() = %d, %v", size, err)
	}

	rc, err := s.Open(dst, "a.jpg")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	var buf bytes.Buffer
	buf.ReadFrom(rc)
	rc.Close()
	if buf.String() != "hello world" {
		t.Errorf("copied content = %q", buf.String())
	}

	if err := s.Remove(dst, "a.jpg"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove(dst, "a.jpg"); !errors.Is(err, iofs.ErrNotExist) {
		t.Errorf("second Remove() error = %v, want ErrNotExist", err)
	}
	if _, err := s.Size(dst, "a.jpg"); !errors.Is(err, iofs.ErrNotExist) {
		t.Errorf("Size() after remove error = %v, want ErrNotExist", err)
	}
}

func TestOSBlobStore_CopyMissingSource(t *testing.T) {
	t.Parallel()
	s := NewBlobStore(nil)
	if _, err := s.Copy(t.TempDir(), t.TempDir(), "missing.jpg"); !errors.Is(err, iofs.ErrNotExist) {
		t.Errorf("Copy() error = %v, want ErrNotExist", err)
	}
}

func TestOSBlobStore_DirExists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := NewBlobStore(nil)

	ok, err := s.DirExists(dir)
	if err != nil || !ok {
		t.Errorf("DirExists(existing) = %v, %v", ok, err)
	}

	ok, err = s.DirExists(filepath.Join(dir, "nope"))
	if err != nil || ok {
		t.Errorf("DirExists(missing) = %v, %v", ok, err)
	}

	file := filepath.Join(dir, "f")
	writeTestFile(t, file, "x")
	if _, err := s.DirExists(file); err == nil {
		t.Error("DirExists(file) succeeded, want error")
	}

	nested := filepath.Join(dir, "a", "b")
	if err := s.MkdirAll(nested); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if ok, _ := s.DirExists(nested); !ok {
		t.Error("MkdirAll() did not create directory")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	t.Run("leaves no temp files", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		dest := filepath.Join(dir, "doc.json")
		if err := WriteFileAtomic(dest, strings.NewReader("{}"), -1); err != nil {
			t.Fatalf("WriteFileAtomic() error = %v", err)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 1 || entries[0].Name() != "doc.json" {
			t.Errorf("directory contents = %v", entries)
		}
	})

	t.Run("size mismatch keeps old content", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		dest := filepath.Join(dir, "doc.json")
		writeTestFile(t, dest, "old")

		if err := WriteFileAtomic(dest, strings.NewReader("new content"), 3); err == nil {
			t.Fatal("WriteFileAtomic() succeeded, want size mismatch")
		}
		data, _ := os.ReadFile(dest)
		if string(data) != "old" {
			t.Errorf("content = %q, want old", data)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 1 {
			t.Errorf("temp file left behind: %v", entries)
		}
	})
}
