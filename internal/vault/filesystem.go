package vault

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"camstore/internal/fs"
	"camstore/internal/station"
)

// FileSystemVault is a filesystem-based implementation of the Vault interface,
// typically pointed at a mounted NAS share. Layout:
//
//	<root>/
//	  content/
//	    <checksum>             (blobs, named by SHA-256)
//	  metadata/
//	    <stationID>/
//	      <name>               (manifests, e.g. backup-20240115)
//	      <name>.version
type FileSystemVault struct {
	name        string
	root        string
	contentDir  string
	metadataDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	contentDir := filepath.Join(root, "content")
	metadataDir := filepath.Join(root, "metadata")

	for _, dir := range []string{contentDir, metadataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vault directory: %w", err)
		}
	}

	return &FileSystemVault{
		name:        name,
		root:        root,
		contentDir:  contentDir,
		metadataDir: metadataDir,
	}, nil
}

// PutContent stores content identified by its checksum. Storing a checksum
// that already exists only drains r.
func (v *FileSystemVault) PutContent(checksum string, r io.Reader, size int64) error {
	if err := validName(checksum); err != nil {
		return err
	}
	destPath := filepath.Join(v.contentDir, checksum)

	if _, err := os.Stat(destPath); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	return fs.WriteFileAtomic(destPath, r, size)
}

// GetContent retrieves content by checksum and writes it to w.
func (v *FileSystemVault) GetContent(checksum string, w io.Writer) error {
	if err := validName(checksum); err != nil {
		return err
	}
	return readFile(filepath.Join(v.contentDir, checksum), w, fmt.Sprintf("content not found: %s", checksum))
}

// PutMetadata stores a named metadata item for a station along with a version marker.
func (v *FileSystemVault) PutMetadata(stationID string, name string, r io.Reader, size int64, version int64) error {
	dir, err := v.stationDir(stationID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	if err := fs.WriteFileAtomic(filepath.Join(dir, name), r, size); err != nil {
		return err
	}

	versionData := strconv.FormatInt(version, 10)
	return fs.WriteFileAtomic(filepath.Join(dir, name+".version"), strings.NewReader(versionData), int64(len(versionData)))
}

// GetMetadataVersion returns the metadata version of a named item.
// Returns 0 if no version file exists.
func (v *FileSystemVault) GetMetadataVersion(stationID string, name string) (int64, error) {
	dir, err := v.stationDir(stationID, name)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(filepath.Join(dir, name+".version"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// GetMetadata retrieves a named metadata item for a station and writes it to w.
func (v *FileSystemVault) GetMetadata(stationID string, name string, w io.Writer) error {
	dir, err := v.stationDir(stationID, name)
	if err != nil {
		return err
	}
	return readFile(filepath.Join(dir, name), w, fmt.Sprintf("metadata %q not found for station: %s", name, stationID))
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.contentDir, v.metadataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

func (v *FileSystemVault) stationDir(stationID, name string) (string, error) {
	if err := validName(stationID); err != nil {
		return "", err
	}
	if err := validName(name); err != nil {
		return "", err
	}
	return filepath.Join(v.metadataDir, stationID), nil
}

// validName rejects names that would escape the vault directories.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid vault object name %q", name)
	}
	return nil
}

// readFile reads from the specified path and writes to w.
func readFile(srcPath string, w io.Writer, notFoundMsg string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s", notFoundMsg)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

// Compile-time check that FileSystemVault implements station.Vault interface
var _ station.Vault = (*FileSystemVault)(nil)
