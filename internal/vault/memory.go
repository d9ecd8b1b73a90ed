package vault

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"camstore/internal/station"
)

// ErrChecksumMismatch is returned when stored bytes do not hash to the
// content address they were put under.
var ErrChecksumMismatch = errors.New("content does not match checksum")

// MemoryVault keeps offsite blobs and each station's manifests in memory.
// Used by tests and by the "memory" vault type for dry runs. Blobs are
// checked against their content address on the way in.
type MemoryVault struct {
	name string

	mu       sync.RWMutex
	blobs    map[string][]byte
	stations map[string]map[string]shelfItem
}

type shelfItem struct {
	data    []byte
	version int64
}

var _ station.Vault = (*MemoryVault)(nil)

// NewMemoryVault creates an empty vault.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		blobs:    make(map[string][]byte),
		stations: make(map[string]map[string]shelfItem),
	}
}

func readExactly(r io.Reader, size int64) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	return data, nil
}

// PutContent stores a blob under its SHA-256 hex address.
func (m *MemoryVault) PutContent(checksum string, r io.Reader, size int64) error {
	data, err := readExactly(r, size)
	if err != nil {
		return fmt.Errorf("reading blob %s: %w", checksum, err)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != checksum {
		return fmt.Errorf("%w: put under %s, hashes to %s", ErrChecksumMismatch, checksum, got)
	}

	m.mu.Lock()
	m.blobs[checksum] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryVault) GetContent(checksum string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.blobs[checksum]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("content not found: %s", checksum)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing blob %s: %w", checksum, err)
	}
	return nil
}

// PutMetadata stores a manifest or other named item on the station's shelf.
func (m *MemoryVault) PutMetadata(stationID string, name string, r io.Reader, size int64, version int64) error {
	data, err := readExactly(r, size)
	if err != nil {
		return fmt.Errorf("reading %s for %s: %w", name, stationID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	shelf, ok := m.stations[stationID]
	if !ok {
		shelf = make(map[string]shelfItem)
		m.stations[stationID] = shelf
	}
	shelf[name] = shelfItem{data: data, version: version}
	return nil
}

// GetMetadataVersion returns 0 for items never stored.
func (m *MemoryVault) GetMetadataVersion(stationID string, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stations[stationID][name].version, nil
}

func (m *MemoryVault) GetMetadata(stationID string, name string, w io.Writer) error {
	m.mu.RLock()
	item, ok := m.stations[stationID][name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("metadata %q not found for station: %s", name, stationID)
	}
	if _, err := io.Copy(w, bytes.NewReader(item.data)); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// SnapshotDates lists the dates with a manifest on the station's shelf,
// oldest first.
func (m *MemoryVault) SnapshotDates(stationID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var dates []string
	for name := range m.stations[stationID] {
		if date, ok := strings.CutPrefix(name, station.ManifestName("")); ok {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)
	return dates
}

// ContentCount returns the number of distinct blobs stored.
func (m *MemoryVault) ContentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

func (m *MemoryVault) ValidateSetup() error {
	return nil
}
