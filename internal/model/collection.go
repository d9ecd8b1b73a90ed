package model

import (
	"fmt"
	"sort"
	"strings"
)

// Time layouts used in entry fields, keys and filenames.
const (
	DateLayout        = "20060102"
	TimestampLayout   = "20060102150405"
	DisplayDateLayout = "02.01.2006"
	DisplayTimeLayout = "15:04:05"
)

// Kind names a collection family.
type Kind string

const (
	KindImages Kind = "images"
	KindVideos Kind = "videos"
	KindBackup Kind = "backup"
)

// ParseKind validates a collection kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindImages, KindVideos, KindBackup:
		return k, nil
	default:
		return "", fmt.Errorf("unknown collection kind: %q", s)
	}
}

// Key identifies one persisted document. Date is set only for backups.
type Key struct {
	Kind Kind
	Date string // YYYYMMDD
}

// ImagesKey is the key of the working-set image collection.
func ImagesKey() Key { return Key{Kind: KindImages} }

// VideosKey is the key of the video collection.
func VideosKey() Key { return Key{Kind: KindVideos} }

// BackupKey is the key of the archive snapshot for date (YYYYMMDD).
func BackupKey(date string) Key { return Key{Kind: KindBackup, Date: date} }

// NewKey builds and validates a key from a kind and an optional date.
func NewKey(kind Kind, date string) (Key, error) {
	k := Key{Kind: kind, Date: date}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Validate checks that the date is present exactly when the kind needs one.
func (k Key) Validate() error {
	if _, err := ParseKind(string(k.Kind)); err != nil {
		return err
	}
	if k.Kind == KindBackup {
		if !ValidDate(k.Date) {
			return fmt.Errorf("backup key requires a YYYYMMDD date, got %q", k.Date)
		}
		return nil
	}
	if k.Date != "" {
		return fmt.Errorf("%s key does not take a date", k.Kind)
	}
	return nil
}

// String returns the key in the form used by key-value backends:
// "images", "videos" or "backup/YYYYMMDD".
func (k Key) String() string {
	if k.Date == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + "/" + k.Date
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	kind, date, _ := strings.Cut(s, "/")
	return NewKey(Kind(kind), date)
}

// ValidDate reports whether s is a YYYYMMDD date.
func ValidDate(s string) bool {
	if len(s) != len(DateLayout) {
		return false
	}
	_, err := parseDate(s)
	return err == nil
}

// Collection maps entry ids to entries.
type Collection map[string]*Entry

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for id, e := range c {
		out[id] = e.Clone()
	}
	return out
}

// SortedIDs returns the entry ids in ascending order.
func (c Collection) SortedIDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ReferencedFiles returns every blob filename any entry points at,
// regardless of flags.
func (c Collection) ReferencedFiles() map[string]struct{} {
	refs := make(map[string]struct{})
	for _, e := range c {
		for _, f := range e.Files() {
			refs[f] = struct{}{}
		}
	}
	return refs
}

// SnapshotInfo summarizes an archive snapshot.
type SnapshotInfo struct {
	Count     int                `json:"count"`
	Size      int64              `json:"size"`
	Threshold map[string]float64 `json:"threshold"`
	Date      string             `json:"date"` // DD.MM.YYYY
}

// Document is the unit the document store persists under one key. Info is
// set only for backup documents.
type Document struct {
	Files Collection
	Info  *SnapshotInfo
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Files: Collection{}}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := &Document{Files: d.Files.Clone()}
	if d.Info != nil {
		info := *d.Info
		info.Threshold = make(map[string]float64, len(d.Info.Threshold))
		for k, v := range d.Info.Threshold {
			info.Threshold[k] = v
		}
		out.Info = &info
	}
	return out
}
