package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Flag field names accepted by flag mutations.
const (
	FieldFavorite    = "favorite"
	FieldToBeDeleted = "to_be_deleted"
)

// ErrUnknownField is returned when a flag mutation names a field other than
// FieldFavorite or FieldToBeDeleted.
var ErrUnknownField = errors.New("unknown flag field")

// Override is the retention override a user has placed on an entry.
// An entry is never both a favorite and marked for deletion.
type Override int

const (
	OverrideNone Override = iota
	OverrideFavorite
	OverrideRecycle
)

func (o Override) String() string {
	switch o {
	case OverrideFavorite:
		return "favorite"
	case OverrideRecycle:
		return "recycle"
	default:
		return "none"
	}
}

// Entry is the metadata record for one captured frame or video.
type Entry struct {
	ID            string
	CameraID      string
	LowresFile    string
	HiresFile     string
	VideoFile     string
	ThumbnailFile string

	// Similarity is the score (0-100) against the previous frame of the same
	// camera. Nil means no comparison was made; 0 means no predecessor.
	Similarity *float64

	Override  Override
	Datestamp string // YYYYMMDD
	Date      string // DD.MM.YYYY
	Time      string // HH:MM:SS
	Size      int64
}

// NewEntry creates an entry for a capture by camera at ts, with the id and
// display fields derived from the timestamp.
func NewEntry(camera string, ts time.Time) *Entry {
	if camera == "" {
		camera = DefaultCamera
	}
	return &Entry{
		ID:        EntryID(camera, ts),
		CameraID:  camera,
		Datestamp: ts.Format(DateLayout),
		Date:      ts.Format(DisplayDateLayout),
		Time:      ts.Format(DisplayTimeLayout),
	}
}

// EntryID returns the collection key for a capture. The default camera has
// no prefix.
func EntryID(camera string, ts time.Time) string {
	stamp := ts.Format(TimestampLayout)
	if camera == "" || camera == DefaultCamera {
		return stamp
	}
	return camera + "_" + stamp
}

// Favorite reports whether the entry is pinned as a favorite.
func (e *Entry) Favorite() bool { return e.Override == OverrideFavorite }

// ToBeDeleted reports whether the entry is marked for reclaim.
func (e *Entry) ToBeDeleted() bool { return e.Override == OverrideRecycle }

// SetFlag applies a single flag mutation. Setting one flag clears the other;
// clearing a flag that is not set leaves the override unchanged.
func (e *Entry) SetFlag(field string, value bool) error {
	var target Override
	switch field {
	case FieldFavorite:
		target = OverrideFavorite
	case FieldToBeDeleted:
		target = OverrideRecycle
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	if value {
		e.Override = target
	} else if e.Override == target {
		e.Override = OverrideNone
	}
	return nil
}

// Timestamp returns the capture time encoded in the entry's datestamp and
// time fields.
func (e *Entry) Timestamp() (time.Time, error) {
	ts, err := time.ParseInLocation(DateLayout+" "+DisplayTimeLayout, e.Datestamp+" "+e.Time, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp of entry %s: %w", e.ID, err)
	}
	return ts, nil
}

// Files returns the non-empty blob filenames referenced by the entry.
func (e *Entry) Files() []string {
	var files []string
	for _, f := range []string{e.LowresFile, e.HiresFile, e.VideoFile, e.ThumbnailFile} {
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Similarity != nil {
		s := *e.Similarity
		c.Similarity = &s
	}
	return &c
}

// entryJSON is the persisted shape of an Entry. The override is stored as
// the two boolean fields older documents use.
type entryJSON struct {
	ID            string   `json:"id"`
	CameraID      string   `json:"camera_id,omitempty"`
	LowresFile    string   `json:"lowres_file,omitempty"`
	HiresFile     string   `json:"hires_file,omitempty"`
	VideoFile     string   `json:"video_file,omitempty"`
	ThumbnailFile string   `json:"thumbnail_file,omitempty"`
	Similarity    *float64 `json:"similarity,omitempty"`
	Favorite      bool     `json:"favorite"`
	ToBeDeleted   bool     `json:"to_be_deleted"`
	Datestamp     string   `json:"datestamp"`
	Date          string   `json:"date"`
	Time          string   `json:"time"`
	Size          int64    `json:"size,omitempty"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		ID:            e.ID,
		CameraID:      e.CameraID,
		LowresFile:    e.LowresFile,
		HiresFile:     e.HiresFile,
		VideoFile:     e.VideoFile,
		ThumbnailFile: e.ThumbnailFile,
		Similarity:    e.Similarity,
		Favorite:      e.Override == OverrideFavorite,
		ToBeDeleted:   e.Override == OverrideRecycle,
		Datestamp:     e.Datestamp,
		Date:          e.Date,
		Time:          e.Time,
		Size:          e.Size,
	})
}

// UnmarshalJSON decodes a persisted entry. A document carrying both flags
// decodes as Recycle.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	override := OverrideNone
	switch {
	case raw.ToBeDeleted:
		override = OverrideRecycle
	case raw.Favorite:
		override = OverrideFavorite
	}

	*e = Entry{
		ID:            raw.ID,
		CameraID:      raw.CameraID,
		LowresFile:    raw.LowresFile,
		HiresFile:     raw.HiresFile,
		VideoFile:     raw.VideoFile,
		ThumbnailFile: raw.ThumbnailFile,
		Similarity:    raw.Similarity,
		Override:      override,
		Datestamp:     raw.Datestamp,
		Date:          raw.Date,
		Time:          raw.Time,
		Size:          raw.Size,
	}
	if e.CameraID == "" {
		e.CameraID = DefaultCamera
	}
	return nil
}
