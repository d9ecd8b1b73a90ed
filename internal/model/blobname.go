package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DefaultCamera is the camera id whose segment is omitted from filenames.
const DefaultCamera = "default"

const (
	blobPrefix    = "image_"
	hiresMarker   = "big"
	lowresExt     = ".jpg"
	hiresExt      = ".jpeg"
	videoPrefix   = "video_"
	videoExt      = ".mp4"
	thumbnailExt  = ".jpeg"
	documentExt   = ".json"
	backupDocName = "backup" + documentExt
)

// BlobName is the parsed form of an image filename:
//
//	image_[<camera>_]<YYYYMMDDHHMMSS>.jpg       low resolution
//	image_[<camera>_]big_<YYYYMMDDHHMMSS>.jpeg  high resolution
type BlobName struct {
	Camera    string
	Hires     bool
	Timestamp time.Time
}

// LowresName returns the low-resolution filename for a capture.
func LowresName(camera string, ts time.Time) string {
	return BlobName{Camera: camera, Timestamp: ts}.String()
}

// HiresName returns the high-resolution filename for a capture.
func HiresName(camera string, ts time.Time) string {
	return BlobName{Camera: camera, Hires: true, Timestamp: ts}.String()
}

// VideoNames returns the video and thumbnail filenames for a recording.
func VideoNames(camera string, ts time.Time) (video, thumbnail string) {
	base := videoPrefix + cameraSegment(camera) + ts.Format(TimestampLayout)
	return base + videoExt, base + thumbnailExt
}

func (b BlobName) String() string {
	var sb strings.Builder
	sb.WriteString(blobPrefix)
	sb.WriteString(cameraSegment(b.Camera))
	if b.Hires {
		sb.WriteString(hiresMarker + "_")
	}
	sb.WriteString(b.Timestamp.Format(TimestampLayout))
	if b.Hires {
		sb.WriteString(hiresExt)
	} else {
		sb.WriteString(lowresExt)
	}
	return sb.String()
}

// ParseBlobName parses an image filename. The timestamp is interpreted in
// the local time zone, matching how captures are named.
func ParseBlobName(name string) (BlobName, error) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, blobPrefix) {
		return BlobName{}, fmt.Errorf("not an image filename: %s", name)
	}

	var b BlobName
	stem := strings.TrimPrefix(base, blobPrefix)
	switch {
	case strings.HasSuffix(stem, hiresExt):
		stem = strings.TrimSuffix(stem, hiresExt)
		b.Hires = true
	case strings.HasSuffix(stem, lowresExt):
		stem = strings.TrimSuffix(stem, lowresExt)
	default:
		return BlobName{}, fmt.Errorf("unexpected image extension: %s", name)
	}

	parts := strings.Split(stem, "_")
	stamp := parts[len(parts)-1]
	parts = parts[:len(parts)-1]

	if b.Hires {
		if len(parts) == 0 || parts[len(parts)-1] != hiresMarker {
			return BlobName{}, fmt.Errorf("high resolution filename missing %q marker: %s", hiresMarker, name)
		}
		parts = parts[:len(parts)-1]
	}

	ts, err := time.ParseInLocation(TimestampLayout, stamp, time.Local)
	if err != nil {
		return BlobName{}, fmt.Errorf("parsing timestamp in %s: %w", name, err)
	}
	b.Timestamp = ts

	b.Camera = strings.Join(parts, "_")
	if b.Camera == "" {
		b.Camera = DefaultCamera
	}
	return b, nil
}

func cameraSegment(camera string) string {
	if camera == "" || camera == DefaultCamera {
		return ""
	}
	return camera + "_"
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.Local)
}

// DisplayDate converts a YYYYMMDD date to DD.MM.YYYY.
func DisplayDate(date string) (string, error) {
	t, err := parseDate(date)
	if err != nil {
		return "", fmt.Errorf("parsing date %q: %w", date, err)
	}
	return t.Format(DisplayDateLayout), nil
}
