// Package retention decides which captured frames survive into an archive
// snapshot and recomputes frame-to-frame similarity scores.
package retention

import (
	"time"

	"camstore/internal/model"
)

// Policy is the retention configuration of one camera.
type Policy struct {
	// Threshold is the similarity below which a frame counts as changed
	// enough to keep. Scores are 0-100, higher meaning more similar.
	Threshold float64

	// KeyframeInterval forces retention of frames whose time of day is a
	// multiple of the interval. Zero disables keyframes.
	KeyframeInterval time.Duration
}

// Select reports whether an entry is retained under policy p. The checks
// run in order and the first that decides wins:
//
//  1. no similarity score: dropped
//  2. marked for deletion: dropped
//  3. on a keyframe boundary: kept
//  4. similarity non-zero and below threshold: kept
//  5. favorite: kept
//  6. otherwise dropped
func Select(e *model.Entry, p Policy) bool {
	if e.Similarity == nil {
		return false
	}
	if e.Override == model.OverrideRecycle {
		return false
	}
	if p.IsKeyframe(e) {
		return true
	}
	if s := *e.Similarity; s != 0 && s < p.Threshold {
		return true
	}
	return e.Override == model.OverrideFavorite
}

// IsKeyframe reports whether the entry's capture second falls on the
// policy's keyframe boundary.
func (p Policy) IsKeyframe(e *model.Entry) bool {
	interval := int(p.KeyframeInterval / time.Second)
	if interval <= 0 {
		return false
	}
	t, err := time.Parse(model.DisplayTimeLayout, e.Time)
	if err != nil {
		return false
	}
	secs := t.Hour()*3600 + t.Minute()*60 + t.Second()
	return secs%interval == 0
}

// PolicySet holds per-camera policies with a fallback for unknown cameras.
type PolicySet struct {
	Default Policy
	Cameras map[string]Policy
}

// For returns the policy of camera, or the default.
func (s PolicySet) For(camera string) Policy {
	if p, ok := s.Cameras[camera]; ok {
		return p
	}
	return s.Default
}
