package retention

import (
	"testing"
	"time"

	"camstore/internal/model"
)

func score(v float64) *float64 { return &v }

func TestSelect(t *testing.T) {
	policy := Policy{Threshold: 80, KeyframeInterval: 10 * time.Minute}

	tests := []struct {
		name  string
		entry model.Entry
		want  bool
	}{
		{
			name:  "no similarity is dropped even as favorite",
			entry: model.Entry{Time: "10:31:05", Override: model.OverrideFavorite},
			want:  false,
		},
		{
			name:  "below threshold is kept",
			entry: model.Entry{Time: "10:31:05", Similarity: score(50)},
			want:  true,
		},
		{
			name:  "recycle wins over low similarity",
			entry: model.Entry{Time: "10:31:05", Similarity: score(10), Override: model.OverrideRecycle},
			want:  false,
		},
		{
			name:  "recycle wins over keyframe",
			entry: model.Entry{Time: "10:30:00", Similarity: score(99), Override: model.OverrideRecycle},
			want:  false,
		},
		{
			name:  "keyframe is kept above threshold",
			entry: model.Entry{Time: "10:30:00", Similarity: score(99)},
			want:  true,
		},
		{
			name:  "zero similarity is not a change",
			entry: model.Entry{Time: "10:31:05", Similarity: score(0)},
			want:  false,
		},
		{
			name:  "favorite above threshold is kept",
			entry: model.Entry{Time: "10:31:05", Similarity: score(95), Override: model.OverrideFavorite},
			want:  true,
		},
		{
			name:  "equal to threshold is dropped",
			entry: model.Entry{Time: "10:31:05", Similarity: score(80)},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Select(&tt.entry, policy); got != tt.want {
				t.Errorf("Select() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_IsKeyframe(t *testing.T) {
	tests := []struct {
		interval time.Duration
		at       string
		want     bool
	}{
		{interval: time.Minute, at: "10:31:00", want: true},
		{interval: time.Minute, at: "10:31:01", want: false},
		{interval: 10 * time.Minute, at: "10:40:00", want: true},
		{interval: 10 * time.Minute, at: "10:41:00", want: false},
		{interval: 0, at: "00:00:00", want: false},
		{interval: time.Minute, at: "garbage", want: false},
	}
	for _, tt := range tests {
		p := Policy{KeyframeInterval: tt.interval}
		if got := p.IsKeyframe(&model.Entry{Time: tt.at}); got != tt.want {
			t.Errorf("IsKeyframe(%s every %s) = %v, want %v", tt.at, tt.interval, got, tt.want)
		}
	}
}

func TestPolicySet_For(t *testing.T) {
	set := PolicySet{
		Default: Policy{Threshold: 80},
		Cameras: map[string]Policy{"garden": {Threshold: 60}},
	}
	if got := set.For("garden").Threshold; got != 60 {
		t.Errorf("For(garden) threshold = %v, want 60", got)
	}
	if got := set.For("porch").Threshold; got != 80 {
		t.Errorf("For(porch) threshold = %v, want 80", got)
	}
}
