package model

import "testing"

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		want    Key
		wantErr bool
	}{
		{in: "images", want: ImagesKey()},
		{in: "videos", want: VideosKey()},
		{in: "backup/20240115", want: BackupKey("20240115")},
		{in: "backup", wantErr: true},
		{in: "backup/2024-01-15", wantErr: true},
		{in: "images/20240115", wantErr: true},
		{in: "thumbnails", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseKey(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseKey(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseKey(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestCollection_ReferencedFiles(t *testing.T) {
	c := Collection{
		"a": {ID: "a", LowresFile: "a.jpg", HiresFile: "a_big.jpeg"},
		"b": {ID: "b", LowresFile: "b.jpg", Override: OverrideRecycle},
		"c": {ID: "c"},
	}

	refs := c.ReferencedFiles()
	if len(refs) != 3 {
		t.Fatalf("ReferencedFiles() has %d files, want 3", len(refs))
	}
	for _, f := range []string{"a.jpg", "a_big.jpeg", "b.jpg"} {
		if _, ok := refs[f]; !ok {
			t.Errorf("ReferencedFiles() missing %s", f)
		}
	}
}

func TestDocument_Clone(t *testing.T) {
	d := &Document{
		Files: Collection{"a": {ID: "a"}},
		Info:  &SnapshotInfo{Count: 1, Threshold: map[string]float64{"default": 80}},
	}

	c := d.Clone()
	c.Files["a"].Override = OverrideFavorite
	c.Files["b"] = &Entry{ID: "b"}
	c.Info.Threshold["default"] = 10

	if d.Files["a"].Override != OverrideNone || len(d.Files) != 1 {
		t.Error("Clone() shares files with original")
	}
	if d.Info.Threshold["default"] != 80 {
		t.Error("Clone() shares thresholds with original")
	}
}

func TestDisplayDate(t *testing.T) {
	got, err := DisplayDate("20240115")
	if err != nil {
		t.Fatalf("DisplayDate() error = %v", err)
	}
	if got != "15.01.2024" {
		t.Errorf("DisplayDate() = %q", got)
	}
	if _, err := DisplayDate("2024"); err == nil {
		t.Error("DisplayDate(2024) succeeded, want error")
	}
}
