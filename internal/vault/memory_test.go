package vault

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func addressOf(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func TestMemoryVault_Content(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		checksum string
		size     int64
		wantErr  error
	}{
		{name: "jpeg frame", data: "\xff\xd8\xff\xe0frame", checksum: addressOf("\xff\xd8\xff\xe0frame"), size: 9},
		{name: "empty blob", data: "", checksum: addressOf(""), size: 0},
		{name: "large blob", data: strings.Repeat("x", 64<<10), checksum: addressOf(strings.Repeat("x", 64<<10)), size: 64 << 10},
		{name: "wrong address", data: "frame", checksum: addressOf("other frame"), size: 5, wantErr: ErrChecksumMismatch},
		{name: "short read", data: "frame", checksum: addressOf("frame"), size: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewMemoryVault("test")
			err := v.PutContent(tt.checksum, strings.NewReader(tt.data), tt.size)

			if tt.size != int64(len(tt.data)) || tt.wantErr != nil {
				if err == nil {
					t.Fatal("PutContent() expected error")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("PutContent() error = %v, want %v", err, tt.wantErr)
				}
				if v.ContentCount() != 0 {
					t.Error("rejected blob was stored")
				}
				return
			}
			if err != nil {
				t.Fatalf("PutContent() error = %v", err)
			}

			var buf bytes.Buffer
			if err := v.GetContent(tt.checksum, &buf); err != nil {
				t.Fatalf("GetContent() error = %v", err)
			}
			if buf.String() != tt.data {
				t.Errorf("GetContent() returned %d bytes, want %d", buf.Len(), len(tt.data))
			}
		})
	}
}

func TestMemoryVault_ContentIsDeduplicated(t *testing.T) {
	v := NewMemoryVault("test")
	for _, data := range []string{"frame a", "frame b", "frame a"} {
		if err := v.PutContent(addressOf(data), strings.NewReader(data), int64(len(data))); err != nil {
			t.Fatalf("PutContent(%q) error = %v", data, err)
		}
	}
	if got := v.ContentCount(); got != 2 {
		t.Errorf("ContentCount() = %d, want 2", got)
	}
	if err := v.GetContent(addressOf("frame c"), &bytes.Buffer{}); err == nil {
		t.Error("GetContent() of unknown address expected error")
	}
}

func TestMemoryVault_Manifests(t *testing.T) {
	v := NewMemoryVault("test")
	put := func(stationID, name, data string, version int64) {
		t.Helper()
		if err := v.PutMetadata(stationID, name, strings.NewReader(data), int64(len(data)), version); err != nil {
			t.Fatalf("PutMetadata(%s, %s) error = %v", stationID, name, err)
		}
	}

	if ver, err := v.GetMetadataVersion("north", "backup-20240115"); err != nil || ver != 0 {
		t.Fatalf("GetMetadataVersion() before put = %d, %v", ver, err)
	}

	put("north", "backup-20240115", `{"version":1}`, 1)
	put("north", "backup-20240115", `{"version":2}`, 2)
	put("north", "backup-20240114", `{"version":1}`, 1)
	put("north", "history.db", "sqlite", 7)
	put("south", "backup-20240116", `{"version":1}`, 1)

	var buf bytes.Buffer
	if err := v.GetMetadata("north", "backup-20240115", &buf); err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if buf.String() != `{"version":2}` {
		t.Errorf("GetMetadata() = %q, want latest manifest", buf.String())
	}
	if ver, _ := v.GetMetadataVersion("north", "backup-20240115"); ver != 2 {
		t.Errorf("GetMetadataVersion() = %d, want 2", ver)
	}

	if got, want := v.SnapshotDates("north"), []string{"20240114", "20240115"}; !reflect.DeepEqual(got, want) {
		t.Errorf("SnapshotDates(north) = %v, want %v", got, want)
	}
	if got := v.SnapshotDates("east"); len(got) != 0 {
		t.Errorf("SnapshotDates(east) = %v, want none", got)
	}

	// Shelves are per station.
	if err := v.GetMetadata("south", "backup-20240115", &buf); err == nil {
		t.Error("GetMetadata() across stations expected error")
	}
	if err := v.PutMetadata("north", "backup-20240117", strings.NewReader("{}"), 10, 1); err == nil {
		t.Error("PutMetadata() with wrong size expected error")
	}
}

func TestMemoryVault_ValidateSetup(t *testing.T) {
	if err := NewMemoryVault("test").ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
}
