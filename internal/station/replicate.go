package station

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"camstore/internal/model"
)

// Manifest is the offsite record of one archive snapshot, stored as vault
// metadata under ManifestName(date). Content is stored by checksum of the
// bytes written to the vault (ciphertext when encrypted).
type Manifest struct {
	Date      string                  `json:"date"`
	StationID string                  `json:"station_id"`
	Encrypted bool                    `json:"encrypted"`
	CreatedAt time.Time               `json:"created_at"`
	Info      *model.SnapshotInfo     `json:"info"`
	Entries   model.Collection        `json:"entries"`
	Files     map[string]ManifestFile `json:"files"`
}

// ManifestFile locates one blob in the vault.
type ManifestFile struct {
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"` // plaintext size
}

// ManifestName returns the vault metadata name of a date's manifest.
func ManifestName(date string) string {
	return "backup-" + date
}

// Replicator copies archive snapshots to an offsite vault.
type Replicator struct {
	vault     Vault
	encryptor Encryptor // nil stores plaintext
	blobs     BlobStore
	stationID string
	logger    Logger
	clock     Clock
}

// NewReplicator creates a Replicator. encryptor may be nil.
func NewReplicator(vault Vault, encryptor Encryptor, blobs BlobStore, stationID string, logger Logger, clock Clock) *Replicator {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Replicator{
		vault:     vault,
		encryptor: encryptor,
		blobs:     blobs,
		stationID: stationID,
		logger:    logger,
		clock:     clock,
	}
}

// ReplicateSnapshot uploads every blob of doc from dir and then the
// manifest. Per-file failures are collected and do not stop the upload;
// the manifest lists only files that made it. Returns the number of files
// uploaded.
func (r *Replicator) ReplicateSnapshot(ctx context.Context, date, dir string, doc *model.Document) (int, []ItemError) {
	manifest := &Manifest{
		Date:      date,
		StationID: r.stationID,
		Encrypted: r.encryptor != nil,
		CreatedAt: r.clock.Now().UTC(),
		Info:      doc.Info,
		Entries:   doc.Files,
		Files:     make(map[string]ManifestFile),
	}

	var errs []ItemError
	for _, e := range sortedEntries(doc.Files) {
		for _, name := range e.Files() {
			if err := ctx.Err(); err != nil {
				errs = append(errs, newItemError(e.ID, name, err))
				return len(manifest.Files), errs
			}
			file, err := r.putBlob(dir, name)
			if err != nil {
				errs = append(errs, newItemError(e.ID, name, fmt.Errorf("replicating: %w", err)))
				continue
			}
			manifest.Files[name] = file
		}
	}

	if err := r.putManifest(manifest); err != nil {
		errs = append(errs, newItemError(model.BackupKey(date).String(), "", err))
		return len(manifest.Files), errs
	}

	r.logger.Info("snapshot replicated", "date", date, "files", len(manifest.Files), "errors", len(errs))
	return len(manifest.Files), errs
}

// putBlob stores one blob in the vault and returns its manifest record.
func (r *Replicator) putBlob(dir, name string) (ManifestFile, error) {
	rc, err := r.blobs.Open(dir, name)
	if err != nil {
		return ManifestFile{}, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	var plainSize int64
	if r.encryptor != nil {
		counter := &countingReader{r: rc}
		if err := r.encryptor.Encrypt(counter, &buf); err != nil {
			return ManifestFile{}, fmt.Errorf("encrypting: %w", err)
		}
		plainSize = counter.n
	} else {
		n, err := io.Copy(&buf, rc)
		if err != nil {
			return ManifestFile{}, fmt.Errorf("reading: %w", err)
		}
		plainSize = n
	}

	sum := sha256.Sum256(buf.Bytes())
	checksum := hex.EncodeToString(sum[:])
	if err := r.vault.PutContent(checksum, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		return ManifestFile{}, fmt.Errorf("uploading to vault: %w", err)
	}
	return ManifestFile{Checksum: checksum, Size: plainSize}, nil
}

func (r *Replicator) putManifest(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	name := ManifestName(m.Date)
	version, err := r.vault.GetMetadataVersion(r.stationID, name)
	if err != nil {
		return fmt.Errorf("checking manifest version: %w", err)
	}
	if err := r.vault.PutMetadata(r.stationID, name, bytes.NewReader(data), int64(len(data)), version+1); err != nil {
		return fmt.Errorf("uploading manifest: %w", err)
	}
	return nil
}

// FetchManifest downloads the manifest of a date.
func (r *Replicator) FetchManifest(date string) (*Manifest, error) {
	var buf bytes.Buffer
	if err := r.vault.GetMetadata(r.stationID, ManifestName(date), &buf); err != nil {
		return nil, fmt.Errorf("fetching manifest for %s: %w", date, err)
	}
	var m Manifest
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		return nil, fmt.Errorf("decoding manifest for %s: %w", date, err)
	}
	return &m, nil
}

// FetchFile writes the plaintext of an archived blob to w. decryptCtx is
// required when the manifest is encrypted and ignored otherwise.
func (r *Replicator) FetchFile(date, name string, w io.Writer, decryptCtx DecryptionContext) error {
	m, err := r.FetchManifest(date)
	if err != nil {
		return err
	}
	file, ok := m.Files[name]
	if !ok {
		return fmt.Errorf("file %s is not in the %s offsite snapshot", name, date)
	}

	if !m.Encrypted {
		return r.vault.GetContent(file.Checksum, w)
	}
	if decryptCtx == nil {
		return fmt.Errorf("content is encrypted but no passphrase was provided")
	}

	// Pipe vault output directly to the decryptor.
	pr, pw := io.Pipe()
	vaultErrCh := make(chan error, 1)
	go func() {
		err := r.vault.GetContent(file.Checksum, pw)
		pw.CloseWithError(err)
		vaultErrCh <- err
	}()

	decryptErr := decryptCtx.Decrypt(pr, w)
	pr.CloseWithError(decryptErr)
	vaultErr := <-vaultErrCh

	if decryptErr != nil {
		return fmt.Errorf("decrypting content: %w", decryptErr)
	}
	if vaultErr != nil {
		return fmt.Errorf("retrieving content from vault: %w", vaultErr)
	}
	return nil
}

// OffsiteFile writes the plaintext of an offsite blob to w.
func (s *Service) OffsiteFile(date, name string, w io.Writer, decryptCtx DecryptionContext) error {
	if s.replicator == nil {
		return ErrOffsiteDisabled
	}
	if !model.ValidDate(date) {
		return fmt.Errorf("invalid date %q", date)
	}
	return s.replicator.FetchFile(date, name, w, decryptCtx)
}

// OffsiteManifest returns the offsite manifest of a date.
func (s *Service) OffsiteManifest(date string) (*Manifest, error) {
	if s.replicator == nil {
		return nil, ErrOffsiteDisabled
	}
	return s.replicator.FetchManifest(date)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
