package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"

	"camstore/internal/config"
	"camstore/internal/fs"
	"camstore/internal/station"
)

var (
	// ErrWrongPassphrase is returned by Unlock when the passphrase does not
	// open the sealed station key.
	ErrWrongPassphrase = errors.New("wrong passphrase for station key")
	// ErrKeyMismatch means the sealed key does not belong to the public key
	// snapshots are encrypted to.
	ErrKeyMismatch = errors.New("station key does not match public key")
)

// AgeEncryptor seals offsite snapshot blobs to the station's X25519
// recipient. Replication only reads the public key file; the identity is
// stored next to it sealed with the operator's passphrase and is opened only
// to fetch files back.
type AgeEncryptor struct {
	pubPath    string
	sealedPath string

	mu        sync.Mutex
	recipient *age.X25519Recipient
}

var _ station.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates an AgeEncryptor for the configured key paths.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{pubPath: cfg.PublicKeyPath, sealedPath: cfg.PrivateKeyPath}
}

// Setup creates the station key pair. Existing keys are never replaced: the
// snapshots already offsite can only be opened with them.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	if e.IsConfigured() {
		return fmt.Errorf("station keys already exist at %s", e.pubPath)
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating station key: %w", err)
	}
	sealed, err := seal(id, passphrase)
	if err != nil {
		return err
	}

	for _, p := range []string{e.sealedPath, e.pubPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}
	// The public key goes last so IsConfigured never sees half a pair.
	if err := fs.WriteFileAtomic(e.sealedPath, bytes.NewReader(sealed), int64(len(sealed))); err != nil {
		return fmt.Errorf("writing sealed station key: %w", err)
	}
	pub := id.Recipient().String() + "\n"
	if err := fs.WriteFileAtomic(e.pubPath, strings.NewReader(pub), int64(len(pub))); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	e.mu.Lock()
	e.recipient = id.Recipient()
	e.mu.Unlock()
	return nil
}

// Encrypt streams one blob from r to w as an age file.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	rcpt, err := e.loadRecipient()
	if err != nil {
		return err
	}
	sw, err := age.Encrypt(w, rcpt)
	if err != nil {
		return fmt.Errorf("starting age stream: %w", err)
	}
	if _, err := io.Copy(sw, r); err != nil {
		return fmt.Errorf("encrypting blob: %w", err)
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("finishing age stream: %w", err)
	}
	return nil
}

// Unlock opens the sealed station key. The identity must match the public
// key, otherwise files fetched back would not decrypt.
func (e *AgeEncryptor) Unlock(passphrase string) (station.DecryptionContext, error) {
	sealed, err := os.ReadFile(e.sealedPath)
	if err != nil {
		return nil, fmt.Errorf("reading sealed station key: %w", err)
	}
	id, err := unseal(sealed, passphrase)
	if err != nil {
		return nil, err
	}

	rcpt, err := e.loadRecipient()
	if err != nil {
		return nil, err
	}
	if id.Recipient().String() != rcpt.String() {
		return nil, ErrKeyMismatch
	}
	return &ageOpener{id: id}, nil
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range []string{e.pubPath, e.sealedPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// PublicKey returns the station's age recipient ("age1...").
func (e *AgeEncryptor) PublicKey() (string, error) {
	rcpt, err := e.loadRecipient()
	if err != nil {
		return "", err
	}
	return rcpt.String(), nil
}

// loadRecipient reads the public key once; every blob of every snapshot is
// encrypted to it.
func (e *AgeEncryptor) loadRecipient() (*age.X25519Recipient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recipient != nil {
		return e.recipient, nil
	}

	data, err := os.ReadFile(e.pubPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	rcpt, err := age.ParseX25519Recipient(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing public key %s: %w", e.pubPath, err)
	}
	e.recipient = rcpt
	return rcpt, nil
}

// seal encrypts the identity to a scrypt recipient derived from passphrase.
func seal(id *age.X25519Identity, passphrase string) ([]byte, error) {
	rcpt, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving key from passphrase: %w", err)
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, rcpt)
	if err != nil {
		return nil, fmt.Errorf("sealing station key: %w", err)
	}
	if _, err := io.WriteString(w, id.String()+"\n"); err != nil {
		return nil, fmt.Errorf("sealing station key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("sealing station key: %w", err)
	}
	return buf.Bytes(), nil
}

func unseal(sealed []byte, passphrase string) (*age.X25519Identity, error) {
	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving key from passphrase: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(sealed), scrypt)
	var noMatch *age.NoIdentityMatchError
	if errors.As(err, &noMatch) {
		return nil, ErrWrongPassphrase
	}
	if err != nil {
		return nil, fmt.Errorf("opening sealed station key: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("opening sealed station key: %w", err)
	}
	id, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing station key: %w", err)
	}
	return id, nil
}

// ageOpener decrypts blobs fetched back from the vault.
type ageOpener struct {
	id *age.X25519Identity
}

func (o *ageOpener) Decrypt(r io.Reader, w io.Writer) error {
	dr, err := age.Decrypt(r, o.id)
	if err != nil {
		return fmt.Errorf("opening age stream: %w", err)
	}
	if _, err := io.Copy(w, dr); err != nil {
		return fmt.Errorf("decrypting blob: %w", err)
	}
	return nil
}
