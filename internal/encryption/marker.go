package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"camstore/internal/station"
)

// markerPrefix tags blobs written by MarkerEncryptor.
var markerPrefix = []byte("CAMENC\x00\x00")

// ErrNotMarked is returned when decrypting a blob that lacks markerPrefix.
var ErrNotMarked = errors.New("blob is not marker-encrypted")

// MarkerEncryptor is the "test" encryption type. It prefixes blobs with a
// fixed marker so offsite content hashes differ from the plaintext, without
// doing any cryptography. It needs no keys and accepts any passphrase.
type MarkerEncryptor struct{}

var _ station.Encryptor = MarkerEncryptor{}

// NewMarkerEncryptor creates a MarkerEncryptor.
func NewMarkerEncryptor() MarkerEncryptor {
	return MarkerEncryptor{}
}

func (MarkerEncryptor) Setup(string) error { return nil }

func (MarkerEncryptor) IsConfigured() bool { return true }

func (MarkerEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, io.MultiReader(bytes.NewReader(markerPrefix), r)); err != nil {
		return fmt.Errorf("writing marked blob: %w", err)
	}
	return nil
}

func (MarkerEncryptor) Unlock(string) (station.DecryptionContext, error) {
	return markerDecrypter{}, nil
}

type markerDecrypter struct{}

func (markerDecrypter) Decrypt(r io.Reader, w io.Writer) error {
	got := make([]byte, len(markerPrefix))
	if _, err := io.ReadFull(r, got); err != nil {
		return fmt.Errorf("%w: %v", ErrNotMarked, err)
	}
	if !bytes.Equal(got, markerPrefix) {
		return ErrNotMarked
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("reading marked blob: %w", err)
	}
	return nil
}
