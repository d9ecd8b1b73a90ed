package testutil

import (
	"camstore/internal/encryption"
	"camstore/internal/station"
)

// NewTestEncryptor returns the keyless marker encryptor used by offsite tests.
func NewTestEncryptor() station.Encryptor {
	return encryption.NewMarkerEncryptor()
}
