package utils

import (
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// GenerateID returns a random UUID string
func GenerateID() string {
	return uuid.NewString()
}

// Fingerprint returns the keccak256 hex digest of data, 0x-prefixed.
func Fingerprint(data []byte) string {
	return crypto.Keccak256Hash(data).Hex()
}
