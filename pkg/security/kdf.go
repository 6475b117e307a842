package security

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// SaltSize is the length of random salts stored next to derived keys
const SaltSize = 16

// KDFParams are the argon2id cost parameters. They are recorded alongside
// every container so a container stays readable if the defaults change.
type KDFParams struct {
	Time      uint32 `json:"time"`
	MemoryKiB uint32 `json:"memory_kib"`
	Threads   uint8  `json:"threads"`
}

// Validate rejects parameters argon2 cannot use
func (p KDFParams) Validate() error {
	if p.Time == 0 || p.Threads == 0 {
		return fmt.Errorf("kdf time and threads must be positive")
	}
	if p.MemoryKiB < 8*uint32(p.Threads) {
		return fmt.Errorf("kdf memory must be at least 8*threads KiB")
	}
	return nil
}

// NewSalt returns SaltSize random bytes
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey stretches a password into an AES-256 key with argon2id
func DeriveKey(password, salt []byte, params KDFParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("salt cannot be empty")
	}
	return argon2.IDKey(password, salt, params.Time, params.MemoryKiB, params.Threads, KeySize), nil
}

// ExpandKey derives an AES-256 key from high-entropy input key material with
// HKDF-SHA256. info separates keys used for different purposes.
func ExpandKey(secret, salt []byte, info string) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}
