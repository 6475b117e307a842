package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a destroyed buffer is used
var ErrDestroyed = errors.New("secure buffer destroyed")

// Buffer keeps a secret encrypted in memory with memguard. The plaintext is
// only materialized inside Use, in a locked buffer that is wiped afterwards.
type Buffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewBuffer moves data into a protected enclave. The input slice is wiped.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{enclave: memguard.NewEnclave(data)}
}

// CopyBuffer protects a copy of data, leaving the input untouched
func CopyBuffer(data []byte) *Buffer {
	cp := make([]byte, len(data))
	copy(cp, data)
	return NewBuffer(cp)
}

// Use decrypts the secret into a locked buffer, passes it to fn and destroys
// the buffer when fn returns. fn must not retain the slice.
func (b *Buffer) Use(fn func(secret []byte) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return ErrDestroyed
	}
	// memguard refuses to seal empty input; an empty secret has no enclave
	if b.enclave == nil {
		return fn([]byte{})
	}

	locked, err := b.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(locked.Bytes())
}

// Bytes returns an unprotected copy of the secret. Prefer Use.
func (b *Buffer) Bytes() ([]byte, error) {
	var out []byte
	err := b.Use(func(secret []byte) error {
		out = make([]byte, len(secret))
		copy(out, secret)
		return nil
	})
	return out, err
}

// Destroy drops the enclave. Calling it more than once is safe.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.enclave = nil
	b.destroyed = true
}

// Destroyed reports whether Destroy has been called
func (b *Buffer) Destroyed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.destroyed
}

// Purge wipes every memguard allocation. Call it once at process exit.
func Purge() {
	memguard.Purge()
}
