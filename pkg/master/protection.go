package master

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/gatekeeper/pkg/security"
	"github.com/zalando/go-keyring"
)

// ProtectionKey supplies the locally held key that encrypts the master file.
// create allows an implementation to provision a key on first use.
type ProtectionKey interface {
	Key(create bool) ([]byte, error)
	Name() string
}

// HostProtection derives the protection key from the host name and the
// gateway home. Moving the master file to another host or home makes it
// undecryptable, which is reported as an unavailable master secret.
type HostProtection struct {
	Home     string
	Hostname string // empty means os.Hostname()
}

// Key implements ProtectionKey
func (h HostProtection) Key(bool) ([]byte, error) {
	hostname := h.Hostname
	if hostname == "" {
		var err error
		hostname, err = os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to discover hostname: %w", err)
		}
	}
	sum := sha256.Sum256([]byte("gatekeeper-master-protection:" + hostname + ":" + h.Home))
	return sum[:], nil
}

// Name implements ProtectionKey
func (h HostProtection) Name() string {
	return "host"
}

// keyringUser is the keyring account holding the protection key
const keyringUser = "master-protection-key"

// KeyringProtection keeps a random protection key in the OS keyring
type KeyringProtection struct {
	Service string
}

// Key implements ProtectionKey
func (k KeyringProtection) Key(create bool) ([]byte, error) {
	encoded, err := keyring.Get(k.Service, keyringUser)
	if err == nil {
		key, decodeErr := base64.StdEncoding.DecodeString(encoded)
		if decodeErr != nil {
			return nil, fmt.Errorf("keyring protection key is not valid base64: %w", decodeErr)
		}
		return key, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("failed to read protection key from keyring: %w", err)
	}
	if !create {
		return nil, fmt.Errorf("no protection key in keyring service %q", k.Service)
	}

	key := make([]byte, security.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate protection key: %w", err)
	}

	if err := keyring.Set(k.Service, keyringUser, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("failed to store protection key in keyring: %w", err)
	}
	return key, nil
}

// Name implements ProtectionKey
func (k KeyringProtection) Name() string {
	return "keyring"
}
