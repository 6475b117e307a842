package storage

import (
	"errors"
	"time"

	"github.com/cuemby/gatekeeper/pkg/security"
)

// ContainerVersion is the on-disk header version written by this package
const ContainerVersion = 1

// Container kinds recorded in the header
const (
	KindCredentialStore = "credential-store"
	KindGatewayKeystore = "gateway-keystore"
)

var (
	// ErrNotFound is returned when no initialized container exists. A file
	// without a header counts as absent.
	ErrNotFound = errors.New("container not found")
	// ErrCorrupt is returned when the container header or buckets are unreadable
	ErrCorrupt = errors.New("container corrupt")
)

// Header is the plaintext metadata of a container. The verifier is a known
// value sealed under the container key, so a wrong key is detected before any
// entry is touched.
type Header struct {
	Version   int                `json:"version"`
	Kind      string             `json:"kind"`
	Name      string             `json:"name"`
	KDF       security.KDFParams `json:"kdf"`
	Salt      []byte             `json:"salt"`
	Verifier  []byte             `json:"verifier"`
	CreatedAt time.Time          `json:"created_at"`
}

// Container is one encrypted container file: a header plus named entries whose
// values are already sealed by the caller. Every mutating call is durable
// when it returns.
type Container interface {
	Path() string
	Exists() bool
	Create(header *Header) error
	Load() (*Header, map[string][]byte, error)
	Put(name string, value []byte) error
	Delete(name string) (bool, error)
}
