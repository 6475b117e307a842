package master

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/gatekeeper/pkg/events"
	"github.com/cuemby/gatekeeper/pkg/log"
	"github.com/cuemby/gatekeeper/pkg/secure"
	"github.com/cuemby/gatekeeper/pkg/security"
	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/rs/zerolog"
)

// fileVersion is the master file format version
const fileVersion = 1

// masterAAD binds the sealed secret to its purpose
var masterAAD = []byte("gatekeeper-master-v1")

// masterFile is the on-disk form of the master secret
type masterFile struct {
	Version    int                `json:"version"`
	Protection string             `json:"protection"`
	KDF        security.KDFParams `json:"kdf"`
	Salt       []byte             `json:"salt"`
	Ciphertext []byte             `json:"ciphertext"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Options configures a Store
type Options struct {
	// Path is the master file location
	Path string
	// Protection supplies the key that encrypts the master file
	Protection ProtectionKey
	// KDF stretches the protection key
	KDF security.KDFParams
	// Override, when set, is used as the master secret for this process
	// instead of the file. Nothing is read from or written to disk.
	Override []byte
	// Publisher receives master.persisted events
	Publisher events.Publisher
}

// Store is the master secret store. The secret is held in a memguard enclave
// once loaded and is only exposed to callers through WithSecret.
type Store struct {
	path       string
	protection ProtectionKey
	kdf        security.KDFParams
	override   *secure.Buffer
	publisher  events.Publisher
	logger     zerolog.Logger

	mu     sync.RWMutex
	secret *secure.Buffer
}

// NewStore creates a master secret store. Nothing is read until Init or Start.
func NewStore(opts Options) *Store {
	s := &Store{
		path:       opts.Path,
		protection: opts.Protection,
		kdf:        opts.KDF,
		publisher:  opts.Publisher,
		logger:     log.WithComponent("master"),
	}
	if s.publisher == nil {
		s.publisher = events.Discard{}
	}
	if opts.Override != nil {
		s.override = secure.CopyBuffer(opts.Override)
	}
	return s
}

// Path returns the master file location
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a master file is present
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Init checks that a master secret can be obtained, either from an override
// or from the master file
func (s *Store) Init() error {
	if s.override != nil {
		return nil
	}
	if !s.Exists() {
		return &types.Error{
			Kind: types.KindMasterSecretUnavailable,
			Op:   "init master",
			Err:  fmt.Errorf("no master secret at %s; run create-master first", s.path),
		}
	}
	return nil
}

// Start loads the master secret into protected memory
func (s *Store) Start() error {
	var secret []byte
	var err error

	if s.override != nil {
		secret, err = s.override.Bytes()
		if err != nil {
			return &types.Error{Kind: types.KindMasterSecretUnavailable, Op: "start master", Err: err}
		}
		s.logger.Info().Msg("Using master secret override")
	} else {
		secret, err = s.Load()
		if err != nil {
			return err
		}
		s.logger.Info().Str("path", s.path).Msg("Master secret loaded")
	}

	s.mu.Lock()
	if s.secret != nil {
		s.secret.Destroy()
	}
	s.secret = secure.NewBuffer(secret)
	s.mu.Unlock()
	return nil
}

// Stop destroys the in-memory copy of the master secret
func (s *Store) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.secret != nil {
		s.secret.Destroy()
		s.secret = nil
	}
	if s.override != nil {
		s.override.Destroy()
	}
	return nil
}

// Loaded reports whether the master secret is held in memory
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secret != nil
}

// WithSecret runs fn with the master secret. fn must not retain the slice.
func (s *Store) WithSecret(fn func(secret []byte) error) error {
	s.mu.RLock()
	buf := s.secret
	s.mu.RUnlock()

	if buf == nil {
		return &types.Error{
			Kind: types.KindMasterSecretUnavailable,
			Op:   "master secret",
			Err:  errors.New("master secret not loaded"),
		}
	}

	err := buf.Use(fn)
	if errors.Is(err, secure.ErrDestroyed) {
		return &types.Error{Kind: types.KindMasterSecretUnavailable, Op: "master secret", Err: err}
	}
	return err
}

// Persist encrypts secret to the master file. An existing file is only
// replaced when force is set. On success the secret also becomes the
// in-memory master secret. The input slice is not modified.
func (s *Store) Persist(secret []byte, force bool) error {
	const op = "persist master"

	if len(secret) == 0 {
		return &types.Error{Kind: types.KindInvalidArgument, Op: op, Err: errors.New("master secret cannot be empty")}
	}
	if s.Exists() && !force {
		return &types.Error{
			Kind: types.KindPersistence,
			Op:   op,
			Err:  fmt.Errorf("master secret %s: %w", s.path, types.ErrExists),
		}
	}

	protectionKey, err := s.protection.Key(true)
	if err != nil {
		return &types.Error{Kind: types.KindPersistence, Op: op, Err: err}
	}
	defer security.Wipe(protectionKey)

	salt, err := security.NewSalt()
	if err != nil {
		return &types.Error{Kind: types.KindPersistence, Op: op, Err: err}
	}

	key, err := security.DeriveKey(protectionKey, salt, s.kdf)
	if err != nil {
		return &types.Error{Kind: types.KindPersistence, Op: op, Err: err}
	}
	defer security.Wipe(key)

	ciphertext, err := security.SealWithKey(key, secret, masterAAD)
	if err != nil {
		return &types.Error{Kind: types.KindPersistence, Op: op, Err: err}
	}

	data, err := json.MarshalIndent(masterFile{
		Version:    fileVersion,
		Protection: s.protection.Name(),
		KDF:        s.kdf,
		Salt:       salt,
		Ciphertext: ciphertext,
		CreatedAt:  time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return &types.Error{Kind: types.KindPersistence, Op: op, Err: err}
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return &types.Error{Kind: types.KindPersistence, Op: op, Err: err}
	}

	s.mu.Lock()
	if s.secret != nil {
		s.secret.Destroy()
	}
	s.secret = secure.CopyBuffer(secret)
	s.mu.Unlock()

	s.logger.Info().
		Str("path", s.path).
		Str("protection", s.protection.Name()).
		Bool("replaced", force).
		Msg("Master secret persisted")

	s.publisher.Publish(&events.Event{
		Type:    events.EventMasterPersisted,
		Message: "master secret persisted",
		Metadata: map[string]string{
			"path":       s.path,
			"protection": s.protection.Name(),
		},
	})
	return nil
}

// Load decrypts the master file and returns the secret. The caller owns the
// returned slice and should wipe it.
func (s *Store) Load() ([]byte, error) {
	const op = "load master"

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &types.Error{Kind: types.KindMasterSecretUnavailable, Op: op, Err: err}
	}

	var mf masterFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, &types.Error{
			Kind: types.KindMasterSecretUnavailable,
			Op:   op,
			Err:  fmt.Errorf("master file %s is corrupt: %w", s.path, err),
		}
	}
	if mf.Version != fileVersion {
		return nil, &types.Error{
			Kind: types.KindMasterSecretUnavailable,
			Op:   op,
			Err:  fmt.Errorf("unsupported master file version %d", mf.Version),
		}
	}

	protectionKey, err := s.protection.Key(false)
	if err != nil {
		return nil, &types.Error{Kind: types.KindMasterSecretUnavailable, Op: op, Err: err}
	}
	defer security.Wipe(protectionKey)

	key, err := security.DeriveKey(protectionKey, mf.Salt, mf.KDF)
	if err != nil {
		return nil, &types.Error{Kind: types.KindMasterSecretUnavailable, Op: op, Err: err}
	}
	defer security.Wipe(key)

	secret, err := security.OpenWithKey(key, mf.Ciphertext, masterAAD)
	if err != nil {
		return nil, &types.Error{
			Kind: types.KindMasterSecretUnavailable,
			Op:   op,
			Err:  fmt.Errorf("master file %s cannot be decrypted with the %s protection key: %w", s.path, s.protection.Name(), err),
		}
	}
	return secret, nil
}

// writeFileAtomic writes data to a temp file next to path, syncs it and
// renames it into place
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".master-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move master file into place: %w", err)
	}
	return nil
}
