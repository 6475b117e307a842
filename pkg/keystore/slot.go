package keystore

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/gatekeeper/pkg/metrics"
	"github.com/cuemby/gatekeeper/pkg/secure"
	"github.com/cuemby/gatekeeper/pkg/security"
	"github.com/cuemby/gatekeeper/pkg/storage"
	"github.com/cuemby/gatekeeper/pkg/types"
)

// verifierPlaintext is sealed into every header under the container key
var verifierPlaintext = []byte("gatekeeper-container-verifier")

// slot is the in-memory representation of one container file. Entries stay
// sealed in the cache; only the container key is held, inside a memguard
// enclave. The cache is immutable between writes to the same container.
type slot struct {
	container storage.Container
	kind      string
	name      string

	mu      sync.RWMutex
	loaded  bool
	header  *storage.Header
	key     *secure.Buffer
	entries map[string][]byte
	modTime time.Time
}

func newSlot(container storage.Container, kind, name string) *slot {
	return &slot{container: container, kind: kind, name: name}
}

// view runs fn under the read lock, loading the container first if needed
func (sl *slot) view(s *Service, fn func(*slot) error) error {
	sl.mu.RLock()
	if sl.loaded {
		defer sl.mu.RUnlock()
		return fn(sl)
	}
	sl.mu.RUnlock()

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.loaded {
		if err := sl.load(s); err != nil {
			return err
		}
	}
	return fn(sl)
}

// update runs fn under the write lock. fn persists its change before returning.
func (sl *slot) update(s *Service, fn func(*slot) error) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if !sl.loaded {
		if err := sl.load(s); err != nil {
			return err
		}
	}
	err := fn(sl)
	sl.recordModTime()
	return err
}

func (sl *slot) isLoaded() bool {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.loaded
}

// invalidate drops the cached entries and key. The next access reloads from disk.
func (sl *slot) invalidate() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.reset()
}

func (sl *slot) reset() {
	if sl.key != nil {
		sl.key.Destroy()
	}
	sl.loaded = false
	sl.header = nil
	sl.key = nil
	sl.entries = nil
	sl.modTime = time.Time{}
}

// changedOnDisk reports whether the file differs from what this slot last saw
func (sl *slot) changedOnDisk() bool {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if !sl.loaded {
		return false
	}
	info, err := os.Stat(sl.container.Path())
	if err != nil {
		return true
	}
	return !info.ModTime().Equal(sl.modTime)
}

// recordModTime notes the file modification time of our own writes so the
// watcher does not reload them. Caller holds the write lock.
func (sl *slot) recordModTime() {
	if info, err := os.Stat(sl.container.Path()); err == nil {
		sl.modTime = info.ModTime()
	}
}

// load reads the container and unlocks it with the master-derived key.
// Caller holds the write lock.
func (sl *slot) load(s *Service) error {
	const op = "unlock"

	header, entries, err := sl.container.Load()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return sl.notFound(op)
		}
		return sl.fail(types.KindKeystore, op, "", err)
	}
	if header.Kind != sl.kind || header.Name != sl.name {
		return sl.fail(types.KindKeystore, op, "",
			fmt.Errorf("%s belongs to %s %q", sl.container.Path(), header.Kind, header.Name))
	}

	key, err := deriveContainerKey(s.master, header.Salt, header.KDF)
	if err != nil {
		return err
	}

	if _, err := security.OpenWithKey(key, header.Verifier, headerAAD(header.Kind, header.Name)); err != nil {
		security.Wipe(key)
		metrics.KeystoreUnlockFailures.WithLabelValues(sl.kind).Inc()
		s.logger.Error().
			Str("path", sl.container.Path()).
			Str("container", sl.kind).
			Msg("Container cannot be unlocked with the current master secret")
		return sl.fail(types.KindKeystoreUnlock, op, "",
			fmt.Errorf("%s cannot be unlocked with the current master secret", sl.container.Path()))
	}

	sl.header = header
	sl.key = secure.NewBuffer(key)
	sl.entries = entries
	sl.loaded = true
	sl.recordModTime()
	return nil
}

// create writes a new empty container and caches it unlocked
func (sl *slot) create(s *Service) error {
	const op = "create"

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.container.Exists() {
		return sl.fail(types.KindKeystore, op, "", fmt.Errorf("%s: %w", sl.container.Path(), types.ErrExists))
	}

	salt, err := security.NewSalt()
	if err != nil {
		return sl.fail(types.KindKeystore, op, "", err)
	}
	key, err := deriveContainerKey(s.master, salt, s.kdf)
	if err != nil {
		return err
	}

	verifier, err := security.SealWithKey(key, verifierPlaintext, headerAAD(sl.kind, sl.name))
	if err != nil {
		security.Wipe(key)
		return sl.fail(types.KindKeystore, op, "", err)
	}

	header := &storage.Header{
		Version:   storage.ContainerVersion,
		Kind:      sl.kind,
		Name:      sl.name,
		KDF:       s.kdf,
		Salt:      salt,
		Verifier:  verifier,
		CreatedAt: time.Now().UTC(),
	}
	if err := sl.container.Create(header); err != nil {
		security.Wipe(key)
		if errors.Is(err, types.ErrExists) {
			return sl.fail(types.KindKeystore, op, "", err)
		}
		return sl.fail(types.KindPersistence, op, "", err)
	}

	sl.reset()
	sl.header = header
	sl.key = secure.NewBuffer(key)
	sl.entries = make(map[string][]byte)
	sl.loaded = true
	sl.recordModTime()
	return nil
}

// open decrypts an entry. Caller holds a lock.
func (sl *slot) open(name string) ([]byte, error) {
	const op = "read entry"

	sealed, ok := sl.entries[name]
	if !ok {
		return nil, sl.fail(types.KindAliasNotFound, op, name, nil)
	}

	var plaintext []byte
	err := sl.key.Use(func(key []byte) error {
		var err error
		plaintext, err = security.OpenWithKey(key, sealed, entryAAD(sl.kind, sl.name, name))
		return err
	})
	if err != nil {
		return nil, sl.fail(types.KindKeystore, op, name, fmt.Errorf("entry failed authentication: %w", err))
	}
	return plaintext, nil
}

// put seals and persists an entry, then updates the cache. Caller holds the write lock.
func (sl *slot) put(name string, value []byte) error {
	const op = "write entry"

	var sealed []byte
	err := sl.key.Use(func(key []byte) error {
		var err error
		sealed, err = security.SealWithKey(key, value, entryAAD(sl.kind, sl.name, name))
		return err
	})
	if err != nil {
		return sl.fail(types.KindKeystore, op, name, err)
	}

	if err := sl.container.Put(name, sealed); err != nil {
		return sl.fail(types.KindPersistence, op, name, err)
	}
	sl.entries[name] = sealed
	return nil
}

// remove deletes an entry from disk and cache. Caller holds the write lock.
func (sl *slot) remove(name string) (bool, error) {
	existed, err := sl.container.Delete(name)
	if err != nil {
		return false, sl.fail(types.KindPersistence, "delete entry", name, err)
	}
	delete(sl.entries, name)
	return existed, nil
}

// names returns the sorted entry names. Caller holds a lock.
func (sl *slot) names() []string {
	names := make([]string, 0, len(sl.entries))
	for name := range sl.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (sl *slot) notFound(op string) error {
	if sl.kind == storage.KindCredentialStore {
		return &types.Error{Kind: types.KindCredentialStoreNotFound, Op: op, Cluster: sl.name}
	}
	return &types.Error{Kind: types.KindKeystore, Op: op, Err: fmt.Errorf("gateway keystore: %w", storage.ErrNotFound)}
}

func (sl *slot) fail(kind types.Kind, op, alias string, err error) error {
	e := &types.Error{Kind: kind, Op: op, Alias: alias, Err: err}
	if sl.kind == storage.KindCredentialStore {
		e.Cluster = sl.name
	}
	return e
}

// deriveContainerKey stretches the master secret with the container salt
func deriveContainerKey(master MasterSecret, salt []byte, params security.KDFParams) ([]byte, error) {
	var key []byte
	err := master.WithSecret(func(secret []byte) error {
		var err error
		key, err = security.DeriveKey(secret, salt, params)
		return err
	})
	if err != nil {
		var typed *types.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, &types.Error{Kind: types.KindKeystore, Op: "derive container key", Err: err}
	}
	return key, nil
}

func headerAAD(kind, name string) []byte {
	return []byte(kind + "\x00" + name)
}

// entryAAD binds a sealed value to its container and entry name, so values
// cannot be moved between clusters or aliases
func entryAAD(kind, container, name string) []byte {
	return []byte(kind + "\x00" + container + "\x00" + name)
}
