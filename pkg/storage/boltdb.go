package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/gatekeeper/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketMeta    = []byte("meta")
	bucketEntries = []byte("entries")

	keyHeader = []byte("header")
)

// lockTimeout bounds how long we wait for another process holding the file
const lockTimeout = 5 * time.Second

// BoltContainer implements Container with one BoltDB file per container.
// The database is opened for the duration of a single transaction so the CLI
// and a running gateway can share the files.
type BoltContainer struct {
	path string
}

// NewBoltContainer returns a container backed by the file at path
func NewBoltContainer(path string) *BoltContainer {
	return &BoltContainer{path: path}
}

// Path returns the container file path
func (c *BoltContainer) Path() string {
	return c.path
}

// Exists reports whether an initialized container is present. A file
// without a header, left behind by an interrupted create, does not count.
func (c *BoltContainer) Exists() bool {
	if !c.present() {
		return false
	}
	initialized, err := c.initialized()
	// a file we cannot inspect is treated as present so it is never replaced
	return err != nil || initialized
}

func (c *BoltContainer) present() bool {
	_, err := os.Stat(c.path)
	return err == nil
}

// initialized reports whether the file carries a container header
func (c *BoltContainer) initialized() (bool, error) {
	// bbolt cannot open an empty file read-only
	if info, err := os.Stat(c.path); err != nil || info.Size() == 0 {
		return false, nil
	}
	db, err := bolt.Open(c.path, 0600, &bolt.Options{Timeout: lockTimeout, ReadOnly: true})
	if err != nil {
		return false, fmt.Errorf("failed to open container %s: %w", c.path, err)
	}
	defer db.Close()

	found := false
	err = db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		found = meta != nil && meta.Get(keyHeader) != nil
		return nil
	})
	return found, err
}

// Create writes a new container with the given header. It fails with
// types.ErrExists if an initialized container is already present. The file is
// built under a temporary name and moved into place once its header is
// committed, so a crash never leaves a header-less file at the container path.
func (c *BoltContainer) Create(header *Header) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create container directory: %w", err)
	}

	// a header-less leftover from an interrupted create is replaced
	leftover := false
	if c.present() {
		initialized, err := c.initialized()
		if err != nil {
			return err
		}
		if initialized {
			return fmt.Errorf("container %s: %w", c.path, types.ErrExists)
		}
		leftover = true
	}

	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal container header: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(c.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp container in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := writeHeader(tmpPath, data); err != nil {
		return err
	}

	if leftover {
		if err := os.Rename(tmpPath, c.path); err != nil {
			return fmt.Errorf("failed to move container into place: %w", err)
		}
		return nil
	}

	// Link refuses to replace a container another process created meanwhile
	if err := os.Link(tmpPath, c.path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("container %s: %w", c.path, types.ErrExists)
		}
		return fmt.Errorf("failed to move container into place: %w", err)
	}
	return nil
}

// writeHeader initializes the buckets of a fresh file and commits the header
func writeHeader(path string, data []byte) error {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		return fmt.Errorf("failed to open container %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketMeta, err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketEntries, err)
		}
		return meta.Put(keyHeader, data)
	})
	if closeErr := db.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close container %s: %w", path, closeErr)
	}
	return err
}

// Load reads the header and every entry
func (c *BoltContainer) Load() (*Header, map[string][]byte, error) {
	if info, err := os.Stat(c.path); err != nil || info.Size() == 0 {
		return nil, nil, ErrNotFound
	}

	db, err := bolt.Open(c.path, 0600, &bolt.Options{Timeout: lockTimeout, ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open container %s: %w", c.path, err)
	}
	defer db.Close()

	var header Header
	entries := make(map[string][]byte)
	err = db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return ErrNotFound
		}
		data := meta.Get(keyHeader)
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &header); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		b := tx.Bucket(bucketEntries)
		if b == nil {
			return ErrCorrupt
		}
		// values are only valid for the life of the transaction
		return b.ForEach(func(k, v []byte) error {
			value := make([]byte, len(v))
			copy(value, v)
			entries[string(k)] = value
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}

	return &header, entries, nil
}

// Put stores or replaces a sealed entry
func (c *BoltContainer) Put(name string, value []byte) error {
	return c.update(func(b *bolt.Bucket) error {
		return b.Put([]byte(name), value)
	})
}

// Delete removes an entry, reporting whether it existed
func (c *BoltContainer) Delete(name string) (bool, error) {
	existed := false
	err := c.update(func(b *bolt.Bucket) error {
		existed = b.Get([]byte(name)) != nil
		if !existed {
			return nil
		}
		return b.Delete([]byte(name))
	})
	return existed, err
}

func (c *BoltContainer) update(fn func(b *bolt.Bucket) error) error {
	if info, err := os.Stat(c.path); err != nil || info.Size() == 0 {
		return ErrNotFound
	}

	db, err := bolt.Open(c.path, 0600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		return fmt.Errorf("failed to open container %s: %w", c.path, err)
	}
	defer db.Close()

	// Update commits with fsync before returning
	return db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil || meta.Get(keyHeader) == nil {
			return ErrNotFound
		}
		b := tx.Bucket(bucketEntries)
		if b == nil {
			return ErrCorrupt
		}
		return fn(b)
	})
}
