package keystore

// CredentialStore is an unlocked handle on one cluster's credential store.
// It is only handed to the alias and crypto services. Reads take the
// cluster's read lock; writes take its write lock and are on disk before
// they return.
type CredentialStore struct {
	svc     *Service
	slot    *slot
	cluster string
}

// Cluster returns the cluster the store belongs to
func (c *CredentialStore) Cluster() string {
	return c.cluster
}

// Get decrypts an entry. It fails with KindAliasNotFound when absent.
func (c *CredentialStore) Get(name string) ([]byte, error) {
	var value []byte
	err := c.slot.view(c.svc, func(sl *slot) error {
		var err error
		value, err = sl.open(name)
		return err
	})
	return value, err
}

// Contains reports whether an entry exists
func (c *CredentialStore) Contains(name string) (bool, error) {
	found := false
	err := c.slot.view(c.svc, func(sl *slot) error {
		_, found = sl.entries[name]
		return nil
	})
	return found, err
}

// Put stores or replaces an entry
func (c *CredentialStore) Put(name string, value []byte) error {
	return c.slot.update(c.svc, func(sl *slot) error {
		return sl.put(name, value)
	})
}

// PutIfAbsent stores value unless the entry exists, returning the stored
// value either way. The check and the write happen under one lock.
func (c *CredentialStore) PutIfAbsent(name string, value []byte) ([]byte, bool, error) {
	var stored []byte
	created := false
	err := c.slot.update(c.svc, func(sl *slot) error {
		if _, ok := sl.entries[name]; ok {
			var err error
			stored, err = sl.open(name)
			return err
		}
		if err := sl.put(name, value); err != nil {
			return err
		}
		stored = value
		created = true
		return nil
	})
	return stored, created, err
}

// Delete removes an entry, reporting whether it existed
func (c *CredentialStore) Delete(name string) (bool, error) {
	existed := false
	err := c.slot.update(c.svc, func(sl *slot) error {
		var err error
		existed, err = sl.remove(name)
		return err
	})
	return existed, err
}

// Names returns the sorted entry names
func (c *CredentialStore) Names() ([]string, error) {
	var names []string
	err := c.slot.view(c.svc, func(sl *slot) error {
		names = sl.names()
		return nil
	})
	return names, err
}
