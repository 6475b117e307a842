/*
Package keystore implements the keystore service: the gateway keystore that
holds the gateway TLS identity, and one credential store per cluster.

# Containers

Every container is a bbolt file under the keystore directory:

	<dir>/gateway.db                  gateway keystore
	<dir>/<cluster>-credentials.db    credential store of a cluster

The container key is derived with argon2id from the master secret and a
per-container salt. The header carries a verifier sealed under that key, so
a wrong master secret is reported as KindKeystoreUnlock before any entry is
read, distinct from a missing container (KindCredentialStoreNotFound).
Entries are sealed with AES-256-GCM and bound to their container and name.

# Concurrency

The service keeps an arena of slots, one per container file. A slot is loaded
on first access and cached until a write to the same container or, with
watching enabled, until another process changes the file. Reads take the
slot's read lock; writes take its write lock and commit to disk before
returning. Operations on different clusters never contend.

# Usage

	ks := keystore.NewService(keystore.Options{
		Dir:    cfg.KeystoreDir(),
		Master: masterStore,
		KDF:    kdf,
	})

	if !ks.IsCredentialStoreAvailable("prod") {
		if err := ks.CreateCredentialStore("prod"); err != nil {
			return err
		}
	}
	store, err := ks.CredentialStore("prod")
	if err != nil {
		return err
	}
	err = store.Put("db-password", []byte("s3cr3t"))
*/
package keystore
