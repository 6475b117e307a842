/*
Package master holds the gateway master secret.

The master secret is the root of the protection chain: every keystore and
credential store is encrypted with a key derived from it. It is created once
by an operator (create-master), persisted to an encrypted file under the
gateway home, and loaded into a memguard enclave when the gateway starts.

# File protection

The master file is sealed with AES-256-GCM under a key stretched with
argon2id from a locally held protection key. Two protection keys exist:

  - HostProtection derives the key from the host name and gateway home
  - KeyringProtection keeps a random key in the OS keyring via go-keyring

Changing the protection key makes the file undecryptable, which is reported
as KindMasterSecretUnavailable.

# Usage

	store := master.NewStore(master.Options{
		Path:       cfg.MasterFile(),
		Protection: master.HostProtection{Home: cfg.Home},
		KDF:        kdf,
	})
	if err := store.Persist(secret, false); err != nil {
		return err
	}

	err := store.WithSecret(func(secret []byte) error {
		// derive container keys
		return nil
	})

An Override secret replaces the file for a single process and is never
written to disk.
*/
package master
