/*
Package storage provides BoltDB-backed container files for Gatekeeper's
keystores.

Each container (the gateway keystore, or one credential store per cluster) is
its own BoltDB file with two buckets:

	meta      header -> JSON Header{version, kind, name, kdf, salt, verifier}
	entries   <name> -> sealed value bytes

The package never sees plaintext: values arrive already sealed by the keystore
service and the header verifier is opaque here. What it guarantees is
durability and isolation:

  - Every Put and Delete runs in a bbolt Update transaction, which commits with
    fsync before returning. A caller that got a nil error will find the change
    after a crash.
  - The database is opened per operation and closed afterwards, holding the file
    lock only for one transaction, so the administrative CLI can write while a
    gateway process is running.
  - Load opens the file read-only and never creates it. A missing file and a
    file without a header are both ErrNotFound; unreadable header JSON or a
    missing entries bucket is ErrCorrupt.
  - Create builds the file under a temporary name and links it into place
    after the header commits. It refuses to overwrite an initialized
    container (types.ErrExists) and replaces a header-less leftover.

Concurrency control between goroutines is the caller's job: the keystore
service serializes writes per container with its own lock.
*/
package storage
