/*
Package security provides the cryptographic primitives Gatekeeper's services
are built on.

It deliberately holds no state: the keystore, alias and crypto services own
keys and decide when to use them; this package only knows how.

# Sealing

Sealer wraps AES-256-GCM. Every Seal call draws a fresh 12-byte nonce and
returns [nonce || ciphertext || tag]. Additional authenticated data binds a
sealed value to where it is stored (for example "cluster/alias"), so an entry
copied under another name fails to open instead of decrypting:

	sealer, _ := security.NewSealer(key)
	sealed, _ := sealer.Seal(value, []byte("prod/db-password"))
	plain, err := sealer.Open(sealed, []byte("prod/db-password"))

Open returns ErrOpenFailed for a wrong key or tampered data. Callers higher up
translate that into a keystore unlock failure or a crypto failure.

# Key Derivation

Passwords (the master secret, certificate passphrases) are stretched with
argon2id through DeriveKey; the parameters travel with the container header
as KDFParams. High-entropy material (alias secrets used as encryption keys) is
expanded with HKDF-SHA256 through ExpandKey, with a per-message salt and a
purpose string.

# Gateway Identity

GenerateSelfSigned creates an RSA key pair and a certificate signed by its own
key, bound to a hostname (DNS SAN, or IP SAN when the name is an address).
ResolveHostname implements the "explicit override, else local host" rule.
*/
package security
