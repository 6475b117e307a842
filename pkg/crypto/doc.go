/*
Package crypto implements the crypto service: symmetric encryption keyed by
cluster aliases, and signing for the token authority.

Encryption derives a fresh AES-256-GCM key per message with HKDF-SHA256 from
the alias secret and a random salt. The output is

	salt (16) || nonce (12) || ciphertext || tag (16)

and is bound to the cluster and alias it was produced for.

Signing uses the golang-jwt signing methods. The gateway identity alias signs
with the RSA key of the gateway keystore (RS256); its entry passphrase is
resolved through the alias service on each call. Any other alias is treated as
an HMAC key held in the __gateway credential store (HS256).

Every failure is returned as a types.Error of KindCrypto with the cause
kept in the chain.
*/
package crypto
