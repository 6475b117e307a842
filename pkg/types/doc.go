/*
Package types defines the constants, error kinds and small value types shared
by every Gatekeeper package.

# Error Kinds

All failures that cross a service boundary are *Error values tagged with a Kind.
Callers branch on the kind rather than on message text:

	_, err := aliases.GetPassword("prod", "db-password")
	switch {
	case errors.Is(err, types.ErrAliasNotFound):
		// feature unavailable for this cluster
	case errors.Is(err, types.ErrKeystoreUnlock):
		// wrong master secret, operator must fix configuration
	case err != nil:
		// fatal for this operation
	}

Kinds belong to one of two families, keystore and crypto, mirroring the two
exception families exposed to the rest of the gateway.

# Reserved Names

GatewayCluster ("__gateway") is the credential store holding the gateway's own
secrets. GatewayIdentityAlias and GatewayIdentityPassphraseAlias name the TLS
identity entry and its passphrase alias.
*/
package types
