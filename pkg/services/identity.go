package services

import (
	"crypto/x509"
	"fmt"

	"github.com/cuemby/gatekeeper/pkg/types"
)

// CreateGatewayIdentity creates or replaces the gateway TLS identity. Each
// step is idempotent and checked on its own: ensure the __gateway credential
// store, ensure the entry passphrase alias, ensure the gateway keystore,
// then store a new self-signed certificate for hostname (empty means the
// local host name).
func (s *Services) CreateGatewayIdentity(hostname string) (*x509.Certificate, error) {
	if state := s.State(); state != StateStarted {
		return nil, fmt.Errorf("create gateway identity in %s: %w", state, ErrState)
	}
	ks := s.Keystore()

	if !ks.IsCredentialStoreAvailable(types.GatewayCluster) {
		if err := ks.CreateCredentialStore(types.GatewayCluster); err != nil {
			return nil, err
		}
	}

	passphrase, err := s.Aliases().GetPasswordOrGenerate(types.GatewayCluster, types.GatewayIdentityPassphraseAlias)
	if err != nil {
		return nil, err
	}

	if !ks.IsGatewayKeystoreAvailable() {
		if err := ks.CreateGatewayKeystore(); err != nil {
			return nil, err
		}
	}

	return ks.AddSelfSignedCertificate(types.GatewayIdentityAlias, passphrase, hostname)
}
