package keystore

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/gatekeeper/pkg/events"
	"github.com/cuemby/gatekeeper/pkg/metrics"
	"github.com/cuemby/gatekeeper/pkg/security"
	"github.com/cuemby/gatekeeper/pkg/types"
)

// identityKeyInfo separates the private key protection key from other HKDF uses
const identityKeyInfo = "gatekeeper gateway identity key"

// identityEntry is the plaintext of a gateway keystore entry. The private key
// is sealed a second time under a key derived from the entry passphrase.
type identityEntry struct {
	Certificate []byte    `json:"certificate"`
	Hostname    string    `json:"hostname"`
	KeySalt     []byte    `json:"key_salt"`
	PrivateKey  []byte    `json:"private_key"`
	CreatedAt   time.Time `json:"created_at"`
}

// AddSelfSignedCertificate generates a key pair and a self-signed certificate
// for the resolved hostname and stores them under alias, replacing any
// existing entry. The gateway keystore must exist.
func (s *Service) AddSelfSignedCertificate(alias string, passphrase []byte, hostnameOverride string) (*x509.Certificate, error) {
	const op = "add self-signed certificate"

	if err := types.ValidateAliasName(alias); err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, &types.Error{Kind: types.KindInvalidArgument, Op: op, Alias: alias, Err: errors.New("passphrase cannot be empty")}
	}

	hostname, err := security.ResolveHostname(hostnameOverride)
	if err != nil {
		return nil, &types.Error{Kind: types.KindKeystore, Op: op, Alias: alias, Err: err}
	}

	// key generation runs outside the keystore lock
	cert, key, err := security.GenerateSelfSigned(security.SelfSignedRequest{
		Hostname: hostname,
		KeyBits:  s.keyBits,
		Validity: s.validity,
	})
	if err != nil {
		return nil, &types.Error{Kind: types.KindKeystore, Op: op, Alias: alias, Err: err}
	}

	keyDER, err := security.MarshalPrivateKey(key)
	if err != nil {
		return nil, &types.Error{Kind: types.KindKeystore, Op: op, Alias: alias, Err: err}
	}
	defer security.Wipe(keyDER)

	keySalt, err := security.NewSalt()
	if err != nil {
		return nil, &types.Error{Kind: types.KindKeystore, Op: op, Alias: alias, Err: err}
	}
	protectionKey, err := security.ExpandKey(passphrase, keySalt, identityKeyInfo)
	if err != nil {
		return nil, &types.Error{Kind: types.KindKeystore, Op: op, Alias: alias, Err: err}
	}
	sealedKey, err := security.SealWithKey(protectionKey, keyDER, identityKeyAAD(alias))
	security.Wipe(protectionKey)
	if err != nil {
		return nil, &types.Error{Kind: types.KindKeystore, Op: op, Alias: alias, Err: err}
	}

	data, err := json.Marshal(identityEntry{
		Certificate: cert.Raw,
		Hostname:    hostname,
		KeySalt:     keySalt,
		PrivateKey:  sealedKey,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, &types.Error{Kind: types.KindKeystore, Op: op, Alias: alias, Err: err}
	}

	err = s.gatewaySlot().update(s, func(sl *slot) error {
		return sl.put(alias, data)
	})
	if err != nil {
		return nil, err
	}

	metrics.GatewayCertExpiry.Set(time.Until(cert.NotAfter).Seconds())
	s.logger.Info().
		Str("alias", alias).
		Str("hostname", hostname).
		Time("not_after", cert.NotAfter).
		Msg("Self-signed gateway certificate stored")
	s.publisher.Publish(&events.Event{
		Type:     events.EventCertificateCreated,
		Alias:    alias,
		Message:  fmt.Sprintf("self-signed certificate created for %s", hostname),
		Metadata: map[string]string{"hostname": hostname},
	})
	return cert, nil
}

// GatewayCertificate returns the certificate stored under alias
func (s *Service) GatewayCertificate(alias string) (*x509.Certificate, error) {
	entry, err := s.identity(alias)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(entry.Certificate)
	if err != nil {
		return nil, &types.Error{Kind: types.KindKeystore, Op: "read certificate", Alias: alias, Err: err}
	}
	return cert, nil
}

// GatewayPrivateKey decrypts the private key stored under alias with its
// entry passphrase. A wrong passphrase fails with KindKeystoreUnlock.
func (s *Service) GatewayPrivateKey(alias string, passphrase []byte) (*rsa.PrivateKey, error) {
	const op = "read private key"

	entry, err := s.identity(alias)
	if err != nil {
		return nil, err
	}

	protectionKey, err := security.ExpandKey(passphrase, entry.KeySalt, identityKeyInfo)
	if err != nil {
		return nil, &types.Error{Kind: types.KindKeystore, Op: op, Alias: alias, Err: err}
	}
	keyDER, err := security.OpenWithKey(protectionKey, entry.PrivateKey, identityKeyAAD(alias))
	security.Wipe(protectionKey)
	if err != nil {
		return nil, &types.Error{Kind: types.KindKeystoreUnlock, Op: op, Alias: alias, Err: errors.New("wrong entry passphrase")}
	}
	defer security.Wipe(keyDER)

	key, err := security.ParsePrivateKey(keyDER)
	if err != nil {
		return nil, &types.Error{Kind: types.KindKeystore, Op: op, Alias: alias, Err: err}
	}
	return key, nil
}

// GatewayTLSCertificate assembles the identity under alias for a TLS listener
func (s *Service) GatewayTLSCertificate(alias string, passphrase []byte) (tls.Certificate, error) {
	cert, err := s.GatewayCertificate(alias)
	if err != nil {
		return tls.Certificate{}, err
	}
	key, err := s.GatewayPrivateKey(alias, passphrase)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

// GatewayEntries lists the aliases stored in the gateway keystore
func (s *Service) GatewayEntries() ([]string, error) {
	var names []string
	err := s.gatewaySlot().view(s, func(sl *slot) error {
		names = sl.names()
		return nil
	})
	return names, err
}

// GatewayCertificateExpiry returns the expiry of the gateway identity
// certificate, or false when there is none or it cannot be read
func (s *Service) GatewayCertificateExpiry() (time.Time, bool) {
	if !s.IsGatewayKeystoreAvailable() {
		return time.Time{}, false
	}
	cert, err := s.GatewayCertificate(types.GatewayIdentityAlias)
	if err != nil {
		return time.Time{}, false
	}
	return cert.NotAfter, true
}

func (s *Service) identity(alias string) (*identityEntry, error) {
	var data []byte
	err := s.gatewaySlot().view(s, func(sl *slot) error {
		var err error
		data, err = sl.open(alias)
		return err
	})
	if err != nil {
		return nil, err
	}

	var entry identityEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, &types.Error{Kind: types.KindKeystore, Op: "read gateway entry", Alias: alias, Err: err}
	}
	return &entry, nil
}

func identityKeyAAD(alias string) []byte {
	return []byte("gateway-identity-key\x00" + alias)
}
