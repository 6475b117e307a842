package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/cuemby/gatekeeper/pkg/log"
	"github.com/cuemby/gatekeeper/pkg/metrics"
	"github.com/cuemby/gatekeeper/pkg/security"
	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// encryptionInfo separates data encryption keys from other uses of an alias secret
const encryptionInfo = "gatekeeper alias encryption"

// AliasResolver resolves alias secrets
type AliasResolver interface {
	GetPassword(cluster, name string) ([]byte, error)
}

// IdentityKeys gives access to the gateway identity key pair
type IdentityKeys interface {
	GatewayCertificate(alias string) (*x509.Certificate, error)
	GatewayPrivateKey(alias string, passphrase []byte) (*rsa.PrivateKey, error)
}

// Options configures the crypto service
type Options struct {
	Aliases  AliasResolver
	Keystore IdentityKeys
	// IdentityAlias is the gateway keystore entry that signs with RS256.
	// Defaults to types.GatewayIdentityAlias.
	IdentityAlias string
	// PassphraseAlias is the __gateway alias holding the identity entry
	// passphrase. Defaults to types.GatewayIdentityPassphraseAlias.
	PassphraseAlias string
}

// Service performs encryption and signing with keys derived from aliases.
// It keeps no key material between calls: every operation resolves its
// alias again.
type Service struct {
	aliases         AliasResolver
	keystore        IdentityKeys
	identityAlias   string
	passphraseAlias string
	logger          zerolog.Logger
}

// NewService creates a crypto service
func NewService(opts Options) *Service {
	s := &Service{
		aliases:         opts.Aliases,
		keystore:        opts.Keystore,
		identityAlias:   opts.IdentityAlias,
		passphraseAlias: opts.PassphraseAlias,
		logger:          log.WithComponent("crypto"),
	}
	if s.identityAlias == "" {
		s.identityAlias = types.GatewayIdentityAlias
	}
	if s.passphraseAlias == "" {
		s.passphraseAlias = types.GatewayIdentityPassphraseAlias
	}
	return s
}

// Encrypt seals plaintext under a key derived from the alias secret of the
// cluster. The result is [salt || nonce || ciphertext || tag].
func (s *Service) Encrypt(cluster, alias string, plaintext []byte) (out []byte, err error) {
	const op = "encrypt"
	cluster = types.ResolveCluster(cluster)
	defer observe(op, metrics.NewTimer(), &err)

	salt, err := security.NewSalt()
	if err != nil {
		return nil, s.fail(op, cluster, alias, err)
	}
	key, err := s.dataKey(op, cluster, alias, salt)
	if err != nil {
		return nil, err
	}
	defer security.Wipe(key)

	sealed, err := security.SealWithKey(key, plaintext, dataAAD(cluster, alias))
	if err != nil {
		return nil, s.fail(op, cluster, alias, err)
	}
	return append(salt, sealed...), nil
}

// Decrypt reverses Encrypt. Tampered data, a wrong alias or a changed alias
// secret fail with KindCrypto; nothing is ever returned unauthenticated.
func (s *Service) Decrypt(cluster, alias string, ciphertext []byte) (out []byte, err error) {
	const op = "decrypt"
	cluster = types.ResolveCluster(cluster)
	defer observe(op, metrics.NewTimer(), &err)

	if len(ciphertext) <= security.SaltSize {
		return nil, s.fail(op, cluster, alias, errors.New("ciphertext too short"))
	}
	salt, sealed := ciphertext[:security.SaltSize], ciphertext[security.SaltSize:]

	key, err := s.dataKey(op, cluster, alias, salt)
	if err != nil {
		return nil, err
	}
	defer security.Wipe(key)

	plaintext, err := security.OpenWithKey(key, sealed, dataAAD(cluster, alias))
	if err != nil {
		return nil, s.fail(op, cluster, alias, err)
	}
	return plaintext, nil
}

// Algorithm returns the JWS algorithm used when signing with alias
func (s *Service) Algorithm(alias string) string {
	return s.method(alias).Alg()
}

// Sign signs payload with alias. The gateway identity alias signs with its
// RSA key (RS256); any other alias is an HMAC-SHA256 key taken from the
// __gateway credential store (HS256).
func (s *Service) Sign(payload []byte, alias string) (signature []byte, err error) {
	const op = "sign"
	defer observe(op, metrics.NewTimer(), &err)

	key, err := s.signingKey(op, alias)
	if err != nil {
		return nil, err
	}
	signature, err = s.method(alias).Sign(string(payload), key)
	if err != nil {
		return nil, s.fail(op, types.GatewayCluster, alias, err)
	}
	return signature, nil
}

// Verify checks a signature produced by Sign. A signature that does not match
// returns false without error; an unresolvable key returns an error.
func (s *Service) Verify(payload, signature []byte, alias string) (valid bool, err error) {
	const op = "verify"
	defer observe(op, metrics.NewTimer(), &err)

	key, err := s.verificationKey(op, alias)
	if err != nil {
		return false, err
	}
	if err := s.method(alias).Verify(string(payload), signature, key); err != nil {
		if errors.Is(err, jwt.ErrSignatureInvalid) || errors.Is(err, rsa.ErrVerification) {
			return false, nil
		}
		return false, s.fail(op, types.GatewayCluster, alias, err)
	}
	return true, nil
}

func (s *Service) method(alias string) jwt.SigningMethod {
	if alias == s.identityAlias {
		return jwt.SigningMethodRS256
	}
	return jwt.SigningMethodHS256
}

func (s *Service) signingKey(op, alias string) (any, error) {
	if alias != s.identityAlias {
		return s.hmacKey(op, alias)
	}

	passphrase, err := s.aliases.GetPassword(types.GatewayCluster, s.passphraseAlias)
	if err != nil {
		return nil, s.fail(op, types.GatewayCluster, alias, err)
	}
	defer security.Wipe(passphrase)

	key, err := s.keystore.GatewayPrivateKey(alias, passphrase)
	if err != nil {
		return nil, s.fail(op, types.GatewayCluster, alias, err)
	}
	return key, nil
}

func (s *Service) verificationKey(op, alias string) (any, error) {
	if alias != s.identityAlias {
		return s.hmacKey(op, alias)
	}

	cert, err := s.keystore.GatewayCertificate(alias)
	if err != nil {
		return nil, s.fail(op, types.GatewayCluster, alias, err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, s.fail(op, types.GatewayCluster, alias, fmt.Errorf("identity key is %T, not RSA", cert.PublicKey))
	}
	return pub, nil
}

func (s *Service) hmacKey(op, alias string) ([]byte, error) {
	secret, err := s.aliases.GetPassword(types.GatewayCluster, alias)
	if err != nil {
		return nil, s.fail(op, types.GatewayCluster, alias, err)
	}
	if len(secret) == 0 {
		return nil, s.fail(op, types.GatewayCluster, alias, errors.New("signing secret is empty"))
	}
	return secret, nil
}

// dataKey derives the per-message encryption key from the alias secret
func (s *Service) dataKey(op, cluster, alias string, salt []byte) ([]byte, error) {
	secret, err := s.aliases.GetPassword(cluster, alias)
	if err != nil {
		return nil, s.fail(op, cluster, alias, err)
	}
	defer security.Wipe(secret)

	if len(secret) == 0 {
		return nil, s.fail(op, cluster, alias, errors.New("alias secret is empty"))
	}
	key, err := security.ExpandKey(secret, salt, encryptionInfo)
	if err != nil {
		return nil, s.fail(op, cluster, alias, err)
	}
	return key, nil
}

// fail wraps err as a crypto failure. The cause stays in the chain so
// callers can still tell a missing alias apart.
func (s *Service) fail(op, cluster, alias string, err error) error {
	s.logger.Debug().Str("op", op).Str("cluster", cluster).Str("alias", alias).Err(err).Msg("Crypto operation failed")
	return &types.Error{Kind: types.KindCrypto, Op: op, Cluster: cluster, Alias: alias, Err: err}
}

func dataAAD(cluster, alias string) []byte {
	return []byte("gatekeeper-data\x00" + cluster + "\x00" + alias)
}

func observe(op string, timer *metrics.Timer, err *error) {
	timer.ObserveOperation("crypto_" + op)
	metrics.CryptoOperations.WithLabelValues(op, metrics.Result(*err)).Inc()
}
