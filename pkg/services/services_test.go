package services

import (
	"errors"
	"testing"

	"github.com/cuemby/gatekeeper/pkg/alias"
	"github.com/cuemby/gatekeeper/pkg/config"
	"github.com/cuemby/gatekeeper/pkg/master"
	"github.com/cuemby/gatekeeper/pkg/metrics"
	"github.com/cuemby/gatekeeper/pkg/token"
	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.KDF = config.KDFConfig{Time: 1, MemoryKiB: 1024, Threads: 1}
	return cfg
}

func testProtection(cfg *config.Config) master.ProtectionKey {
	return master.HostProtection{Home: cfg.Home, Hostname: "services-test"}
}

func persistMaster(t *testing.T, cfg *config.Config, secret string) {
	t.Helper()
	store := NewMasterStore(cfg, testProtection(cfg), nil, nil)
	require.NoError(t, store.Persist([]byte(secret), false))
}

func TestLifecycle(t *testing.T) {
	cfg := testConfig(t)
	persistMaster(t, cfg, "master")

	svcs := New(Options{Config: cfg, Protection: testProtection(cfg)})
	assert.Equal(t, StateUninitialized, svcs.State())

	_, ok := svcs.Service(AliasService)
	assert.False(t, ok)

	require.NoError(t, svcs.Init())
	assert.Equal(t, StateInitialized, svcs.State())

	require.NoError(t, svcs.Start())
	assert.Equal(t, StateStarted, svcs.State())
	assert.True(t, svcs.Master().Loaded())
	assert.Equal(t, "ready", metrics.GetReadiness().Status)

	require.NoError(t, svcs.Aliases().AddAlias("prod", "db-password", []byte("s3cr3t")))
	value, err := svcs.Aliases().GetPassword("prod", "db-password")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", string(value))

	require.NoError(t, svcs.Stop())
	assert.Equal(t, StateStopped, svcs.State())
	assert.False(t, svcs.Master().Loaded())

	// stopping twice is harmless
	require.NoError(t, svcs.Stop())
}

func TestInvalidTransitions(t *testing.T) {
	cfg := testConfig(t)
	persistMaster(t, cfg, "master")
	svcs := New(Options{Config: cfg, Protection: testProtection(cfg)})

	assert.True(t, errors.Is(svcs.Start(), ErrState))
	assert.True(t, errors.Is(svcs.Stop(), ErrState))

	require.NoError(t, svcs.Init())
	assert.True(t, errors.Is(svcs.Init(), ErrState))

	require.NoError(t, svcs.Start())
	assert.True(t, errors.Is(svcs.Start(), ErrState))
	require.NoError(t, svcs.Stop())

	assert.True(t, errors.Is(svcs.Start(), ErrState))
}

func TestServiceLookup(t *testing.T) {
	cfg := testConfig(t)
	svcs := New(Options{Config: cfg, MasterOverride: []byte("override")})
	require.NoError(t, svcs.Init())

	for _, name := range []string{MasterService, KeystoreService, AliasService, CryptoService, TokenService, EventService} {
		svc, ok := svcs.Service(name)
		assert.True(t, ok, name)
		assert.NotNil(t, svc, name)
	}

	svc, ok := svcs.Service(AliasService)
	require.True(t, ok)
	_, isAlias := svc.(*alias.Service)
	assert.True(t, isAlias)

	svc, ok = svcs.Service(TokenService)
	require.True(t, ok)
	_, isToken := svc.(*token.Authority)
	assert.True(t, isToken)

	svc, ok = svcs.Service("NoSuchService")
	assert.False(t, ok)
	assert.Nil(t, svc)
}

func TestInitWithoutMasterSecret(t *testing.T) {
	cfg := testConfig(t)
	svcs := New(Options{Config: cfg, Protection: testProtection(cfg)})

	err := svcs.Init()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrMasterSecretUnavailable))
	assert.Equal(t, StateUninitialized, svcs.State())

	_, ok := svcs.Service(KeystoreService)
	assert.False(t, ok)
}

func TestInitRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Master.Protection = "smartcard"
	svcs := New(Options{Config: cfg, MasterOverride: []byte("m")})

	require.Error(t, svcs.Init())
	assert.Equal(t, StateUninitialized, svcs.State())
}

func TestStartFailsWithWrongMaster(t *testing.T) {
	cfg := testConfig(t)

	first := New(Options{Config: cfg, MasterOverride: []byte("S1")})
	require.NoError(t, first.Init())
	require.NoError(t, first.Start())
	require.NoError(t, first.Aliases().AddAlias("", "k", []byte("v")))
	require.NoError(t, first.Stop())

	second := New(Options{Config: cfg, MasterOverride: []byte("S2")})
	require.NoError(t, second.Init())

	err := second.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrKeystoreUnlock))
	assert.Equal(t, StateStopped, second.State())
	assert.False(t, second.Master().Loaded())
}

func TestGatewayIdentityChain(t *testing.T) {
	cfg := testConfig(t)
	svcs := New(Options{Config: cfg, MasterOverride: []byte("master")})
	require.NoError(t, svcs.Init())
	require.NoError(t, svcs.Start())
	defer svcs.Stop()

	passphrase, err := svcs.Aliases().GetPasswordOrGenerate("", types.GatewayIdentityPassphraseAlias)
	require.NoError(t, err)
	require.NoError(t, svcs.Keystore().CreateGatewayKeystore())
	_, err = svcs.Keystore().AddSelfSignedCertificate(types.GatewayIdentityAlias, passphrase, "gateway.example.com")
	require.NoError(t, err)

	signed, err := svcs.Tokens().IssueToken(token.Claims{})
	require.NoError(t, err)
	claims, err := svcs.Tokens().VerifyToken(signed)
	require.NoError(t, err)
	assert.Equal(t, cfg.Token.Issuer, claims.Issuer)

	ciphertext, err := svcs.Crypto().Encrypt("", types.GatewayIdentityPassphraseAlias, []byte("data"))
	require.NoError(t, err)
	plaintext, err := svcs.Crypto().Decrypt("", types.GatewayIdentityPassphraseAlias, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "data", string(plaintext))
}

func TestProtectionFromConfig(t *testing.T) {
	cfg := testConfig(t)
	assert.Equal(t, "host", Protection(cfg).Name())

	cfg.Master.Protection = config.ProtectionKeyring
	assert.Equal(t, "keyring", Protection(cfg).Name())

	assert.Equal(t, StateStarted.String(), "STARTED")
}

func TestCreateGatewayIdentity(t *testing.T) {
	cfg := testConfig(t)
	svcs := New(Options{Config: cfg, MasterOverride: []byte("master")})
	require.NoError(t, svcs.Init())
	require.NoError(t, svcs.Start())
	defer svcs.Stop()

	assert.True(t, svcs.MasterLoaded())
	_, ok := svcs.GatewayIdentity()
	assert.False(t, ok)

	first, err := svcs.CreateGatewayIdentity("first.example.com")
	require.NoError(t, err)
	passphrase, err := svcs.Aliases().GetPassword("", types.GatewayIdentityPassphraseAlias)
	require.NoError(t, err)

	second, err := svcs.CreateGatewayIdentity("gateway.example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first.SerialNumber, second.SerialNumber)
	assert.Contains(t, second.DNSNames, "gateway.example.com")

	// the passphrase alias is reused, not regenerated
	again, err := svcs.Aliases().GetPassword("", types.GatewayIdentityPassphraseAlias)
	require.NoError(t, err)
	assert.Equal(t, passphrase, again)

	entries, err := svcs.Keystore().GatewayEntries()
	require.NoError(t, err)
	assert.Equal(t, []string{types.GatewayIdentityAlias}, entries)

	_, err = svcs.Keystore().GatewayTLSCertificate(types.GatewayIdentityAlias, passphrase)
	require.NoError(t, err)

	info, ok := svcs.GatewayIdentity()
	require.True(t, ok)
	assert.Equal(t, second.NotAfter, info.NotAfter)
	assert.Equal(t, second.SerialNumber.String(), info.SerialNumber)
}

func TestCreateGatewayIdentityRequiresStarted(t *testing.T) {
	cfg := testConfig(t)
	svcs := New(Options{Config: cfg, MasterOverride: []byte("master")})

	_, err := svcs.CreateGatewayIdentity("gateway.example.com")
	assert.True(t, errors.Is(err, ErrState))

	require.NoError(t, svcs.Init())
	_, err = svcs.CreateGatewayIdentity("gateway.example.com")
	assert.True(t, errors.Is(err, ErrState))

	require.NoError(t, svcs.Start())
	require.NoError(t, svcs.Stop())
	_, err = svcs.CreateGatewayIdentity("gateway.example.com")
	assert.True(t, errors.Is(err, ErrState))
}
