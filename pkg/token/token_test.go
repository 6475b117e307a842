package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/gatekeeper/pkg/alias"
	"github.com/cuemby/gatekeeper/pkg/crypto"
	"github.com/cuemby/gatekeeper/pkg/keystore"
	"github.com/cuemby/gatekeeper/pkg/security"
	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hmacSigner signs with a fixed HMAC key regardless of alias
type hmacSigner struct {
	key []byte
}

func (s hmacSigner) Sign(payload []byte, _ string) ([]byte, error) {
	return jwt.SigningMethodHS256.Sign(string(payload), s.key)
}

func (s hmacSigner) Verify(payload, signature []byte, _ string) (bool, error) {
	err := jwt.SigningMethodHS256.Verify(string(payload), signature, s.key)
	return err == nil, nil
}

func (hmacSigner) Algorithm(string) string {
	return "HS256"
}

func newHMACAuthority(now func() time.Time) *Authority {
	return NewAuthority(Options{
		Signer:       hmacSigner{key: []byte("0123456789abcdef0123456789abcdef")},
		SigningAlias: "test-signer",
		TTL:          time.Minute,
		Now:          now,
	})
}

func TestIssueAndVerify(t *testing.T) {
	authority := newHMACAuthority(nil)

	signed, err := authority.IssueToken(Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", Audience: jwt.ClaimStrings{"backend"}},
		Attributes:       map[string]any{"groups": []any{"admins"}},
	})
	require.NoError(t, err)
	assert.Len(t, strings.Split(signed, "."), 3)

	claims, err := authority.VerifyToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"backend"}, claims.Audience)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, []any{"admins"}, claims.Attributes["groups"])
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestIssueAssignsUniqueIDs(t *testing.T) {
	authority := newHMACAuthority(nil)

	a, err := authority.IssueToken(Claims{})
	require.NoError(t, err)
	b, err := authority.IssueToken(Claims{})
	require.NoError(t, err)

	ca, err := authority.VerifyToken(a)
	require.NoError(t, err)
	cb, err := authority.VerifyToken(b)
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestVerifyRejects(t *testing.T) {
	authority := newHMACAuthority(nil)
	signed, err := authority.IssueToken(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}})
	require.NoError(t, err)
	parts := strings.Split(signed, ".")

	forgedClaims, err := json.Marshal(map[string]any{"sub": "mallory", "exp": time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)
	forged := parts[0] + "." + base64.RawURLEncoding.EncodeToString(forgedClaims) + "." + parts[2]

	noneHeader := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	unsigned := noneHeader + "." + parts[1] + "."

	otherKey := NewAuthority(Options{Signer: hmacSigner{key: []byte("another-key-another-key-another!")}})
	foreign, err := otherKey.IssueToken(Claims{})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"two segments", parts[0] + "." + parts[1]},
		{"forged claims", forged},
		{"alg none", unsigned},
		{"other key", foreign},
		{"bad signature encoding", parts[0] + "." + parts[1] + ".!!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := authority.VerifyToken(tt.token)
			require.Error(t, err)
			assert.Nil(t, claims)
			assert.True(t, errors.Is(err, types.ErrInvalidToken))
			assert.Equal(t, types.FamilyCrypto, types.KindOf(err).Family())
		})
	}
}

func TestVerifyExpired(t *testing.T) {
	issued := time.Now().Add(-time.Hour)
	past := newHMACAuthority(func() time.Time { return issued })
	signed, err := past.IssueToken(Claims{})
	require.NoError(t, err)

	_, err = newHMACAuthority(nil).VerifyToken(signed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrInvalidToken))
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestVerifyIssuedInFuture(t *testing.T) {
	future := newHMACAuthority(func() time.Time { return time.Now().Add(time.Hour) })
	signed, err := future.IssueToken(Claims{})
	require.NoError(t, err)

	_, err = newHMACAuthority(nil).VerifyToken(signed)
	assert.True(t, errors.Is(err, types.ErrInvalidToken))
}

type staticMaster []byte

func (m staticMaster) WithSecret(fn func([]byte) error) error {
	return fn(m)
}

func TestGatewayIdentitySignedToken(t *testing.T) {
	ks := keystore.NewService(keystore.Options{
		Dir:     t.TempDir(),
		Master:  staticMaster("master"),
		KDF:     security.KDFParams{Time: 1, MemoryKiB: 1024, Threads: 1},
		KeyBits: 1024,
	})
	defer ks.Stop()
	aliases := alias.NewService(ks, nil)

	passphrase, err := aliases.GetPasswordOrGenerate("", types.GatewayIdentityPassphraseAlias)
	require.NoError(t, err)
	require.NoError(t, ks.CreateGatewayKeystore())
	_, err = ks.AddSelfSignedCertificate(types.GatewayIdentityAlias, passphrase, "gateway.example.com")
	require.NoError(t, err)

	authority := NewAuthority(Options{Signer: crypto.NewService(crypto.Options{Aliases: aliases, Keystore: ks})})
	assert.Equal(t, types.GatewayIdentityAlias, authority.SigningAlias())

	signed, err := authority.IssueToken(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "bob"}})
	require.NoError(t, err)

	header, err := base64.RawURLEncoding.DecodeString(strings.Split(signed, ".")[0])
	require.NoError(t, err)
	assert.Contains(t, string(header), `"alg":"RS256"`)

	claims, err := authority.VerifyToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Subject)

	// an HS256 token cannot pass for an RS256 one
	hs := newHMACAuthority(nil)
	hsToken, err := hs.IssueToken(Claims{})
	require.NoError(t, err)
	_, err = authority.VerifyToken(hsToken)
	assert.True(t, errors.Is(err, types.ErrInvalidToken))
}

func TestIssueWithoutSigningKey(t *testing.T) {
	ks := keystore.NewService(keystore.Options{
		Dir:    t.TempDir(),
		Master: staticMaster("master"),
		KDF:    security.KDFParams{Time: 1, MemoryKiB: 1024, Threads: 1},
	})
	defer ks.Stop()
	aliases := alias.NewService(ks, nil)

	authority := NewAuthority(Options{
		Signer:       crypto.NewService(crypto.Options{Aliases: aliases, Keystore: ks}),
		SigningAlias: "missing-hmac-key",
	})
	_, err := authority.IssueToken(Claims{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCrypto))
}
