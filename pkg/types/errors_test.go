package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := &Error{Kind: KindAliasNotFound, Op: "get password", Cluster: "prod", Alias: "db"}

	assert.True(t, errors.Is(err, ErrAliasNotFound))
	assert.False(t, errors.Is(err, ErrCredentialStoreNotFound))

	wrapped := fmt.Errorf("lookup failed: %w", err)
	assert.True(t, errors.Is(wrapped, ErrAliasNotFound))
	assert.Equal(t, KindAliasNotFound, KindOf(wrapped))
}

func TestErrorChainKeepsInnerKind(t *testing.T) {
	inner := &Error{Kind: KindAliasNotFound, Op: "get password", Alias: "k"}
	outer := &Error{Kind: KindCrypto, Op: "encrypt", Alias: "k", Err: inner}

	assert.True(t, errors.Is(outer, ErrCrypto))
	assert.True(t, errors.Is(outer, ErrAliasNotFound))
	assert.Equal(t, KindCrypto, KindOf(outer))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{
		Kind:    KindKeystoreUnlock,
		Op:      "open credential store",
		Cluster: "prod",
		Err:     errors.New("verifier mismatch"),
	}
	assert.Equal(t, "open credential store: keystore unlock failure [cluster=prod]: verifier mismatch", err.Error())

	aliasOnly := &Error{Kind: KindCrypto, Op: "sign", Alias: "signer"}
	assert.Equal(t, "sign: crypto failure [alias=signer]", aliasOnly.Error())
}

func TestKindFamily(t *testing.T) {
	tests := []struct {
		kind   Kind
		family Family
	}{
		{KindMasterSecretUnavailable, FamilyKeystore},
		{KindKeystoreUnlock, FamilyKeystore},
		{KindAliasNotFound, FamilyKeystore},
		{KindCrypto, FamilyCrypto},
		{KindInvalidToken, FamilyCrypto},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.family, tt.kind.Family())
		})
	}
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestValidateClusterName(t *testing.T) {
	valid := []string{GatewayCluster, "prod", "sandbox-1", "a.b_c"}
	for _, name := range valid {
		assert.NoError(t, ValidateClusterName(name), name)
	}

	invalid := []string{"", "../etc", "a/b", "-lead", ".hidden", "with space"}
	for _, name := range invalid {
		err := ValidateClusterName(name)
		assert.True(t, errors.Is(err, ErrInvalidArgument), name)
	}
}

func TestResolveCluster(t *testing.T) {
	assert.Equal(t, GatewayCluster, ResolveCluster(""))
	assert.Equal(t, "prod", ResolveCluster("prod"))
}

func TestWithOp(t *testing.T) {
	inner := &Error{Kind: KindAliasNotFound, Op: "read entry", Cluster: "prod", Alias: "db"}

	relabelled := WithOp(inner, "get password")
	assert.Equal(t, "get password: alias not found [cluster=prod alias=db]", relabelled.Error())
	assert.Equal(t, "read entry", inner.Op)

	plain := errors.New("plain")
	assert.Same(t, plain, WithOp(plain, "op"))
}
