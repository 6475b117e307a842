package secure

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferUse(t *testing.T) {
	data := []byte("master-secret")
	buf := NewBuffer(data)

	// source is wiped once protected
	assert.Equal(t, make([]byte, len("master-secret")), data)

	var seen string
	err := buf.Use(func(secret []byte) error {
		seen = string(secret)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "master-secret", seen)
}

func TestCopyBufferLeavesInput(t *testing.T) {
	data := []byte("passphrase")
	buf := CopyBuffer(data)
	assert.Equal(t, "passphrase", string(data))

	got, err := buf.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "passphrase", string(got))
}

func TestBufferUsePropagatesError(t *testing.T) {
	buf := CopyBuffer([]byte("x"))
	boom := errors.New("boom")
	assert.ErrorIs(t, buf.Use(func([]byte) error { return boom }), boom)
}

func TestBufferDestroy(t *testing.T) {
	buf := CopyBuffer([]byte("x"))
	buf.Destroy()
	buf.Destroy()

	assert.True(t, buf.Destroyed())
	_, err := buf.Bytes()
	assert.ErrorIs(t, err, ErrDestroyed)
}
