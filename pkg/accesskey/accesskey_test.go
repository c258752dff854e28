package accesskey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestRoundTrip(t *testing.T) {
	c, err := New(testKey)
	require.NoError(t, err)

	sealed, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestDecryptFailures(t *testing.T) {
	c, err := New(testKey)
	require.NoError(t, err)

	_, err = c.Decrypt("%%%")
	assert.Error(t, err)
	_, err = c.Decrypt("AAAA")
	assert.Error(t, err)

	other, err := New(strings.Repeat("ff", 32))
	require.NoError(t, err)
	sealed, err := other.Encrypt("x")
	require.NoError(t, err)
	_, err = c.Decrypt(sealed)
	assert.Error(t, err)
}

func TestKeyValidation(t *testing.T) {
	_, err := New("zz")
	assert.Error(t, err)
	_, err = New("0011")
	assert.Error(t, err)

	empty, err := New("")
	require.NoError(t, err)
	_, err = empty.Decrypt("anything")
	assert.ErrorIs(t, err, ErrNoKey)
}
