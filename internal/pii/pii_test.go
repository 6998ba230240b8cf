package pii

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	sealed, err := c.Seal("RC-9911")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, prefix))
	assert.NotContains(t, sealed, "RC-9911")

	again, err := c.Seal("RC-9911")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "RC-9911", plain)
}

func TestCipherOpenLegacyAndTampered(t *testing.T) {
	c, err := NewCipher([]byte("1234567890abcdef"))
	require.NoError(t, err)

	got, err := c.Open("RC-legacy")
	require.NoError(t, err)
	assert.Equal(t, "RC-legacy", got)

	sealed, err := c.Seal("RC-1")
	require.NoError(t, err)
	b := []byte(sealed)
	i := len(b) - 3
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	_, err = c.Open(string(b))
	assert.Error(t, err)

	_, err = c.Open(prefix + "!!")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCipherWrongKey(t *testing.T) {
	a, _ := NewCipher([]byte("aaaaaaaaaaaaaaaa"))
	b, _ := NewCipher([]byte("bbbbbbbbbbbbbbbb"))
	sealed, err := a.Seal("secret")
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.Error(t, err)
}

func TestNewCipherRejectsLength(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.Error(t, err)
}

func TestPlain(t *testing.T) {
	var p Plain
	s, _ := p.Seal("x")
	assert.Equal(t, "x", s)
	_, err := p.Open(prefix + "abc")
	assert.Error(t, err)
}
