package acme

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsRoundTrip(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	keyPEM, err := encodeKey(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, saveCredentials(path, &credentials{Email: "ops@example.com", PrivateKeyPEM: keyPEM}))

	loaded, err := loadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", loaded.Email)

	decoded, err := decodeKey(loaded.PrivateKeyPEM)
	require.NoError(t, err)
	assert.True(t, key.Equal(decoded))
}

func TestDecodeKeyRejectsGarbage(t *testing.T) {
	_, err := decodeKey("not a pem block")
	assert.Error(t, err)
}
