package snacl

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	password = []byte("sikrit")
	message  = []byte("this is a secret message of sorts")
)

// newTestKey derives a key with cheap scrypt parameters.
func newTestKey(t *testing.T) *SecretKey {
	t.Helper()

	key, err := NewSecretKey(&password, 16, 8, 1)
	require.NoError(t, err)
	return key
}

func TestEncryptDecrypt(t *testing.T) {
	key := newTestKey(t)

	blob, err := key.Encrypt(message)
	require.NoError(t, err)
	require.Len(t, blob, NonceSize+len(message)+Overhead)
	require.False(t, bytes.Contains(blob, message))

	decrypted, err := key.Decrypt(blob)
	require.NoError(t, err)
	require.Equal(t, message, decrypted)

	// Two encryptions of the same message never share a nonce.
	other, err := key.Encrypt(message)
	require.NoError(t, err)
	require.NotEqual(t, blob, other)
}

func TestGenerateCryptoKey(t *testing.T) {
	key, err := GenerateCryptoKey()
	require.NoError(t, err)
	other, err := GenerateCryptoKey()
	require.NoError(t, err)
	require.NotEqual(t, key, other)

	blob, err := key.Encrypt(message)
	require.NoError(t, err)
	decrypted, err := key.Decrypt(blob)
	require.NoError(t, err)
	require.Equal(t, message, decrypted)

	_, err = other.Decrypt(blob)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptTampered(t *testing.T) {
	key := newTestKey(t)

	blob, err := key.Encrypt(message)
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0x01
	_, err = key.Decrypt(blob)
	require.Equal(t, ErrDecryptFailed, err)

	_, err = key.Decrypt(blob[:NonceSize-1])
	require.Equal(t, ErrMalformed, err)
}

func TestMarshalUnmarshal(t *testing.T) {
	key := newTestKey(t)
	params := key.Marshal()

	var restored SecretKey
	require.NoError(t, restored.Unmarshal(params))
	require.Equal(t, key.Parameters, restored.Parameters)

	require.NoError(t, restored.DeriveKey(&password))
	require.Equal(t, *key.Key, *restored.Key)

	require.Equal(t, ErrMalformed, restored.Unmarshal(params[1:]))
}

func TestDeriveKeyInvalidPassword(t *testing.T) {
	key := newTestKey(t)

	var restored SecretKey
	require.NoError(t, restored.Unmarshal(key.Marshal()))

	wrong := []byte("wrong")
	require.Equal(t, ErrInvalidPassword, restored.DeriveKey(&wrong))
}

func TestZero(t *testing.T) {
	key := newTestKey(t)
	blob, err := key.Encrypt(message)
	require.NoError(t, err)

	key.Zero()
	require.Equal(t, CryptoKey{}, *key.Key)

	_, err = key.Decrypt(blob)
	require.Equal(t, ErrDecryptFailed, err)

	require.NoError(t, key.DeriveKey(&password))
	decrypted, err := key.Decrypt(blob)
	require.NoError(t, err)
	require.Equal(t, message, decrypted)
}
