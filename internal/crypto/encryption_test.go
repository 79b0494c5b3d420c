package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewEncryptor(t *testing.T) {
	t.Run("valid 32-byte key", func(t *testing.T) {
		encryptor, err := NewEncryptor(testKey(t))
		require.NoError(t, err)
		require.NotNil(t, encryptor)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := NewEncryptor("not-valid-base64!!!")
		assert.Error(t, err)
	})

	t.Run("wrong key length", func(t *testing.T) {
		short := base64.StdEncoding.EncodeToString(make([]byte, 16))
		_, err := NewEncryptor(short)
		assert.Error(t, err)
	})
}

func TestEncryptDecrypt(t *testing.T) {
	encryptor, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	passwords := []string{
		"mailbox-password-123",
		"P@ssw0rd!#$%^&*()",
		"",
		"пароль密码🔐",
	}

	for _, password := range passwords {
		ciphertext, err := encryptor.Encrypt(password)
		require.NoError(t, err)

		plaintext, err := encryptor.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, password, plaintext)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	encryptor, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	a, err := encryptor.Encrypt("same password")
	require.NoError(t, err)
	b, err := encryptor.Encrypt("same password")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	encryptor, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	ciphertext, err := encryptor.Encrypt("secret")
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xff
	_, err = encryptor.Decrypt(ciphertext)
	assert.Error(t, err)

	_, err = encryptor.Decrypt([]byte("short"))
	assert.Error(t, err)
}
