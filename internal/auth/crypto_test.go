// ABOUTME: Tests for the SSH-key-derived token cipher.
// ABOUTME: Round-trip, key determinism across instances, tamper rejection.

package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func writeTestKey(t *testing.T) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path
}

func TestSSHKeyCipher_RoundTrip(t *testing.T) {
	cipher, err := NewSSHKeyCipher(writeTestKey(t), "")
	require.NoError(t, err)

	sealed, err := cipher.Encrypt([]byte("bearer-token-value"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "bearer-token-value")

	opened, err := cipher.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "bearer-token-value", string(opened))
}

func TestSSHKeyCipher_SameKeyDecryptsAcrossInstances(t *testing.T) {
	keyPath := writeTestKey(t)

	first, err := NewSSHKeyCipher(keyPath, "")
	require.NoError(t, err)
	second, err := NewSSHKeyCipher(keyPath, "")
	require.NoError(t, err)

	sealed, err := first.Encrypt([]byte("survives restarts"))
	require.NoError(t, err)

	opened, err := second.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "survives restarts", string(opened))
}

func TestSSHKeyCipher_RejectsTamperedCiphertext(t *testing.T) {
	cipher, err := NewSSHKeyCipher(writeTestKey(t), "")
	require.NoError(t, err)

	sealed, err := cipher.Encrypt([]byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = cipher.Decrypt(sealed)
	assert.Error(t, err)
}

func TestSSHKeyCipher_RejectsShortCiphertext(t *testing.T) {
	cipher, err := NewSSHKeyCipher(writeTestKey(t), "")
	require.NoError(t, err)

	_, err = cipher.Decrypt([]byte("short"))
	assert.Error(t, err)
}

func TestSSHKeyCipher_MissingKeyFile(t *testing.T) {
	_, err := NewSSHKeyCipher(filepath.Join(t.TempDir(), "nope"), "")
	assert.Error(t, err)
}
