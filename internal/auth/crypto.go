// ABOUTME: At-rest encryption for the cached credential using an SSH key.
// ABOUTME: Derives an AES-GCM key from a deterministic SSH signature.

package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/ssh"
)

// challenge is the fixed payload signed to derive the encryption key. The
// signature must be deterministic for the same key, which holds for Ed25519
// and RSA keys (the common cases); ECDSA keys are rejected at setup.
var challenge = []byte("prepchat-token-cache-v1")

// SSHKeyCipher encrypts with AES-256-GCM keyed by the SHA-256 of an SSH
// signature over a fixed challenge. Only someone holding the private key can
// reproduce the key and decrypt the cache.
type SSHKeyCipher struct {
	aesKey []byte
}

// NewSSHKeyCipher loads the private key at keyPath and derives the cipher
// key. passphrase may be empty for unencrypted keys.
func NewSSHKeyCipher(keyPath, passphrase string) (*SSHKeyCipher, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key: %w", err)
	}

	keyType := signer.PublicKey().Type()
	if keyType == ssh.KeyAlgoECDSA256 || keyType == ssh.KeyAlgoECDSA384 || keyType == ssh.KeyAlgoECDSA521 {
		return nil, fmt.Errorf("ecdsa keys produce non-deterministic signatures; use an ed25519 or rsa key")
	}

	sig, err := signer.Sign(rand.Reader, challenge)
	if err != nil {
		return nil, fmt.Errorf("signing challenge: %w", err)
	}

	key := sha256.Sum256(sig.Blob)
	return &SSHKeyCipher{aesKey: key[:]}, nil
}

// Encrypt seals the plaintext; the random nonce is prepended to the output.
func (c *SSHKeyCipher) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt.
func (c *SSHKeyCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

func (c *SSHKeyCipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
