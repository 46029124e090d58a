// ABOUTME: Local cache for the bearer credential: env var override, XDG file,
// ABOUTME: optional at-rest encryption via an SSH-key-derived cipher.

package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TokenEnvVar overrides the cached token when set.
const TokenEnvVar = "PREPCHAT_TOKEN"

// ErrNoToken is returned when no credential is cached anywhere.
var ErrNoToken = errors.New("no token: set " + TokenEnvVar + " or run 'prepchat login'")

// Cipher encrypts and decrypts the cached token at rest. A nil Cipher stores
// the token in plain text.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// TokenCache stores the bearer credential on disk. Lookup priority: the
// PREPCHAT_TOKEN environment variable, then the cache file.
type TokenCache struct {
	path   string
	cipher Cipher
}

// NewTokenCache creates a cache backed by the given file path. Pass an empty
// path to use the default XDG location.
func NewTokenCache(path string, cipher Cipher) *TokenCache {
	if path == "" {
		path = defaultTokenPath()
	}
	return &TokenCache{path: path, cipher: cipher}
}

// defaultTokenPath is XDG_CONFIG_HOME/prepchat/token, falling back to
// ~/.config/prepchat/token.
func defaultTokenPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "token"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "prepchat", "token")
}

// Load returns the credential, preferring the environment variable.
func (c *TokenCache) Load() (string, error) {
	if token := os.Getenv(TokenEnvVar); token != "" {
		return token, nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}

	if c.cipher != nil {
		data, err = c.cipher.Decrypt(data)
		if err != nil {
			return "", fmt.Errorf("decrypting token file: %w", err)
		}
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Save writes the credential to the cache file with owner-only permissions,
// creating parent directories as needed.
func (c *TokenCache) Save(token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("refusing to save empty token")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	data := []byte(token)
	if c.cipher != nil {
		var err error
		data, err = c.cipher.Encrypt(data)
		if err != nil {
			return fmt.Errorf("encrypting token: %w", err)
		}
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// Clear removes the cached credential. Missing file is not an error.
func (c *TokenCache) Clear() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}
