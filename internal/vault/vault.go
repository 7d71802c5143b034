// Package vault encrypts proxy credentials at rest. Tokens are
// base64(nonce):base64(tag):base64(ciphertext) so the parts split without a
// binary framing format.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"proxyward/internal/apperr"
	"proxyward/internal/logger"
)

// Dev fallback, same shape as a real key. Production sets
// PROXYWARD_ENCRYPTION_KEY or vault.key in the config.
const defaultKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type Vault struct {
	aead cipher.AEAD
}

// New builds a vault from a hex-encoded 32-byte AES key. An empty key falls
// back to the dev key.
func New(keyHex string) (*Vault, error) {
	if keyHex == "" {
		keyHex = defaultKeyHex
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce. The label is only used
// for logging; plaintext never reaches the log.
func (v *Vault) Encrypt(plaintext, label string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	tagStart := len(sealed) - v.aead.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	logger.Log.Debugw("Password encrypted", "proxy_label", label)

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt opens a token produced by Encrypt. Malformed tokens and failed tag
// verification both surface as DecryptionFailed.
func (v *Vault) Decrypt(token, label string) (string, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return "", apperr.Decryption("secret token has %d parts, want 3", len(parts))
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", apperr.Decryption("secret token nonce is not valid base64")
	}
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", apperr.Decryption("secret token tag is not valid base64")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", apperr.Decryption("secret token ciphertext is not valid base64")
	}

	if len(nonce) != v.aead.NonceSize() {
		return "", apperr.Decryption("secret token nonce has wrong size")
	}

	plaintext, err := v.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", apperr.Decryption("secret token failed authentication")
	}

	logger.Log.Debugw("Password decrypted", "proxy_label", label)
	return string(plaintext), nil
}
