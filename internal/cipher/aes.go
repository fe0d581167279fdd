// Package cipher protects container passwords at rest with AES-256-GCM under
// a key derived from the configured master secret.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// keyInfo is the HKDF info string for the password-protection key.
const keyInfo = "keystorekit-container-password-v1"

const minSecretLen = 16

var (
	// ErrCiphertextTooShort is returned when a ciphertext cannot hold a nonce
	// and a GCM tag.
	ErrCiphertextTooShort = errors.New("ciphertext too short")

	// ErrSecretTooShort is returned for master secrets under 16 bytes.
	ErrSecretTooShort = errors.New("master secret must be at least 16 bytes")
)

// AESCipher encrypts small secrets. Output layout is nonce || ciphertext || tag.
type AESCipher struct {
	aead stdcipher.AEAD
}

// NewAESCipher derives an AES-256 key from secret with HKDF-SHA256.
func NewAESCipher(secret []byte) (*AESCipher, error) {
	if len(secret) < minSecretLen {
		return nil, ErrSecretTooShort
	}
	key := make([]byte, 32)
	defer clear(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving encryption key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aead, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &AESCipher{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *AESCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *AESCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns+c.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}
