package keystore

import (
	"errors"
	"fmt"
)

const opDecryptPassword = "decrypt password"

// PasswordManager turns stored password ciphertext into a transient
// plaintext. Callers own the returned slice and must clear it with
// clearBytes once the operation that needed it is finished.
type PasswordManager struct {
	cipher PasswordCipher
}

// NewPasswordManager wraps an explicitly constructed cipher.
func NewPasswordManager(cipher PasswordCipher) (*PasswordManager, error) {
	if cipher == nil {
		return nil, errors.New("password cipher is required")
	}
	return &PasswordManager{cipher: cipher}, nil
}

// Decrypt returns the plaintext password of c.
func (m *PasswordManager) Decrypt(c *Container) ([]byte, error) {
	if len(c.EncryptedPassword) == 0 {
		return nil, &CryptographyError{Op: opDecryptPassword, ContainerID: c.ID, Err: errors.New("container has no stored password")}
	}
	pw, err := m.cipher.Decrypt(c.EncryptedPassword)
	if err != nil {
		return nil, &CryptographyError{Op: opDecryptPassword, ContainerID: c.ID, Err: err}
	}
	return pw, nil
}

// Encrypt seals a new container password.
func (m *PasswordManager) Encrypt(password []byte) ([]byte, error) {
	ct, err := m.cipher.Encrypt(password)
	if err != nil {
		return nil, &CryptographyError{Op: "encrypt password", Err: fmt.Errorf("sealing password: %w", err)}
	}
	return ct, nil
}

// clearBytes zeroes a byte slice to minimize the time a secret stays in memory.
func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
