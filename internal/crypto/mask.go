// Package crypto provides a reversible AES-GCM masking routine the
// structured logger uses before writing a feed URL or bot token to the
// log stream. Operators holding the key can recover the original value
// with Unmask; without the key the log line reveals nothing.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
)

const (
	KeySize   = 32
	NonceSize = 12
)

type Masker struct {
	key     []byte
	enabled bool
}

// NewMasker builds a Masker from a hex-encoded 32-byte key. If hexKey
// is empty, masking is disabled and MaskSecret returns a fixed
// redaction string instead of attempting encryption.
func NewMasker(hexKey string) (*Masker, error) {
	if hexKey == "" {
		return &Masker{enabled: false}, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, err
	}
	if len(key) != KeySize {
		return nil, errors.New("invalid key size, expected 32 bytes")
	}
	return &Masker{key: key, enabled: true}, nil
}

// MaskSecret returns a value safe to place in a log line: either an
// AES-GCM-sealed, hex-encoded ciphertext (recoverable via Unmask for
// operators holding the key) or, when masking is disabled, a short
// fixed redaction marker.
func (m *Masker) MaskSecret(plaintext string) string {
	if !m.enabled || plaintext == "" {
		return "***redacted***"
	}
	sealed, err := m.encrypt(plaintext)
	if err != nil {
		return "***redacted***"
	}
	return "enc:" + sealed
}

func (m *Masker) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	ciphertext := aesgcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

// Unmask reverses MaskSecret's "enc:" form. Returns an error for the
// fixed "***redacted***" marker since that path is intentionally
// irreversible.
func (m *Masker) Unmask(masked string) (string, error) {
	if !m.enabled {
		return "", errors.New("masking disabled, nothing to unmask")
	}
	const prefix = "enc:"
	if len(masked) < len(prefix) || masked[:len(prefix)] != prefix {
		return "", errors.New("value is not reversibly masked")
	}
	ciphertext, err := hex.DecodeString(masked[len(prefix):])
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(ciphertext) < NonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:NonceSize], ciphertext[NonceSize:]
	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
