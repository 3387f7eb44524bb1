// Package crypto seals small secrets (the account credential) at rest with
// AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/kimhsiao/crafttrack/internal/errors"
)

const keyContext = "crafttrack:"

const (
	// PasswordMinLength is the shortest accepted backup password.
	PasswordMinLength = 8

	// SaltLength is the size of a password salt.
	SaltLength = 16

	passwordRounds   = 210000
	passwordKeyBytes = 32
)

// Sealer encrypts and authenticates values with a fixed key.
type Sealer struct {
	aead cipher.AEAD
}

// DeviceKey derives a 32-byte key from a device identifier.
func DeviceKey(deviceID string) []byte {
	if deviceID == "" {
		deviceID = "default-device"
	}
	sum := sha256.Sum256([]byte(keyContext + deviceID))
	return sum[:]
}

// NewSealer creates a Sealer. Any key length is accepted; it is hashed to
// 32 bytes.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) == 0 {
		return nil, errors.New(errors.ErrCryptoFailed, "empty key")
	}
	derived := sha256.Sum256(key)
	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return nil, errors.Wrap(errors.ErrCryptoFailed, "create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCryptoFailed, "create gcm", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewSalt returns SaltLength random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Wrap(errors.ErrCryptoFailed, "generate salt", err)
	}
	return salt, nil
}

// PasswordSealer derives a key from password and salt with PBKDF2-SHA256.
// The password itself is never stored.
func PasswordSealer(password string, salt []byte) (*Sealer, error) {
	if len(password) < PasswordMinLength {
		return nil, errors.Newf(errors.ErrValidation, "password must be at least %d characters", PasswordMinLength)
	}
	key, err := pbkdf2.Key(sha256.New, password, salt, passwordRounds, passwordKeyBytes)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCryptoFailed, "derive key", err)
	}
	return NewSealer(key)
}

// SealBytes returns nonce || ciphertext.
func (s *Sealer) SealBytes(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(errors.ErrCryptoFailed, "generate nonce", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenBytes reverses SealBytes.
func (s *Sealer) OpenBytes(data []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(data) < n {
		return nil, errors.New(errors.ErrCryptoFailed, "sealed value too short")
	}
	plaintext, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCryptoFailed, "authenticate sealed value", err)
	}
	return plaintext, nil
}

// Seal returns base64(nonce || ciphertext).
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	sealed, err := s.SealBytes(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Tampered or foreign values fail with CRYPTO_FAILED.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCryptoFailed, "decode sealed value", err)
	}
	return s.OpenBytes(data)
}

// SealString is Seal for strings.
func (s *Sealer) SealString(plaintext string) (string, error) {
	return s.Seal([]byte(plaintext))
}

// OpenString is Open for strings.
func (s *Sealer) OpenString(sealed string) (string, error) {
	b, err := s.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
