package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
)

const (
	// SessionKeySize is the AES-256 key length in bytes.
	SessionKeySize = 32
	// NonceSize is the AES-GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag length in bytes.
	TagSize = 16
)

// ErrAuthenticationFailure is returned by Decrypt when the ciphertext, nonce or
// tag do not authenticate under the key.
var ErrAuthenticationFailure = errors.New("authentication failure")

// SessionKey is the symmetric key shared by every client for the lifetime of a
// run. It provides confidentiality and tamper evidence, not authenticity:
// anyone holding it can produce valid ciphertexts.
type SessionKey []byte

// GenerateSessionKey returns a fresh random 256-bit session key.
func GenerateSessionKey() (SessionKey, error) {
	key := make([]byte, SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return SessionKey(key), nil
}

// NewSessionKey creates a SessionKey from a byte slice.
func NewSessionKey(data []byte) (SessionKey, error) {
	if len(data) != SessionKeySize {
		return nil, fmt.Errorf("%w: session key must be %d bytes, got %d", ErrMalformedKey, SessionKeySize, len(data))
	}
	return SessionKey(slices.Clone(data)), nil
}

// NewSessionKeyFromString parses a hex-encoded session key.
func NewSessionKeyFromString(data string) (SessionKey, error) {
	raw, err := hex.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return NewSessionKey(raw)
}

// Bytes returns a copy of the key.
func (k SessionKey) Bytes() []byte {
	return slices.Clone(k)
}

// String returns the hex encoding of the key.
func (k SessionKey) String() string {
	return hex.EncodeToString(k)
}

// Sealed is an AES-256-GCM encrypted payload. The tag is carried separately
// from the ciphertext so that each can be stored in its own ledger column,
// but the two are only meaningful together.
type Sealed struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Tag        []byte `json:"tag"`
}

// Encrypt encrypts plaintext under the session key with a fresh random nonce.
func Encrypt(key SessionKey, plaintext []byte) (*Sealed, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := gcm.Seal(nil, nonce, plaintext, nil)
	split := len(out) - TagSize

	return &Sealed{
		Ciphertext: out[:split:split],
		Nonce:      nonce,
		Tag:        out[split:],
	}, nil
}

// Decrypt authenticates and decrypts a sealed payload. Any mismatch between
// key, nonce, ciphertext and tag yields an error wrapping
// ErrAuthenticationFailure.
func Decrypt(key SessionKey, sealed *Sealed) ([]byte, error) {
	if sealed == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrAuthenticationFailure)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(sealed.Nonce) != NonceSize {
		return nil, fmt.Errorf("%w: invalid nonce size %d", ErrAuthenticationFailure, len(sealed.Nonce))
	}
	if len(sealed.Tag) != TagSize {
		return nil, fmt.Errorf("%w: invalid tag size %d", ErrAuthenticationFailure, len(sealed.Tag))
	}

	full := make([]byte, 0, len(sealed.Ciphertext)+TagSize)
	full = append(full, sealed.Ciphertext...)
	full = append(full, sealed.Tag...)

	plaintext, err := gcm.Open(nil, sealed.Nonce, full, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailure, err)
	}
	return plaintext, nil
}

func newGCM(key SessionKey) (cipher.AEAD, error) {
	if len(key) != SessionKeySize {
		return nil, fmt.Errorf("%w: session key must be %d bytes, got %d", ErrMalformedKey, SessionKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
