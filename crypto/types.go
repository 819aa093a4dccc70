package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"slices"
)

// ErrMalformedKey is returned when serialized key material cannot be parsed
// into a P-256 ECDSA key.
var ErrMalformedKey = errors.New("malformed key")

const pemPublicKeyType = "PUBLIC KEY"

// PublicKey represents a client's signature verification key.
// The bytes are the DER-encoded SubjectPublicKeyInfo of a P-256 ECDSA key.
type PublicKey []byte

// NewPublicKeyFromBytes creates a PublicKey from DER bytes.
// The bytes are copied and validated.
func NewPublicKeyFromBytes(data []byte) (PublicKey, error) {
	pk := PublicKey(slices.Clone(data))
	if _, err := pk.ecdsa(); err != nil {
		return nil, err
	}
	return pk, nil
}

// NewPublicKeyFromString parses a PEM-encoded public key as produced by
// PublicKey.String.
func NewPublicKeyFromString(data string) (PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != pemPublicKeyType {
		return nil, fmt.Errorf("%w: no PEM public key block", ErrMalformedKey)
	}
	return NewPublicKeyFromBytes(block.Bytes)
}

// Bytes returns the DER encoding of the key.
func (pk PublicKey) Bytes() []byte {
	return pk
}

// Equal compares two public keys for equality.
func (pk PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(pk, other) == 1
}

// String returns the PEM encoding of the key. This is the transport-safe form
// stored in the ledger.
func (pk PublicKey) String() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: pemPublicKeyType, Bytes: pk}))
}

func (pk PublicKey) ecdsa() (*ecdsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(pk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: not a P-256 ECDSA key", ErrMalformedKey)
	}
	return key, nil
}

// PrivateKey represents a client's signing key.
// The bytes are the PKCS#8 DER encoding of a P-256 ECDSA key and must never
// leave the client.
type PrivateKey []byte

// NewPrivateKeyFromBytes creates a PrivateKey from PKCS#8 DER bytes.
func NewPrivateKeyFromBytes(data []byte) (PrivateKey, error) {
	sk := PrivateKey(slices.Clone(data))
	if _, err := sk.ecdsa(); err != nil {
		return nil, err
	}
	return sk, nil
}

// NewPrivateKeyFromString parses a hex-encoded PKCS#8 private key.
func NewPrivateKeyFromString(data string) (PrivateKey, error) {
	raw, err := hex.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return NewPrivateKeyFromBytes(raw)
}

// Bytes returns the private key as a byte slice.
// This method should be used carefully as it exposes sensitive key material.
func (sk PrivateKey) Bytes() []byte {
	return sk
}

// String returns the hex encoding of the key, for config files.
func (sk PrivateKey) String() string {
	return hex.EncodeToString(sk)
}

// PublicKey derives the public key corresponding to this private key.
func (sk PrivateKey) PublicKey() (PublicKey, error) {
	key, err := sk.ecdsa()
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return PublicKey(der), nil
}

func (sk PrivateKey) ecdsa() (*ecdsa.PrivateKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(sk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: not a P-256 ECDSA key", ErrMalformedKey)
	}
	return key, nil
}

// GenerateKeyPair generates a new P-256 ECDSA key pair for signing updates.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	skDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	pkDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	return PublicKey(pkDER), PrivateKey(skDER), nil
}

// Signature is an ASN.1 DER encoded ECDSA signature over the SHA-256 digest
// of a payload. Signatures are randomized: signing the same payload twice
// yields different bytes, both of which verify.
type Signature []byte

// NewSignature creates a Signature from a byte slice.
func NewSignature(data []byte) Signature {
	return Signature(slices.Clone(data))
}

// Bytes returns the signature as a byte slice.
func (s Signature) Bytes() []byte {
	return []byte(s)
}

// Verify checks if this signature is valid for the given data and public key.
// It never fails loudly: malformed keys or signatures simply yield false.
func (s Signature) Verify(publicKey PublicKey, data []byte) bool {
	key, err := publicKey.ecdsa()
	if err != nil {
		return false
	}
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(key, digest[:], s)
}

// String returns a hex-encoded string representation of the signature.
func (s Signature) String() string {
	return hex.EncodeToString(s.Bytes())
}

// Sign signs data with the given private key.
func Sign(privateKey PrivateKey, data []byte) (Signature, error) {
	key, err := privateKey.ecdsa()
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return nil, err
	}
	return Signature(sig), nil
}

// Verify is shorthand for signature.Verify(publicKey, data).
func Verify(publicKey PublicKey, data []byte, signature Signature) bool {
	return signature.Verify(publicKey, data)
}
