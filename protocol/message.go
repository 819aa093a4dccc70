package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/flashbots/fedledger/crypto"
)

// PayloadVersion is the current UpdatePayload schema version.
const PayloadVersion = 1

// UpdatePayload is the plaintext a client signs and then encrypts.
// Field order is fixed, so its JSON encoding is canonical for a given value.
type UpdatePayload struct {
	Version  int         `json:"version"`
	ClientID string      `json:"client_id"`
	Weights  [][]float64 `json:"weights"`
	Bias     []float64   `json:"bias"`
}

// NewUpdatePayload wraps locally trained parameters for clientID.
func NewUpdatePayload(clientID string, params *Parameters) *UpdatePayload {
	return &UpdatePayload{
		Version:  PayloadVersion,
		ClientID: clientID,
		Weights:  params.WeightRows(),
		Bias:     params.BiasValues(),
	}
}

// Encode returns the canonical bytes covered by the client's signature.
func (u *UpdatePayload) Encode() ([]byte, error) {
	return SerializeMessage(u)
}

// Parameters converts the payload into typed parameters.
func (u *UpdatePayload) Parameters() (*Parameters, error) {
	params, err := ParametersFromRows(u.Weights, u.Bias)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return params, nil
}

// DecodeUpdatePayload strictly decodes a decrypted payload. Unknown fields,
// trailing data and unsupported versions are rejected as ErrMalformedPayload.
func DecodeUpdatePayload(data []byte) (*UpdatePayload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var payload UpdatePayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after payload", ErrMalformedPayload)
	}
	if payload.Version != PayloadVersion {
		return nil, fmt.Errorf("%w: unsupported payload version %d", ErrMalformedPayload, payload.Version)
	}
	return &payload, nil
}

// UpdatePackage is what a client hands to the ledger: its id, the sealed
// payload and the signature over the plaintext payload.
type UpdatePackage struct {
	ClientID   string           `json:"client_id"`
	Ciphertext []byte           `json:"ciphertext"`
	Nonce      []byte           `json:"nonce"`
	Tag        []byte           `json:"tag"`
	Signature  crypto.Signature `json:"signature"`
}

// Sealed returns the encrypted part of the package.
func (p *UpdatePackage) Sealed() *crypto.Sealed {
	return &crypto.Sealed{Ciphertext: p.Ciphertext, Nonce: p.Nonce, Tag: p.Tag}
}

// UnmarshalMessage deserializes a message from JSON bytes.
func UnmarshalMessage[T any](data []byte) (*T, error) {
	var msg T
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// DecodeMessage deserializes a message from a JSON reader.
func DecodeMessage[T any](reader io.Reader) (*T, error) {
	var msg T
	err := json.NewDecoder(reader).Decode(&msg)
	return &msg, err
}

// SerializeMessage serializes a message to JSON bytes.
func SerializeMessage[T any](msg *T) ([]byte, error) {
	return json.Marshal(msg)
}
