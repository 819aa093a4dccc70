// Package client implements the client side of the fedledger protocol: local
// training and packaging of a signed, encrypted parameter update.
//
// A client never talks to the aggregator directly. It reads the current
// global parameters, trains on its local dataset, and produces an
// UpdatePackage that the caller appends to the ledger.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/flashbots/fedledger/crypto"
	"github.com/flashbots/fedledger/protocol"
)

// Config carries everything a client needs for a run. It replaces any
// process-wide state: two clients in one process share nothing but what is
// passed in here.
type Config struct {
	ClientID   string
	PrivateKey crypto.PrivateKey
	SessionKey crypto.SessionKey
	Trainer    protocol.Trainer
	Dataset    protocol.Dataset
}

// ClientImpl packages local updates for one client identity.
type ClientImpl struct {
	clientID   string
	privateKey crypto.PrivateKey
	publicKey  crypto.PublicKey
	sessionKey crypto.SessionKey
	trainer    protocol.Trainer
	dataset    protocol.Dataset
}

// NewClient validates the configuration and derives the client's public key.
func NewClient(config *Config) (*ClientImpl, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if config.ClientID == "" {
		return nil, errors.New("client id cannot be empty")
	}
	if config.Trainer == nil {
		return nil, errors.New("trainer cannot be nil")
	}
	if len(config.SessionKey) != crypto.SessionKeySize {
		return nil, fmt.Errorf("session key must be %d bytes", crypto.SessionKeySize)
	}

	publicKey, err := config.PrivateKey.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &ClientImpl{
		clientID:   config.ClientID,
		privateKey: config.PrivateKey,
		publicKey:  publicKey,
		sessionKey: config.SessionKey,
		trainer:    config.Trainer,
		dataset:    config.Dataset,
	}, nil
}

// NewClientWithGeneratedKey creates a client with a fresh signing key pair.
func NewClientWithGeneratedKey(clientID string, sessionKey crypto.SessionKey, trainer protocol.Trainer, dataset protocol.Dataset) (*ClientImpl, error) {
	_, privateKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keys: %w", err)
	}
	return NewClient(&Config{
		ClientID:   clientID,
		PrivateKey: privateKey,
		SessionKey: sessionKey,
		Trainer:    trainer,
		Dataset:    dataset,
	})
}

// ID returns the client identifier.
func (c *ClientImpl) ID() string {
	return c.clientID
}

// GetPublicKey returns the client's verification key.
func (c *ClientImpl) GetPublicKey() crypto.PublicKey {
	return c.publicKey
}

// Registration returns the identity to be registered with the ledger out of
// band before the client's updates can be accepted.
func (c *ClientImpl) Registration() *protocol.ClientIdentity {
	return &protocol.ClientIdentity{ClientID: c.clientID, PublicKey: c.publicKey}
}

// PrepareUpdate trains on the local dataset starting from global and returns
// the signed and encrypted package. It performs no ledger write.
func (c *ClientImpl) PrepareUpdate(ctx context.Context, global *protocol.Parameters) (*protocol.UpdatePackage, error) {
	if global == nil {
		return nil, errors.New("global parameters cannot be nil")
	}

	local, err := c.train(ctx, global)
	if err != nil {
		return nil, err
	}

	return c.Package(local)
}

// Package signs and encrypts already computed local parameters.
func (c *ClientImpl) Package(local *protocol.Parameters) (*protocol.UpdatePackage, error) {
	payload, err := protocol.NewUpdatePayload(c.clientID, local).Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	// The signature covers the plaintext and is computed before encryption.
	signature, err := crypto.Sign(c.privateKey, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	sealed, err := crypto.Encrypt(c.sessionKey, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}

	return &protocol.UpdatePackage{
		ClientID:   c.clientID,
		Ciphertext: sealed.Ciphertext,
		Nonce:      sealed.Nonce,
		Tag:        sealed.Tag,
		Signature:  signature,
	}, nil
}

func (c *ClientImpl) train(ctx context.Context, global *protocol.Parameters) (*protocol.Parameters, error) {
	// No data means nothing to learn from; send the global parameters back.
	if c.dataset == nil || c.dataset.Len() == 0 {
		return global.Clone(), nil
	}
	local, err := c.trainer.Train(ctx, global, c.dataset)
	if err != nil {
		return nil, fmt.Errorf("local training failed: %w", err)
	}
	return local, nil
}

// Submit appends a package to the ledger for round. This is the caller-side
// write that PrepareUpdate deliberately leaves out.
func Submit(ctx context.Context, ledger protocol.Ledger, round protocol.RoundID, pkg *protocol.UpdatePackage) (*protocol.UpdateRecord, error) {
	record := protocol.NewUpdateRecord(round, pkg)
	if err := ledger.AppendUpdateRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
