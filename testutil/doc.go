/*
Package testutil provides testing utilities for the fedledger protocol implementation.

It collects the fixtures that client, aggregator, ledger and API tests share,
so those tests can focus on behavior rather than setup.

# Configuration Generators

	// Default small model
	cfg := testutil.NewTestConfig()

	// Customized
	cfg := testutil.NewTestConfig(
	    testutil.WithDims(8, 2),
	    testutil.WithLocalEpochs(5),
	)

# Cryptographic Generators

	pubKey, privKey, _ := testutil.GenerateTestKeyPair()
	sessionKey := testutil.MustSessionKey()

# Update Packages

SealUpdate builds a valid package without going through a client, and
SealRaw seals arbitrary bytes, which is how tests produce payloads that
authenticate but fail to decode:

	pkg, _ := testutil.SealUpdate("client_1", privKey, sessionKey, testutil.Scalar(3))
	pkg.Tag = testutil.FlipBit(pkg.Tag, 0) // now tampered

# Trainers and Evaluators

FixedTrainer, FailingTrainer and ConstantEvaluator satisfy the protocol
interfaces with predictable results. Samples is a size-only dataset.

This package is intended for testing purposes only and should not be used in
production code.
*/
package testutil
