// Package crypto provides the cryptographic primitives used by fedledger clients
// and the aggregator.
//
//   - Digital signatures (ECDSA P-256 over SHA-256) binding an update to the
//     client that produced it
//   - Authenticated encryption (AES-256-GCM) of update payloads under the
//     run-wide session key
//   - Record digests (SHA3-256) used by the ledger to fingerprint stored rows
//
// A stored update is trusted only if it both decrypts and carries a valid
// signature over the decrypted bytes. Encryption alone says nothing about who
// wrote the payload, since every client holds the session key, and a signature
// alone says nothing about whether the stored blob was modified.
//
// # Key Management
//
// Public keys travel as PEM SubjectPublicKeyInfo strings, private keys as
// hex-encoded PKCS#8. The session key is a 32-byte random value delivered to
// clients out of band and never rotated within a run.
package crypto
