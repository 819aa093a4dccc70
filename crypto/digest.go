package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

const recordDigestDomain = "fedledger-record-v1"

// RecordDigest computes the SHA3-256 fingerprint of a stored update record.
// Every variable-length field is length-prefixed so that distinct records can
// never share a preimage.
func RecordDigest(roundID int64, clientID string, ciphertext, nonce, tag []byte, signature Signature) []byte {
	h := sha3.New256()
	h.Write([]byte(recordDigestDomain))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(roundID))
	h.Write(buf[:])

	for _, field := range [][]byte{[]byte(clientID), ciphertext, nonce, tag, signature} {
		binary.BigEndian.PutUint64(buf[:], uint64(len(field)))
		h.Write(buf[:])
		h.Write(field)
	}
	return h.Sum(nil)
}
