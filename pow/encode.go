package pow

import (
	"crypto/sha512"
	"encoding/binary"
)

// EncodeCandidate builds the exact byte sequence that is double-hashed for a
// candidate nonce: the nonce as a big-endian 64-bit integer followed by a
// copy of the initial hash. The ordering and endianness are shared with every
// independent verifier of the same proof and must not change.
func EncodeCandidate(nonce uint64, initialHash []byte) []byte {
	buf := make([]byte, NonceSize+len(initialHash))
	binary.BigEndian.PutUint64(buf[:NonceSize], nonce)
	copy(buf[NonceSize:], initialHash)
	return buf
}

// DoubleSHA512 returns SHA-512(SHA-512(data)).
func DoubleSHA512(data []byte) []byte {
	first := sha512.Sum512(data)
	second := sha512.Sum512(first[:])
	return second[:]
}

// trialValue reads the leading 8 bytes of a double-hash digest as the
// big-endian integer compared against the target.
func trialValue(digest []byte) uint64 {
	return binary.BigEndian.Uint64(digest[:NonceSize])
}
