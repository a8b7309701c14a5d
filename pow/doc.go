// Package pow implements the Bitmessage-style proof-of-work nonce search.
//
// A proof of work binds measurable CPU effort to a message: given the
// 64-byte SHA-512 digest of a message payload and a difficulty target, the
// search finds a nonce such that the leading 8 bytes of
// SHA-512(SHA-512(nonce || digest)), read as a big-endian integer, are at or
// below the target. Independent verifiers recompute the same double hash, so
// the byte layout of the hashed candidate is a wire-format contract.
//
// The search runs across a caller-chosen pool of worker goroutines. Worker k
// of N owns the arithmetic progression k, k+N, k+2N, ... so the workers cover
// the nonce space without overlap. The first satisfying nonce found by any
// worker wins and stops the rest; the search reports exhaustion only after
// every worker has passed the nonce bound without a find. The reported nonce
// satisfies the target but is not guaranteed to be the smallest satisfying
// value.
//
// The package is re-entrant: every search owns its state and any number of
// searches may run concurrently in one process.
package pow
