package pow

import (
	"crypto/sha512"
	"encoding/binary"
	"sync/atomic"
)

// attemptsFlushInterval is how many local hash attempts a worker accumulates
// before adding them to the shared counter. Keeps the hot loop free of
// per-attempt atomic traffic while a live reader still sees fresh totals.
const attemptsFlushInterval = 4096

// searchWorker owns one arithmetic progression of candidate nonces:
// start, start+stride, start+2*stride, ... up to maxNonce.
type searchWorker struct {
	start    uint64
	stride   uint64
	target   uint64
	maxNonce uint64
	initial  []byte // shared read-only across workers

	out      *outcome
	attempts *atomic.Uint64
}

// run drives the worker until the shared outcome turns terminal, this worker
// finds a satisfying nonce, or its progression passes maxNonce. Exhausting
// the progression only ends this worker; the search as a whole is exhausted
// once every worker has returned without a find.
func (w *searchWorker) run() {
	// Candidate layout: big-endian nonce followed by the input digest.
	// Only the first NonceSize bytes change between attempts.
	buf := make([]byte, NonceSize+HashSize)
	copy(buf[NonceSize:], w.initial)

	nonce := w.start
	var local, flushed uint64
	defer func() {
		w.attempts.Add(local - flushed)
	}()

	for {
		if w.out.done() {
			return
		}
		if nonce > w.maxNonce {
			return
		}

		binary.BigEndian.PutUint64(buf[:NonceSize], nonce)
		first := sha512.Sum512(buf)
		second := sha512.Sum512(first[:])
		local++
		if local-flushed >= attemptsFlushInterval {
			w.attempts.Add(local - flushed)
			flushed = local
		}

		if binary.BigEndian.Uint64(second[:NonceSize]) <= w.target {
			w.out.trySet(outcomeFound, nonce)
			return
		}

		next := nonce + w.stride
		if next < nonce {
			// Wrapped past 2^64; the progression is exhausted.
			return
		}
		nonce = next
	}
}
