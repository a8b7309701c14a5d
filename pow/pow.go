package pow

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// HashSize is the length of the input digest and of the SHA-512 output.
	HashSize = 64

	// NonceSize is the width of the serialized nonce.
	NonceSize = 8

	// MaxPoolSize is the largest accepted worker pool size.
	MaxPoolSize = 1024

	// MaxSafeNonce is the default nonce bound, the largest integer exactly
	// representable in a 64-bit float. Callers handing nonces to hosts with
	// float-based numerics need results to survive the round trip.
	MaxSafeNonce = 1<<53 - 1
)

var (
	// ErrBadInput reports a caller-contract violation. No work was started.
	ErrBadInput = errors.New("pow: bad input")

	// ErrOverflow reports that the nonce space up to the configured bound was
	// exhausted without finding a satisfying nonce.
	ErrOverflow = errors.New("pow: nonce space exhausted")

	// ErrInternal reports an infrastructure failure unrelated to the inputs.
	ErrInternal = errors.New("pow: internal error")
)

// Status codes used at transport boundaries.
const (
	StatusOK       = 0
	StatusOverflow = -1
	StatusInternal = -2
	StatusBadInput = -3
)

// StatusOf maps a Search error to its transport status code.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrOverflow):
		return StatusOverflow
	case errors.Is(err, ErrBadInput):
		return StatusBadInput
	default:
		return StatusInternal
	}
}

// Result carries the outcome of a successful search along with the total
// number of hash attempts across all workers and the wall-clock duration.
type Result struct {
	Nonce   uint64
	Hashes  uint64
	Elapsed time.Duration
}

// Search finds a nonce for initialHash that satisfies target, using poolSize
// parallel workers. It blocks until every worker has stopped.
//
// poolSize must be in [1, MaxPoolSize] and initialHash must be exactly
// HashSize bytes; otherwise Search returns ErrBadInput without starting any
// work. A maxNonce of 0 selects MaxSafeNonce. If no nonce at or below
// maxNonce satisfies the target, Search returns ErrOverflow.
func Search(poolSize int, target uint64, initialHash []byte, maxNonce uint64) (uint64, error) {
	res, err := SearchDetailed(poolSize, target, initialHash, maxNonce, nil)
	return res.Nonce, err
}

// SearchDetailed is Search with statistics. If attempts is non-nil, workers
// periodically add their hash counts to it, so a concurrent reader can derive
// a live hash rate; the final Result.Hashes is exact either way.
func SearchDetailed(
	poolSize int,
	target uint64,
	initialHash []byte,
	maxNonce uint64,
	attempts *atomic.Uint64,
) (Result, error) {
	if poolSize < 1 || poolSize > MaxPoolSize {
		return Result{}, fmt.Errorf("%w: pool size %d not in [1, %d]", ErrBadInput, poolSize, MaxPoolSize)
	}
	if len(initialHash) != HashSize {
		return Result{}, fmt.Errorf("%w: initial hash is %d bytes, want %d", ErrBadInput, len(initialHash), HashSize)
	}
	if maxNonce == 0 {
		maxNonce = MaxSafeNonce
	}

	counter := attempts
	if counter == nil {
		counter = new(atomic.Uint64)
	}

	start := time.Now()
	out := new(outcome)

	var wg sync.WaitGroup
	for k := 0; k < poolSize; k++ {
		w := &searchWorker{
			start:    uint64(k),
			stride:   uint64(poolSize),
			target:   target,
			maxNonce: maxNonce,
			initial:  initialHash,
			out:      out,
			attempts: counter,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run()
		}()
	}
	wg.Wait()

	// Every worker exhausted its progression without a find.
	out.trySet(outcomeOverflow, 0)

	nonce, err := out.result()
	return Result{Nonce: nonce, Hashes: counter.Load(), Elapsed: time.Since(start)}, err
}
