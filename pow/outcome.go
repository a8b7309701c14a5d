package pow

import (
	"sync"
	"sync/atomic"
)

// outcomeKind enumerates the terminal states of a search.
type outcomeKind int

const (
	outcomePending outcomeKind = iota
	outcomeFound
	outcomeOverflow
	outcomeInternal
)

// outcome is the write-once result shared by all workers of one search.
// The first trySet wins; later calls are discarded. done is a lock-free
// read of the terminal flag, polled by every worker on every iteration, and
// may race benignly with a concurrent trySet: a worker that reads a stale
// false performs at most one more hash before observing the flag.
type outcome struct {
	terminal atomic.Bool

	mu    sync.Mutex
	kind  outcomeKind
	nonce uint64
}

func (o *outcome) done() bool {
	return o.terminal.Load()
}

// trySet records the terminal state if none has been recorded yet and
// reports whether this caller won the write.
func (o *outcome) trySet(kind outcomeKind, nonce uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.kind != outcomePending {
		return false
	}
	o.kind = kind
	o.nonce = nonce
	o.terminal.Store(true)
	return true
}

// result reads the final state once all writers have stopped.
func (o *outcome) result() (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.kind {
	case outcomeFound:
		return o.nonce, nil
	case outcomeOverflow:
		return 0, ErrOverflow
	default:
		// A search that ends with no recorded outcome did not run to
		// completion; report it as an infrastructure failure.
		return 0, ErrInternal
	}
}
