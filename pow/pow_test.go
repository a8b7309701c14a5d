package pow

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

func zeroDigest() []byte {
	return make([]byte, HashSize)
}

func TestSearchBadInput(t *testing.T) {
	tests := []struct {
		name     string
		poolSize int
		digest   []byte
	}{
		{"zero pool size", 0, zeroDigest()},
		{"negative pool size", -1, zeroDigest()},
		{"pool size above maximum", MaxPoolSize + 1, zeroDigest()},
		{"short digest", 4, make([]byte, HashSize-1)},
		{"long digest", 4, make([]byte, HashSize+1)},
		{"nil digest", 4, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Search(tt.poolSize, math.MaxUint64, tt.digest, 0)
			if !errors.Is(err, ErrBadInput) {
				t.Errorf("Expected ErrBadInput, got %v", err)
			}
		})
	}
}

func TestSearchTrivialTarget(t *testing.T) {
	// A maximal target is satisfied by every candidate, so each worker
	// succeeds on its first attempt and nonce 0 is among the winners.
	nonce, err := Search(4, math.MaxUint64, zeroDigest(), 1000)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if nonce >= 4 {
		t.Errorf("Expected a first-attempt nonce below the pool size, got %d", nonce)
	}
	if !Verify(nonce, math.MaxUint64, zeroDigest()) {
		t.Errorf("Returned nonce %d does not verify", nonce)
	}
}

func TestSearchOverflow(t *testing.T) {
	// Target 0 is unsatisfiable for any realistic digest, and a nonce bound
	// of 1 exhausts the space after two attempts. Must return ErrOverflow
	// rather than hang.
	done := make(chan error, 1)
	go func() {
		_, err := Search(4, 0, zeroDigest(), 1)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrOverflow) {
			t.Errorf("Expected ErrOverflow, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Search did not terminate on an exhausted nonce space")
	}
}

func TestSearchResultVerifies(t *testing.T) {
	// A target around 2^64/4096 succeeds after ~4k attempts, enough to
	// exercise the full worker loop without slowing the suite down.
	digest := zeroDigest()
	digest[0] = 0xA5

	target := uint64(math.MaxUint64 / 4096)
	for _, poolSize := range []int{1, 3, 8} {
		nonce, err := Search(poolSize, target, digest, 0)
		if err != nil {
			t.Fatalf("Search with pool size %d failed: %v", poolSize, err)
		}
		if !Verify(nonce, target, digest) {
			t.Errorf("Nonce %d from pool size %d does not satisfy the target", nonce, poolSize)
		}
	}
}

func TestSearchDetailedCountsAttempts(t *testing.T) {
	var attempts atomic.Uint64

	res, err := SearchDetailed(2, math.MaxUint64/4096, zeroDigest(), 0, &attempts)
	if err != nil {
		t.Fatalf("SearchDetailed failed: %v", err)
	}
	if res.Hashes == 0 {
		t.Error("Expected a non-zero hash count")
	}
	if attempts.Load() != res.Hashes {
		t.Errorf("Caller counter %d disagrees with Result.Hashes %d", attempts.Load(), res.Hashes)
	}
	if res.Elapsed <= 0 {
		t.Error("Expected a positive elapsed duration")
	}
}

func TestSearchDefaultMaxNonce(t *testing.T) {
	// maxNonce 0 selects the safe-integer bound; a found nonce must be at or
	// below it.
	nonce, err := Search(2, math.MaxUint64, zeroDigest(), 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if nonce > MaxSafeNonce {
		t.Errorf("Nonce %d exceeds the default bound %d", nonce, uint64(MaxSafeNonce))
	}
}

// TestStridePartition checks the partitioning argument directly: the worker
// progressions for a pool of N cover every nonce exactly once.
func TestStridePartition(t *testing.T) {
	const poolSize = 4
	const limit = 10000

	seen := make(map[uint64]int)
	for k := uint64(0); k < poolSize; k++ {
		for nonce := k; nonce < limit; nonce += poolSize {
			seen[nonce]++
		}
	}

	if len(seen) != limit {
		t.Fatalf("Expected %d distinct nonces, got %d", limit, len(seen))
	}
	for nonce, count := range seen {
		if count != 1 {
			t.Errorf("Nonce %d visited %d times", nonce, count)
		}
	}
}

func TestSearchAsyncDeliversOnce(t *testing.T) {
	type delivery struct {
		nonce uint64
		err   error
	}
	results := make(chan delivery, 2)

	digest := zeroDigest()
	SearchAsync(4, math.MaxUint64, digest, 1000, func(nonce uint64, err error) {
		results <- delivery{nonce, err}
	})

	// The engine copies the digest, so trashing the caller's buffer after
	// submission must not affect the search.
	for i := range digest {
		digest[i] = 0xFF
	}

	select {
	case d := <-results:
		if d.err != nil {
			t.Fatalf("Async search failed: %v", d.err)
		}
		if !Verify(d.nonce, math.MaxUint64, zeroDigest()) {
			t.Errorf("Async nonce %d does not verify against the submitted digest", d.nonce)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Async search never delivered a result")
	}

	select {
	case <-results:
		t.Fatal("Callback was invoked more than once")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSearchAsyncDeliversErrors(t *testing.T) {
	errs := make(chan error, 1)
	SearchAsync(0, math.MaxUint64, zeroDigest(), 0, func(nonce uint64, err error) {
		errs <- err
	})

	select {
	case err := <-errs:
		if !errors.Is(err, ErrBadInput) {
			t.Errorf("Expected ErrBadInput through the callback, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Async search never delivered the validation error")
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, StatusOK},
		{"overflow", ErrOverflow, StatusOverflow},
		{"bad input", ErrBadInput, StatusBadInput},
		{"wrapped bad input", errors.New("x"), StatusInternal},
		{"internal", ErrInternal, StatusInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestVerifyRejects(t *testing.T) {
	if Verify(0, 0, zeroDigest()) {
		t.Error("Target 0 should be unsatisfiable for a zero digest")
	}
	if Verify(0, math.MaxUint64, make([]byte, HashSize-1)) {
		t.Error("Verify should reject a short digest")
	}
}

func TestCalculateTarget(t *testing.T) {
	base := CalculateTarget(1000, 0, DefaultNonceTrialsPerByte, DefaultExtraBytes)

	// More payload, longer TTL, or more trials all demand more work, so the
	// target must shrink.
	if longer := CalculateTarget(5000, 0, DefaultNonceTrialsPerByte, DefaultExtraBytes); longer >= base {
		t.Errorf("Larger payload should lower the target: %d >= %d", longer, base)
	}
	if aged := CalculateTarget(1000, 86400, DefaultNonceTrialsPerByte, DefaultExtraBytes); aged >= base {
		t.Errorf("Longer TTL should lower the target: %d >= %d", aged, base)
	}
	if harder := CalculateTarget(1000, 0, 2*DefaultNonceTrialsPerByte, DefaultExtraBytes); harder >= base {
		t.Errorf("More nonce trials should lower the target: %d >= %d", harder, base)
	}
}

func BenchmarkSearch(b *testing.B) {
	digest := zeroDigest()
	target := uint64(math.MaxUint64 / 100000)

	for i := 0; i < b.N; i++ {
		digest[0] = byte(i)
		if _, err := Search(4, target, digest, 0); err != nil {
			b.Fatal(err)
		}
	}
}
