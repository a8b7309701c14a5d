package pow

import (
	"sync"
	"testing"
)

func TestOutcomeStartsPending(t *testing.T) {
	out := new(outcome)

	if out.done() {
		t.Error("Fresh outcome should not be terminal")
	}

	if _, err := out.result(); err != ErrInternal {
		t.Errorf("Expected ErrInternal for an unset outcome, got %v", err)
	}
}

func TestOutcomeFirstWriteWins(t *testing.T) {
	out := new(outcome)

	if !out.trySet(outcomeFound, 42) {
		t.Fatal("First trySet should win")
	}
	if out.trySet(outcomeOverflow, 0) {
		t.Error("Second trySet should be discarded")
	}
	if out.trySet(outcomeFound, 99) {
		t.Error("Third trySet should be discarded")
	}

	if !out.done() {
		t.Error("Outcome should be terminal after a successful trySet")
	}

	nonce, err := out.result()
	if err != nil {
		t.Fatalf("result returned error: %v", err)
	}
	if nonce != 42 {
		t.Errorf("Expected nonce 42 from the winning write, got %d", nonce)
	}
}

func TestOutcomeOverflow(t *testing.T) {
	out := new(outcome)
	out.trySet(outcomeOverflow, 0)

	if _, err := out.result(); err != ErrOverflow {
		t.Errorf("Expected ErrOverflow, got %v", err)
	}
}

// TestOutcomeSingleWriter races many goroutines at one outcome and checks
// that exactly one write is observed, and that the stored nonce belongs to
// the goroutine whose trySet returned true.
func TestOutcomeSingleWriter(t *testing.T) {
	const writers = 128

	out := new(outcome)
	winners := make(chan uint64, writers)

	var start sync.WaitGroup
	start.Add(1)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(nonce uint64) {
			defer wg.Done()
			start.Wait()
			if out.trySet(outcomeFound, nonce) {
				winners <- nonce
			}
		}(uint64(i))
	}

	start.Done()
	wg.Wait()
	close(winners)

	var won []uint64
	for n := range winners {
		won = append(won, n)
	}
	if len(won) != 1 {
		t.Fatalf("Expected exactly one winning write, got %d", len(won))
	}

	nonce, err := out.result()
	if err != nil {
		t.Fatalf("result returned error: %v", err)
	}
	if nonce != won[0] {
		t.Errorf("Stored nonce %d does not match winner %d", nonce, won[0])
	}
}
