package pow

// SearchAsync runs Search off the caller's goroutine and delivers the
// outcome through done, which is invoked exactly once: either with a valid
// nonce and a nil error, or with the error the synchronous search would have
// returned. The initial hash is copied before SearchAsync returns, so the
// caller may reuse its buffer immediately.
func SearchAsync(poolSize int, target uint64, initialHash []byte, maxNonce uint64, done func(nonce uint64, err error)) {
	if done == nil {
		panic("pow: SearchAsync called with nil callback")
	}

	hashCopy := make([]byte, len(initialHash))
	copy(hashCopy, initialHash)

	go func() {
		nonce, err := Search(poolSize, target, hashCopy, maxNonce)
		done(nonce, err)
	}()
}
