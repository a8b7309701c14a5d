package pow

import "math"

const (
	// DefaultNonceTrialsPerByte is the network-wide amount of work demanded
	// per byte of payload. Changing it breaks interoperability: proofs
	// computed with a different value will not verify elsewhere.
	DefaultNonceTrialsPerByte = 1000

	// DefaultExtraBytes is added to the payload length when deriving the
	// target, so that very short messages still require meaningful work.
	DefaultExtraBytes = 1000
)

// Verify reports whether nonce is a valid proof of work for initialHash at
// the given target. It recomputes the double hash an independent verifier
// would and never reports true for a digest of the wrong length.
func Verify(nonce, target uint64, initialHash []byte) bool {
	if len(initialHash) != HashSize {
		return false
	}
	return trialValue(DoubleSHA512(EncodeCandidate(nonce, initialHash))) <= target
}

// CalculateTarget derives the difficulty target for a payload.
// payloadLength includes the width of the nonce field; ttl is the remaining
// lifetime of the message in seconds. The float conversions mirror the
// reference protocol arithmetic, which divides before truncating back to an
// integer.
func CalculateTarget(payloadLength, ttl, nonceTrials, extraBytes uint64) uint64 {
	return math.MaxUint64 / (nonceTrials * (payloadLength + extraBytes +
		uint64(float64(ttl)*(float64(payloadLength)+float64(extraBytes))/
			math.Pow(2, 16))))
}
