package hll

import "math/bits"

// zeroDigestRun is the run reported for an all-zero digest. Callers cap the
// run at 32-p, so it never reaches a register.
const zeroDigestRun = hashBits - 1

// trailingZeroRun returns the number of trailing zero bits of v, which is 0
// whenever the lowest bit is set.
func trailingZeroRun(v uint32) uint32 {
	if v == 0 {
		return zeroDigestRun
	}

	return uint32(bits.TrailingZeros32(v))
}
