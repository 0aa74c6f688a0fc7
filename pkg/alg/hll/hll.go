// Package hll provides a HyperLogLog cardinality estimator.
//
// HyperLogLog estimates the number of distinct elements in a multiset with a
// standard error of 1.04/sqrt(2^p) using a dense array of 2^p one-byte
// registers (4 KiB for precision 12). Elements are hashed with the 32-bit
// MurmurHash3 (seed 0); the top p bits of the digest select a register and
// the trailing zero run of the digest gives the rank stored in it.
//
// The estimate is the classic Flajolet et al. (2007) harmonic mean with
// linear counting for the small range and the 32-bit hash-collision
// correction for the large range.
//
// A Sketch is not safe for concurrent use. Parallel producers should each
// own a Sketch and combine them with [Sketch.Merge] or [Union].
package hll

import (
	"errors"
	"math"
)

const (
	// MinPrecision is the minimum allowed precision (2^4 = 16 registers).
	MinPrecision = 4

	// MaxPrecision is the maximum allowed precision (2^30 registers).
	MaxPrecision = 30

	// hashBits is the total number of bits in the hash output.
	hashBits = 32

	// registerCount16 and friends select the literal alpha constants.
	registerCount16 = 16
	registerCount32 = 32
	registerCount64 = 64

	// alpha16 is the alpha constant for 2^4 = 16 registers.
	alpha16 = 0.673

	// alpha32 is the alpha constant for 2^5 = 32 registers.
	alpha32 = 0.697

	// alpha64 is the alpha constant for 2^6 = 64 registers.
	alpha64 = 0.709

	// alphaGenericNumerator is the numerator in the generic alpha formula.
	alphaGenericNumerator = 0.7213

	// alphaGenericDenominatorCoeff is the coefficient in the generic alpha denominator.
	alphaGenericDenominatorCoeff = 1.079

	// smallRangeFactor bounds the raw estimate below which linear counting is tried.
	smallRangeFactor = 2.5

	// largeRangeDivisor sets the large-range threshold at 2^32/30.
	largeRangeDivisor = 30

	// standardErrorCoeff is the HyperLogLog standard error coefficient.
	standardErrorCoeff = 1.04
)

// hashSpace is 2^32, the number of distinct digests.
const hashSpace = float64(1 << hashBits)

var (
	// ErrPrecisionOutOfRange is returned when precision is not in [4, 30].
	ErrPrecisionOutOfRange = errors.New("hll: precision must be in [4, 30]")

	// ErrPrecisionMismatch is returned when merging sketches with different precisions.
	ErrPrecisionMismatch = errors.New("hll: cannot merge sketches with different precisions")
)

// Sketch is a HyperLogLog cardinality estimator.
type Sketch struct {
	registers     []uint8
	alphaMSquared float64
	precision     uint8
	indexShift    uint8
}

// New creates a HyperLogLog sketch with the given precision p.
// Precision must be in [4, 30]. The sketch allocates 2^p registers (bytes).
func New(precision uint8) (*Sketch, error) {
	if precision < MinPrecision || precision > MaxPrecision {
		return nil, ErrPrecisionOutOfRange
	}

	regCount := uint64(1) << precision
	m := float64(regCount)

	return &Sketch{
		registers:     make([]uint8, regCount),
		alphaMSquared: alpha(regCount) * m * m,
		precision:     precision,
		indexShift:    hashBits - precision,
	}, nil
}

// AddHash records an already computed 32-bit digest.
//
// The top p bits select the register. The rank is one more than the
// trailing zero run of the digest, capped at 32-p, so it never depends on
// the index bits.
func (s *Sketch) AddHash(digest uint32) {
	idx := digest >> s.indexShift
	rank := min(uint32(s.indexShift), trailingZeroRun(digest)) + 1

	if uint8(rank) > s.registers[idx] {
		s.registers[idx] = uint8(rank)
	}
}

// Correction identifies the range correction applied to an estimate.
type Correction uint8

const (
	// CorrectionNone means the raw harmonic-mean estimate was used.
	CorrectionNone Correction = iota
	// CorrectionSmallRange means linear counting over empty registers was used.
	CorrectionSmallRange
	// CorrectionLargeRange means the 32-bit hash-collision correction was used.
	CorrectionLargeRange
)

// String returns a short name for the correction.
func (c Correction) String() string {
	switch c {
	case CorrectionSmallRange:
		return "small-range"
	case CorrectionLargeRange:
		return "large-range"
	default:
		return "none"
	}
}

// Count returns the estimated number of distinct elements that have been
// added to the sketch.
func (s *Sketch) Count() uint64 {
	estimate, _ := s.Estimate()

	return estimate
}

// Estimate returns the same value as Count together with the range
// correction that produced it.
func (s *Sketch) Estimate() (uint64, Correction) {
	m := float64(len(s.registers))
	estimate := s.alphaMSquared / computeHarmonicSum(s.registers)
	correction := CorrectionNone

	switch {
	case estimate <= smallRangeFactor*m:
		// Linear counting is undefined without empty registers; keep the raw value.
		zeros := countZeroRegisters(s.registers)
		if zeros > 0 {
			estimate = linearCounting(m, float64(zeros))
			correction = CorrectionSmallRange
		}
	case estimate > hashSpace/largeRangeDivisor:
		estimate = largeRangeCorrection(estimate)
		correction = CorrectionLargeRange
	}

	return uint64(estimate), correction
}

// RelativeError returns the theoretical standard error 1.04/sqrt(2^p).
// It depends only on the precision, not on the register contents.
func (s *Sketch) RelativeError() float64 {
	return standardErrorCoeff / math.Sqrt(float64(len(s.registers)))
}

// Clear zeroes all registers without reallocating them.
func (s *Sketch) Clear() {
	clear(s.registers)
}

// linearCounting is the m*ln(m/V) estimate over V empty registers.
func linearCounting(m, zeros float64) float64 {
	return m * math.Log(m/zeros)
}

// largeRangeCorrection compensates for digest collisions near the 2^32
// limit. Estimates at or beyond the hash space saturate at 2^32.
func largeRangeCorrection(estimate float64) float64 {
	if estimate >= hashSpace {
		return hashSpace
	}

	return -hashSpace * math.Log(1-estimate/hashSpace)
}

// countZeroRegisters counts registers that are still at zero.
func countZeroRegisters(registers []uint8) int {
	count := 0

	for _, val := range registers {
		if val == 0 {
			count++
		}
	}

	return count
}

// computeHarmonicSum computes the sum of 2^(-M[j]) for all registers.
func computeHarmonicSum(registers []uint8) float64 {
	sum := 0.0

	for _, val := range registers {
		sum += math.Ldexp(1, -int(val))
	}

	return sum
}

// alpha returns the alpha_m bias-correction constant for m registers.
func alpha(regCount uint64) float64 {
	switch regCount {
	case registerCount16:
		return alpha16
	case registerCount32:
		return alpha32
	case registerCount64:
		return alpha64
	default:
		return alphaGenericNumerator / (1 + alphaGenericDenominatorCoeff/float64(regCount))
	}
}
