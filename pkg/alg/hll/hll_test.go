package hll_test

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/cardinality/pkg/alg/hll"
)

const (
	defaultPrecision = uint8(14)
	benchmarkPrec    = uint8(12)
	minPrecision     = uint8(4)
	maxPrecision     = uint8(30)
	belowMinPrec     = uint8(3)
	aboveMaxPrec     = uint8(31)

	// Register counts for known precisions.
	registersP4  = uint64(1 << 4)  // 16.
	registersP12 = uint64(1 << 12) // 4096.
	registersP14 = uint64(1 << 14) // 16384.

	// Accuracy test parameters.
	accuracyMaxError = 0.03 // 3% relative error.
	sigmaBound       = 3

	// Duplicate count test parameters.
	duplicateCount     = 1000
	duplicateMaxResult = uint64(2) // Allow small HLL noise.

	// Cardinality test sizes.
	cardN100  = 100
	cardN1K   = 1_000
	cardN10K  = 10_000
	cardN100K = 100_000
	cardN1M   = 1_000_000
)

// uint64ToBytes converts a uint64 to an 8-byte big-endian slice.
func uint64ToBytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)

	return buf
}

func newSketch(t *testing.T, precision uint8) *hll.Sketch {
	t.Helper()

	sk, err := hll.New(precision)
	require.NoError(t, err)

	return sk
}

func relativeError(got uint64, want int) float64 {
	return math.Abs(float64(got)-float64(want)) / float64(want)
}

func TestNew_Parameters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		precision  uint8
		wantRegCnt uint64
	}{
		{
			name:       "min_precision_4",
			precision:  minPrecision,
			wantRegCnt: registersP4,
		},
		{
			name:       "benchmark_precision_12",
			precision:  benchmarkPrec,
			wantRegCnt: registersP12,
		},
		{
			name:       "default_precision_14",
			precision:  defaultPrecision,
			wantRegCnt: registersP14,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sk := newSketch(t, tt.precision)
			assert.Equal(t, tt.precision, sk.Precision())
			assert.Equal(t, tt.wantRegCnt, sk.RegisterCount())
			assert.Equal(t, int(tt.wantRegCnt), sk.ZeroRegisters())
		})
	}
}

func TestNew_EdgeCases(t *testing.T) {
	t.Parallel()

	t.Run("below_min_precision_returns_error", func(t *testing.T) {
		t.Parallel()

		_, err := hll.New(belowMinPrec)
		assert.ErrorIs(t, err, hll.ErrPrecisionOutOfRange)
	})

	t.Run("above_max_precision_returns_error", func(t *testing.T) {
		t.Parallel()

		_, err := hll.New(aboveMaxPrec)
		assert.ErrorIs(t, err, hll.ErrPrecisionOutOfRange)
	})

	t.Run("zero_precision_returns_error", func(t *testing.T) {
		t.Parallel()

		_, err := hll.New(0)
		assert.ErrorIs(t, err, hll.ErrPrecisionOutOfRange)
	})

	t.Run("bounds_are_inclusive", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, uint8(hll.MinPrecision), minPrecision)
		assert.Equal(t, uint8(hll.MaxPrecision), maxPrecision)

		_, err := hll.New(hll.MinPrecision)
		require.NoError(t, err)
	})
}

func TestAlpha(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.673, hll.Alpha(4), 1e-12)
	assert.InDelta(t, 0.697, hll.Alpha(5), 1e-12)
	assert.InDelta(t, 0.709, hll.Alpha(6), 1e-12)
	assert.InDelta(t, 0.7213/(1+1.079/4096), hll.Alpha(12), 1e-12)
}

func TestTrailingZeroRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value uint32
		want  uint32
	}{
		{name: "lowest_bit_set", value: 1, want: 0},
		{name: "odd", value: 0xffffffff, want: 0},
		{name: "two", value: 2, want: 1},
		{name: "four", value: 4, want: 2},
		{name: "nibble", value: 0xfffffff0, want: 4},
		{name: "high_bit", value: 0x80000000, want: 31},
		{name: "zero", value: 0, want: 31},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, hll.TrailingZeroRun(tt.value))
		})
	}
}

// halvingRun is the block-halving search the rank function is defined by.
func halvingRun(value uint32) uint32 {
	if value&1 == 1 {
		return 0
	}

	c := uint32(1)

	for _, width := range []uint32{16, 8, 4, 2} {
		if value&(1<<width-1) == 0 {
			value >>= width
			c += width
		}
	}

	return c - value&1
}

func TestTrailingZeroRun_MatchesHalvingSearch(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 4))

	for range cardN10K {
		v := rng.Uint32() << rng.UintN(32)
		require.Equal(t, halvingRun(v), hll.TrailingZeroRun(v), "value=%#08x", v)
	}

	assert.Equal(t, halvingRun(0), hll.TrailingZeroRun(0))
}

func TestAddHash_IndexAndRank(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, minPrecision)

	// Top 4 bits select register 0xA; 8 trailing zeros give rank 9.
	sk.AddHash(0xA0000100)
	// Lower rank in the same register must not overwrite.
	sk.AddHash(0xA0000001)
	// Rank is capped at 32-p+1 for an all-zero tail.
	sk.AddHash(0x30000000)

	regs := hll.Registers(sk)
	assert.Equal(t, uint8(9), regs[0xA])
	assert.Equal(t, uint8(29), regs[0x3])
	assert.Equal(t, int(registersP4)-2, sk.ZeroRegisters())
}

func TestCount_EmptySketch(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, defaultPrecision)

	estimate, correction := sk.Estimate()
	assert.Equal(t, uint64(0), estimate)
	assert.Equal(t, hll.CorrectionSmallRange, correction)
}

func TestAdd_Count_SingleElement(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, defaultPrecision)

	sk.Add([]byte("hello"))

	assert.Equal(t, uint64(1), sk.Count())
}

func TestAdd_Count_DuplicateElements(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, defaultPrecision)

	data := []byte("same-element")

	for range duplicateCount {
		sk.Add(data)
	}

	count := sk.Count()
	assert.LessOrEqual(t, count, duplicateMaxResult,
		"adding same element %d times should produce count <= %d, got %d",
		duplicateCount, duplicateMaxResult, count)
}

func TestDuplicateInsensitivity(t *testing.T) {
	t.Parallel()

	once := newSketch(t, benchmarkPrec)
	many := newSketch(t, benchmarkPrec)

	for i := range cardN1K {
		hll.AddScalar(once, uint64(i))

		for range 5 {
			hll.AddScalar(many, uint64(i))
		}
	}

	assert.True(t, once.Equal(many))
	assert.Equal(t, once.Count(), many.Count())
}

func TestAddVariants_AgreeOnBytes(t *testing.T) {
	t.Parallel()

	viaBytes := newSketch(t, defaultPrecision)
	viaString := newSketch(t, defaultPrecision)
	viaSlice := newSketch(t, defaultPrecision)

	for i := range cardN1K {
		key := fmt.Sprintf("key-%d", i)
		viaBytes.Add([]byte(key))
		viaString.AddString(key)
		hll.AddSlice(viaSlice, []byte(key))
	}

	assert.True(t, viaBytes.Equal(viaString))
	assert.True(t, viaBytes.Equal(viaSlice))
}

func TestAddScalar_NumericTypes(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, defaultPrecision)

	hll.AddScalar(sk, int8(1))
	hll.AddScalar(sk, uint16(2))
	hll.AddScalar(sk, int32(3))
	hll.AddScalar(sk, uint64(4))
	hll.AddScalar(sk, float32(5.5))
	hll.AddScalar(sk, 6.5)
	hll.AddScalar(sk, true)

	// true and int8(1) share the same single-byte bit pattern.
	assert.Equal(t, uint64(6), sk.Count())
}

func TestAddSlice_IsOneElement(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, defaultPrecision)

	for range duplicateCount {
		hll.AddSlice(sk, []int32{1, 2, 3, 4})
	}

	assert.LessOrEqual(t, sk.Count(), duplicateMaxResult)
}

func TestAccuracy_Ranges(t *testing.T) {
	t.Parallel()

	cardinalities := []int{
		cardN100,
		cardN1K,
		cardN10K,
		cardN100K,
		cardN1M,
	}

	for _, n := range cardinalities {
		t.Run(fmt.Sprintf("n_%d", n), func(t *testing.T) {
			t.Parallel()

			sk := newSketch(t, defaultPrecision)

			for i := range n {
				hll.AddScalar(sk, uint64(i))
			}

			count := sk.Count()
			relErr := relativeError(count, n)

			t.Logf("n=%d, count=%d, relError=%.4f%%", n, count, relErr*100)
			assert.LessOrEqual(t, relErr, accuracyMaxError,
				"relative error %.4f exceeds maximum %.4f for n=%d",
				relErr, accuracyMaxError, n)
		})
	}
}

func TestAccuracy_UniformDraws(t *testing.T) {
	t.Parallel()

	const (
		draws    = cardN1M
		maxValue = cardN10K
	)

	sk := newSketch(t, benchmarkPrec)
	rng := rand.New(rand.NewPCG(42, 1024))
	seen := make(map[int32]struct{}, maxValue)

	for range draws {
		v := int32(rng.IntN(maxValue)) + 1
		seen[v] = struct{}{}
		hll.AddScalar(sk, v)
	}

	count := sk.Count()
	relErr := relativeError(count, len(seen))
	bound := sigmaBound * sk.RelativeError()

	t.Logf("distinct=%d, count=%d, relError=%.4f, bound=%.4f", len(seen), count, relErr, bound)
	assert.LessOrEqual(t, relErr, bound)
}

func TestCount_SmallRangeUsesLinearCounting(t *testing.T) {
	t.Parallel()

	const distinct = 5

	sk := newSketch(t, minPrecision)

	for v := int64(1); v <= distinct; v++ {
		hll.AddScalar(sk, v)
	}

	raw := hll.RawEstimate(sk)
	count := sk.Count()

	require.Positive(t, sk.ZeroRegisters())
	assert.LessOrEqual(t, raw, 2.5*float64(registersP4))

	zeros := float64(sk.ZeroRegisters())
	linear := float64(registersP4) * math.Log(float64(registersP4)/zeros)
	assert.Equal(t, uint64(linear), count)

	assert.NotEqual(t, uint64(raw), count)

	_, correction := sk.Estimate()
	assert.Equal(t, hll.CorrectionSmallRange, correction)

	assert.Less(t, math.Abs(float64(count)-distinct), math.Abs(raw-distinct),
		"linear counting (%d) should beat the raw estimate (%.2f)", count, raw)
}

func TestCount_MidRangeKeepsRawEstimate(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, minPrecision)
	hll.SetRegisters(sk, 10)

	// 0.673 * 16^2 / (16 * 2^-10) = 11026.432.
	estimate, correction := sk.Estimate()
	assert.Equal(t, uint64(11026), estimate)
	assert.Equal(t, hll.CorrectionNone, correction)
}

func TestCount_LargeRangeCorrection(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, minPrecision)
	hll.SetRegisters(sk, 24)

	raw := hll.RawEstimate(sk)
	require.Greater(t, raw, float64(1<<32)/30)

	want := -float64(1<<32) * math.Log(1-raw/float64(1<<32))
	assert.Equal(t, uint64(want), sk.Count())
	assert.Equal(t, uint64(184566526), sk.Count())

	_, correction := sk.Estimate()
	assert.Equal(t, hll.CorrectionLargeRange, correction)
}

func TestEstimate_FullSmallRangeKeepsRaw(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, minPrecision)
	hll.SetRegisters(sk, 1)

	// Every register is set, so linear counting is undefined: 0.673 * 16^2 / 8.
	estimate, correction := sk.Estimate()
	assert.Equal(t, uint64(21), estimate)
	assert.Equal(t, hll.CorrectionNone, correction)
}

func TestCorrection_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "none", hll.CorrectionNone.String())
	assert.Equal(t, "small-range", hll.CorrectionSmallRange.String())
	assert.Equal(t, "large-range", hll.CorrectionLargeRange.String())
}

func TestCount_SaturatesAtHashSpace(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, minPrecision)
	hll.SetRegisters(sk, 29)

	assert.Equal(t, uint64(1)<<32, sk.Count())
}

func TestRelativeError(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, benchmarkPrec)
	assert.InDelta(t, 0.01625, sk.RelativeError(), 1e-12)

	// Independent of contents.
	for i := range cardN1K {
		hll.AddScalar(sk, i)
	}

	assert.InDelta(t, 0.01625, sk.RelativeError(), 1e-12)
}

func TestDeterminism(t *testing.T) {
	t.Parallel()

	sk1 := newSketch(t, defaultPrecision)
	sk2 := newSketch(t, defaultPrecision)

	for i := range cardN1K {
		data := uint64ToBytes(uint64(i))
		sk1.Add(data)
		sk2.Add(data)
	}

	assert.Equal(t, sk1.Count(), sk2.Count())
	assert.True(t, sk1.Equal(sk2))
}

func TestRegisters_MonotonicNonDecreasing(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, benchmarkPrec)
	prev := hll.Registers(sk)

	for i := range cardN10K {
		hll.AddScalar(sk, uint64(i%(cardN1K*3)))

		if i%cardN1K != 0 {
			continue
		}

		cur := hll.Registers(sk)
		for j := range cur {
			require.GreaterOrEqual(t, cur[j], prev[j], "register %d decreased", j)
		}

		prev = cur
	}
}

func TestMerge_DisjointSets(t *testing.T) {
	t.Parallel()

	sk1 := newSketch(t, defaultPrecision)
	sk2 := newSketch(t, defaultPrecision)

	half := cardN10K / 2

	// First half goes to sk1.
	for i := range half {
		hll.AddScalar(sk1, uint64(i))
	}

	// Second half goes to sk2.
	for i := half; i < cardN10K; i++ {
		hll.AddScalar(sk2, uint64(i))
	}

	err := sk1.Merge(sk2)
	require.NoError(t, err)

	count := sk1.Count()
	relErr := relativeError(count, cardN10K)

	t.Logf("merged count=%d, expected=%d, relError=%.4f%%", count, cardN10K, relErr*100)
	assert.LessOrEqual(t, relErr, accuracyMaxError,
		"merge error %.4f exceeds maximum %.4f", relErr, accuracyMaxError)
}

func TestMerge_EqualsSingleSketch(t *testing.T) {
	t.Parallel()

	whole := newSketch(t, defaultPrecision)
	left := newSketch(t, defaultPrecision)
	right := newSketch(t, defaultPrecision)

	for i := range cardN10K {
		hll.AddScalar(whole, uint64(i))

		if i%2 == 0 {
			hll.AddScalar(left, uint64(i))
		} else {
			hll.AddScalar(right, uint64(i))
		}
	}

	require.NoError(t, left.Merge(right))
	assert.True(t, whole.Equal(left))
	assert.Equal(t, whole.Count(), left.Count())
}

func TestMerge_OverlappingSets(t *testing.T) {
	t.Parallel()

	sk1 := newSketch(t, defaultPrecision)
	sk2 := newSketch(t, defaultPrecision)

	// sk1 has [0, 1000), sk2 has [500, 1500), overlapping in 500 elements.
	for i := range cardN1K {
		hll.AddScalar(sk1, uint64(i))
	}

	overlap := cardN1K / 2

	for i := overlap; i < cardN1K+overlap; i++ {
		hll.AddScalar(sk2, uint64(i))
	}

	err := sk1.Merge(sk2)
	require.NoError(t, err)

	// Union is [0, 1500) = 1500 elements.
	count := sk1.Count()
	relErr := relativeError(count, cardN1K+overlap)

	t.Logf("overlapping merge count=%d, expected=%d, relError=%.4f%%",
		count, cardN1K+overlap, relErr*100)
	assert.LessOrEqual(t, relErr, accuracyMaxError)
}

func TestMerge_PrecisionMismatch(t *testing.T) {
	t.Parallel()

	sk1 := newSketch(t, defaultPrecision)
	sk2 := newSketch(t, minPrecision)

	hll.AddScalar(sk1, 1)
	before := hll.Registers(sk1)

	err := sk1.Merge(sk2)
	require.ErrorIs(t, err, hll.ErrPrecisionMismatch)
	assert.Equal(t, before, hll.Registers(sk1), "receiver must be untouched")

	_, err = hll.Union(sk1, sk2)
	assert.ErrorIs(t, err, hll.ErrPrecisionMismatch)
}

func TestMerge_EmptySketch(t *testing.T) {
	t.Parallel()

	sk1 := newSketch(t, defaultPrecision)
	sk2 := newSketch(t, defaultPrecision)

	for i := range cardN1K {
		hll.AddScalar(sk1, uint64(i))
	}

	countBefore := sk1.Count()

	err := sk1.Merge(sk2)
	require.NoError(t, err)

	assert.Equal(t, countBefore, sk1.Count())
}

func randomSketch(t *testing.T, rng *rand.Rand, n int) *hll.Sketch {
	t.Helper()

	sk := newSketch(t, benchmarkPrec)

	for range n {
		hll.AddScalar(sk, rng.Uint64())
	}

	return sk
}

func TestMerge_CommutativeAndAssociative(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	a := randomSketch(t, rng, cardN1K)
	b := randomSketch(t, rng, cardN10K)
	c := randomSketch(t, rng, cardN100)

	ab, err := hll.Union(a, b)
	require.NoError(t, err)

	ba, err := hll.Union(b, a)
	require.NoError(t, err)

	assert.True(t, ab.Equal(ba), "union must be commutative")

	abC, err := hll.Union(ab, c)
	require.NoError(t, err)

	bc, err := hll.Union(b, c)
	require.NoError(t, err)

	aBC, err := hll.Union(a, bc)
	require.NoError(t, err)

	assert.True(t, abC.Equal(aBC), "union must be associative")
}

func TestUnion_LeavesOperandsUnmodified(t *testing.T) {
	t.Parallel()

	a := newSketch(t, defaultPrecision)
	b := newSketch(t, defaultPrecision)

	for i := range cardN1K {
		hll.AddScalar(a, uint64(i))
		hll.AddScalar(b, uint64(i+cardN1K))
	}

	aBefore := hll.Registers(a)
	bBefore := hll.Registers(b)

	u, err := hll.Union(a, b)
	require.NoError(t, err)

	assert.Equal(t, aBefore, hll.Registers(a))
	assert.Equal(t, bBefore, hll.Registers(b))
	assert.Greater(t, u.Count(), a.Count())

	// The result owns its registers.
	u.Clear()
	assert.Equal(t, aBefore, hll.Registers(a))
}

func TestNilData(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, defaultPrecision)

	// Must not panic on nil data.
	sk.Add(nil)

	assert.Equal(t, uint64(1), sk.Count())
}

func TestEmptySliceData(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, defaultPrecision)

	// Empty slice should behave identically to nil.
	sk.Add([]byte{})
	sk.Add(nil)
	sk.AddString("")

	assert.Equal(t, uint64(1), sk.Count())
}

func TestClear(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, defaultPrecision)
	fresh := newSketch(t, defaultPrecision)

	for i := range cardN1K {
		sk.Add(uint64ToBytes(uint64(i)))
	}

	assert.Positive(t, sk.Count())

	sk.Clear()

	assert.Equal(t, fresh.Count(), sk.Count())
	assert.True(t, fresh.Equal(sk))
	assert.Equal(t, defaultPrecision, sk.Precision())
	assert.Equal(t, registersP14, sk.RegisterCount())
}

func TestClone(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, defaultPrecision)

	for i := range cardN1K {
		sk.Add(uint64ToBytes(uint64(i)))
	}

	clone := sk.Clone()

	// Clone must have same count.
	assert.Equal(t, sk.Count(), clone.Count())
	assert.Equal(t, sk.Precision(), clone.Precision())

	// Modifying clone must not affect original.
	for i := cardN1K; i < cardN10K; i++ {
		clone.Add(uint64ToBytes(uint64(i)))
	}

	assert.Greater(t, clone.Count(), sk.Count(),
		"clone should have more elements after additional adds")
}

func TestEqual_DifferentPrecision(t *testing.T) {
	t.Parallel()

	assert.False(t, newSketch(t, minPrecision).Equal(newSketch(t, benchmarkPrec)))
}

func TestMemoryUsage_P14(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, defaultPrecision)

	// Registers should be exactly 2^14 = 16384 bytes.
	assert.Len(t, hll.Registers(sk), int(registersP14))
}
