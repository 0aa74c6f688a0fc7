package hll

import "github.com/Sumatoshi-tech/cardinality/pkg/alg/internal/hashutil"

// seed is the MurmurHash3 seed used for every insertion.
const seed = 0

// Scalar is the set of fixed-width numeric types accepted by [AddScalar]
// and [AddSlice].
type Scalar = hashutil.Scalar

// Add inserts data into the sketch by hashing its bytes.
func (s *Sketch) Add(data []byte) {
	s.AddHash(hashutil.Sum32(data, seed))
}

// AddString inserts the bytes of str without copying them.
func (s *Sketch) AddString(str string) {
	s.AddHash(hashutil.HashString(str, seed))
}

// AddScalar inserts a single scalar value, hashed by its bit pattern.
func AddScalar[T Scalar](s *Sketch, v T) {
	s.AddHash(hashutil.HashScalar(v, seed))
}

// AddSlice inserts vs as one element, hashing its contiguous backing array.
// Two slices are the same element exactly when their bytes are equal.
func AddSlice[T Scalar](s *Sketch, vs []T) {
	s.AddHash(hashutil.HashSlice(vs, seed))
}
