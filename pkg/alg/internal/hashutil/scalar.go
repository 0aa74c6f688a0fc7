package hashutil

import (
	"unsafe"

	"github.com/twmb/murmur3"
)

// Scalar is the set of fixed-width fundamental types that can be hashed by
// their in-memory bit pattern.
type Scalar interface {
	~bool |
		~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint | ~uintptr |
		~float32 | ~float64
}

// HashScalar hashes the sizeof(T) bytes that make up v.
//
// The bytes are taken in host order, so the digest of a multi-byte scalar
// is only portable between hosts of the same endianness.
func HashScalar[T Scalar](v T, seed uint32) uint32 {
	return Sum32(scalarBytes(&v), seed)
}

// HashSlice hashes the contiguous backing array of vs, len(vs)*sizeof(T) bytes.
func HashSlice[T Scalar](vs []T, seed uint32) uint32 {
	return Sum32(sliceBytes(vs), seed)
}

// HashString hashes the bytes of s without copying them.
func HashString(s string, seed uint32) uint32 {
	return murmur3.SeedStringSum32(seed, s)
}

func scalarBytes[T Scalar](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

func sliceBytes[T Scalar](vs []T) []byte {
	if len(vs) == 0 {
		return nil
	}

	var zero T

	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(vs))), len(vs)*int(unsafe.Sizeof(zero)))
}
