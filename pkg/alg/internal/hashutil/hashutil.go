// Package hashutil provides the 32-bit MurmurHash3 (x86_32 variant) used to
// feed the HyperLogLog estimator.
//
// Digests are bit-exact with the reference implementation by Austin
// Appleby, so register placement is stable across releases and platforms
// for the same input bytes.
package hashutil

import "github.com/twmb/murmur3"

// Sum32 returns the MurmurHash3 x86_32 digest of data with the given seed.
// A nil or empty slice is valid input.
func Sum32(data []byte, seed uint32) uint32 {
	return murmur3.SeedSum32(seed, data)
}
