package hll

import "slices"

// TrailingZeroRun exposes the rank helper for tests.
var TrailingZeroRun = trailingZeroRun

// Registers returns a copy of the sketch registers.
func Registers(s *Sketch) []uint8 {
	return slices.Clone(s.registers)
}

// SetRegisters overwrites every register with val.
func SetRegisters(s *Sketch, val uint8) {
	for i := range s.registers {
		s.registers[i] = val
	}
}

// RawEstimate returns the uncorrected harmonic-mean estimate.
func RawEstimate(s *Sketch) float64 {
	return s.alphaMSquared / computeHarmonicSum(s.registers)
}

// Alpha exposes the bias-correction constant for precision p.
func Alpha(precision uint8) float64 {
	return alpha(uint64(1) << precision)
}
