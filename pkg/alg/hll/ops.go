package hll

// Precision returns the configured precision of the sketch.
func (s *Sketch) Precision() uint8 {
	return s.precision
}

// RegisterCount returns the number of registers (2^p).
func (s *Sketch) RegisterCount() uint64 {
	return uint64(len(s.registers))
}

// ZeroRegisters returns the number of registers that have never been set.
func (s *Sketch) ZeroRegisters() int {
	return countZeroRegisters(s.registers)
}

// Merge combines another sketch into this one by taking the element-wise
// maximum of registers. Both sketches must have the same precision; on
// mismatch the receiver is left unchanged.
func (s *Sketch) Merge(other *Sketch) error {
	if s.precision != other.precision {
		return ErrPrecisionMismatch
	}

	for i, val := range other.registers {
		if val > s.registers[i] {
			s.registers[i] = val
		}
	}

	return nil
}

// Union returns a new sketch holding the union of a and b. Neither operand
// is modified and the result shares no storage with them.
func Union(a, b *Sketch) (*Sketch, error) {
	if a.precision != b.precision {
		return nil, ErrPrecisionMismatch
	}

	out := a.Clone()

	err := out.Merge(b)
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Clone creates a deep copy of the sketch.
func (s *Sketch) Clone() *Sketch {
	regs := make([]uint8, len(s.registers))
	copy(regs, s.registers)

	return &Sketch{
		registers:     regs,
		alphaMSquared: s.alphaMSquared,
		precision:     s.precision,
		indexShift:    s.indexShift,
	}
}

// Equal reports whether both sketches have the same precision and identical registers.
func (s *Sketch) Equal(other *Sketch) bool {
	if s.precision != other.precision {
		return false
	}

	for i, val := range s.registers {
		if other.registers[i] != val {
			return false
		}
	}

	return true
}
