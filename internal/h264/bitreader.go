package h264

// bitReader reads bits from a buffer, most significant bit first.
// Once the buffer is exhausted, it fails and every following bit is zero.
type bitReader struct {
	buf    []byte
	pos    int
	failed bool
}

func (r *bitReader) readBit() uint32 {
	if r.failed {
		return 0
	}

	if r.pos >= len(r.buf)*8 {
		r.failed = true
		return 0
	}

	b := uint32(r.buf[r.pos>>3]>>(7-r.pos&7)) & 0x01
	r.pos++

	return b
}

// readBits reads n bits. When the buffer ends in the middle,
// the available bits are returned in the high positions.
func (r *bitReader) readBits(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v = (v << 1) | r.readBit()
	}
	return v
}

func (r *bitReader) readFlag() bool {
	return r.readBit() == 1
}

// readUE reads an unsigned Exp-Golomb code.
func (r *bitReader) readUE() uint32 {
	leadingZeros := 0

	for {
		b := r.readBit()
		if r.failed {
			return 0
		}

		if b == 1 {
			break
		}

		leadingZeros++
		if leadingZeros > 31 {
			r.failed = true
			return 0
		}
	}

	return (1 << leadingZeros) - 1 + r.readBits(leadingZeros)
}

// readSE reads a signed Exp-Golomb code.
func (r *bitReader) readSE() int32 {
	k := r.readUE()
	if (k & 0x01) != 0 {
		return int32((k + 1) / 2)
	}
	return -int32(k / 2)
}
