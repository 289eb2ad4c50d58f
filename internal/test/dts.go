package test

import "bytes"

// DTSCoreFrame returns a DTS core frame of the given size.
// pcmr selects the source resolution. The payload is filled with 0x11.
func DTSCoreFrame(size int, pcmr byte) []byte {
	buf := bytes.Repeat([]byte{0x11}, size)
	copy(buf, []byte{0x7F, 0xFE, 0x80, 0x01})
	v := size - 1
	buf[4] = 0x00
	buf[5] = byte(v>>12) & 0x03
	buf[6] = byte(v >> 4)
	buf[7] = byte(v&0x0F) << 4
	buf[11] = (pcmr >> 2) & 0x01
	buf[12] = (pcmr & 0x03) << 6
	return buf
}
