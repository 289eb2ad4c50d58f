package pcm

import (
	"errors"
	"fmt"
)

// ErrInvalidFormat is returned when a PCM format can't be wrapped.
var ErrInvalidFormat = errors.New("invalid PCM format")

// channel assignment codes, indexed by channel count - 1.
// the low nibble is the sampling frequency code of 48 kHz.
var channelCodes = [8]byte{
	0x11, // mono
	0x31, // stereo
	0x41, // 3/0
	0x71, // 2/2
	0x81, // 3/2
	0x91, // 3/2+lfe
	0xA1, // 3/4
	0xB1, // 3/4+lfe
}

// Format is the format of a PCM stream.
type Format struct {
	ChannelCount  int
	SampleRate    int
	BitsPerSample int
}

// Validate checks whether the format can be wrapped.
func (f Format) Validate() error {
	if f.ChannelCount < 1 || f.ChannelCount > len(channelCodes) {
		return fmt.Errorf("%w: unsupported channel count %d", ErrInvalidFormat, f.ChannelCount)
	}

	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: invalid sample rate %d", ErrInvalidFormat, f.SampleRate)
	}

	switch f.BitsPerSample {
	case 16, 20, 24:
	default:
		return fmt.Errorf("%w: unsupported bits per sample %d", ErrInvalidFormat, f.BitsPerSample)
	}

	if bs := f.BlockSize(); bs <= 0 || bs > 0xFFFF {
		return fmt.Errorf("%w: block size %d out of range", ErrInvalidFormat, bs)
	}

	return nil
}

// BlockSize returns the size of the payload of a block.
// Blocks contain 1/200 s of audio, with channels rounded up to an even count.
func (f Format) BlockSize() int {
	return 2 * ((f.ChannelCount + 1) / 2) * f.SampleRate * f.BitsPerSample / 1600
}

// Header returns the 4-byte header that precedes each block.
func (f Format) Header() [4]byte {
	var h [4]byte

	bs := f.BlockSize()
	h[0] = byte(bs >> 8)
	h[1] = byte(bs)

	h[2] = channelCodes[f.ChannelCount-1]
	switch f.SampleRate {
	case 96000:
		h[2] += 3
	case 192000:
		h[2] += 4
	}

	h[3] = byte(16 * (f.BitsPerSample - 12))

	return h
}
