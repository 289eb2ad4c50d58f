// Package flowparser contains a buffered re-framer for byte streams
// that carry no out-of-band framing information.
package flowparser

import (
	"errors"
	"io"
)

// DefaultBufferSize is the default capacity of a Buffer.
const DefaultBufferSize = 600000

var (
	// ErrZeroFrame is returned when an analyzer resolves a frame of zero length.
	ErrZeroFrame = errors.New("packet size cannot be zero")

	// ErrBufferFull is returned when incoming data doesn't fit into the buffer.
	ErrBufferFull = errors.New("frame buffer is full")
)

// Frame is a frame found by an Analyzer.
type Frame struct {
	// size of the frame in bytes.
	Size int

	// whether the frame must be dropped instead of being forwarded.
	Discard bool
}

// Analyzer contains the protocol-specific part of a Buffer.
type Analyzer interface {
	// AnalyzeFrame is called with the unconsumed part of the buffer when no
	// frame is being streamed. buf is always longer than Buffer.Needed.
	// It returns false when more data is needed to take a decision.
	AnalyzeFrame(buf []byte) (Frame, bool)

	// BeforeFrame is called once a frame has been found,
	// before its bytes are forwarded.
	BeforeFrame(w io.Writer, f Frame) error

	// AfterFrame is called after all the bytes of a frame have been forwarded.
	AfterFrame(w io.Writer, f Frame) error
}

// Buffer receives writes of arbitrary size, finds frame boundaries with an
// Analyzer and forwards frames into W.
//
// Frame boundaries don't need to be aligned with Write() calls.
// A Buffer must be used by a single goroutine.
type Buffer struct {
	W        io.WriteCloser
	Analyzer Analyzer

	// capacity of the buffer. It defaults to DefaultBufferSize.
	Size int

	// minimum amount of buffered bytes (exclusive) needed to analyze a frame.
	Needed int

	// swap adjacent bytes before buffering them.
	SwapBytes bool

	buf        []byte
	pos        int
	mark       int
	streamable int
	frame      Frame
	carry      byte
	hasCarry   bool
	swapBuf    []byte
}

// Initialize initializes Buffer.
func (b *Buffer) Initialize() {
	if b.Size == 0 {
		b.Size = DefaultBufferSize
	}
	b.buf = make([]byte, b.Size)
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	n := len(p)

	if b.SwapBytes {
		p = b.swap(p)
	}

	err := b.push(p)
	if err != nil {
		return 0, err
	}

	return n, nil
}

// Close forwards any partial frame, padded with zeros, and closes W.
func (b *Buffer) Close() error {
	err := b.flush()
	err2 := b.W.Close()
	if err != nil {
		return err
	}
	return err2
}

// Buffered returns the number of bytes that are buffered but not forwarded yet.
func (b *Buffer) Buffered() int {
	return b.pos - b.mark
}

func (b *Buffer) push(p []byte) error {
	for len(p) > 0 {
		if b.pos == len(b.buf) {
			b.compact()
			if b.pos == len(b.buf) {
				return ErrBufferFull
			}
		}

		n := copy(b.buf[b.pos:], p)
		b.pos += n
		p = p[n:]

		err := b.process()
		if err != nil {
			return err
		}
	}

	return nil
}

// swap swaps adjacent bytes. When p has an odd length, the last byte is kept
// and paired with the first byte of the next call.
func (b *Buffer) swap(p []byte) []byte {
	out := b.swapBuf[:0]

	if b.hasCarry && len(p) > 0 {
		out = append(out, p[0], b.carry)
		p = p[1:]
		b.hasCarry = false
	}

	for len(p) >= 2 {
		out = append(out, p[1], p[0])
		p = p[2:]
	}

	if len(p) == 1 {
		b.carry = p[0]
		b.hasCarry = true
	}

	b.swapBuf = out
	return out
}

func (b *Buffer) process() error {
	for {
		avail := b.pos - b.mark

		if b.streamable == 0 {
			if avail <= b.Needed {
				b.compact()
				return nil
			}

			f, ok := b.Analyzer.AnalyzeFrame(b.buf[b.mark:b.pos])
			if !ok {
				b.compact()
				return nil
			}

			if f.Size <= 0 {
				return ErrZeroFrame
			}

			b.frame = f
			b.streamable = f.Size

			err := b.Analyzer.BeforeFrame(b.W, f)
			if err != nil {
				return err
			}
		}

		if avail == 0 {
			b.compact()
			return nil
		}

		n := min(avail, b.streamable)

		if !b.frame.Discard {
			_, err := b.W.Write(b.buf[b.mark : b.mark+n])
			if err != nil {
				return err
			}
		}

		b.mark += n
		b.streamable -= n

		if b.streamable == 0 {
			err := b.Analyzer.AfterFrame(b.W, b.frame)
			if err != nil {
				return err
			}
		}
	}
}

func (b *Buffer) compact() {
	if b.mark == 0 {
		return
	}

	copy(b.buf, b.buf[b.mark:b.pos])
	b.pos -= b.mark
	b.mark = 0
}

func (b *Buffer) flush() error {
	if b.hasCarry {
		b.hasCarry = false
		err := b.push([]byte{b.carry})
		if err != nil {
			return err
		}
	}

	if b.streamable == 0 {
		return nil
	}

	if !b.frame.Discard {
		err := WriteZeros(b.W, b.streamable)
		if err != nil {
			return err
		}
	}

	b.streamable = 0

	return b.Analyzer.AfterFrame(b.W, b.frame)
}

var zeros [2048]byte

// WriteZeros writes n zero bytes into w.
func WriteZeros(w io.Writer, n int) error {
	for n > 0 {
		l := min(n, len(zeros))

		_, err := w.Write(zeros[:l])
		if err != nil {
			return err
		}

		n -= l
	}

	return nil
}
