// Package h264 contains H264 utilities.
package h264

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrInvalidNALULength is returned when a NALU length prefix is not positive.
var ErrInvalidNALULength = errors.New("invalid NALU length")

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// isHeaderInsertionPoint returns whether a NALU begins with the first
// bytes of an IDR slice that starts a picture.
func isHeaderInsertionPoint(peek []byte) bool {
	return len(peek) >= 2 &&
		(peek[0]&0x25) == 0x25 &&
		(peek[1]&0x88) == 0x88
}

// AnnexBReader reads a stream of NALUs prefixed by their 4-byte length
// (AVCC) and returns them in the Annex-B format.
//
// Before every IDR slice that starts a picture, Header (usually SPS and PPS
// in Annex-B format, terminated by a start code) is inserted in place of
// the start code. Insertions after the first one use RepeatedHeader, or
// Header followed by 00 01 when RepeatedHeader is empty.
//
// Any end of R, even in the middle of a NALU, is reported as io.EOF.
type AnnexBReader struct {
	R      io.Reader
	Header []byte

	// inserted in place of Header after the first insertion. Optional.
	RepeatedHeader []byte

	headerInserted bool
	remaining      int
	pending        []byte
	pendingBuf     []byte
	lenBuf         [4]byte
	peek           [3]byte
	err            error
}

// Read implements io.Reader.
func (r *AnnexBReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}

	n := 0

	for n < len(p) {
		if len(r.pending) > 0 {
			c := copy(p[n:], r.pending)
			r.pending = r.pending[c:]
			n += c
			continue
		}

		if r.remaining > 0 {
			l := min(r.remaining, len(p)-n)
			c, err := io.ReadFull(r.R, p[n:n+l])
			n += c
			r.remaining -= c
			if err != nil {
				return r.fail(n, err)
			}
			continue
		}

		err := r.readNALUStart()
		if err != nil {
			return r.fail(n, err)
		}
	}

	return n, nil
}

// Close closes R if it implements io.Closer.
func (r *AnnexBReader) Close() error {
	if c, ok := r.R.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *AnnexBReader) fail(n int, err error) (int, error) {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	r.err = err

	if n > 0 && err == io.EOF {
		return n, nil
	}
	return n, err
}

func (r *AnnexBReader) readNALUStart() error {
	_, err := io.ReadFull(r.R, r.lenBuf[:])
	if err != nil {
		return err
	}

	le := int32(binary.BigEndian.Uint32(r.lenBuf[:]))
	if le <= 0 {
		return ErrInvalidNALULength
	}

	peekLen := min(len(r.peek), int(le))

	_, err = io.ReadFull(r.R, r.peek[:peekLen])
	if err != nil {
		return err
	}

	out := r.pendingBuf[:0]

	if len(r.Header) != 0 && isHeaderInsertionPoint(r.peek[:peekLen]) {
		switch {
		case !r.headerInserted:
			out = append(out, r.Header...)
			r.headerInserted = true

		case len(r.RepeatedHeader) != 0:
			out = append(out, r.RepeatedHeader...)

		default:
			out = append(out, r.Header...)
			out = append(out, 0x00, 0x01)
		}
	} else {
		out = append(out, startCode...)
	}

	out = append(out, r.peek[:peekLen]...)

	r.pendingBuf = out
	r.pending = out
	r.remaining = int(le) - peekLen

	return nil
}
