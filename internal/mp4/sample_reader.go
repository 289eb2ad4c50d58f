package mp4

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

type sampleReader struct {
	r io.ReaderAt
	t *Track

	next int
	cur  io.Reader
	left int
}

func (s *sampleReader) Read(p []byte) (int, error) {
	for {
		if s.cur != nil {
			n, err := s.cur.Read(p)
			s.left -= n

			if err == io.EOF {
				if s.left != 0 {
					return n, io.ErrUnexpectedEOF
				}

				s.cur = nil
				if n > 0 {
					return n, nil
				}
				continue
			}

			return n, err
		}

		if s.next >= len(s.t.Samples) {
			return 0, io.EOF
		}

		sa := s.t.Samples[s.next]
		s.next++

		sr := io.NewSectionReader(s.r, int64(sa.Offset), int64(sa.Size))

		if s.t.LengthSize == 4 {
			s.cur = sr
			s.left = int(sa.Size)
			continue
		}

		buf := make([]byte, sa.Size)
		_, err := io.ReadFull(sr, buf)
		if err != nil {
			return 0, err
		}

		buf, err = convertLengthSize(buf, s.t.LengthSize)
		if err != nil {
			return 0, err
		}

		s.cur = bytes.NewReader(buf)
		s.left = len(buf)
	}
}

// convertLengthSize converts NALU length prefixes of the given size into 4-byte prefixes.
func convertLengthSize(buf []byte, size int) ([]byte, error) {
	if size < 1 || size > 4 {
		return nil, fmt.Errorf("unsupported NALU length size: %d", size)
	}

	out := make([]byte, 0, len(buf)+len(buf)/2)

	for len(buf) > 0 {
		if len(buf) < size {
			return nil, fmt.Errorf("invalid length")
		}

		le := 0
		for _, b := range buf[:size] {
			le = (le << 8) | int(b)
		}
		buf = buf[size:]

		if len(buf) < le {
			return nil, fmt.Errorf("invalid length")
		}

		out = binary.BigEndian.AppendUint32(out, uint32(le))
		out = append(out, buf[:le]...)
		buf = buf[le:]
	}

	return out, nil
}
