package test

import (
	"bytes"
)

// Sink is a byte sink that records written bytes and whether it was closed.
type Sink struct {
	bytes.Buffer
	Closed bool
}

// Close implements io.Closer.
func (s *Sink) Close() error {
	s.Closed = true
	return nil
}

// WriteChunks writes byts into w, splitting it into chunks of the given sizes.
// Sizes are cycled until the whole buffer is written.
func WriteChunks(w interface{ Write([]byte) (int, error) }, byts []byte, sizes ...int) error {
	if len(sizes) == 0 {
		sizes = []int{len(byts)}
	}

	for i := 0; len(byts) > 0; i++ {
		n := sizes[i%len(sizes)]
		if n > len(byts) || n <= 0 {
			n = len(byts)
		}

		_, err := w.Write(byts[:n])
		if err != nil {
			return err
		}
		byts = byts[n:]
	}

	return nil
}
