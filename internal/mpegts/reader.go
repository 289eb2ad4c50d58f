// Package mpegts contains a reader of elementary streams stored in MPEG-TS.
package mpegts

import (
	"context"
	"errors"
	"io"

	"github.com/asticode/go-astits"
)

// ErrStreamNotFound is returned when the MPEG-TS stream doesn't contain
// an elementary stream of the requested type.
var ErrStreamNotFound = errors.New("elementary stream not found")

// StreamReader reads the PES payloads of the first elementary stream
// of type StreamType.
type StreamReader struct {
	R          io.Reader
	StreamType astits.StreamType

	// It defaults to context.Background().
	Context context.Context

	dem   *astits.Demuxer
	pid   uint16
	found bool
	cur   []byte
}

// Initialize initializes StreamReader.
func (r *StreamReader) Initialize() {
	if r.Context == nil {
		r.Context = context.Background()
	}

	r.dem = astits.NewDemuxer(r.Context, r.R)
}

// PID returns the PID of the elementary stream, once it has been found.
func (r *StreamReader) PID() (uint16, bool) {
	return r.pid, r.found
}

// Read implements io.Reader.
func (r *StreamReader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		data, err := r.dem.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				if !r.found {
					return 0, ErrStreamNotFound
				}
				return 0, io.EOF
			}
			return 0, err
		}

		if data.PMT != nil && !r.found {
			for _, es := range data.PMT.ElementaryStreams {
				if es.StreamType == r.StreamType {
					r.pid = es.ElementaryPID
					r.found = true
					break
				}
			}
			continue
		}

		if r.found && data.PES != nil && data.PID == r.pid {
			r.cur = data.PES.Data
		}
	}

	n := copy(p, r.cur)
	r.cur = r.cur[n:]

	return n, nil
}

// Close closes R if it implements io.Closer.
func (r *StreamReader) Close() error {
	if c, ok := r.R.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
