// Package pcm contains a writer that wraps linear PCM into fixed-size blocks.
package pcm

import (
	"io"

	"github.com/bluenviron/reframer/internal/flowparser"
)

type analyzer struct {
	w *Writer
}

func (a *analyzer) AnalyzeFrame([]byte) (flowparser.Frame, bool) {
	return flowparser.Frame{Size: a.w.blockSize}, true
}

func (a *analyzer) BeforeFrame(w io.Writer, _ flowparser.Frame) error {
	_, err := w.Write(a.w.header[:])
	return err
}

func (a *analyzer) AfterFrame(io.Writer, flowparser.Frame) error {
	return nil
}

// Writer wraps PCM samples into blocks, each one preceded by a header that
// contains block size, channel configuration and bit depth.
// Samples are converted from little endian to big endian.
//
// A Writer must be used by a single goroutine.
type Writer struct {
	W          io.WriteCloser
	Format     Format
	BufferSize int

	buf       flowparser.Buffer
	blockSize int
	header    [4]byte
}

// Initialize initializes Writer.
func (w *Writer) Initialize() error {
	err := w.Format.Validate()
	if err != nil {
		return err
	}

	w.blockSize = w.Format.BlockSize()
	w.header = w.Format.Header()

	w.buf = flowparser.Buffer{
		W:         w.W,
		Analyzer:  &analyzer{w: w},
		Size:      w.BufferSize,
		SwapBytes: true,
	}
	w.buf.Initialize()

	return nil
}

// SetFormat changes the format of the stream.
// It takes effect starting from the next block.
func (w *Writer) SetFormat(f Format) error {
	err := f.Validate()
	if err != nil {
		return err
	}

	w.Format = f
	w.blockSize = f.BlockSize()
	w.header = f.Header()

	return nil
}

// BlockSize returns the current block size.
func (w *Writer) BlockSize() int {
	return w.blockSize
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

// Close pads the last block with silence and closes W.
func (w *Writer) Close() error {
	return w.buf.Close()
}
