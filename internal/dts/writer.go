// Package dts contains a writer that re-frames DTS audio streams.
package dts

import (
	"bytes"
	"io"

	"github.com/bluenviron/reframer/internal/flowparser"
	"github.com/bluenviron/reframer/internal/logger"
	"github.com/bluenviron/reframer/internal/pcm"
)

const (
	// WrappedFrameSize is the size of every emitted core frame, padding included.
	WrappedFrameSize = 2048

	// bytes that are needed to read a core header.
	headerSize = 15

	// maximum distance between the start of the buffer and a sync word.
	scanWindow = 2020
)

var (
	syncCore = []byte{0x7F, 0xFE, 0x80, 0x01}
	syncHD   = []byte{0x64, 0x58, 0x20, 0x25}
)

// bits per sample, indexed by the PCMR field of the core header.
var bitsPerSampleTable = [8]int{16, 16, 20, 20, 0, 24, 24, 0}

// pcm format of the wrapper that carries core frames.
var wrapperFormat = pcm.Format{
	ChannelCount:  2,
	SampleRate:    48000,
	BitsPerSample: 16,
}

// FormatSetter is implemented by sinks whose format can be changed, like pcm.Writer.
type FormatSetter interface {
	SetFormat(pcm.Format) error
}

type analyzer struct {
	w *Writer
}

func (a *analyzer) AnalyzeFrame(buf []byte) (flowparser.Frame, bool) {
	w := a.w

	switch {
	case bytes.HasPrefix(buf, syncHD):
		w.dtsHD = true
		size := (int(buf[6]&0x0F) << 11) + (int(buf[7]) << 3) + (int(buf[8]&0xF0) >> 5) + 1
		return flowparser.Frame{Size: size, Discard: true}, true

	case bytes.HasPrefix(buf, syncCore):
		if !w.dts {
			w.dts = true
			w.frameSize = (int(buf[5]&0x03) << 12) + (int(buf[6]) << 4) + (int(buf[7]&0xF0) >> 4) + 1
			w.bitsPerSample = bitsPerSampleTable[((buf[11]&0x01)<<2)|((buf[12]&0xC0)>>6)]
			w.padding = max(0, WrappedFrameSize-w.frameSize)
			w.formatPending = true
		}
		return flowparser.Frame{Size: w.frameSize}, true
	}

	// frame is incomplete or corrupted. Search the next sync word.
	if i := findSync(buf); i > 0 {
		return flowparser.Frame{Size: i, Discard: true}, true
	}

	if len(buf) >= scanWindow+len(syncCore)-1 {
		return flowparser.Frame{Size: scanWindow, Discard: true}, true
	}

	return flowparser.Frame{}, false
}

func (a *analyzer) BeforeFrame(sink io.Writer, f flowparser.Frame) error {
	w := a.w

	if f.Discard {
		if w.OnDiscard != nil {
			w.OnDiscard(f.Size)
		}
		return nil
	}

	if w.formatPending {
		w.formatPending = false

		if w.Parent != nil {
			w.Parent.Log(logger.Debug, "DTS core detected, frame size %d, %d bits per sample",
				w.frameSize, w.bitsPerSample)
		}

		if fs, ok := sink.(FormatSetter); ok {
			err := fs.SetFormat(wrapperFormat)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (a *analyzer) AfterFrame(sink io.Writer, f flowparser.Frame) error {
	if f.Discard || a.w.padding == 0 {
		return nil
	}
	return flowparser.WriteZeros(sink, a.w.padding)
}

func findSync(buf []byte) int {
	end := min(scanWindow, len(buf)-len(syncCore)+1)

	for i := 1; i < end; i++ {
		if bytes.HasPrefix(buf[i:], syncCore) || bytes.HasPrefix(buf[i:], syncHD) {
			return i
		}
	}

	return -1
}

// Writer finds DTS core frames and DTS-HD substreams in a byte stream.
// Core frames are forwarded and padded to WrappedFrameSize, while DTS-HD
// substreams and bytes that don't belong to any frame are dropped.
//
// When W implements FormatSetter, its format is switched to
// 2 channels, 48 kHz, 16 bits as soon as the first core frame is found.
//
// A Writer must be used by a single goroutine.
type Writer struct {
	W          io.WriteCloser
	BufferSize int

	// called when bytes are dropped. Optional.
	OnDiscard func(int)

	// Optional.
	Parent logger.Writer

	buf           flowparser.Buffer
	dts           bool
	dtsHD         bool
	frameSize     int
	padding       int
	bitsPerSample int
	formatPending bool
}

// Initialize initializes Writer.
func (w *Writer) Initialize() {
	w.buf = flowparser.Buffer{
		W:        w.W,
		Analyzer: &analyzer{w: w},
		Size:     w.BufferSize,
		Needed:   headerSize,
	}
	w.buf.Initialize()
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

// Close pads the frame in progress and closes W.
// Bytes that were not recognized yet are dropped.
func (w *Writer) Close() error {
	if n := w.buf.Buffered(); n != 0 && w.OnDiscard != nil {
		w.OnDiscard(n)
	}
	return w.buf.Close()
}

// FrameSize returns the size of core frames, or zero if no core frame was found yet.
func (w *Writer) FrameSize() int {
	return w.frameSize
}

// BitsPerSample returns the bit depth of the core stream.
func (w *Writer) BitsPerSample() int {
	return w.bitsPerSample
}

// HasHD returns whether a DTS-HD substream was found.
func (w *Writer) HasHD() bool {
	return w.dtsHD
}
