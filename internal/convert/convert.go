// Package convert contains the pipelines that re-frame a byte source into a sink.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/asticode/go-astits"

	"github.com/bluenviron/reframer/internal/dts"
	"github.com/bluenviron/reframer/internal/h264"
	"github.com/bluenviron/reframer/internal/logger"
	"github.com/bluenviron/reframer/internal/mp4"
	"github.com/bluenviron/reframer/internal/mpegts"
	"github.com/bluenviron/reframer/internal/pcm"
)

// DefaultReadBufferSize is the default size of reads from the source.
const DefaultReadBufferSize = 65536

// Mode is a conversion mode.
type Mode string

// modes.
const (
	ModePCM    Mode = "pcm"
	ModeDTS    Mode = "dts"
	ModeAnnexB Mode = "annexb"
)

// Converter reads a source and writes the re-framed stream into a sink.
type Converter struct {
	Mode Mode

	// capacity of the frame buffer.
	BufferSize int

	// size of reads from the source.
	ReadBufferSize int

	// format of PCM blocks.
	PCMFormat pcm.Format

	// demux DTS out of a MPEG-TS stream.
	MPEGTS bool

	// wrap DTS frames into PCM blocks.
	WrapPCM bool

	// called with the size of discarded DTS data.
	OnDiscard func(int)

	Parent logger.Writer
}

// Log implements logger.Writer.
func (c *Converter) Log(level logger.Level, format string, args ...interface{}) {
	if c.Parent != nil {
		c.Parent.Log(level, format, args...)
	}
}

// Convert reads src until EOF and writes the result into dst.
// dst is always closed.
func (c *Converter) Convert(ctx context.Context, src io.Reader, dst io.WriteCloser) error {
	switch c.Mode {
	case ModePCM:
		return c.convertPCM(ctx, src, dst)

	case ModeDTS:
		return c.convertDTS(ctx, src, dst)

	case ModeAnnexB:
		return c.convertAnnexB(ctx, src, dst)

	default:
		dst.Close() //nolint:errcheck
		return fmt.Errorf("unsupported mode '%s'", c.Mode)
	}
}

func (c *Converter) newPCMWriter(dst io.WriteCloser) (*pcm.Writer, error) {
	w := &pcm.Writer{
		W:          dst,
		Format:     c.PCMFormat,
		BufferSize: c.BufferSize,
	}
	err := w.Initialize()
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (c *Converter) convertPCM(ctx context.Context, src io.Reader, dst io.WriteCloser) error {
	w, err := c.newPCMWriter(dst)
	if err != nil {
		dst.Close() //nolint:errcheck
		return err
	}

	c.Log(logger.Debug, "wrapping PCM into blocks of %d bytes", w.BlockSize())

	return c.pump(ctx, src, w)
}

func (c *Converter) convertDTS(ctx context.Context, src io.Reader, dst io.WriteCloser) error {
	sink := dst

	if c.WrapPCM {
		// the format is replaced as soon as a DTS core is detected.
		pw, err := c.newPCMWriter(dst)
		if err != nil {
			dst.Close() //nolint:errcheck
			return err
		}
		sink = pw
	}

	w := &dts.Writer{
		W:          sink,
		BufferSize: c.BufferSize,
		OnDiscard:  c.OnDiscard,
		Parent:     c,
	}
	w.Initialize()

	var ts *mpegts.StreamReader

	if c.MPEGTS {
		ts = &mpegts.StreamReader{
			R:          src,
			StreamType: astits.StreamTypeDTSAudio,
			Context:    ctx,
		}
		ts.Initialize()
		src = ts
	}

	err := c.pump(ctx, src, w)
	if err != nil {
		return err
	}

	if ts != nil {
		if pid, ok := ts.PID(); ok {
			c.Log(logger.Debug, "DTS read from MPEG-TS PID %d", pid)
		}
	}

	if w.HasHD() {
		c.Log(logger.Debug, "DTS-HD extensions have been discarded")
	}

	return nil
}

func (c *Converter) convertAnnexB(ctx context.Context, src io.Reader, dst io.WriteCloser) error {
	rs, err := seekable(src)
	if err != nil {
		dst.Close() //nolint:errcheck
		return err
	}

	track, err := mp4.ReadTrack(rs)
	if err != nil {
		dst.Close() //nolint:errcheck
		return err
	}

	header, err := track.Header()
	if err != nil {
		dst.Close() //nolint:errcheck
		return err
	}

	h := h264.AVCHeader{Parent: c}
	h.UnmarshalNALU(track.SPS)

	c.Log(logger.Debug, "H264 track %d, profile %d, level %d, %d reference frames, %d samples",
		track.ID, h.Profile, h.Level, h.RefFrames, len(track.Samples))

	// header ends with a complete start code, every IDR gets it unchanged.
	r := &h264.AnnexBReader{
		R:              track.NewReader(rs),
		Header:         header,
		RepeatedHeader: header,
	}

	return c.pump(ctx, r, dst)
}

// pump copies src into dst in chunks of ReadBufferSize bytes, then closes dst.
func (c *Converter) pump(ctx context.Context, src io.Reader, dst io.WriteCloser) error {
	size := c.ReadBufferSize
	if size <= 0 {
		size = DefaultReadBufferSize
	}

	buf := make([]byte, size)
	err := copyChunks(ctx, dst, src, buf)

	err2 := dst.Close()
	if err != nil {
		return err
	}
	return err2
}

func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			_, werr := dst.Write(buf[:n])
			if werr != nil {
				return werr
			}
		}

		if err != nil {
			if err == io.EOF { //nolint:errorlint
				return nil
			}
			return err
		}
	}
}

type readSeekerAt interface {
	io.ReadSeeker
	io.ReaderAt
}

// seekable returns src if it supports random access, otherwise a
// copy of its whole content.
func seekable(src io.Reader) (readSeekerAt, error) {
	if rs, ok := src.(readSeekerAt); ok {
		if _, err := rs.Seek(0, io.SeekCurrent); err == nil {
			return rs, nil
		}
	}

	byts, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(byts), nil
}
