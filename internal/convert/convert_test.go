package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/reframer/internal/logger"
	"github.com/bluenviron/reframer/internal/pcm"
	"github.com/bluenviron/reframer/internal/test"
)

var (
	testSPS = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9, 0x20,
	}
	testPPS = []byte{0x08, 0x06, 0x07, 0x08}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00}
	testP   = []byte{0x41, 0x9a, 0x24}
)

var stereo = pcm.Format{ChannelCount: 2, SampleRate: 48000, BitsPerSample: 16}

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

func samples(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i * 7)
	}
	return buf
}

func swapped(buf []byte) []byte {
	out := make([]byte, len(buf))
	for i := 0; i+1 < len(buf); i += 2 {
		out[i] = buf[i+1]
		out[i+1] = buf[i]
	}
	return out
}

func padded(frame []byte, size int) []byte {
	return append(append([]byte(nil), frame...), make([]byte, size-len(frame))...)
}

func avccSample(nalus ...[]byte) []byte {
	buf, err := mch264.AVCC(nalus).Marshal()
	if err != nil {
		panic(err)
	}
	return buf
}

func testMP4(t *testing.T) []byte {
	byts, err := test.MP4(test.MP4Track{
		SPS: testSPS,
		PPS: testPPS,
		Samples: [][]byte{
			avccSample(testIDR),
			avccSample(testP),
			avccSample(testIDR),
		},
	})
	require.NoError(t, err)
	return byts
}

func expectedAnnexB() []byte {
	header := bytes.Join([][]byte{
		startCode, testSPS,
		startCode, testPPS,
		startCode,
	}, nil)

	return bytes.Join([][]byte{
		header, testIDR,
		startCode, testP,
		header, testIDR,
	}, nil)
}

// hides Seek and ReadAt of the underlying reader.
type streamOnly struct {
	io.Reader
}

func TestConvertPCM(t *testing.T) {
	in := samples(1920)
	sink := &test.Sink{}

	c := &Converter{
		Mode:           ModePCM,
		ReadBufferSize: 100,
		PCMFormat:      stereo,
		Parent:         test.NilLogger,
	}
	err := c.Convert(context.Background(), bytes.NewReader(in), sink)
	require.NoError(t, err)

	header := []byte{0x03, 0xC0, 0x31, 0x40}
	require.Equal(t, bytes.Join([][]byte{
		header, swapped(in[:960]),
		header, swapped(in[960:]),
	}, nil), sink.Bytes())
	require.True(t, sink.Closed)
}

func TestConvertPCMInvalidFormat(t *testing.T) {
	sink := &test.Sink{}

	c := &Converter{
		Mode:      ModePCM,
		PCMFormat: pcm.Format{ChannelCount: 9, SampleRate: 48000, BitsPerSample: 16},
	}
	err := c.Convert(context.Background(), bytes.NewReader(nil), sink)
	require.ErrorIs(t, err, pcm.ErrInvalidFormat)
	require.True(t, sink.Closed)
}

func TestConvertDTS(t *testing.T) {
	frame := test.DTSCoreFrame(1000, 6)
	garbage := bytes.Repeat([]byte{0x55}, 100)

	ts, err := test.MPEGTSWithDTS(
		append(append([]byte(nil), garbage...), frame[:600]...),
		frame[600:],
		frame,
	)
	require.NoError(t, err)

	for _, ca := range []struct {
		name   string
		mpegts bool
		in     []byte
	}{
		{
			"raw",
			false,
			bytes.Join([][]byte{garbage, frame, frame}, nil),
		},
		{
			"mpegts",
			true,
			ts,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			sink := &test.Sink{}
			discarded := 0
			var logs []string

			c := &Converter{
				Mode:           ModeDTS,
				ReadBufferSize: 333,
				MPEGTS:         ca.mpegts,
				OnDiscard: func(n int) {
					discarded += n
				},
				Parent: test.Logger(func(_ logger.Level, format string, args ...interface{}) {
					logs = append(logs, fmt.Sprintf(format, args...))
				}),
			}
			err := c.Convert(context.Background(), bytes.NewReader(ca.in), sink)
			require.NoError(t, err)

			require.Equal(t, bytes.Join([][]byte{
				padded(frame, 2048),
				padded(frame, 2048),
			}, nil), sink.Bytes())
			require.Equal(t, 100, discarded)
			require.True(t, sink.Closed)

			if ca.mpegts {
				require.Contains(t, logs, "DTS read from MPEG-TS PID 257")
			}
		})
	}
}

func TestConvertDTSNotMPEGTS(t *testing.T) {
	sink := &test.Sink{}

	c := &Converter{
		Mode:   ModeDTS,
		MPEGTS: true,
	}
	err := c.Convert(context.Background(), bytes.NewReader(make([]byte, 1000)), sink)
	require.Error(t, err)
	require.True(t, sink.Closed)
}

func TestConvertDTSToPCM(t *testing.T) {
	sink := &test.Sink{}

	c := &Converter{
		Mode: ModeDTS,
		PCMFormat: pcm.Format{
			ChannelCount:  1,
			SampleRate:    44100,
			BitsPerSample: 16,
		},
		WrapPCM: true,
	}
	err := c.Convert(context.Background(), bytes.NewReader(test.DTSCoreFrame(1000, 0)), sink)
	require.NoError(t, err)

	out := sink.Bytes()
	require.Equal(t, 3*964, len(out))
	require.Equal(t, []byte{0x03, 0xC0, 0x31, 0x40}, out[:4])
	require.Equal(t, []byte{0xFE, 0x7F, 0x01, 0x80}, out[4:8])
	require.True(t, sink.Closed)
}

func TestConvertAnnexB(t *testing.T) {
	in := testMP4(t)

	for _, ca := range []struct {
		name string
		src  io.Reader
	}{
		{
			"seekable",
			bytes.NewReader(in),
		},
		{
			"stream",
			streamOnly{bytes.NewReader(in)},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			sink := &test.Sink{}

			c := &Converter{
				Mode:           ModeAnnexB,
				ReadBufferSize: 5,
				Parent:         test.NilLogger,
			}
			err := c.Convert(context.Background(), ca.src, sink)
			require.NoError(t, err)

			require.Equal(t, expectedAnnexB(), sink.Bytes())
			require.True(t, sink.Closed)
		})
	}
}

func TestConvertAnnexBDecode(t *testing.T) {
	sink := &test.Sink{}

	c := &Converter{
		Mode:   ModeAnnexB,
		Parent: test.NilLogger,
	}
	err := c.Convert(context.Background(), bytes.NewReader(testMP4(t)), sink)
	require.NoError(t, err)

	var au mch264.AnnexB
	err = au.Unmarshal(sink.Bytes())
	require.NoError(t, err)
	require.Equal(t, mch264.AnnexB{
		testSPS, testPPS, testIDR,
		testP,
		testSPS, testPPS, testIDR,
	}, au)
}

func TestConvertErrors(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	for _, ca := range []struct {
		name string
		ctx  context.Context
		mode Mode
		in   []byte
		err  string
	}{
		{
			"unsupported mode",
			context.Background(),
			Mode("mp3"),
			nil,
			"unsupported mode 'mp3'",
		},
		{
			"no h264 track",
			context.Background(),
			ModeAnnexB,
			[]byte{0x00, 0x00, 0x00, 0x08, 'f', 'r', 'e', 'e'},
			"no H264 track found",
		},
		{
			"canceled",
			canceled,
			ModePCM,
			samples(100),
			"context canceled",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			sink := &test.Sink{}

			c := &Converter{
				Mode:      ca.mode,
				PCMFormat: stereo,
			}
			err := c.Convert(ca.ctx, bytes.NewReader(ca.in), sink)
			require.EqualError(t, err, ca.err)
			require.True(t, sink.Closed)
		})
	}
}

func TestReadTrackInfo(t *testing.T) {
	info, err := ReadTrackInfo(bytes.NewReader(testMP4(t)), test.NilLogger)
	require.NoError(t, err)

	var sps mch264.SPS
	err = sps.Unmarshal(testSPS)
	require.NoError(t, err)

	require.Equal(t, &TrackInfo{
		TrackID:   2,
		Profile:   66,
		Level:     40,
		RefFrames: 3,
		Width:     sps.Width(),
		Height:    sps.Height(),
		Samples:   3,
	}, info)
}
