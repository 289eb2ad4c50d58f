package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/reframer/internal/conf"
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
)

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

func mediaDirectory(t *testing.T) string {
	dir := t.TempDir()

	err := os.WriteFile(filepath.Join(dir, "audio.raw"), samples(960), 0o644)
	require.NoError(t, err)

	frame := test.DTSCoreFrame(1000, 6)

	err = os.WriteFile(filepath.Join(dir, "audio.dts"), append(bytes.Repeat([]byte{0x55}, 50), frame...), 0o644)
	require.NoError(t, err)

	ts, err := test.MPEGTSWithDTS(frame)
	require.NoError(t, err)

	err = os.WriteFile(filepath.Join(dir, "audio.ts"), ts, 0o644)
	require.NoError(t, err)

	sample, err := mch264.AVCC{testIDR}.Marshal()
	require.NoError(t, err)

	mp4, err := test.MP4(test.MP4Track{
		SPS:     testSPS,
		PPS:     testPPS,
		Samples: [][]byte{sample},
	})
	require.NoError(t, err)

	err = os.WriteFile(filepath.Join(dir, "video.mp4"), mp4, 0o644)
	require.NoError(t, err)

	err = os.WriteFile(filepath.Join(dir, "empty.mp4"), []byte{0x00, 0x00, 0x00, 0x08, 'f', 'r', 'e', 'e'}, 0o644)
	require.NoError(t, err)

	return dir
}

func newServer(t *testing.T, dir string, sourceCommand string) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		Address:        "localhost:0",
		ReadTimeout:    conf.StringDuration(10 * time.Second),
		MediaDirectory: dir,
		SourceCommand:  sourceCommand,
		ReadBufferSize: 100,
		PCMFormat: pcm.Format{
			ChannelCount:  2,
			SampleRate:    48000,
			BitsPerSample: 16,
		},
		Parent: test.NilLogger,
	}
	err := s.Initialize()
	require.NoError(t, err)

	return s
}

func get(t *testing.T, s *Server, path string) (int, http.Header, []byte) {
	res, err := http.Get("http://" + s.httpServer.Addr().String() + path)
	require.NoError(t, err)
	defer res.Body.Close()

	byts, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	return res.StatusCode, res.Header, byts
}

func TestServerStream(t *testing.T) {
	frame := test.DTSCoreFrame(1000, 6)
	wrappedFrame := append(append([]byte(nil), frame...), make([]byte, 2048-1000)...)

	for _, ca := range []struct {
		name        string
		path        string
		contentType string
		check       func(t *testing.T, body []byte)
	}{
		{
			"pcm",
			"/pcm/audio.raw",
			"audio/x-pcm-blocks",
			func(t *testing.T, body []byte) {
				require.Equal(t, append([]byte{0x03, 0xC0, 0x31, 0x40}, swapped(samples(960))...), body)
			},
		},
		{
			"dts",
			"/dts/audio.dts",
			"audio/vnd.dts",
			func(t *testing.T, body []byte) {
				require.Equal(t, wrappedFrame, body)
			},
		},
		{
			"dts mpegts",
			"/dts/audio.ts",
			"audio/vnd.dts",
			func(t *testing.T, body []byte) {
				require.Equal(t, wrappedFrame, body)
			},
		},
		{
			"dts to pcm",
			"/dts/audio.dts?pcm=1",
			"audio/vnd.dts",
			func(t *testing.T, body []byte) {
				require.Equal(t, 3*964, len(body))
				require.Equal(t, []byte{0xFE, 0x7F, 0x01, 0x80}, body[4:8])
			},
		},
		{
			"annexb",
			"/annexb/video.mp4",
			"video/h264",
			func(t *testing.T, body []byte) {
				require.Equal(t, bytes.Join([][]byte{
					{0x00, 0x00, 0x00, 0x01}, testSPS,
					{0x00, 0x00, 0x00, 0x01}, testPPS,
					{0x00, 0x00, 0x00, 0x01}, testIDR,
				}, nil), body)
			},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			s := newServer(t, mediaDirectory(t), "")
			defer s.Close()

			status, header, body := get(t, s, ca.path)
			require.Equal(t, http.StatusOK, status)
			require.Equal(t, ca.contentType, header.Get("Content-Type"))
			ca.check(t, body)
		})
	}
}

func TestServerSPS(t *testing.T) {
	s := newServer(t, mediaDirectory(t), "")
	defer s.Close()

	status, _, body := get(t, s, "/sps/video.mp4")
	require.Equal(t, http.StatusOK, status)

	var info map[string]interface{}
	err := json.Unmarshal(body, &info)
	require.NoError(t, err)

	require.Equal(t, float64(2), info["trackID"])
	require.Equal(t, float64(66), info["profile"])
	require.Equal(t, float64(40), info["level"])
	require.Equal(t, float64(3), info["refFrames"])
}

func TestServerErrors(t *testing.T) {
	for _, ca := range []struct {
		name   string
		path   string
		status int
		err    string
	}{
		{
			"traversal",
			"/pcm/../secret",
			http.StatusBadRequest,
			"invalid path '/../secret'",
		},
		{
			"missing",
			"/pcm/missing.raw",
			http.StatusNotFound,
			"unable to open source",
		},
		{
			"not a mp4",
			"/annexb/empty.mp4",
			http.StatusBadRequest,
			"no H264 track found",
		},
		{
			"sps of missing file",
			"/sps/missing.mp4",
			http.StatusNotFound,
			"unable to open source",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			s := newServer(t, mediaDirectory(t), "")
			defer s.Close()

			status, header, body := get(t, s, ca.path)
			require.Equal(t, ca.status, status)
			require.Equal(t, "application/json; charset=utf-8", header.Get("Content-Type"))

			var res apiError
			err := json.Unmarshal(body, &res)
			require.NoError(t, err)
			require.Equal(t, ca.err, res.Error)
		})
	}
}

func TestServerSourceCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unsupported")
	}

	s := newServer(t, mediaDirectory(t), "cat $FILE")
	defer s.Close()

	status, _, body := get(t, s, "/pcm/audio.raw")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, append([]byte{0x03, 0xC0, 0x31, 0x40}, swapped(samples(960))...), body)
}
