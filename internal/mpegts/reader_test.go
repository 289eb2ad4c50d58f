package mpegts

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/asticode/go-astits"
	"github.com/stretchr/testify/require"
)

func writePES(t *testing.T, mux *astits.Muxer, pid uint16, streamID uint8, data []byte) {
	_, err := mux.WriteData(&astits.MuxerData{
		PID: pid,
		AdaptationField: &astits.PacketAdaptationField{
			RandomAccessIndicator: true,
		},
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             &astits.ClockReference{Base: 90000},
				},
				StreamID: streamID,
			},
			Data: data,
		},
	})
	require.NoError(t, err)
}

func payload(n int, seed byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = seed + byte(i)
	}
	return buf
}

func TestStreamReader(t *testing.T) {
	var buf bytes.Buffer
	mux := astits.NewMuxer(context.Background(), &buf)

	err := mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: 256,
		StreamType:    astits.StreamTypeH264Video,
	})
	require.NoError(t, err)

	err = mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: 257,
		StreamType:    astits.StreamTypeDTSAudio,
	})
	require.NoError(t, err)

	mux.SetPCRPID(256)

	_, err = mux.WriteTables()
	require.NoError(t, err)

	dts1 := payload(1000, 1)
	dts2 := payload(300, 7)

	writePES(t, mux, 256, 224, payload(500, 3))
	writePES(t, mux, 257, 189, dts1)
	writePES(t, mux, 256, 224, payload(200, 5))
	writePES(t, mux, 257, 189, dts2)

	r := &StreamReader{
		R:          &buf,
		StreamType: astits.StreamTypeDTSAudio,
	}
	r.Initialize()

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, append(dts1, dts2...), out)

	pid, ok := r.PID()
	require.True(t, ok)
	require.Equal(t, uint16(257), pid)
}

func TestStreamReaderNotFound(t *testing.T) {
	var buf bytes.Buffer
	mux := astits.NewMuxer(context.Background(), &buf)

	err := mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: 256,
		StreamType:    astits.StreamTypeH264Video,
	})
	require.NoError(t, err)

	mux.SetPCRPID(256)

	_, err = mux.WriteTables()
	require.NoError(t, err)

	writePES(t, mux, 256, 224, payload(100, 0))

	r := &StreamReader{
		R:          &buf,
		StreamType: astits.StreamTypeDTSAudio,
	}
	r.Initialize()

	_, err = io.ReadAll(r)
	require.ErrorIs(t, err, ErrStreamNotFound)
}
