package test

import (
	"bytes"
	"context"

	"github.com/asticode/go-astits"
)

const (
	mpegtsVideoPID = 256
	mpegtsAudioPID = 257
)

// MPEGTSWithDTS generates a MPEG-TS stream that contains a H264 stream
// and a DTS stream. Every DTS payload is carried by a dedicated PES packet.
func MPEGTSWithDTS(payloads ...[]byte) ([]byte, error) {
	var buf bytes.Buffer
	mux := astits.NewMuxer(context.Background(), &buf)

	err := mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: mpegtsVideoPID,
		StreamType:    astits.StreamTypeH264Video,
	})
	if err != nil {
		return nil, err
	}

	err = mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: mpegtsAudioPID,
		StreamType:    astits.StreamTypeDTSAudio,
	})
	if err != nil {
		return nil, err
	}

	mux.SetPCRPID(mpegtsVideoPID)

	_, err = mux.WriteTables()
	if err != nil {
		return nil, err
	}

	for _, payload := range payloads {
		err = writePES(mux, mpegtsVideoPID, 224, []byte{0x00, 0x00, 0x00, 0x01, 0x09, 0xf0})
		if err != nil {
			return nil, err
		}

		err = writePES(mux, mpegtsAudioPID, 189, payload)
		if err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writePES(mux *astits.Muxer, pid uint16, streamID uint8, data []byte) error {
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
	return err
}
