package convert

import (
	"io"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/bluenviron/reframer/internal/h264"
	"github.com/bluenviron/reframer/internal/logger"
	"github.com/bluenviron/reframer/internal/mp4"
)

// TrackInfo describes the H264 track of a MP4 file.
type TrackInfo struct {
	TrackID   uint32 `json:"trackID"`
	Profile   int    `json:"profile"`
	Level     int    `json:"level"`
	RefFrames int    `json:"refFrames"`
	Truncated bool   `json:"truncated"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Samples   int    `json:"samples"`
}

// ReadTrackInfo reads the H264 track of a MP4 file and decodes its SPS.
// Resolution is left to zero when the SPS can't be fully decoded.
func ReadTrackInfo(src io.Reader, parent logger.Writer) (*TrackInfo, error) {
	rs, err := seekable(src)
	if err != nil {
		return nil, err
	}

	track, err := mp4.ReadTrack(rs)
	if err != nil {
		return nil, err
	}

	h := h264.AVCHeader{Parent: parent}
	h.UnmarshalNALU(track.SPS)

	info := &TrackInfo{
		TrackID:   track.ID,
		Profile:   h.Profile,
		Level:     h.Level,
		RefFrames: h.RefFrames,
		Truncated: h.Truncated,
		Samples:   len(track.Samples),
	}

	var sps mch264.SPS
	if err := sps.Unmarshal(track.SPS); err == nil {
		info.Width = sps.Width()
		info.Height = sps.Height()
	}

	return info, nil
}
