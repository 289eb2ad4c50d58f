// Package mp4 contains a reader of H264 tracks stored in MP4 files.
package mp4

import (
	"errors"
	"fmt"
	"io"

	gomp4 "github.com/abema/go-mp4"
	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// ErrNoH264Track is returned when a file doesn't contain any H264 track.
var ErrNoH264Track = errors.New("no H264 track found")

// Sample is the position of a sample inside a file.
type Sample struct {
	Offset uint64
	Size   uint32
}

// Track is a H264 track.
type Track struct {
	ID  uint32
	SPS []byte
	PPS []byte

	// size of NALU length prefixes.
	LengthSize int

	Samples []Sample
}

// Header returns SPS and PPS in Annex-B format, followed by
// the start code of the next NALU.
func (t *Track) Header() ([]byte, error) {
	buf, err := mch264.AnnexB{t.SPS, t.PPS}.Marshal()
	if err != nil {
		return nil, err
	}

	return append(buf, 0x00, 0x00, 0x00, 0x01), nil
}

// NewReader returns a reader of the track samples.
// NALUs are always prefixed by a 4-byte length.
func (t *Track) NewReader(r io.ReaderAt) io.Reader {
	return &sampleReader{
		r: r,
		t: t,
	}
}

type trackBoxes struct {
	id   uint32
	avcC *gomp4.AVCDecoderConfiguration
	stsz *gomp4.Stsz
	stsc *gomp4.Stsc

	chunkOffsets []uint64
}

func (b *trackBoxes) track() (*Track, error) {
	if len(b.avcC.SequenceParameterSets) == 0 {
		return nil, fmt.Errorf("SPS not provided")
	}

	if len(b.avcC.PictureParameterSets) == 0 {
		return nil, fmt.Errorf("PPS not provided")
	}

	if b.stsz == nil || b.stsc == nil || b.chunkOffsets == nil {
		return nil, fmt.Errorf("sample table is incomplete")
	}

	samples, err := b.samples()
	if err != nil {
		return nil, err
	}

	return &Track{
		ID:         b.id,
		SPS:        b.avcC.SequenceParameterSets[0].NALUnit,
		PPS:        b.avcC.PictureParameterSets[0].NALUnit,
		LengthSize: int(b.avcC.LengthSizeMinusOne) + 1,
		Samples:    samples,
	}, nil
}

func (b *trackBoxes) samples() ([]Sample, error) {
	sizes := b.stsz.EntrySize
	if b.stsz.SampleSize != 0 {
		sizes = make([]uint32, b.stsz.SampleCount)
		for i := range sizes {
			sizes[i] = b.stsz.SampleSize
		}
	}

	entries := b.stsc.Entries
	if len(entries) == 0 && (len(sizes) != 0 || len(b.chunkOffsets) != 0) {
		return nil, fmt.Errorf("stsc is empty")
	}

	samples := make([]Sample, 0, len(sizes))
	entry := 0

	for i, off := range b.chunkOffsets {
		chunk := uint32(i + 1)

		for entry+1 < len(entries) && entries[entry+1].FirstChunk <= chunk {
			entry++
		}

		for j := uint32(0); j < entries[entry].SamplesPerChunk; j++ {
			if len(samples) == len(sizes) {
				return nil, fmt.Errorf("chunks contain more samples than stsz")
			}

			size := sizes[len(samples)]
			samples = append(samples, Sample{
				Offset: off,
				Size:   size,
			})
			off += uint64(size)
		}
	}

	if len(samples) != len(sizes) {
		return nil, fmt.Errorf("chunks contain %d samples, but stsz contains %d", len(samples), len(sizes))
	}

	return samples, nil
}

// ReadTrack reads the first H264 track of a MP4 file.
func ReadTrack(r io.ReadSeeker) (*Track, error) {
	var track *Track
	var cur *trackBoxes

	_, err := gomp4.ReadBoxStructure(r, func(h *gomp4.ReadHandle) (interface{}, error) {
		typ := h.BoxInfo.Type.String()

		switch typ {
		case "moov", "mdia", "minf", "stbl", "stsd", "avc1":
			return h.Expand()

		case "trak":
			cur = &trackBoxes{}

			_, err := h.Expand()
			if err != nil {
				return nil, err
			}

			if track == nil && cur.avcC != nil {
				track, err = cur.track()
				if err != nil {
					return nil, fmt.Errorf("invalid track: %w", err)
				}
			}

			cur = nil
			return nil, nil

		case "tkhd", "avcC", "stsz", "stsc", "stco", "co64":
			if cur == nil {
				return nil, fmt.Errorf("unexpected box '%s'", typ)
			}

			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}

			switch box := box.(type) {
			case *gomp4.Tkhd:
				cur.id = box.TrackID

			case *gomp4.AVCDecoderConfiguration:
				cur.avcC = box

			case *gomp4.Stsz:
				cur.stsz = box

			case *gomp4.Stsc:
				cur.stsc = box

			case *gomp4.Stco:
				cur.chunkOffsets = make([]uint64, len(box.ChunkOffset))
				for i, off := range box.ChunkOffset {
					cur.chunkOffsets[i] = uint64(off)
				}

			case *gomp4.Co64:
				cur.chunkOffsets = box.ChunkOffset
			}
		}

		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	if track == nil {
		return nil, ErrNoH264Track
	}

	return track, nil
}
