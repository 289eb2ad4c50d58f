package test

import (
	"os"

	gomp4 "github.com/abema/go-mp4"
)

type mp4Writer struct {
	w *gomp4.Writer
}

func (w *mp4Writer) writeBoxStart(box gomp4.IImmutableBox) (int, error) {
	bi := &gomp4.BoxInfo{
		Type: box.GetType(),
	}
	var err error
	bi, err = w.w.StartBox(bi)
	if err != nil {
		return 0, err
	}

	_, err = gomp4.Marshal(w.w, box, gomp4.Context{})
	if err != nil {
		return 0, err
	}

	return int(bi.Offset), nil
}

func (w *mp4Writer) writeBoxEnd() error {
	_, err := w.w.EndBox()
	return err
}

func (w *mp4Writer) writeBox(box gomp4.IImmutableBox) (int, error) {
	off, err := w.writeBoxStart(box)
	if err != nil {
		return 0, err
	}

	err = w.writeBoxEnd()
	if err != nil {
		return 0, err
	}

	return off, nil
}

func (w *mp4Writer) writeBoxes(boxes ...gomp4.IImmutableBox) error {
	for _, box := range boxes {
		_, err := w.writeBox(box)
		if err != nil {
			return err
		}
	}
	return nil
}

// MP4Track is a H264 track written by MP4.
type MP4Track struct {
	SPS []byte
	PPS []byte

	// size of NALU length prefixes. It defaults to 4.
	LengthSize int

	// samples, in AVCC format.
	Samples [][]byte

	// It defaults to 1.
	SamplesPerChunk int
}

// MP4 generates a MP4 file that contains a metadata track and the given H264 track.
func MP4(track MP4Track) ([]byte, error) {
	if track.LengthSize == 0 {
		track.LengthSize = 4
	}
	if track.SamplesPerChunk == 0 {
		track.SamplesPerChunk = 1
	}

	f, err := os.CreateTemp(os.TempDir(), "reframer-")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	w := &mp4Writer{w: gomp4.NewWriter(f)}

	/*
		|ftyp|
		|mdat|
		|moov|
		|    |trak| (metadata)
		|    |trak| (H264)
		|    |    |tkhd|
		|    |    |mdia|
		|    |    |    |mdhd|
		|    |    |    |minf|
		|    |    |    |    |stbl|
		|    |    |    |    |    |stsd|
		|    |    |    |    |    |    |avc1|
		|    |    |    |    |    |    |    |avcC|
		|    |    |    |    |    |stsc|
		|    |    |    |    |    |stsz|
		|    |    |    |    |    |stco|
	*/

	_, err = w.writeBox(&gomp4.Ftyp{
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 1,
		CompatibleBrands: []gomp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'a', 'v', 'c', '1'}},
		},
	})
	if err != nil {
		return nil, err
	}

	var data []byte
	sizes := make([]uint32, len(track.Samples))
	for i, sa := range track.Samples {
		data = append(data, sa...)
		sizes[i] = uint32(len(sa))
	}

	mdatOffset, err := w.writeBox(&gomp4.Mdat{Data: data})
	if err != nil {
		return nil, err
	}

	var chunkOffsets []uint32
	off := uint32(mdatOffset + 8)
	for i, sa := range track.Samples {
		if i%track.SamplesPerChunk == 0 {
			chunkOffsets = append(chunkOffsets, off)
		}
		off += uint32(len(sa))
	}

	_, err = w.writeBoxStart(&gomp4.Moov{})
	if err != nil {
		return nil, err
	}

	err = writeMP4Trak(w, 1, nil, nil, nil, nil)
	if err != nil {
		return nil, err
	}

	err = writeMP4Trak(w, 2, &gomp4.AVCDecoderConfiguration{
		AnyTypeBox: gomp4.AnyTypeBox{
			Type: gomp4.BoxTypeAvcC(),
		},
		ConfigurationVersion:       1,
		Profile:                    track.SPS[1],
		ProfileCompatibility:       track.SPS[2],
		Level:                      track.SPS[3],
		LengthSizeMinusOne:         uint8(track.LengthSize - 1),
		NumOfSequenceParameterSets: 1,
		SequenceParameterSets: []gomp4.AVCParameterSet{
			{
				Length:  uint16(len(track.SPS)),
				NALUnit: track.SPS,
			},
		},
		NumOfPictureParameterSets: 1,
		PictureParameterSets: []gomp4.AVCParameterSet{
			{
				Length:  uint16(len(track.PPS)),
				NALUnit: track.PPS,
			},
		},
	}, sizes, chunkOffsets, []gomp4.StscEntry{{
		FirstChunk:             1,
		SamplesPerChunk:        uint32(track.SamplesPerChunk),
		SampleDescriptionIndex: 1,
	}})
	if err != nil {
		return nil, err
	}

	err = w.writeBoxEnd() // </moov>
	if err != nil {
		return nil, err
	}

	err = f.Close()
	if err != nil {
		return nil, err
	}

	return os.ReadFile(f.Name())
}

func writeMP4Trak(
	w *mp4Writer,
	id uint32,
	avcC *gomp4.AVCDecoderConfiguration,
	sizes []uint32,
	chunkOffsets []uint32,
	stscEntries []gomp4.StscEntry,
) error {
	_, err := w.writeBoxStart(&gomp4.Trak{})
	if err != nil {
		return err
	}

	err = w.writeBoxes(&gomp4.Tkhd{
		FullBox: gomp4.FullBox{
			Flags: [3]byte{0, 0, 3},
		},
		TrackID: id,
		Matrix:  [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000},
	})
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&gomp4.Mdia{})
	if err != nil {
		return err
	}

	err = w.writeBoxes(&gomp4.Mdhd{
		Timescale: 90000,
		Language:  [3]byte{'u', 'n', 'd'},
	})
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&gomp4.Minf{})
	if err != nil {
		return err
	}

	_, err = w.writeBoxStart(&gomp4.Stbl{})
	if err != nil {
		return err
	}

	if avcC != nil {
		_, err = w.writeBoxStart(&gomp4.Stsd{EntryCount: 1})
		if err != nil {
			return err
		}

		_, err = w.writeBoxStart(&gomp4.VisualSampleEntry{
			SampleEntry: gomp4.SampleEntry{
				AnyTypeBox: gomp4.AnyTypeBox{
					Type: gomp4.BoxTypeAvc1(),
				},
				DataReferenceIndex: 1,
			},
			Width:           1920,
			Height:          1080,
			Horizresolution: 4718592,
			Vertresolution:  4718592,
			FrameCount:      1,
			Depth:           24,
			PreDefined3:     -1,
		})
		if err != nil {
			return err
		}

		err = w.writeBoxes(avcC)
		if err != nil {
			return err
		}

		err = w.writeBoxEnd() // </avc1>
		if err != nil {
			return err
		}

		err = w.writeBoxEnd() // </stsd>
		if err != nil {
			return err
		}
	}

	err = w.writeBoxes(
		&gomp4.Stsc{
			EntryCount: uint32(len(stscEntries)),
			Entries:    stscEntries,
		},
		&gomp4.Stsz{
			SampleCount: uint32(len(sizes)),
			EntrySize:   sizes,
		},
		&gomp4.Stco{
			EntryCount:  uint32(len(chunkOffsets)),
			ChunkOffset: chunkOffsets,
		},
	)
	if err != nil {
		return err
	}

	// </stbl>, </minf>, </mdia>, </trak>
	for i := 0; i < 4; i++ {
		err = w.writeBoxEnd()
		if err != nil {
			return err
		}
	}

	return nil
}
