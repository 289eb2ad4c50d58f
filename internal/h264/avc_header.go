package h264

import (
	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/bluenviron/reframer/internal/logger"
)

// AVCHeader contains the fields of a sequence parameter set that describe
// profile, level and reference frames of a stream.
type AVCHeader struct {
	Profile int
	Level   int

	// maximum number of reference frames, or -1 if the SPS is truncated.
	RefFrames int

	// whether the SPS ended before max_num_ref_frames.
	Truncated bool

	// receives a warning when the SPS is truncated. Optional.
	Parent logger.Writer
}

// Unmarshal decodes a SPS payload, without the NALU header byte
// and without emulation prevention bytes.
// It never fails: fields that can't be read are left to zero
// and RefFrames is set to -1.
func (h *AVCHeader) Unmarshal(buf []byte) {
	r := &bitReader{buf: buf}

	h.Profile = int(r.readBits(8))
	r.readBits(8) // constraint flags
	h.Level = int(r.readBits(8))
	r.readUE() // seq_parameter_set_id

	switch h.Profile {
	case 100, 110, 122, 144:
		chromaFormat := r.readUE()
		if chromaFormat == 3 {
			r.readFlag() // separate_colour_plane_flag
		}

		r.readUE()   // bit_depth_luma_minus8
		r.readUE()   // bit_depth_chroma_minus8
		r.readFlag() // qpprime_y_zero_transform_bypass_flag

		if r.readFlag() { // seq_scaling_matrix_present_flag
			count := 8
			if chromaFormat == 3 {
				count = 12
			}

			for i := 0; i < count; i++ {
				if r.readFlag() {
					if i < 6 {
						skipScalingList(r, 16)
					} else {
						skipScalingList(r, 64)
					}
				}
			}
		}
	}

	r.readUE() // log2_max_frame_num_minus4

	switch r.readUE() { // pic_order_cnt_type
	case 0:
		r.readUE() // log2_max_pic_order_cnt_lsb_minus4

	case 1:
		r.readFlag() // delta_pic_order_always_zero_flag
		r.readSE()   // offset_for_non_ref_pic
		r.readSE()   // offset_for_top_to_bottom_field

		n := r.readUE()
		for i := uint32(0); i < n && !r.failed; i++ {
			r.readSE() // offset_for_ref_frame
		}
	}

	refFrames := r.readUE()

	if r.failed {
		h.RefFrames = -1
		h.Truncated = true

		if h.Parent != nil {
			h.Parent.Log(logger.Warn, "SPS is truncated (%d bytes), unable to read reference frames", len(buf))
		}
		return
	}

	h.RefFrames = int(refFrames)
	h.Truncated = false
}

// UnmarshalNALU decodes a SPS NALU, header byte and emulation prevention bytes included.
func (h *AVCHeader) UnmarshalNALU(nalu []byte) {
	if len(nalu) != 0 {
		nalu = mch264.EmulationPreventionRemove(nalu[1:])
	}
	h.Unmarshal(nalu)
}

func skipScalingList(r *bitReader, size int) {
	last := 8

	for j := 0; j < size; j++ {
		next := (last + int(r.readSE()) + 256) % 256
		if next == 0 || r.failed {
			return
		}
		last = next
	}
}
