package avc

import "github.com/go-remux/remux/pkg/bitreader"

// aspectRatioTable is the VUI aspect_ratio_idc lookup (ISO/IEC 14496-10
// Table E-1), indices 1-16; index 0 and 17+ are reserved/unspecified.
var aspectRatioTable = [17][2]int{
	1:  {1, 1},
	2:  {12, 11},
	3:  {10, 11},
	4:  {16, 11},
	5:  {40, 33},
	6:  {24, 11},
	7:  {20, 11},
	8:  {32, 11},
	9:  {80, 33},
	10: {18, 11},
	11: {15, 11},
	12: {64, 33},
	13: {160, 99},
	14: {4, 3},
	15: {3, 2},
	16: {2, 1},
}

// SPS holds the sequence parameter set fields spec.md §4.6 "Parameter-set
// collection" names: enough of ISO/IEC 14496-10 §7.3.2.1.1 to recover
// profile/level/chroma, picture width/height including crop, the
// aspect-ratio indication, and VUI timing.
type SPS struct {
	ID uint32

	Profile       byte
	ConstraintSet byte // packed constraint_set0..5_flag + reserved bits, as it appears on the wire
	Level         byte

	ChromaFormatIDC uint32

	Width, Height int // display-cropped dimensions, in pixels

	AspectRatioInfoPresent bool
	AspectRatioIDC         int
	SARWidth, SARHeight    int // only meaningful when AspectRatioIDC == 255 (Extended_SAR)

	TimingInfoPresent bool
	NumUnitsInTick    uint32
	TimeScale         uint32
	FixedFrameRate    bool

	// Fields below aren't named in spec.md §4.6's SPS field list, but are
	// needed to decode slice headers far enough to implement its
	// access-unit boundary rule (frame_num, pic_order_cnt_lsb width, and
	// so on depend on them).
	SeparateColorPlaneFlag      bool
	Log2MaxFrameNumMinus4       uint32
	PicOrderCntType             uint32
	Log2MaxPicOrderCntLsbMinus4 uint32
	DeltaPicOrderAlwaysZeroFlag bool
	FrameMbsOnlyFlag            bool

	Raw []byte // the NALU payload (with start code/length prefix stripped), verbatim
}

// ParNumDen returns the pixel aspect ratio this SPS encodes, resolving
// the Extended_SAR (255) case via SARWidth/SARHeight and every other
// index via aspectRatioTable (spec.md §4.6 "aspect-ratio indication
// (including explicit sar_width/sar_height when aspect_ratio_info =
// 255)"). Returns 1/1 ("square pixels") if no VUI aspect-ratio info was
// present.
func (s *SPS) ParNumDen() (num, den int) {
	if !s.AspectRatioInfoPresent {
		return 1, 1
	}
	if s.AspectRatioIDC == 255 {
		if s.SARWidth == 0 || s.SARHeight == 0 {
			return 1, 1
		}
		return s.SARWidth, s.SARHeight
	}
	if s.AspectRatioIDC >= 1 && s.AspectRatioIDC <= 16 {
		r := aspectRatioTable[s.AspectRatioIDC]
		return r[0], r[1]
	}
	return 1, 1
}

// FrameRate derives a num/den frame rate from VUI timing_info, per
// ISO/IEC 14496-10 Annex E ("when fixed_frame_rate_flag is 1, the frame
// rate is time_scale / (2 * num_units_in_tick)"). time_scale is halved
// only when fixed_frame_rate_flag is set; otherwise time_scale /
// num_units_in_tick is reported unchanged.
func (s *SPS) FrameRate() (num, den int) {
	if !s.TimingInfoPresent || s.NumUnitsInTick == 0 {
		return 0, 0
	}
	num = int(s.TimeScale)
	den = int(s.NumUnitsInTick)
	if s.FixedFrameRate {
		num /= 2
	}
	return num, den
}

// profileHasChromaInfo reports whether profile_idc carries the extended
// SPS fields (chroma_format_idc, bit depths, scaling matrices) per
// ISO/IEC 14496-10 §7.3.2.1.1.
func profileHasChromaInfo(profile byte) bool {
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		return true
	}
	return false
}

// ParseSPS decodes a SPS NALU payload (start code/length prefix already
// stripped; the leading NALU header byte still present) into an SPS.
func ParseSPS(nalu []byte) (*SPS, error) {
	raw := append([]byte(nil), nalu...)
	b := deEmulate(nalu)
	if len(b) < 4 {
		return nil, shortNALU("ParseSPS")
	}
	br := bitreader.New(b)
	if _, err := br.GetBits(8); err != nil { // NALU header byte (forbidden_zero/ref_idc/type)
		return nil, err
	}
	sps := &SPS{Raw: raw}

	var err error
	var u32 func(n int) (uint32, error)
	u32 = func(n int) (uint32, error) {
		v, e := br.GetBits(n)
		return v, e
	}

	profile, err := u32(8)
	if err != nil {
		return nil, err
	}
	sps.Profile = byte(profile)
	constraints, err := u32(8) // constraint_set0..5_flag(6) + reserved_zero_2bits(2)
	if err != nil {
		return nil, err
	}
	sps.ConstraintSet = byte(constraints)
	level, err := u32(8)
	if err != nil {
		return nil, err
	}
	sps.Level = byte(level)

	if sps.ID, err = br.GetUE(); err != nil { // seq_parameter_set_id
		return nil, err
	}

	if profileHasChromaInfo(sps.Profile) {
		chroma, err := br.GetUE()
		if err != nil {
			return nil, err
		}
		sps.ChromaFormatIDC = chroma
		if chroma == 3 {
			if sps.SeparateColorPlaneFlag, err = br.GetFlag(); err != nil {
				return nil, err
			}
		}
		if _, err = br.GetUE(); err != nil { // bit_depth_luma_minus8
			return nil, err
		}
		if _, err = br.GetUE(); err != nil { // bit_depth_chroma_minus8
			return nil, err
		}
		if _, err = br.GetFlag(); err != nil { // qpprime_y_zero_transform_bypass_flag
			return nil, err
		}
		scalingPresent, err := br.GetFlag()
		if err != nil {
			return nil, err
		}
		if scalingPresent {
			count := 8
			if chroma == 3 {
				count = 12
			}
			for i := 0; i < count; i++ {
				present, err := br.GetFlag()
				if err != nil {
					return nil, err
				}
				if present {
					if err := skipScalingList(br, i); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	if sps.Log2MaxFrameNumMinus4, err = br.GetUE(); err != nil {
		return nil, err
	}
	picOrderCntType, err := br.GetUE()
	if err != nil {
		return nil, err
	}
	sps.PicOrderCntType = picOrderCntType
	switch picOrderCntType {
	case 0:
		if sps.Log2MaxPicOrderCntLsbMinus4, err = br.GetUE(); err != nil {
			return nil, err
		}
	case 1:
		if sps.DeltaPicOrderAlwaysZeroFlag, err = br.GetFlag(); err != nil {
			return nil, err
		}
		if _, err = br.GetSE(); err != nil { // offset_for_non_ref_pic
			return nil, err
		}
		if _, err = br.GetSE(); err != nil { // offset_for_top_to_bottom_field
			return nil, err
		}
		n, err := br.GetUE() // num_ref_frames_in_pic_order_cnt_cycle
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < n; i++ {
			if _, err = br.GetSE(); err != nil {
				return nil, err
			}
		}
	}

	if _, err = br.GetUE(); err != nil { // max_num_ref_frames
		return nil, err
	}
	if _, err = br.GetFlag(); err != nil { // gaps_in_frame_num_value_allowed_flag
		return nil, err
	}
	widthMBsMinus1, err := br.GetUE()
	if err != nil {
		return nil, err
	}
	heightMapUnitsMinus1, err := br.GetUE()
	if err != nil {
		return nil, err
	}
	frameMBSOnly, err := br.GetFlag()
	if err != nil {
		return nil, err
	}
	sps.FrameMbsOnlyFlag = frameMBSOnly
	if !frameMBSOnly {
		if _, err = br.GetFlag(); err != nil { // mb_adaptive_frame_field_flag
			return nil, err
		}
	}
	if _, err = br.GetFlag(); err != nil { // direct_8x8_inference_flag
		return nil, err
	}
	cropPresent, err := br.GetFlag()
	if err != nil {
		return nil, err
	}
	var cropLeft, cropRight, cropTop, cropBottom uint32
	if cropPresent {
		if cropLeft, err = br.GetUE(); err != nil {
			return nil, err
		}
		if cropRight, err = br.GetUE(); err != nil {
			return nil, err
		}
		if cropTop, err = br.GetUE(); err != nil {
			return nil, err
		}
		if cropBottom, err = br.GetUE(); err != nil {
			return nil, err
		}
	}

	frameMBSOnlyInt := uint32(0)
	if frameMBSOnly {
		frameMBSOnlyInt = 1
	}
	sps.Width = int((widthMBsMinus1+1)*16 - cropLeft*2 - cropRight*2)
	sps.Height = int((2-frameMBSOnlyInt)*(heightMapUnitsMinus1+1)*16 - cropTop*2 - cropBottom*2)

	vuiPresent, err := br.GetFlag()
	if err != nil {
		return nil, err
	}
	if vuiPresent {
		if err := parseVUI(br, sps); err != nil {
			return nil, err
		}
	}
	return sps, nil
}

// skipScalingList consumes one seq_scaling_list_present_flag==1 scaling
// list (ISO/IEC 14496-10 §7.3.2.1.1.1) without retaining its values;
// this parser has no decoder path that needs the coefficients, only the
// bit position past them.
func skipScalingList(br *bitreader.Reader, listIdx int) error {
	size := 16
	if listIdx >= 6 {
		size = 64
	}
	lastScale, nextScale := int32(8), int32(8)
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := br.GetSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// parseVUI decodes enough of vui_parameters (ISO/IEC 14496-10 Annex E.1)
// to recover the aspect ratio and timing fields spec.md §4.6 names.
func parseVUI(br *bitreader.Reader, sps *SPS) error {
	arPresent, err := br.GetFlag()
	if err != nil {
		return err
	}
	sps.AspectRatioInfoPresent = arPresent
	if arPresent {
		idc, err := br.GetBits(8)
		if err != nil {
			return err
		}
		sps.AspectRatioIDC = int(idc)
		if idc == 255 {
			w, err := br.GetBits(16)
			if err != nil {
				return err
			}
			h, err := br.GetBits(16)
			if err != nil {
				return err
			}
			sps.SARWidth, sps.SARHeight = int(w), int(h)
		}
	}

	overscanPresent, err := br.GetFlag()
	if err != nil {
		return err
	}
	if overscanPresent {
		if _, err = br.GetFlag(); err != nil {
			return err
		}
	}

	videoSignalPresent, err := br.GetFlag()
	if err != nil {
		return err
	}
	if videoSignalPresent {
		if _, err = br.GetBits(3); err != nil { // video_format
			return err
		}
		if _, err = br.GetFlag(); err != nil { // video_full_range_flag
			return err
		}
		colourDescPresent, err := br.GetFlag()
		if err != nil {
			return err
		}
		if colourDescPresent {
			if _, err = br.GetBits(8); err != nil {
				return err
			}
			if _, err = br.GetBits(8); err != nil {
				return err
			}
			if _, err = br.GetBits(8); err != nil {
				return err
			}
		}
	}

	chromaLocPresent, err := br.GetFlag()
	if err != nil {
		return err
	}
	if chromaLocPresent {
		if _, err = br.GetUE(); err != nil {
			return err
		}
		if _, err = br.GetUE(); err != nil {
			return err
		}
	}

	timingPresent, err := br.GetFlag()
	if err != nil {
		return err
	}
	sps.TimingInfoPresent = timingPresent
	if timingPresent {
		numUnits, err := br.GetBits(32)
		if err != nil {
			return err
		}
		timeScale, err := br.GetBits(32)
		if err != nil {
			return err
		}
		fixed, err := br.GetFlag()
		if err != nil {
			return err
		}
		sps.NumUnitsInTick = numUnits
		sps.TimeScale = timeScale
		sps.FixedFrameRate = fixed
	}
	// Remaining VUI fields (NAL/VCL HRD parameters, pic_struct_present,
	// bitstream_restriction) aren't needed by anything in spec.md §4.6
	// and are left unparsed; this parser never reads past here.
	return nil
}

func shortNALU(op string) error {
	return &shortNALUError{op: op}
}

type shortNALUError struct{ op string }

func (e *shortNALUError) Error() string { return e.op + ": NALU too short to parse" }
