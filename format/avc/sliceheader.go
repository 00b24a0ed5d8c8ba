package avc

import "github.com/go-remux/remux/pkg/bitreader"

// sliceHeader holds the minimal set of slice_header fields spec.md §4.6
// "Access-unit boundary detection" compares across consecutive slice
// NALUs to decide whether a new access unit has begun.
type sliceHeader struct {
	ppsID          uint32
	frameNum       uint32
	fieldPic       bool
	bottomField    bool
	idr            bool
	idrPicID       uint32
	picOrderCntLSB uint32
	deltaPOCBottom int32
	deltaPOC0      int32
	deltaPOC1      int32
}

// sameAccessUnit reports whether b belongs to the same access unit as a,
// per the field-by-field comparison spec.md §4.6 enumerates. a and b
// must be slices of the same coded picture candidate (both VCL NALUs).
func sameAccessUnit(a, b *sliceHeader) bool {
	if a.frameNum != b.frameNum {
		return false
	}
	if a.ppsID != b.ppsID {
		return false
	}
	if a.fieldPic != b.fieldPic {
		return false
	}
	if a.fieldPic && a.bottomField != b.bottomField {
		return false
	}
	if a.idr != b.idr {
		return false
	}
	if a.idr && a.idrPicID != b.idrPicID {
		return false
	}
	if a.picOrderCntLSB != b.picOrderCntLSB {
		return false
	}
	if sign(a.deltaPOCBottom) != sign(b.deltaPOCBottom) || a.deltaPOCBottom != b.deltaPOCBottom {
		return false
	}
	if sign(a.deltaPOC0) != sign(b.deltaPOC0) || a.deltaPOC0 != b.deltaPOC0 {
		return false
	}
	if sign(a.deltaPOC1) != sign(b.deltaPOC1) || a.deltaPOC1 != b.deltaPOC1 {
		return false
	}
	return true
}

func sign(v int32) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// parseSliceHeader decodes the prefix of a slice_header (following the
// NALU header byte, which nalType/idr identify) needed by
// sameAccessUnit. pps must be the PPS named by the slice's
// pic_parameter_set_id; sps must be the SPS that pps refers to.
func parseSliceHeader(nalu []byte, nalType int, sps *SPS, ppsByID func(uint32) *PPS) (*sliceHeader, error) {
	b := deEmulate(nalu)
	if len(b) < 2 {
		return nil, shortNALU("parseSliceHeader")
	}
	br := bitreader.New(b)
	if _, err := br.GetBits(8); err != nil { // NALU header byte
		return nil, err
	}

	sh := &sliceHeader{idr: nalType == NALUTypeIDRSlice}

	if _, err := br.GetUE(); err != nil { // first_mb_in_slice
		return nil, err
	}
	if _, err := br.GetUE(); err != nil { // slice_type
		return nil, err
	}
	ppsID, err := br.GetUE()
	if err != nil {
		return nil, err
	}
	sh.ppsID = ppsID

	pps := ppsByID(ppsID)
	if pps == nil || sps == nil {
		// No parameter sets known yet: the best this parser can do is
		// treat every slice as its own access unit until SPS/PPS arrive.
		return sh, nil
	}

	if sps.SeparateColorPlaneFlag {
		if _, err := br.GetBits(2); err != nil { // colour_plane_id
			return nil, err
		}
	}
	frameNumBits := int(sps.Log2MaxFrameNumMinus4) + 4
	frameNum, err := br.GetBits(frameNumBits)
	if err != nil {
		return nil, err
	}
	sh.frameNum = frameNum

	if !sps.FrameMbsOnlyFlag {
		fieldPic, err := br.GetFlag()
		if err != nil {
			return nil, err
		}
		sh.fieldPic = fieldPic
		if fieldPic {
			if sh.bottomField, err = br.GetFlag(); err != nil {
				return nil, err
			}
		}
	}

	if sh.idr {
		if sh.idrPicID, err = br.GetUE(); err != nil {
			return nil, err
		}
	}

	if sps.PicOrderCntType == 0 {
		lsbBits := int(sps.Log2MaxPicOrderCntLsbMinus4) + 4
		if sh.picOrderCntLSB, err = br.GetBits(lsbBits); err != nil {
			return nil, err
		}
		if pps.PicOrderPresent && !sh.fieldPic {
			if sh.deltaPOCBottom, err = br.GetSE(); err != nil {
				return nil, err
			}
		}
	} else if sps.PicOrderCntType == 1 && !sps.DeltaPicOrderAlwaysZeroFlag {
		if sh.deltaPOC0, err = br.GetSE(); err != nil {
			return nil, err
		}
		if pps.PicOrderPresent && !sh.fieldPic {
			if sh.deltaPOC1, err = br.GetSE(); err != nil {
				return nil, err
			}
		}
	}

	return sh, nil
}
