package avc

import "github.com/go-remux/remux/pkg/bitreader"

// PPS holds the picture parameter set fields spec.md §4.6 "Parameter-set
// collection" names: "PPS parsing only records the SPS it refers to and
// the pic_order_present flag" (ISO/IEC 14496-10 §7.3.2.2).
type PPS struct {
	ID    uint32
	SPSID uint32

	PicOrderPresent bool

	Raw []byte
}

// ParsePPS decodes a PPS NALU payload (start code/length prefix already
// stripped; the leading NALU header byte still present). Only the
// fields through pic_order_present_flag are decoded; everything after
// is outside this parser's scope and is never read.
func ParsePPS(nalu []byte) (*PPS, error) {
	raw := append([]byte(nil), nalu...)
	b := deEmulate(nalu)
	if len(b) < 2 {
		return nil, shortNALU("ParsePPS")
	}
	br := bitreader.New(b)
	if _, err := br.GetBits(8); err != nil { // NALU header byte
		return nil, err
	}

	pps := &PPS{Raw: raw}
	var err error
	if pps.ID, err = br.GetUE(); err != nil { // pic_parameter_set_id
		return nil, err
	}
	if pps.SPSID, err = br.GetUE(); err != nil { // seq_parameter_set_id
		return nil, err
	}
	if _, err = br.GetFlag(); err != nil { // entropy_coding_mode_flag
		return nil, err
	}
	if pps.PicOrderPresent, err = br.GetFlag(); err != nil { // pic_order_present_flag
		return nil, err
	}
	return pps, nil
}
