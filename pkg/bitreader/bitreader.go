// Package bitreader implements an MSB-first bit reader over a byte slice,
// the primitive spec.md §4 "Bit reader" names: peek/skip/get_bits/get_bit
// with EOS signalling.
//
// Grounded on the SPS/slice-header decode loops in
// _examples/other_examples/241b888b_ausocean-av__codec-h264-h264dec-sps.go.go
// and the NALU bit-field reads in
// _examples/other_examples/99afe196_bugVanisher-streamer__media-codec-h264parser-parser.go.go,
// both of which walk H.264 bitstreams bit-by-bit and exp-golomb-coded
// field by field; format/avc builds SPS/PPS/slice-header decoding on top
// of this reader the same way.
package bitreader

import "io"

// Reader reads bits MSB-first from a byte slice.
type Reader struct {
	data   []byte
	bitPos int // absolute bit position from the start of data
}

// New returns a Reader over b.
func New(b []byte) *Reader {
	return &Reader{data: b}
}

// BitsRemaining reports how many unread bits remain.
func (r *Reader) BitsRemaining() int {
	total := len(r.data) * 8
	if r.bitPos >= total {
		return 0
	}
	return total - r.bitPos
}

// EOS reports whether the reader has no more bits.
func (r *Reader) EOS() bool { return r.BitsRemaining() <= 0 }

// GetBit reads a single bit, MSB-first. Returns io.EOF at end of stream.
func (r *Reader) GetBit() (uint32, error) {
	if r.EOS() {
		return 0, io.EOF
	}
	byteIdx := r.bitPos >> 3
	bitIdx := 7 - uint(r.bitPos&7)
	bit := (uint32(r.data[byteIdx]) >> bitIdx) & 1
	r.bitPos++
	return bit, nil
}

// GetBits reads n (0..32) bits as a big-endian unsigned value.
func (r *Reader) GetBits(n int) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	if n > 32 {
		n = 32
	}
	if r.BitsRemaining() < n {
		return 0, io.EOF
	}
	var v uint32
	for i := 0; i < n; i++ {
		bit, err := r.GetBit()
		if err != nil {
			return 0, err
		}
		v = (v << 1) | bit
	}
	return v, nil
}

// PeekBits reads n bits without consuming them.
func (r *Reader) PeekBits(n int) (uint32, error) {
	save := r.bitPos
	v, err := r.GetBits(n)
	r.bitPos = save
	return v, err
}

// SkipBits advances the cursor by n bits without decoding them.
func (r *Reader) SkipBits(n int) error {
	if r.BitsRemaining() < n {
		return io.EOF
	}
	r.bitPos += n
	return nil
}

// ByteAlign advances the cursor to the next byte boundary.
func (r *Reader) ByteAlign() {
	if rem := r.bitPos & 7; rem != 0 {
		r.bitPos += 8 - rem
	}
}

// Position returns the current absolute bit position.
func (r *Reader) Position() int { return r.bitPos }

// GetUE reads an unsigned Exp-Golomb coded value (H.264 ue(v)).
func (r *Reader) GetUE() (uint32, error) {
	leadingZeros := 0
	for {
		bit, err := r.GetBit()
		if err != nil {
			return 0, err
		}
		if bit != 0 {
			break
		}
		leadingZeros++
		if leadingZeros > 32 {
			return 0, io.ErrUnexpectedEOF
		}
	}
	if leadingZeros == 0 {
		return 0, nil
	}
	suffix, err := r.GetBits(leadingZeros)
	if err != nil {
		return 0, err
	}
	return (1 << uint(leadingZeros)) - 1 + suffix, nil
}

// GetSE reads a signed Exp-Golomb coded value (H.264 se(v)).
func (r *Reader) GetSE() (int32, error) {
	ue, err := r.GetUE()
	if err != nil {
		return 0, err
	}
	if ue&1 != 0 {
		return int32((ue + 1) / 2), nil
	}
	return -int32(ue / 2), nil
}

// GetFlag reads a single bit as a bool.
func (r *Reader) GetFlag() (bool, error) {
	bit, err := r.GetBit()
	if err != nil {
		return false, err
	}
	return bit != 0, nil
}
