// Package entropy implements the binary arithmetic coders used by the
// decoder.
//
// This includes:
// - CABAC decoding engine for HEVC slice data (ITU-T H.265 clause 9.3.4.3)
// - CABAC encoding engine used to build test bitstreams
// - VP8 boolean decoder and encoder (RFC 6386 section 7)
package entropy

import "github.com/pkg/errors"

// ErrCoderUnderflow is reported when a decoder needs more bytes than its
// input holds.
var ErrCoderUnderflow = errors.New("entropy: arithmetic decoder ran past end of data")

// State transition after decoding the most probable symbol.
var transIdxMPS = [64]uint8{
	1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
	17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32,
	33, 34, 35, 36, 37, 38, 39, 40, 41, 42, 43, 44, 45, 46, 47, 48,
	49, 50, 51, 52, 53, 54, 55, 56, 57, 58, 59, 60, 61, 62, 62, 63,
}

// State transition after decoding the least probable symbol.
var transIdxLPS = [64]uint8{
	0, 0, 1, 2, 2, 4, 4, 5, 6, 7, 8, 9, 9, 11, 11, 12,
	13, 13, 15, 15, 16, 16, 18, 18, 19, 19, 21, 21, 22, 22, 23, 24,
	24, 25, 26, 26, 27, 27, 28, 29, 29, 30, 30, 30, 31, 32, 32, 33,
	33, 33, 34, 34, 35, 35, 35, 36, 36, 36, 37, 37, 37, 38, 38, 63,
}

// Renormalization shift after an LPS, indexed by rangeLPS>>3.
var renormTable = [32]uint8{
	6, 5, 4, 4, 3, 3, 3, 3, 2, 2, 2, 2, 2, 2, 2, 2,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
}

// LPS sub-range indexed by [state][(range>>6)&3].
var rangeTabLPS = [64][4]uint8{
	{128, 176, 208, 240}, {128, 167, 197, 227}, {128, 158, 187, 216}, {123, 150, 178, 205},
	{116, 142, 169, 195}, {111, 135, 160, 185}, {105, 128, 152, 175}, {100, 122, 144, 166},
	{95, 116, 137, 158}, {90, 110, 130, 150}, {85, 104, 123, 142}, {81, 99, 117, 135},
	{77, 94, 111, 128}, {73, 89, 105, 122}, {69, 85, 100, 116}, {66, 80, 95, 110},
	{62, 76, 90, 104}, {59, 72, 86, 99}, {56, 69, 81, 94}, {53, 65, 77, 89},
	{51, 62, 73, 85}, {48, 59, 69, 80}, {46, 56, 66, 76}, {43, 53, 63, 72},
	{41, 50, 59, 69}, {39, 48, 56, 65}, {37, 45, 54, 62}, {35, 43, 51, 59},
	{33, 41, 48, 56}, {32, 39, 46, 53}, {30, 37, 43, 50}, {29, 35, 41, 48},
	{27, 33, 39, 45}, {26, 31, 37, 43}, {24, 30, 35, 41}, {23, 28, 33, 39},
	{22, 27, 32, 37}, {21, 26, 30, 35}, {20, 24, 29, 33}, {19, 23, 27, 31},
	{18, 22, 26, 30}, {17, 21, 25, 28}, {16, 20, 23, 27}, {15, 19, 22, 25},
	{14, 18, 21, 24}, {14, 17, 20, 23}, {13, 16, 19, 22}, {12, 15, 18, 21},
	{12, 14, 17, 20}, {11, 14, 16, 19}, {11, 13, 15, 18}, {10, 12, 15, 17},
	{10, 12, 14, 16}, {9, 11, 13, 15}, {9, 11, 12, 14}, {8, 10, 12, 14},
	{8, 9, 11, 13}, {7, 9, 11, 12}, {7, 9, 10, 12}, {7, 8, 10, 11},
	{6, 8, 9, 11}, {6, 7, 9, 10}, {6, 7, 8, 9}, {2, 2, 2, 2},
}

// CABACDecoder implements the HEVC arithmetic decoding engine together
// with the context models it adapts.
//
// value holds the 9-bit offset register scaled by 2^7 plus up to seven
// prefetched bits. bitsNeeded counts up from -8; at zero the next byte is
// shifted in.
type CABACDecoder struct {
	data []byte
	pos  int

	value      uint32
	rng        uint32
	bitsNeeded int

	contexts ContextSet

	overrun int
	err     error
}

// NewCABACDecoder creates a decoder over the slice data starting at data[0].
// Contexts are left zeroed; call InitContexts or SetContexts before decoding
// context-coded bins.
func NewCABACDecoder(data []byte) *CABACDecoder {
	d := &CABACDecoder{}
	d.Reset(data)
	return d
}

// Reset restarts the arithmetic decoder on data without touching the
// context models.
func (d *CABACDecoder) Reset(data []byte) {
	d.data = data
	d.pos = 0
	d.rng = 510
	d.overrun = 0
	// 16 bits: the 9-bit offset and 7 prefetched bits.
	d.value = uint32(d.nextByte()) << 8
	d.value |= uint32(d.nextByte())
	d.bitsNeeded = -8
}

// nextByte returns the next input byte, or zero past the end.
func (d *CABACDecoder) nextByte() byte {
	if d.pos < len(d.data) {
		b := d.data[d.pos]
		d.pos++
		return b
	}
	d.overrun++
	if d.overrun > 2 && d.err == nil {
		d.err = ErrCoderUnderflow
	}
	return 0
}

// InitContexts initializes every context for the given initType and
// slice QP.
func (d *CABACDecoder) InitContexts(initType, qp int) {
	d.contexts = NewContextSet(initType, qp)
}

// Contexts returns a copy of the current context models.
func (d *CABACDecoder) Contexts() ContextSet {
	return d.contexts
}

// SetContexts replaces the context models with a saved copy.
func (d *CABACDecoder) SetContexts(cs ContextSet) {
	d.contexts = cs
}

// DecodeDecision decodes one context-coded bin.
func (d *CABACDecoder) DecodeDecision(ctxIdx int) int {
	ctx := &d.contexts[ctxIdx]
	lps := uint32(rangeTabLPS[ctx.State][(d.rng>>6)&3])
	d.rng -= lps
	scaled := d.rng << 7

	if d.value < scaled {
		// MPS path
		bit := int(ctx.MPS)
		ctx.State = transIdxMPS[ctx.State]
		if scaled < 256<<7 {
			d.rng = scaled >> 6
			d.value <<= 1
			d.bitsNeeded++
			if d.bitsNeeded == 0 {
				d.bitsNeeded = -8
				d.value |= uint32(d.nextByte())
			}
		}
		return bit
	}

	// LPS path
	d.value -= scaled
	nb := renormTable[lps>>3]
	d.value <<= nb
	d.rng = lps << nb
	bit := 1 - int(ctx.MPS)
	if ctx.State == 0 {
		ctx.MPS = 1 - ctx.MPS
	}
	ctx.State = transIdxLPS[ctx.State]
	d.bitsNeeded += int(nb)
	if d.bitsNeeded >= 0 {
		d.value |= uint32(d.nextByte()) << uint(d.bitsNeeded)
		d.bitsNeeded -= 8
	}
	return bit
}

// DecodeBypass decodes one equiprobable bin.
func (d *CABACDecoder) DecodeBypass() int {
	d.value <<= 1
	d.bitsNeeded++
	if d.bitsNeeded >= 0 {
		d.bitsNeeded = -8
		d.value |= uint32(d.nextByte())
	}
	scaled := d.rng << 7
	if d.value >= scaled {
		d.value -= scaled
		return 1
	}
	return 0
}

// DecodeBypassBits decodes n bypass bins as an unsigned value, most
// significant bin first.
func (d *CABACDecoder) DecodeBypassBits(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v = v<<1 | uint32(d.DecodeBypass())
	}
	return v
}

// DecodeTerminate decodes end_of_slice_segment_flag, end_of_subset_one_bit
// or pcm_flag. After a 1 the engine is finished and BytePosition gives the
// first byte after the arithmetic-coded data.
func (d *CABACDecoder) DecodeTerminate() int {
	d.rng -= 2
	scaled := d.rng << 7
	if d.value >= scaled {
		return 1
	}
	if scaled < 256<<7 {
		d.rng = scaled >> 6
		d.value <<= 1
		d.bitsNeeded++
		if d.bitsNeeded == 0 {
			d.bitsNeeded = -8
			d.value |= uint32(d.nextByte())
		}
	}
	return 0
}

// AlignBypass implements cabac_bypass_alignment: the range is fixed to 256
// so that following bypass bins read raw bits.
func (d *CABACDecoder) AlignBypass() {
	d.rng = 256
}

// BytePosition returns the index of the first input byte not yet loaded.
// After DecodeTerminate returned 1 this is where byte-aligned data
// (PCM samples or the next substream) begins.
func (d *CABACDecoder) BytePosition() int {
	if d.pos > len(d.data) {
		return len(d.data)
	}
	return d.pos
}

// Err returns ErrCoderUnderflow once the decoder has run past its input.
func (d *CABACDecoder) Err() error {
	return d.err
}
