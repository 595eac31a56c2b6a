package entropy

import "math/bits"

// BoolDecoder implements the VP8 boolean entropy decoder (RFC 6386 section 7).
//
// The coding range is stored minus one so that it always fits in 8 bits:
// between decisions rng lies in [127, 254].
type BoolDecoder struct {
	data []byte
	pos  int

	value uint32 // Unread high bits, aligned so value>>bits is the 8-bit window
	rng   uint32 // Range - 1
	bits  int    // Valid bits in value below the window; negative requests a refill

	// Bytes fed in past the end of data
	overrun int
	err     error
}

// NewBoolDecoder creates a boolean decoder over data.
func NewBoolDecoder(data []byte) *BoolDecoder {
	d := &BoolDecoder{
		data: data,
		rng:  255 - 1,
		bits: -8,
	}
	d.load()
	return d
}

// load shifts whole bytes into value until at least one spare bit exists.
// Past the end of data zeros are fed; more than two such bytes is an
// underflow.
func (d *BoolDecoder) load() {
	for d.bits < 0 {
		var b byte
		if d.pos < len(d.data) {
			b = d.data[d.pos]
			d.pos++
		} else {
			d.overrun++
			if d.overrun > 2 && d.err == nil {
				d.err = ErrCoderUnderflow
			}
		}
		d.value = d.value<<8 | uint32(b)
		d.bits += 8
	}
}

// Decide decodes one boolean whose probability of being zero is prob/256.
func (d *BoolDecoder) Decide(prob uint8) int {
	if d.bits < 0 {
		d.load()
	}
	split := (d.rng * uint32(prob)) >> 8
	value := d.value >> uint(d.bits)

	var bit int
	var r uint32
	if value > split {
		r = d.rng - split
		d.value -= (split + 1) << uint(d.bits)
		bit = 1
	} else {
		r = split + 1
	}

	shift := 7 ^ (bits.Len32(r) - 1)
	r <<= uint(shift)
	d.bits -= shift
	d.rng = r - 1
	return bit
}

// decideMask decodes an equiprobable boolean and returns 0 or -1.
// Below the initial range the renormalization is always a single bit, so
// it is done without a branch on the decoded value.
func (d *BoolDecoder) decideMask() int32 {
	if d.rng == 255-1 {
		return -int32(d.Decide(128))
	}
	if d.bits < 0 {
		d.load()
	}
	pos := uint(d.bits)
	split := d.rng >> 1
	value := d.value >> pos
	mask := int32(split-value) >> 31

	d.bits--
	d.rng = uint32(int32(d.rng)+mask) | 1
	d.value -= ((split + 1) & uint32(mask)) << pos
	return mask
}

// DecideEquiprobable decodes a boolean with probability one half.
func (d *BoolDecoder) DecideEquiprobable() int {
	return d.Decide(128)
}

// DecodeBits decodes an n-bit unsigned literal, most significant bit first.
func (d *BoolDecoder) DecodeBits(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v = v<<1 | uint32(d.DecideEquiprobable())
	}
	return v
}

// DecodeSigned returns v or -v depending on one equiprobable decision.
func (d *BoolDecoder) DecodeSigned(v int) int {
	mask := int(d.decideMask())
	return (v ^ mask) - mask
}

// DecodeOptionalSigned reads a presence flag, an n-bit magnitude and a sign
// bit, the layout used by VP8 header deltas. Absent values are zero.
func (d *BoolDecoder) DecodeOptionalSigned(n int) int {
	if d.DecideEquiprobable() == 0 {
		return 0
	}
	v := int(d.DecodeBits(n))
	if d.DecideEquiprobable() == 1 {
		return -v
	}
	return v
}

// DecodeTree walks a VP8 coding tree. Positive tree entries index the next
// node pair; other entries are negated leaf values. probs[i>>1] is the
// probability at node i.
func (d *BoolDecoder) DecodeTree(tree []int8, probs []uint8) int {
	i := 0
	for {
		i = int(tree[i+d.Decide(probs[i>>1])])
		if i <= 0 {
			return -i
		}
	}
}

// Range returns the current range minus one.
func (d *BoolDecoder) Range() uint32 {
	return d.rng
}

// Err returns ErrCoderUnderflow once the decoder has run past its input.
func (d *BoolDecoder) Err() error {
	return d.err
}

// BoolEncoder implements the VP8 boolean entropy encoder
// (RFC 6386 section 7.3).
type BoolEncoder struct {
	buf      []byte
	rng      uint32
	bottom   uint32
	bitCount int
}

// NewBoolEncoder creates a boolean encoder.
func NewBoolEncoder() *BoolEncoder {
	return &BoolEncoder{
		buf:      make([]byte, 0, 256),
		rng:      255,
		bitCount: 24,
	}
}

// addOne propagates a carry into the bytes already written.
func (e *BoolEncoder) addOne() {
	i := len(e.buf) - 1
	for i >= 0 && e.buf[i] == 0xFF {
		e.buf[i] = 0
		i--
	}
	if i >= 0 {
		e.buf[i]++
	}
}

// Encode writes one boolean whose probability of being zero is prob/256.
func (e *BoolEncoder) Encode(prob uint8, bit int) {
	split := 1 + (((e.rng - 1) * uint32(prob)) >> 8)
	if bit != 0 {
		e.bottom += split
		e.rng -= split
	} else {
		e.rng = split
	}
	for e.rng < 128 {
		e.rng <<= 1
		if e.bottom&(1<<31) != 0 {
			e.addOne()
		}
		e.bottom <<= 1
		e.bitCount--
		if e.bitCount == 0 {
			e.buf = append(e.buf, byte(e.bottom>>24))
			e.bottom &= (1 << 24) - 1
			e.bitCount = 8
		}
	}
}

// EncodeBits writes an n-bit literal, most significant bit first.
func (e *BoolEncoder) EncodeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		e.Encode(128, int(v>>uint(i))&1)
	}
}

// Flush pads the final bytes and returns the encoded data.
func (e *BoolEncoder) Flush() []byte {
	c := e.bitCount
	v := e.bottom
	if v&(1<<uint(32-c)) != 0 {
		e.addOne()
	}
	v <<= uint(c & 7)
	for c >>= 3; c > 0; c-- {
		v <<= 8
	}
	for i := 0; i < 4; i++ {
		e.buf = append(e.buf, byte(v>>24))
		v <<= 8
	}
	return e.buf
}
