// Package bio provides bit-level I/O for HEVC and VP8 bitstreams.
package bio

import (
	"io"

	"github.com/pkg/errors"
)

// ErrOutOfBits is returned when a read would cross the end of the buffer.
var ErrOutOfBits = errors.New("bio: read past end of buffer")

// Order selects which bit of a byte is consumed first.
type Order int

const (
	// MSBFirst consumes bit 7 first (HEVC RBSP, Exp-Golomb codes).
	MSBFirst Order = iota
	// LSBFirst consumes bit 0 first (VP8 frame tag, VP8L headers).
	LSBFirst
)

// String returns the name of the bit order.
func (o Order) String() string {
	switch o {
	case MSBFirst:
		return "MSBFirst"
	case LSBFirst:
		return "LSBFirst"
	default:
		return "Unknown"
	}
}

// Reader provides bit-level reading from a byte slice.
type Reader struct {
	data  []byte
	pos   int   // Current byte index
	off   uint8 // Bits already consumed from data[pos] (0-7)
	order Order
}

// NewReader creates a new MSB-first bit reader.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// NewReaderOrder creates a bit reader with the given bit order.
func NewReaderOrder(data []byte, order Order) *Reader {
	return &Reader{data: data, order: order}
}

// Order returns the bit order fixed at construction.
func (r *Reader) Order() Order {
	return r.order
}

// ReadBit reads a single bit (0 or 1).
func (r *Reader) ReadBit() (int, error) {
	if r.pos >= len(r.data) {
		return 0, ErrOutOfBits
	}
	var bit int
	if r.order == MSBFirst {
		bit = int(r.data[r.pos]>>(7-r.off)) & 1
	} else {
		bit = int(r.data[r.pos]>>r.off) & 1
	}
	r.off++
	if r.off == 8 {
		r.off = 0
		r.pos++
	}
	return bit, nil
}

// ReadBits reads n bits (0-32). The cursor does not move when fewer than
// n bits remain.
func (r *Reader) ReadBits(n uint) (uint32, error) {
	if n > 32 {
		return 0, errors.New("bio: cannot read more than 32 bits at once")
	}
	if r.EOFBits(int(n)) {
		return 0, ErrOutOfBits
	}
	var result uint32
	if r.order == MSBFirst {
		// Consume whole bytes when aligned.
		for n > 0 {
			if r.off == 0 && n >= 8 {
				result = (result << 8) | uint32(r.data[r.pos])
				r.pos++
				n -= 8
				continue
			}
			bit := uint32(r.data[r.pos]>>(7-r.off)) & 1
			result = (result << 1) | bit
			r.off++
			if r.off == 8 {
				r.off = 0
				r.pos++
			}
			n--
		}
		return result, nil
	}
	for i := uint(0); i < n; i++ {
		bit := uint32(r.data[r.pos]>>r.off) & 1
		result |= bit << i
		r.off++
		if r.off == 8 {
			r.off = 0
			r.pos++
		}
	}
	return result, nil
}

// SkipBits advances the cursor by n bits.
func (r *Reader) SkipBits(n int) error {
	if n < 0 {
		return r.StepBack(-n)
	}
	if r.EOFBits(n) {
		return ErrOutOfBits
	}
	bitPos := r.BitPosition() + n
	r.pos = bitPos >> 3
	r.off = uint8(bitPos & 7)
	return nil
}

// StepBack moves the cursor back by n bits.
func (r *Reader) StepBack(n int) error {
	bitPos := r.BitPosition() - n
	if bitPos < 0 {
		return ErrOutOfBits
	}
	r.pos = bitPos >> 3
	r.off = uint8(bitPos & 7)
	return nil
}

// ByteAligned reports whether the cursor sits on a byte boundary.
func (r *Reader) ByteAligned() bool {
	return r.off == 0
}

// EOFBits reports whether fewer than n bits remain.
func (r *Reader) EOFBits(n int) bool {
	return r.BitsLeft() < n
}

// BitsLeft returns the number of unread bits.
func (r *Reader) BitsLeft() int {
	return (len(r.data)-r.pos)*8 - int(r.off)
}

// BitPosition returns the number of bits consumed so far.
func (r *Reader) BitPosition() int {
	return r.pos*8 + int(r.off)
}

// BytePosition returns the index of the byte holding the next bit.
func (r *Reader) BytePosition() int {
	return r.pos
}

// Align discards any remaining bits in the current byte.
func (r *Reader) Align() {
	if r.off != 0 {
		r.off = 0
		r.pos++
	}
}

// Writer provides MSB-first bit-level writing to a byte stream.
type Writer struct {
	w   io.Writer
	buf byte  // Current byte buffer
	cnt uint8 // Number of valid bits in buf (0-7)
	n   int   // Bits written, including buffered ones
}

// NewWriter creates a new bit writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteBit writes a single bit.
func (w *Writer) WriteBit(bit int) error {
	w.buf = (w.buf << 1) | byte(bit&1)
	w.cnt++
	w.n++
	if w.cnt == 8 {
		if err := w.flushByte(); err != nil {
			return err
		}
	}
	return nil
}

// WriteBits writes n bits from the lowest n bits of val.
func (w *Writer) WriteBits(val uint32, n uint) error {
	for i := n; i > 0; i-- {
		bit := int((val >> (i - 1)) & 1)
		if err := w.WriteBit(bit); err != nil {
			return err
		}
	}
	return nil
}

// WriteFlag writes a boolean as one bit.
func (w *Writer) WriteFlag(v bool) error {
	if v {
		return w.WriteBit(1)
	}
	return w.WriteBit(0)
}

// BitsWritten returns the number of bits written so far.
func (w *Writer) BitsWritten() int {
	return w.n
}

// ByteAligned reports whether the writer sits on a byte boundary.
func (w *Writer) ByteAligned() bool {
	return w.cnt == 0
}

// flushByte writes the current byte buffer.
func (w *Writer) flushByte() error {
	b := [1]byte{w.buf}
	_, err := w.w.Write(b[:])
	w.buf = 0
	w.cnt = 0
	return err
}

// Flush writes any remaining bits, padding with zeros.
func (w *Writer) Flush() error {
	if w.cnt > 0 {
		w.n += int(8 - w.cnt)
		w.buf <<= (8 - w.cnt)
		return w.flushByte()
	}
	return nil
}

// WriteTrailingBits writes rbsp_stop_one_bit followed by zero bits up to
// the next byte boundary.
func (w *Writer) WriteTrailingBits() error {
	if err := w.WriteBit(1); err != nil {
		return err
	}
	return w.Flush()
}
