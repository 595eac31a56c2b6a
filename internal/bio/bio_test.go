package bio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// errWriter is an io.Writer that always returns an error after n writes.
type errWriter struct {
	n   int
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.n <= 0 {
		return 0, e.err
	}
	e.n--
	return len(p), nil
}

// =============================================================================
// Reader tests
// =============================================================================

func TestReader_Scenario(t *testing.T) {
	r := NewReader([]byte{0x57, 0x83, 0x71, 0xA9})

	for i, want := range []int{0, 1, 0, 1} {
		got, err := r.ReadBit()
		require.NoError(t, err)
		assert.Equal(t, want, got, "bit %d", i)
	}

	v, err := r.ReadBits(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)

	require.NoError(t, r.SkipBits(5))
	assert.False(t, r.ByteAligned())
	assert.Equal(t, 13, r.BitPosition())

	v, err = r.ReadBits(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), v)
}

func TestReader_ReadBit(t *testing.T) {
	tests := []struct {
		name     string
		order    Order
		data     []byte
		expected []int
	}{
		{"msb alternating", MSBFirst, []byte{0xAA}, []int{1, 0, 1, 0, 1, 0, 1, 0}},
		{"msb high nibble", MSBFirst, []byte{0xF0}, []int{1, 1, 1, 1, 0, 0, 0, 0}},
		{"msb two bytes", MSBFirst, []byte{0x80, 0x01}, []int{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}},
		{"lsb high nibble", LSBFirst, []byte{0xF0}, []int{0, 0, 0, 0, 1, 1, 1, 1}},
		{"lsb single low bit", LSBFirst, []byte{0x01}, []int{1, 0, 0, 0, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReaderOrder(tt.data, tt.order)
			for i, want := range tt.expected {
				got, err := r.ReadBit()
				require.NoError(t, err, "position %d", i)
				assert.Equal(t, want, got, "position %d", i)
			}
			_, err := r.ReadBit()
			assert.ErrorIs(t, err, ErrOutOfBits)
		})
	}
}

func TestReader_ReadBits(t *testing.T) {
	tests := []struct {
		name     string
		order    Order
		data     []byte
		skip     int
		n        uint
		expected uint32
	}{
		{"msb 8 bits", MSBFirst, []byte{0xAB}, 0, 8, 0xAB},
		{"msb 12 bits crossing", MSBFirst, []byte{0xAB, 0xCD}, 0, 12, 0xABC},
		{"msb 32 bits", MSBFirst, []byte{0x12, 0x34, 0x56, 0x78}, 0, 32, 0x12345678},
		{"msb unaligned 16", MSBFirst, []byte{0x12, 0x34, 0x56}, 4, 16, 0x2345},
		{"msb zero bits", MSBFirst, []byte{0xFF}, 0, 0, 0},
		{"lsb 3 bits", LSBFirst, []byte{0x9D}, 0, 3, 0x5},
		{"lsb 24 bits", LSBFirst, []byte{0x9D, 0x01, 0x2A}, 0, 24, 0x2A019D},
		{"lsb unaligned", LSBFirst, []byte{0xF1, 0x0F}, 4, 8, 0xFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReaderOrder(tt.data, tt.order)
			require.NoError(t, r.SkipBits(tt.skip))
			got, err := r.ReadBits(tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestReader_ReadBits_OutOfBits(t *testing.T) {
	r := NewReader([]byte{0xFF})
	_, err := r.ReadBits(4)
	require.NoError(t, err)

	_, err = r.ReadBits(16)
	assert.ErrorIs(t, err, ErrOutOfBits)
	assert.Equal(t, 4, r.BitPosition(), "failed read must not move the cursor")
	assert.True(t, r.EOFBits(5))
	assert.False(t, r.EOFBits(4))

	_, err = r.ReadBits(33)
	assert.Error(t, err)
}

func TestReader_StepBack(t *testing.T) {
	r := NewReader([]byte{0xA5, 0x5A})
	v, err := r.ReadBits(12)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xA55), v)

	require.NoError(t, r.StepBack(8))
	v, err = r.ReadBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x55), v)

	assert.ErrorIs(t, r.StepBack(13), ErrOutOfBits)
	assert.ErrorIs(t, r.SkipBits(5), ErrOutOfBits)
}

func TestReader_Align(t *testing.T) {
	r := NewReader([]byte{0xFF, 0xAA})
	_, err := r.ReadBits(3)
	require.NoError(t, err)

	r.Align()
	assert.True(t, r.ByteAligned())
	assert.Equal(t, 1, r.BytePosition())

	// Aligning on a boundary is a no-op.
	r.Align()
	bit, err := r.ReadBit()
	require.NoError(t, err)
	assert.Equal(t, 1, bit)
}

// =============================================================================
// Exp-Golomb tests
// =============================================================================

func TestReader_ReadUE(t *testing.T) {
	// 1 010 011 00100 00101 0001000
	w := &bytes.Buffer{}
	bw := NewWriter(w)
	require.NoError(t, bw.WriteBits(0b1010011, 7))
	require.NoError(t, bw.WriteBits(0b0010000101, 10))
	require.NoError(t, bw.WriteBits(0b0001000, 7))
	require.NoError(t, bw.Flush())

	r := NewReader(w.Bytes())
	for _, want := range []uint32{0, 1, 2, 3, 4, 7} {
		got, err := r.ReadUE()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestGolomb_RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 2, 3, 7, 8, 15, 16, 100, 255, 256, 1023, 65535, 1 << 20, 0xFFFFFFFE}
	for k := uint(0); k <= 7; k++ {
		buf := &bytes.Buffer{}
		w := NewWriter(buf)
		for _, v := range values {
			require.NoError(t, w.WriteGolomb(v, k))
		}
		require.NoError(t, w.WriteTrailingBits())

		r := NewReader(buf.Bytes())
		for _, want := range values {
			got, err := r.ReadGolomb(k)
			require.NoError(t, err, "k=%d v=%d", k, want)
			assert.Equal(t, want, got, "k=%d", k)
		}
		assert.LessOrEqual(t, r.BitsLeft(), 8, "only rbsp_trailing_bits remain")
	}
}

func TestSignedGolomb_RoundTrip(t *testing.T) {
	values := []int32{0, 1, -1, 2, -2, 26, -26, 1000, -1000, 1 << 20, -(1 << 20)}
	for k := uint(0); k <= 7; k++ {
		buf := &bytes.Buffer{}
		w := NewWriter(buf)
		for _, v := range values {
			require.NoError(t, w.WriteSignedGolomb(v, k))
		}
		require.NoError(t, w.Flush())

		r := NewReader(buf.Bytes())
		for _, want := range values {
			got, err := r.ReadSignedGolomb(k)
			require.NoError(t, err)
			assert.Equal(t, want, got, "k=%d", k)
		}
	}
}

func TestReadGolomb_Errors(t *testing.T) {
	_, err := NewReader(make([]byte, 5)).ReadUE()
	assert.True(t, errors.Is(err, ErrGolombOverflow) || errors.Is(err, ErrOutOfBits))

	// prefix terminates but the suffix is truncated
	_, err = NewReader([]byte{0x01}).ReadUE()
	assert.ErrorIs(t, err, ErrOutOfBits)
}

// =============================================================================
// Writer tests
// =============================================================================

func TestWriter_WriteBits(t *testing.T) {
	tests := []struct {
		name     string
		val      uint32
		n        uint
		expected []byte
	}{
		{"full byte", 0xAB, 8, []byte{0xAB}},
		{"nibble padded", 0xF, 4, []byte{0xF0}},
		{"12 bits", 0xABC, 12, []byte{0xAB, 0xC0}},
		{"masks high bits", 0xFF, 2, []byte{0xC0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			w := NewWriter(buf)
			require.NoError(t, w.WriteBits(tt.val, tt.n))
			assert.Equal(t, int(tt.n), w.BitsWritten())
			require.NoError(t, w.Flush())
			assert.Equal(t, tt.expected, buf.Bytes())
			assert.True(t, w.ByteAligned())
		})
	}
}

func TestWriter_Errors(t *testing.T) {
	sentinel := errors.New("write failed")
	w := NewWriter(&errWriter{n: 0, err: sentinel})
	assert.ErrorIs(t, w.WriteBits(0xFF, 8), sentinel)

	w = NewWriter(&errWriter{n: 0, err: sentinel})
	require.NoError(t, w.WriteBit(1))
	assert.ErrorIs(t, w.Flush(), sentinel)
}

func TestWriter_TrailingBits(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf)
	require.NoError(t, w.WriteBits(0x5, 3))
	require.NoError(t, w.WriteTrailingBits())
	assert.Equal(t, []byte{0xB0}, buf.Bytes())
}

// =============================================================================
// Emulation prevention tests
// =============================================================================

func TestUnescapeRBSP(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		out     []byte
		removed int
	}{
		{"none", []byte{0x01, 0x02, 0x03}, []byte{0x01, 0x02, 0x03}, 0},
		{"single", []byte{0x00, 0x00, 0x03, 0x01}, []byte{0x00, 0x00, 0x01}, 1},
		{"back to back", []byte{0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x00}, []byte{0x00, 0x00, 0x00, 0x00, 0x00}, 2},
		{"trailing", []byte{0xAA, 0x00, 0x00, 0x03}, []byte{0xAA, 0x00, 0x00}, 1},
		{"lone zero", []byte{0x00, 0x03, 0x00}, []byte{0x00, 0x03, 0x00}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, removed := UnescapeRBSP(tt.in)
			assert.Equal(t, tt.out, out)
			assert.Len(t, removed, tt.removed)
		})
	}
}

func TestUnescapeRBSP_Positions(t *testing.T) {
	in := []byte{0x11, 0x00, 0x00, 0x03, 0x01, 0x00, 0x00, 0x03, 0x00, 0x22}
	out, removed := UnescapeRBSP(in)
	assert.Equal(t, []byte{0x11, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x22}, out)
	assert.Equal(t, []int{3, 7}, removed)

	out, removed = UnescapeRBSP([]byte{0x01, 0x02})
	assert.Equal(t, []byte{0x01, 0x02}, out)
	assert.Nil(t, removed)
}

func TestEmulationPrevention_RoundTrip(t *testing.T) {
	rbsp := []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x02, 0x00, 0x00, 0x03, 0x00, 0x00, 0x04, 0xFF}
	escaped := AddEmulationPrevention(rbsp)
	for i := 2; i < len(escaped); i++ {
		if escaped[i-2] == 0 && escaped[i-1] == 0 {
			assert.GreaterOrEqual(t, escaped[i], byte(0x03), "start code emulation at %d", i)
		}
	}
	back, _ := UnescapeRBSP(escaped)
	assert.Equal(t, rbsp, back)
}

func BenchmarkReader_ReadBits(b *testing.B) {
	data := bytes.Repeat([]byte{0xA5}, 4096)
	for i := 0; i < b.N; i++ {
		r := NewReader(data)
		for r.BitsLeft() >= 13 {
			_, _ = r.ReadBits(13)
		}
	}
}
