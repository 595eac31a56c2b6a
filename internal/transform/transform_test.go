package transform

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrjoshuak/go-hevc/internal/codestream"
)

func TestScanOrder(t *testing.T) {
	want := []Pos{
		{0, 0}, {0, 1}, {1, 0}, {0, 2}, {1, 1}, {2, 0}, {0, 3}, {1, 2},
		{2, 1}, {3, 0}, {1, 3}, {2, 2}, {3, 1}, {2, 3}, {3, 2}, {3, 3},
	}
	assert.Equal(t, want, ScanOrder[2][ScanDiagonal])
	assert.Equal(t, []Pos{{0, 0}, {1, 0}, {0, 1}, {1, 1}}, ScanOrder[1][ScanHorizontal])
	assert.Equal(t, []Pos{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, ScanOrder[1][ScanVertical])
	assert.Equal(t, []Pos{{0, 0}}, ScanOrder[0][ScanDiagonal])

	// Every scan visits each position once.
	for log2 := 0; log2 < 4; log2++ {
		for scanIdx := 0; scanIdx < 3; scanIdx++ {
			seen := map[Pos]bool{}
			for _, p := range ScanOrder[log2][scanIdx] {
				seen[p] = true
			}
			assert.Len(t, seen, 1<<(2*log2))
		}
	}
}

func TestTransMatrix(t *testing.T) {
	tests := []struct {
		row  int
		want []int32
	}{
		{0, []int32{64, 64, 64, 64}},
		{8, []int32{83, 36, -36, -83}},
		{16, []int32{64, -64, -64, 64}},
		{24, []int32{36, -83, 83, -36}},
		{4, []int32{89, 75, 50, 18, -18, -50, -75, -89}},
		{1, []int32{90, 90, 88, 85, 82, 78, 73, 67}},
		{2, []int32{90, 87, 80, 70, 57, 43, 25, 9}},
	}
	for _, tt := range tests {
		got := transMatrix[tt.row][:len(tt.want)]
		assert.Equal(t, tt.want, got, "row %d", tt.row)
	}
	assert.Equal(t, int32(-90), transMatrix[1][31])
	assert.Equal(t, int32(4), transMatrix[31][0])
}

func TestScale(t *testing.T) {
	tests := []struct {
		name  string
		level int32
		qp    int
		want  int32
	}{
		{"qp 4", 1, 4, 32},
		{"qp 10", 3, 10, 192},
		{"qp 0", 1, 0, 20},
		{"negative", -2, 4, -64},
		{"clipped", 32767, 51, 32767},
		{"clipped negative", -32768, 51, -32768},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := make([]int32, 16)
			c[5] = tt.level
			Scale(c, &ScaleParams{Log2Size: 2, QP: tt.qp, BitDepth: 8, Log2Range: 15})
			assert.Equal(t, tt.want, c[5])
			assert.Equal(t, int32(0), c[0])
		})
	}
}

func TestScalingFactors(t *testing.T) {
	f := NewScalingFactors(codestream.DefaultScalingList())
	assert.Equal(t, uint8(16), f.Matrix(2, 0)[15])
	m8 := f.Matrix(3, 0)
	assert.Equal(t, uint8(16), m8[0])
	assert.Equal(t, uint8(115), m8[63])
	m16 := f.Matrix(4, 1)
	assert.Equal(t, uint8(16), m16[0])
	assert.Equal(t, uint8(115), m16[15*16+15])
	assert.Equal(t, uint8(115), m16[14*16+14])
	assert.Equal(t, uint8(91), f.Matrix(5, 3)[31*32+31])

	sl := codestream.DefaultScalingList()
	for i := range sl.Lists[1][2] {
		sl.Lists[1][2][i] = uint8(i + 1)
	}
	sl.Lists[2][0][0] = 99
	sl.DC[2][0] = 7
	f = NewScalingFactors(sl)
	m := f.Matrix(3, 2)
	for i, p := range ScanOrder[3][ScanDiagonal] {
		if got := m[int(p.Y)*8+int(p.X)]; got != uint8(i+1) {
			t.Errorf("m[%d][%d] = %d, want %d", p.X, p.Y, got, i+1)
		}
	}
	m16 = f.Matrix(4, 0)
	assert.Equal(t, uint8(7), m16[0], "DC replaces position 0")
	assert.Equal(t, uint8(99), m16[1])
	assert.Equal(t, uint8(99), m16[16])
}

func TestInverseTransformDCOnly(t *testing.T) {
	c := make([]int32, 16)
	c[0] = 64
	InverseTransform(c, 2, false, 8, false)
	for i, v := range c {
		assert.Equal(t, int32(1), v, "sample %d", i)
	}

	c = make([]int32, 32*32)
	c[0] = 256
	InverseTransform(c, 5, false, 8, false)
	for i := 1; i < len(c); i++ {
		if c[i] != c[0] {
			t.Fatalf("sample %d = %d, want %d", i, c[i], c[0])
		}
	}
}

func TestInverseTransformZero(t *testing.T) {
	c := make([]int32, 64)
	InverseTransform(c, 3, false, 8, false)
	assert.Equal(t, make([]int32, 64), c)
}

// forward is the encoder-side 2-D transform with the usual HM shifts.
func forward(t *testing.T, src []int32, log2Size int, dst bool, bitDepth int) []int32 {
	t.Helper()
	n := 1 << log2Size
	basisAt := func(k, i int) int64 {
		if dst {
			return int64(dstMatrix[k][i])
		}
		return int64(transMatrix[k*32/n][i])
	}
	round := func(v int64, shift uint) int64 { return (v + 1<<(shift-1)) >> shift }
	shift1 := uint(log2Size - 1 + bitDepth - 8)
	shift2 := uint(log2Size + 6)

	tmp := make([]int64, n*n)
	for y := 0; y < n; y++ {
		for k := 0; k < n; k++ {
			var sum int64
			for x := 0; x < n; x++ {
				sum += basisAt(k, x) * int64(src[y*n+x])
			}
			tmp[y*n+k] = round(sum, shift1)
		}
	}
	out := make([]int32, n*n)
	for x := 0; x < n; x++ {
		for k := 0; k < n; k++ {
			var sum int64
			for y := 0; y < n; y++ {
				sum += basisAt(k, y) * tmp[y*n+x]
			}
			out[k*n+x] = int32(round(sum, shift2))
		}
	}
	return out
}

func TestTransformRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		log2Size int
		dst      bool
	}{
		{"DST 4x4", 2, true},
		{"DCT 4x4", 2, false},
		{"DCT 8x8", 3, false},
		{"DCT 16x16", 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := 1 << tt.log2Size
			src := make([]int32, n*n)
			for y := 0; y < n; y++ {
				for x := 0; x < n; x++ {
					src[y*n+x] = int32((x*8+y*4)*4/n - 30)
				}
			}
			c := forward(t, src, tt.log2Size, tt.dst, 8)
			InverseTransform(c, tt.log2Size, tt.dst, 8, false)
			for i := range src {
				assert.InDelta(t, src[i], c[i], 1, "sample %d", i)
			}
		})
	}
}

func TestTransformRoundTripRamp8x8(t *testing.T) {
	src := make([]int32, 64)
	for i := range src {
		src[i] = int32(i*2 - 64)
	}
	c := forward(t, src, 3, false, 8)
	InverseTransform(c, 3, false, 8, false)
	for i := range src {
		assert.InDelta(t, src[i], c[i], 1, "sample %d", i)
	}
}

func TestResidualTransformSkip(t *testing.T) {
	levels := []int32{
		1, -2, 0, 0,
		0, 3, 0, 0,
		0, 0, 0, 0,
		0, 0, 0, 4,
	}

	c := append([]int32(nil), levels...)
	b := &Block{Log2Size: 2, BitDepth: 8, QP: 4, TransformSkip: true}
	b.Residual(c)
	assert.Equal(t, levels, c, "qP 4 transform skip is the identity")

	c = append([]int32(nil), levels...)
	b.Rotate = true
	b.Residual(c)
	assert.Equal(t, int32(4), c[0])
	assert.Equal(t, int32(1), c[15])
	assert.Equal(t, int32(-2), c[14])

	c = append([]int32(nil), levels...)
	b.Rotate = false
	b.RDPCM = RDPCMHorizontal
	b.Residual(c)
	assert.Equal(t, []int32{1, -1, -1, -1}, c[:4])
	assert.Equal(t, []int32{0, 3, 3, 3}, c[4:8])
}

func TestResidualBypass(t *testing.T) {
	levels := make([]int32, 64)
	for i := range levels {
		levels[i] = int32(rand.Intn(21) - 10)
	}
	c := append([]int32(nil), levels...)
	b := &Block{Log2Size: 3, BitDepth: 10, QP: 40, Bypass: true}
	b.Residual(c)
	assert.Equal(t, levels, c)

	b.RDPCM = RDPCMVertical
	b.Residual(c)
	for x := 0; x < 8; x++ {
		var sum int32
		for y := 0; y < 8; y++ {
			sum += levels[y*8+x]
			require.Equal(t, sum, c[y*8+x])
		}
	}
}

func TestResidualDCT(t *testing.T) {
	// Level 2 at QP 4 scales to DC 64, a flat residual of 1.
	c := make([]int32, 16)
	c[0] = 2
	b := &Block{Log2Size: 2, BitDepth: 8, QP: 4}
	b.Residual(c)
	for i, v := range c {
		assert.Equal(t, int32(1), v, "sample %d", i)
	}
}

func TestCrossComponentPredict(t *testing.T) {
	rY := []int32{8, -8, 100, 0}
	rC := []int32{1, 1, 1, 1}
	CrossComponentPredict(rC, rY, 4, 8, 8)
	assert.Equal(t, []int32{5, -3, 51, 1}, rC)

	rC = []int32{0, 0, 0, 0}
	CrossComponentPredict(rC, rY, -8, 10, 8)
	assert.Equal(t, []int32{-2, 2, -25, 0}, rC)
}
