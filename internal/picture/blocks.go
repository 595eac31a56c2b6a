package picture

// Prediction modes stored per minimum block.
const (
	ModeInter uint8 = iota
	ModeIntra
	ModeSkip
)

// Blocks holds the block-indexed decoding state of one colour plane. All
// per-position arrays use a 4x4 luma grid covering whole CTBs.
type Blocks struct {
	g      *Geometry
	stride int

	// Slice address of each decoded CTB, -1 before decoding
	ctbSliceAddr []int
	decodedCtbs  int

	ctDepth   []uint8
	predMode  []uint8
	intraY    []uint8
	intraC    []uint8
	qpY       []int8
	transSkip []uint8
}

func newBlocks(g *Geometry) *Blocks {
	shift := g.Log2CtbSize - 2
	w, h := g.WidthInCtbs<<shift, g.HeightInCtbs<<shift
	b := &Blocks{
		g:            g,
		stride:       w,
		ctbSliceAddr: make([]int, g.SizeInCtbs),
		ctDepth:      make([]uint8, w*h),
		predMode:     make([]uint8, w*h),
		intraY:       make([]uint8, w*h),
		intraC:       make([]uint8, w*h),
		qpY:          make([]int8, w*h),
		transSkip:    make([]uint8, w*h),
	}
	for i := range b.ctbSliceAddr {
		b.ctbSliceAddr[i] = -1
	}
	return b
}

func (b *Blocks) idx(x, y int) int {
	return (y>>2)*b.stride + x>>2
}

// fill calls f for the grid index of every 4x4 unit in the luma
// rectangle (x0, y0, w, h).
func (b *Blocks) fill(x0, y0, w, h int, f func(i int)) {
	for y := y0 >> 2; y < (y0+h+3)>>2; y++ {
		for x := x0 >> 2; x < (x0+w+3)>>2; x++ {
			f(y*b.stride + x)
		}
	}
}

// StartCtb records that the CTB at raster address rs belongs to the slice
// with address sliceAddrRs.
func (b *Blocks) StartCtb(rs, sliceAddrRs int) {
	if b.ctbSliceAddr[rs] < 0 {
		b.decodedCtbs++
	}
	b.ctbSliceAddr[rs] = sliceAddrRs
}

// Available reports whether the block covering luma sample (xN, yN) is
// available for the block at (xCurr, yCurr) (clause 6.4.1): it lies in
// the picture, precedes the current block in z-scan order and belongs to
// the same slice and tile. A block is never available to itself.
func (b *Blocks) Available(xCurr, yCurr, xN, yN int) bool {
	g := b.g
	if xN < 0 || yN < 0 || xN >= g.Width || yN >= g.Height {
		return false
	}
	if g.MinTbAddrZs(xN, yN) >= g.MinTbAddrZs(xCurr, yCurr) {
		return false
	}
	ctbN, ctbCurr := g.CtbAddrRs(xN, yN), g.CtbAddrRs(xCurr, yCurr)
	if b.ctbSliceAddr[ctbN] < 0 || b.ctbSliceAddr[ctbN] != b.ctbSliceAddr[ctbCurr] {
		return false
	}
	return g.TileIDRs(ctbN) == g.TileIDRs(ctbCurr)
}

// SetCodingUnit records depth and prediction mode of a coding block.
func (b *Blocks) SetCodingUnit(x0, y0, log2Size, ctDepth int, mode uint8) {
	n := 1 << log2Size
	b.fill(x0, y0, n, n, func(i int) {
		b.ctDepth[i] = uint8(ctDepth)
		b.predMode[i] = mode
	})
}

// CtDepth returns the coding quadtree depth at luma sample (x, y).
func (b *Blocks) CtDepth(x, y int) int {
	return int(b.ctDepth[b.idx(x, y)])
}

// PredMode returns the prediction mode at luma sample (x, y).
func (b *Blocks) PredMode(x, y int) uint8 {
	return b.predMode[b.idx(x, y)]
}

// SetIntraPredMode records the luma intra prediction mode of a prediction
// block.
func (b *Blocks) SetIntraPredMode(x0, y0, size, mode int) {
	b.fill(x0, y0, size, size, func(i int) { b.intraY[i] = uint8(mode) })
}

// IntraPredMode returns the luma intra prediction mode at (x, y).
func (b *Blocks) IntraPredMode(x, y int) int {
	return int(b.intraY[b.idx(x, y)])
}

// SetIntraPredModeC records the chroma intra prediction mode over a luma
// rectangle.
func (b *Blocks) SetIntraPredModeC(x0, y0, size, mode int) {
	b.fill(x0, y0, size, size, func(i int) { b.intraC[i] = uint8(mode) })
}

// IntraPredModeC returns the chroma intra prediction mode at luma (x, y).
func (b *Blocks) IntraPredModeC(x, y int) int {
	return int(b.intraC[b.idx(x, y)])
}

// SetQpY records the luma QP of a coding unit.
func (b *Blocks) SetQpY(x0, y0, size, qp int) {
	b.fill(x0, y0, size, size, func(i int) { b.qpY[i] = int8(qp) })
}

// QpY returns the luma QP at (x, y).
func (b *Blocks) QpY(x, y int) int {
	return int(b.qpY[b.idx(x, y)])
}

// SetTransformSkip records transform_skip_flag of component cIdx for a
// transform block given in luma samples.
func (b *Blocks) SetTransformSkip(x0, y0, size, cIdx int, skip bool) {
	bit := uint8(1) << cIdx
	b.fill(x0, y0, size, size, func(i int) {
		if skip {
			b.transSkip[i] |= bit
		} else {
			b.transSkip[i] &^= bit
		}
	})
}

// TransformSkip reports transform_skip_flag of component cIdx at (x, y).
func (b *Blocks) TransformSkip(x, y, cIdx int) bool {
	return b.transSkip[b.idx(x, y)]&(1<<cIdx) != 0
}
