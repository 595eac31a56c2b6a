package transform

// RDPCM directions.
const (
	RDPCMOff = iota
	RDPCMHorizontal
	RDPCMVertical
)

// Block describes how the residual of one transform block is derived from
// its coefficient levels (clause 8.6.2).
type Block struct {
	Log2Size          int
	BitDepth          int
	ExtendedPrecision bool

	// qP of the colour component, including QpBdOffset
	QP int

	// Scaling factors of the block, nil for flat scaling
	Factors []uint8

	// DST selects the 4x4 DST instead of the DCT.
	DST bool

	TransformSkip bool
	Bypass        bool // cu_transquant_bypass_flag

	// Rotate reverses the block (transform_skip_rotation_enabled_flag).
	Rotate bool
	RDPCM  int
}

// Residual converts the coefficient levels in coeffs (row-major) into
// residual samples in place.
func (b *Block) Residual(coeffs []int32) {
	n := 1 << b.Log2Size
	coeffs = coeffs[:n*n]
	if b.Bypass {
		if b.Rotate {
			rotate(coeffs)
		}
		accumulate(coeffs, n, b.RDPCM)
		return
	}

	p := ScaleParams{
		Log2Size:  b.Log2Size,
		QP:        b.QP,
		BitDepth:  b.BitDepth,
		Log2Range: Log2Range(b.ExtendedPrecision, b.BitDepth),
		Factors:   b.Factors,
	}
	if b.TransformSkip && b.Log2Size > 2 {
		p.Factors = nil
	}
	Scale(coeffs, &p)

	if !b.TransformSkip {
		InverseTransform(coeffs, b.Log2Size, b.DST, b.BitDepth, b.ExtendedPrecision)
		return
	}
	if b.Rotate {
		rotate(coeffs)
	}
	bdShift := BdShift(b.ExtendedPrecision, b.BitDepth)
	tsShift := 5
	if b.ExtendedPrecision {
		tsShift = min(5, bdShift-2)
	}
	tsShift += b.Log2Size
	for i, c := range coeffs {
		coeffs[i] = int32(roundShift(int64(c)<<uint(tsShift), uint(bdShift)))
	}
	accumulate(coeffs, n, b.RDPCM)
}

// rotate turns r[x][y] into r[n-1-x][n-1-y].
func rotate(r []int32) {
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
}

// accumulate applies residual DPCM in the given direction.
func accumulate(r []int32, n, dir int) {
	switch dir {
	case RDPCMHorizontal:
		for y := 0; y < n; y++ {
			for x := 1; x < n; x++ {
				r[y*n+x] += r[y*n+x-1]
			}
		}
	case RDPCMVertical:
		for y := 1; y < n; y++ {
			for x := 0; x < n; x++ {
				r[y*n+x] += r[(y-1)*n+x]
			}
		}
	}
}

// CrossComponentPredict adds the scaled luma residual to a chroma
// residual (clause 8.6.6). resScaleVal is (1 << (log2_res_scale_abs_plus1
// - 1)) with the signalled sign.
func CrossComponentPredict(rC, rY []int32, resScaleVal, bitDepthY, bitDepthC int) {
	for i := range rC {
		y := (int64(rY[i]) << uint(bitDepthC)) >> uint(bitDepthY)
		rC[i] += int32((int64(resScaleVal) * y) >> 3)
	}
}
