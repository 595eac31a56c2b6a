// Package mct implements the colour transforms between decoded YCbCr
// sample planes and RGB.
//
// The matrix follows matrix_coeffs of the VUI (Rec. ITU-T H.273):
// - Kr/Kb matrices (BT.601, BT.709, BT.2020, SMPTE 240M, FCC)
// - YCgCo
// - GBR (identity), where the planes carry G, B and R
package mct

import (
	"fmt"
	"math"
)

// Matrix selects a YCbCr to RGB transform.
type Matrix int

// Supported matrices.
const (
	BT601 Matrix = iota
	BT709
	BT2020
	SMPTE240M
	FCC
	YCgCo
	GBR
)

// String returns the string representation of a matrix.
func (m Matrix) String() string {
	switch m {
	case BT601:
		return "BT.601"
	case BT709:
		return "BT.709"
	case BT2020:
		return "BT.2020"
	case SMPTE240M:
		return "SMPTE 240M"
	case FCC:
		return "FCC"
	case YCgCo:
		return "YCgCo"
	case GBR:
		return "GBR"
	default:
		return fmt.Sprintf("Matrix(%d)", int(m))
	}
}

// FromVUI maps a matrix_coeffs value to a Matrix. Unspecified and
// reserved values use BT.601, the matrix of JFIF and most still images.
func FromVUI(matrixCoeffs uint8) Matrix {
	switch matrixCoeffs {
	case 0:
		return GBR
	case 1:
		return BT709
	case 4:
		return FCC
	case 7:
		return SMPTE240M
	case 8:
		return YCgCo
	case 9, 10:
		return BT2020
	default:
		return BT601
	}
}

// coefficients returns Kr and Kb.
func (m Matrix) coefficients() (float64, float64) {
	switch m {
	case BT709:
		return 0.2126, 0.0722
	case BT2020:
		return 0.2627, 0.0593
	case SMPTE240M:
		return 0.212, 0.087
	case FCC:
		return 0.30, 0.11
	default:
		return 0.299, 0.114
	}
}

// Converter converts samples of one bit depth between YCbCr and RGB.
type Converter struct {
	Matrix   Matrix
	BitDepth int

	// FullRange is video_full_range_flag. Limited range samples are
	// expanded to the full range of the bit depth.
	FullRange bool
}

// Inverse converts YCbCr samples to RGB in place: y, cb and cr are
// replaced by r, g and b, clamped to the bit depth.
func (c *Converter) Inverse(y, cb, cr []int32) {
	maxVal := int32(1)<<c.BitDepth - 1
	mid := float64(int32(1) << (c.BitDepth - 1))

	switch c.Matrix {
	case GBR:
		for i := range y {
			g := c.expandLuma(float64(y[i]))
			b := c.expandLuma(float64(cb[i]))
			r := c.expandLuma(float64(cr[i]))
			y[i], cb[i], cr[i] = c.clamp(r, maxVal), c.clamp(g, maxVal), c.clamp(b, maxVal)
		}
		return
	case YCgCo:
		for i := range y {
			yy := c.expandLuma(float64(y[i]))
			cg := c.expandChroma(float64(cb[i]) - mid)
			co := c.expandChroma(float64(cr[i]) - mid)
			t := yy - cg
			y[i] = c.clamp(t+co, maxVal)
			cb[i] = c.clamp(yy+cg, maxVal)
			cr[i] = c.clamp(t-co, maxVal)
		}
		return
	}

	kr, kb := c.Matrix.coefficients()
	kg := 1 - kr - kb
	crR := 2 * (1 - kr)
	cbB := 2 * (1 - kb)
	cbG := 2 * kb * (1 - kb) / kg
	crG := 2 * kr * (1 - kr) / kg
	for i := range y {
		yy := c.expandLuma(float64(y[i]))
		u := c.expandChroma(float64(cb[i]) - mid)
		v := c.expandChroma(float64(cr[i]) - mid)
		y[i] = c.clamp(yy+crR*v, maxVal)
		cb[i] = c.clamp(yy-cbG*u-crG*v, maxVal)
		cr[i] = c.clamp(yy+cbB*u, maxVal)
	}
}

func (c *Converter) expandLuma(v float64) float64 {
	if c.FullRange {
		return v
	}
	s := float64(int32(1) << (c.BitDepth - 8))
	return (v - 16*s) * float64(int32(1)<<c.BitDepth-1) / (219 * s)
}

func (c *Converter) expandChroma(v float64) float64 {
	if c.FullRange {
		return v
	}
	s := float64(int32(1) << (c.BitDepth - 8))
	return v * float64(int32(1)<<c.BitDepth-1) / (224 * s)
}

func (c *Converter) clamp(v float64, maxVal int32) int32 {
	return ClampInt32(int32(math.Round(v)), 0, maxVal)
}

// ClampInt32 clamps an int32 value to the given range.
func ClampInt32(v, min, max int32) int32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Rescale converts a sample from one bit depth to another, rounding when
// bits are dropped and replicating high bits when they are added.
func Rescale(v int32, from, to int) int32 {
	switch {
	case from == to:
		return v
	case from > to:
		shift := from - to
		r := (v + 1<<(shift-1)) >> shift
		return ClampInt32(r, 0, int32(1)<<to-1)
	default:
		shift := to - from
		v <<= shift
		// fill the low bits so that the maximum maps to the maximum
		return v | v>>from
	}
}
