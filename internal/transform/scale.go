package transform

import "github.com/mrjoshuak/go-hevc/internal/codestream"

var levelScale = [6]int64{40, 45, 51, 57, 64, 72}

// ScalingFactors holds the scaling factor arrays m[x][y] of clause
// 7.4.5, expanded from a scaling list to every block size. Arrays are
// row-major.
type ScalingFactors struct {
	m [4][6][]uint8
}

// NewScalingFactors expands sl.
func NewScalingFactors(sl *codestream.ScalingList) *ScalingFactors {
	f := &ScalingFactors{}
	for sizeID := 0; sizeID < 4; sizeID++ {
		n := 4 << sizeID
		for matrixID := 0; matrixID < 6; matrixID++ {
			m := make([]uint8, n*n)
			list := &sl.Lists[sizeID][matrixID]
			if sizeID == 0 {
				for i, p := range ScanOrder[2][ScanDiagonal] {
					m[int(p.Y)*4+int(p.X)] = list[i]
				}
			} else {
				rep := n / 8
				for i, p := range ScanOrder[3][ScanDiagonal] {
					for j := 0; j < rep; j++ {
						for k := 0; k < rep; k++ {
							m[(int(p.Y)*rep+j)*n+int(p.X)*rep+k] = list[i]
						}
					}
				}
				if sizeID > 1 {
					m[0] = sl.DC[sizeID][matrixID]
				}
			}
			f.m[sizeID][matrixID] = m
		}
	}
	return f
}

// Matrix returns the factors for a block of 1<<log2Size samples.
// matrixID is cIdx for intra blocks and cIdx+3 for inter blocks.
func (f *ScalingFactors) Matrix(log2Size, matrixID int) []uint8 {
	return f.m[log2Size-2][matrixID]
}

// ScaleParams configures the scaling of one transform block.
type ScaleParams struct {
	Log2Size int
	QP       int
	BitDepth int

	// Log2 of the coefficient range, 15 unless extended precision
	// processing raises it
	Log2Range int

	// Factors is nil for flat scaling (m = 16).
	Factors []uint8
}

// Scale turns coefficient levels into scaled transform coefficients in
// place (clause 8.6.3).
func Scale(coeffs []int32, p *ScaleParams) {
	bdShift := uint(p.BitDepth + p.Log2Size + 10 - p.Log2Range)
	add := int64(1) << (bdShift - 1)
	scale := levelScale[p.QP%6] << uint(p.QP/6)
	lo, hi := coeffBounds(p.Log2Range)
	for i, c := range coeffs {
		if c == 0 {
			continue
		}
		m := int64(16)
		if p.Factors != nil {
			m = int64(p.Factors[i])
		}
		coeffs[i] = clip64(lo, hi, (int64(c)*m*scale+add)>>bdShift)
	}
}

// Log2Range returns the coefficient range exponent for a bit depth.
func Log2Range(extendedPrecision bool, bitDepth int) int {
	if extendedPrecision {
		return max(15, bitDepth+6)
	}
	return 15
}

func coeffBounds(log2Range int) (int64, int64) {
	return -(1 << log2Range), 1<<log2Range - 1
}

func clip64(lo, hi, v int64) int32 {
	if v < lo {
		return int32(lo)
	}
	if v > hi {
		return int32(hi)
	}
	return int32(v)
}
