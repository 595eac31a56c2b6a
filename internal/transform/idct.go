package transform

// cosTable[j] is the integer basis value for an angle of j*pi/64. The
// 32-point DCT matrix and all smaller ones embedded in it are built from
// it (clause 8.6.4.2, transMatrix).
var cosTable = [33]int32{
	64, 90, 90, 90, 89, 88, 87, 85, 83, 82, 80, 78, 75, 73, 70, 67,
	64, 61, 57, 54, 50, 46, 43, 38, 36, 31, 25, 22, 18, 13, 9, 4, 0,
}

// transMatrix[k][n] is basis function k at sample n of the 32-point DCT.
var transMatrix [32][32]int32

// dstMatrix is the 4-point DST used for 4x4 intra luma blocks.
var dstMatrix = [4][4]int32{
	{29, 55, 74, 84},
	{74, 74, 0, -74},
	{84, -29, -74, 55},
	{55, -84, 74, -29},
}

func init() {
	for k := 0; k < 32; k++ {
		for n := 0; n < 32; n++ {
			transMatrix[k][n] = basis(k * (2*n + 1))
		}
	}
}

func basis(angle int) int32 {
	if angle == 0 {
		return cosTable[0]
	}
	j := angle % 128
	if j > 64 {
		j = 128 - j
	}
	if j > 32 {
		return -cosTable[64-j]
	}
	return cosTable[j]
}

// inverseDCT computes the n-point inverse DCT of the first nz inputs of
// src, read with the given stride, into dst. The even part recurses on
// the half-size transform.
func inverseDCT(dst []int64, src []int32, stride, n, nz int) {
	if n == 1 {
		dst[0] = int64(cosTable[0]) * int64(src[0])
		return
	}
	half := n / 2
	even := make([]int64, half)
	inverseDCT(even, src, 2*stride, half, (nz+1)/2)
	row := 32 / n
	for i := 0; i < half; i++ {
		var odd int64
		for k := 1; k < nz; k += 2 {
			odd += int64(transMatrix[k*row][i]) * int64(src[k*stride])
		}
		dst[i] = even[i] + odd
		dst[n-1-i] = even[i] - odd
	}
}

func inverseDST(dst []int64, src []int32, stride, nz int) {
	for i := 0; i < 4; i++ {
		var sum int64
		for k := 0; k < nz; k++ {
			sum += int64(dstMatrix[k][i]) * int64(src[k*stride])
		}
		dst[i] = sum
	}
}

// BdShift returns the shift applied after the second transform stage.
func BdShift(extendedPrecision bool, bitDepth int) int {
	if extendedPrecision {
		return max(20-bitDepth, 11)
	}
	return max(20-bitDepth, 0)
}

// InverseTransform applies the two-stage inverse transform of clause
// 8.6.4.2 to the scaled coefficients in coeffs (row-major, n x n) and
// leaves the residual in place. Columns and rows past the last non-zero
// coefficient are skipped.
func InverseTransform(coeffs []int32, log2Size int, dst bool, bitDepth int, extendedPrecision bool) {
	n := 1 << log2Size
	maxX, maxY := -1, -1
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if coeffs[y*n+x] != 0 {
				maxX = max(maxX, x)
				maxY = max(maxY, y)
			}
		}
	}
	if maxX < 0 {
		return
	}
	lo, hi := coeffBounds(Log2Range(extendedPrecision, bitDepth))
	bdShift := uint(BdShift(extendedPrecision, bitDepth))
	out := make([]int64, n)

	// Vertical pass: columns past maxX stay zero.
	for x := 0; x <= maxX; x++ {
		if dst {
			inverseDST(out, coeffs[x:], n, maxY+1)
		} else {
			inverseDCT(out, coeffs[x:], n, n, maxY+1)
		}
		for y := 0; y < n; y++ {
			coeffs[y*n+x] = clip64(lo, hi, (out[y]+64)>>7)
		}
	}

	for y := 0; y < n; y++ {
		row := coeffs[y*n : y*n+n]
		if dst {
			inverseDST(out, row, 1, maxX+1)
		} else {
			inverseDCT(out, row, 1, n, maxX+1)
		}
		for x := 0; x < n; x++ {
			row[x] = int32(roundShift(out[x], bdShift))
		}
	}
}

func roundShift(v int64, shift uint) int64 {
	if shift == 0 {
		return v
	}
	return (v + 1<<(shift-1)) >> shift
}
