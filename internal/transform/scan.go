// Package transform implements HEVC scaling, the inverse DCT and DST and
// the transform skip, transquant bypass, RDPCM and cross-component
// residual paths.
package transform

// Scan types selected by scanIdx.
const (
	ScanDiagonal = iota
	ScanHorizontal
	ScanVertical
)

// Pos is a position in a block or in a grid of sub-blocks.
type Pos struct {
	X, Y uint8
}

// ScanOrder[log2BlockSize][scanIdx] lists the positions of a square block
// of 1, 2, 4 or 8 samples in scan order (clause 6.5.3 to 6.5.5).
var ScanOrder [4][3][]Pos

func init() {
	for log2 := 0; log2 < 4; log2++ {
		n := 1 << log2
		ScanOrder[log2][ScanDiagonal] = diagonalScan(n)
		hor := make([]Pos, 0, n*n)
		ver := make([]Pos, 0, n*n)
		for a := 0; a < n; a++ {
			for b := 0; b < n; b++ {
				hor = append(hor, Pos{uint8(b), uint8(a)})
				ver = append(ver, Pos{uint8(a), uint8(b)})
			}
		}
		ScanOrder[log2][ScanHorizontal] = hor
		ScanOrder[log2][ScanVertical] = ver
	}
}

// diagonalScan returns the up-right diagonal scan of an n x n block.
func diagonalScan(n int) []Pos {
	scan := make([]Pos, 0, n*n)
	x, y := 0, 0
	for len(scan) < n*n {
		for y >= 0 {
			if x < n && y < n {
				scan = append(scan, Pos{uint8(x), uint8(y)})
			}
			y--
			x++
		}
		y, x = x, 0
	}
	return scan
}
