// Package intra implements HEVC intra sample prediction: reference sample
// gathering and substitution, reference smoothing and the planar, DC and
// angular predictors (clause 8.4.4.2).
package intra

import "github.com/mrjoshuak/go-hevc/internal/picture"

// Intra prediction modes.
const (
	Planar     = 0
	DC         = 1
	Horizontal = 10
	Vertical   = 26
	NumModes   = 35
)

var predAngle = [NumModes]int{
	0, 0, 32, 26, 21, 17, 13, 9, 5, 2, 0, -2, -5, -9, -13, -17, -21, -26,
	-32, -26, -21, -17, -13, -9, -5, -2, 0, 2, 5, 9, 13, 17, 21, 26, 32,
}

var invAngle = [NumModes]int{
	11: -4096, 12: -1638, 13: -910, 14: -630, 15: -482, 16: -390, 17: -315,
	18: -256, 19: -315, 20: -390, 21: -482, 22: -630, 23: -910, 24: -1638, 25: -4096,
}

// Block describes one prediction block of a colour component.
type Block struct {
	// Top-left sample in the component plane
	X, Y int

	Log2Size int
	CIdx     int
	Mode     int

	// FilterRefs enables reference sample smoothing. It is set for luma
	// and for 4:4:4 chroma unless intra_smoothing_disabled_flag is set.
	FilterRefs bool

	// StrongSmoothing is strong_intra_smoothing_enabled_flag.
	StrongSmoothing bool

	// DisableBoundaryFilter turns off the DC and pure horizontal and
	// vertical edge filters.
	DisableBoundaryFilter bool
}

// Available reports whether the component sample (xN, yN) may be used as
// a reference.
type Available func(xN, yN int) bool

// Predictor predicts blocks into a plane. It reuses its buffers between
// calls and is not safe for concurrent use.
type Predictor struct {
	refs  [4*64 + 1]int
	filt  [4*64 + 1]int
	avail [4*64 + 1]bool
	ref   [3*64 + 1]int
}

// Predict writes the prediction of b into pl.
func (p *Predictor) Predict(pl *picture.Plane, b *Block, available Available) {
	n := 1 << b.Log2Size
	refs := p.gather(pl, b, n, available)
	if p.filterFlag(b, n) {
		refs = p.smooth(refs, b, n, pl.BitDepth)
	}
	switch {
	case b.Mode == Planar:
		planar(pl, b, n, refs)
	case b.Mode == DC:
		dc(pl, b, n, refs)
	default:
		p.angular(pl, b, n, refs)
	}
}

// Reference samples are kept in one array running from p[-1][2n-1] up
// the left column to p[-1][-1] and along the top row to p[2n-1][-1].
func left(refs []int, n, y int) int { return refs[2*n-1-y] }
func top(refs []int, n, x int) int  { return refs[2*n+1+x] }

// gather collects the 4n+1 neighbouring samples and substitutes the
// unavailable ones (clause 8.4.4.2.2).
func (p *Predictor) gather(pl *picture.Plane, b *Block, n int, available Available) []int {
	refs := p.refs[:4*n+1]
	avail := p.avail[:4*n+1]
	found := false
	for i := range refs {
		var x, y int
		if i < 2*n {
			x, y = b.X-1, b.Y+2*n-1-i
		} else {
			x, y = b.X+i-2*n-1, b.Y-1
		}
		avail[i] = available(x, y)
		if avail[i] {
			refs[i] = pl.At(x, y)
			found = true
		}
	}
	if !found {
		mid := 1 << (pl.BitDepth - 1)
		for i := range refs {
			refs[i] = mid
		}
		return refs
	}
	first := 0
	for !avail[first] {
		first++
	}
	for i := 0; i < first; i++ {
		refs[i] = refs[first]
	}
	for i := first + 1; i < len(refs); i++ {
		if !avail[i] {
			refs[i] = refs[i-1]
		}
	}
	return refs
}

// filterFlag decides whether the references are smoothed (clause
// 8.4.4.2.3).
func (p *Predictor) filterFlag(b *Block, n int) bool {
	if !b.FilterRefs || b.Mode == DC || n == 4 {
		return false
	}
	dist := min(abs(b.Mode-Vertical), abs(b.Mode-Horizontal))
	var thres int
	switch n {
	case 8:
		thres = 7
	case 16:
		thres = 1
	default:
		thres = 0
	}
	return dist > thres
}

func (p *Predictor) smooth(refs []int, b *Block, n, bitDepth int) []int {
	out := p.filt[:len(refs)]
	last := len(refs) - 1
	corner := refs[2*n]
	if b.StrongSmoothing && b.CIdx == 0 && n == 32 {
		bottom, right := refs[0], refs[last]
		thres := 1 << (bitDepth - 5)
		if abs(corner+right-2*top(refs, n, n-1)) < thres && abs(corner+bottom-2*left(refs, n, n-1)) < thres {
			out[2*n] = corner
			for i := 0; i < 63; i++ {
				out[2*n-1-i] = ((63-i)*corner + (i+1)*bottom + 32) >> 6
				out[2*n+1+i] = ((63-i)*corner + (i+1)*right + 32) >> 6
			}
			out[0], out[last] = bottom, right
			return out
		}
	}
	out[0], out[last] = refs[0], refs[last]
	for i := 1; i < last; i++ {
		out[i] = (refs[i-1] + 2*refs[i] + refs[i+1] + 2) >> 2
	}
	return out
}

func planar(pl *picture.Plane, b *Block, n int, refs []int) {
	shift := uint(b.Log2Size + 1)
	topRight, bottomLeft := top(refs, n, n), left(refs, n, n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			v := (n-1-x)*left(refs, n, y) + (x+1)*topRight +
				(n-1-y)*top(refs, n, x) + (y+1)*bottomLeft + n
			pl.Set(b.X+x, b.Y+y, v>>shift)
		}
	}
}

func dc(pl *picture.Plane, b *Block, n int, refs []int) {
	sum := n
	for i := 0; i < n; i++ {
		sum += top(refs, n, i) + left(refs, n, i)
	}
	dcVal := sum >> uint(b.Log2Size+1)
	edge := b.CIdx == 0 && n < 32 && !b.DisableBoundaryFilter
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			v := dcVal
			if edge {
				switch {
				case x == 0 && y == 0:
					v = (left(refs, n, 0) + 2*dcVal + top(refs, n, 0) + 2) >> 2
				case y == 0:
					v = (top(refs, n, x) + 3*dcVal + 2) >> 2
				case x == 0:
					v = (left(refs, n, y) + 3*dcVal + 2) >> 2
				}
			}
			pl.Set(b.X+x, b.Y+y, v)
		}
	}
}

// angular implements clause 8.4.4.2.6. Horizontal modes are predicted
// with the roles of x and y exchanged.
func (p *Predictor) angular(pl *picture.Plane, b *Block, n int, refs []int) {
	mode := b.Mode
	angle := predAngle[mode]
	vertical := mode >= 18

	// main and side return p[-1+i][-1] and p[-1][-1+i] for the vertical
	// case and the transposed samples otherwise.
	main, side := top, left
	if !vertical {
		main, side = left, top
	}
	ref := p.ref[:]
	const o = 64 // ref[o+i] holds ref[i], i in -n..2n
	for i := 0; i <= n; i++ {
		ref[o+i] = main(refs, n, i-1)
	}
	if angle < 0 {
		if lo := (n * angle) >> 5; lo < -1 {
			for i := lo; i <= -1; i++ {
				ref[o+i] = side(refs, n, -1+((i*invAngle[mode]+128)>>8))
			}
		}
	} else {
		for i := n + 1; i <= 2*n; i++ {
			ref[o+i] = main(refs, n, i-1)
		}
	}

	for j := 0; j < n; j++ {
		idx := ((j + 1) * angle) >> 5
		fact := ((j + 1) * angle) & 31
		for i := 0; i < n; i++ {
			v := ref[o+i+idx+1]
			if fact != 0 {
				v = ((32-fact)*v + fact*ref[o+i+idx+2] + 16) >> 5
			}
			if vertical {
				pl.Set(b.X+i, b.Y+j, v)
			} else {
				pl.Set(b.X+j, b.Y+i, v)
			}
		}
	}

	if angle != 0 || b.CIdx != 0 || n >= 32 || b.DisableBoundaryFilter {
		return
	}
	corner := refs[2*n]
	for j := 0; j < n; j++ {
		v := main(refs, n, 0) + ((side(refs, n, j) - corner) >> 1)
		if vertical {
			pl.Set(b.X, b.Y+j, v)
		} else {
			pl.Set(b.X+j, b.Y, v)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
