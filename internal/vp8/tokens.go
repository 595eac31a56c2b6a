package vp8

import "github.com/mrjoshuak/go-hevc/internal/entropy"

// Coefficient types selecting the probability set.
const (
	typeY16AC = iota // luma AC after a Y2 block
	typeY2
	typeChroma
	typeY4 // luma of a macroblock predicted per sub-block
)

var zigzag = [16]uint8{0, 1, 4, 8, 5, 2, 3, 6, 9, 12, 13, 10, 7, 11, 14, 15}

// Band of each coefficient position. The extra entry serves the lookahead
// after the last position.
var bands = [17]uint8{0, 1, 2, 3, 6, 4, 5, 6, 6, 6, 6, 6, 6, 6, 6, 7, 0}

// Extra bit probabilities of DCT_CAT3 to DCT_CAT6.
var catProbs = [4][]uint8{
	{173, 148, 140},
	{176, 155, 140, 135},
	{180, 157, 141, 134, 130},
	{254, 254, 243, 230, 196, 177, 153, 140, 133, 130, 129},
}

// coefficients decodes the tokens of one 4x4 block from position n,
// writing dequantized values to out in raster order. It returns the
// position after the last decoded token (RFC 6386 section 13).
func (d *Decoder) coefficients(br *entropy.BoolDecoder, typ, ctx int, dq [2]int, n int, out []int16) int {
	probs := &d.probs[typ]
	p := &probs[bands[n]][ctx]
	for ; n < 16; n++ {
		if br.Decide(p[0]) == 0 {
			return n // end of block
		}
		for br.Decide(p[1]) == 0 {
			n++
			if n == 16 {
				return 16
			}
			p = &probs[bands[n]][0]
		}
		next := &probs[bands[n+1]]
		var v int
		if br.Decide(p[2]) == 0 {
			v = 1
			p = &next[1]
		} else {
			v = largeValue(br, p)
			p = &next[2]
		}
		q := dq[1]
		if n == 0 {
			q = dq[0]
		}
		out[zigzag[n]] = int16(br.DecodeSigned(v) * q)
	}
	return 16
}

// largeValue decodes the magnitude of a token above DCT_1.
func largeValue(br *entropy.BoolDecoder, p *[numProbs]uint8) int {
	if br.Decide(p[3]) == 0 {
		if br.Decide(p[4]) == 0 {
			return 2
		}
		return 3 + br.Decide(p[5])
	}
	if br.Decide(p[6]) == 0 {
		if br.Decide(p[7]) == 0 {
			return 5 + br.Decide(159) // DCT_CAT1
		}
		v := 7 + 2*br.Decide(165) // DCT_CAT2
		return v + br.Decide(145)
	}
	bit1 := br.Decide(p[8])
	bit0 := br.Decide(p[9+bit1])
	cat := 2*bit1 + bit0
	v := 0
	for _, prob := range catProbs[cat] {
		v += v + br.Decide(prob)
	}
	return v + 3 + 8<<cat
}

// parseResiduals decodes the coefficients of a macroblock into
// d.coeffs: sixteen luma blocks, then four U and four V blocks.
func (d *Decoder) parseResiduals(br *entropy.BoolDecoder, mb *macroblock, mbx int) {
	top, left := &d.nzT[mbx], &d.nzL
	clear(d.coeffs[:])
	if mb.skip {
		top.y, left.y = [4]uint8{}, [4]uint8{}
		top.u, left.u = [2]uint8{}, [2]uint8{}
		top.v, left.v = [2]uint8{}, [2]uint8{}
		if mb.ymode != predB {
			top.dc, left.dc = 0, 0
		}
		return
	}

	q := &d.quant[mb.segment]
	first, typ := 0, typeY4
	if mb.ymode != predB {
		var dc [16]int16
		nz := d.coefficients(br, typeY2, int(top.dc+left.dc), q.y2, 0, dc[:])
		top.dc, left.dc = flag(nz > 0), flag(nz > 0)
		inverseWHT(&dc, d.coeffs[:])
		first, typ = 1, typeY16AC
	}

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			blk := d.coeffs[16*(4*y+x):][:16]
			nz := d.coefficients(br, typ, int(top.y[x]+left.y[y]), q.y1, first, blk)
			top.y[x], left.y[y] = flag(nz > first), flag(nz > first)
		}
	}

	chroma := func(base int, top, left *[2]uint8) {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				blk := d.coeffs[16*(base+2*y+x):][:16]
				nz := d.coefficients(br, typeChroma, int(top[x]+left[y]), q.uv, 0, blk)
				top[x], left[y] = flag(nz > 0), flag(nz > 0)
			}
		}
	}
	chroma(16, &top.u, &left.u)
	chroma(20, &top.v, &left.v)
}

func flag(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
