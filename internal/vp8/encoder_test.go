package vp8

import (
	"github.com/mrjoshuak/go-hevc/internal/entropy"
)

// testMB describes one macroblock of a synthesized key frame. Coefficient
// levels are in zigzag order; nil blocks are all zero.
type testMB struct {
	skip   bool
	ymode  uint8
	bmodes [16]uint8
	uvmode uint8

	y2 []int
	y  [16][]int
	uv [8][]int
}

// testFrame is encoded with default coefficient probabilities and no
// segmentation or loop filter.
type testFrame struct {
	width, height int
	q             int
	skipProb      int // negative disables the skip flag
	log2Parts     int
	mbs           []testMB // raster order
}

// encode builds the VP8 key frame bitstream of f.
func (f *testFrame) encode() []byte {
	mbw, mbh := (f.width+15)>>4, (f.height+15)>>4
	fp := entropy.NewBoolEncoder()
	fp.EncodeBits(0, 2) // color space, clamping
	fp.EncodeBits(0, 1) // segmentation
	fp.EncodeBits(0, 1+6+3+1)
	fp.EncodeBits(uint32(f.log2Parts), 2)
	fp.EncodeBits(uint32(f.q), 7)
	fp.EncodeBits(0, 5) // no quantizer deltas
	fp.EncodeBits(0, 1) // refresh_entropy_probs
	for t := range coeffUpdateProbs {
		for b := range coeffUpdateProbs[t] {
			for c := range coeffUpdateProbs[t][b] {
				for _, p := range coeffUpdateProbs[t][b][c] {
					fp.Encode(p, 0)
				}
			}
		}
	}
	if f.skipProb >= 0 {
		fp.EncodeBits(1, 1)
		fp.EncodeBits(uint32(f.skipProb), 8)
	} else {
		fp.EncodeBits(0, 1)
	}

	parts := make([]*entropy.BoolEncoder, 1<<f.log2Parts)
	for i := range parts {
		parts[i] = entropy.NewBoolEncoder()
	}
	intraT := make([]uint8, 4*mbw)
	nzT := make([]nzContext, mbw)
	for mby := 0; mby < mbh; mby++ {
		var intraL [4]uint8
		var nzL nzContext
		for mbx := 0; mbx < mbw; mbx++ {
			mb := &f.mbs[mby*mbw+mbx]
			encodeModes(fp, mb, f.skipProb, intraT[4*mbx:4*mbx+4], &intraL)
			encodeResiduals(parts[mby&(len(parts)-1)], mb, &nzT[mbx], &nzL)
		}
	}

	first := fp.Flush()
	tag := uint32(len(first))<<5 | 1<<4 // key frame, version 0, shown
	out := []byte{byte(tag), byte(tag >> 8), byte(tag >> 16), 0x9D, 0x01, 0x2A,
		byte(f.width), byte(f.width >> 8), byte(f.height), byte(f.height >> 8)}
	out = append(out, first...)

	var data [][]byte
	for _, p := range parts {
		data = append(data, p.Flush())
	}
	for _, p := range data[:len(data)-1] {
		out = append(out, byte(len(p)), byte(len(p)>>8), byte(len(p)>>16))
	}
	for _, p := range data {
		out = append(out, p...)
	}
	return out
}

func encodeModes(e *entropy.BoolEncoder, mb *testMB, skipProb int, top []uint8, left *[4]uint8) {
	if skipProb >= 0 {
		bit := 0
		if mb.skip {
			bit = 1
		}
		e.Encode(uint8(skipProb), bit)
	}
	encodeTree(e, yModeTree, yModeProbs, int(mb.ymode))
	if mb.ymode != predB {
		for i := 0; i < 4; i++ {
			top[i], left[i] = mb.ymode, mb.ymode
		}
	} else {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				m := mb.bmodes[4*y+x]
				encodeTree(e, bModeTree, bModeProbs[top[x]][left[y]][:], int(m))
				top[x], left[y] = m, m
			}
		}
	}
	encodeTree(e, uvModeTree, uvModeProbs, int(mb.uvmode))
}

// encodeTree writes the path to leaf v of a coding tree.
func encodeTree(e *entropy.BoolEncoder, tree []int8, probs []uint8, v int) {
	var path func(i int) []int
	path = func(i int) []int {
		for bit := 0; bit < 2; bit++ {
			next := int(tree[i+bit])
			if next <= 0 {
				if -next == v {
					return []int{i, bit}
				}
				continue
			}
			if p := path(next); p != nil {
				return append([]int{i, bit}, p...)
			}
		}
		return nil
	}
	p := path(0)
	if p == nil {
		panic("leaf not in tree")
	}
	for k := 0; k < len(p); k += 2 {
		e.Encode(probs[p[k]>>1], p[k+1])
	}
}

func encodeResiduals(e *entropy.BoolEncoder, mb *testMB, top, left *nzContext) {
	if mb.skip {
		top.y, left.y = [4]uint8{}, [4]uint8{}
		top.u, left.u = [2]uint8{}, [2]uint8{}
		top.v, left.v = [2]uint8{}, [2]uint8{}
		if mb.ymode != predB {
			top.dc, left.dc = 0, 0
		}
		return
	}
	level := func(c []int) []int {
		if c == nil {
			return make([]int, 16)
		}
		return c
	}
	probs := &defaultCoeffProbs
	first, typ := 0, typeY4
	if mb.ymode != predB {
		nz := encodeCoeffs(e, &probs[typeY2], int(top.dc+left.dc), 0, level(mb.y2))
		top.dc, left.dc = flag(nz > 0), flag(nz > 0)
		first, typ = 1, typeY16AC
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			nz := encodeCoeffs(e, &probs[typ], int(top.y[x]+left.y[y]), first, level(mb.y[4*y+x]))
			top.y[x], left.y[y] = flag(nz > first), flag(nz > first)
		}
	}
	for i, ctx := range []struct{ top, left *[2]uint8 }{{&top.u, &left.u}, {&top.v, &left.v}} {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				nz := encodeCoeffs(e, &probs[typeChroma], int(ctx.top[x]+ctx.left[y]), 0, level(mb.uv[4*i+2*y+x]))
				ctx.top[x], ctx.left[y] = flag(nz > 0), flag(nz > 0)
			}
		}
	}
}

// encodeCoeffs writes the tokens of one block and returns the position
// after the last token, as the decoder reports it.
func encodeCoeffs(e *entropy.BoolEncoder, probs *[numBands][numContexts][numProbs]uint8, ctx, first int, levels []int) int {
	last := -1
	for i := first; i < 16; i++ {
		if levels[i] != 0 {
			last = i
		}
	}
	p := &probs[bands[first]][ctx]
	for n := first; n < 16; n++ {
		if n > last {
			e.Encode(p[0], 0)
			return n
		}
		e.Encode(p[0], 1)
		for levels[n] == 0 {
			e.Encode(p[1], 0)
			n++
			p = &probs[bands[n]][0]
		}
		e.Encode(p[1], 1)
		v, sign := levels[n], 0
		if v < 0 {
			v, sign = -v, 1
		}
		next := &probs[bands[n+1]]
		if v == 1 {
			e.Encode(p[2], 0)
			p = &next[1]
		} else {
			e.Encode(p[2], 1)
			encodeLarge(e, p, v)
			p = &next[2]
		}
		e.Encode(128, sign)
	}
	return 16
}

func encodeLarge(e *entropy.BoolEncoder, p *[numProbs]uint8, v int) {
	switch {
	case v <= 4:
		e.Encode(p[3], 0)
		if v == 2 {
			e.Encode(p[4], 0)
			return
		}
		e.Encode(p[4], 1)
		e.Encode(p[5], v-3)
	case v <= 10:
		e.Encode(p[3], 1)
		e.Encode(p[6], 0)
		if v <= 6 {
			e.Encode(p[7], 0)
			e.Encode(159, v-5)
			return
		}
		e.Encode(p[7], 1)
		e.Encode(165, (v-7)>>1)
		e.Encode(145, (v-7)&1)
	default:
		e.Encode(p[3], 1)
		e.Encode(p[6], 1)
		cat := 0
		for cat < 3 && v >= 3+8<<(cat+1) {
			cat++
		}
		e.Encode(p[8], cat>>1)
		e.Encode(p[9+cat>>1], cat&1)
		extra := v - (3 + 8<<cat)
		probs := catProbs[cat]
		for i, prob := range probs {
			e.Encode(prob, extra>>(len(probs)-1-i)&1)
		}
	}
}
