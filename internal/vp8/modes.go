package vp8

// Intra prediction modes. The 16x16 and chroma modes share values with
// the first four sub-block modes.
const (
	predDC = iota
	predTM
	predVE
	predHE
	predRD
	predVR
	predLD
	predVL
	predHD
	predHU

	// predB marks a macroblock predicted per 4x4 sub-block.
	predB = numBModes
)

// Coding trees (RFC 6386 section 8.1): positive entries index the next
// node pair, other entries are negated leaves.
var (
	yModeTree = []int8{
		-predB, 2,
		4, 6,
		-predDC, -predVE,
		-predHE, -predTM,
	}
	yModeProbs = []uint8{145, 156, 163, 128}

	uvModeTree = []int8{
		-predDC, 2,
		-predVE, 4,
		-predHE, -predTM,
	}
	uvModeProbs = []uint8{142, 114, 183}

	bModeTree = []int8{
		-predDC, 2,
		-predTM, 4,
		-predVE, 6,
		8, 12,
		-predHE, 10,
		-predRD, -predVR,
		-predLD, 14,
		-predVL, 16,
		-predHD, -predHU,
	}
)

// macroblock is the per-macroblock header from the first partition.
type macroblock struct {
	segment uint8
	skip    bool
	ymode   uint8
	bmodes  [16]uint8
	uvmode  uint8
}

// parseMode reads the segment, skip flag and intra modes of the
// macroblock in column mbx (RFC 6386 section 19.3).
func (d *Decoder) parseMode(mbx int) macroblock {
	br := d.fp
	var mb macroblock
	if d.segment.updateMap {
		p := d.segment.probs
		if br.Decide(p[0]) == 0 {
			mb.segment = uint8(br.Decide(p[1]))
		} else {
			mb.segment = uint8(br.Decide(p[2])) + 2
		}
	}
	if d.useSkipProb {
		mb.skip = br.Decide(d.skipProb) == 1
	}

	top := d.intraT[4*mbx : 4*mbx+4]
	mb.ymode = uint8(br.DecodeTree(yModeTree, yModeProbs))
	if mb.ymode != predB {
		for i := 0; i < 4; i++ {
			top[i] = mb.ymode
			d.intraL[i] = mb.ymode
		}
	} else {
		for y := 0; y < 4; y++ {
			left := d.intraL[y]
			for x := 0; x < 4; x++ {
				m := uint8(br.DecodeTree(bModeTree, bModeProbs[top[x]][left][:]))
				mb.bmodes[4*y+x] = m
				top[x] = m
				left = m
			}
			d.intraL[y] = left
		}
	}
	mb.uvmode = uint8(br.DecodeTree(uvModeTree, uvModeProbs))
	return mb
}
