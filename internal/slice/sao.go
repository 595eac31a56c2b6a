package slice

import "github.com/mrjoshuak/go-hevc/internal/entropy"

// SAO types.
const (
	SAONone = iota
	SAOBand
	SAOEdge
)

// SAOParams are the sample adaptive offset parameters of one CTB. They
// are parsed but not applied.
type SAOParams struct {
	TypeIdx [3]uint8

	// Band position for band offset, edge class for edge offset
	BandPosition [3]uint8
	EOClass      [3]uint8

	// SaoOffsetVal[cIdx][1..4], scaled by the range extension shift
	Offsets [3][4]int16
}

// parseSAO parses sao() (clause 7.3.8.3) for the CTB at (rx, ry).
func (s *segment) parseSAO(rx, ry int) {
	g := s.pic.Geometry
	rs, ts := s.ctbAddrRs, s.ctbAddrTs
	cur := &s.sao[rs]
	*cur = SAOParams{}

	if rx > 0 && rs-1 >= s.sh.SliceAddrRs && g.TileID[ts] == g.TileIDRs(rs-1) {
		if s.cabac.DecodeDecision(entropy.CtxSAOMergeFlag) == 1 {
			*cur = s.sao[rs-1]
			return
		}
	}
	up := rs - g.WidthInCtbs
	if ry > 0 && up >= s.sh.SliceAddrRs && g.TileID[ts] == g.TileIDRs(up) {
		if s.cabac.DecodeDecision(entropy.CtxSAOMergeFlag) == 1 {
			*cur = s.sao[up]
			return
		}
	}

	comps := 3
	if s.chromaArrayType == 0 {
		comps = 1
	}
	for c := 0; c < comps; c++ {
		if (c == 0 && !s.sh.SAOLuma) || (c > 0 && !s.sh.SAOChroma) {
			continue
		}
		if c == 2 {
			cur.TypeIdx[2] = cur.TypeIdx[1]
			cur.EOClass[2] = cur.EOClass[1]
		} else {
			cur.TypeIdx[c] = s.saoTypeIdx()
		}
		if cur.TypeIdx[c] == SAONone {
			continue
		}

		bitDepth, shift := s.sps.BitDepthY, s.pps.RangeExtension.Log2SAOOffsetScaleLuma
		if c > 0 {
			bitDepth, shift = s.sps.BitDepthC, s.pps.RangeExtension.Log2SAOOffsetScaleChroma
		}
		cMax := 1<<(min(bitDepth, 10)-5) - 1
		var abs [4]int
		for i := range abs {
			abs[i] = s.truncatedUnaryBypass(cMax)
		}

		if cur.TypeIdx[c] == SAOBand {
			for i := range abs {
				if abs[i] != 0 && s.cabac.DecodeBypass() == 1 {
					abs[i] = -abs[i]
				}
			}
			cur.BandPosition[c] = uint8(s.cabac.DecodeBypassBits(5))
		} else {
			// Edge offsets are positive for the first two categories.
			abs[2], abs[3] = -abs[2], -abs[3]
			if c < 2 {
				cur.EOClass[c] = uint8(s.cabac.DecodeBypassBits(2))
			}
		}
		for i := range abs {
			cur.Offsets[c][i] = int16(abs[i] << uint(shift))
		}
	}
}

func (s *segment) saoTypeIdx() uint8 {
	if s.cabac.DecodeDecision(entropy.CtxSAOTypeIdx) == 0 {
		return SAONone
	}
	if s.cabac.DecodeBypass() == 0 {
		return SAOBand
	}
	return SAOEdge
}

// truncatedUnaryBypass decodes a bypass-coded TR value with cRiceParam 0.
func (s *segment) truncatedUnaryBypass(cMax int) int {
	v := 0
	for v < cMax && s.cabac.DecodeBypass() == 1 {
		v++
	}
	return v
}
