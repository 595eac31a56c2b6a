package slice

// qPi to QpC for ChromaArrayType 1 (Table 8-10), for qPi in 30..42.
var chromaQPTable = [13]int{29, 30, 31, 32, 33, 33, 34, 34, 35, 35, 36, 36, 37}

// startQuantGroup derives qPY_PRED for the quantization group at (xQg,
// yQg) (clause 8.6.1) when its first coding unit starts.
func (s *segment) startQuantGroup(xQg, yQg int) {
	s.qg = [2]int{xQg, yQg}
	prev := s.lastQpY
	if s.firstQG {
		prev = s.sh.SliceQPY
		s.firstQG = false
	}
	qpA, qpB := prev, prev
	if s.sameCtbNeighbour(xQg, yQg, xQg-1, yQg) {
		qpA = s.blocks.QpY(xQg-1, yQg)
	}
	if s.sameCtbNeighbour(xQg, yQg, xQg, yQg-1) {
		qpB = s.blocks.QpY(xQg, yQg-1)
	}
	s.qpYPred = (qpA + qpB + 1) >> 1
}

// sameCtbNeighbour reports whether (xN, yN) is available and inside the
// CTB containing (x, y).
func (s *segment) sameCtbNeighbour(x, y, xN, yN int) bool {
	if !s.blocks.Available(x, y, xN, yN) {
		return false
	}
	l := s.sps.Log2CtbSize
	return xN>>l == x>>l && yN>>l == y>>l
}

// updateQpY derives QpY from qPY_PRED and CuQpDeltaVal.
func (s *segment) updateQpY() {
	off := s.sps.QpBdOffsetY
	s.qpY = (s.qpYPred+s.cuQpDeltaVal+52+2*off)%(52+off) - off
}

// qp returns Qp'Y, Qp'Cb or Qp'Cr of the current coding unit.
func (s *segment) qp(cIdx int) int {
	if cIdx == 0 || s.chromaArrayType == 0 {
		return s.qpY + s.sps.QpBdOffsetY
	}
	off := s.pps.CbQPOffset + s.sh.CbQPOffset + s.cuQpOffsetCb
	if cIdx == 2 {
		off = s.pps.CrQPOffset + s.sh.CrQPOffset + s.cuQpOffsetCr
	}
	return chromaQP(s.qpY+off, s.chromaArrayType, s.sps.QpBdOffsetC) + s.sps.QpBdOffsetC
}

// chromaQP maps qPi to QpCb or QpCr.
func chromaQP(qPi, chromaArrayType, qpBdOffsetC int) int {
	qPi = max(-qpBdOffsetC, min(57, qPi))
	if chromaArrayType != 1 {
		return min(qPi, 51)
	}
	switch {
	case qPi < 30:
		return qPi
	case qPi > 42:
		return qPi - 6
	default:
		return chromaQPTable[qPi-30]
	}
}
