package slice

import (
	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/entropy"
	"github.com/mrjoshuak/go-hevc/internal/transform"
)

// chromaCbf holds cbf_cb and cbf_cr of a transform tree node. The second
// bit of each pair is the lower block of a 4:2:2 transform unit.
type chromaCbf uint8

func (c chromaCbf) has(cIdx, sub int) bool {
	return c&(1<<uint((cIdx-1)*2+sub)) != 0
}

func (c *chromaCbf) set(cIdx, sub int, v bool) {
	if v {
		*c |= 1 << uint((cIdx-1)*2+sub)
	}
}

// transformTree parses transform_tree() (clause 7.3.8.8).
func (s *segment) transformTree(x0, y0, xBase, yBase, log2Size, depth, blkIdx int, parent chromaCbf) error {
	cu := &s.cu
	intraSplit := cu.part == PartNxN && depth == 0
	var split bool
	if log2Size <= s.sps.Log2MaxTbSize && log2Size > s.sps.Log2MinTbSize && depth < cu.maxTrafoDepth && !intraSplit {
		split = s.cabac.DecodeDecision(entropy.CtxSplitTransformFlag+5-log2Size) == 1
	} else {
		split = log2Size > s.sps.Log2MaxTbSize || intraSplit
	}

	var cbf chromaCbf
	cat := s.chromaArrayType
	if (log2Size > 2 && cat != 0) || cat == 3 {
		for c := 1; c <= 2; c++ {
			if depth > 0 && !parent.has(c, 0) {
				continue
			}
			cbf.set(c, 0, s.cabac.DecodeDecision(entropy.CtxCbfChroma+depth) == 1)
			if cat == 2 && (!split || log2Size == 3) {
				cbf.set(c, 1, s.cabac.DecodeDecision(entropy.CtxCbfChroma+depth) == 1)
			}
		}
	}

	if split {
		half := 1 << (log2Size - 1)
		for i := 0; i < 4; i++ {
			err := s.transformTree(x0+(i&1)*half, y0+(i>>1)*half, x0, y0, log2Size-1, depth+1, i, cbf)
			if err != nil {
				return err
			}
		}
		return nil
	}

	inc := 0
	if depth == 0 {
		inc = 1
	}
	cbfLuma := s.cabac.DecodeDecision(entropy.CtxCbfLuma+inc) == 1
	return s.transformUnit(x0, y0, xBase, yBase, log2Size, blkIdx, cbfLuma, cbf, parent)
}

// transformUnit parses transform_unit() (clause 7.3.8.10) and
// reconstructs its luma and chroma blocks.
func (s *segment) transformUnit(x0, y0, xBase, yBase, log2Size, blkIdx int, cbfLuma bool, cbf, parent chromaCbf) error {
	cu := &s.cu
	cat := s.chromaArrayType
	// 4x4 luma blocks outside 4:4:4 carry their chroma in the fourth block.
	chromaWithParent := cat != 3 && log2Size == 2
	cbfC := cbf
	if chromaWithParent {
		cbfC = parent
	}
	if cat == 0 {
		cbfC = 0
	}

	if cbfLuma || cbfC != 0 {
		if s.pps.CUQPDeltaEnabled && !s.isCuQpDeltaCoded {
			if err := s.cuQpDelta(); err != nil {
				return err
			}
		}
		if cbfC != 0 && !cu.bypass && s.sh.CUChromaQPOffsetEnabled && !s.isCuChromaQpOffsetCoded {
			s.cuChromaQpOffset()
		}
	}

	pb := cu.pbIndex(x0, y0)
	crossComponent := s.pps.RangeExtension.CrossComponentPrediction && cbfLuma && cu.chromaDM[pb]
	if err := s.block(0, x0, y0, log2Size, cu.lumaMode[pb], cbfLuma, 0); err != nil {
		return err
	}
	if cat == 0 {
		return nil
	}

	xC, yC, log2C := x0/s.subWidth, y0/s.subHeight, log2Size
	switch {
	case cat == 3:
	case !chromaWithParent:
		log2C--
	case blkIdx == 3:
		xC, yC, log2C = xBase/s.subWidth, yBase/s.subHeight, 2
		cbf = parent
	default:
		return nil
	}
	blocks := 1
	if cat == 2 {
		blocks = 2
	}
	mode := s.blocks.IntraPredModeC(x0, y0)
	for c := 1; c <= 2; c++ {
		resScale := 0
		if crossComponent {
			resScale = s.crossComponentScale(c)
		}
		for sub := 0; sub < blocks; sub++ {
			if err := s.block(c, xC, yC+sub<<log2C, log2C, mode, cbf.has(c, sub), resScale); err != nil {
				return err
			}
		}
	}
	return nil
}

// cuQpDelta parses cu_qp_delta_abs and cu_qp_delta_sign_flag.
// CuQpDeltaVal must lie in [-(26 + QpBdOffsetY/2), 25 + QpBdOffsetY/2].
func (s *segment) cuQpDelta() error {
	v := 0
	for v < 5 && s.cabac.DecodeDecision(entropy.CtxCUQPDeltaAbs+min(v, 1)) == 1 {
		v++
	}
	if v == 5 {
		// EG0 suffix
		k := 0
		for k < 32 && s.cabac.DecodeBypass() == 1 {
			v += 1 << uint(k)
			k++
		}
		if k > 0 {
			v += int(s.cabac.DecodeBypassBits(k))
		}
	}
	if v > 0 && s.cabac.DecodeBypass() == 1 {
		v = -v
	}
	half := s.sps.QpBdOffsetY / 2
	if v < -(26+half) || v > 25+half {
		return errors.Wrapf(ErrCorruptData, "CuQpDeltaVal %d", v)
	}
	s.isCuQpDeltaCoded = true
	s.cuQpDeltaVal = v
	s.updateQpY()
	return nil
}

// cuChromaQpOffset parses cu_chroma_qp_offset_flag and
// cu_chroma_qp_offset_idx.
func (s *segment) cuChromaQpOffset() {
	ext := &s.pps.RangeExtension
	s.isCuChromaQpOffsetCoded = true
	s.cuQpOffsetCb, s.cuQpOffsetCr = 0, 0
	if s.cabac.DecodeDecision(entropy.CtxChromaQPOffsetFlag) == 0 {
		return
	}
	idx := 0
	for idx < len(ext.CbQPOffsetList)-1 && s.cabac.DecodeDecision(entropy.CtxChromaQPOffsetIdx) == 1 {
		idx++
	}
	if idx < len(ext.CbQPOffsetList) {
		s.cuQpOffsetCb = ext.CbQPOffsetList[idx]
		s.cuQpOffsetCr = ext.CrQPOffsetList[idx]
	}
}

// crossComponentScale parses cross_comp_pred() and returns ResScaleVal.
func (s *segment) crossComponentScale(cIdx int) int {
	c := cIdx - 1
	v := 0
	for v < 4 && s.cabac.DecodeDecision(entropy.CtxLog2ResScaleAbs+4*c+v) == 1 {
		v++
	}
	if v == 0 {
		return 0
	}
	scale := 1 << uint(v-1)
	if s.cabac.DecodeDecision(entropy.CtxResScaleSignFlag+c) == 1 {
		scale = -scale
	}
	return scale
}

// block predicts one transform block of component cIdx at (x, y) in
// component samples, decodes its residual and adds it.
func (s *segment) block(cIdx, x, y, log2Size, mode int, cbf bool, resScale int) error {
	s.predict(cIdx, x, y, log2Size, mode)
	n := 1 << log2Size
	res := s.coeffs[:n*n]
	ccp := cIdx == 0 && s.pps.RangeExtension.CrossComponentPrediction
	switch {
	case cbf:
		if err := s.residualCoding(res, x, y, log2Size, cIdx, mode); err != nil {
			return err
		}
	case resScale != 0:
		clear(res)
	default:
		if ccp {
			clear(s.resY[:n*n])
		}
		return nil
	}
	if ccp {
		copy(s.resY[:n*n], res)
	}
	if resScale != 0 {
		transform.CrossComponentPredict(res, s.resY[:n*n], resScale, s.sps.BitDepthY, s.sps.BitDepthC)
	}
	pl := s.planes[cIdx]
	for j := 0; j < n; j++ {
		row := res[j*n : j*n+n]
		for i, r := range row {
			pl.Set(x+i, y+j, pl.At(x+i, y+j)+int(r))
		}
	}
	return nil
}
