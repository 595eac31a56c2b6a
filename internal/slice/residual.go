package slice

import (
	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/entropy"
	"github.com/mrjoshuak/go-hevc/internal/intra"
	"github.com/mrjoshuak/go-hevc/internal/transform"
)

// sig_coeff_flag context of each position in a 4x4 block.
var ctxIdxMap = [16]int{0, 1, 4, 5, 2, 3, 4, 5, 6, 6, 8, 8, 7, 7, 8, 8}

// residualCoding parses residual_coding() (clause 7.3.8.11) for the
// transform block at (x0, y0) in component samples and turns the levels
// into residual samples in res.
func (s *segment) residualCoding(res []int32, x0, y0, log2Size, cIdx, predMode int) error {
	cu := &s.cu
	ext := &s.sps.RangeExtension
	cabac := s.cabac
	n := 1 << log2Size
	clear(res)

	tsFlag := false
	if s.pps.TransformSkipEnabled && !cu.bypass && log2Size <= s.pps.RangeExtension.Log2MaxTransformSkipSize {
		tsFlag = cabac.DecodeDecision(entropy.CtxTransformSkipFlag+min(cIdx, 1)) == 1
	}

	lastX := s.lastSigPrefix(entropy.CtxLastSigCoeffXPrefix, log2Size, cIdx)
	lastY := s.lastSigPrefix(entropy.CtxLastSigCoeffYPrefix, log2Size, cIdx)
	lastX = s.lastSigSuffix(lastX)
	lastY = s.lastSigSuffix(lastY)
	scanIdx := s.scanIdx(log2Size, cIdx, predMode)
	if scanIdx == transform.ScanVertical {
		lastX, lastY = lastY, lastX
	}

	log2Sb := log2Size - 2
	sbWidth := 1 << log2Sb
	sbScan := transform.ScanOrder[log2Sb][scanIdx]
	posScan := transform.ScanOrder[2][scanIdx]
	lastSub, lastPos := scanPosition(sbScan, posScan, lastX, lastY)

	rdpcm := transform.RDPCMOff
	if ext.ImplicitRDPCM && (tsFlag || cu.bypass) {
		switch predMode {
		case intra.Horizontal:
			rdpcm = transform.RDPCMHorizontal
		case intra.Vertical:
			rdpcm = transform.RDPCMVertical
		}
	}
	signHiding := s.pps.SignDataHiding && !cu.bypass && !(rdpcm != transform.RDPCMOff && tsFlag)
	tsContext := ext.TransformSkipContext && (tsFlag || cu.bypass)
	sbType := 0
	if cIdx == 0 {
		sbType = 2
	}
	if tsFlag || cu.bypass {
		sbType++
	}
	bitDepth, coeffMin, coeffMax := s.sps.BitDepthY, s.sps.CoeffMinY, s.sps.CoeffMaxY
	if cIdx > 0 {
		bitDepth, coeffMin, coeffMax = s.sps.BitDepthC, s.sps.CoeffMinC, s.sps.CoeffMaxC
	}
	log2Range := transform.Log2Range(ext.ExtendedPrecision, bitDepth)

	var csbf [8 * 8]bool
	greater1Ctx := 1
	for i := lastSub; i >= 0; i-- {
		xS, yS := int(sbScan[i].X), int(sbScan[i].Y)
		right := xS+1 < sbWidth && csbf[yS*8+xS+1]
		below := yS+1 < sbWidth && csbf[(yS+1)*8+xS]

		coded := true
		inferDC := false
		if i < lastSub && i > 0 {
			inc := 0
			if right || below {
				inc = 1
			}
			if cIdx > 0 {
				inc += 2
			}
			coded = cabac.DecodeDecision(entropy.CtxCodedSubBlockFlag+inc) == 1
			inferDC = true
		}
		csbf[yS*8+xS] = coded
		if !coded {
			continue
		}

		prevCsbf := 0
		if right {
			prevCsbf |= 1
		}
		if below {
			prevCsbf |= 2
		}

		// Significant positions in decreasing scan order
		var sig [16]int
		nSig := 0
		start := 15
		if i == lastSub {
			sig[0] = lastPos
			nSig = 1
			start = lastPos - 1
		}
		for p := start; p >= 0; p-- {
			if p == 0 && inferDC {
				sig[nSig] = 0
				nSig++
				break
			}
			xC, yC := xS<<2+int(posScan[p].X), yS<<2+int(posScan[p].Y)
			ctx := sigCtx(cIdx, log2Size, xC, yC, prevCsbf, scanIdx, tsContext)
			if cabac.DecodeDecision(entropy.CtxSigCoeffFlag+ctx) == 1 {
				sig[nSig] = p
				nSig++
				inferDC = false
			}
		}
		if nSig == 0 {
			continue
		}

		ctxSet := 0
		if i > 0 && cIdx == 0 {
			ctxSet = 2
		}
		if greater1Ctx == 0 {
			ctxSet++
		}
		greater1Ctx = 1
		var greater1 [8]bool
		firstGreater1 := -1
		escape := nSig > 8
		for k := 0; k < min(nSig, 8); k++ {
			inc := ctxSet*4 + greater1Ctx
			if cIdx > 0 {
				inc += 16
			}
			greater1[k] = cabac.DecodeDecision(entropy.CtxGreater1Flag+inc) == 1
			if greater1[k] {
				greater1Ctx = 0
				if firstGreater1 < 0 {
					firstGreater1 = k
				} else {
					escape = true
				}
			} else if greater1Ctx > 0 && greater1Ctx < 3 {
				greater1Ctx++
			}
		}
		greater2 := false
		if firstGreater1 >= 0 {
			inc := ctxSet
			if cIdx > 0 {
				inc += 4
			}
			greater2 = cabac.DecodeDecision(entropy.CtxGreater2Flag+inc) == 1
			if greater2 {
				escape = true
			}
		}
		if ext.CABACBypassAlignment && escape {
			cabac.AlignBypass()
		}

		hidden := signHiding && sig[0]-sig[nSig-1] > 3
		signs := nSig
		if hidden {
			signs--
		}
		signBits := cabac.DecodeBypassBits(signs) << uint(32-signs)

		rice := 0
		if ext.PersistentRiceAdaptation {
			rice = s.statCoeff[sbType] / 4
		}
		firstRemaining := true
		sumAbs := 0
		for k := 0; k < nSig; k++ {
			base, threshold := 1, 1
			if k < 8 {
				threshold = 2
				if greater1[k] {
					base++
				}
				if k == firstGreater1 {
					threshold = 3
					if greater2 {
						base++
					}
				}
			}
			abs := base
			if base == threshold {
				rem, err := s.coeffAbsLevelRemaining(rice, ext.ExtendedPrecision, log2Range)
				if err != nil {
					return err
				}
				if ext.PersistentRiceAdaptation && firstRemaining {
					s.updateStatCoeff(sbType, rem)
				}
				firstRemaining = false
				abs = base + rem
				rice = nextRice(rice, abs, ext.PersistentRiceAdaptation)
			}

			level := int64(abs)
			if k < signs && signBits&(1<<31) != 0 {
				level = -level
			}
			signBits <<= 1
			if hidden {
				sumAbs += abs
				if k == nSig-1 && sumAbs%2 == 1 {
					level = -level
				}
			}
			p := sig[k]
			xC, yC := xS<<2+int(posScan[p].X), yS<<2+int(posScan[p].Y)
			res[yC*n+xC] = int32(max(int64(coeffMin), min(int64(coeffMax), level)))
		}
	}

	tb := transform.Block{
		Log2Size:          log2Size,
		BitDepth:          bitDepth,
		ExtendedPrecision: ext.ExtendedPrecision,
		QP:                s.qp(cIdx),
		DST:               cIdx == 0 && log2Size == 2,
		TransformSkip:     tsFlag,
		Bypass:            cu.bypass,
		Rotate:            ext.TransformSkipRotation && log2Size == 2,
		RDPCM:             rdpcm,
	}
	if s.factors != nil {
		tb.Factors = s.factors.Matrix(log2Size, cIdx)
	}
	tb.Residual(res)

	if cIdx == 0 {
		s.blocks.SetTransformSkip(x0, y0, n, 0, tsFlag)
	} else {
		s.blocks.SetTransformSkip(x0*s.subWidth, y0*s.subHeight, n*s.subWidth, cIdx, tsFlag)
	}
	return nil
}

// scanPosition finds the sub-block and position in scan order of the
// coefficient at (x, y).
func scanPosition(sbScan, posScan []transform.Pos, x, y int) (sub, pos int) {
	for i, p := range sbScan {
		if int(p.X) == x>>2 && int(p.Y) == y>>2 {
			sub = i
			break
		}
	}
	for i, p := range posScan {
		if int(p.X) == x&3 && int(p.Y) == y&3 {
			pos = i
			break
		}
	}
	return sub, pos
}

// lastSigPrefix decodes last_sig_coeff_x_prefix or _y_prefix.
func (s *segment) lastSigPrefix(ctxBase, log2Size, cIdx int) int {
	offset, shift := 15, log2Size-2
	if cIdx == 0 {
		offset = 3*(log2Size-2) + (log2Size-1)>>2
		shift = (log2Size + 1) >> 2
	}
	cMax := log2Size<<1 - 1
	v := 0
	for v < cMax && s.cabac.DecodeDecision(ctxBase+offset+v>>uint(shift)) == 1 {
		v++
	}
	return v
}

// lastSigSuffix reads the suffix of a last position prefix and returns
// LastSignificantCoeffX or Y.
func (s *segment) lastSigSuffix(prefix int) int {
	if prefix <= 3 {
		return prefix
	}
	k := prefix>>1 - 1
	return 1<<uint(k)*(2+prefix&1) + int(s.cabac.DecodeBypassBits(k))
}

// scanIdx selects the coefficient scan of an intra transform block
// (clause 7.4.9.11).
func (s *segment) scanIdx(log2Size, cIdx, predMode int) int {
	if log2Size == 2 || (log2Size == 3 && (cIdx == 0 || s.chromaArrayType == 3)) {
		switch {
		case predMode >= 6 && predMode <= 14:
			return transform.ScanVertical
		case predMode >= 22 && predMode <= 30:
			return transform.ScanHorizontal
		}
	}
	return transform.ScanDiagonal
}

// sigCtx derives ctxInc of sig_coeff_flag (clause 9.3.4.2.5).
func sigCtx(cIdx, log2Size, xC, yC, prevCsbf, scanIdx int, tsContext bool) int {
	var c int
	switch {
	case tsContext:
		c = 42
		if cIdx > 0 {
			c = 16
		}
	case log2Size == 2:
		c = ctxIdxMap[yC<<2+xC]
	case xC+yC == 0:
		c = 0
	default:
		xP, yP := xC&3, yC&3
		switch prevCsbf {
		case 0:
			switch {
			case xP+yP == 0:
				c = 2
			case xP+yP < 3:
				c = 1
			}
		case 1:
			c = max(2-yP, 0)
		case 2:
			c = max(2-xP, 0)
		default:
			c = 2
		}
		if cIdx == 0 {
			if xC>>2+yC>>2 > 0 {
				c += 3
			}
			switch {
			case log2Size > 3:
				c += 21
			case scanIdx == transform.ScanDiagonal:
				c += 9
			default:
				c += 15
			}
		} else {
			if log2Size == 3 {
				c += 9
			} else {
				c += 12
			}
		}
	}
	if cIdx > 0 {
		c += 27
	}
	return c
}

// coeffAbsLevelRemaining decodes coeff_abs_level_remaining (clause
// 9.3.3.11).
func (s *segment) coeffAbsLevelRemaining(rice int, extended bool, log2Range int) (int, error) {
	maxPrefix := 32
	if extended {
		maxPrefix = 32 - log2Range
	}
	prefix := 0
	for prefix < maxPrefix && s.cabac.DecodeBypass() == 1 {
		prefix++
	}
	if prefix <= 3 {
		return prefix<<uint(rice) + int(s.cabac.DecodeBypassBits(rice)), nil
	}
	n := prefix - 3
	bits := n + rice
	if extended && prefix == maxPrefix {
		bits = log2Range
	}
	if bits > 32 {
		return 0, errors.Wrap(ErrCorruptData, "coeff_abs_level_remaining escape too long")
	}
	return (1<<uint(n)+2)<<uint(rice) + int(s.cabac.DecodeBypassBits(bits)), nil
}

// nextRice derives cRiceParam for the next coeff_abs_level_remaining of
// a sub-block. The parameter only stops at 4 without persistent Rice
// adaptation.
func nextRice(rice, abs int, persistent bool) int {
	if abs <= 3<<uint(rice) {
		return rice
	}
	if persistent {
		return rice + 1
	}
	return min(rice+1, 4)
}

// updateStatCoeff adapts StatCoeff from the first
// coeff_abs_level_remaining of a sub-block.
func (s *segment) updateStatCoeff(sbType, rem int) {
	st := &s.statCoeff[sbType]
	switch {
	case rem >= 3<<uint(*st/4):
		*st++
	case 2*rem < 1<<uint(*st/4) && *st > 0:
		*st--
	}
}

// predict writes the intra prediction of a transform block of component
// cIdx at (x, y) in component samples.
func (s *segment) predict(cIdx, x, y, log2Size, mode int) {
	sw, sh := 1, 1
	if cIdx > 0 {
		sw, sh = s.subWidth, s.subHeight
	}
	ext := &s.sps.RangeExtension
	b := intra.Block{
		X:                     x,
		Y:                     y,
		Log2Size:              log2Size,
		CIdx:                  cIdx,
		Mode:                  mode,
		FilterRefs:            (cIdx == 0 || s.chromaArrayType == 3) && !ext.IntraSmoothingDisabled,
		StrongSmoothing:       s.sps.StrongIntraSmoothing,
		DisableBoundaryFilter: s.sps.SCCExtension.IntraBoundaryFilteringDisabled || (ext.ImplicitRDPCM && s.cu.bypass),
	}
	xCurr, yCurr := x*sw, y*sh
	s.pred.Predict(s.planes[cIdx], &b, func(xN, yN int) bool {
		return s.blocks.Available(xCurr, yCurr, xN*sw, yN*sh)
	})
}
