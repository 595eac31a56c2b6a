package slice

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/bio"
	"github.com/mrjoshuak/go-hevc/internal/entropy"
	"github.com/mrjoshuak/go-hevc/internal/intra"
	"github.com/mrjoshuak/go-hevc/internal/picture"
)

// PartMode is the partitioning of a coding unit into prediction blocks.
type PartMode uint8

// Partition modes. Intra coding units use Part2Nx2N and PartNxN only.
const (
	Part2Nx2N PartMode = iota
	Part2NxN
	PartNx2N
	PartNxN
	Part2NxnU
	Part2NxnD
	PartnLx2N
	PartnRx2N
)

// String returns the string representation of a partition mode.
func (m PartMode) String() string {
	switch m {
	case Part2Nx2N:
		return "2Nx2N"
	case Part2NxN:
		return "2NxN"
	case PartNx2N:
		return "Nx2N"
	case PartNxN:
		return "NxN"
	case Part2NxnU:
		return "2NxnU"
	case Part2NxnD:
		return "2NxnD"
	case PartnLx2N:
		return "nLx2N"
	case PartnRx2N:
		return "nRx2N"
	default:
		return "unknown"
	}
}

// Intra chroma mode mapping for 4:2:2 (Table 8-3).
var mode422 = [intra.NumModes]uint8{
	0, 1, 2, 2, 2, 2, 3, 5, 7, 8, 10, 11, 13, 15, 16, 18, 19, 20,
	21, 22, 23, 23, 24, 24, 25, 25, 26, 27, 27, 28, 28, 29, 29, 30, 31,
}

// codingUnit is the state of the coding unit being decoded.
type codingUnit struct {
	x0, y0   int
	log2Size int
	part     PartMode
	bypass   bool

	maxTrafoDepth int

	// Per prediction block, in z order
	lumaMode   [4]int
	chromaMode [4]int
	chromaDM   [4]bool // intra_chroma_pred_mode == 4
}

// pbIndex returns the prediction block containing luma sample (x, y).
func (cu *codingUnit) pbIndex(x, y int) int {
	if cu.part != PartNxN {
		return 0
	}
	half := 1 << (cu.log2Size - 1)
	i := 0
	if x-cu.x0 >= half {
		i++
	}
	if y-cu.y0 >= half {
		i += 2
	}
	return i
}

// quadtreeSink receives the decisions and leaves of coding_quadtree().
type quadtreeSink interface {
	// splitFlag decodes split_cu_flag.
	splitFlag(x0, y0, depth int) bool
	// node is called for every quadtree node once its split is known.
	node(x0, y0, log2Size int)
	codingUnit(x0, y0, log2Size, depth int) error
}

type bounds struct {
	width, height int
	log2MinCb     int
}

// codingQuadtree walks coding_quadtree() (clause 7.3.8.4). Nodes crossing
// the picture boundary are split without signalling and children outside
// the picture are skipped.
func codingQuadtree(q quadtreeSink, b bounds, x0, y0, log2Size, depth int) error {
	size := 1 << log2Size
	split := log2Size > b.log2MinCb
	if x0+size <= b.width && y0+size <= b.height && log2Size > b.log2MinCb {
		split = q.splitFlag(x0, y0, depth)
	}
	q.node(x0, y0, log2Size)
	if !split {
		return q.codingUnit(x0, y0, log2Size, depth)
	}
	half := size >> 1
	for i := 0; i < 4; i++ {
		x, y := x0+(i&1)*half, y0+(i>>1)*half
		if x >= b.width || y >= b.height {
			continue
		}
		if err := codingQuadtree(q, b, x, y, log2Size-1, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (s *segment) splitFlag(x0, y0, depth int) bool {
	inc := 0
	if s.blocks.Available(x0, y0, x0-1, y0) && s.blocks.CtDepth(x0-1, y0) > depth {
		inc++
	}
	if s.blocks.Available(x0, y0, x0, y0-1) && s.blocks.CtDepth(x0, y0-1) > depth {
		inc++
	}
	return s.cabac.DecodeDecision(entropy.CtxSplitCUFlag+inc) == 1
}

func (s *segment) node(x0, y0, log2Size int) {
	if log2Size >= s.log2MinCuQpDeltaSize {
		s.isCuQpDeltaCoded = false
		s.cuQpDeltaVal = 0
	}
	if s.sh.CUChromaQPOffsetEnabled && log2Size >= s.log2MinCuChromaQpOffsetSize {
		s.isCuChromaQpOffsetCoded = false
	}
}

// codingUnit parses coding_unit() (clause 7.3.8.5) and reconstructs it.
func (s *segment) codingUnit(x0, y0, log2Size, depth int) error {
	cu := &s.cu
	*cu = codingUnit{x0: x0, y0: y0, log2Size: log2Size}
	size := 1 << log2Size

	if s.pps.TransquantBypassEnabled {
		cu.bypass = s.cabac.DecodeDecision(entropy.CtxCUTransquantBypass) == 1
	}
	s.blocks.SetCodingUnit(x0, y0, log2Size, depth, picture.ModeIntra)
	mask := 1<<s.log2MinCuQpDeltaSize - 1
	if qg := [2]int{x0 &^ mask, y0 &^ mask}; qg != s.qg {
		s.startQuantGroup(qg[0], qg[1])
	}
	s.updateQpY()

	if log2Size == s.sps.Log2MinCbSize && s.cabac.DecodeDecision(entropy.CtxPartMode) == 0 {
		cu.part = PartNxN
	}

	var err error
	if cu.part == Part2Nx2N && s.sps.PCMEnabled &&
		log2Size >= s.sps.Log2MinPCMCbSize && log2Size <= s.sps.Log2MaxPCMCbSize &&
		s.cabac.DecodeTerminate() == 1 {
		err = s.pcmSample(x0, y0, log2Size)
	} else {
		s.intraModes(cu)
		cu.maxTrafoDepth = s.sps.MaxTransformHierarchyDepthIntra
		if cu.part == PartNxN {
			cu.maxTrafoDepth++
		}
		err = s.transformTree(x0, y0, x0, y0, log2Size, 0, 0, 0)
	}

	s.blocks.SetQpY(x0, y0, size, s.qpY)
	s.lastQpY = s.qpY
	return err
}

// pcmSample reads pcm_sample() after pcm_flag and restarts the arithmetic
// decoder behind the samples.
func (s *segment) pcmSample(x0, y0, log2Size int) error {
	start := s.base + s.cabac.BytePosition()
	if start > len(s.data) {
		return errors.Wrap(ErrCorruptData, "PCM samples past the slice data")
	}
	r := bio.NewReader(s.data[start:])
	n := 1 << log2Size
	if err := readPCM(r, s.planes[0], x0, y0, n, n, s.sps.PCMBitDepthY); err != nil {
		return errors.Wrap(err, "pcm_sample_luma")
	}
	if s.chromaArrayType != 0 {
		w, h := n/s.subWidth, n/s.subHeight
		for c := 1; c <= 2; c++ {
			if err := readPCM(r, s.planes[c], x0/s.subWidth, y0/s.subHeight, w, h, s.sps.PCMBitDepthC); err != nil {
				return errors.Wrap(err, "pcm_sample_chroma")
			}
		}
	}
	s.blocks.SetIntraPredMode(x0, y0, n, intra.DC)
	r.Align()
	s.base = start + r.BytePosition()
	s.cabac.Reset(s.data[s.base:])
	return nil
}

func readPCM(r *bio.Reader, pl *picture.Plane, x0, y0, w, h, pcmBitDepth int) error {
	shift := uint(pl.BitDepth - pcmBitDepth)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v, err := r.ReadBits(uint(pcmBitDepth))
			if err != nil {
				return err
			}
			pl.Set(x0+x, y0+y, int(v)<<shift)
		}
	}
	return nil
}

// intraModes parses the luma and chroma intra prediction modes of the
// coding unit and derives IntraPredModeY and IntraPredModeC (clauses
// 8.4.2 and 8.4.3).
func (s *segment) intraModes(cu *codingUnit) {
	n := 1 << cu.log2Size
	pb, count := n, 1
	if cu.part == PartNxN {
		pb, count = n/2, 4
	}
	var prev [4]bool
	for i := 0; i < count; i++ {
		prev[i] = s.cabac.DecodeDecision(entropy.CtxPrevIntraLumaPredFlag) == 1
	}
	for i := 0; i < count; i++ {
		x, y := cu.x0+(i&1)*pb, cu.y0+(i>>1)*pb
		cand := s.mpmCandidates(x, y)
		var mode int
		if prev[i] {
			idx := 0
			for idx < 2 && s.cabac.DecodeBypass() == 1 {
				idx++
			}
			mode = cand[idx]
		} else {
			mode = int(s.cabac.DecodeBypassBits(5))
			sort.Ints(cand[:])
			for _, c := range cand {
				if mode >= c {
					mode++
				}
			}
		}
		cu.lumaMode[i] = mode
		s.blocks.SetIntraPredMode(x, y, pb, mode)
	}

	switch s.chromaArrayType {
	case 0:
	case 3:
		for i := 0; i < count; i++ {
			cu.chromaMode[i], cu.chromaDM[i] = s.chromaMode(cu.lumaMode[i])
			s.blocks.SetIntraPredModeC(cu.x0+(i&1)*pb, cu.y0+(i>>1)*pb, pb, cu.chromaMode[i])
		}
	default:
		m, dm := s.chromaMode(cu.lumaMode[0])
		for i := range cu.chromaMode {
			cu.chromaMode[i], cu.chromaDM[i] = m, dm
		}
		s.blocks.SetIntraPredModeC(cu.x0, cu.y0, n, m)
	}
}

// mpmCandidates derives candModeList for the prediction block at (x, y).
func (s *segment) mpmCandidates(x, y int) [3]int {
	a := s.candidate(x, y, x-1, y, false)
	b := s.candidate(x, y, x, y-1, true)
	if a == b {
		if a < 2 {
			return [3]int{intra.Planar, intra.DC, intra.Vertical}
		}
		return [3]int{a, 2 + (a+29)%32, 2 + (a-2+1)%32}
	}
	c := intra.Planar
	if a == intra.Planar || b == intra.Planar {
		c = intra.DC
		if a == intra.DC || b == intra.DC {
			c = intra.Vertical
		}
	}
	return [3]int{a, b, c}
}

func (s *segment) candidate(xPb, yPb, xN, yN int, above bool) int {
	if !s.blocks.Available(xPb, yPb, xN, yN) || s.blocks.PredMode(xN, yN) != picture.ModeIntra {
		return intra.DC
	}
	// The row above the CTB is not kept.
	if above && yN < (yPb>>s.sps.Log2CtbSize)<<s.sps.Log2CtbSize {
		return intra.DC
	}
	return s.blocks.IntraPredMode(xN, yN)
}

// chromaMode parses intra_chroma_pred_mode and derives the chroma mode
// from the luma mode of the prediction block. dm reports the syntax value
// 4, which takes the luma mode.
func (s *segment) chromaMode(luma int) (mode int, dm bool) {
	mode = luma
	dm = true
	if s.cabac.DecodeDecision(entropy.CtxIntraChromaPredMode) == 1 {
		dm = false
		mode = [4]int{intra.Planar, intra.Vertical, intra.Horizontal, intra.DC}[s.cabac.DecodeBypassBits(2)]
		if mode == luma {
			mode = 34
		}
	}
	if s.chromaArrayType == 2 {
		mode = int(mode422[mode])
	}
	return mode, dm
}
