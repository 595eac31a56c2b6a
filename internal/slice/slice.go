// Package slice decodes the slice segment data of intra pictures. It runs
// the CTU loop over tiles and wavefront substreams, parses the coding
// quadtree, transform tree and residual syntax with the CABAC engine, and
// reconstructs samples into a picture.Picture.
package slice

import (
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/codestream"
	"github.com/mrjoshuak/go-hevc/internal/entropy"
	"github.com/mrjoshuak/go-hevc/internal/intra"
	"github.com/mrjoshuak/go-hevc/internal/picture"
	"github.com/mrjoshuak/go-hevc/internal/transform"
)

var (
	// ErrUnsupportedSyntax is codestream.ErrUnsupportedSyntax.
	ErrUnsupportedSyntax = codestream.ErrUnsupportedSyntax

	// ErrCorruptData reports slice data that does not parse: a missing
	// end_of_subset_one_bit, a segment running past the last CTB or an
	// escape code longer than 32 bits.
	ErrCorruptData = errors.New("slice: corrupt slice data")
)

// Decoder reconstructs the slice segments of one picture. Segments must
// be passed in decoding order.
type Decoder struct {
	pic *picture.Picture
	sps *codestream.SPS
	pps *codestream.PPS

	// nil for flat scaling
	factors *transform.ScalingFactors

	// SAO holds the parsed sample adaptive offset parameters of every CTB
	// in raster scan, indexed by colour_plane_id for separate planes.
	SAO [3][]SAOParams

	// State at the end of the previous slice segment, restored by a
	// dependent slice segment.
	saved    segmentState
	hasSaved bool

	// Wavefront storage after the second CTB of the last CTB row. It
	// outlives a segment so that dependent segments can synchronize.
	wpp segmentState

	logger *slog.Logger
}

type segmentState struct {
	contexts  entropy.ContextSet
	statCoeff [4]int
	lastQpY   int
}

// NewDecoder creates a decoder for pic, which must have been allocated
// for sps and pps. A nil logger discards output.
func NewDecoder(pic *picture.Picture, sps *codestream.SPS, pps *codestream.PPS, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Decoder{
		pic:    pic,
		sps:    sps,
		pps:    pps,
		logger: logger.With("module", "slice"),
	}
	if sps.ScalingListEnabled {
		sl := sps.ScalingList
		if pps.ScalingList != nil {
			sl = pps.ScalingList
		}
		d.factors = transform.NewScalingFactors(sl)
	}
	for i := range d.SAO {
		if pic.Blocks(i) != nil {
			d.SAO[i] = make([]SAOParams, pic.SizeInCtbs)
		}
	}
	return d
}

// Picture returns the picture under reconstruction.
func (d *Decoder) Picture() *picture.Picture {
	return d.pic
}

// DecodeSegment decodes the slice data of one slice segment. data is the
// RBSP following the slice segment header.
func (d *Decoder) DecodeSegment(sh *codestream.SliceHeader, data []byte) error {
	if sh.Type != codestream.SliceI {
		return errors.Wrapf(ErrUnsupportedSyntax, "%v slice", sh.Type)
	}
	if sh.SegmentAddress >= d.pic.SizeInCtbs {
		return errors.Wrapf(ErrCorruptData, "slice_segment_address %d", sh.SegmentAddress)
	}
	if sh.DependentSliceSegment && !d.hasSaved {
		return errors.Wrap(ErrCorruptData, "dependent slice segment without a preceding segment")
	}
	s := newSegment(d, sh, data)
	if s.blocks == nil {
		return errors.Wrapf(ErrCorruptData, "colour_plane_id %d", sh.ColourPlaneID)
	}
	n, err := s.decode()
	d.logger.Debug("slice segment decoded", "address", sh.SegmentAddress, "ctbs", n,
		"substreams", s.substream+1, "tiles", d.pic.Geometry.NumTiles(), "dependent", sh.DependentSliceSegment)
	if err != nil {
		return errors.Wrapf(err, "slice segment at CTB %d", sh.SegmentAddress)
	}
	return nil
}

// segment is the decoding state of one slice segment.
type segment struct {
	*Decoder
	sh   *codestream.SliceHeader
	data []byte

	cabac     *entropy.CABACDecoder
	base      int // offset of the CABAC input in data
	substream int

	blocks          *picture.Blocks
	planes          [3]*picture.Plane
	sao             []SAOParams
	chromaArrayType int
	subWidth        int
	subHeight       int

	ctbAddrRs int
	ctbAddrTs int

	// StatCoeff of persistent Rice adaptation
	statCoeff [4]int

	// Quantization state. qg is the position of the current
	// quantization group.
	qg                          [2]int
	lastQpY                     int
	qpYPred                     int
	qpY                         int
	firstQG                     bool
	isCuQpDeltaCoded            bool
	cuQpDeltaVal                int
	isCuChromaQpOffsetCoded     bool
	cuQpOffsetCb                int
	cuQpOffsetCr                int
	log2MinCuQpDeltaSize        int
	log2MinCuChromaQpOffsetSize int

	cu codingUnit

	pred   intra.Predictor
	coeffs [32 * 32]int32
	resY   [32 * 32]int32
}

func newSegment(d *Decoder, sh *codestream.SliceHeader, data []byte) *segment {
	s := &segment{
		Decoder:         d,
		sh:              sh,
		data:            data,
		blocks:          d.pic.Blocks(sh.ColourPlaneID),
		chromaArrayType: d.pic.ChromaArrayType,
		subWidth:        d.pic.SubWidthC,
		subHeight:       d.pic.SubHeightC,
		lastQpY:         sh.SliceQPY,
		qg:              [2]int{-1, -1},
	}
	if d.sps.SeparateColourPlane {
		s.planes[0] = d.pic.Planes[sh.ColourPlaneID]
		s.sao = d.SAO[sh.ColourPlaneID]
	} else {
		s.planes = d.pic.Planes
		s.sao = d.SAO[0]
	}
	s.log2MinCuQpDeltaSize = d.sps.Log2CtbSize - d.pps.DiffCUQPDeltaDepth
	s.log2MinCuChromaQpOffsetSize = d.sps.Log2CtbSize - d.pps.RangeExtension.DiffCUChromaQPOffsetDepth
	if sh.DependentSliceSegment {
		s.lastQpY = d.saved.lastQpY
	}
	return s
}

// decode runs slice_segment_data() and returns the number of CTUs
// decoded.
func (s *segment) decode() (int, error) {
	g := s.pic.Geometry
	s.ctbAddrRs = s.sh.SegmentAddress
	s.ctbAddrTs = g.CtbAddrRsToTs[s.ctbAddrRs]
	s.cabac = entropy.NewCABACDecoder(s.data)
	first := s.ctbAddrTs

	for {
		s.blocks.StartCtb(s.ctbAddrRs, s.sh.SliceAddrRs)
		s.startCtu(s.ctbAddrTs == first)
		if err := s.codingTreeUnit(); err != nil {
			return s.ctbAddrTs - first, err
		}
		end := s.cabac.DecodeTerminate()
		s.storeSync()
		if err := s.cabac.Err(); err != nil {
			return s.ctbAddrTs - first, err
		}

		s.ctbAddrTs++
		if end == 1 {
			break
		}
		if s.ctbAddrTs >= g.SizeInCtbs {
			return s.ctbAddrTs - first, errors.Wrap(ErrCorruptData, "no end_of_slice_segment_flag before the last CTB")
		}
		s.ctbAddrRs = g.CtbAddrTsToRs[s.ctbAddrTs]
		if s.substreamStart() {
			if s.cabac.DecodeTerminate() != 1 {
				return s.ctbAddrTs - first, errors.Wrap(ErrCorruptData, "end_of_subset_one_bit is zero")
			}
			if err := s.nextSubstream(); err != nil {
				return s.ctbAddrTs - first, err
			}
		}
	}

	if s.pps.DependentSliceSegmentsEnabled {
		s.saved = segmentState{contexts: s.cabac.Contexts(), statCoeff: s.statCoeff, lastQpY: s.lastQpY}
		s.hasSaved = true
	}
	return s.ctbAddrTs - first, nil
}

// substreamStart reports whether the CTB at ctbAddrTs begins a new
// substream: the first CTB of a tile, or of a CTB row with wavefronts.
func (s *segment) substreamStart() bool {
	g := s.pic.Geometry
	if s.pps.TilesEnabled && g.TileStart(s.ctbAddrTs) {
		return true
	}
	return s.pps.EntropyCodingSyncEnabled && s.rowStart()
}

// rowStart reports whether the current CTB is the first of a CTB row
// within its tile.
func (s *segment) rowStart() bool {
	g := s.pic.Geometry
	rx := s.ctbAddrRs % g.WidthInCtbs
	return rx == g.TileColumnStart(rx)
}

// nextSubstream restarts the arithmetic decoder at the next entry point.
func (s *segment) nextSubstream() error {
	s.substream++
	start := s.base + s.cabac.BytePosition()
	if k := s.substream - 1; k < len(s.sh.EntryPoints) {
		start = s.sh.EntryPoints[k]
	}
	if start >= len(s.data) {
		return errors.Wrapf(ErrCorruptData, "substream %d starts past the slice data", s.substream)
	}
	s.base = start
	s.cabac.Reset(s.data[start:])
	return nil
}

// startCtu initializes or synchronizes the context variables before a
// CTU (clause 9.3.1).
func (s *segment) startCtu(first bool) {
	g := s.pic.Geometry
	switch {
	case g.TileStart(s.ctbAddrTs):
		s.resetContexts()
	case s.pps.EntropyCodingSyncEnabled && s.rowStart():
		x0 := (s.ctbAddrRs % g.WidthInCtbs) << g.Log2CtbSize
		y0 := (s.ctbAddrRs / g.WidthInCtbs) << g.Log2CtbSize
		ctb := 1 << g.Log2CtbSize
		if s.blocks.Available(x0, y0, x0+ctb, y0-ctb) {
			s.cabac.SetContexts(s.wpp.contexts)
			s.statCoeff = s.wpp.statCoeff
		} else {
			s.resetContexts()
		}
		s.firstQG = true
	case first && s.sh.DependentSliceSegment:
		s.cabac.SetContexts(s.saved.contexts)
		s.statCoeff = s.saved.statCoeff
	case first:
		s.resetContexts()
	}
}

func (s *segment) resetContexts() {
	s.cabac.InitContexts(0, s.sh.SliceQPY)
	s.statCoeff = [4]int{}
	s.firstQG = true
}

// storeSync saves the contexts after the second CTB of a row for the
// wavefront start of the next row.
func (s *segment) storeSync() {
	if !s.pps.EntropyCodingSyncEnabled {
		return
	}
	g := s.pic.Geometry
	rs := s.ctbAddrRs
	if rs%g.WidthInCtbs == 1 || (rs > 1 && g.TileIDRs(rs) != g.TileIDRs(rs-2)) {
		s.wpp = segmentState{contexts: s.cabac.Contexts(), statCoeff: s.statCoeff}
	}
}

// codingTreeUnit parses coding_tree_unit() (clause 7.3.8.2).
func (s *segment) codingTreeUnit() error {
	g := s.pic.Geometry
	rx, ry := s.ctbAddrRs%g.WidthInCtbs, s.ctbAddrRs/g.WidthInCtbs
	if s.sh.SAOLuma || s.sh.SAOChroma {
		s.parseSAO(rx, ry)
	}
	b := bounds{width: g.Width, height: g.Height, log2MinCb: s.sps.Log2MinCbSize}
	return codingQuadtree(s, b, rx<<g.Log2CtbSize, ry<<g.Log2CtbSize, g.Log2CtbSize, 0)
}
