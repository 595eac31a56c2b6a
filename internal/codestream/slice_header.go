package codestream

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/bio"
)

// SliceType is the slice_type syntax element.
type SliceType int

// Slice types.
const (
	SliceB SliceType = 0
	SliceP SliceType = 1
	SliceI SliceType = 2
)

// String returns the string representation of a slice type.
func (t SliceType) String() string {
	switch t {
	case SliceB:
		return "B"
	case SliceP:
		return "P"
	case SliceI:
		return "I"
	default:
		return "unknown"
	}
}

// SliceHeader holds slice_segment_header() (clause 7.3.6.1) for intra
// slices. A dependent slice segment carries a copy of the fields of the
// independent segment that precedes it.
type SliceHeader struct {
	FirstSliceSegmentInPic bool
	NoOutputOfPriorPics    bool
	PPSID                  uint8
	DependentSliceSegment  bool
	SegmentAddress         int // slice_segment_address, in CTBs in raster scan

	Type          SliceType
	PicOutput     bool
	ColourPlaneID int

	POCLsb              uint32
	ShortTermRPSFromSPS bool
	ShortTermRPSIdx     int
	ShortTermRPS        *ShortTermRPS
	NumLongTermSPS      int
	NumLongTermPics     int
	TemporalMVPEnabled  bool

	SAOLuma   bool
	SAOChroma bool

	QPDelta                 int
	CbQPOffset              int
	CrQPOffset              int
	CUChromaQPOffsetEnabled bool

	DeblockingOverride     bool
	DeblockingDisabled     bool
	BetaOffsetDiv2         int
	TcOffsetDiv2           int
	LoopFilterAcrossSlices bool

	// EntryPoints holds the start of substreams 1..n as byte offsets into
	// the slice data RBSP.
	EntryPoints []int

	// Derived values
	SliceAddrRs int // SegmentAddress of the independent slice segment
	SliceQPY    int
	DataOffset  int // RBSP offset of the first slice data byte
}

// parseSliceHeader reads a slice segment header from rbsp. epb lists the
// removed emulation prevention bytes as returned by bio.UnescapeRBSP.
// prev is the last independent slice segment header of the picture.
func parseSliceHeader(rbsp []byte, epb []int, nal NALHeader, params *Parser, prev *SliceHeader) (*SliceHeader, error) {
	r := newFieldReader(bio.NewReader(rbsp))
	sh := &SliceHeader{}
	sh.FirstSliceSegmentInPic = r.flag()
	if nal.Type.IsIRAP() {
		sh.NoOutputOfPriorPics = r.flag()
	}
	sh.PPSID = uint8(r.ueMax(63, "slice_pic_parameter_set_id"))
	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "slice header")
	}
	pps, sps, err := params.Activate(sh.PPSID)
	if err != nil {
		return nil, err
	}

	if !sh.FirstSliceSegmentInPic {
		if pps.DependentSliceSegmentsEnabled {
			sh.DependentSliceSegment = r.flag()
		}
		n := bits.Len(uint(sps.PicSizeInCtbs - 1))
		sh.SegmentAddress = int(r.u(n))
		if r.err() == nil && sh.SegmentAddress >= sps.PicSizeInCtbs {
			return nil, errors.Wrapf(ErrMalformedParameterSet, "slice_segment_address %d beyond %d CTBs",
				sh.SegmentAddress, sps.PicSizeInCtbs)
		}
	}

	if sh.DependentSliceSegment {
		if prev == nil || prev.PPSID != sh.PPSID {
			return nil, errors.Wrap(ErrMalformedParameterSet, "dependent slice segment without a preceding slice")
		}
		inherit := *prev
		inherit.FirstSliceSegmentInPic = sh.FirstSliceSegmentInPic
		inherit.NoOutputOfPriorPics = sh.NoOutputOfPriorPics
		inherit.DependentSliceSegment = true
		inherit.SegmentAddress = sh.SegmentAddress
		inherit.EntryPoints = nil
		sh = &inherit
	} else {
		sh.SliceAddrRs = sh.SegmentAddress
		if err := sh.parseIndependent(r, nal, sps, pps); err != nil {
			return nil, err
		}
	}

	if pps.TilesEnabled || pps.EntropyCodingSyncEnabled {
		maxEntry := uint32(pps.NumTileColumns*sps.PicHeightInCtbs - 1)
		if !pps.EntropyCodingSyncEnabled {
			maxEntry = uint32(pps.NumTileColumns*pps.NumTileRows - 1)
		}
		num := int(r.ueMax(maxEntry, "num_entry_point_offsets"))
		if num > 0 {
			offsetLen := int(r.ueMax(31, "offset_len_minus1")) + 1
			offsets := make([]int, num)
			for i := range offsets {
				offsets[i] = int(r.u(offsetLen)) + 1
			}
			sh.EntryPoints = offsets
		}
	}
	if pps.SliceHeaderExtensionPresent {
		n := int(r.ueMax(256, "slice_segment_header_extension_length"))
		r.skip(8 * n)
	}
	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "slice header")
	}

	// byte_alignment()
	br := r.br
	if bit, err := br.ReadBit(); err != nil || bit != 1 {
		return nil, errors.Wrap(ErrMalformedParameterSet, "missing alignment_bit_equal_to_one")
	}
	for !br.ByteAligned() {
		if bit, _ := br.ReadBit(); bit != 0 {
			return nil, errors.Wrap(ErrMalformedParameterSet, "alignment_bit_equal_to_zero is set")
		}
	}
	sh.DataOffset = br.BytePosition()
	if sh.DataOffset > len(rbsp) {
		return nil, errors.Wrap(bio.ErrOutOfBits, "slice header")
	}

	if sh.EntryPoints != nil {
		if err := sh.resolveEntryPoints(epb, len(rbsp)); err != nil {
			return nil, err
		}
	}
	return sh, nil
}

func (sh *SliceHeader) parseIndependent(r *fieldReader, nal NALHeader, sps *SPS, pps *PPS) error {
	r.skip(pps.NumExtraSliceHeaderBits) // slice_reserved_flag
	sh.Type = SliceType(r.ueMax(2, "slice_type"))
	if r.err() != nil {
		return errors.Wrap(r.err(), "slice header")
	}
	if sh.Type != SliceI {
		return errors.Wrapf(ErrUnsupportedSyntax, "%s slice", sh.Type)
	}
	sh.PicOutput = true
	if pps.OutputFlagPresent {
		sh.PicOutput = r.flag()
	}
	if sps.SeparateColourPlane {
		sh.ColourPlaneID = int(r.u(2))
		if sh.ColourPlaneID > 2 {
			return errors.Wrap(ErrMalformedParameterSet, "colour_plane_id = 3")
		}
	}

	if !nal.Type.IsIDR() {
		sh.POCLsb = r.u(sps.Log2MaxPOCLsb)
		sh.ShortTermRPSFromSPS = r.flag()
		numSets := len(sps.ShortTermRPS)
		if !sh.ShortTermRPSFromSPS {
			maxDec := int(sps.SubLayerOrdering[sps.MaxSubLayersMinus1].MaxDecPicBufferingMinus1)
			rps := parseShortTermRPS(r, numSets, numSets, sps.ShortTermRPS, maxDec)
			sh.ShortTermRPS = &rps
		} else {
			if numSets == 0 {
				return errors.Wrap(ErrMalformedParameterSet, "short_term_ref_pic_set_sps_flag without SPS sets")
			}
			if numSets > 1 {
				sh.ShortTermRPSIdx = int(r.u(bits.Len(uint(numSets - 1))))
				if sh.ShortTermRPSIdx >= numSets {
					return errors.Wrapf(ErrMalformedParameterSet, "short_term_ref_pic_set_idx = %d", sh.ShortTermRPSIdx)
				}
			}
			sh.ShortTermRPS = &sps.ShortTermRPS[sh.ShortTermRPSIdx]
		}
		if sps.LongTermRefPicsPresent {
			if len(sps.LongTermRefPics) > 0 {
				sh.NumLongTermSPS = int(r.ueMax(uint32(len(sps.LongTermRefPics)), "num_long_term_sps"))
			}
			sh.NumLongTermPics = int(r.ueMax(32, "num_long_term_pics"))
			for i := 0; i < sh.NumLongTermSPS+sh.NumLongTermPics && r.err() == nil; i++ {
				if i < sh.NumLongTermSPS {
					if len(sps.LongTermRefPics) > 1 {
						r.skip(bits.Len(uint(len(sps.LongTermRefPics) - 1))) // lt_idx_sps
					}
				} else {
					r.skip(sps.Log2MaxPOCLsb) // poc_lsb_lt
					r.flag()                  // used_by_curr_pic_lt_flag
				}
				if r.flag() { // delta_poc_msb_present_flag
					r.ue() // delta_poc_msb_cycle_lt
				}
			}
		}
		if sps.TemporalMVPEnabled {
			sh.TemporalMVPEnabled = r.flag()
		}
	}

	if sps.SAOEnabled {
		sh.SAOLuma = r.flag()
		if sps.ChromaArrayType != 0 {
			sh.SAOChroma = r.flag()
		}
	}

	sh.QPDelta = int(r.se())
	if pps.SliceChromaQPOffsetsPresent {
		sh.CbQPOffset = int(r.seRange(-12, 12, "slice_cb_qp_offset"))
		sh.CrQPOffset = int(r.seRange(-12, 12, "slice_cr_qp_offset"))
	}
	if pps.RangeExtension.ChromaQPOffsetListEnabled {
		sh.CUChromaQPOffsetEnabled = r.flag()
	}
	if pps.DeblockingOverrideEnabled {
		sh.DeblockingOverride = r.flag()
	}
	sh.DeblockingDisabled = pps.DeblockingDisabled
	sh.BetaOffsetDiv2 = pps.BetaOffsetDiv2
	sh.TcOffsetDiv2 = pps.TcOffsetDiv2
	if sh.DeblockingOverride {
		sh.DeblockingDisabled = r.flag()
		if !sh.DeblockingDisabled {
			sh.BetaOffsetDiv2 = int(r.seRange(-6, 6, "slice_beta_offset_div2"))
			sh.TcOffsetDiv2 = int(r.seRange(-6, 6, "slice_tc_offset_div2"))
		}
	}
	sh.LoopFilterAcrossSlices = pps.LoopFilterAcrossSlices
	if pps.LoopFilterAcrossSlices && (sh.SAOLuma || sh.SAOChroma || !sh.DeblockingDisabled) {
		sh.LoopFilterAcrossSlices = r.flag()
	}
	if r.err() != nil {
		return errors.Wrap(r.err(), "slice header")
	}

	sh.SliceQPY = pps.InitQP + sh.QPDelta
	if sh.SliceQPY < -sps.QpBdOffsetY || sh.SliceQPY > 51 {
		return errors.Wrapf(ErrMalformedParameterSet, "SliceQpY %d outside [%d, 51]", sh.SliceQPY, -sps.QpBdOffsetY)
	}
	if c := pps.CbQPOffset + sh.CbQPOffset; c < -12 || c > 12 {
		return errors.Wrapf(ErrMalformedParameterSet, "combined Cb QP offset %d", c)
	}
	if c := pps.CrQPOffset + sh.CrQPOffset; c < -12 || c > 12 {
		return errors.Wrapf(ErrMalformedParameterSet, "combined Cr QP offset %d", c)
	}
	return nil
}

// resolveEntryPoints turns entry_point_offset_minus1 values, which count
// bytes of the escaped NAL unit payload, into offsets in the slice data
// RBSP.
func (sh *SliceHeader) resolveEntryPoints(epb []int, rbspLen int) error {
	// RBSP index q maps to payload index q + #{k : epb[k]-k <= q}.
	start := sh.DataOffset
	for k, e := range epb {
		if e-k <= sh.DataOffset {
			start++
		}
	}
	pos := start
	prev := 0
	for i, off := range sh.EntryPoints {
		pos += off
		q := pos
		for _, e := range epb {
			if e < pos {
				q--
			}
		}
		rel := q - sh.DataOffset
		if rel <= prev || q >= rbspLen {
			return errors.Wrapf(ErrMalformedParameterSet, "entry point %d at offset %d outside slice data", i, rel)
		}
		sh.EntryPoints[i] = rel
		prev = rel
	}
	return nil
}
