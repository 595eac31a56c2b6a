package codestream

import (
	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/bio"
)

// PPS holds pic_parameter_set_rbsp() (clause 7.3.2.3).
type PPS struct {
	ID    uint8
	SPSID uint8

	DependentSliceSegmentsEnabled bool
	OutputFlagPresent             bool
	NumExtraSliceHeaderBits       int
	SignDataHiding                bool
	CABACInitPresent              bool
	NumRefIdxL0DefaultActive      int
	NumRefIdxL1DefaultActive      int
	InitQP                        int // 26 + init_qp_minus26
	ConstrainedIntraPred          bool
	TransformSkipEnabled          bool
	CUQPDeltaEnabled              bool
	DiffCUQPDeltaDepth            int
	CbQPOffset                    int
	CrQPOffset                    int
	SliceChromaQPOffsetsPresent   bool
	WeightedPred                  bool
	WeightedBipred                bool
	TransquantBypassEnabled       bool
	TilesEnabled                  bool
	EntropyCodingSyncEnabled      bool

	// Tile layout. ColumnWidths and RowHeights are in CTBs and only set
	// when UniformSpacing is false; the last column and row are implied.
	NumTileColumns        int
	NumTileRows           int
	UniformSpacing        bool
	ColumnWidths          []int
	RowHeights            []int
	LoopFilterAcrossTiles bool

	LoopFilterAcrossSlices      bool
	DeblockingControlPresent    bool
	DeblockingOverrideEnabled   bool
	DeblockingDisabled          bool
	BetaOffsetDiv2              int
	TcOffsetDiv2                int
	ScalingList                 *ScalingList // nil unless pps_scaling_list_data_present_flag
	ListsModificationPresent    bool
	Log2ParallelMergeLevel      int
	SliceHeaderExtensionPresent bool

	RangeExtension PPSRangeExtension
}

// PPSRangeExtension holds pps_range_extension().
type PPSRangeExtension struct {
	Log2MaxTransformSkipSize  int
	CrossComponentPrediction  bool
	ChromaQPOffsetListEnabled bool
	DiffCUChromaQPOffsetDepth int
	CbQPOffsetList            []int
	CrQPOffsetList            []int
	Log2SAOOffsetScaleLuma    int
	Log2SAOOffsetScaleChroma  int
}

// ParsePPS parses a PPS RBSP. Checks that need the referenced SPS are
// done by Validate.
func ParsePPS(rbsp []byte) (*PPS, error) {
	r := newFieldReader(bio.NewReader(rbsp))
	p := &PPS{}
	p.ID = uint8(r.ueMax(63, "pps_pic_parameter_set_id"))
	p.SPSID = uint8(r.ueMax(15, "pps_seq_parameter_set_id"))
	p.DependentSliceSegmentsEnabled = r.flag()
	p.OutputFlagPresent = r.flag()
	p.NumExtraSliceHeaderBits = int(r.u(3))
	p.SignDataHiding = r.flag()
	p.CABACInitPresent = r.flag()
	p.NumRefIdxL0DefaultActive = int(r.ueMax(14, "num_ref_idx_l0_default_active_minus1")) + 1
	p.NumRefIdxL1DefaultActive = int(r.ueMax(14, "num_ref_idx_l1_default_active_minus1")) + 1
	p.InitQP = 26 + int(r.seRange(-(26+48), 25, "init_qp_minus26"))
	p.ConstrainedIntraPred = r.flag()
	p.TransformSkipEnabled = r.flag()
	p.CUQPDeltaEnabled = r.flag()
	if p.CUQPDeltaEnabled {
		p.DiffCUQPDeltaDepth = int(r.ueMax(3, "diff_cu_qp_delta_depth"))
	}
	p.CbQPOffset = int(r.seRange(-12, 12, "pps_cb_qp_offset"))
	p.CrQPOffset = int(r.seRange(-12, 12, "pps_cr_qp_offset"))
	p.SliceChromaQPOffsetsPresent = r.flag()
	p.WeightedPred = r.flag()
	p.WeightedBipred = r.flag()
	p.TransquantBypassEnabled = r.flag()
	p.TilesEnabled = r.flag()
	p.EntropyCodingSyncEnabled = r.flag()

	p.NumTileColumns, p.NumTileRows = 1, 1
	p.UniformSpacing = true
	if p.TilesEnabled {
		p.NumTileColumns = int(r.ueMax(19, "num_tile_columns_minus1")) + 1
		p.NumTileRows = int(r.ueMax(21, "num_tile_rows_minus1")) + 1
		p.UniformSpacing = r.flag()
		if !p.UniformSpacing {
			p.ColumnWidths = make([]int, p.NumTileColumns-1)
			for i := range p.ColumnWidths {
				p.ColumnWidths[i] = int(r.ueMax(1<<12, "column_width_minus1")) + 1
			}
			p.RowHeights = make([]int, p.NumTileRows-1)
			for i := range p.RowHeights {
				p.RowHeights[i] = int(r.ueMax(1<<12, "row_height_minus1")) + 1
			}
		}
		p.LoopFilterAcrossTiles = r.flag()
	}
	p.LoopFilterAcrossSlices = r.flag()
	p.DeblockingControlPresent = r.flag()
	if p.DeblockingControlPresent {
		p.DeblockingOverrideEnabled = r.flag()
		p.DeblockingDisabled = r.flag()
		if !p.DeblockingDisabled {
			p.BetaOffsetDiv2 = int(r.seRange(-6, 6, "pps_beta_offset_div2"))
			p.TcOffsetDiv2 = int(r.seRange(-6, 6, "pps_tc_offset_div2"))
		}
	}
	if r.flag() { // pps_scaling_list_data_present_flag
		p.ScalingList = parseScalingListData(r)
	}
	p.ListsModificationPresent = r.flag()
	p.Log2ParallelMergeLevel = int(r.ueMax(4, "log2_parallel_merge_level_minus2")) + 2
	p.SliceHeaderExtensionPresent = r.flag()

	p.RangeExtension.Log2MaxTransformSkipSize = 2
	if r.flag() { // pps_extension_present_flag
		rangeExt := r.flag()
		multilayerExt := r.flag()
		ext3D := r.flag()
		sccExt := r.flag()
		r.skip(4) // pps_extension_4bits
		if rangeExt {
			p.parseRangeExtension(r)
		}
		if multilayerExt {
			return nil, errors.Wrap(ErrUnsupportedSyntax, "pps_multilayer_extension")
		}
		if ext3D {
			return nil, errors.Wrap(ErrUnsupportedSyntax, "pps_3d_extension")
		}
		if sccExt {
			if err := p.parseSCCExtension(r); err != nil {
				return nil, err
			}
		}
	}
	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "PPS")
	}
	return p, nil
}

func (p *PPS) parseRangeExtension(r *fieldReader) {
	e := &p.RangeExtension
	if p.TransformSkipEnabled {
		e.Log2MaxTransformSkipSize = int(r.ueMax(3, "log2_max_transform_skip_block_size_minus2")) + 2
	}
	e.CrossComponentPrediction = r.flag()
	e.ChromaQPOffsetListEnabled = r.flag()
	if e.ChromaQPOffsetListEnabled {
		e.DiffCUChromaQPOffsetDepth = int(r.ueMax(3, "diff_cu_chroma_qp_offset_depth"))
		n := int(r.ueMax(5, "chroma_qp_offset_list_len_minus1")) + 1
		e.CbQPOffsetList = make([]int, n)
		e.CrQPOffsetList = make([]int, n)
		for i := 0; i < n; i++ {
			e.CbQPOffsetList[i] = int(r.seRange(-12, 12, "cb_qp_offset_list"))
			e.CrQPOffsetList[i] = int(r.seRange(-12, 12, "cr_qp_offset_list"))
		}
	}
	e.Log2SAOOffsetScaleLuma = int(r.ueMax(6, "log2_sao_offset_scale_luma"))
	e.Log2SAOOffsetScaleChroma = int(r.ueMax(6, "log2_sao_offset_scale_chroma"))
}

// parseSCCExtension reads pps_scc_extension(). Tools that change the
// coding unit syntax are rejected.
func (p *PPS) parseSCCExtension(r *fieldReader) error {
	if r.flag() {
		return errors.Wrap(ErrUnsupportedSyntax, "pps_curr_pic_ref_enabled_flag")
	}
	if r.flag() {
		return errors.Wrap(ErrUnsupportedSyntax, "residual_adaptive_colour_transform_enabled_flag")
	}
	if r.flag() { // pps_palette_predictor_initializers_present_flag
		n := int(r.ueMax(128, "pps_num_palette_predictor_initializers"))
		if n > 0 {
			monochrome := r.flag()
			lumaDepth := int(r.ueMax(8, "luma_bit_depth_entry_minus8")) + 8
			chromaDepth := lumaDepth
			numComps := 1
			if !monochrome {
				chromaDepth = int(r.ueMax(8, "chroma_bit_depth_entry_minus8")) + 8
				numComps = 3
			}
			for comp := 0; comp < numComps; comp++ {
				depth := lumaDepth
				if comp > 0 {
					depth = chromaDepth
				}
				for i := 0; i < n; i++ {
					r.skip(depth)
				}
			}
		}
	}
	return nil
}

// Validate checks the PPS against its SPS.
func (p *PPS) Validate(sps *SPS) error {
	if p.InitQP < -sps.QpBdOffsetY || p.InitQP > 51 {
		return errors.Wrapf(ErrMalformedParameterSet, "init_qp %d outside [%d, 51]", p.InitQP, -sps.QpBdOffsetY)
	}
	if p.DiffCUQPDeltaDepth > sps.Log2CtbSize-sps.Log2MinCbSize {
		return errors.Wrapf(ErrMalformedParameterSet, "diff_cu_qp_delta_depth = %d", p.DiffCUQPDeltaDepth)
	}
	if p.RangeExtension.DiffCUChromaQPOffsetDepth > sps.Log2CtbSize-sps.Log2MinCbSize {
		return errors.Wrapf(ErrMalformedParameterSet, "diff_cu_chroma_qp_offset_depth = %d",
			p.RangeExtension.DiffCUChromaQPOffsetDepth)
	}
	if p.NumTileColumns > sps.PicWidthInCtbs || p.NumTileRows > sps.PicHeightInCtbs {
		return errors.Wrapf(ErrMalformedParameterSet, "%dx%d tiles in a %dx%d CTB picture",
			p.NumTileColumns, p.NumTileRows, sps.PicWidthInCtbs, sps.PicHeightInCtbs)
	}
	if !p.UniformSpacing {
		if sum(p.ColumnWidths) >= sps.PicWidthInCtbs {
			return errors.Wrap(ErrMalformedParameterSet, "tile columns exceed picture width")
		}
		if sum(p.RowHeights) >= sps.PicHeightInCtbs {
			return errors.Wrap(ErrMalformedParameterSet, "tile rows exceed picture height")
		}
	}
	maxScaleY := max(0, sps.BitDepthY-10)
	maxScaleC := max(0, sps.BitDepthC-10)
	if p.RangeExtension.Log2SAOOffsetScaleLuma > maxScaleY || p.RangeExtension.Log2SAOOffsetScaleChroma > maxScaleC {
		return errors.Wrap(ErrMalformedParameterSet, "log2_sao_offset_scale out of range")
	}
	return nil
}

func sum(v []int) int {
	s := 0
	for _, x := range v {
		s += x
	}
	return s
}
