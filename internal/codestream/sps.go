package codestream

import (
	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/bio"
)

// Chroma format IDC values.
const (
	Chroma400 = 0
	Chroma420 = 1
	Chroma422 = 2
	Chroma444 = 3
)

// SPS holds seq_parameter_set_rbsp() (clause 7.3.2.2) for nuh_layer_id 0.
type SPS struct {
	VPSID              uint8
	MaxSubLayersMinus1 uint8
	TemporalIDNesting  bool
	PTL                ProfileTierLevel
	ID                 uint8

	ChromaFormatIDC     int
	SeparateColourPlane bool
	Width               int // pic_width_in_luma_samples
	Height              int // pic_height_in_luma_samples
	ConformanceWindow   Window
	BitDepthY           int
	BitDepthC           int
	Log2MaxPOCLsb       int
	SubLayerOrdering    []SubLayerOrdering

	Log2MinCbSize                   int
	Log2CtbSize                     int
	Log2MinTbSize                   int
	Log2MaxTbSize                   int
	MaxTransformHierarchyDepthInter int
	MaxTransformHierarchyDepthIntra int

	// ScalingList is nil unless scaling_list_enabled_flag is set. Without
	// sps_scaling_list_data it holds the default lists.
	ScalingListEnabled bool
	ScalingList        *ScalingList

	AMPEnabled bool
	SAOEnabled bool

	PCMEnabled            bool
	PCMBitDepthY          int
	PCMBitDepthC          int
	Log2MinPCMCbSize      int
	Log2MaxPCMCbSize      int
	PCMLoopFilterDisabled bool

	ShortTermRPS           []ShortTermRPS
	LongTermRefPicsPresent bool
	LongTermRefPics        []LongTermRefPic
	TemporalMVPEnabled     bool
	StrongIntraSmoothing   bool

	VUIPresent bool
	VUI        VUI

	RangeExtension SPSRangeExtension
	SCCExtension   SPSSCCExtension

	InterViewMVVertConstraint bool

	// Derived values, set by CalculateDerivedValues
	ChromaArrayType   int
	SubWidthC         int
	SubHeightC        int
	MinCbSize         int
	CtbSize           int
	PicWidthInMinCbs  int
	PicHeightInMinCbs int
	PicWidthInCtbs    int
	PicHeightInCtbs   int
	PicSizeInCtbs     int
	QpBdOffsetY       int
	QpBdOffsetC       int
	CoeffMinY         int32
	CoeffMaxY         int32
	CoeffMinC         int32
	CoeffMaxC         int32
}

// SPSRangeExtension holds sps_range_extension() flags.
type SPSRangeExtension struct {
	TransformSkipRotation    bool
	TransformSkipContext     bool
	ImplicitRDPCM            bool
	ExplicitRDPCM            bool
	ExtendedPrecision        bool
	IntraSmoothingDisabled   bool
	HighPrecisionOffsets     bool
	PersistentRiceAdaptation bool
	CABACBypassAlignment     bool
}

// SPSSCCExtension holds sps_scc_extension(). Only the intra boundary
// filter switch is honoured; palette mode and current-picture referencing
// are rejected.
type SPSSCCExtension struct {
	CurrPicRefEnabled              bool
	PaletteModeEnabled             bool
	PaletteMaxSize                 uint32
	DeltaPaletteMaxPredictorSize   uint32
	MotionVectorResolutionControl  uint8
	IntraBoundaryFilteringDisabled bool
}

// LongTermRefPic is one lt_ref_pic_poc_lsb_sps entry.
type LongTermRefPic struct {
	POCLsb     uint32
	UsedByCurr bool
}

// ShortTermRPS is a short-term reference picture set after the derivation
// of clause 7.4.8.
type ShortTermRPS struct {
	DeltaPOCS0 []int32
	UsedS0     []bool
	DeltaPOCS1 []int32
	UsedS1     []bool
}

// NumDeltaPOCs returns NumNegativePics + NumPositivePics.
func (s *ShortTermRPS) NumDeltaPOCs() int {
	return len(s.DeltaPOCS0) + len(s.DeltaPOCS1)
}

const maxDeltaPOCs = 16

// ParseSPS parses an SPS RBSP.
func ParseSPS(rbsp []byte) (*SPS, error) {
	r := newFieldReader(bio.NewReader(rbsp))
	s := &SPS{}
	s.VPSID = uint8(r.u(4))
	s.MaxSubLayersMinus1 = uint8(r.u(3))
	if s.MaxSubLayersMinus1 > 6 {
		return nil, errors.Wrapf(ErrMalformedParameterSet, "sps_max_sub_layers_minus1 = %d", s.MaxSubLayersMinus1)
	}
	s.TemporalIDNesting = r.flag()
	s.PTL = parseProfileTierLevel(r, int(s.MaxSubLayersMinus1))
	s.ID = uint8(r.ueMax(15, "sps_seq_parameter_set_id"))

	s.ChromaFormatIDC = int(r.ueMax(3, "chroma_format_idc"))
	if s.ChromaFormatIDC == Chroma444 {
		s.SeparateColourPlane = r.flag()
	}
	s.Width = int(r.ueMax(1<<16, "pic_width_in_luma_samples"))
	s.Height = int(r.ueMax(1<<16, "pic_height_in_luma_samples"))
	if r.flag() { // conformance_window_flag
		s.ConformanceWindow = Window{r.ue(), r.ue(), r.ue(), r.ue()}
	}
	s.BitDepthY = int(r.ueMax(8, "bit_depth_luma_minus8")) + 8
	s.BitDepthC = int(r.ueMax(8, "bit_depth_chroma_minus8")) + 8
	s.Log2MaxPOCLsb = int(r.ueMax(12, "log2_max_pic_order_cnt_lsb_minus4")) + 4
	s.SubLayerOrdering = parseSubLayerOrdering(r, int(s.MaxSubLayersMinus1))

	s.Log2MinCbSize = int(r.ueMax(3, "log2_min_luma_coding_block_size_minus3")) + 3
	s.Log2CtbSize = s.Log2MinCbSize + int(r.ueMax(3, "log2_diff_max_min_luma_coding_block_size"))
	s.Log2MinTbSize = int(r.ueMax(3, "log2_min_luma_transform_block_size_minus2")) + 2
	s.Log2MaxTbSize = s.Log2MinTbSize + int(r.ueMax(3, "log2_diff_max_min_luma_transform_block_size"))
	s.MaxTransformHierarchyDepthInter = int(r.ueMax(4, "max_transform_hierarchy_depth_inter"))
	s.MaxTransformHierarchyDepthIntra = int(r.ueMax(4, "max_transform_hierarchy_depth_intra"))

	s.ScalingListEnabled = r.flag()
	if s.ScalingListEnabled {
		if r.flag() { // sps_scaling_list_data_present_flag
			s.ScalingList = parseScalingListData(r)
		} else {
			s.ScalingList = DefaultScalingList()
		}
	}
	s.AMPEnabled = r.flag()
	s.SAOEnabled = r.flag()
	s.PCMEnabled = r.flag()
	if s.PCMEnabled {
		s.PCMBitDepthY = int(r.u(4)) + 1
		s.PCMBitDepthC = int(r.u(4)) + 1
		s.Log2MinPCMCbSize = int(r.ueMax(2, "log2_min_pcm_luma_coding_block_size_minus3")) + 3
		s.Log2MaxPCMCbSize = s.Log2MinPCMCbSize + int(r.ueMax(2, "log2_diff_max_min_pcm_luma_coding_block_size"))
		s.PCMLoopFilterDisabled = r.flag()
	}
	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "SPS")
	}

	maxDec := int(s.SubLayerOrdering[s.MaxSubLayersMinus1].MaxDecPicBufferingMinus1)
	numSets := int(r.ueMax(64, "num_short_term_ref_pic_sets"))
	s.ShortTermRPS = make([]ShortTermRPS, 0, numSets)
	for i := 0; i < numSets && r.err() == nil; i++ {
		s.ShortTermRPS = append(s.ShortTermRPS, parseShortTermRPS(r, i, numSets, s.ShortTermRPS, maxDec))
	}
	s.LongTermRefPicsPresent = r.flag()
	if s.LongTermRefPicsPresent {
		n := int(r.ueMax(32, "num_long_term_ref_pics_sps"))
		s.LongTermRefPics = make([]LongTermRefPic, n)
		for i := range s.LongTermRefPics {
			s.LongTermRefPics[i].POCLsb = r.u(s.Log2MaxPOCLsb)
			s.LongTermRefPics[i].UsedByCurr = r.flag()
		}
	}
	s.TemporalMVPEnabled = r.flag()
	s.StrongIntraSmoothing = r.flag()
	s.VUIPresent = r.flag()
	if s.VUIPresent {
		s.VUI = parseVUI(r, int(s.MaxSubLayersMinus1))
	} else {
		s.VUI = defaultVUI()
	}

	if r.flag() { // sps_extension_present_flag
		rangeExt := r.flag()
		multilayerExt := r.flag()
		ext3D := r.flag()
		sccExt := r.flag()
		r.skip(4) // sps_extension_4bits
		if rangeExt {
			e := &s.RangeExtension
			e.TransformSkipRotation = r.flag()
			e.TransformSkipContext = r.flag()
			e.ImplicitRDPCM = r.flag()
			e.ExplicitRDPCM = r.flag()
			e.ExtendedPrecision = r.flag()
			e.IntraSmoothingDisabled = r.flag()
			e.HighPrecisionOffsets = r.flag()
			e.PersistentRiceAdaptation = r.flag()
			e.CABACBypassAlignment = r.flag()
		}
		if multilayerExt {
			s.InterViewMVVertConstraint = r.flag()
		}
		if ext3D {
			return nil, errors.Wrap(ErrUnsupportedSyntax, "sps_3d_extension")
		}
		if sccExt {
			s.parseSCCExtension(r)
		}
	}
	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "SPS")
	}
	if s.SCCExtension.PaletteModeEnabled {
		return nil, errors.Wrap(ErrUnsupportedSyntax, "palette_mode_enabled_flag")
	}
	if s.SCCExtension.CurrPicRefEnabled {
		return nil, errors.Wrap(ErrUnsupportedSyntax, "sps_curr_pic_ref_enabled_flag")
	}

	s.CalculateDerivedValues()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SPS) parseSCCExtension(r *fieldReader) {
	e := &s.SCCExtension
	e.CurrPicRefEnabled = r.flag()
	e.PaletteModeEnabled = r.flag()
	if e.PaletteModeEnabled {
		e.PaletteMaxSize = r.ueMax(64, "palette_max_size")
		e.DeltaPaletteMaxPredictorSize = r.ueMax(128, "delta_palette_max_predictor_size")
		if r.flag() { // sps_palette_predictor_initializers_present_flag
			n := int(r.ueMax(127, "sps_num_palette_predictor_initializers_minus1")) + 1
			numComps := 3
			if s.ChromaFormatIDC == Chroma400 {
				numComps = 1
			}
			for comp := 0; comp < numComps; comp++ {
				depth := s.BitDepthY
				if comp > 0 {
					depth = s.BitDepthC
				}
				for i := 0; i < n; i++ {
					r.skip(depth)
				}
			}
		}
	}
	e.MotionVectorResolutionControl = uint8(r.u(2))
	e.IntraBoundaryFilteringDisabled = r.flag()
}

// parseShortTermRPS reads st_ref_pic_set(idx) and derives the delta POC
// lists. sets holds the sets parsed before idx; a slice header passes
// idx == numSets.
func parseShortTermRPS(r *fieldReader, idx, numSets int, sets []ShortTermRPS, maxDec int) ShortTermRPS {
	var rps ShortTermRPS
	interPred := false
	if idx != 0 {
		interPred = r.flag()
	}
	if !interPred {
		numNeg := int(r.ueMax(uint32(maxDec), "num_negative_pics"))
		numPos := int(r.ueMax(uint32(maxDec-numNeg), "num_positive_pics"))
		rps.DeltaPOCS0 = make([]int32, numNeg)
		rps.UsedS0 = make([]bool, numNeg)
		poc := int32(0)
		for i := 0; i < numNeg; i++ {
			poc -= int32(r.ueMax(1<<15-1, "delta_poc_s0_minus1")) + 1
			rps.DeltaPOCS0[i] = poc
			rps.UsedS0[i] = r.flag()
		}
		rps.DeltaPOCS1 = make([]int32, numPos)
		rps.UsedS1 = make([]bool, numPos)
		poc = 0
		for i := 0; i < numPos; i++ {
			poc += int32(r.ueMax(1<<15-1, "delta_poc_s1_minus1")) + 1
			rps.DeltaPOCS1[i] = poc
			rps.UsedS1[i] = r.flag()
		}
		return rps
	}

	deltaIdx := 1
	if idx == numSets {
		deltaIdx = int(r.ueMax(uint32(idx-1), "delta_idx_minus1")) + 1
	}
	ref := &sets[idx-deltaIdx]
	sign := r.flag()
	deltaRPS := int32(r.ueMax(1<<15-1, "abs_delta_rps_minus1")) + 1
	if sign {
		deltaRPS = -deltaRPS
	}

	n := ref.NumDeltaPOCs()
	used := make([]bool, n+1)
	useDelta := make([]bool, n+1)
	for j := 0; j <= n; j++ {
		used[j] = r.flag()
		useDelta[j] = true
		if !used[j] {
			useDelta[j] = r.flag()
		}
	}
	if r.err() != nil {
		return rps
	}

	numNeg := len(ref.DeltaPOCS0)
	numPos := len(ref.DeltaPOCS1)
	for j := numPos - 1; j >= 0; j-- {
		d := ref.DeltaPOCS1[j] + deltaRPS
		if d < 0 && useDelta[numNeg+j] {
			rps.DeltaPOCS0 = append(rps.DeltaPOCS0, d)
			rps.UsedS0 = append(rps.UsedS0, used[numNeg+j])
		}
	}
	if deltaRPS < 0 && useDelta[n] {
		rps.DeltaPOCS0 = append(rps.DeltaPOCS0, deltaRPS)
		rps.UsedS0 = append(rps.UsedS0, used[n])
	}
	for j := 0; j < numNeg; j++ {
		d := ref.DeltaPOCS0[j] + deltaRPS
		if d < 0 && useDelta[j] {
			rps.DeltaPOCS0 = append(rps.DeltaPOCS0, d)
			rps.UsedS0 = append(rps.UsedS0, used[j])
		}
	}

	for j := numNeg - 1; j >= 0; j-- {
		d := ref.DeltaPOCS0[j] + deltaRPS
		if d > 0 && useDelta[j] {
			rps.DeltaPOCS1 = append(rps.DeltaPOCS1, d)
			rps.UsedS1 = append(rps.UsedS1, used[j])
		}
	}
	if deltaRPS > 0 && useDelta[n] {
		rps.DeltaPOCS1 = append(rps.DeltaPOCS1, deltaRPS)
		rps.UsedS1 = append(rps.UsedS1, used[n])
	}
	for j := 0; j < numPos; j++ {
		d := ref.DeltaPOCS1[j] + deltaRPS
		if d > 0 && useDelta[numNeg+j] {
			rps.DeltaPOCS1 = append(rps.DeltaPOCS1, d)
			rps.UsedS1 = append(rps.UsedS1, used[numNeg+j])
		}
	}
	if rps.NumDeltaPOCs() > maxDeltaPOCs {
		r.fail(errors.Wrapf(ErrMalformedParameterSet, "short-term RPS with %d entries", rps.NumDeltaPOCs()))
	}
	return rps
}

// CalculateDerivedValues computes the variables of clause 7.4.3.2 that
// depend only on the SPS.
func (s *SPS) CalculateDerivedValues() {
	s.ChromaArrayType = s.ChromaFormatIDC
	if s.SeparateColourPlane {
		s.ChromaArrayType = 0
	}
	s.SubWidthC, s.SubHeightC = 1, 1
	switch s.ChromaFormatIDC {
	case Chroma420:
		s.SubWidthC, s.SubHeightC = 2, 2
	case Chroma422:
		s.SubWidthC = 2
	}

	s.MinCbSize = 1 << s.Log2MinCbSize
	s.CtbSize = 1 << s.Log2CtbSize
	s.PicWidthInMinCbs = s.Width / s.MinCbSize
	s.PicHeightInMinCbs = s.Height / s.MinCbSize
	s.PicWidthInCtbs = (s.Width + s.CtbSize - 1) / s.CtbSize
	s.PicHeightInCtbs = (s.Height + s.CtbSize - 1) / s.CtbSize
	s.PicSizeInCtbs = s.PicWidthInCtbs * s.PicHeightInCtbs

	s.QpBdOffsetY = 6 * (s.BitDepthY - 8)
	s.QpBdOffsetC = 6 * (s.BitDepthC - 8)

	s.CoeffMinY, s.CoeffMaxY = coeffRange(s.RangeExtension.ExtendedPrecision, s.BitDepthY)
	s.CoeffMinC, s.CoeffMaxC = coeffRange(s.RangeExtension.ExtendedPrecision, s.BitDepthC)
}

func coeffRange(extended bool, bitDepth int) (int32, int32) {
	n := 15
	if extended && bitDepth+6 > n {
		n = bitDepth + 6
	}
	return -(1 << n), 1<<n - 1
}

// Validate checks the SPS for consistency.
func (s *SPS) Validate() error {
	if s.Width == 0 || s.Height == 0 {
		return errors.Wrapf(ErrMalformedParameterSet, "invalid picture dimensions: %dx%d", s.Width, s.Height)
	}
	if s.Width%s.MinCbSize != 0 || s.Height%s.MinCbSize != 0 {
		return errors.Wrapf(ErrMalformedParameterSet, "picture size %dx%d is not a multiple of MinCbSize %d",
			s.Width, s.Height, s.MinCbSize)
	}
	if s.Log2CtbSize < 4 || s.Log2CtbSize > 6 {
		return errors.Wrapf(ErrMalformedParameterSet, "CtbLog2SizeY = %d", s.Log2CtbSize)
	}
	if s.Log2MinTbSize >= s.Log2MinCbSize {
		return errors.Wrapf(ErrMalformedParameterSet, "MinTbLog2SizeY %d not below MinCbLog2SizeY %d",
			s.Log2MinTbSize, s.Log2MinCbSize)
	}
	if s.Log2MaxTbSize > 5 || s.Log2MaxTbSize > s.Log2CtbSize {
		return errors.Wrapf(ErrMalformedParameterSet, "MaxTbLog2SizeY = %d", s.Log2MaxTbSize)
	}
	if s.MaxTransformHierarchyDepthIntra > s.Log2CtbSize-s.Log2MinTbSize ||
		s.MaxTransformHierarchyDepthInter > s.Log2CtbSize-s.Log2MinTbSize {
		return errors.Wrap(ErrMalformedParameterSet, "max_transform_hierarchy_depth out of range")
	}
	if s.PCMEnabled {
		if s.PCMBitDepthY > s.BitDepthY || s.PCMBitDepthC > s.BitDepthC {
			return errors.Wrapf(ErrMalformedParameterSet, "PCM bit depth %d/%d exceeds %d/%d",
				s.PCMBitDepthY, s.PCMBitDepthC, s.BitDepthY, s.BitDepthC)
		}
		if s.Log2MinPCMCbSize < min(s.Log2MinCbSize, 5) || s.Log2MaxPCMCbSize > min(s.Log2CtbSize, 5) {
			return errors.Wrapf(ErrMalformedParameterSet, "PCM sizes %d..%d", s.Log2MinPCMCbSize, s.Log2MaxPCMCbSize)
		}
	}
	w := s.ConformanceWindow
	if int(w.Left+w.Right)*s.SubWidthC >= s.Width || int(w.Top+w.Bottom)*s.SubHeightC >= s.Height {
		return errors.Wrap(ErrMalformedParameterSet, "conformance window covers the picture")
	}
	return nil
}

// CroppedBounds returns the conformance window in luma samples as
// x0, y0, x1, y1.
func (s *SPS) CroppedBounds() (int, int, int, int) {
	w := s.ConformanceWindow
	return int(w.Left) * s.SubWidthC, int(w.Top) * s.SubHeightC,
		s.Width - int(w.Right)*s.SubWidthC, s.Height - int(w.Bottom)*s.SubHeightC
}
