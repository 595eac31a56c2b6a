package codestream

// VUI holds vui_parameters() (Annex E.2.1). Only the colour description
// and display window affect decoding output; the rest is kept for
// metadata.
type VUI struct {
	AspectRatioIDC uint8
	SARWidth       uint16
	SARHeight      uint16

	OverscanInfoPresent bool
	OverscanAppropriate bool

	VideoFormat              uint8
	VideoFullRange           bool
	ColourDescriptionPresent bool
	ColourPrimaries          uint8
	TransferCharacteristics  uint8
	MatrixCoeffs             uint8

	ChromaLocInfoPresent      bool
	ChromaSampleLocTypeTop    uint32
	ChromaSampleLocTypeBottom uint32
	NeutralChromaIndication   bool
	FieldSeq                  bool
	FrameFieldInfoPresent     bool
	DefaultDisplayWindow      Window
	TimingInfoPresent         bool
	NumUnitsInTick            uint32
	TimeScale                 uint32
	POCProportionalToTiming   bool
	NumTicksPOCDiffOneMinus1  uint32
	HRD                       *HRD
	BitstreamRestriction      bool
	TilesFixedStructure       bool
	MinSpatialSegmentationIDC uint32
	MaxBytesPerPicDenom       uint32
	MaxBitsPerMinCUDenom      uint32
	Log2MaxMVLengthHorizontal uint32
	Log2MaxMVLengthVertical   uint32
}

// Window is a rectangle given as offsets from the picture edges, in units
// of chroma samples.
type Window struct {
	Left, Right, Top, Bottom uint32
}

// Matrix coefficient codes used for YCbCr to RGB conversion.
const (
	MatrixIdentity    = 0
	MatrixBT709       = 1
	MatrixUnspecified = 2
	MatrixBT601       = 6
	MatrixBT2020NCL   = 9
)

// Default values for an absent colour description.
func defaultVUI() VUI {
	return VUI{
		VideoFormat:             5,
		ColourPrimaries:         2,
		TransferCharacteristics: 2,
		MatrixCoeffs:            MatrixUnspecified,
	}
}

func parseVUI(r *fieldReader, maxSubLayersMinus1 int) VUI {
	v := defaultVUI()
	if r.flag() { // aspect_ratio_info_present_flag
		v.AspectRatioIDC = uint8(r.u(8))
		if v.AspectRatioIDC == 255 {
			v.SARWidth = uint16(r.u(16))
			v.SARHeight = uint16(r.u(16))
		}
	}
	v.OverscanInfoPresent = r.flag()
	if v.OverscanInfoPresent {
		v.OverscanAppropriate = r.flag()
	}
	if r.flag() { // video_signal_type_present_flag
		v.VideoFormat = uint8(r.u(3))
		v.VideoFullRange = r.flag()
		v.ColourDescriptionPresent = r.flag()
		if v.ColourDescriptionPresent {
			v.ColourPrimaries = uint8(r.u(8))
			v.TransferCharacteristics = uint8(r.u(8))
			v.MatrixCoeffs = uint8(r.u(8))
		}
	}
	v.ChromaLocInfoPresent = r.flag()
	if v.ChromaLocInfoPresent {
		v.ChromaSampleLocTypeTop = r.ueMax(5, "chroma_sample_loc_type_top_field")
		v.ChromaSampleLocTypeBottom = r.ueMax(5, "chroma_sample_loc_type_bottom_field")
	}
	v.NeutralChromaIndication = r.flag()
	v.FieldSeq = r.flag()
	v.FrameFieldInfoPresent = r.flag()
	if r.flag() { // default_display_window_flag
		v.DefaultDisplayWindow = Window{r.ue(), r.ue(), r.ue(), r.ue()}
	}
	v.TimingInfoPresent = r.flag()
	if v.TimingInfoPresent {
		v.NumUnitsInTick = r.u(32)
		v.TimeScale = r.u(32)
		v.POCProportionalToTiming = r.flag()
		if v.POCProportionalToTiming {
			v.NumTicksPOCDiffOneMinus1 = r.ue()
		}
		if r.flag() { // vui_hrd_parameters_present_flag
			v.HRD = parseHRD(r, true, maxSubLayersMinus1)
		}
	}
	v.BitstreamRestriction = r.flag()
	if v.BitstreamRestriction {
		v.TilesFixedStructure = r.flag()
		r.flag() // motion_vectors_over_pic_boundaries_flag
		r.flag() // restricted_ref_pic_lists_flag
		v.MinSpatialSegmentationIDC = r.ueMax(4095, "min_spatial_segmentation_idc")
		v.MaxBytesPerPicDenom = r.ueMax(16, "max_bytes_per_pic_denom")
		v.MaxBitsPerMinCUDenom = r.ueMax(16, "max_bits_per_min_cu_denom")
		v.Log2MaxMVLengthHorizontal = r.ueMax(15, "log2_max_mv_length_horizontal")
		v.Log2MaxMVLengthVertical = r.ueMax(15, "log2_max_mv_length_vertical")
	}
	return v
}

// HRD holds hrd_parameters() (Annex E.2.2).
type HRD struct {
	NALHRDPresent       bool
	VCLHRDPresent       bool
	SubPicParamsPresent bool

	TickDivisorMinus2                   uint8
	DUCPBRemovalDelayIncrementLenMinus1 uint8
	SubPicCPBParamsInPicTimingSEI       bool
	DPBOutputDelayDULenMinus1           uint8
	BitRateScale                        uint8
	CPBSizeScale                        uint8
	CPBSizeDUScale                      uint8
	InitialCPBRemovalDelayLenMinus1     uint8
	AUCPBRemovalDelayLenMinus1          uint8
	DPBOutputDelayLenMinus1             uint8

	SubLayers []HRDSubLayer
}

// HRDSubLayer is the per temporal sub-layer part of an HRD.
type HRDSubLayer struct {
	FixedPicRateGeneral     bool
	FixedPicRateWithinCVS   bool
	ElementalDurationMinus1 uint32
	LowDelay                bool
	CPBCntMinus1            uint32
	NAL                     []CPBSpec
	VCL                     []CPBSpec
}

// CPBSpec is one sub_layer_hrd_parameters() entry.
type CPBSpec struct {
	BitRateValueMinus1   uint32
	CPBSizeValueMinus1   uint32
	CPBSizeDUValueMinus1 uint32
	BitRateDUValueMinus1 uint32
	CBR                  bool
}

func parseHRD(r *fieldReader, commonInfPresent bool, maxSubLayersMinus1 int) *HRD {
	h := &HRD{}
	if commonInfPresent {
		h.NALHRDPresent = r.flag()
		h.VCLHRDPresent = r.flag()
		if h.NALHRDPresent || h.VCLHRDPresent {
			h.SubPicParamsPresent = r.flag()
			if h.SubPicParamsPresent {
				h.TickDivisorMinus2 = uint8(r.u(8))
				h.DUCPBRemovalDelayIncrementLenMinus1 = uint8(r.u(5))
				h.SubPicCPBParamsInPicTimingSEI = r.flag()
				h.DPBOutputDelayDULenMinus1 = uint8(r.u(5))
			}
			h.BitRateScale = uint8(r.u(4))
			h.CPBSizeScale = uint8(r.u(4))
			if h.SubPicParamsPresent {
				h.CPBSizeDUScale = uint8(r.u(4))
			}
			h.InitialCPBRemovalDelayLenMinus1 = uint8(r.u(5))
			h.AUCPBRemovalDelayLenMinus1 = uint8(r.u(5))
			h.DPBOutputDelayLenMinus1 = uint8(r.u(5))
		}
	}

	h.SubLayers = make([]HRDSubLayer, maxSubLayersMinus1+1)
	for i := range h.SubLayers {
		s := &h.SubLayers[i]
		s.FixedPicRateGeneral = r.flag()
		s.FixedPicRateWithinCVS = true
		if !s.FixedPicRateGeneral {
			s.FixedPicRateWithinCVS = r.flag()
		}
		if s.FixedPicRateWithinCVS {
			s.ElementalDurationMinus1 = r.ueMax(2047, "elemental_duration_in_tc_minus1")
		} else {
			s.LowDelay = r.flag()
		}
		if !s.LowDelay {
			s.CPBCntMinus1 = r.ueMax(31, "cpb_cnt_minus1")
		}
		if h.NALHRDPresent {
			s.NAL = parseSubLayerHRD(r, int(s.CPBCntMinus1), h.SubPicParamsPresent)
		}
		if h.VCLHRDPresent {
			s.VCL = parseSubLayerHRD(r, int(s.CPBCntMinus1), h.SubPicParamsPresent)
		}
		if r.err() != nil {
			break
		}
	}
	return h
}

func parseSubLayerHRD(r *fieldReader, cpbCntMinus1 int, subPic bool) []CPBSpec {
	specs := make([]CPBSpec, cpbCntMinus1+1)
	for i := range specs {
		specs[i].BitRateValueMinus1 = r.ue()
		specs[i].CPBSizeValueMinus1 = r.ue()
		if subPic {
			specs[i].CPBSizeDUValueMinus1 = r.ue()
			specs[i].BitRateDUValueMinus1 = r.ue()
		}
		specs[i].CBR = r.flag()
	}
	return specs
}
