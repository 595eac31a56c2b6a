package codestream

import (
	"bytes"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/bio"
)

// fieldWriter is the writing counterpart of fieldReader.
type fieldWriter struct {
	bw *bio.Writer
	e  error
}

func (w *fieldWriter) u(v uint32, n int) {
	if w.e == nil {
		w.e = w.bw.WriteBits(v, uint(n))
	}
}

func (w *fieldWriter) flag(b bool) {
	if w.e == nil {
		w.e = w.bw.WriteFlag(b)
	}
}

func (w *fieldWriter) ue(v uint32) {
	if w.e == nil {
		w.e = w.bw.WriteUE(v)
	}
}

func (w *fieldWriter) se(v int32) {
	if w.e == nil {
		w.e = w.bw.WriteSE(v)
	}
}

// AppendNAL appends a NAL unit header and the escaped rbsp to dst.
func AppendNAL(dst []byte, h NALHeader, rbsp []byte) []byte {
	v := uint16(h.Type)<<9 | uint16(h.LayerID)<<3 | uint16(h.TemporalIDPlus1)
	dst = append(dst, byte(v>>8), byte(v))
	return append(dst, bio.AddEmulationPrevention(rbsp)...)
}

// AppendAnnexB appends a four-byte start code and the NAL unit to dst.
func AppendAnnexB(dst []byte, h NALHeader, rbsp []byte) []byte {
	dst = append(dst, 0, 0, 0, 1)
	return AppendNAL(dst, h, rbsp)
}

func writePTL(w *fieldWriter, ptl *ProfileTierLevel) {
	g := &ptl.General
	w.u(uint32(g.ProfileSpace), 2)
	w.flag(g.TierFlag)
	w.u(uint32(g.ProfileIDC), 5)
	w.u(g.CompatibilityFlags, 32)
	w.flag(g.ProgressiveSource)
	w.flag(g.InterlacedSource)
	w.flag(g.NonPackedConstraint)
	w.flag(g.FrameOnlyConstraint)
	w.u(uint32(g.ConstraintFlags>>12), 32)
	w.u(uint32(g.ConstraintFlags&0xFFF), 12)
	w.u(uint32(g.LevelIDC), 8)
}

func writeSubLayerOrdering(w *fieldWriter, ord []SubLayerOrdering) {
	w.flag(true)
	for _, o := range ord {
		w.ue(o.MaxDecPicBufferingMinus1)
		w.ue(o.MaxNumReorderPics)
		w.ue(o.MaxLatencyIncreasePlus1)
	}
}

// MarshalRBSP encodes the VPS without sub-layer PTL, layer sets, timing
// or extension data.
func (v *VPS) MarshalRBSP() ([]byte, error) {
	if v.MaxSubLayersMinus1 != 0 {
		return nil, errors.New("codestream: VPS writer supports one sub-layer")
	}
	var buf bytes.Buffer
	w := &fieldWriter{bw: bio.NewWriter(&buf)}
	w.u(uint32(v.ID), 4)
	w.flag(true) // vps_base_layer_internal_flag
	w.flag(true) // vps_base_layer_available_flag
	w.u(uint32(v.MaxLayersMinus1), 6)
	w.u(0, 3)
	w.flag(v.TemporalIDNesting)
	w.u(0xFFFF, 16)
	writePTL(w, &v.PTL)
	writeSubLayerOrdering(w, orderingOrDefault(v.SubLayerOrdering))
	w.u(0, 6)     // vps_max_layer_id
	w.ue(0)       // vps_num_layer_sets_minus1
	w.flag(false) // vps_timing_info_present_flag
	w.flag(false) // vps_extension_flag
	return finishRBSP(w, &buf)
}

func orderingOrDefault(ord []SubLayerOrdering) []SubLayerOrdering {
	if len(ord) == 0 {
		return []SubLayerOrdering{{}}
	}
	return ord[len(ord)-1:]
}

func finishRBSP(w *fieldWriter, buf *bytes.Buffer) ([]byte, error) {
	if w.e == nil {
		w.e = w.bw.WriteTrailingBits()
	}
	if w.e != nil {
		return nil, w.e
	}
	return buf.Bytes(), nil
}

// MarshalRBSP encodes the SPS. Sub-layers, VUI timing and HRD data and
// inter-predicted reference picture sets are not written.
func (s *SPS) MarshalRBSP() ([]byte, error) {
	if s.MaxSubLayersMinus1 != 0 {
		return nil, errors.New("codestream: SPS writer supports one sub-layer")
	}
	var buf bytes.Buffer
	w := &fieldWriter{bw: bio.NewWriter(&buf)}
	w.u(uint32(s.VPSID), 4)
	w.u(0, 3)
	w.flag(s.TemporalIDNesting)
	writePTL(w, &s.PTL)
	w.ue(uint32(s.ID))
	w.ue(uint32(s.ChromaFormatIDC))
	if s.ChromaFormatIDC == Chroma444 {
		w.flag(s.SeparateColourPlane)
	}
	w.ue(uint32(s.Width))
	w.ue(uint32(s.Height))
	cw := s.ConformanceWindow
	w.flag(cw != Window{})
	if cw != (Window{}) {
		w.ue(cw.Left)
		w.ue(cw.Right)
		w.ue(cw.Top)
		w.ue(cw.Bottom)
	}
	w.ue(uint32(s.BitDepthY - 8))
	w.ue(uint32(s.BitDepthC - 8))
	w.ue(uint32(s.Log2MaxPOCLsb - 4))
	writeSubLayerOrdering(w, orderingOrDefault(s.SubLayerOrdering))
	w.ue(uint32(s.Log2MinCbSize - 3))
	w.ue(uint32(s.Log2CtbSize - s.Log2MinCbSize))
	w.ue(uint32(s.Log2MinTbSize - 2))
	w.ue(uint32(s.Log2MaxTbSize - s.Log2MinTbSize))
	w.ue(uint32(s.MaxTransformHierarchyDepthInter))
	w.ue(uint32(s.MaxTransformHierarchyDepthIntra))
	w.flag(s.ScalingListEnabled)
	if s.ScalingListEnabled {
		explicit := s.ScalingList != nil && *s.ScalingList != *DefaultScalingList()
		w.flag(explicit)
		if explicit {
			writeScalingListData(w, s.ScalingList)
		}
	}
	w.flag(s.AMPEnabled)
	w.flag(s.SAOEnabled)
	w.flag(s.PCMEnabled)
	if s.PCMEnabled {
		w.u(uint32(s.PCMBitDepthY-1), 4)
		w.u(uint32(s.PCMBitDepthC-1), 4)
		w.ue(uint32(s.Log2MinPCMCbSize - 3))
		w.ue(uint32(s.Log2MaxPCMCbSize - s.Log2MinPCMCbSize))
		w.flag(s.PCMLoopFilterDisabled)
	}
	w.ue(uint32(len(s.ShortTermRPS)))
	for i := range s.ShortTermRPS {
		writeShortTermRPS(w, i, &s.ShortTermRPS[i])
	}
	w.flag(s.LongTermRefPicsPresent)
	if s.LongTermRefPicsPresent {
		w.ue(uint32(len(s.LongTermRefPics)))
		for _, lt := range s.LongTermRefPics {
			w.u(lt.POCLsb, s.Log2MaxPOCLsb)
			w.flag(lt.UsedByCurr)
		}
	}
	w.flag(s.TemporalMVPEnabled)
	w.flag(s.StrongIntraSmoothing)
	w.flag(s.VUIPresent)
	if s.VUIPresent {
		writeVUI(w, &s.VUI)
	}

	rangeExt := s.RangeExtension != SPSRangeExtension{}
	sccExt := s.SCCExtension.IntraBoundaryFilteringDisabled
	w.flag(rangeExt || sccExt)
	if rangeExt || sccExt {
		w.flag(rangeExt)
		w.flag(false)
		w.flag(false)
		w.flag(sccExt)
		w.u(0, 4)
		if rangeExt {
			e := &s.RangeExtension
			w.flag(e.TransformSkipRotation)
			w.flag(e.TransformSkipContext)
			w.flag(e.ImplicitRDPCM)
			w.flag(e.ExplicitRDPCM)
			w.flag(e.ExtendedPrecision)
			w.flag(e.IntraSmoothingDisabled)
			w.flag(e.HighPrecisionOffsets)
			w.flag(e.PersistentRiceAdaptation)
			w.flag(e.CABACBypassAlignment)
		}
		if sccExt {
			w.flag(false) // sps_curr_pic_ref_enabled_flag
			w.flag(false) // palette_mode_enabled_flag
			w.u(uint32(s.SCCExtension.MotionVectorResolutionControl), 2)
			w.flag(true)
		}
	}
	return finishRBSP(w, &buf)
}

func writeShortTermRPS(w *fieldWriter, idx int, rps *ShortTermRPS) {
	if idx != 0 {
		w.flag(false) // inter_ref_pic_set_prediction_flag
	}
	w.ue(uint32(len(rps.DeltaPOCS0)))
	w.ue(uint32(len(rps.DeltaPOCS1)))
	prev := int32(0)
	for i, d := range rps.DeltaPOCS0 {
		w.ue(uint32(prev - d - 1))
		w.flag(rps.UsedS0[i])
		prev = d
	}
	prev = 0
	for i, d := range rps.DeltaPOCS1 {
		w.ue(uint32(d - prev - 1))
		w.flag(rps.UsedS1[i])
		prev = d
	}
}

// writeVUI writes the video signal and default display window parts of
// the VUI.
func writeVUI(w *fieldWriter, v *VUI) {
	w.flag(v.AspectRatioIDC != 0)
	if v.AspectRatioIDC != 0 {
		w.u(uint32(v.AspectRatioIDC), 8)
		if v.AspectRatioIDC == 255 {
			w.u(uint32(v.SARWidth), 16)
			w.u(uint32(v.SARHeight), 16)
		}
	}
	w.flag(false) // overscan_info_present_flag
	w.flag(true)  // video_signal_type_present_flag
	w.u(uint32(v.VideoFormat), 3)
	w.flag(v.VideoFullRange)
	w.flag(v.ColourDescriptionPresent)
	if v.ColourDescriptionPresent {
		w.u(uint32(v.ColourPrimaries), 8)
		w.u(uint32(v.TransferCharacteristics), 8)
		w.u(uint32(v.MatrixCoeffs), 8)
	}
	w.flag(false) // chroma_loc_info_present_flag
	w.flag(v.NeutralChromaIndication)
	w.flag(v.FieldSeq)
	w.flag(v.FrameFieldInfoPresent)
	dw := v.DefaultDisplayWindow
	w.flag(dw != Window{})
	if dw != (Window{}) {
		w.ue(dw.Left)
		w.ue(dw.Right)
		w.ue(dw.Top)
		w.ue(dw.Bottom)
	}
	w.flag(false) // vui_timing_info_present_flag
	w.flag(false) // bitstream_restriction_flag
}

// writeScalingListData writes every matrix explicitly.
func writeScalingListData(w *fieldWriter, sl *ScalingList) {
	for sizeID := 0; sizeID < 4; sizeID++ {
		step := 1
		if sizeID == 3 {
			step = 3
		}
		coefNum := 64
		if sizeID == 0 {
			coefNum = 16
		}
		for matrixID := 0; matrixID < 6; matrixID += step {
			w.flag(true) // scaling_list_pred_mode_flag
			next := 8
			if sizeID > 1 {
				dc := int(sl.DC[sizeID][matrixID])
				w.se(int32(dc - 8))
				next = dc
			}
			for i := 0; i < coefNum; i++ {
				v := int(sl.Lists[sizeID][matrixID][i])
				delta := v - next
				if delta > 127 {
					delta -= 256
				} else if delta < -128 {
					delta += 256
				}
				w.se(int32(delta))
				next = v
			}
		}
	}
}

// MarshalRBSP encodes the PPS. Only the range extension is written.
func (p *PPS) MarshalRBSP() ([]byte, error) {
	var buf bytes.Buffer
	w := &fieldWriter{bw: bio.NewWriter(&buf)}
	w.ue(uint32(p.ID))
	w.ue(uint32(p.SPSID))
	w.flag(p.DependentSliceSegmentsEnabled)
	w.flag(p.OutputFlagPresent)
	w.u(uint32(p.NumExtraSliceHeaderBits), 3)
	w.flag(p.SignDataHiding)
	w.flag(p.CABACInitPresent)
	w.ue(uint32(max(p.NumRefIdxL0DefaultActive, 1) - 1))
	w.ue(uint32(max(p.NumRefIdxL1DefaultActive, 1) - 1))
	w.se(int32(p.InitQP - 26))
	w.flag(p.ConstrainedIntraPred)
	w.flag(p.TransformSkipEnabled)
	w.flag(p.CUQPDeltaEnabled)
	if p.CUQPDeltaEnabled {
		w.ue(uint32(p.DiffCUQPDeltaDepth))
	}
	w.se(int32(p.CbQPOffset))
	w.se(int32(p.CrQPOffset))
	w.flag(p.SliceChromaQPOffsetsPresent)
	w.flag(p.WeightedPred)
	w.flag(p.WeightedBipred)
	w.flag(p.TransquantBypassEnabled)
	w.flag(p.TilesEnabled)
	w.flag(p.EntropyCodingSyncEnabled)
	if p.TilesEnabled {
		w.ue(uint32(p.NumTileColumns - 1))
		w.ue(uint32(p.NumTileRows - 1))
		w.flag(p.UniformSpacing)
		if !p.UniformSpacing {
			for _, c := range p.ColumnWidths {
				w.ue(uint32(c - 1))
			}
			for _, r := range p.RowHeights {
				w.ue(uint32(r - 1))
			}
		}
		w.flag(p.LoopFilterAcrossTiles)
	}
	w.flag(p.LoopFilterAcrossSlices)
	w.flag(p.DeblockingControlPresent)
	if p.DeblockingControlPresent {
		w.flag(p.DeblockingOverrideEnabled)
		w.flag(p.DeblockingDisabled)
		if !p.DeblockingDisabled {
			w.se(int32(p.BetaOffsetDiv2))
			w.se(int32(p.TcOffsetDiv2))
		}
	}
	w.flag(p.ScalingList != nil)
	if p.ScalingList != nil {
		writeScalingListData(w, p.ScalingList)
	}
	w.flag(p.ListsModificationPresent)
	w.ue(uint32(max(p.Log2ParallelMergeLevel, 2) - 2))
	w.flag(p.SliceHeaderExtensionPresent)

	e := &p.RangeExtension
	rangeExt := e.Log2MaxTransformSkipSize > 2 || e.CrossComponentPrediction || e.ChromaQPOffsetListEnabled ||
		e.Log2SAOOffsetScaleLuma != 0 || e.Log2SAOOffsetScaleChroma != 0
	w.flag(rangeExt)
	if rangeExt {
		w.flag(true)
		w.u(0, 7)
		if p.TransformSkipEnabled {
			w.ue(uint32(max(e.Log2MaxTransformSkipSize, 2) - 2))
		}
		w.flag(e.CrossComponentPrediction)
		w.flag(e.ChromaQPOffsetListEnabled)
		if e.ChromaQPOffsetListEnabled {
			w.ue(uint32(e.DiffCUChromaQPOffsetDepth))
			w.ue(uint32(len(e.CbQPOffsetList) - 1))
			for i := range e.CbQPOffsetList {
				w.se(int32(e.CbQPOffsetList[i]))
				w.se(int32(e.CrQPOffsetList[i]))
			}
		}
		w.ue(uint32(e.Log2SAOOffsetScaleLuma))
		w.ue(uint32(e.Log2SAOOffsetScaleChroma))
	}
	return finishRBSP(w, &buf)
}

// WriteSliceHeader writes an intra slice segment header including
// byte_alignment() to bw. Slice data may follow directly. EntryPoints are
// taken as substream start offsets in the slice data and are written
// as-is, so the data must not need emulation prevention.
func WriteSliceHeader(bw *bio.Writer, nal NALHeader, sh *SliceHeader, sps *SPS, pps *PPS) error {
	w := &fieldWriter{bw: bw}
	w.flag(sh.FirstSliceSegmentInPic)
	if nal.Type.IsIRAP() {
		w.flag(sh.NoOutputOfPriorPics)
	}
	w.ue(uint32(sh.PPSID))
	if !sh.FirstSliceSegmentInPic {
		if pps.DependentSliceSegmentsEnabled {
			w.flag(sh.DependentSliceSegment)
		}
		w.u(uint32(sh.SegmentAddress), bits.Len(uint(sps.PicSizeInCtbs-1)))
	}
	if !sh.DependentSliceSegment {
		w.u(0, pps.NumExtraSliceHeaderBits)
		w.ue(uint32(SliceI))
		if pps.OutputFlagPresent {
			w.flag(sh.PicOutput)
		}
		if sps.SeparateColourPlane {
			w.u(uint32(sh.ColourPlaneID), 2)
		}
		if !nal.Type.IsIDR() {
			w.u(sh.POCLsb, sps.Log2MaxPOCLsb)
			w.flag(true) // short_term_ref_pic_set_sps_flag
			if len(sps.ShortTermRPS) > 1 {
				w.u(uint32(sh.ShortTermRPSIdx), bits.Len(uint(len(sps.ShortTermRPS)-1)))
			}
			if sps.LongTermRefPicsPresent {
				if len(sps.LongTermRefPics) > 0 {
					w.ue(0)
				}
				w.ue(0)
			}
			if sps.TemporalMVPEnabled {
				w.flag(sh.TemporalMVPEnabled)
			}
		}
		if sps.SAOEnabled {
			w.flag(sh.SAOLuma)
			if sps.ChromaArrayType != 0 {
				w.flag(sh.SAOChroma)
			}
		}
		w.se(int32(sh.QPDelta))
		if pps.SliceChromaQPOffsetsPresent {
			w.se(int32(sh.CbQPOffset))
			w.se(int32(sh.CrQPOffset))
		}
		if pps.RangeExtension.ChromaQPOffsetListEnabled {
			w.flag(sh.CUChromaQPOffsetEnabled)
		}
		if pps.DeblockingOverrideEnabled {
			w.flag(sh.DeblockingOverride)
		}
		disabled := pps.DeblockingDisabled
		if sh.DeblockingOverride {
			w.flag(sh.DeblockingDisabled)
			if !sh.DeblockingDisabled {
				w.se(int32(sh.BetaOffsetDiv2))
				w.se(int32(sh.TcOffsetDiv2))
			}
			disabled = sh.DeblockingDisabled
		}
		if pps.LoopFilterAcrossSlices && (sh.SAOLuma || sh.SAOChroma || !disabled) {
			w.flag(sh.LoopFilterAcrossSlices)
		}
	}
	if pps.TilesEnabled || pps.EntropyCodingSyncEnabled {
		w.ue(uint32(len(sh.EntryPoints)))
		if len(sh.EntryPoints) > 0 {
			sizes := make([]uint32, len(sh.EntryPoints))
			prev, widest := 0, 1
			for i, ep := range sh.EntryPoints {
				sizes[i] = uint32(ep - prev - 1)
				widest = max(widest, bits.Len32(sizes[i]))
				prev = ep
			}
			w.ue(uint32(widest - 1))
			for _, s := range sizes {
				w.u(s, widest)
			}
		}
	}
	if pps.SliceHeaderExtensionPresent {
		w.ue(0)
	}
	w.flag(true) // alignment_bit_equal_to_one
	if w.e == nil {
		w.e = bw.Flush()
	}
	return w.e
}
