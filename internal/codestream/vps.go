package codestream

import (
	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/bio"
)

// VPS holds the base-layer part of video_parameter_set_rbsp() (clause
// 7.3.2.1). The extension is skipped.
type VPS struct {
	ID                    uint8
	BaseLayerInternal     bool
	BaseLayerAvailable    bool
	MaxLayersMinus1       uint8
	MaxSubLayersMinus1    uint8
	TemporalIDNesting     bool
	PTL                   ProfileTierLevel
	SubLayerOrdering      []SubLayerOrdering
	MaxLayerID            uint8
	NumLayerSetsMinus1    uint32
	LayerIDIncluded       [][]bool
	TimingInfoPresent     bool
	NumUnitsInTick        uint32
	TimeScale             uint32
	POCProportionalTiming bool
	NumTicksPOCDiffMinus1 uint32
	HRDLayerSetIdx        []uint32
	HRD                   []*HRD
	ExtensionPresent      bool
}

// SubLayerOrdering is the DPB sizing for one temporal sub-layer.
type SubLayerOrdering struct {
	MaxDecPicBufferingMinus1 uint32
	MaxNumReorderPics        uint32
	MaxLatencyIncreasePlus1  uint32
}

// ParseVPS parses a VPS RBSP (NAL header removed, emulation prevention
// bytes stripped).
func ParseVPS(rbsp []byte) (*VPS, error) {
	r := newFieldReader(bio.NewReader(rbsp))
	v := &VPS{}
	v.ID = uint8(r.u(4))
	v.BaseLayerInternal = r.flag()
	v.BaseLayerAvailable = r.flag()
	v.MaxLayersMinus1 = uint8(r.u(6))
	v.MaxSubLayersMinus1 = uint8(r.u(3))
	v.TemporalIDNesting = r.flag()
	if r.u(16) != 0xFFFF && r.err() == nil {
		return nil, errors.Wrap(ErrMalformedParameterSet, "vps_reserved_0xffff_16bits")
	}
	if v.MaxSubLayersMinus1 > 6 {
		return nil, errors.Wrapf(ErrMalformedParameterSet, "vps_max_sub_layers_minus1 = %d", v.MaxSubLayersMinus1)
	}
	v.PTL = parseProfileTierLevel(r, int(v.MaxSubLayersMinus1))
	v.SubLayerOrdering = parseSubLayerOrdering(r, int(v.MaxSubLayersMinus1))

	v.MaxLayerID = uint8(r.u(6))
	v.NumLayerSetsMinus1 = r.ueMax(1023, "vps_num_layer_sets_minus1")
	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "VPS")
	}
	v.LayerIDIncluded = make([][]bool, v.NumLayerSetsMinus1+1)
	for i := 1; i <= int(v.NumLayerSetsMinus1); i++ {
		v.LayerIDIncluded[i] = make([]bool, int(v.MaxLayerID)+1)
		for j := range v.LayerIDIncluded[i] {
			v.LayerIDIncluded[i][j] = r.flag()
		}
	}

	v.TimingInfoPresent = r.flag()
	if v.TimingInfoPresent {
		v.NumUnitsInTick = r.u(32)
		v.TimeScale = r.u(32)
		v.POCProportionalTiming = r.flag()
		if v.POCProportionalTiming {
			v.NumTicksPOCDiffMinus1 = r.ue()
		}
		n := r.ueMax(v.NumLayerSetsMinus1+1, "vps_num_hrd_parameters")
		for i := 0; i < int(n) && r.err() == nil; i++ {
			v.HRDLayerSetIdx = append(v.HRDLayerSetIdx, r.ue())
			commonInf := true
			if i > 0 {
				commonInf = r.flag()
			}
			v.HRD = append(v.HRD, parseHRD(r, commonInf, int(v.MaxSubLayersMinus1)))
		}
	}
	v.ExtensionPresent = r.flag()
	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "VPS")
	}
	return v, nil
}

// parseSubLayerOrdering reads the sub_layer_ordering_info loop shared by
// VPS and SPS. Entries not signalled copy the highest sub-layer's values.
func parseSubLayerOrdering(r *fieldReader, maxSubLayersMinus1 int) []SubLayerOrdering {
	ord := make([]SubLayerOrdering, maxSubLayersMinus1+1)
	first := maxSubLayersMinus1
	if r.flag() { // sub_layer_ordering_info_present_flag
		first = 0
	}
	for i := first; i <= maxSubLayersMinus1; i++ {
		ord[i].MaxDecPicBufferingMinus1 = r.ueMax(15, "max_dec_pic_buffering_minus1")
		ord[i].MaxNumReorderPics = r.ueMax(ord[i].MaxDecPicBufferingMinus1, "max_num_reorder_pics")
		ord[i].MaxLatencyIncreasePlus1 = r.ue()
	}
	for i := 0; i < first; i++ {
		ord[i] = ord[first]
	}
	return ord
}
