// Package codestream handles HEVC NAL unit framing and parameter set and
// slice segment header parsing.
package codestream

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// NAL unit types defined in ITU-T H.265 Table 7-1.
const (
	NALTrailN       NALUnitType = 0
	NALTrailR       NALUnitType = 1
	NALTSAN         NALUnitType = 2
	NALTSAR         NALUnitType = 3
	NALSTSAN        NALUnitType = 4
	NALSTSAR        NALUnitType = 5
	NALRADLN        NALUnitType = 6
	NALRADLR        NALUnitType = 7
	NALRASLN        NALUnitType = 8
	NALRASLR        NALUnitType = 9
	NALBLAWLP       NALUnitType = 16
	NALBLAWRADL     NALUnitType = 17
	NALBLANLP       NALUnitType = 18
	NALIDRWRADL     NALUnitType = 19
	NALIDRNLP       NALUnitType = 20
	NALCRA          NALUnitType = 21
	NALReservedIRAP NALUnitType = 23 // Last reserved IRAP type
	NALVPS          NALUnitType = 32
	NALSPS          NALUnitType = 33
	NALPPS          NALUnitType = 34
	NALAUD          NALUnitType = 35
	NALEOS          NALUnitType = 36
	NALEOB          NALUnitType = 37
	NALFD           NALUnitType = 38
	NALPrefixSEI    NALUnitType = 39
	NALSuffixSEI    NALUnitType = 40
)

// NALUnitType is the 6-bit nal_unit_type field.
type NALUnitType uint8

// String returns the string representation of a NAL unit type.
func (t NALUnitType) String() string {
	switch t {
	case NALTrailN:
		return "TRAIL_N"
	case NALTrailR:
		return "TRAIL_R"
	case NALTSAN:
		return "TSA_N"
	case NALTSAR:
		return "TSA_R"
	case NALSTSAN:
		return "STSA_N"
	case NALSTSAR:
		return "STSA_R"
	case NALRADLN:
		return "RADL_N"
	case NALRADLR:
		return "RADL_R"
	case NALRASLN:
		return "RASL_N"
	case NALRASLR:
		return "RASL_R"
	case NALBLAWLP:
		return "BLA_W_LP"
	case NALBLAWRADL:
		return "BLA_W_RADL"
	case NALBLANLP:
		return "BLA_N_LP"
	case NALIDRWRADL:
		return "IDR_W_RADL"
	case NALIDRNLP:
		return "IDR_N_LP"
	case NALCRA:
		return "CRA_NUT"
	case NALVPS:
		return "VPS"
	case NALSPS:
		return "SPS"
	case NALPPS:
		return "PPS"
	case NALAUD:
		return "AUD"
	case NALEOS:
		return "EOS"
	case NALEOB:
		return "EOB"
	case NALFD:
		return "FD"
	case NALPrefixSEI:
		return "PREFIX_SEI"
	case NALSuffixSEI:
		return "SUFFIX_SEI"
	default:
		return "UNKNOWN"
	}
}

// IsVCL returns true if the NAL unit carries slice segment data.
func (t NALUnitType) IsVCL() bool {
	return t < NALVPS
}

// IsIRAP returns true for intra random access point pictures.
func (t NALUnitType) IsIRAP() bool {
	return t >= NALBLAWLP && t <= NALReservedIRAP
}

// IsIDR returns true for instantaneous decoding refresh pictures.
func (t NALUnitType) IsIDR() bool {
	return t == NALIDRWRADL || t == NALIDRNLP
}

// NALHeader is the two-byte NAL unit header.
type NALHeader struct {
	Type            NALUnitType
	LayerID         uint8
	TemporalIDPlus1 uint8
}

// ParseNALHeader parses the first two bytes of a NAL unit.
func ParseNALHeader(nal []byte) (NALHeader, error) {
	if len(nal) < 2 {
		return NALHeader{}, errors.Wrap(ErrMalformedParameterSet, "NAL unit shorter than its header")
	}
	v := binary.BigEndian.Uint16(nal)
	if v&0x8000 != 0 {
		return NALHeader{}, errors.Wrap(ErrMalformedParameterSet, "forbidden_zero_bit set")
	}
	h := NALHeader{
		Type:            NALUnitType(v >> 9 & 0x3F),
		LayerID:         uint8(v >> 3 & 0x3F),
		TemporalIDPlus1: uint8(v & 7),
	}
	if h.TemporalIDPlus1 == 0 {
		return h, errors.Wrap(ErrMalformedParameterSet, "nuh_temporal_id_plus1 is zero")
	}
	return h, nil
}

// SplitAnnexB splits a byte stream on 0x000001 start codes. Leading zero
// bytes of four-byte start codes and trailing_zero_8bits are dropped.
func SplitAnnexB(data []byte) [][]byte {
	var nals [][]byte
	start := -1
	i := 0
	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				nals = appendNAL(nals, data[start:i])
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 {
		nals = appendNAL(nals, data[start:])
	}
	return nals
}

func appendNAL(nals [][]byte, nal []byte) [][]byte {
	end := len(nal)
	for end > 0 && nal[end-1] == 0 {
		end--
	}
	if end == 0 {
		return nals
	}
	return append(nals, nal[:end])
}

// SplitLengthPrefixed splits NAL units that are each preceded by a
// big-endian length of lengthSize bytes (1, 2 or 4), the layout used in
// HEIF items and MP4 samples.
func SplitLengthPrefixed(data []byte, lengthSize int) ([][]byte, error) {
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, errors.Wrapf(ErrMalformedParameterSet, "invalid NAL length size %d", lengthSize)
	}
	var nals [][]byte
	for len(data) > 0 {
		if len(data) < lengthSize {
			return nil, errors.New("codestream: truncated NAL length")
		}
		var n int
		switch lengthSize {
		case 1:
			n = int(data[0])
		case 2:
			n = int(binary.BigEndian.Uint16(data))
		case 4:
			n = int(binary.BigEndian.Uint32(data))
		}
		data = data[lengthSize:]
		if n > len(data) || n < 0 {
			return nil, errors.Errorf("codestream: NAL length %d exceeds remaining %d bytes", n, len(data))
		}
		if n > 0 {
			nals = append(nals, data[:n])
		}
		data = data[n:]
	}
	return nals, nil
}
