package codestream

import (
	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/bio"
)

// DecoderConfig is an HEVCDecoderConfigurationRecord (ISO/IEC 14496-15
// 8.3.3), the payload of an hvcC box.
type DecoderConfig struct {
	ConfigurationVersion uint8
	ProfileSpace         uint8
	Tier                 bool
	ProfileIDC           uint8
	CompatibilityFlags   uint32
	ConstraintFlags      uint64
	LevelIDC             uint8
	MinSpatialSegIDC     uint16
	ParallelismType      uint8
	ChromaFormat         uint8
	BitDepthLuma         uint8
	BitDepthChroma       uint8
	AvgFrameRate         uint16
	ConstantFrameRate    uint8
	NumTemporalLayers    uint8
	TemporalIDNested     bool
	LengthSize           int

	// NAL units of all arrays in record order, usually VPS, SPS, PPS and
	// SEI.
	NALUnits [][]byte
}

// ParseDecoderConfig parses the body of an hvcC box.
func ParseDecoderConfig(data []byte) (*DecoderConfig, error) {
	if len(data) < 23 {
		return nil, errors.Errorf("codestream: hvcC record of %d bytes", len(data))
	}
	r := newFieldReader(bio.NewReader(data))
	c := &DecoderConfig{}
	c.ConfigurationVersion = uint8(r.u(8))
	c.ProfileSpace = uint8(r.u(2))
	c.Tier = r.flag()
	c.ProfileIDC = uint8(r.u(5))
	c.CompatibilityFlags = r.u(32)
	c.ConstraintFlags = uint64(r.u(16))<<32 | uint64(r.u(32))
	c.LevelIDC = uint8(r.u(8))
	r.skip(4)
	c.MinSpatialSegIDC = uint16(r.u(12))
	r.skip(6)
	c.ParallelismType = uint8(r.u(2))
	r.skip(6)
	c.ChromaFormat = uint8(r.u(2))
	r.skip(5)
	c.BitDepthLuma = uint8(r.u(3)) + 8
	r.skip(5)
	c.BitDepthChroma = uint8(r.u(3)) + 8
	c.AvgFrameRate = uint16(r.u(16))
	c.ConstantFrameRate = uint8(r.u(2))
	c.NumTemporalLayers = uint8(r.u(3))
	c.TemporalIDNested = r.flag()
	c.LengthSize = int(r.u(2)) + 1
	if c.LengthSize == 3 {
		return nil, errors.New("codestream: hvcC lengthSizeMinusOne of 2")
	}

	numArrays := int(r.u(8))
	for i := 0; i < numArrays && r.err() == nil; i++ {
		r.skip(8) // array_completeness, reserved, NAL_unit_type
		numNalus := int(r.u(16))
		for j := 0; j < numNalus && r.err() == nil; j++ {
			n := int(r.u(16))
			if r.err() != nil {
				break
			}
			pos := r.br.BytePosition()
			if pos+n > len(data) {
				return nil, errors.Errorf("codestream: hvcC NAL unit of %d bytes overruns the record", n)
			}
			c.NALUnits = append(c.NALUnits, data[pos:pos+n])
			r.skip(8 * n)
		}
	}
	if r.err() != nil {
		return nil, errors.Wrap(r.err(), "hvcC")
	}
	return c, nil
}
