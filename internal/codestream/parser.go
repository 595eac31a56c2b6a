package codestream

import (
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/bio"
)

var (
	// ErrUnsupportedSyntax reports a syntax element whose value selects a
	// coding tool outside intra-only single-layer decoding.
	ErrUnsupportedSyntax = errors.New("codestream: unsupported syntax")

	// ErrMalformedParameterSet reports an out-of-range or inconsistent
	// parameter set or slice header field.
	ErrMalformedParameterSet = errors.New("codestream: malformed parameter set")
)

// NALUnit is a parsed NAL unit. Slice and SliceData are set for VCL units
// of the base layer only.
type NALUnit struct {
	Header NALHeader
	RBSP   []byte

	Slice     *SliceHeader
	SliceData []byte
}

// Parser keeps the parameter sets seen so far and parses NAL units
// against them.
type Parser struct {
	vps [16]*VPS
	sps [16]*SPS
	pps [64]*PPS

	// Last independent slice segment header, for dependent segments.
	prevSlice *SliceHeader

	logger *slog.Logger
}

// NewParser creates a parser. A nil logger discards output.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Parser{logger: logger.With("module", "codestream")}
}

// Parse parses one NAL unit without start code or length prefix.
// Parameter sets are stored; slice segments are parsed up to the slice
// data.
func (p *Parser) Parse(nal []byte) (*NALUnit, error) {
	hdr, err := ParseNALHeader(nal)
	if err != nil {
		return nil, err
	}
	rbsp, epb := bio.UnescapeRBSP(nal[2:])
	u := &NALUnit{Header: hdr, RBSP: rbsp}

	if hdr.LayerID != 0 {
		p.logger.Debug("skipping enhancement layer NAL unit", "type", hdr.Type, "layer", hdr.LayerID)
		return u, nil
	}

	switch hdr.Type {
	case NALVPS:
		vps, err := ParseVPS(rbsp)
		if err != nil {
			return nil, err
		}
		p.vps[vps.ID] = vps
		p.logger.Debug("VPS", "id", vps.ID, "max_sub_layers", vps.MaxSubLayersMinus1+1)
	case NALSPS:
		sps, err := ParseSPS(rbsp)
		if err != nil {
			return nil, err
		}
		p.sps[sps.ID] = sps
		p.logger.Debug("SPS", "id", sps.ID, "width", sps.Width, "height", sps.Height,
			"chroma_format", sps.ChromaFormatIDC, "bit_depth", sps.BitDepthY, "ctb", sps.CtbSize)
	case NALPPS:
		pps, err := ParsePPS(rbsp)
		if err != nil {
			return nil, err
		}
		p.pps[pps.ID] = pps
		p.logger.Debug("PPS", "id", pps.ID, "sps", pps.SPSID, "tiles", pps.TilesEnabled,
			"wpp", pps.EntropyCodingSyncEnabled)
	default:
		if !hdr.Type.IsVCL() {
			return u, nil
		}
		if hdr.Type > NALCRA {
			return nil, errors.Wrapf(ErrUnsupportedSyntax, "reserved VCL NAL unit type %d", hdr.Type)
		}
		prev := p.prevSlice
		sh, err := parseSliceHeader(rbsp, epb, hdr, p, prev)
		if err != nil {
			return nil, err
		}
		if !sh.DependentSliceSegment {
			p.prevSlice = sh
		}
		u.Slice = sh
		u.SliceData = rbsp[sh.DataOffset:]
		p.logger.Debug("slice segment", "type", hdr.Type, "address", sh.SegmentAddress,
			"dependent", sh.DependentSliceSegment, "qp", sh.SliceQPY, "entry_points", len(sh.EntryPoints))
	}
	return u, nil
}

// Activate returns the PPS with the given id and the SPS it refers to,
// after checking them against each other.
func (p *Parser) Activate(ppsID uint8) (*PPS, *SPS, error) {
	if int(ppsID) >= len(p.pps) || p.pps[ppsID] == nil {
		return nil, nil, errors.Wrapf(ErrMalformedParameterSet, "PPS %d not received", ppsID)
	}
	pps := p.pps[ppsID]
	sps := p.sps[pps.SPSID]
	if sps == nil {
		return nil, nil, errors.Wrapf(ErrMalformedParameterSet, "SPS %d not received", pps.SPSID)
	}
	if err := pps.Validate(sps); err != nil {
		return nil, nil, err
	}
	return pps, sps, nil
}

// SPS returns the SPS with the given id, or nil.
func (p *Parser) SPS(id uint8) *SPS {
	if int(id) >= len(p.sps) {
		return nil
	}
	return p.sps[id]
}

// VPS returns the VPS with the given id, or nil.
func (p *Parser) VPS(id uint8) *VPS {
	if int(id) >= len(p.vps) {
		return nil
	}
	return p.vps[id]
}

// FirstSPS returns the lowest-numbered SPS received, or nil.
func (p *Parser) FirstSPS() *SPS {
	for _, s := range p.sps {
		if s != nil {
			return s
		}
	}
	return nil
}

// FirstPPS returns the lowest-numbered PPS received, or nil.
func (p *Parser) FirstPPS() *PPS {
	for _, s := range p.pps {
		if s != nil {
			return s
		}
	}
	return nil
}
