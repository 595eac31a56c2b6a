// Package vp8 decodes VP8 key frames (RFC 6386), the lossy coding of
// WebP still images. Intra modes, coefficient tokens and reconstruction
// are implemented; the loop filter header is parsed but the filter is not
// applied.
package vp8

import (
	"image"
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/bio"
	"github.com/mrjoshuak/go-hevc/internal/entropy"
)

var (
	// ErrInvalidFormat reports a bad frame tag, start code or partition
	// layout.
	ErrInvalidFormat = errors.New("vp8: invalid format")

	// ErrNotKeyFrame is returned for inter frames.
	ErrNotKeyFrame = errors.New("vp8: not a key frame")
)

const (
	numTypes    = 4
	numBands    = 8
	numContexts = 3
	numProbs    = 11
	numBModes   = 10
	numSegments = 4

	frameHeaderSize = 10
	startCode       = 0x2A019D
)

// FrameHeader is the uncompressed data chunk at the start of a frame
// (RFC 6386 section 9.1).
type FrameHeader struct {
	KeyFrame          bool
	Version           uint8
	ShowFrame         bool
	FirstPartitionLen uint32
	Width             int
	Height            int
	XScale            uint8
	YScale            uint8
}

// ParseFrameHeader reads the frame tag and the key frame start code and
// dimensions. Inter frames return ErrNotKeyFrame with the tag filled in.
func ParseFrameHeader(data []byte) (FrameHeader, error) {
	var fh FrameHeader
	r := bio.NewReaderOrder(data, bio.LSBFirst)
	tag, err := r.ReadBits(24)
	if err != nil {
		return fh, errors.Wrap(ErrInvalidFormat, "frame tag")
	}
	fh.KeyFrame = tag&1 == 0
	fh.Version = uint8(tag >> 1 & 7)
	fh.ShowFrame = tag>>4&1 == 1
	fh.FirstPartitionLen = tag >> 5
	if !fh.KeyFrame {
		return fh, ErrNotKeyFrame
	}
	if fh.Version > 3 {
		return fh, errors.Wrapf(ErrInvalidFormat, "version %d", fh.Version)
	}

	code, err := r.ReadBits(24)
	if err != nil {
		return fh, errors.Wrap(ErrInvalidFormat, "start code")
	}
	if code != startCode {
		return fh, errors.Wrapf(ErrInvalidFormat, "start code %06X", code)
	}
	dims, err := r.ReadBits(32)
	if err != nil {
		return fh, errors.Wrap(ErrInvalidFormat, "frame size")
	}
	fh.Width = int(dims & 0x3FFF)
	fh.XScale = uint8(dims >> 14 & 3)
	fh.Height = int(dims >> 16 & 0x3FFF)
	fh.YScale = uint8(dims >> 30)
	if fh.Width == 0 || fh.Height == 0 {
		return fh, errors.Wrapf(ErrInvalidFormat, "frame size %dx%d", fh.Width, fh.Height)
	}
	return fh, nil
}

type segmentHeader struct {
	enabled   bool
	updateMap bool
	absolute  bool
	quantizer [numSegments]int
	filter    [numSegments]int
	probs     [3]uint8
}

type filterHeader struct {
	simple    bool
	level     int
	sharpness int
}

// Dequantization factors of one segment, DC then AC.
type quant struct {
	y1, y2, uv [2]int
}

// Non-zero flags of the blocks along one macroblock edge.
type nzContext struct {
	y    [4]uint8
	u, v [2]uint8
	dc   uint8
}

// Decoder decodes VP8 key frames. A Decoder may be reused.
type Decoder struct {
	Header FrameHeader

	mbw, mbh int

	fp    *entropy.BoolDecoder
	parts []*entropy.BoolDecoder

	colorSpace uint8
	clamping   uint8
	segment    segmentHeader
	filter     filterHeader
	quant      [numSegments]quant
	probs      [numTypes][numBands][numContexts][numProbs]uint8

	useSkipProb bool
	skipProb    uint8

	// Sub-block modes along the top of the next macroblock row, four per
	// column, and along the left of the current macroblock.
	intraT []uint8
	intraL [4]uint8

	nzT []nzContext
	nzL nzContext

	coeffs [24 * 16]int16
	ws     workspace
	img    *image.YCbCr

	logger *slog.Logger
}

// NewDecoder returns a decoder. A nil logger discards output.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Decoder{logger: logger.With("module", "vp8")}
}

// Decode decodes a key frame. The returned image is cropped to the frame
// size and stays valid until the next call.
func (d *Decoder) Decode(data []byte) (*image.YCbCr, error) {
	fh, err := ParseFrameHeader(data)
	if err != nil {
		return nil, err
	}
	d.Header = fh
	data = data[frameHeaderSize:]
	if int(fh.FirstPartitionLen) > len(data) {
		return nil, errors.Wrapf(ErrInvalidFormat, "first partition of %d bytes, %d available", fh.FirstPartitionLen, len(data))
	}
	d.fp = entropy.NewBoolDecoder(data[:fh.FirstPartitionLen])
	if err := d.parseHeaders(data[fh.FirstPartitionLen:]); err != nil {
		return nil, err
	}

	d.mbw = (fh.Width + 15) >> 4
	d.mbh = (fh.Height + 15) >> 4
	d.img = image.NewYCbCr(image.Rect(0, 0, 16*d.mbw, 16*d.mbh), image.YCbCrSubsampleRatio420)
	d.intraT = make([]uint8, 4*d.mbw)
	d.nzT = make([]nzContext, d.mbw)

	d.logger.Debug("key frame", "width", fh.Width, "height", fh.Height,
		"partitions", len(d.parts), "segments", d.segment.enabled, "filter_level", d.filter.level)

	for mby := 0; mby < d.mbh; mby++ {
		br := d.parts[mby&(len(d.parts)-1)]
		d.intraL = [4]uint8{}
		d.nzL = nzContext{}
		for mbx := 0; mbx < d.mbw; mbx++ {
			mb := d.parseMode(mbx)
			d.parseResiduals(br, &mb, mbx)
			d.reconstruct(&mb, mbx, mby)
		}
		if err := d.fp.Err(); err != nil {
			return nil, errors.Wrapf(err, "first partition, macroblock row %d", mby)
		}
		if err := br.Err(); err != nil {
			return nil, errors.Wrapf(err, "token partition, macroblock row %d", mby)
		}
	}
	return d.img.SubImage(image.Rect(0, 0, fh.Width, fh.Height)).(*image.YCbCr), nil
}

// parseHeaders reads the frame header fields of the first partition
// (RFC 6386 section 9.2 to 9.11) and splits the token partitions out of
// rest.
func (d *Decoder) parseHeaders(rest []byte) error {
	br := d.fp
	d.colorSpace = uint8(br.DecideEquiprobable())
	d.clamping = uint8(br.DecideEquiprobable())

	d.parseSegmentHeader()
	d.parseFilterHeader()
	if err := d.parsePartitions(rest); err != nil {
		return err
	}
	d.parseQuant()
	br.DecideEquiprobable() // refresh_entropy_probs
	d.parseProbs()
	return errors.Wrap(br.Err(), "frame header")
}

func (d *Decoder) parseSegmentHeader() {
	br := d.fp
	s := &d.segment
	*s = segmentHeader{probs: [3]uint8{255, 255, 255}}
	s.enabled = br.DecideEquiprobable() == 1
	if !s.enabled {
		return
	}
	s.updateMap = br.DecideEquiprobable() == 1
	if br.DecideEquiprobable() == 1 { // update_segment_feature_data
		s.absolute = br.DecideEquiprobable() == 1
		for i := range s.quantizer {
			s.quantizer[i] = br.DecodeOptionalSigned(7)
		}
		for i := range s.filter {
			s.filter[i] = br.DecodeOptionalSigned(6)
		}
	}
	if s.updateMap {
		for i := range s.probs {
			if br.DecideEquiprobable() == 1 {
				s.probs[i] = uint8(br.DecodeBits(8))
			}
		}
	}
}

func (d *Decoder) parseFilterHeader() {
	br := d.fp
	d.filter.simple = br.DecideEquiprobable() == 1
	d.filter.level = int(br.DecodeBits(6))
	d.filter.sharpness = int(br.DecodeBits(3))
	if br.DecideEquiprobable() == 1 { // loop_filter_adj_enable
		if br.DecideEquiprobable() == 1 { // mode_ref_lf_delta_update
			for i := 0; i < 8; i++ {
				br.DecodeOptionalSigned(6)
			}
		}
	}
}

// parsePartitions splits the token partitions. All but the last are
// preceded by a 3-byte little-endian size.
func (d *Decoder) parsePartitions(data []byte) error {
	n := 1 << d.fp.DecodeBits(2)
	sizes := 3 * (n - 1)
	if len(data) < sizes {
		return errors.Wrapf(ErrInvalidFormat, "%d partition sizes in %d bytes", n-1, len(data))
	}
	d.parts = d.parts[:0]
	part := data[sizes:]
	for i := 0; i < n-1; i++ {
		size := int(data[3*i]) | int(data[3*i+1])<<8 | int(data[3*i+2])<<16
		if size > len(part) {
			return errors.Wrapf(ErrInvalidFormat, "partition %d of %d bytes, %d available", i, size, len(part))
		}
		d.parts = append(d.parts, entropy.NewBoolDecoder(part[:size]))
		part = part[size:]
	}
	d.parts = append(d.parts, entropy.NewBoolDecoder(part))
	return nil
}

// parseQuant reads the quantizer indices and derives the factors of every
// segment (RFC 6386 section 9.6 and 14.1).
func (d *Decoder) parseQuant() {
	br := d.fp
	base := int(br.DecodeBits(7))
	var delta [5]int // y1 DC, y2 DC, y2 AC, uv DC, uv AC
	for i := range delta {
		delta[i] = br.DecodeOptionalSigned(4)
	}

	for i := range d.quant {
		q := base
		if d.segment.enabled {
			q = d.segment.quantizer[i]
			if !d.segment.absolute {
				q += base
			}
		}
		m := &d.quant[i]
		m.y1[0] = dcTable[clip(q+delta[0], 127)]
		m.y1[1] = acTable[clip(q, 127)]
		m.y2[0] = dcTable[clip(q+delta[1], 127)] * 2
		m.y2[1] = max(acTable[clip(q+delta[2], 127)]*155/100, 8)
		m.uv[0] = dcTable[clip(q+delta[3], 117)]
		m.uv[1] = acTable[clip(q+delta[4], 127)]
	}
}

func (d *Decoder) parseProbs() {
	br := d.fp
	for t := range d.probs {
		for b := range d.probs[t] {
			for c := range d.probs[t][b] {
				for p := range d.probs[t][b][c] {
					if br.Decide(coeffUpdateProbs[t][b][c][p]) == 1 {
						d.probs[t][b][c][p] = uint8(br.DecodeBits(8))
					} else {
						d.probs[t][b][c][p] = defaultCoeffProbs[t][b][c][p]
					}
				}
			}
		}
	}
	d.useSkipProb = br.DecideEquiprobable() == 1
	if d.useSkipProb {
		d.skipProb = uint8(br.DecodeBits(8))
	}
}

func clip(v, hi int) int {
	return min(max(v, 0), hi)
}
