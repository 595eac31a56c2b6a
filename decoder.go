package hevc

import (
	"bytes"
	"image"
	"io"
	"log/slog"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mrjoshuak/go-hevc/internal/box"
	"github.com/mrjoshuak/go-hevc/internal/codestream"
	"github.com/mrjoshuak/go-hevc/internal/picture"
	"github.com/mrjoshuak/go-hevc/internal/slice"
	"github.com/mrjoshuak/go-hevc/internal/vp8"
)

// decoder handles the decoding of one input file.
type decoder struct {
	cfg    Config
	logger *slog.Logger
	format Format
	data   []byte
}

// newDecoder reads the whole input and detects its format.
func newDecoder(r io.Reader, cfg *Config) (*decoder, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "hevc: reading input")
	}
	c := cfg.withDefaults()
	d := &decoder{cfg: c, logger: c.Logger.With("module", "hevc"), data: data}
	if err := d.readFormat(); err != nil {
		return nil, err
	}
	return d, nil
}

// readFormat detects the file format from the leading bytes.
func (d *decoder) readFormat() error {
	switch {
	case box.IsHEIF(d.data):
		d.format = FormatHEIF
	case vp8.IsWebP(d.data):
		d.format = FormatWebP
	case bytes.HasPrefix(d.data, []byte{0, 0, 1}) || bytes.HasPrefix(d.data, []byte{0, 0, 0, 1}):
		d.format = FormatAnnexB
	default:
		return ErrUnsupportedFormat
	}
	d.logger.Debug("input", "format", d.format, "bytes", len(d.data))
	return nil
}

// decode decodes the image.
func (d *decoder) decode() (image.Image, error) {
	var f *frame
	var err error
	switch d.format {
	case FormatHEIF:
		f, err = d.decodeHEIF()
	case FormatWebP:
		f, err = d.decodeWebP()
	default:
		f, err = d.decodeStream(codestream.SplitAnnexB(d.data))
	}
	if err != nil {
		return nil, err
	}
	return f.image(d.cfg.KeepYCbCr), nil
}

// decodeStream decodes the first picture of a sequence of NAL units.
// Slice segments preceding the first segment of a picture are skipped.
func (d *decoder) decodeStream(nals [][]byte) (*frame, error) {
	p := codestream.NewParser(d.logger)
	var sd *slice.Decoder
	var sps *codestream.SPS
	for i, nal := range nals {
		if sd != nil && sd.Picture().Complete() {
			break
		}
		u, err := p.Parse(nal)
		if err != nil {
			return nil, errors.Wrapf(err, "NAL unit %d", i)
		}
		sh := u.Slice
		if sh == nil {
			continue
		}
		if sd == nil {
			if !sh.FirstSliceSegmentInPic {
				d.logger.Debug("skipping slice segment before the first picture", "address", sh.SegmentAddress)
				continue
			}
			pps, s, err := p.Activate(sh.PPSID)
			if err != nil {
				return nil, err
			}
			pic, err := picture.New(s, pps, d.cfg.MaxPictureSamples)
			if err != nil {
				return nil, err
			}
			sd, sps = slice.NewDecoder(pic, s, pps, d.logger), s
		}
		if err := sd.DecodeSegment(sh, u.SliceData); err != nil {
			return nil, err
		}
	}
	if sd == nil {
		return nil, ErrNoPicture
	}
	if !sd.Picture().Complete() {
		return nil, errors.Wrap(ErrCorruptData, "picture is missing slice segments")
	}
	return newFrame(sd.Picture(), sps), nil
}

// decodeHEIF decodes the primary item of a HEIF file with its alpha plane.
func (d *decoder) decodeHEIF() (*frame, error) {
	hf, err := box.Parse(d.data, d.logger)
	if err != nil {
		return nil, err
	}
	it, err := hf.PrimaryItem()
	if err != nil {
		return nil, err
	}

	var f *frame
	switch it.Type {
	case box.TypeGrid:
		f, err = d.decodeGrid(hf, it)
	case box.TypeHVC1:
		f, err = d.decodeItem(hf, it)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "primary item of type %v", it.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := cropToExtent(f, it); err != nil {
		return nil, err
	}

	if a := hf.Alpha(it.ID); a != nil {
		af, err := d.decodeItem(hf, a)
		if err != nil {
			return nil, errors.Wrap(err, "alpha plane")
		}
		if err := cropToExtent(af, a); err != nil {
			return nil, err
		}
		if err := f.setAlpha(af); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// cropToExtent crops f to the ispe property of it, if any.
func cropToExtent(f *frame, it *box.Item) error {
	p := it.Property(box.TypeSpatialExtent)
	if p == nil {
		return nil
	}
	w, h, err := box.SpatialExtent(p)
	if err != nil {
		return err
	}
	f.crop(int(w), int(h))
	return nil
}

// decodeItem decodes a coded hvc1 item from its hvcC parameter sets and
// length prefixed NAL units.
func (d *decoder) decodeItem(hf *box.File, it *box.Item) (*frame, error) {
	nals, err := d.itemNALUnits(hf, it, true)
	if err != nil {
		return nil, err
	}
	f, err := d.decodeStream(nals)
	if err != nil {
		return nil, errors.Wrapf(err, "item %d", it.ID)
	}
	return f, nil
}

// itemNALUnits returns the parameter sets of an hvc1 item followed by its
// coded data when withData is set.
func (d *decoder) itemNALUnits(hf *box.File, it *box.Item, withData bool) ([][]byte, error) {
	if it.Type != box.TypeHVC1 {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "item %d of type %v", it.ID, it.Type)
	}
	prop := it.Property(box.TypeHEVCConfig)
	if prop == nil {
		return nil, errors.Wrapf(ErrMalformedBox, "item %d has no hvcC property", it.ID)
	}
	rec, err := codestream.ParseDecoderConfig(prop.Contents)
	if err != nil {
		return nil, errors.Wrapf(err, "item %d", it.ID)
	}
	nals := append([][]byte(nil), rec.NALUnits...)
	if !withData {
		return nals, nil
	}
	data, err := hf.Data(it)
	if err != nil {
		return nil, err
	}
	coded, err := codestream.SplitLengthPrefixed(data, rec.LengthSize)
	if err != nil {
		return nil, errors.Wrapf(err, "item %d", it.ID)
	}
	return append(nals, coded...), nil
}

// decodeGrid decodes the tiles of an image grid concurrently and
// assembles them.
func (d *decoder) decodeGrid(hf *box.File, it *box.Item) (*frame, error) {
	g, err := hf.Grid(it)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("image grid", "rows", g.Rows, "columns", g.Columns, "width", g.Width, "height", g.Height)

	tiles := make([]*frame, len(g.Tiles))
	var eg errgroup.Group
	eg.SetLimit(d.cfg.Workers)
	for i, id := range g.Tiles {
		i, id := i, id
		eg.Go(func() error {
			tile := hf.Item(id)
			if tile == nil {
				return errors.Wrapf(ErrMalformedBox, "grid tile %d not found", id)
			}
			f, err := d.decodeItem(hf, tile)
			tiles[i] = f
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return composeGrid(tiles, g.Columns, g.Rows, int(g.Width), int(g.Height))
}

// decodeWebP decodes the VP8 key frame of a WebP file. An ALPH chunk is
// ignored.
func (d *decoder) decodeWebP() (*frame, error) {
	c, err := vp8.ParseContainer(d.data)
	if err != nil {
		return nil, err
	}
	if c.Flags&vp8.FlagAlpha != 0 {
		d.logger.Debug("ignoring WebP alpha")
	}
	fh, err := vp8.ParseFrameHeader(c.Frame)
	if err != nil {
		return nil, err
	}
	if fh.Width*fh.Height > d.cfg.MaxPictureSamples {
		return nil, errors.Wrapf(ErrTooLarge, "%dx%d", fh.Width, fh.Height)
	}
	img, err := vp8.NewDecoder(d.logger).Decode(c.Frame)
	if err != nil {
		return nil, err
	}
	return frameFromYCbCr(img), nil
}

// readMetadata reads only the metadata without decoding.
func (d *decoder) readMetadata() (*Metadata, error) {
	m := &Metadata{Format: d.format}
	switch d.format {
	case FormatWebP:
		c, err := vp8.ParseContainer(d.data)
		if err != nil {
			return nil, err
		}
		fh, err := vp8.ParseFrameHeader(c.Frame)
		if err != nil {
			return nil, err
		}
		m.Width, m.Height = fh.Width, fh.Height
		m.ChromaFormat = codestream.Chroma420
		m.BitDepthLuma, m.BitDepthChroma = 8, 8
		m.CtbSize = 16
		return m, nil

	case FormatHEIF:
		hf, err := box.Parse(d.data, d.logger)
		if err != nil {
			return nil, err
		}
		it, err := hf.PrimaryItem()
		if err != nil {
			return nil, err
		}
		coded := it
		var g *box.Grid
		if it.Type == box.TypeGrid {
			if g, err = hf.Grid(it); err != nil {
				return nil, err
			}
			if coded = hf.Item(g.Tiles[0]); coded == nil {
				return nil, errors.Wrapf(ErrMalformedBox, "grid tile %d not found", g.Tiles[0])
			}
		}
		nals, err := d.itemNALUnits(hf, coded, false)
		if err != nil {
			return nil, err
		}
		if err := m.readParameterSets(nals, d.logger); err != nil {
			return nil, err
		}
		if g != nil {
			m.GridRows, m.GridColumns = g.Rows, g.Columns
			m.Width, m.Height = int(g.Width), int(g.Height)
		}
		if p := it.Property(box.TypeSpatialExtent); p != nil {
			if w, h, err := box.SpatialExtent(p); err == nil {
				m.Width, m.Height = min(m.Width, int(w)), min(m.Height, int(h))
			}
		}
		m.HasAlpha = hf.Alpha(it.ID) != nil
		return m, nil

	default:
		var nals [][]byte
		for _, nal := range codestream.SplitAnnexB(d.data) {
			if h, err := codestream.ParseNALHeader(nal); err == nil && h.Type.IsVCL() {
				break
			}
			nals = append(nals, nal)
		}
		if err := m.readParameterSets(nals, d.logger); err != nil {
			return nil, err
		}
		return m, nil
	}
}

// readParameterSets fills m from the first SPS and PPS among nals.
func (m *Metadata) readParameterSets(nals [][]byte, logger *slog.Logger) error {
	p := codestream.NewParser(logger)
	for i, nal := range nals {
		if _, err := p.Parse(nal); err != nil {
			return errors.Wrapf(err, "NAL unit %d", i)
		}
	}
	sps := p.FirstSPS()
	if sps == nil {
		return errors.Wrap(ErrNoPicture, "no SPS")
	}
	x0, y0, x1, y1 := sps.CroppedBounds()
	m.Width, m.Height = x1-x0, y1-y0
	m.ChromaFormat = sps.ChromaFormatIDC
	m.BitDepthLuma, m.BitDepthChroma = sps.BitDepthY, sps.BitDepthC
	m.ProfileIDC = sps.PTL.General.ProfileIDC
	m.LevelIDC = sps.PTL.General.LevelIDC
	m.CtbSize = sps.CtbSize
	if pps := p.FirstPPS(); pps != nil {
		m.TilesEnabled = pps.TilesEnabled
		m.WPPEnabled = pps.EntropyCodingSyncEnabled
	}
	return nil
}
