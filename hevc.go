// Package hevc provides a pure Go decoder for HEVC (H.265) intra coded
// still images.
//
// Three inputs are recognized:
//
//   - HEIF/HEIC files, including image grids and alpha planes
//   - raw HEVC elementary streams in Annex B byte stream format
//   - WebP files with a lossy VP8 key frame
//
// Only intra slices are decoded. The first picture of a stream is
// returned; in-loop filters are not applied.
//
// Basic usage:
//
//	file, _ := os.Open("image.heic")
//	img, err := hevc.Decode(file)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Importing the package registers the formats with the image package, so
// image.Decode recognizes them as well.
package hevc

import (
	"image"
	"image/color"
	"io"
	"log/slog"
	"runtime"

	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/bio"
	"github.com/mrjoshuak/go-hevc/internal/box"
	"github.com/mrjoshuak/go-hevc/internal/codestream"
	"github.com/mrjoshuak/go-hevc/internal/entropy"
	"github.com/mrjoshuak/go-hevc/internal/picture"
	"github.com/mrjoshuak/go-hevc/internal/slice"
	"github.com/mrjoshuak/go-hevc/internal/vp8"
)

// Errors returned by the decoder. Errors from the lower layers wrap one of
// these and can be tested with errors.Is.
var (
	// ErrUnsupportedFormat is returned when the input is neither HEIF,
	// an Annex B stream nor a lossy WebP file.
	ErrUnsupportedFormat = errors.New("hevc: unsupported format")

	// ErrNoPicture is returned when a stream holds no decodable picture.
	ErrNoPicture = errors.New("hevc: no picture in stream")

	ErrOutOfBits             = bio.ErrOutOfBits
	ErrCoderUnderflow        = entropy.ErrCoderUnderflow
	ErrUnsupportedSyntax     = codestream.ErrUnsupportedSyntax
	ErrMalformedParameterSet = codestream.ErrMalformedParameterSet
	ErrCorruptData           = slice.ErrCorruptData
	ErrMalformedBox          = box.ErrMalformedBox
	ErrTooLarge              = picture.ErrTooLarge
	ErrLossless              = vp8.ErrLossless
)

// Format is the container of a decoded file.
type Format int

// Input formats.
const (
	// FormatAnnexB is a raw HEVC byte stream.
	FormatAnnexB Format = iota
	// FormatHEIF is an ISO base media file with HEVC image items.
	FormatHEIF
	// FormatWebP is a RIFF WebP file with a VP8 key frame.
	FormatWebP
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatAnnexB:
		return "Annex B"
	case FormatHEIF:
		return "HEIF"
	case FormatWebP:
		return "WebP"
	default:
		return "Unknown"
	}
}

// Config holds the decoding configuration.
type Config struct {
	// Logger receives debug output of the decoding stages. nil discards
	// it.
	Logger *slog.Logger

	// Workers bounds the number of HEIF grid tiles decoded concurrently.
	// 0 means GOMAXPROCS.
	Workers int

	// MaxPictureSamples bounds the luma sample count of a picture.
	// 0 means 1<<28.
	MaxPictureSamples int

	// KeepYCbCr returns 8-bit pictures with chroma as *image.YCbCr
	// instead of converting them to RGB. Pictures with alpha are always
	// converted.
	KeepYCbCr bool
}

func (c *Config) withDefaults() Config {
	var out Config
	if c != nil {
		out = *c
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if out.Workers <= 0 {
		out.Workers = runtime.GOMAXPROCS(0)
	}
	if out.MaxPictureSamples <= 0 {
		out.MaxPictureSamples = 1 << 28
	}
	return out
}

// Metadata contains image metadata read from the headers.
type Metadata struct {
	// Format is the detected file format.
	Format Format

	// Width and Height are the output size after cropping.
	Width  int
	Height int

	// ChromaFormat is chroma_format_idc: 0 for monochrome, 1 for 4:2:0,
	// 2 for 4:2:2 and 3 for 4:4:4.
	ChromaFormat int

	BitDepthLuma   int
	BitDepthChroma int

	// ProfileIDC and LevelIDC are general_profile_idc and
	// general_level_idc. Both are zero for WebP.
	ProfileIDC uint8
	LevelIDC   uint8

	// CtbSize is the coding tree block size in luma samples.
	CtbSize int

	TilesEnabled bool
	WPPEnabled   bool

	// GridRows and GridColumns are the tile layout of a HEIF image grid,
	// zero otherwise.
	GridRows    int
	GridColumns int

	// HasAlpha reports an auxiliary alpha plane.
	HasAlpha bool
}

// ColorModel returns the color model of the image Decode returns without
// KeepYCbCr.
func (m *Metadata) ColorModel() color.Model {
	deep := m.BitDepthLuma > 8 || (m.ChromaFormat != codestream.Chroma400 && m.BitDepthChroma > 8)
	switch {
	case m.ChromaFormat == codestream.Chroma400 && !m.HasAlpha && deep:
		return color.Gray16Model
	case m.ChromaFormat == codestream.Chroma400 && !m.HasAlpha:
		return color.GrayModel
	case m.HasAlpha && deep:
		return color.NRGBA64Model
	case m.HasAlpha:
		return color.NRGBAModel
	case deep:
		return color.RGBA64Model
	default:
		return color.RGBAModel
	}
}

// Decode reads an image from r and returns it as an image.Image.
func Decode(r io.Reader) (image.Image, error) {
	return DecodeConfig(r, nil)
}

// DecodeConfig decodes an image with the specified configuration. A nil
// cfg uses the defaults.
func DecodeConfig(r io.Reader, cfg *Config) (image.Image, error) {
	d, err := newDecoder(r, cfg)
	if err != nil {
		return nil, err
	}
	return d.decode()
}

// DecodeMetadata reads only the header information without decoding the
// image.
func DecodeMetadata(r io.Reader) (*Metadata, error) {
	d, err := newDecoder(r, nil)
	if err != nil {
		return nil, err
	}
	return d.readMetadata()
}

func decodeImageConfig(r io.Reader) (image.Config, error) {
	m, err := DecodeMetadata(r)
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{
		ColorModel: m.ColorModel(),
		Width:      m.Width,
		Height:     m.Height,
	}, nil
}

// init registers the formats with the image package.
func init() {
	for _, brand := range []string{"heic", "heix", "mif1", "msf1"} {
		image.RegisterFormat("heic", "????ftyp"+brand, Decode, decodeImageConfig)
	}
	image.RegisterFormat("hevc", "\x00\x00\x00\x01", Decode, decodeImageConfig)
	image.RegisterFormat("hevc", "\x00\x00\x01", Decode, decodeImageConfig)
	image.RegisterFormat("webp", "RIFF????WEBPVP8", Decode, decodeImageConfig)
}
