// Package picture holds decoded sample planes together with the
// block-indexed metadata that the coding tree, residual and intra
// prediction stages read and write while a picture is decoded.
package picture

import (
	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/codestream"
)

// ErrTooLarge is returned when a picture would exceed the sample limit.
var ErrTooLarge = errors.New("picture: too many samples")

// Plane is one colour component. Samples are stored clipped to the bit
// depth of the component.
type Plane struct {
	Width, Height int
	Stride        int
	BitDepth      int
	Pix           []uint16
}

func newPlane(w, h, bitDepth int) *Plane {
	return &Plane{Width: w, Height: h, Stride: w, BitDepth: bitDepth, Pix: make([]uint16, w*h)}
}

// At returns the sample at (x, y).
func (p *Plane) At(x, y int) int {
	return int(p.Pix[y*p.Stride+x])
}

// Set stores v at (x, y) after clipping it to the bit depth.
func (p *Plane) Set(x, y, v int) {
	p.Pix[y*p.Stride+x] = uint16(Clip(v, p.BitDepth))
}

// Row returns the samples of row y.
func (p *Plane) Row(y int) []uint16 {
	return p.Pix[y*p.Stride : y*p.Stride+p.Width]
}

// Clip clips v to [0, (1<<bitDepth)-1].
func Clip(v, bitDepth int) int {
	if v < 0 {
		return 0
	}
	if m := 1<<bitDepth - 1; v > m {
		return m
	}
	return v
}

// Picture is a picture under reconstruction.
type Picture struct {
	*Geometry

	// ChromaArrayType of the decoding process. Pictures with separate
	// colour planes decode every plane as monochrome.
	ChromaArrayType int
	ChromaFormat    int
	SubWidthC       int
	SubHeightC      int

	// Planes Y, Cb, Cr. Cb and Cr are nil for 4:0:0.
	Planes [3]*Plane

	// Block metadata, one per colour_plane_id
	blocks [3]*Blocks
}

// New allocates a picture for the given parameter sets. maxSamples bounds
// the luma sample count; zero means no limit.
func New(sps *codestream.SPS, pps *codestream.PPS, maxSamples int) (*Picture, error) {
	if maxSamples > 0 && sps.Width*sps.Height > maxSamples {
		return nil, errors.Wrapf(ErrTooLarge, "%dx%d", sps.Width, sps.Height)
	}
	p := &Picture{
		Geometry:        NewGeometry(sps, pps),
		ChromaArrayType: sps.ChromaArrayType,
		ChromaFormat:    sps.ChromaFormatIDC,
		SubWidthC:       sps.SubWidthC,
		SubHeightC:      sps.SubHeightC,
	}
	p.Planes[0] = newPlane(sps.Width, sps.Height, sps.BitDepthY)
	numLayers := 1
	switch {
	case sps.SeparateColourPlane:
		p.Planes[1] = newPlane(sps.Width, sps.Height, sps.BitDepthC)
		p.Planes[2] = newPlane(sps.Width, sps.Height, sps.BitDepthC)
		numLayers = 3
	case sps.ChromaFormatIDC != codestream.Chroma400:
		cw, ch := sps.Width/sps.SubWidthC, sps.Height/sps.SubHeightC
		p.Planes[1] = newPlane(cw, ch, sps.BitDepthC)
		p.Planes[2] = newPlane(cw, ch, sps.BitDepthC)
	}
	for i := 0; i < numLayers; i++ {
		p.blocks[i] = newBlocks(p.Geometry)
	}
	return p, nil
}

// Blocks returns the block metadata of a colour plane. colourPlaneID is
// zero unless the picture has separate colour planes.
func (p *Picture) Blocks(colourPlaneID int) *Blocks {
	return p.blocks[colourPlaneID]
}

// Complete reports whether every CTB of every colour plane was decoded.
func (p *Picture) Complete() bool {
	for _, b := range p.blocks {
		if b != nil && b.decodedCtbs < p.SizeInCtbs {
			return false
		}
	}
	return true
}
