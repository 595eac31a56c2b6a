package hevc

import (
	"image"

	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/codestream"
	"github.com/mrjoshuak/go-hevc/internal/mct"
	"github.com/mrjoshuak/go-hevc/internal/picture"
)

// frame is a decoded picture ready for output: sample planes, the
// visible rectangle in luma samples and the colour description.
type frame struct {
	planes     [3]*picture.Plane // Cb and Cr are nil for monochrome
	subW, subH int
	rect       image.Rectangle

	matrix    mct.Matrix
	fullRange bool

	// Optional alpha plane and the position of rect.Min in it
	alpha   *picture.Plane
	alphaAt image.Point
}

func newPlane(w, h, bitDepth int) *picture.Plane {
	return &picture.Plane{Width: w, Height: h, Stride: w, BitDepth: bitDepth, Pix: make([]uint16, w*h)}
}

// newFrame wraps a reconstructed picture, cropped to the conformance
// window of sps.
func newFrame(pic *picture.Picture, sps *codestream.SPS) *frame {
	x0, y0, x1, y1 := sps.CroppedBounds()
	f := &frame{
		planes: pic.Planes,
		subW:   pic.SubWidthC,
		subH:   pic.SubHeightC,
		rect:   image.Rect(x0, y0, x1, y1),
		matrix: mct.BT601,
	}
	if sps.VUIPresent {
		f.matrix = mct.FromVUI(sps.VUI.MatrixCoeffs)
		f.fullRange = sps.VUI.VideoFullRange
	}
	return f
}

// frameFromYCbCr copies an 8-bit image into a frame. VP8 samples use the
// BT.601 matrix with limited range.
func frameFromYCbCr(img *image.YCbCr) *frame {
	r := img.Rect
	w, h := r.Dx(), r.Dy()
	cw, ch := (w+1)/2, (h+1)/2
	f := &frame{subW: 2, subH: 2, rect: image.Rect(0, 0, w, h), matrix: mct.BT601}
	f.planes[0] = newPlane(w, h, 8)
	f.planes[1] = newPlane(cw, ch, 8)
	f.planes[2] = newPlane(cw, ch, 8)
	for y := 0; y < h; y++ {
		src := img.Y[img.YOffset(r.Min.X, r.Min.Y+y):][:w]
		dst := f.planes[0].Row(y)
		for x, v := range src {
			dst[x] = uint16(v)
		}
	}
	for y := 0; y < ch; y++ {
		off := img.COffset(r.Min.X, r.Min.Y+2*y)
		cb, cr := f.planes[1].Row(y), f.planes[2].Row(y)
		for x := 0; x < cw; x++ {
			cb[x] = uint16(img.Cb[off+x])
			cr[x] = uint16(img.Cr[off+x])
		}
	}
	return f
}

// crop shrinks the visible rectangle to at most w x h.
func (f *frame) crop(w, h int) {
	f.rect.Max.X = min(f.rect.Max.X, f.rect.Min.X+w)
	f.rect.Max.Y = min(f.rect.Max.Y, f.rect.Min.Y+h)
}

// setAlpha attaches the luma plane of a as the alpha channel.
func (f *frame) setAlpha(a *frame) error {
	if a.rect.Size() != f.rect.Size() {
		return errors.Wrapf(ErrMalformedBox, "alpha plane of %v for an image of %v", a.rect.Size(), f.rect.Size())
	}
	f.alpha = a.planes[0]
	f.alphaAt = a.rect.Min
	return nil
}

// composeGrid places equally sized tiles in raster order on a canvas and
// crops it to width x height.
func composeGrid(tiles []*frame, columns, rows, width, height int) (*frame, error) {
	t0 := tiles[0]
	tw, th := t0.rect.Dx(), t0.rect.Dy()
	if tw*columns < width || th*rows < height {
		return nil, errors.Wrapf(ErrMalformedBox, "%dx%d tiles of %dx%d do not cover %dx%d", columns, rows, tw, th, width, height)
	}

	out := &frame{
		subW:      t0.subW,
		subH:      t0.subH,
		rect:      image.Rect(0, 0, width, height),
		matrix:    t0.matrix,
		fullRange: t0.fullRange,
	}
	for c, p := range t0.planes {
		if p == nil {
			continue
		}
		sw, sh := t0.scale(c)
		out.planes[c] = newPlane(columns*tw/sw, rows*th/sh, p.BitDepth)
	}

	for i, t := range tiles {
		if t.rect.Size() != t0.rect.Size() || t.subW != t0.subW || t.subH != t0.subH {
			return nil, errors.Wrapf(ErrMalformedBox, "grid tile %d is %v, the first tile %v", i, t.rect.Size(), t0.rect.Size())
		}
		x, y := (i%columns)*tw, (i/columns)*th
		for c, dst := range out.planes {
			src := t.planes[c]
			if dst == nil {
				continue
			}
			if src == nil || src.BitDepth != dst.BitDepth {
				return nil, errors.Wrapf(ErrMalformedBox, "grid tile %d has a different sample format", i)
			}
			sw, sh := t.scale(c)
			for row := 0; row < th/sh; row++ {
				line := src.Row(t.rect.Min.Y/sh + row)[t.rect.Min.X/sw:][:tw/sw]
				copy(dst.Row(y/sh + row)[x/sw:], line)
			}
		}
	}
	return out, nil
}

// scale returns the subsampling factors of plane c.
func (f *frame) scale(c int) (int, int) {
	if c == 0 {
		return 1, 1
	}
	return f.subW, f.subH
}
