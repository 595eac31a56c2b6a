// Output image creation
//
// Decoded frames are converted to the image types of the standard library:
//
//   - Monochrome without alpha: *image.Gray, or *image.Gray16 above 8 bits
//   - With chroma: *image.RGBA, or *image.RGBA64 above 8 bits
//   - With an alpha plane: *image.NRGBA or *image.NRGBA64
//   - 8-bit 4:2:0, 4:2:2 and 4:4:4 with Config.KeepYCbCr: *image.YCbCr
//
// Chroma is upsampled by sample repetition and converted with the matrix
// signalled in the VUI (BT.601 when absent). Samples deeper than 8 bits
// are scaled to 16 bits by replicating the high bits, so the maximum
// sample value maps to 0xffff.

package hevc

import (
	"image"

	"github.com/mrjoshuak/go-hevc/internal/mct"
)

// image returns f as an image.Image with bounds (0, 0, width, height).
func (f *frame) image(keepYCbCr bool) image.Image {
	if keepYCbCr {
		if img := f.ycbcr(); img != nil {
			return img
		}
	}
	if f.planes[1] == nil && f.alpha == nil {
		return f.gray()
	}
	return f.rgba()
}

// bitDepth returns the largest sample bit depth of the colour planes.
func (f *frame) bitDepth() int {
	bd := 0
	for _, p := range f.planes {
		if p != nil {
			bd = max(bd, p.BitDepth)
		}
	}
	return bd
}

// subsampleRatio maps the chroma subsampling of f to an image.YCbCr ratio.
func (f *frame) subsampleRatio() (image.YCbCrSubsampleRatio, bool) {
	switch {
	case f.subW == 2 && f.subH == 2:
		return image.YCbCrSubsampleRatio420, true
	case f.subW == 2 && f.subH == 1:
		return image.YCbCrSubsampleRatio422, true
	case f.subW == 1 && f.subH == 1:
		return image.YCbCrSubsampleRatio444, true
	}
	return 0, false
}

// ycbcr returns the raw samples of an 8-bit frame with chroma and without
// alpha, or nil.
func (f *frame) ycbcr() *image.YCbCr {
	if f.planes[1] == nil || f.alpha != nil || f.bitDepth() != 8 {
		return nil
	}
	ratio, ok := f.subsampleRatio()
	if !ok {
		return nil
	}
	w, h := f.rect.Dx(), f.rect.Dy()
	img := image.NewYCbCr(image.Rect(0, 0, w, h), ratio)

	for y := 0; y < h; y++ {
		src := f.planes[0].Row(f.rect.Min.Y + y)[f.rect.Min.X:][:w]
		dst := img.Y[y*img.YStride:]
		for x, v := range src {
			dst[x] = uint8(v)
		}
	}

	cw, ch := (w+f.subW-1)/f.subW, (h+f.subH-1)/f.subH
	x0, y0 := f.rect.Min.X/f.subW, f.rect.Min.Y/f.subH
	for y := 0; y < ch; y++ {
		cb := f.planes[1].Row(y0 + y)[x0:][:cw]
		cr := f.planes[2].Row(y0 + y)[x0:][:cw]
		off := y * img.CStride
		for x := range cb {
			img.Cb[off+x] = uint8(cb[x])
			img.Cr[off+x] = uint8(cr[x])
		}
	}
	return img
}

// gray converts a monochrome frame.
func (f *frame) gray() image.Image {
	w, h := f.rect.Dx(), f.rect.Dy()
	p := f.planes[0]
	if p.BitDepth <= 8 {
		img := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			src := p.Row(f.rect.Min.Y + y)[f.rect.Min.X:][:w]
			dst := img.Pix[y*img.Stride:]
			for x, v := range src {
				dst[x] = uint8(mct.Rescale(int32(v), p.BitDepth, 8))
			}
		}
		return img
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := p.Row(f.rect.Min.Y + y)[f.rect.Min.X:][:w]
		dst := img.Pix[y*img.Stride:]
		for x, v := range src {
			s := mct.Rescale(int32(v), p.BitDepth, 16)
			dst[2*x] = uint8(s >> 8)
			dst[2*x+1] = uint8(s)
		}
	}
	return img
}

// rgba converts a frame with chroma or alpha to RGB.
func (f *frame) rgba() image.Image {
	w, h := f.rect.Dx(), f.rect.Dy()
	bd := f.bitDepth()
	outBits := 8
	if bd > 8 {
		outBits = 16
	}

	var pix []uint8
	var stride int
	var img image.Image
	bounds := image.Rect(0, 0, w, h)
	switch {
	case outBits == 8 && f.alpha == nil:
		m := image.NewRGBA(bounds)
		img, pix, stride = m, m.Pix, m.Stride
	case outBits == 8:
		m := image.NewNRGBA(bounds)
		img, pix, stride = m, m.Pix, m.Stride
	case f.alpha == nil:
		m := image.NewRGBA64(bounds)
		img, pix, stride = m, m.Pix, m.Stride
	default:
		m := image.NewNRGBA64(bounds)
		img, pix, stride = m, m.Pix, m.Stride
	}

	conv := mct.Converter{Matrix: f.matrix, BitDepth: bd, FullRange: f.fullRange}
	r, g, b := make([]int32, w), make([]int32, w), make([]int32, w)
	a := make([]int32, w)
	for y := 0; y < h; y++ {
		f.loadRow(y, bd, r, g, b)
		if f.planes[1] != nil {
			conv.Inverse(r, g, b)
		}
		f.loadAlpha(y, outBits, a)

		row := pix[y*stride:]
		for x := 0; x < w; x++ {
			if outBits == 8 {
				px := row[4*x:][:4]
				px[0] = uint8(mct.Rescale(r[x], bd, 8))
				px[1] = uint8(mct.Rescale(g[x], bd, 8))
				px[2] = uint8(mct.Rescale(b[x], bd, 8))
				px[3] = uint8(a[x])
				continue
			}
			px := row[8*x:][:8]
			put16(px[0:], mct.Rescale(r[x], bd, 16))
			put16(px[2:], mct.Rescale(g[x], bd, 16))
			put16(px[4:], mct.Rescale(b[x], bd, 16))
			put16(px[6:], a[x])
		}
	}
	return img
}

// loadRow reads output row y into luma, cb and cr at bit depth bd, repeating
// each chroma sample over its luma samples. Monochrome rows are copied
// into all three slices.
func (f *frame) loadRow(y, bd int, luma, cb, cr []int32) {
	py := f.rect.Min.Y + y
	lp := f.planes[0]
	for x, v := range lp.Row(py)[f.rect.Min.X:][:len(luma)] {
		luma[x] = mct.Rescale(int32(v), lp.BitDepth, bd)
	}
	if f.planes[1] == nil {
		copy(cb, luma)
		copy(cr, luma)
		return
	}
	cbRow := f.planes[1].Row(py / f.subH)
	crRow := f.planes[2].Row(py / f.subH)
	from := f.planes[1].BitDepth
	for x := range cb {
		cx := (f.rect.Min.X + x) / f.subW
		cb[x] = mct.Rescale(int32(cbRow[cx]), from, bd)
		cr[x] = mct.Rescale(int32(crRow[cx]), from, bd)
	}
}

// loadAlpha reads alpha row y scaled to bits, or opaque samples when f has
// no alpha plane.
func (f *frame) loadAlpha(y, bits int, a []int32) {
	if f.alpha == nil {
		for x := range a {
			a[x] = int32(1)<<bits - 1
		}
		return
	}
	src := f.alpha.Row(f.alphaAt.Y + y)[f.alphaAt.X:][:len(a)]
	for x, v := range src {
		a[x] = mct.Rescale(int32(v), f.alpha.BitDepth, bits)
	}
}

func put16(b []uint8, v int32) {
	b[0] = uint8(v >> 8)
	b[1] = uint8(v)
}
