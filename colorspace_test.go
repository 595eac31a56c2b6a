package hevc

import (
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrjoshuak/go-hevc/internal/mct"
	"github.com/mrjoshuak/go-hevc/internal/picture"
)

// filledPlane returns a plane of w x h samples set to v.
func filledPlane(w, h, bitDepth int, v uint16) *picture.Plane {
	p := newPlane(w, h, bitDepth)
	for i := range p.Pix {
		p.Pix[i] = v
	}
	return p
}

// testFrame returns a frame with uniform planes. Chroma planes are omitted
// when subW is zero.
func testFrame(w, h, subW, subH, bitDepth int, y, cb, cr uint16) *frame {
	f := &frame{subW: 1, subH: 1, rect: image.Rect(0, 0, w, h), matrix: mct.BT601}
	f.planes[0] = filledPlane(w, h, bitDepth, y)
	if subW > 0 {
		f.subW, f.subH = subW, subH
		f.planes[1] = filledPlane(w/subW, h/subH, bitDepth, cb)
		f.planes[2] = filledPlane(w/subW, h/subH, bitDepth, cr)
	}
	return f
}

func TestFrameImage_Gray(t *testing.T) {
	tests := []struct {
		name     string
		bitDepth int
		sample   uint16
		want     color.Color
	}{
		{"8-bit", 8, 200, color.Gray{200}},
		{"6-bit max", 6, 63, color.Gray{255}},
		{"10-bit", 10, 1023, color.Gray16{0xffff}},
		{"12-bit mid", 12, 2048, color.Gray16{0x8008}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := testFrame(4, 2, 0, 0, tt.bitDepth, tt.sample, 0, 0).image(false)
			assert.Equal(t, image.Rect(0, 0, 4, 2), img.Bounds())
			assertUniform(t, img, tt.want)
		})
	}
}

func TestFrameImage_RGB(t *testing.T) {
	tests := []struct {
		name string
		f    *frame
		want color.Color
	}{
		{"420 gray", testFrame(4, 4, 2, 2, 8, 16, 128, 128), color.RGBA{0, 0, 0, 255}},
		{"422 white", testFrame(4, 4, 2, 1, 8, 235, 128, 128), color.RGBA{255, 255, 255, 255}},
		{"444 10-bit white", testFrame(2, 2, 1, 1, 10, 940, 512, 512), color.RGBA64{0xffff, 0xffff, 0xffff, 0xffff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertUniform(t, tt.f.image(false), tt.want)
		})
	}

	// GBR stores green, blue and red in the Y, Cb and Cr planes.
	f := testFrame(2, 2, 1, 1, 8, 10, 20, 30)
	f.matrix, f.fullRange = mct.GBR, true
	assertUniform(t, f.image(false), color.RGBA{30, 10, 20, 255})
}

func TestFrameImage_ChromaUpsampling(t *testing.T) {
	f := testFrame(4, 2, 2, 2, 8, 128, 128, 128)
	f.fullRange = true
	f.planes[2].Pix[1] = 200 // Cr of the right half

	img := f.image(false).(*image.RGBA)
	left, right := img.RGBAAt(1, 1), img.RGBAAt(2, 1)
	assert.Equal(t, uint8(128), left.R)
	assert.Greater(t, right.R, uint8(200), "raised Cr reddens columns 2 and 3")
	assert.Equal(t, right, img.RGBAAt(3, 0))
}

func TestFrameImage_YCbCr(t *testing.T) {
	tests := []struct {
		subW, subH int
		ratio      image.YCbCrSubsampleRatio
	}{
		{2, 2, image.YCbCrSubsampleRatio420},
		{2, 1, image.YCbCrSubsampleRatio422},
		{1, 1, image.YCbCrSubsampleRatio444},
	}
	for _, tt := range tests {
		f := testFrame(8, 4, tt.subW, tt.subH, 8, 100, 110, 120)
		f.rect = image.Rect(2, 0, 8, 4)
		img, ok := f.image(true).(*image.YCbCr)
		require.True(t, ok)
		assert.Equal(t, tt.ratio, img.SubsampleRatio)
		assert.Equal(t, image.Rect(0, 0, 6, 4), img.Rect)
		assert.Equal(t, color.YCbCr{100, 110, 120}, img.YCbCrAt(5, 3))
	}

	// Deeper samples are converted.
	assert.IsType(t, &image.RGBA64{}, testFrame(4, 4, 2, 2, 10, 0, 0, 0).image(true))
}

func TestFrameImage_Alpha(t *testing.T) {
	f := testFrame(4, 4, 2, 2, 8, 235, 128, 128)
	a := testFrame(6, 6, 0, 0, 8, 0, 0, 0)
	a.rect = image.Rect(2, 2, 6, 6)
	for y := 2; y < 6; y++ {
		for x := 2; x < 6; x++ {
			a.planes[0].Set(x, y, 64)
		}
	}
	require.NoError(t, f.setAlpha(a))
	img, ok := f.image(true).(*image.NRGBA)
	require.True(t, ok)
	assertUniform(t, img, color.NRGBA{255, 255, 255, 64})

	f = testFrame(2, 2, 1, 1, 10, 940, 512, 512)
	require.NoError(t, f.setAlpha(testFrame(2, 2, 0, 0, 8, 255, 0, 0)))
	assertUniform(t, f.image(false), color.NRGBA64{0xffff, 0xffff, 0xffff, 0xffff})

	err := f.setAlpha(testFrame(4, 2, 0, 0, 8, 255, 0, 0))
	assert.True(t, errors.Is(err, ErrMalformedBox), "got %v", err)
}

func TestFrameFromYCbCr(t *testing.T) {
	src := image.NewYCbCr(image.Rect(0, 0, 16, 16), image.YCbCrSubsampleRatio420)
	for i := range src.Y {
		src.Y[i] = uint8(i)
	}
	for i := range src.Cb {
		src.Cb[i], src.Cr[i] = 90, 240
	}
	f := frameFromYCbCr(src.SubImage(image.Rect(0, 0, 5, 3)).(*image.YCbCr))
	assert.Equal(t, image.Rect(0, 0, 5, 3), f.rect)
	assert.Equal(t, 3, f.planes[1].Width)
	assert.Equal(t, 2, f.planes[1].Height)
	assert.Equal(t, 2*16+4, f.planes[0].At(4, 2))
	assert.Equal(t, 240, f.planes[2].At(2, 1))

	img := f.image(true).(*image.YCbCr)
	assert.Equal(t, src.YCbCrAt(4, 2), img.YCbCrAt(4, 2))
}

func TestComposeGrid(t *testing.T) {
	tiles := make([]*frame, 4)
	for i := range tiles {
		tiles[i] = testFrame(8, 8, 2, 2, 8, uint16(10*i), 128, uint16(100+i))
	}
	f, err := composeGrid(tiles, 2, 2, 14, 12)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 14, 12), f.rect)
	assert.Equal(t, 0, f.planes[0].At(7, 7))
	assert.Equal(t, 10, f.planes[0].At(8, 0))
	assert.Equal(t, 20, f.planes[0].At(0, 8))
	assert.Equal(t, 30, f.planes[0].At(13, 11))
	assert.Equal(t, 103, f.planes[2].At(4, 4))

	img := f.image(true).(*image.YCbCr)
	assert.Equal(t, image.Rect(0, 0, 14, 12), img.Rect)

	_, err = composeGrid(tiles, 2, 2, 17, 12)
	assert.True(t, errors.Is(err, ErrMalformedBox), "tiles do not cover the grid")

	tiles[3] = testFrame(8, 8, 0, 0, 8, 0, 0, 0)
	_, err = composeGrid(tiles, 2, 2, 16, 16)
	assert.True(t, errors.Is(err, ErrMalformedBox), "monochrome tile")

	tiles[3] = testFrame(8, 8, 2, 2, 10, 0, 0, 0)
	_, err = composeGrid(tiles, 2, 2, 16, 16)
	assert.True(t, errors.Is(err, ErrMalformedBox), "bit depth")
}
