package hevc

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrjoshuak/go-hevc/internal/bio"
	"github.com/mrjoshuak/go-hevc/internal/box"
	"github.com/mrjoshuak/go-hevc/internal/codestream"
	"github.com/mrjoshuak/go-hevc/internal/entropy"
)

// testSPS returns an 8-bit Main profile SPS with 16x16 CTBs.
func testSPS(width, height, chromaFormat int) *codestream.SPS {
	s := &codestream.SPS{
		TemporalIDNesting: true,
		PTL: codestream.ProfileTierLevel{
			General: codestream.LayerPTL{ProfileIDC: codestream.ProfileMain, LevelIDC: 93},
		},
		ChromaFormatIDC:  chromaFormat,
		Width:            width,
		Height:           height,
		BitDepthY:        8,
		BitDepthC:        8,
		Log2MaxPOCLsb:    8,
		SubLayerOrdering: []codestream.SubLayerOrdering{{MaxDecPicBufferingMinus1: 1}},
		Log2MinCbSize:    3,
		Log2CtbSize:      4,
		Log2MinTbSize:    2,
		Log2MaxTbSize:    4,
	}
	s.CalculateDerivedValues()
	return s
}

// testStream codes every CTB as its own slice holding an unsplit planar
// coding unit with a luma DC level of 2. Each CTB decodes to luma 130 and
// chroma 128.
type testStream struct {
	sps *codestream.SPS
	pps *codestream.PPS
}

func newTestStream(width, height, chromaFormat int) *testStream {
	return &testStream{sps: testSPS(width, height, chromaFormat), pps: &codestream.PPS{InitQP: 26}}
}

// parameterSets returns the SPS and PPS NAL units.
func (s *testStream) parameterSets(t testing.TB) [][]byte {
	t.Helper()
	sps, err := s.sps.MarshalRBSP()
	require.NoError(t, err)
	pps, err := s.pps.MarshalRBSP()
	require.NoError(t, err)
	return [][]byte{
		codestream.AppendNAL(nil, codestream.NALHeader{Type: codestream.NALSPS, TemporalIDPlus1: 1}, sps),
		codestream.AppendNAL(nil, codestream.NALHeader{Type: codestream.NALPPS, TemporalIDPlus1: 1}, pps),
	}
}

// slices returns one IDR slice NAL unit per CTB.
func (s *testStream) slices(t testing.TB) [][]byte {
	t.Helper()
	var nals [][]byte
	for addr := 0; addr < s.sps.PicSizeInCtbs; addr++ {
		var buf bytes.Buffer
		w := bio.NewWriter(&buf)
		nal := codestream.NALHeader{Type: codestream.NALIDRNLP, TemporalIDPlus1: 1}
		sh := &codestream.SliceHeader{FirstSliceSegmentInPic: addr == 0, SegmentAddress: addr}
		require.NoError(t, codestream.WriteSliceHeader(w, nal, sh, s.sps, s.pps))

		enc := entropy.NewCABACEncoder(w)
		enc.InitContexts(0, s.pps.InitQP)
		enc.EncodeDecision(entropy.CtxSplitCUFlag, 0)
		enc.EncodeDecision(entropy.CtxPrevIntraLumaPredFlag, 1)
		enc.EncodeBypass(0) // mpm_idx 0: planar
		if s.sps.ChromaFormatIDC != codestream.Chroma400 {
			enc.EncodeDecision(entropy.CtxIntraChromaPredMode, 0)
			enc.EncodeDecision(entropy.CtxCbfChroma, 0)
			enc.EncodeDecision(entropy.CtxCbfChroma, 0)
		}
		enc.EncodeDecision(entropy.CtxCbfLuma+1, 1)
		enc.EncodeDecision(entropy.CtxLastSigCoeffXPrefix+6, 0)
		enc.EncodeDecision(entropy.CtxLastSigCoeffYPrefix+6, 0)
		enc.EncodeDecision(entropy.CtxGreater1Flag+1, 1)
		enc.EncodeDecision(entropy.CtxGreater2Flag, 0)
		enc.EncodeBypass(0) // sign
		enc.EncodeTerminate(1)
		require.NoError(t, w.Flush())
		require.NoError(t, enc.Err())

		nals = append(nals, codestream.AppendNAL(nil, nal, buf.Bytes()))
	}
	return nals
}

func annexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func (s *testStream) annexB(t testing.TB) []byte {
	return annexB(append(s.parameterSets(t), s.slices(t)...)...)
}

// hvcC returns a decoder configuration record with 4-byte NAL unit
// lengths carrying the parameter sets of s.
func (s *testStream) hvcC(t testing.TB) []byte {
	rec := []byte{
		1, 0x01, 0x60, 0, 0, 0, 0x90, 0, 0, 0, 0, 0, 93,
		0xF0, 0x00, 0xFC,
		0xFC | byte(s.sps.ChromaFormatIDC), 0xF8, 0xF8,
		0, 0, 0x0F,
	}
	nals := s.parameterSets(t)
	rec = append(rec, byte(len(nals)))
	for _, n := range nals {
		rec = append(rec, 0x80|n[0]>>1, 0, 1, byte(len(n)>>8), byte(len(n)))
		rec = append(rec, n...)
	}
	return rec
}

// itemData returns the slices of s with 4-byte length prefixes.
func (s *testStream) itemData(t testing.TB) []byte {
	var out []byte
	for _, n := range s.slices(t) {
		out = binary.BigEndian.AppendUint32(out, uint32(len(n)))
		out = append(out, n...)
	}
	return out
}

// heifFile returns a HEIF file whose primary item is a single coded image
// with an optional monochrome alpha plane.
func heifFile(t testing.TB, width, height uint32, withAlpha bool) []byte {
	s := newTestStream(16, 16, codestream.Chroma420)
	b := &box.Builder{Primary: 1}
	hvcC := b.AddProperty(box.New(box.TypeHEVCConfig, s.hvcC(t)))
	ispe := b.AddProperty(box.SpatialExtentProperty(width, height))
	b.AddItem(1, box.TypeHVC1, s.itemData(t), false, false, hvcC, ispe)
	if withAlpha {
		a := newTestStream(16, 16, codestream.Chroma400)
		aHvcC := b.AddProperty(box.New(box.TypeHEVCConfig, a.hvcC(t)))
		aux := b.AddProperty(box.AuxTypeProperty("urn:mpeg:mpegB:cicp:systems:auxiliary:alpha"))
		b.AddItem(2, box.TypeHVC1, a.itemData(t), true, false, aHvcC, ispe, aux)
		b.AddReference(box.TypeAuxiliary, 2, 1)
	}
	return b.Bytes()
}

// heifGrid returns a HEIF file with a 2x2 grid of 16x16 tiles cropped to
// width x height.
func heifGrid(t testing.TB, width, height uint16) []byte {
	s := newTestStream(16, 16, codestream.Chroma420)
	b := &box.Builder{Primary: 10}
	hvcC := b.AddProperty(box.New(box.TypeHEVCConfig, s.hvcC(t)))
	ispe := b.AddProperty(box.SpatialExtentProperty(16, 16))
	data := s.itemData(t)
	for id := uint32(1); id <= 4; id++ {
		b.AddItem(id, box.TypeHVC1, data, true, false, hvcC, ispe)
	}
	b.AddItem(10, box.TypeGrid, box.GridPayload(2, 2, width, height), false, true)
	b.AddReference(box.TypeDerivedImage, 10, 1, 2, 3, 4)
	return b.Bytes()
}

// webpFrame is a 24x20 VP8 key frame whose four macroblocks are skipped
// with DC prediction, so every sample is 128.
var webpFrame = []byte{
	0x70, 0x01, 0x00, 0x9d, 0x01, 0x2a, 0x18, 0x00, 0x14, 0x00, 0x00, 0x00,
	0x14, 0x00, 0x00, 0x2b, 0x16, 0x2b, 0x7d, 0x34, 0x00, 0x00, 0x00, 0x00, 0x00,
}

func riffChunk(fourcc string, payload []byte) []byte {
	b := append([]byte(fourcc), 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(b[4:], uint32(len(payload)))
	b = append(b, payload...)
	if len(payload)&1 == 1 {
		b = append(b, 0)
	}
	return b
}

func webpFile(fourcc string, frame []byte) []byte {
	b := append([]byte("RIFF\x00\x00\x00\x00WEBP"), riffChunk(fourcc, frame)...)
	binary.LittleEndian.PutUint32(b[4:], uint32(len(b)-8))
	return b
}

// assertUniform checks that every pixel of img equals want.
func assertUniform(t *testing.T, img image.Image, want color.Color) {
	t.Helper()
	wr, wg, wb, wa := want.RGBA()
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			if r != wr || g != wg || bl != wb || a != wa {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, img.At(x, y), want)
			}
		}
	}
}

func TestFormat_String(t *testing.T) {
	tests := []struct {
		format Format
		want   string
	}{
		{FormatAnnexB, "Annex B"},
		{FormatHEIF, "HEIF"},
		{FormatWebP, "WebP"},
		{Format(99), "Unknown"},
	}

	for _, tt := range tests {
		got := tt.format.String()
		if got != tt.want {
			t.Errorf("Format(%d).String() = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestDecode_AnnexB(t *testing.T) {
	data := newTestStream(16, 16, codestream.Chroma420).annexB(t)

	img, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	rgba, ok := img.(*image.RGBA)
	require.True(t, ok, "got %T", img)
	assert.Equal(t, image.Rect(0, 0, 16, 16), rgba.Bounds())
	// Limited range luma 130 expands to 133.
	assertUniform(t, rgba, color.RGBA{133, 133, 133, 255})

	img, err = DecodeConfig(bytes.NewReader(data), &Config{KeepYCbCr: true})
	require.NoError(t, err)
	ycc, ok := img.(*image.YCbCr)
	require.True(t, ok, "got %T", img)
	assert.Equal(t, image.YCbCrSubsampleRatio420, ycc.SubsampleRatio)
	for i, v := range ycc.Y {
		if v != 130 {
			t.Fatalf("Y[%d] = %d, want 130", i, v)
		}
	}
	for i := range ycc.Cb {
		if ycc.Cb[i] != 128 || ycc.Cr[i] != 128 {
			t.Fatalf("chroma[%d] = %d,%d, want 128", i, ycc.Cb[i], ycc.Cr[i])
		}
	}
}

func TestDecode_Slices(t *testing.T) {
	s := newTestStream(32, 16, codestream.Chroma420)
	ps, slices := s.parameterSets(t), s.slices(t)
	require.Len(t, slices, 2)

	img, err := Decode(bytes.NewReader(annexB(ps[0], ps[1], slices[0], slices[1])))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())
	assertUniform(t, img, color.RGBA{133, 133, 133, 255})

	_, err = Decode(bytes.NewReader(annexB(ps[0], ps[1], slices[0])))
	assert.True(t, errors.Is(err, ErrCorruptData), "missing slice: got %v", err)

	_, err = Decode(bytes.NewReader(annexB(ps[0], ps[1], slices[1])))
	assert.True(t, errors.Is(err, ErrNoPicture), "no first slice: got %v", err)

	// NAL units after the completed picture are not parsed.
	img, err = Decode(bytes.NewReader(annexB(ps[0], ps[1], slices[0], slices[1], []byte{0x42})))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestDecode_Monochrome(t *testing.T) {
	data := newTestStream(16, 16, codestream.Chroma400).annexB(t)

	img, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	gray, ok := img.(*image.Gray)
	require.True(t, ok, "got %T", img)
	assertUniform(t, gray, color.Gray{130})

	// Monochrome pictures are never returned as YCbCr.
	img, err = DecodeConfig(bytes.NewReader(data), &Config{KeepYCbCr: true})
	require.NoError(t, err)
	assert.IsType(t, &image.Gray{}, img)
}

func TestDecode_ConformanceWindow(t *testing.T) {
	s := newTestStream(16, 16, codestream.Chroma420)
	s.sps.ConformanceWindow = codestream.Window{Left: 1, Right: 1, Bottom: 2}

	img, err := Decode(bytes.NewReader(s.annexB(t)))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 12, 12), img.Bounds())

	m, err := DecodeMetadata(bytes.NewReader(s.annexB(t)))
	require.NoError(t, err)
	assert.Equal(t, 12, m.Width)
	assert.Equal(t, 12, m.Height)
}

func TestDecode_MaxPictureSamples(t *testing.T) {
	data := newTestStream(32, 16, codestream.Chroma420).annexB(t)
	_, err := DecodeConfig(bytes.NewReader(data), &Config{MaxPictureSamples: 256})
	assert.True(t, errors.Is(err, ErrTooLarge), "got %v", err)

	_, err = DecodeConfig(bytes.NewReader(webpFile("VP8 ", webpFrame)), &Config{MaxPictureSamples: 256})
	assert.True(t, errors.Is(err, ErrTooLarge), "got %v", err)
}

func TestDecode_HEIF(t *testing.T) {
	img, err := Decode(bytes.NewReader(heifFile(t, 12, 10, false)))
	require.NoError(t, err)
	assert.IsType(t, &image.RGBA{}, img)
	assert.Equal(t, image.Rect(0, 0, 12, 10), img.Bounds())
	assertUniform(t, img, color.RGBA{133, 133, 133, 255})
}

func TestDecode_HEIFAlpha(t *testing.T) {
	img, err := Decode(bytes.NewReader(heifFile(t, 16, 16, true)))
	require.NoError(t, err)
	nrgba, ok := img.(*image.NRGBA)
	require.True(t, ok, "got %T", img)
	assertUniform(t, nrgba, color.NRGBA{133, 133, 133, 130})

	img, err = Decode(bytes.NewReader(heifFile(t, 12, 10, true)))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 12, 10), img.Bounds())
	assertUniform(t, img, color.NRGBA{133, 133, 133, 130})

	// Alpha forces RGB output.
	img, err = DecodeConfig(bytes.NewReader(heifFile(t, 16, 16, true)), &Config{KeepYCbCr: true})
	require.NoError(t, err)
	assert.IsType(t, &image.NRGBA{}, img)
}

func TestDecode_HEIFGrid(t *testing.T) {
	for _, workers := range []int{1, 4} {
		img, err := DecodeConfig(bytes.NewReader(heifGrid(t, 30, 20)), &Config{Workers: workers})
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 30, 20), img.Bounds())
		assertUniform(t, img, color.RGBA{133, 133, 133, 255})
	}

	_, err := Decode(bytes.NewReader(heifGrid(t, 40, 20)))
	assert.True(t, errors.Is(err, ErrMalformedBox), "grid larger than its tiles: got %v", err)
}

func TestDecode_WebP(t *testing.T) {
	data := webpFile("VP8 ", webpFrame)

	img, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 24, 20), img.Bounds())
	// Limited range luma 128 expands to 130.
	assertUniform(t, img, color.RGBA{130, 130, 130, 255})

	img, err = DecodeConfig(bytes.NewReader(data), &Config{KeepYCbCr: true})
	require.NoError(t, err)
	ycc, ok := img.(*image.YCbCr)
	require.True(t, ok, "got %T", img)
	assert.Equal(t, uint8(128), ycc.YCbCrAt(23, 19).Y)
	assert.Equal(t, uint8(128), ycc.YCbCrAt(23, 19).Cb)
}

func TestDecode_Errors(t *testing.T) {
	noHvcC := &box.Builder{Primary: 1}
	noHvcC.AddItem(1, box.TypeHVC1, []byte{0, 0, 0, 1, 0}, false, false)

	exif := &box.Builder{Primary: 1}
	exif.AddItem(1, box.TypeExif, []byte("exif"), false, false)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrUnsupportedFormat},
		{"unknown", []byte("GIF89a"), ErrUnsupportedFormat},
		{"no slices", annexB(newTestStream(16, 16, codestream.Chroma420).parameterSets(t)...), ErrNoPicture},
		{"lossless webp", webpFile("VP8L", []byte{0x2f, 0, 0, 0, 0}), ErrLossless},
		{"no hvcC", noHvcC.Bytes(), ErrMalformedBox},
		{"primary not an image", exif.Bytes(), ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(tt.data))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestDecodeMetadata(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Metadata
	}{
		{
			name: "annex b",
			data: newTestStream(32, 16, codestream.Chroma420).annexB(t),
			want: Metadata{Format: FormatAnnexB, Width: 32, Height: 16, ChromaFormat: 1,
				BitDepthLuma: 8, BitDepthChroma: 8, ProfileIDC: 1, LevelIDC: 93, CtbSize: 16},
		},
		{
			name: "heif alpha",
			data: heifFile(t, 12, 10, true),
			want: Metadata{Format: FormatHEIF, Width: 12, Height: 10, ChromaFormat: 1,
				BitDepthLuma: 8, BitDepthChroma: 8, ProfileIDC: 1, LevelIDC: 93, CtbSize: 16, HasAlpha: true},
		},
		{
			name: "heif grid",
			data: heifGrid(t, 30, 20),
			want: Metadata{Format: FormatHEIF, Width: 30, Height: 20, ChromaFormat: 1,
				BitDepthLuma: 8, BitDepthChroma: 8, ProfileIDC: 1, LevelIDC: 93, CtbSize: 16,
				GridRows:     2, GridColumns: 2},
		},
		{
			name: "webp",
			data: webpFile("VP8 ", webpFrame),
			want: Metadata{Format: FormatWebP, Width: 24, Height: 20, ChromaFormat: 1,
				BitDepthLuma: 8, BitDepthChroma: 8, CtbSize: 16},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := DecodeMetadata(bytes.NewReader(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, *m)
		})
	}

	_, err := DecodeMetadata(bytes.NewReader([]byte{0, 0, 1, 0x46, 0x01, 0x50}))
	assert.True(t, errors.Is(err, ErrNoPicture), "no SPS: got %v", err)
}

func TestMetadata_ColorModel(t *testing.T) {
	tests := []struct {
		m    Metadata
		want color.Model
	}{
		{Metadata{ChromaFormat: 0, BitDepthLuma: 8}, color.GrayModel},
		{Metadata{ChromaFormat: 0, BitDepthLuma: 10}, color.Gray16Model},
		{Metadata{ChromaFormat: 0, BitDepthLuma: 8, BitDepthChroma: 12}, color.GrayModel},
		{Metadata{ChromaFormat: 1, BitDepthLuma: 8, BitDepthChroma: 8}, color.RGBAModel},
		{Metadata{ChromaFormat: 1, BitDepthLuma: 8, BitDepthChroma: 10}, color.RGBA64Model},
		{Metadata{ChromaFormat: 0, BitDepthLuma: 8, HasAlpha: true}, color.NRGBAModel},
		{Metadata{ChromaFormat: 3, BitDepthLuma: 12, BitDepthChroma: 12, HasAlpha: true}, color.NRGBA64Model},
	}
	for _, tt := range tests {
		if got := tt.m.ColorModel(); got != tt.want {
			t.Errorf("ColorModel(%+v) = %v, want %v", tt.m, got, tt.want)
		}
	}
}

func TestImageDecode_Registration(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		size image.Point
	}{
		{"hevc", newTestStream(16, 16, codestream.Chroma420).annexB(t), image.Pt(16, 16)},
		{"heic", heifFile(t, 12, 10, false), image.Pt(12, 10)},
		{"webp", webpFile("VP8 ", webpFrame), image.Pt(24, 20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, format, err := image.Decode(bytes.NewReader(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.name, format)
			assert.Equal(t, tt.size, img.Bounds().Size())

			cfg, format, err := image.DecodeConfig(bytes.NewReader(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.name, format)
			assert.Equal(t, tt.size, image.Pt(cfg.Width, cfg.Height))
			assert.Equal(t, color.RGBAModel, cfg.ColorModel)
		})
	}
}

func BenchmarkDecode_AnnexB(b *testing.B) {
	data := newTestStream(64, 64, codestream.Chroma420).annexB(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(bytes.NewReader(data)); err != nil {
			b.Fatal(err)
		}
	}
}
