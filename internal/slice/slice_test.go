package slice

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrjoshuak/go-hevc/internal/bio"
	"github.com/mrjoshuak/go-hevc/internal/codestream"
	"github.com/mrjoshuak/go-hevc/internal/entropy"
	"github.com/mrjoshuak/go-hevc/internal/picture"
)

// testSPS is an 8-bit 4:2:0 SPS with 16x16 CTBs, 8x8 minimum coding
// blocks and no transform tree splitting for intra.
func testSPS(width, height int) *codestream.SPS {
	s := &codestream.SPS{
		TemporalIDNesting: true,
		PTL: codestream.ProfileTierLevel{
			General: codestream.LayerPTL{ProfileIDC: codestream.ProfileMain, LevelIDC: 93},
		},
		ChromaFormatIDC:  codestream.Chroma420,
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

type binKind int

const (
	decision binKind = iota
	bypass
	terminate
	// Writer and engine control between bins.
	align    // pad the writer to a byte boundary
	raw      // val as ctx raw bits
	restart  // restart the arithmetic encoder
	initCtx  // reinitialize the context models
	saveCtx  // store the context models
	loadCtx  // restore the stored context models
)

type bin struct {
	kind binKind
	ctx  int
	val  int
}

// substreamBreak ends a substream after end_of_slice_segment_flag 0 and
// starts the next one with freshly initialized contexts.
func substreamBreak() []bin {
	return []bin{{terminate, 0, 0}, {terminate, 0, 1}, {align, 0, 0}, {restart, 0, 0}, {initCtx, 0, 0}}
}

type codedSegment struct {
	sh   *codestream.SliceHeader
	data []byte
}

// buildSlice writes a single-segment IDR slice carrying bins as slice
// data and runs it through the parameter set parser.
func buildSlice(t *testing.T, sps *codestream.SPS, pps *codestream.PPS, sh *codestream.SliceHeader, bins []bin) (*codestream.SliceHeader, []byte, *codestream.SPS, *codestream.PPS) {
	t.Helper()
	segs, activeSPS, activePPS := buildSegments(t, sps, pps, []*codestream.SliceHeader{sh}, [][]bin{bins})
	return segs[0].sh, segs[0].data, activeSPS, activePPS
}

// buildSegments writes one IDR slice segment NAL unit per header. A
// dependent segment continues with the context models the previous
// segment ended with.
func buildSegments(t *testing.T, sps *codestream.SPS, pps *codestream.PPS, headers []*codestream.SliceHeader, bins [][]bin) ([]codedSegment, *codestream.SPS, *codestream.PPS) {
	t.Helper()
	require.Len(t, bins, len(headers))
	p := codestream.NewParser(nil)
	parse := func(typ codestream.NALUnitType, rbsp []byte) *codestream.NALUnit {
		u, err := p.Parse(codestream.AppendNAL(nil, codestream.NALHeader{Type: typ, TemporalIDPlus1: 1}, rbsp))
		require.NoError(t, err)
		return u
	}
	rbsp, err := sps.MarshalRBSP()
	require.NoError(t, err)
	parse(codestream.NALSPS, rbsp)
	rbsp, err = pps.MarshalRBSP()
	require.NoError(t, err)
	parse(codestream.NALPPS, rbsp)

	var (
		segs  []codedSegment
		last  entropy.ContextSet
		saved entropy.ContextSet
	)
	for i, sh := range headers {
		var buf bytes.Buffer
		w := bio.NewWriter(&buf)
		nal := codestream.NALHeader{Type: codestream.NALIDRNLP, TemporalIDPlus1: 1}
		if sh == nil {
			sh = &codestream.SliceHeader{FirstSliceSegmentInPic: true}
		}
		require.NoError(t, codestream.WriteSliceHeader(w, nal, sh, sps, pps))

		qp := pps.InitQP + sh.QPDelta
		enc := entropy.NewCABACEncoder(w)
		if sh.DependentSliceSegment {
			enc.SetContexts(last)
		} else {
			enc.InitContexts(0, qp)
		}
		for _, b := range bins[i] {
			switch b.kind {
			case decision:
				enc.EncodeDecision(b.ctx, b.val)
			case bypass:
				enc.EncodeBypass(b.val)
			case terminate:
				enc.EncodeTerminate(b.val)
			case align:
				require.NoError(t, w.Flush())
			case raw:
				require.NoError(t, w.WriteBits(uint32(b.val), uint(b.ctx)))
			case restart:
				enc.Reset()
			case initCtx:
				enc.InitContexts(0, qp)
			case saveCtx:
				saved = enc.Contexts()
			case loadCtx:
				enc.SetContexts(saved)
			}
		}
		require.NoError(t, w.Flush())
		require.NoError(t, enc.Err())
		last = enc.Contexts()

		u := parse(nal.Type, buf.Bytes())
		require.NotNil(t, u.Slice)
		segs = append(segs, codedSegment{sh: u.Slice, data: u.SliceData})
	}
	activePPS, activeSPS, err := p.Activate(segs[0].sh.PPSID)
	require.NoError(t, err)
	return segs, activeSPS, activePPS
}

// flatCU codes an unsplit 16x16 planar coding unit whose only
// coefficient is a DC level of 2.
func flatCU() []bin {
	return []bin{
		{decision, entropy.CtxSplitCUFlag, 0},
		{decision, entropy.CtxPrevIntraLumaPredFlag, 1},
		{bypass, 0, 0}, // mpm_idx 0
		{decision, entropy.CtxIntraChromaPredMode, 0},
		{decision, entropy.CtxCbfChroma, 0},
		{decision, entropy.CtxCbfChroma, 0},
		{decision, entropy.CtxCbfLuma + 1, 1},
		{decision, entropy.CtxLastSigCoeffXPrefix + 6, 0},
		{decision, entropy.CtxLastSigCoeffYPrefix + 6, 0},
		{decision, entropy.CtxGreater1Flag + 1, 1},
		{decision, entropy.CtxGreater2Flag, 0},
		{bypass, 0, 0}, // sign
	}
}

func assertPlane(t *testing.T, pl *picture.Plane, x0, y0, w, h, want int) {
	t.Helper()
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			if got := pl.At(x, y); got != want {
				t.Fatalf("sample (%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}
}

func TestDecodeSegment_DCResidual(t *testing.T) {
	bins := append(flatCU(), bin{terminate, 0, 1})
	sh, data, sps, pps := buildSlice(t, testSPS(16, 16), &codestream.PPS{InitQP: 26}, nil, bins)
	assert.Equal(t, 26, sh.SliceQPY)

	pic, err := picture.New(sps, pps, 0)
	require.NoError(t, err)
	d := NewDecoder(pic, sps, pps, nil)
	require.NoError(t, d.DecodeSegment(sh, data))

	// Planar from mid-gray plus the inverse transform of a DC level of 2
	// at QP 26.
	assertPlane(t, pic.Planes[0], 0, 0, 16, 16, 130)
	assertPlane(t, pic.Planes[1], 0, 0, 8, 8, 128)
	assertPlane(t, pic.Planes[2], 0, 0, 8, 8, 128)

	blocks := pic.Blocks(0)
	assert.Equal(t, 26, blocks.QpY(0, 0))
	assert.Equal(t, 0, blocks.IntraPredMode(8, 8))
	assert.True(t, pic.Complete())
}

func TestDecodeSegment_TwoCTBs(t *testing.T) {
	bins := append(flatCU(), bin{terminate, 0, 0})
	// Second CTB: the left neighbour is planar and the top is missing,
	// so the candidates are planar, DC and vertical. mpm_idx 2 selects
	// vertical.
	bins = append(bins,
		bin{decision, entropy.CtxSplitCUFlag, 0},
		bin{decision, entropy.CtxPrevIntraLumaPredFlag, 1},
		bin{bypass, 0, 1},
		bin{bypass, 0, 1},
		bin{decision, entropy.CtxIntraChromaPredMode, 0},
		bin{decision, entropy.CtxCbfChroma, 0},
		bin{decision, entropy.CtxCbfChroma, 0},
		bin{decision, entropy.CtxCbfLuma + 1, 0},
		bin{terminate, 0, 1},
	)
	sh, data, sps, pps := buildSlice(t, testSPS(32, 16), &codestream.PPS{InitQP: 26}, nil, bins)

	pic, err := picture.New(sps, pps, 0)
	require.NoError(t, err)
	d := NewDecoder(pic, sps, pps, nil)
	require.NoError(t, d.DecodeSegment(sh, data))

	assertPlane(t, pic.Planes[0], 0, 0, 32, 16, 130)
	assertPlane(t, pic.Planes[1], 0, 0, 16, 8, 128)
	assert.Equal(t, 26, pic.Blocks(0).IntraPredMode(16, 0))
	assert.Equal(t, 26, pic.Blocks(0).IntraPredModeC(16, 0))
}

func TestDecodeSegment_SAO(t *testing.T) {
	bins := []bin{
		{decision, entropy.CtxSAOTypeIdx, 1},
		{bypass, 0, 0}, // band offset
		{bypass, 0, 1}, {bypass, 0, 0}, // 1
		{bypass, 0, 0}, // 0
		{bypass, 0, 1}, {bypass, 0, 1}, {bypass, 0, 0}, // 2
		{bypass, 0, 0}, // 0
		{bypass, 0, 1}, // negative first offset
		{bypass, 0, 0}, // positive third offset
		{bypass, 0, 0}, {bypass, 0, 1}, {bypass, 0, 0}, {bypass, 0, 1}, {bypass, 0, 0},
	}
	bins = append(bins, flatCU()...)
	bins = append(bins, bin{terminate, 0, 1})
	sps := testSPS(16, 16)
	sps.SAOEnabled = true
	in := &codestream.SliceHeader{FirstSliceSegmentInPic: true, SAOLuma: true}
	sh, data, sps, pps := buildSlice(t, sps, &codestream.PPS{InitQP: 26}, in, bins)
	require.True(t, sh.SAOLuma)

	pic, err := picture.New(sps, pps, 0)
	require.NoError(t, err)
	d := NewDecoder(pic, sps, pps, nil)
	require.NoError(t, d.DecodeSegment(sh, data))

	p := d.SAO[0][0]
	assert.Equal(t, uint8(SAOBand), p.TypeIdx[0])
	assert.Equal(t, uint8(SAONone), p.TypeIdx[1])
	assert.Equal(t, uint8(10), p.BandPosition[0])
	assert.Equal(t, [4]int16{-1, 0, 2, 0}, p.Offsets[0])
	assertPlane(t, pic.Planes[0], 0, 0, 16, 16, 130)
}

func TestDecodeSegment_MissingEnd(t *testing.T) {
	bins := append(flatCU(), bin{terminate, 0, 0}, bin{terminate, 0, 1})
	sh, data, sps, pps := buildSlice(t, testSPS(16, 16), &codestream.PPS{InitQP: 26}, nil, bins)
	pic, err := picture.New(sps, pps, 0)
	require.NoError(t, err)
	err = NewDecoder(pic, sps, pps, nil).DecodeSegment(sh, data)
	assert.True(t, errors.Is(err, ErrCorruptData), "got %v", err)
}

func TestDecodeSegment_Rejects(t *testing.T) {
	sps := testSPS(16, 16)
	pps := &codestream.PPS{InitQP: 26, DependentSliceSegmentsEnabled: true}
	pic, err := picture.New(sps, pps, 0)
	require.NoError(t, err)
	d := NewDecoder(pic, sps, pps, nil)

	err = d.DecodeSegment(&codestream.SliceHeader{Type: codestream.SliceP}, nil)
	assert.True(t, errors.Is(err, ErrUnsupportedSyntax))

	err = d.DecodeSegment(&codestream.SliceHeader{Type: codestream.SliceI, SegmentAddress: 5}, nil)
	assert.True(t, errors.Is(err, ErrCorruptData))

	err = d.DecodeSegment(&codestream.SliceHeader{Type: codestream.SliceI, DependentSliceSegment: true}, nil)
	assert.True(t, errors.Is(err, ErrCorruptData))
}

// coverage records the coding units produced by codingQuadtree.
type coverage struct {
	rng   *rand.Rand
	b     bounds
	hits  []int
	nodes int
}

func (c *coverage) splitFlag(x0, y0, depth int) bool { return c.rng.Intn(2) == 0 }

func (c *coverage) node(x0, y0, log2Size int) { c.nodes++ }

func (c *coverage) codingUnit(x0, y0, log2Size, depth int) error {
	n := 1 << log2Size
	if x0+n > c.b.width || y0+n > c.b.height {
		return errors.Errorf("coding unit at (%d,%d) size %d crosses the picture", x0, y0, n)
	}
	for y := y0; y < y0+n; y++ {
		for x := x0; x < x0+n; x++ {
			c.hits[y*c.b.width+x]++
		}
	}
	return nil
}

func TestCodingQuadtree_Coverage(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
	}{
		{"aligned", 64, 64},
		{"partial CTB", 40, 24},
		{"min CB strip", 72, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bounds{width: tt.width, height: tt.height, log2MinCb: 3}
			c := &coverage{rng: rand.New(rand.NewSource(1)), b: b, hits: make([]int, tt.width*tt.height)}
			for y := 0; y < tt.height; y += 64 {
				for x := 0; x < tt.width; x += 64 {
					require.NoError(t, codingQuadtree(c, b, x, y, 6, 0))
				}
			}
			for i, h := range c.hits {
				if h != 1 {
					t.Fatalf("sample (%d,%d) covered %d times", i%tt.width, i/tt.width, h)
				}
			}
			assert.Positive(t, c.nodes)
		})
	}
}

func TestChromaQP(t *testing.T) {
	tests := []struct {
		qPi, cat, want int
	}{
		{20, 1, 20},
		{29, 1, 29},
		{30, 1, 29},
		{35, 1, 33},
		{42, 1, 37},
		{43, 1, 37},
		{57, 1, 51},
		{70, 1, 51},
		{40, 3, 40},
		{55, 2, 51},
		{-20, 1, -12},
	}
	for _, tt := range tests {
		if got := chromaQP(tt.qPi, tt.cat, 12); got != tt.want {
			t.Errorf("chromaQP(%d, %d) = %d, want %d", tt.qPi, tt.cat, got, tt.want)
		}
	}
}

func TestUpdateQpY(t *testing.T) {
	s := &segment{Decoder: &Decoder{sps: &codestream.SPS{QpBdOffsetY: 12}}}
	tests := []struct {
		pred, delta, want int
	}{
		{26, 0, 26},
		{26, 5, 31},
		{50, 5, -9},
		{-10, -5, 49},
	}
	for _, tt := range tests {
		s.qpYPred, s.cuQpDeltaVal = tt.pred, tt.delta
		s.updateQpY()
		assert.Equal(t, tt.want, s.qpY, "pred %d delta %d", tt.pred, tt.delta)
	}
}

func TestChromaCbf(t *testing.T) {
	var c chromaCbf
	c.set(1, 0, true)
	c.set(2, 1, true)
	c.set(2, 0, false)
	assert.True(t, c.has(1, 0))
	assert.False(t, c.has(1, 1))
	assert.False(t, c.has(2, 0))
	assert.True(t, c.has(2, 1))
}

func TestSigCtx(t *testing.T) {
	tests := []struct {
		name                              string
		cIdx, log2, xC, yC, prev, scanIdx int
		ts                                bool
		want                              int
	}{
		{"4x4 map", 0, 2, 3, 1, 0, 0, false, 5},
		{"4x4 chroma", 1, 2, 1, 0, 0, 0, false, 28},
		{"DC", 0, 4, 0, 0, 3, 0, false, 0},
		{"8x8 diagonal", 0, 3, 1, 0, 0, 0, false, 10},
		{"8x8 horizontal", 0, 3, 1, 0, 0, 1, false, 16},
		{"16x16 other sub-block", 0, 4, 4, 0, 0, 0, false, 26},
		{"right coded", 0, 4, 5, 1, 1, 0, false, 25},
		{"both coded", 1, 4, 6, 7, 3, 0, false, 41},
		{"transform skip context", 0, 3, 5, 5, 0, 0, true, 42},
		{"transform skip chroma", 2, 3, 5, 5, 0, 0, true, 43},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sigCtx(tt.cIdx, tt.log2, tt.xC, tt.yC, tt.prev, tt.scanIdx, tt.ts)
			assert.Equal(t, tt.want, got)
		})
	}
}

func bypassSegment(t *testing.T, bits []int) *segment {
	t.Helper()
	var buf bytes.Buffer
	w := bio.NewWriter(&buf)
	enc := entropy.NewCABACEncoder(w)
	enc.InitContexts(0, 26)
	for _, b := range bits {
		enc.EncodeBypass(b)
	}
	enc.EncodeTerminate(1)
	require.NoError(t, w.Flush())
	dec := entropy.NewCABACDecoder(buf.Bytes())
	dec.InitContexts(0, 26)
	return &segment{cabac: dec}
}

func TestCoeffAbsLevelRemaining(t *testing.T) {
	tests := []struct {
		name string
		bits []int
		rice int
		want int
	}{
		{"prefix only", []int{1, 1, 0}, 0, 2},
		{"zero", []int{0}, 0, 0},
		{"rice suffix", []int{1, 0, 1}, 1, 3},
		{"escape", []int{1, 1, 1, 1, 0, 1}, 0, 5},
		{"escape with rice", []int{1, 1, 1, 1, 1, 0, 0, 0, 1, 1}, 2, 27},
		{"rice above four", []int{0, 1, 0, 1, 0, 1}, 5, 21},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := bypassSegment(t, tt.bits)
			got, err := s.coeffAbsLevelRemaining(tt.rice, false, 15)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoeffAbsLevelRemaining_TooLong(t *testing.T) {
	bits := make([]int, 32)
	for i := range bits {
		bits[i] = 1
	}
	s := bypassSegment(t, bits)
	_, err := s.coeffAbsLevelRemaining(4, false, 15)
	assert.True(t, errors.Is(err, ErrCorruptData))
}

func TestNextRice(t *testing.T) {
	tests := []struct {
		rice, abs  int
		persistent bool
		want       int
	}{
		{0, 3, false, 0},
		{0, 4, false, 1},
		{2, 12, false, 2},
		{2, 13, false, 3},
		{4, 100, false, 4},
		{4, 100, true, 5},
		{5, 96, true, 5},
		{5, 97, true, 6},
	}
	for _, tt := range tests {
		if got := nextRice(tt.rice, tt.abs, tt.persistent); got != tt.want {
			t.Errorf("nextRice(%d, %d, %v) = %d, want %d", tt.rice, tt.abs, tt.persistent, got, tt.want)
		}
	}
}

func TestLastSigSuffix(t *testing.T) {
	s := bypassSegment(t, []int{1, 0, 1})
	assert.Equal(t, 3, s.lastSigSuffix(3))
	assert.Equal(t, 7, s.lastSigSuffix(5)) // k = 1, suffix 1
	assert.Equal(t, 9, s.lastSigSuffix(6)) // k = 2, suffix 01
}
