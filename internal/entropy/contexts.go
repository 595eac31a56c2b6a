package entropy

// Context indices for the HEVC intra slice syntax elements. Each constant
// is the first context of its syntax element; the element's contexts
// follow contiguously.
const (
	CtxSAOMergeFlag          = 0
	CtxSAOTypeIdx            = CtxSAOMergeFlag + 1
	CtxSplitCUFlag           = CtxSAOTypeIdx + 1
	CtxCUTransquantBypass    = CtxSplitCUFlag + 3
	CtxPartMode              = CtxCUTransquantBypass + 1
	CtxPrevIntraLumaPredFlag = CtxPartMode + 1
	CtxIntraChromaPredMode   = CtxPrevIntraLumaPredFlag + 1
	CtxSplitTransformFlag    = CtxIntraChromaPredMode + 1
	CtxCbfLuma               = CtxSplitTransformFlag + 3
	CtxCbfChroma             = CtxCbfLuma + 2
	CtxTransformSkipFlag     = CtxCbfChroma + 5
	CtxLastSigCoeffXPrefix   = CtxTransformSkipFlag + 2
	CtxLastSigCoeffYPrefix   = CtxLastSigCoeffXPrefix + 18
	CtxCodedSubBlockFlag     = CtxLastSigCoeffYPrefix + 18
	CtxSigCoeffFlag          = CtxCodedSubBlockFlag + 4
	CtxGreater1Flag          = CtxSigCoeffFlag + 44
	CtxGreater2Flag          = CtxGreater1Flag + 24
	CtxCUQPDeltaAbs          = CtxGreater2Flag + 6
	CtxChromaQPOffsetFlag    = CtxCUQPDeltaAbs + 2
	CtxChromaQPOffsetIdx     = CtxChromaQPOffsetFlag + 1
	CtxLog2ResScaleAbs       = CtxChromaQPOffsetIdx + 1
	CtxResScaleSignFlag      = CtxLog2ResScaleAbs + 8

	NumContexts = CtxResScaleSignFlag + 2
)

// Context is the adaptive probability model of one context: a 6-bit
// probability state and the value of the most probable symbol.
type Context struct {
	State uint8
	MPS   uint8
}

// ContextSet holds every context model of a slice segment. It is a value
// type so that snapshots for wavefront and dependent-slice restarts are
// plain copies.
type ContextSet [NumContexts]Context

// initValue tables per syntax element, one row per initType (0 for I
// slices; 1 and 2 are kept so that P/B initialization is representable).
var initTables = []struct {
	first  int
	values [3][]uint8
}{
	{CtxSAOMergeFlag, [3][]uint8{{153}, {153}, {153}}},
	{CtxSAOTypeIdx, [3][]uint8{{200}, {185}, {160}}},
	{CtxSplitCUFlag, [3][]uint8{
		{139, 141, 157},
		{107, 139, 126},
		{107, 139, 126},
	}},
	{CtxCUTransquantBypass, [3][]uint8{{154}, {154}, {154}}},
	{CtxPartMode, [3][]uint8{{184}, {154}, {154}}},
	{CtxPrevIntraLumaPredFlag, [3][]uint8{{184}, {154}, {183}}},
	{CtxIntraChromaPredMode, [3][]uint8{{63}, {152}, {152}}},
	{CtxSplitTransformFlag, [3][]uint8{
		{153, 138, 138},
		{124, 138, 94},
		{224, 167, 122},
	}},
	{CtxCbfLuma, [3][]uint8{
		{111, 141},
		{153, 111},
		{153, 111},
	}},
	{CtxCbfChroma, [3][]uint8{
		{94, 138, 182, 154, 154},
		{149, 107, 167, 154, 154},
		{149, 92, 167, 154, 154},
	}},
	{CtxTransformSkipFlag, [3][]uint8{
		{139, 139},
		{139, 139},
		{139, 139},
	}},
	{CtxLastSigCoeffXPrefix, lastPrefixInit},
	{CtxLastSigCoeffYPrefix, lastPrefixInit},
	{CtxCodedSubBlockFlag, [3][]uint8{
		{91, 171, 134, 141},
		{121, 140, 61, 154},
		{121, 140, 61, 154},
	}},
	{CtxSigCoeffFlag, [3][]uint8{
		{
			111, 111, 125, 110, 110, 94, 124, 108, 124, 107, 125, 141, 179, 153,
			125, 107, 125, 141, 179, 153, 125, 107, 125, 141, 179, 153, 125, 140,
			139, 182, 182, 152, 136, 152, 136, 153, 136, 139, 111, 136, 139, 111,
			141, 111,
		},
		{
			155, 154, 139, 153, 139, 123, 123, 63, 153, 166, 183, 140, 136, 153,
			154, 166, 183, 140, 136, 153, 154, 166, 183, 140, 136, 153, 154, 170,
			153, 123, 123, 107, 121, 107, 121, 167, 151, 183, 140, 151, 183, 140,
			140, 140,
		},
		{
			170, 154, 139, 153, 139, 123, 123, 63, 124, 166, 183, 140, 136, 153,
			154, 166, 183, 140, 136, 153, 154, 166, 183, 140, 136, 153, 154, 170,
			153, 138, 138, 122, 121, 122, 121, 167, 151, 183, 140, 151, 183, 140,
			140, 140,
		},
	}},
	{CtxGreater1Flag, [3][]uint8{
		{
			140, 92, 137, 138, 140, 152, 138, 139, 153, 74, 149, 92,
			139, 107, 122, 152, 140, 179, 166, 182, 140, 227, 122, 197,
		},
		{
			154, 196, 196, 167, 154, 152, 167, 182, 182, 134, 149, 136,
			153, 121, 136, 137, 169, 194, 166, 167, 154, 167, 137, 182,
		},
		{
			154, 196, 167, 167, 154, 152, 167, 182, 182, 134, 149, 136,
			153, 121, 136, 122, 169, 208, 166, 167, 154, 152, 167, 182,
		},
	}},
	{CtxGreater2Flag, [3][]uint8{
		{138, 153, 136, 167, 152, 152},
		{107, 167, 91, 122, 107, 167},
		{107, 167, 91, 107, 107, 167},
	}},
	{CtxCUQPDeltaAbs, [3][]uint8{{154, 154}, {154, 154}, {154, 154}}},
	{CtxChromaQPOffsetFlag, [3][]uint8{{154}, {154}, {154}}},
	{CtxChromaQPOffsetIdx, [3][]uint8{{154}, {154}, {154}}},
	{CtxLog2ResScaleAbs, [3][]uint8{
		{154, 154, 154, 154, 154, 154, 154, 154},
		{154, 154, 154, 154, 154, 154, 154, 154},
		{154, 154, 154, 154, 154, 154, 154, 154},
	}},
	{CtxResScaleSignFlag, [3][]uint8{{154, 154}, {154, 154}, {154, 154}}},
}

var lastPrefixInit = [3][]uint8{
	{110, 110, 124, 125, 140, 153, 125, 127, 140, 109, 111, 143, 127, 111, 79, 108, 123, 63},
	{125, 110, 94, 110, 95, 79, 125, 111, 110, 78, 110, 111, 111, 95, 94, 108, 123, 108},
	{125, 110, 124, 110, 95, 94, 125, 111, 111, 79, 125, 126, 111, 111, 79, 108, 123, 93},
}

// contextInit is initTables flattened to one row of NumContexts per
// initType.
var contextInit [3][NumContexts]uint8

func init() {
	for _, t := range initTables {
		for initType := range t.values {
			copy(contextInit[initType][t.first:], t.values[initType])
		}
	}
}

// InitContext derives the initial state of one context from its 8-bit
// initValue and the slice QP.
func InitContext(initValue uint8, qp int) Context {
	slope := (int(initValue)>>4)*5 - 45
	offset := (int(initValue&15) << 3) - 16
	pre := clip3(1, 126, ((slope*clip3(0, 51, qp))>>4)+offset)
	if pre > 63 {
		return Context{State: uint8(pre - 64), MPS: 1}
	}
	return Context{State: uint8(63 - pre), MPS: 0}
}

// NewContextSet returns every context initialized for initType and qp.
func NewContextSet(initType, qp int) ContextSet {
	var cs ContextSet
	if initType < 0 || initType > 2 {
		initType = 0
	}
	for i := range cs {
		cs[i] = InitContext(contextInit[initType][i], qp)
	}
	return cs
}

func clip3(lo, hi, v int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
