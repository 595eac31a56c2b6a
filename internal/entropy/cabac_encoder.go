package entropy

import "github.com/mrjoshuak/go-hevc/internal/bio"

// CABACEncoder implements the HEVC arithmetic encoding engine
// (ITU-T H.265 clause 9.3.5). It mirrors CABACDecoder bin for bin and is
// used to build slice data for tests and tools.
type CABACEncoder struct {
	w *bio.Writer

	low             uint32
	rng             uint32
	firstBitFlag    bool
	bitsOutstanding int

	contexts ContextSet
	err      error
}

// NewCABACEncoder creates an encoder writing bits to w.
func NewCABACEncoder(w *bio.Writer) *CABACEncoder {
	e := &CABACEncoder{w: w}
	e.Reset()
	return e
}

// Reset restarts the arithmetic encoder, keeping the context models. It is
// used at the start of each substream and after PCM samples.
func (e *CABACEncoder) Reset() {
	e.low = 0
	e.rng = 510
	e.firstBitFlag = true
	e.bitsOutstanding = 0
}

// InitContexts initializes every context for the given initType and
// slice QP.
func (e *CABACEncoder) InitContexts(initType, qp int) {
	e.contexts = NewContextSet(initType, qp)
}

// Contexts returns a copy of the current context models.
func (e *CABACEncoder) Contexts() ContextSet {
	return e.contexts
}

// SetContexts replaces the context models with a saved copy.
func (e *CABACEncoder) SetContexts(cs ContextSet) {
	e.contexts = cs
}

// Err returns the first write error.
func (e *CABACEncoder) Err() error {
	return e.err
}

func (e *CABACEncoder) writeBit(b int) {
	if e.err == nil {
		e.err = e.w.WriteBit(b)
	}
}

func (e *CABACEncoder) putBit(b int) {
	if e.firstBitFlag {
		e.firstBitFlag = false
	} else {
		e.writeBit(b)
	}
	for ; e.bitsOutstanding > 0; e.bitsOutstanding-- {
		e.writeBit(1 - b)
	}
}

func (e *CABACEncoder) renorm() {
	for e.rng < 256 {
		switch {
		case e.low < 256:
			e.putBit(0)
		case e.low >= 512:
			e.low -= 512
			e.putBit(1)
		default:
			e.low -= 256
			e.bitsOutstanding++
		}
		e.rng <<= 1
		e.low <<= 1
	}
}

// EncodeDecision encodes one context-coded bin.
func (e *CABACEncoder) EncodeDecision(ctxIdx int, bin int) {
	ctx := &e.contexts[ctxIdx]
	lps := uint32(rangeTabLPS[ctx.State][(e.rng>>6)&3])
	e.rng -= lps
	if bin != int(ctx.MPS) {
		e.low += e.rng
		e.rng = lps
		if ctx.State == 0 {
			ctx.MPS = 1 - ctx.MPS
		}
		ctx.State = transIdxLPS[ctx.State]
	} else {
		ctx.State = transIdxMPS[ctx.State]
	}
	e.renorm()
}

// EncodeBypass encodes one equiprobable bin.
func (e *CABACEncoder) EncodeBypass(bin int) {
	e.low <<= 1
	if bin != 0 {
		e.low += e.rng
	}
	switch {
	case e.low >= 1024:
		e.putBit(1)
		e.low -= 1024
	case e.low < 512:
		e.putBit(0)
	default:
		e.low -= 512
		e.bitsOutstanding++
	}
}

// EncodeBypassBits encodes the low n bits of v as bypass bins, most
// significant first.
func (e *CABACEncoder) EncodeBypassBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		e.EncodeBypass(int(v>>uint(i)) & 1)
	}
}

// EncodeTerminate encodes a terminating bin. A 1 flushes the engine; the
// last bit written is the stop or alignment bit and the caller pads the
// writer to a byte boundary.
func (e *CABACEncoder) EncodeTerminate(bin int) {
	e.rng -= 2
	if bin != 0 {
		e.low += e.rng
		e.flush()
		return
	}
	e.renorm()
}

func (e *CABACEncoder) flush() {
	e.rng = 2
	e.renorm()
	e.putBit(int(e.low>>9) & 1)
	v := ((e.low >> 7) & 3) | 1
	e.writeBit(int(v>>1) & 1)
	e.writeBit(int(v) & 1)
}

// AlignBypass mirrors CABACDecoder.AlignBypass.
func (e *CABACEncoder) AlignBypass() {
	e.rng = 256
}
