package codestream

import (
	"github.com/pkg/errors"

	"github.com/mrjoshuak/go-hevc/internal/bio"
)

// fieldReader wraps a bio.Reader and keeps the first error so that
// syntax structures can be read field by field and checked once.
type fieldReader struct {
	br *bio.Reader
	e  error
}

func newFieldReader(br *bio.Reader) *fieldReader {
	return &fieldReader{br: br}
}

func (r *fieldReader) u(n int) uint32 {
	if r.e != nil {
		return 0
	}
	v, err := r.br.ReadBits(uint(n))
	if err != nil {
		r.e = err
	}
	return v
}

func (r *fieldReader) flag() bool {
	return r.u(1) == 1
}

func (r *fieldReader) ue() uint32 {
	if r.e != nil {
		return 0
	}
	v, err := r.br.ReadUE()
	if err != nil {
		r.e = err
	}
	return v
}

func (r *fieldReader) se() int32 {
	if r.e != nil {
		return 0
	}
	v, err := r.br.ReadSE()
	if err != nil {
		r.e = err
	}
	return v
}

// ueMax reads ue(v) and records ErrMalformedParameterSet if it exceeds max.
func (r *fieldReader) ueMax(max uint32, name string) uint32 {
	v := r.ue()
	if r.e == nil && v > max {
		r.e = errors.Wrapf(ErrMalformedParameterSet, "%s = %d exceeds %d", name, v, max)
		return 0
	}
	return v
}

// seRange reads se(v) and records ErrMalformedParameterSet if it lies
// outside [lo, hi].
func (r *fieldReader) seRange(lo, hi int32, name string) int32 {
	v := r.se()
	if r.e == nil && (v < lo || v > hi) {
		r.e = errors.Wrapf(ErrMalformedParameterSet, "%s = %d outside [%d, %d]", name, v, lo, hi)
		return 0
	}
	return v
}

func (r *fieldReader) skip(n int) {
	if r.e != nil {
		return
	}
	if err := r.br.SkipBits(n); err != nil {
		r.e = err
	}
}

// fail records err unless an earlier error is pending.
func (r *fieldReader) fail(err error) {
	if r.e == nil {
		r.e = err
	}
}

func (r *fieldReader) err() error {
	return r.e
}
