package bio

import "github.com/pkg/errors"

// ErrGolombOverflow is returned when an Exp-Golomb prefix is longer than
// 32 zero bits.
var ErrGolombOverflow = errors.New("bio: exp-golomb prefix too long")

// ReadGolomb reads an unsigned Exp-Golomb code of order k.
func (r *Reader) ReadGolomb(k uint) (uint32, error) {
	zeros := uint(0)
	for {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit == 1 {
			break
		}
		zeros++
		if zeros > 32 {
			return 0, ErrGolombOverflow
		}
	}
	n := zeros + k
	var suffix uint64
	if n > 32 {
		hi, err := r.ReadBits(n - 32)
		if err != nil {
			return 0, err
		}
		lo, err := r.ReadBits(32)
		if err != nil {
			return 0, err
		}
		suffix = uint64(hi)<<32 | uint64(lo)
	} else {
		v, err := r.ReadBits(n)
		if err != nil {
			return 0, err
		}
		suffix = uint64(v)
	}
	v := (uint64(1) << n) - (uint64(1) << k) + suffix
	if v > 0xFFFFFFFF {
		return 0, ErrGolombOverflow
	}
	return uint32(v), nil
}

// ReadSignedGolomb reads a signed Exp-Golomb code of order k.
func (r *Reader) ReadSignedGolomb(k uint) (int32, error) {
	u, err := r.ReadGolomb(k)
	if err != nil {
		return 0, err
	}
	v := int32((uint64(u) + 1) >> 1)
	if u&1 == 0 {
		return -v, nil
	}
	return v, nil
}

// ReadUE reads ue(v).
func (r *Reader) ReadUE() (uint32, error) {
	return r.ReadGolomb(0)
}

// ReadSE reads se(v).
func (r *Reader) ReadSE() (int32, error) {
	return r.ReadSignedGolomb(0)
}

// WriteGolomb writes v as an unsigned Exp-Golomb code of order k.
func (w *Writer) WriteGolomb(v uint32, k uint) error {
	x := uint64(v) + (uint64(1) << k)
	n := uint(0)
	for (x >> (n + 1)) != 0 {
		n++
	}
	// n+1 significant bits; prefix has n-k zeros.
	for i := k; i < n; i++ {
		if err := w.WriteBit(0); err != nil {
			return err
		}
	}
	for i := int(n); i >= 0; i-- {
		if err := w.WriteBit(int(x>>uint(i)) & 1); err != nil {
			return err
		}
	}
	return nil
}

// WriteSignedGolomb writes v as a signed Exp-Golomb code of order k.
func (w *Writer) WriteSignedGolomb(v int32, k uint) error {
	var u uint32
	if v > 0 {
		u = uint32(2*int64(v) - 1)
	} else {
		u = uint32(-2 * int64(v))
	}
	return w.WriteGolomb(u, k)
}

// WriteUE writes ue(v).
func (w *Writer) WriteUE(v uint32) error {
	return w.WriteGolomb(v, 0)
}

// WriteSE writes se(v).
func (w *Writer) WriteSE(v int32) error {
	return w.WriteSignedGolomb(v, 0)
}
