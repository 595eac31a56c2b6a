package entropy

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoolDecoder_RangeInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	data := make([]byte, 4096)
	rng.Read(data)

	d := NewBoolDecoder(data)
	for i := 0; i < 20000; i++ {
		prob := uint8(1 + rng.Intn(255))
		if i%5 == 0 {
			d.DecideEquiprobable()
		} else {
			d.Decide(prob)
		}
		if r := d.Range(); r < 127 || r > 254 {
			t.Fatalf("decision %d (prob %d): range-1 = %d outside [127, 254]", i, prob, r)
		}
	}
}

func TestBoolDecoder_InitialRange(t *testing.T) {
	d := NewBoolDecoder([]byte{0, 0, 0, 0})
	assert.Equal(t, 0, d.DecideEquiprobable())
	assert.Equal(t, uint32(127), d.Range())

	d = NewBoolDecoder([]byte{0, 0, 0, 0})
	assert.Equal(t, 7, d.DecodeSigned(7))
	assert.Equal(t, uint32(127), d.Range())
}

func TestBoolCoder_MixedLiterals(t *testing.T) {
	for seed := int64(0); seed < 200; seed++ {
		rng := rand.New(rand.NewSource(seed))
		type op struct {
			prob   uint8
			signed bool
			bit    int
		}
		ops := make([]op, 64)
		enc := NewBoolEncoder()
		for i := range ops {
			o := op{prob: 128, bit: rng.Intn(2)}
			switch rng.Intn(3) {
			case 0:
				o.prob = uint8(1 + rng.Intn(255))
			case 1:
				o.signed = true
			}
			ops[i] = o
			enc.Encode(o.prob, o.bit)
		}
		data := enc.Flush()

		d := NewBoolDecoder(data)
		for i, o := range ops {
			var got int
			switch {
			case o.signed:
				if d.DecodeSigned(1) < 0 {
					got = 1
				}
			case o.prob == 128:
				got = d.DecideEquiprobable()
			default:
				got = d.Decide(o.prob)
			}
			if got != o.bit {
				t.Fatalf("seed %d: decision %d (prob %d, signed %v) = %d, want %d", seed, i, o.prob, o.signed, got, o.bit)
			}
			if r := d.Range(); r < 127 || r > 254 {
				t.Fatalf("seed %d: decision %d: range-1 = %d outside [127, 254]", seed, i, r)
			}
		}
		require.NoError(t, d.Err())
	}
}

func TestBoolCoder_Roundtrip(t *testing.T) {
	tests := []struct {
		name string
		prob uint8
	}{
		{"rare_zero", 10},
		{"skewed", 64},
		{"even", 128},
		{"common_zero", 200},
		{"almost_always_zero", 254},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const n = 20000
			rng := rand.New(rand.NewSource(int64(tt.prob)))
			bits := make([]int, n)
			enc := NewBoolEncoder()
			for i := range bits {
				if rng.Intn(256) >= int(tt.prob) {
					bits[i] = 1
				}
				enc.Encode(tt.prob, bits[i])
			}
			data := enc.Flush()

			d := NewBoolDecoder(data)
			zeros := 0
			for i, want := range bits {
				got := d.Decide(tt.prob)
				require.Equal(t, want, got, "bit %d", i)
				if got == 0 {
					zeros++
				}
			}
			require.NoError(t, d.Err())

			// Frequency of zeros converges to prob/256.
			p := float64(tt.prob) / 256
			sigma := math.Sqrt(p * (1 - p) / n)
			assert.InDelta(t, p, float64(zeros)/n, 5*sigma)
		})
	}
}

func TestBoolCoder_Literals(t *testing.T) {
	enc := NewBoolEncoder()
	enc.EncodeBits(0x5A, 8)
	enc.EncodeBits(3, 2)
	enc.Encode(128, 1) // DecodeSigned: negative
	enc.Encode(128, 0) // DecodeSigned: positive
	// DecodeOptionalSigned: present, magnitude 9, negative
	enc.Encode(128, 1)
	enc.EncodeBits(9, 4)
	enc.Encode(128, 1)
	// DecodeOptionalSigned: absent
	enc.Encode(128, 0)
	enc.EncodeBits(0x12345, 20)
	data := enc.Flush()

	d := NewBoolDecoder(data)
	assert.Equal(t, uint32(0x5A), d.DecodeBits(8))
	assert.Equal(t, uint32(3), d.DecodeBits(2))
	assert.Equal(t, -17, d.DecodeSigned(17))
	assert.Equal(t, 17, d.DecodeSigned(17))
	assert.Equal(t, -9, d.DecodeOptionalSigned(4))
	assert.Equal(t, 0, d.DecodeOptionalSigned(4))
	assert.Equal(t, uint32(0x12345), d.DecodeBits(20))
	assert.NoError(t, d.Err())
}

func TestBoolDecoder_DecodeTree(t *testing.T) {
	// Leaves 0 ("0"), 1 ("10"), 2 ("110"), 3 ("111").
	tree := []int8{0, 2, -1, 4, -2, -3}
	probs := []uint8{100, 150, 200}

	enc := NewBoolEncoder()
	for _, leaf := range []int{3, 0, 2, 1, 1, 3} {
		switch leaf {
		case 0:
			enc.Encode(probs[0], 0)
		case 1:
			enc.Encode(probs[0], 1)
			enc.Encode(probs[1], 0)
		default:
			enc.Encode(probs[0], 1)
			enc.Encode(probs[1], 1)
			enc.Encode(probs[2], leaf-2)
		}
	}
	d := NewBoolDecoder(enc.Flush())
	for _, want := range []int{3, 0, 2, 1, 1, 3} {
		assert.Equal(t, want, d.DecodeTree(tree, probs))
	}
}

func TestBoolDecoder_Underflow(t *testing.T) {
	d := NewBoolDecoder([]byte{0x80})
	for i := 0; i < 100; i++ {
		d.Decide(128)
	}
	assert.ErrorIs(t, d.Err(), ErrCoderUnderflow)
}

func BenchmarkBoolDecoder(b *testing.B) {
	enc := NewBoolEncoder()
	for i := 0; i < 8192; i++ {
		enc.Encode(uint8(i), i&1)
	}
	data := enc.Flush()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d := NewBoolDecoder(data)
		for j := 0; j < 8192; j++ {
			d.Decide(uint8(j))
		}
	}
}
