package vp8

// Fixed point constants of the inverse DCT: sqrt(2)*cos(pi/8) - 1 and
// sqrt(2)*sin(pi/8), scaled by 65536.
const (
	c1 = 20091
	c2 = 35468
)

func mul1(a int) int { return a*c1>>16 + a }
func mul2(a int) int { return a * c2 >> 16 }

// inverseDCT adds the inverse transform of the 4x4 block in to the
// samples at b[off:] (RFC 6386 section 14.3).
func inverseDCT(in []int16, b []uint8, off int) {
	var tmp [16]int
	for i := 0; i < 4; i++ {
		i0, i1, i2, i3 := int(in[i]), int(in[4+i]), int(in[8+i]), int(in[12+i])
		a := i0 + i2
		bb := i0 - i2
		c := mul2(i1) - mul1(i3)
		dd := mul1(i1) + mul2(i3)
		tmp[4*i+0] = a + dd
		tmp[4*i+1] = bb + c
		tmp[4*i+2] = bb - c
		tmp[4*i+3] = a - dd
	}
	for i := 0; i < 4; i++ {
		dc := tmp[i] + 4
		a := dc + tmp[8+i]
		bb := dc - tmp[8+i]
		c := mul2(tmp[4+i]) - mul1(tmp[12+i])
		dd := mul1(tmp[4+i]) + mul2(tmp[12+i])
		row := b[off+i*bps:]
		row[0] = clip8(int(row[0]) + (a+dd)>>3)
		row[1] = clip8(int(row[1]) + (bb+c)>>3)
		row[2] = clip8(int(row[2]) + (bb-c)>>3)
		row[3] = clip8(int(row[3]) + (a-dd)>>3)
	}
}

// inverseWHT transforms the Y2 block and stores the results as the DC
// coefficients of the sixteen luma blocks in out (RFC 6386 section 14.3).
func inverseWHT(in *[16]int16, out []int16) {
	var tmp [16]int
	for i := 0; i < 4; i++ {
		a0 := int(in[i]) + int(in[12+i])
		a1 := int(in[4+i]) + int(in[8+i])
		a2 := int(in[4+i]) - int(in[8+i])
		a3 := int(in[i]) - int(in[12+i])
		tmp[i] = a0 + a1
		tmp[8+i] = a0 - a1
		tmp[4+i] = a3 + a2
		tmp[12+i] = a3 - a2
	}
	for i := 0; i < 4; i++ {
		dc := tmp[4*i] + 3
		a0 := dc + tmp[4*i+3]
		a1 := tmp[4*i+1] + tmp[4*i+2]
		a2 := tmp[4*i+1] - tmp[4*i+2]
		a3 := dc - tmp[4*i+3]
		out[16*(4*i+0)] = int16((a0 + a1) >> 3)
		out[16*(4*i+1)] = int16((a3 + a2) >> 3)
		out[16*(4*i+2)] = int16((a0 - a1) >> 3)
		out[16*(4*i+3)] = int16((a3 - a2) >> 3)
	}
}

func clip8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
