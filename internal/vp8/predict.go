package vp8

// Stride of the prediction workspace.
const bps = 32

// Offsets of sample (0, 0) in the workspace planes. Row -1 and column -1
// hold the neighbouring samples.
const (
	yOrigin = bps + 8
	cOrigin = bps + 8
)

// workspace holds one macroblock and its border while it is predicted
// and reconstructed. Luma row -1 extends four samples to the right for
// the sub-block modes that read above-right samples.
type workspace struct {
	y    [17 * bps]uint8
	u, v [9 * bps]uint8
}

func avg2(a, b uint8) uint8    { return uint8((int(a) + int(b) + 1) >> 1) }
func avg3(a, b, c uint8) uint8 { return uint8((int(a) + 2*int(b) + int(c) + 2) >> 2) }

// predictBlock fills a size x size block with a 16x16 luma or 8x8 chroma
// mode. DC falls back to the available edge, or to 128 without either.
func predictBlock(mode uint8, b []uint8, off, size int, hasTop, hasLeft bool) {
	switch mode {
	case predDC:
		sum, n := 0, 0
		if hasTop {
			for x := 0; x < size; x++ {
				sum += int(b[off-bps+x])
			}
			n += size
		}
		if hasLeft {
			for y := 0; y < size; y++ {
				sum += int(b[off+y*bps-1])
			}
			n += size
		}
		dc := uint8(128)
		if n > 0 {
			dc = uint8((sum + n/2) / n)
		}
		for y := 0; y < size; y++ {
			row := b[off+y*bps:][:size]
			for x := range row {
				row[x] = dc
			}
		}
	case predTM:
		topLeft := int(b[off-bps-1])
		for y := 0; y < size; y++ {
			l := int(b[off+y*bps-1]) - topLeft
			row := b[off+y*bps:][:size]
			for x := range row {
				row[x] = clip8(int(b[off-bps+x]) + l)
			}
		}
	case predVE:
		for y := 0; y < size; y++ {
			copy(b[off+y*bps:][:size], b[off-bps:][:size])
		}
	case predHE:
		for y := 0; y < size; y++ {
			l := b[off+y*bps-1]
			row := b[off+y*bps:][:size]
			for x := range row {
				row[x] = l
			}
		}
	}
}

// predictSubblock fills a 4x4 sub-block (RFC 6386 section 12.3).
func predictSubblock(mode uint8, b []uint8, off int) {
	top := b[off-bps-1:][:9] // top-left, four above, four above-right
	X := top[0]
	A, B, C, D := top[1], top[2], top[3], top[4]
	E, F, G, H := top[5], top[6], top[7], top[8]
	I, J, K, L := b[off-1], b[off+bps-1], b[off+2*bps-1], b[off+3*bps-1]

	set := func(x, y int, v uint8) { b[off+y*bps+x] = v }
	switch mode {
	case predDC:
		sum := 4
		for i := 0; i < 4; i++ {
			sum += int(top[1+i]) + int(b[off+i*bps-1])
		}
		dc := uint8(sum >> 3)
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				set(x, y, dc)
			}
		}
	case predTM:
		predictBlock(predTM, b, off, 4, true, true)
	case predVE:
		vals := [4]uint8{avg3(X, A, B), avg3(A, B, C), avg3(B, C, D), avg3(C, D, E)}
		for y := 0; y < 4; y++ {
			copy(b[off+y*bps:][:4], vals[:])
		}
	case predHE:
		rows := [4]uint8{avg3(X, I, J), avg3(I, J, K), avg3(J, K, L), avg3(K, L, L)}
		for y, v := range rows {
			for x := 0; x < 4; x++ {
				set(x, y, v)
			}
		}
	case predRD:
		set(0, 3, avg3(J, K, L))
		v := avg3(I, J, K)
		set(1, 3, v)
		set(0, 2, v)
		v = avg3(X, I, J)
		set(2, 3, v)
		set(1, 2, v)
		set(0, 1, v)
		v = avg3(A, X, I)
		set(3, 3, v)
		set(2, 2, v)
		set(1, 1, v)
		set(0, 0, v)
		v = avg3(B, A, X)
		set(3, 2, v)
		set(2, 1, v)
		set(1, 0, v)
		v = avg3(C, B, A)
		set(3, 1, v)
		set(2, 0, v)
		set(3, 0, avg3(D, C, B))
	case predLD:
		set(0, 0, avg3(A, B, C))
		v := avg3(B, C, D)
		set(1, 0, v)
		set(0, 1, v)
		v = avg3(C, D, E)
		set(2, 0, v)
		set(1, 1, v)
		set(0, 2, v)
		v = avg3(D, E, F)
		set(3, 0, v)
		set(2, 1, v)
		set(1, 2, v)
		set(0, 3, v)
		v = avg3(E, F, G)
		set(3, 1, v)
		set(2, 2, v)
		set(1, 3, v)
		v = avg3(F, G, H)
		set(3, 2, v)
		set(2, 3, v)
		set(3, 3, avg3(G, H, H))
	case predVR:
		v := avg2(X, A)
		set(0, 0, v)
		set(1, 2, v)
		v = avg2(A, B)
		set(1, 0, v)
		set(2, 2, v)
		v = avg2(B, C)
		set(2, 0, v)
		set(3, 2, v)
		set(3, 0, avg2(C, D))
		set(0, 3, avg3(K, J, I))
		set(0, 2, avg3(J, I, X))
		v = avg3(I, X, A)
		set(0, 1, v)
		set(1, 3, v)
		v = avg3(X, A, B)
		set(1, 1, v)
		set(2, 3, v)
		v = avg3(A, B, C)
		set(2, 1, v)
		set(3, 3, v)
		set(3, 1, avg3(B, C, D))
	case predVL:
		set(0, 0, avg2(A, B))
		v := avg2(B, C)
		set(1, 0, v)
		set(0, 2, v)
		v = avg2(C, D)
		set(2, 0, v)
		set(1, 2, v)
		v = avg2(D, E)
		set(3, 0, v)
		set(2, 2, v)
		set(0, 1, avg3(A, B, C))
		v = avg3(B, C, D)
		set(1, 1, v)
		set(0, 3, v)
		v = avg3(C, D, E)
		set(2, 1, v)
		set(1, 3, v)
		v = avg3(D, E, F)
		set(3, 1, v)
		set(2, 3, v)
		set(3, 2, avg3(E, F, G))
		set(3, 3, avg3(F, G, H))
	case predHD:
		v := avg2(I, X)
		set(0, 0, v)
		set(2, 1, v)
		v = avg2(J, I)
		set(0, 1, v)
		set(2, 2, v)
		v = avg2(K, J)
		set(0, 2, v)
		set(2, 3, v)
		set(0, 3, avg2(L, K))
		set(3, 0, avg3(A, B, C))
		set(2, 0, avg3(X, A, B))
		v = avg3(I, X, A)
		set(1, 0, v)
		set(3, 1, v)
		v = avg3(J, I, X)
		set(1, 1, v)
		set(3, 2, v)
		v = avg3(K, J, I)
		set(1, 2, v)
		set(3, 3, v)
		set(1, 3, avg3(L, K, J))
	case predHU:
		set(0, 0, avg2(I, J))
		v := avg2(J, K)
		set(2, 0, v)
		set(0, 1, v)
		v = avg2(K, L)
		set(2, 1, v)
		set(0, 2, v)
		set(1, 0, avg3(I, J, K))
		v = avg3(J, K, L)
		set(3, 0, v)
		set(1, 1, v)
		v = avg3(K, L, L)
		set(3, 1, v)
		set(1, 2, v)
		for _, p := range [][2]int{{3, 2}, {2, 2}, {0, 3}, {1, 3}, {2, 3}, {3, 3}} {
			set(p[0], p[1], L)
		}
	}
}
