package vp8

// reconstruct predicts the macroblock at (mbx, mby), adds its residual
// and stores it in the frame. Prediction reads unfiltered samples.
func (d *Decoder) reconstruct(mb *macroblock, mbx, mby int) {
	d.loadBorders(mbx, mby)
	ws := &d.ws

	if mb.ymode == predB {
		for n := 0; n < 16; n++ {
			off := yOrigin + 4*(n&3) + 4*(n>>2)*bps
			predictSubblock(mb.bmodes[n], ws.y[:], off)
			d.addResidual(ws.y[:], off, n)
		}
	} else {
		predictBlock(mb.ymode, ws.y[:], yOrigin, 16, mby > 0, mbx > 0)
		for n := 0; n < 16; n++ {
			d.addResidual(ws.y[:], yOrigin+4*(n&3)+4*(n>>2)*bps, n)
		}
	}

	for i, plane := range [][]uint8{ws.u[:], ws.v[:]} {
		predictBlock(mb.uvmode, plane, cOrigin, 8, mby > 0, mbx > 0)
		for n := 0; n < 4; n++ {
			d.addResidual(plane, cOrigin+4*(n&1)+4*(n>>1)*bps, 16+4*i+n)
		}
	}

	img := d.img
	for y := 0; y < 16; y++ {
		copy(img.Y[(16*mby+y)*img.YStride+16*mbx:][:16], ws.y[yOrigin+y*bps:])
	}
	for y := 0; y < 8; y++ {
		i := (8*mby+y)*img.CStride + 8*mbx
		copy(img.Cb[i:][:8], ws.u[cOrigin+y*bps:])
		copy(img.Cr[i:][:8], ws.v[cOrigin+y*bps:])
	}
}

func (d *Decoder) addResidual(b []uint8, off, blk int) {
	c := d.coeffs[16*blk:][:16]
	for _, v := range c {
		if v != 0 {
			inverseDCT(c, b, off)
			return
		}
	}
}

// loadBorders fills row -1 and column -1 of the workspace. Outside the
// frame the row above is 127 and the column to the left is 129.
func (d *Decoder) loadBorders(mbx, mby int) {
	ws, img := &d.ws, d.img

	if mby == 0 {
		fill(ws.y[yOrigin-bps-1:][:21], 127)
		fill(ws.u[cOrigin-bps-1:][:9], 127)
		fill(ws.v[cOrigin-bps-1:][:9], 127)
	} else {
		row := img.Y[(16*mby-1)*img.YStride:]
		copy(ws.y[yOrigin-bps:][:16], row[16*mbx:])
		if mbx == d.mbw-1 {
			fill(ws.y[yOrigin-bps+16:][:4], row[16*mbx+15])
		} else {
			copy(ws.y[yOrigin-bps+16:][:4], row[16*mbx+16:])
		}
		crow := (8*mby - 1) * img.CStride
		copy(ws.u[cOrigin-bps:][:8], img.Cb[crow+8*mbx:])
		copy(ws.v[cOrigin-bps:][:8], img.Cr[crow+8*mbx:])

		if mbx == 0 {
			ws.y[yOrigin-bps-1] = 129
			ws.u[cOrigin-bps-1] = 129
			ws.v[cOrigin-bps-1] = 129
		} else {
			ws.y[yOrigin-bps-1] = row[16*mbx-1]
			ws.u[cOrigin-bps-1] = img.Cb[crow+8*mbx-1]
			ws.v[cOrigin-bps-1] = img.Cr[crow+8*mbx-1]
		}
	}

	for y := 0; y < 16; y++ {
		if mbx == 0 {
			ws.y[yOrigin+y*bps-1] = 129
		} else {
			ws.y[yOrigin+y*bps-1] = img.Y[(16*mby+y)*img.YStride+16*mbx-1]
		}
	}
	for y := 0; y < 8; y++ {
		if mbx == 0 {
			ws.u[cOrigin+y*bps-1] = 129
			ws.v[cOrigin+y*bps-1] = 129
		} else {
			i := (8*mby+y)*img.CStride + 8*mbx - 1
			ws.u[cOrigin+y*bps-1] = img.Cb[i]
			ws.v[cOrigin+y*bps-1] = img.Cr[i]
		}
	}

	// Sub-blocks on the right edge below the first row reuse the
	// macroblock's above-right samples.
	for _, y := range []int{3, 7, 11} {
		copy(ws.y[yOrigin+y*bps+16:][:4], ws.y[yOrigin-bps+16:][:4])
	}
}

func fill(b []uint8, v uint8) {
	for i := range b {
		b[i] = v
	}
}
