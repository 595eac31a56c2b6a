package picture

import "github.com/mrjoshuak/go-hevc/internal/codestream"

// Geometry is the CTB layout of a picture: tile boundaries and the
// conversions between CTB raster scan, tile scan and minimum transform
// block z-scan order (clause 6.5).
type Geometry struct {
	// Picture size in luma samples
	Width, Height int

	// Picture size in CTBs
	WidthInCtbs, HeightInCtbs int
	SizeInCtbs                int

	Log2CtbSize   int
	Log2MinTbSize int

	// Tile boundaries in CTBs. ColBd has NumTileColumns+1 entries, the
	// last one equal to WidthInCtbs; likewise RowBd.
	ColBd []int
	RowBd []int

	// CTB address permutations between raster and tile scan
	CtbAddrRsToTs []int
	CtbAddrTsToRs []int

	// Tile index of each CTB, indexed by tile-scan address
	TileID []int

	// Z-scan order of each minimum transform block, row-major over a grid
	// covering whole CTBs
	minTbAddrZs []int
	minTbStride int
}

// NewGeometry derives the CTB layout from an SPS and the PPS of a picture.
func NewGeometry(sps *codestream.SPS, pps *codestream.PPS) *Geometry {
	g := &Geometry{
		Width:         sps.Width,
		Height:        sps.Height,
		WidthInCtbs:   sps.PicWidthInCtbs,
		HeightInCtbs:  sps.PicHeightInCtbs,
		SizeInCtbs:    sps.PicSizeInCtbs,
		Log2CtbSize:   sps.Log2CtbSize,
		Log2MinTbSize: sps.Log2MinTbSize,
	}
	cols, rows := 1, 1
	uniform := true
	var colWidths, rowHeights []int
	if pps.TilesEnabled {
		cols, rows = pps.NumTileColumns, pps.NumTileRows
		uniform = pps.UniformSpacing
		colWidths, rowHeights = pps.ColumnWidths, pps.RowHeights
	}
	g.ColBd = boundaries(g.WidthInCtbs, cols, uniform, colWidths)
	g.RowBd = boundaries(g.HeightInCtbs, rows, uniform, rowHeights)
	g.buildScan()
	g.buildZScan()
	return g
}

// boundaries splits n CTBs into count tiles (equations 6-3 to 6-6).
func boundaries(n, count int, uniform bool, explicit []int) []int {
	bd := make([]int, count+1)
	for i := 0; i < count; i++ {
		var size int
		switch {
		case uniform:
			size = (i+1)*n/count - i*n/count
		case i < len(explicit) && i < count-1:
			size = explicit[i]
		default:
			size = n - bd[i]
		}
		bd[i+1] = bd[i] + size
	}
	return bd
}

func (g *Geometry) buildScan() {
	g.CtbAddrRsToTs = make([]int, g.SizeInCtbs)
	g.CtbAddrTsToRs = make([]int, g.SizeInCtbs)
	g.TileID = make([]int, g.SizeInCtbs)
	cols := len(g.ColBd) - 1
	for rs := 0; rs < g.SizeInCtbs; rs++ {
		tbX, tbY := rs%g.WidthInCtbs, rs/g.WidthInCtbs
		tileX, tileY := tileIndex(g.ColBd, tbX), tileIndex(g.RowBd, tbY)
		colWidth := g.ColBd[tileX+1] - g.ColBd[tileX]
		ts := 0
		for i := 0; i < tileX; i++ {
			ts += (g.RowBd[tileY+1] - g.RowBd[tileY]) * (g.ColBd[i+1] - g.ColBd[i])
		}
		ts += g.WidthInCtbs * g.RowBd[tileY]
		ts += (tbY-g.RowBd[tileY])*colWidth + tbX - g.ColBd[tileX]
		g.CtbAddrRsToTs[rs] = ts
		g.CtbAddrTsToRs[ts] = rs
		g.TileID[ts] = tileY*cols + tileX
	}
}

func tileIndex(bd []int, v int) int {
	i := 0
	for i+2 < len(bd) && v >= bd[i+1] {
		i++
	}
	return i
}

func (g *Geometry) buildZScan() {
	shift := g.Log2CtbSize - g.Log2MinTbSize
	g.minTbStride = g.WidthInCtbs << shift
	h := g.HeightInCtbs << shift
	g.minTbAddrZs = make([]int, g.minTbStride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < g.minTbStride; x++ {
			rs := g.WidthInCtbs*(y>>shift) + x>>shift
			v := g.CtbAddrRsToTs[rs] << (2 * shift)
			for i := 0; i < shift; i++ {
				m := 1 << i
				if m&x != 0 {
					v += m * m
				}
				if m&y != 0 {
					v += 2 * m * m
				}
			}
			g.minTbAddrZs[y*g.minTbStride+x] = v
		}
	}
}

// MinTbAddrZs returns the z-scan address of the minimum transform block
// containing luma sample (x, y).
func (g *Geometry) MinTbAddrZs(x, y int) int {
	return g.minTbAddrZs[(y>>g.Log2MinTbSize)*g.minTbStride+x>>g.Log2MinTbSize]
}

// CtbAddrRs returns the raster-scan address of the CTB containing luma
// sample (x, y).
func (g *Geometry) CtbAddrRs(x, y int) int {
	return (y>>g.Log2CtbSize)*g.WidthInCtbs + x>>g.Log2CtbSize
}

// TileIDRs returns the tile index of a CTB given in raster scan.
func (g *Geometry) TileIDRs(rs int) int {
	return g.TileID[g.CtbAddrRsToTs[rs]]
}

// NumTiles returns the number of tiles in the picture.
func (g *Geometry) NumTiles() int {
	return (len(g.ColBd) - 1) * (len(g.RowBd) - 1)
}

// TileStart reports whether the CTB at tile-scan address ts is the first
// CTB of a tile.
func (g *Geometry) TileStart(ts int) bool {
	return ts == 0 || g.TileID[ts] != g.TileID[ts-1]
}

// TileColumnStart returns the CTB column at which the tile containing
// CTB column x starts.
func (g *Geometry) TileColumnStart(x int) int {
	return g.ColBd[tileIndex(g.ColBd, x)]
}
