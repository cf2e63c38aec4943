package tilegrid

import (
	"fmt"
	"math"
	"sort"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

// PixelSet is the set of output pixels whose centres fall inside a
// polygon. Pixels are addressed by column and row of the set's own
// window, whose north-west corner is aligned with the grid lattice.
type PixelSet struct {
	NwX     float64
	NwY     float64
	Gsd     float64
	Columns int
	Rows    int

	// RowColumns maps each row to its selected columns in ascending
	// order.
	RowColumns map[int][]int

	count int
}

func (p *PixelSet) Count() int {
	return p.count
}

// SortedRows returns the rows holding at least one pixel, ascending.
func (p *PixelSet) SortedRows() []int {
	rows := make([]int, 0, len(p.RowColumns))
	for r := range p.RowColumns {
		rows = append(rows, r)
	}
	sort.Ints(rows)
	return rows
}

// Center returns the projected coordinates of a pixel centre.
func (p *PixelSet) Center(col, row int) (float64, float64) {
	return p.NwX + (float64(col)+0.5)*p.Gsd, p.NwY - (float64(row)+0.5)*p.Gsd
}

func (p *PixelSet) Bounds() Bounds {
	return Bounds{
		MinX: p.NwX,
		MinY: p.NwY - float64(p.Rows)*p.Gsd,
		MaxX: p.NwX + float64(p.Columns)*p.Gsd,
		MaxY: p.NwY,
	}
}

func (p *PixelSet) GeoTransform() utils.GeoTransform {
	return utils.NorthUpGeoTransform(p.NwX, p.NwY, p.Gsd)
}

func (p *PixelSet) Contains(col, row int) bool {
	cols, ok := p.RowColumns[row]
	if !ok {
		return false
	}
	i := sort.SearchInts(cols, col)
	return i < len(cols) && cols[i] == col
}

func (p *PixelSet) add(col, row int) {
	p.RowColumns[row] = append(p.RowColumns[row], col)
	p.count++
}

// PixelsPerTile returns how many pixels of size gsd span one tile side
// at lod. The tile size must be a whole multiple of gsd.
func (g *NestedGrid) PixelsPerTile(lod int, gsd float64) (int, error) {
	if gsd <= 0 || math.IsNaN(gsd) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidGsd, gsd)
	}
	ratio := g.TileSize(lod) / gsd
	n := math.Round(ratio)
	if n < 1 || math.Abs(ratio-n) > 1e-6*n {
		return 0, fmt.Errorf("%w: %v does not divide the tile size %v at lod %d", ErrInvalidGsd, gsd, g.TileSize(lod), lod)
	}
	return int(n), nil
}

// PixelSet enumerates the pixels of size gsd whose centres lie inside
// poly. The polygon is visited tile by tile at lod: pixels of tiles it
// fully contains are taken without further tests, tiles it does not
// touch are skipped, and only boundary tiles test pixel centres.
func (g *NestedGrid) PixelSet(poly Polygon, lod int, gsd float64) (*PixelSet, error) {
	ppt, err := g.PixelsPerTile(lod, gsd)
	if err != nil {
		return nil, err
	}

	env := poly.Envelope()
	if env.Empty() {
		return nil, fmt.Errorf("empty polygon envelope %+v", env)
	}

	c0 := int(math.Floor((env.MinX-g.OriginX)/gsd + snapEpsilon))
	c1 := int(math.Ceil((env.MaxX-g.OriginX)/gsd - snapEpsilon))
	r0 := int(math.Floor((g.OriginY-env.MaxY)/gsd + snapEpsilon))
	r1 := int(math.Ceil((g.OriginY-env.MinY)/gsd - snapEpsilon))

	ps := &PixelSet{
		NwX:        g.OriginX + float64(c0)*gsd,
		NwY:        g.OriginY - float64(r0)*gsd,
		Gsd:        gsd,
		Columns:    c1 - c0,
		Rows:       r1 - r0,
		RowColumns: make(map[int][]int),
	}
	if ps.Columns <= 0 || ps.Rows <= 0 {
		return ps, nil
	}

	tx0, ty0, tx1, ty1 := g.tileRange(env, lod)
	for ty := ty0; ty <= ty1; ty++ {
		for tx := tx0; tx <= tx1; tx++ {
			tb := g.TileBounds(lod, tx, ty)
			if !poly.IntersectsBounds(tb) {
				continue
			}
			full := poly.ContainsBounds(tb)

			rowStart, rowEnd := maxInt(r0, ty*ppt), minInt(r1, (ty+1)*ppt)
			colStart, colEnd := maxInt(c0, tx*ppt), minInt(c1, (tx+1)*ppt)
			for gr := rowStart; gr < rowEnd; gr++ {
				y := g.OriginY - (float64(gr)+0.5)*gsd
				for gc := colStart; gc < colEnd; gc++ {
					if !full {
						x := g.OriginX + (float64(gc)+0.5)*gsd
						if !poly.ContainsPoint(x, y) {
							continue
						}
					}
					ps.add(gc-c0, gr-r0)
				}
			}
		}
	}

	for row, cols := range ps.RowColumns {
		sort.Ints(cols)
		ps.RowColumns[row] = cols
	}
	return ps, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
