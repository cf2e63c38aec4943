// Package tilegrid implements the nested tile pyramid that tuplekeys
// address. Level of detail 0 is a single square tile whose north-west
// corner is the grid origin; every level splits each tile in four.
package tilegrid

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

var (
	ErrInvalidTuplekey = errors.New("invalid tuplekey")
	ErrInvalidGsd      = errors.New("invalid gsd")
)

// MaxLod bounds tuplekey length so tile indices fit in an int on every
// platform.
const MaxLod = 30

const snapEpsilon = 1e-9

// Tile is one cell of the pyramid.
type Tile struct {
	Key string
	LOD int
	X   int
	Y   int
}

type NestedGrid struct {
	OriginX      float64
	OriginY      float64
	BaseTileSize float64
	BaseGsd      float64
	SRID         int
}

func NewNestedGrid(cfg utils.GridConfig) *NestedGrid {
	return &NestedGrid{
		OriginX:      cfg.OriginX,
		OriginY:      cfg.OriginY,
		BaseTileSize: cfg.BaseTileSize,
		BaseGsd:      cfg.BaseGsd,
		SRID:         cfg.SRID,
	}
}

// TileSize returns the side length of a tile at the given level.
func (g *NestedGrid) TileSize(lod int) float64 {
	return math.Ldexp(g.BaseTileSize, -lod)
}

// Gsd returns the pixel size of a raster stored at the given gsd level.
func (g *NestedGrid) Gsd(lodGsd int) float64 {
	return math.Ldexp(g.BaseGsd, -lodGsd)
}

// ParseTuplekey decodes a quadtree digit string. Digit 0 is the
// north-west child, 1 north-east, 2 south-west and 3 south-east.
func ParseTuplekey(key string) (Tile, error) {
	if len(key) == 0 || len(key) > MaxLod {
		return Tile{}, fmt.Errorf("%w: %q: length must be in [1, %d]", ErrInvalidTuplekey, key, MaxLod)
	}

	tile := Tile{Key: key, LOD: len(key)}
	for i := 0; i < len(key); i++ {
		d := key[i]
		if d < '0' || d > '3' {
			return Tile{}, fmt.Errorf("%w: %q: unexpected digit %q", ErrInvalidTuplekey, key, d)
		}
		q := int(d - '0')
		tile.X = tile.X<<1 | q&1
		tile.Y = tile.Y<<1 | q>>1
	}
	return tile, nil
}

// Tuplekey encodes the tile at column x, row y of the given level.
func Tuplekey(lod, x, y int) (string, error) {
	if lod < 1 || lod > MaxLod {
		return "", fmt.Errorf("%w: lod %d out of range", ErrInvalidTuplekey, lod)
	}
	n := 1 << uint(lod)
	if x < 0 || y < 0 || x >= n || y >= n {
		return "", fmt.Errorf("%w: tile (%d, %d) outside lod %d", ErrInvalidTuplekey, x, y, lod)
	}

	var sb strings.Builder
	for i := lod - 1; i >= 0; i-- {
		q := (x>>uint(i))&1 | ((y>>uint(i))&1)<<1
		sb.WriteByte(byte('0' + q))
	}
	return sb.String(), nil
}

// TileBounds returns the footprint of a tile.
func (g *NestedGrid) TileBounds(lod, x, y int) Bounds {
	size := g.TileSize(lod)
	minX := g.OriginX + float64(x)*size
	maxY := g.OriginY - float64(y)*size
	return Bounds{MinX: minX, MinY: maxY - size, MaxX: minX + size, MaxY: maxY}
}

// TuplekeyBounds decodes key and returns its footprint.
func (g *NestedGrid) TuplekeyBounds(key string) (Tile, Bounds, error) {
	tile, err := ParseTuplekey(key)
	if err != nil {
		return Tile{}, Bounds{}, err
	}
	return tile, g.TileBounds(tile.LOD, tile.X, tile.Y), nil
}

// tileRange returns the inclusive range of tile indices at lod whose
// footprints may overlap b, clipped to the pyramid.
func (g *NestedGrid) tileRange(b Bounds, lod int) (x0, y0, x1, y1 int) {
	size := g.TileSize(lod)
	last := 1<<uint(lod) - 1

	x0 = clamp(int(math.Floor((b.MinX-g.OriginX)/size+snapEpsilon)), 0, last)
	x1 = clamp(int(math.Ceil((b.MaxX-g.OriginX)/size-snapEpsilon))-1, 0, last)
	y0 = clamp(int(math.Floor((g.OriginY-b.MaxY)/size+snapEpsilon)), 0, last)
	y1 = clamp(int(math.Ceil((g.OriginY-b.MinY)/size-snapEpsilon))-1, 0, last)
	return
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
