package tilegrid

import (
	"fmt"
	"strconv"
)

// Bounds is an axis aligned rectangle in projected coordinates.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Polygon is the geometry contract the pixel enumeration needs. The
// OGR backed geometry of the gdal worker package implements it, and so
// does Bounds for tiles fully inside a ROI.
type Polygon interface {
	Envelope() Bounds
	ContainsPoint(x, y float64) bool
	IntersectsBounds(b Bounds) bool
	ContainsBounds(b Bounds) bool
}

func (b Bounds) Empty() bool {
	return !(b.MaxX > b.MinX && b.MaxY > b.MinY)
}

func (b Bounds) Width() float64 {
	return b.MaxX - b.MinX
}

func (b Bounds) Height() float64 {
	return b.MaxY - b.MinY
}

func (b Bounds) Envelope() Bounds {
	return b
}

func (b Bounds) ContainsPoint(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// IntersectsBounds reports whether both rectangles share some area.
// Touching edges do not count.
func (b Bounds) IntersectsBounds(o Bounds) bool {
	return b.MinX < o.MaxX && o.MinX < b.MaxX && b.MinY < o.MaxY && o.MinY < b.MaxY
}

func (b Bounds) ContainsBounds(o Bounds) bool {
	return o.MinX >= b.MinX && o.MaxX <= b.MaxX && o.MinY >= b.MinY && o.MaxY <= b.MaxY
}

// WKT returns the rectangle as a closed polygon ring starting at the
// north-west corner.
func (b Bounds) WKT() string {
	minX, minY := formatCoord(b.MinX), formatCoord(b.MinY)
	maxX, maxY := formatCoord(b.MaxX), formatCoord(b.MaxY)
	return fmt.Sprintf("POLYGON ((%s %s, %s %s, %s %s, %s %s, %s %s))",
		minX, maxY, maxX, maxY, maxX, minY, minX, minY, minX, maxY)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
