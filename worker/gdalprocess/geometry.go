package gdalprocess

// #include <stdlib.h>
// #include "ogr_api.h"
// #include "cpl_conv.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/processor"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/tilegrid"
)

// Geometry is an OGR polygon or multipolygon. It keeps a scratch point
// for containment tests and is not safe for concurrent use.
type Geometry struct {
	hGeom C.OGRGeometryH
	point C.OGRGeometryH
	env   tilegrid.Bounds
}

// Geometries parses WKT into OGR geometries.
type Geometries struct{}

func (Geometries) ParseWKT(wkt string) (processor.Geometry, error) {
	g, err := ParseWKT(wkt)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func ParseWKT(wkt string) (*Geometry, error) {
	hGeom, err := createFromWkt(wkt)
	if err != nil {
		return nil, err
	}

	switch C.OGR_GT_Flatten(C.OGR_G_GetGeometryType(hGeom)) {
	case C.wkbPolygon, C.wkbMultiPolygon:
	default:
		name := C.GoString(C.OGR_G_GetGeometryName(hGeom))
		C.OGR_G_DestroyGeometry(hGeom)
		return nil, fmt.Errorf("ParseWKT: %s is not a polygon", name)
	}
	if C.OGR_G_IsEmpty(hGeom) != 0 {
		C.OGR_G_DestroyGeometry(hGeom)
		return nil, fmt.Errorf("ParseWKT: empty geometry")
	}

	var env C.OGREnvelope
	C.OGR_G_GetEnvelope(hGeom, &env)

	point := C.OGR_G_CreateGeometry(C.wkbPoint)
	C.OGR_G_SetPoint_2D(point, 0, 0, 0)

	return &Geometry{
		hGeom: hGeom,
		point: point,
		env: tilegrid.Bounds{
			MinX: float64(env.MinX),
			MinY: float64(env.MinY),
			MaxX: float64(env.MaxX),
			MaxY: float64(env.MaxY),
		},
	}, nil
}

func createFromWkt(wkt string) (C.OGRGeometryH, error) {
	if len(strings.TrimSpace(wkt)) == 0 {
		return nil, fmt.Errorf("ParseWKT: empty WKT")
	}
	wktC := C.CString(wkt)
	defer C.free(unsafe.Pointer(wktC))

	ppszData := wktC
	var hGeom C.OGRGeometryH
	if oerr := C.OGR_G_CreateFromWkt(&ppszData, nil, &hGeom); oerr != C.OGRERR_NONE || hGeom == nil {
		return nil, fmt.Errorf("ParseWKT: invalid WKT (OGR error %d)", int(oerr))
	}
	return hGeom, nil
}

func (g *Geometry) Envelope() tilegrid.Bounds {
	return g.env
}

// ContainsPoint reports whether (x, y) lies inside or on the boundary.
func (g *Geometry) ContainsPoint(x, y float64) bool {
	if !g.env.ContainsPoint(x, y) {
		return false
	}
	C.OGR_G_SetPoint_2D(g.point, 0, C.double(x), C.double(y))
	return C.OGR_G_Intersects(g.hGeom, g.point) != 0
}

// IntersectsBounds reports whether the interiors of the geometry and b
// overlap.
func (g *Geometry) IntersectsBounds(b tilegrid.Bounds) bool {
	if !g.env.IntersectsBounds(b) {
		return false
	}
	box, err := createFromWkt(b.WKT())
	if err != nil {
		return false
	}
	defer C.OGR_G_DestroyGeometry(box)
	return C.OGR_G_Intersects(g.hGeom, box) != 0 && C.OGR_G_Touches(g.hGeom, box) == 0
}

func (g *Geometry) ContainsBounds(b tilegrid.Bounds) bool {
	if !g.env.ContainsBounds(b) {
		return false
	}
	box, err := createFromWkt(b.WKT())
	if err != nil {
		return false
	}
	defer C.OGR_G_DestroyGeometry(box)
	return C.OGR_G_Contains(g.hGeom, box) != 0
}

// WKT exports the geometry.
func (g *Geometry) WKT() string {
	var wktC *C.char
	if C.OGR_G_ExportToWkt(g.hGeom, &wktC) != C.OGRERR_NONE {
		return ""
	}
	defer C.VSIFree(unsafe.Pointer(wktC))
	return C.GoString(wktC)
}

// Close releases the OGR handles. It is safe to call twice.
func (g *Geometry) Close() {
	if g.hGeom != nil {
		C.OGR_G_DestroyGeometry(g.hGeom)
		g.hGeom = nil
	}
	if g.point != nil {
		C.OGR_G_DestroyGeometry(g.point)
		g.point = nil
	}
}
