package processor

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/catalog"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/tilegrid"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

var (
	ErrInvalidGsd      = errors.New("invalid gsd")
	ErrMissingEth0     = errors.New("missing eth0 value")
	ErrUnorderedSeries = errors.New("time series not in ascending julian day order")
	ErrInvalidParams   = errors.New("invalid accumulation parameters")
)

// Params are the per ROI gating values of the accumulation.
type Params struct {
	InitialJd   int
	FinalJd     int
	InitialNdvi float64
	FinalNdvi   float64
}

func (p Params) Validate() error {
	if p.InitialJd > p.FinalJd {
		return fmt.Errorf("%w: initial jd %d after final jd %d", ErrInvalidParams, p.InitialJd, p.FinalJd)
	}
	if math.IsNaN(p.InitialNdvi) || math.IsNaN(p.FinalNdvi) || p.InitialNdvi > p.FinalNdvi {
		return fmt.Errorf("%w: ndvi domain [%v, %v]", ErrInvalidParams, p.InitialNdvi, p.FinalNdvi)
	}
	return nil
}

// Sample is one raw pixel value of a pixel time series with the
// coefficients of the product it was read from.
type Sample struct {
	Jd     int
	Raw    float64
	Gain   float64
	Offset float64
}

// RasterInfo describes a north-up single band raster.
type RasterInfo struct {
	NwX       float64
	NwY       float64
	Gsd       float64
	Width     int
	Height    int
	NoData    float64
	HasNoData bool
}

// NewRasterInfo describes a width x height north up raster.
func NewRasterInfo(gt utils.GeoTransform, width, height int, noData float64, hasNoData bool) RasterInfo {
	nwX, nwY := gt.Origin()
	return RasterInfo{NwX: nwX, NwY: nwY, Gsd: gt.Gsd(), Width: width, Height: height, NoData: noData, HasNoData: hasNoData}
}

func (ri RasterInfo) GeoTransform() utils.GeoTransform {
	return utils.NorthUpGeoTransform(ri.NwX, ri.NwY, ri.Gsd)
}

func (ri RasterInfo) Bounds() tilegrid.Bounds {
	return tilegrid.Bounds{
		MinX: ri.NwX,
		MinY: ri.NwY - float64(ri.Height)*ri.Gsd,
		MaxX: ri.NwX + float64(ri.Width)*ri.Gsd,
		MaxY: ri.NwY,
	}
}

type SourceRaster interface {
	Info() RasterInfo
	// Read returns the first band of the window in row major order.
	Read(x, y, width, height int) ([]float32, error)
	Close() error
}

type OutputRaster interface {
	Info() RasterInfo
	Write(x, y, width, height int, data []float32) error
	Close() error
}

// RasterAccess opens product rasters and creates the float32 output
// rasters.
type RasterAccess interface {
	Open(path string) (SourceRaster, error)
	Create(path string, info RasterInfo, srid int) (OutputRaster, error)
	OpenUpdate(path string) (OutputRaster, error)
}

// Geometry is a parsed polygon. The caller owns it and must Close it.
type Geometry interface {
	tilegrid.Polygon
	Close()
}

type GeometryParser interface {
	ParseWKT(wkt string) (Geometry, error)
}

// Catalog is the part of the catalog the orchestrator reads.
type Catalog interface {
	Projects(ctx context.Context) ([]catalog.Project, error)
	NdviDataByProject(ctx context.Context, code string) (*catalog.RoiNdviData, error)
	NdviDataByTuplekey(ctx context.Context) (*catalog.TileNdviData, error)
	ProjectTuplekeyIntersection(ctx context.Context, roiID, tileID int) (string, bool, error)
}

// MergeTask asks for the per tile rasters of one ROI, matched by
// Pattern inside Dir, to be mosaicked into Output.
type MergeTask struct {
	Roi     string `json:"roi"`
	Dir     string `json:"dir"`
	Pattern string `json:"pattern"`
	Output  string `json:"output"`
}

// UnitFailure records a unit skipped under the continue policy.
type UnitFailure struct {
	Roi      string `json:"roi"`
	Tuplekey string `json:"tuplekey,omitempty"`
	Err      error  `json:"-"`
	Message  string `json:"error"`
}

type RunResult struct {
	RunID      string        `json:"run_id"`
	Mode       string        `json:"mode"`
	Outputs    []string      `json:"outputs"`
	Failures   []UnitFailure `json:"failures"`
	MergeTasks []MergeTask   `json:"merge_tasks"`
}
