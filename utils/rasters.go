package utils

import (
	"fmt"
	"math"
)

// NoDataValue marks output pixels without any valid sample.
const NoDataValue = -9999.0

// GeoTransform follows the GDAL affine convention for north up
// rasters: x = gt[0] + col*gt[1], y = gt[3] + row*gt[5].
type GeoTransform [6]float64

// NorthUpGeoTransform builds the geotransform of a north up raster from
// its north-west corner and pixel size.
func NorthUpGeoTransform(nwX, nwY, gsd float64) GeoTransform {
	return GeoTransform{nwX, gsd, 0, nwY, 0, -gsd}
}

// IsNorthUp reports whether the geotransform has no rotation terms and
// square pixels.
func (gt GeoTransform) IsNorthUp() bool {
	return gt[2] == 0 && gt[4] == 0 && gt[1] > 0 && gt[5] < 0 && math.Abs(gt[1]+gt[5]) <= 1e-9*gt[1]
}

// Origin returns the north-west corner.
func (gt GeoTransform) Origin() (float64, float64) {
	return gt[0], gt[3]
}

// Gsd returns the pixel size of a north up geotransform.
func (gt GeoTransform) Gsd() float64 {
	return gt[1]
}

type Float32Raster struct {
	Data          []float32
	Height, Width int
	NoData        float64
}

// NewFloat32Raster returns a width x height raster filled with noData.
func NewFloat32Raster(width, height int, noData float64) *Float32Raster {
	data := make([]float32, width*height)
	fill := float32(noData)
	for i := range data {
		data[i] = fill
	}
	return &Float32Raster{Data: data, Width: width, Height: height, NoData: noData}
}

func (r *Float32Raster) Set(col, row int, v float32) {
	r.Data[row*r.Width+col] = v
}

func (r *Float32Raster) At(col, row int) float32 {
	return r.Data[row*r.Width+col]
}

// Validate checks that the buffer matches the declared size.
func (r *Float32Raster) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid raster size %dx%d", r.Width, r.Height)
	}
	if len(r.Data) != r.Width*r.Height {
		return fmt.Errorf("raster buffer holds %d values, expected %d", len(r.Data), r.Width*r.Height)
	}
	return nil
}
