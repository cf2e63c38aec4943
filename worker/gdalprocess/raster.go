package gdalprocess

// #include <stdlib.h>
// #include "gdal.h"
// #include "ogr_srs_api.h"
// #include "cpl_conv.h"
// #cgo pkg-config: gdal
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/processor"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

// ErrNotNorthUp is returned for rasters with rotation terms or non
// square pixels.
var ErrNotNorthUp = errors.New("raster is not north up with square pixels")

var outputOptions = []string{
	"COMPRESS=DEFLATE",
	"PREDICTOR=3",
	"TILED=YES",
	"BIGTIFF=IF_SAFER",
}

// Rasters opens product rasters and writes float32 GeoTIFF outputs
// through GDAL.
type Rasters struct{}

func NewRasters() *Rasters {
	RegisterGDALDrivers()
	return &Rasters{}
}

// Dataset is an open single band GDAL dataset.
type Dataset struct {
	mu   sync.Mutex
	path string
	hDS  C.GDALDatasetH
	band C.GDALRasterBandH
	info processor.RasterInfo
}

func (r *Rasters) Open(path string) (processor.SourceRaster, error) {
	ds, err := openDataset(path, C.GA_ReadOnly)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func (r *Rasters) OpenUpdate(path string) (processor.OutputRaster, error) {
	ds, err := openDataset(path, C.GA_Update)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func openDataset(path string, access C.GDALAccess) (*Dataset, error) {
	pathC := C.CString(path)
	defer C.free(unsafe.Pointer(pathC))

	hDS := C.GDALOpen(pathC, access)
	if hDS == nil {
		return nil, fmt.Errorf("%s: %s", path, lastGDALError("GDALOpen"))
	}

	ds := &Dataset{path: path, hDS: hDS}
	if err := ds.describe(); err != nil {
		C.GDALClose(hDS)
		return nil, err
	}
	return ds, nil
}

func (ds *Dataset) describe() error {
	if C.GDALGetRasterCount(ds.hDS) < 1 {
		return fmt.Errorf("%s: no raster bands", ds.path)
	}
	ds.band = C.GDALGetRasterBand(ds.hDS, 1)

	var geot [6]C.double
	if C.GDALGetGeoTransform(ds.hDS, &geot[0]) != 0 {
		return fmt.Errorf("%s: %s", ds.path, lastGDALError("GDALGetGeoTransform"))
	}
	var gt utils.GeoTransform
	for i := range geot {
		gt[i] = float64(geot[i])
	}
	if !gt.IsNorthUp() {
		return fmt.Errorf("%s: geotransform %v: %w", ds.path, gt, ErrNotNorthUp)
	}

	var hasNoData C.int
	noData := float64(C.GDALGetRasterNoDataValue(ds.band, &hasNoData))

	ds.info = processor.NewRasterInfo(gt, int(C.GDALGetRasterXSize(ds.hDS)), int(C.GDALGetRasterYSize(ds.hDS)),
		noData, hasNoData != 0)
	return nil
}

// Create writes an empty single band float32 GeoTIFF filled with the
// no-data value and returns it open for update.
func (r *Rasters) Create(path string, info processor.RasterInfo, srid int) (processor.OutputRaster, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%s: invalid raster size %dx%d", path, info.Width, info.Height)
	}

	driverNameC := C.CString("GTiff")
	defer C.free(unsafe.Pointer(driverNameC))
	hDriver := C.GDALGetDriverByName(driverNameC)
	if hDriver == nil {
		return nil, fmt.Errorf("%s: GTiff driver unavailable", path)
	}

	var driverOptions []*C.char
	for _, opt := range outputOptions {
		optC := C.CString(opt)
		defer C.free(unsafe.Pointer(optC))
		driverOptions = append(driverOptions, optC)
	}
	driverOptions = append(driverOptions, nil)

	pathC := C.CString(path)
	defer C.free(unsafe.Pointer(pathC))
	hDS := C.GDALCreate(hDriver, pathC, C.int(info.Width), C.int(info.Height), 1, C.GDT_Float32, &driverOptions[0])
	if hDS == nil {
		return nil, fmt.Errorf("%s: %s", path, lastGDALError("GDALCreate"))
	}

	ds := &Dataset{path: path, hDS: hDS, band: C.GDALGetRasterBand(hDS, 1), info: info}
	if err := ds.georeference(srid); err != nil {
		ds.Close()
		return nil, err
	}
	if info.HasNoData {
		C.GDALSetRasterNoDataValue(ds.band, C.double(info.NoData))
		if C.GDALFillRaster(ds.band, C.double(info.NoData), 0) != 0 {
			ds.Close()
			return nil, fmt.Errorf("%s: %s", path, lastGDALError("GDALFillRaster"))
		}
	}
	return ds, nil
}

func (ds *Dataset) georeference(srid int) error {
	var geot [6]C.double
	for i, v := range ds.info.GeoTransform() {
		geot[i] = C.double(v)
	}
	if C.GDALSetGeoTransform(ds.hDS, &geot[0]) != 0 {
		return fmt.Errorf("%s: %s", ds.path, lastGDALError("GDALSetGeoTransform"))
	}

	hSRS := C.OSRNewSpatialReference(nil)
	defer C.OSRDestroySpatialReference(hSRS)
	if C.OSRImportFromEPSG(hSRS, C.int(srid)) != C.OGRERR_NONE {
		return fmt.Errorf("%s: unknown EPSG code %d", ds.path, srid)
	}
	var projWKT *C.char
	C.OSRExportToWkt(hSRS, &projWKT)
	defer C.VSIFree(unsafe.Pointer(projWKT))
	if C.GDALSetProjection(ds.hDS, projWKT) != 0 {
		return fmt.Errorf("%s: %s", ds.path, lastGDALError("GDALSetProjection"))
	}
	return nil
}

func (ds *Dataset) Info() processor.RasterInfo {
	return ds.info
}

func (ds *Dataset) checkWindow(x, y, width, height int) error {
	if x < 0 || y < 0 || width <= 0 || height <= 0 || x+width > ds.info.Width || y+height > ds.info.Height {
		return fmt.Errorf("%s: window %d,%d %dx%d outside %dx%d raster", ds.path, x, y, width, height, ds.info.Width, ds.info.Height)
	}
	return nil
}

// Read returns the first band of the window as float32 in row major
// order.
func (ds *Dataset) Read(x, y, width, height int) ([]float32, error) {
	if err := ds.checkWindow(x, y, width, height); err != nil {
		return nil, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.hDS == nil {
		return nil, fmt.Errorf("%s: dataset closed", ds.path)
	}

	data := make([]float32, width*height)
	gerr := C.GDALRasterIO(ds.band, C.GF_Read, C.int(x), C.int(y), C.int(width), C.int(height),
		unsafe.Pointer(&data[0]), C.int(width), C.int(height), C.GDT_Float32, 0, 0)
	if gerr != 0 {
		return nil, fmt.Errorf("%s: %s", ds.path, lastGDALError("GDALRasterIO read"))
	}
	return data, nil
}

func (ds *Dataset) Write(x, y, width, height int, data []float32) error {
	if err := ds.checkWindow(x, y, width, height); err != nil {
		return err
	}
	if len(data) != width*height {
		return fmt.Errorf("%s: %d values for a %dx%d window", ds.path, len(data), width, height)
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.hDS == nil {
		return fmt.Errorf("%s: dataset closed", ds.path)
	}

	gerr := C.GDALRasterIO(ds.band, C.GF_Write, C.int(x), C.int(y), C.int(width), C.int(height),
		unsafe.Pointer(&data[0]), C.int(width), C.int(height), C.GDT_Float32, 0, 0)
	if gerr != 0 {
		return fmt.Errorf("%s: %s", ds.path, lastGDALError("GDALRasterIO write"))
	}
	return nil
}

// Close flushes and releases the dataset. It is safe to call twice.
func (ds *Dataset) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.hDS == nil {
		return nil
	}
	C.GDALClose(ds.hDS)
	ds.hDS = nil
	ds.band = nil
	return nil
}
