package gdalprocess

// #include "gdal.h"
// #include "gdal_frmts.h"
// #include "cpl_error.h"
// #cgo pkg-config: gdal
import "C"

import (
	"sync"
)

var registerOnce sync.Once

// RegisterGDALDrivers loads the GDAL drivers once per process with
// GTiff first, since every product and output raster is a GeoTIFF and
// drivers are probed in registration order.
func RegisterGDALDrivers() {
	registerOnce.Do(func() {
		haveGTiff := false
		C.GDALAllRegister()
		for i := 0; i < int(C.GDALGetDriverCount()); i++ {
			driver := C.GDALGetDriver(C.int(i))
			if C.GoString(C.GDALGetDriverShortName(driver)) == "GTiff" {
				haveGTiff = true
			}
		}
		if !haveGTiff {
			return
		}

		for C.GDALGetDriverCount() > 0 {
			C.GDALDeregisterDriver(C.GDALGetDriver(0))
		}
		C.GDALRegister_GTiff()
		C.GDALAllRegister()
	})
}

func lastGDALError(op string) string {
	msg := C.GoString(C.CPLGetLastErrorMsg())
	if len(msg) == 0 {
		return op + " failed"
	}
	return op + ": " + msg
}
