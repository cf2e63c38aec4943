package catalog

// Sensor types accepted by raster_files.
const (
	SensorLandsat8   = "landsat8"
	SensorSentinel2  = "sentinel2"
	SensorOrthoimage = "orthoimage"
	SensorNdvi       = "ndvi"
)

type RasterFile struct {
	ID         int    `db:"id" json:"id"`
	RasterID   string `db:"raster_id" json:"raster_id"`
	JulianDate int    `db:"julian_date" json:"julian_date"`
	Sensor     string `db:"sensor" json:"sensor"`
}

type Tuplekey struct {
	ID       int    `db:"id" json:"id"`
	Tuplekey string `db:"tuplekey" json:"tuplekey"`
	LOD      int    `db:"lod" json:"lod"`
	TileX    int    `db:"tile_x" json:"tile_x"`
	TileY    int    `db:"tile_y" json:"tile_y"`
	WKT      string `db:"wkt" json:"wkt"`
}

type UnitConversion struct {
	ID     int     `db:"id" json:"id"`
	Label  string  `db:"conversion_type" json:"label"`
	Gain   float64 `db:"gain" json:"gain"`
	Offset float64 `db:"offset_value" json:"offset"`
}

type NdviFile struct {
	ID                  int    `db:"id" json:"id"`
	FileName            string `db:"file_name" json:"file_name"`
	TuplekeyID          int    `db:"tuplekey_id" json:"tuplekey_id"`
	RasterFileID        int    `db:"raster_file_id" json:"raster_file_id"`
	UnitConversionID    int    `db:"raster_unit_conversion_id" json:"raster_unit_conversion_id"`
	ComputationMethodID int    `db:"computation_method_id" json:"computation_method_id"`
	LodTiles            int    `db:"lod_tiles" json:"lod_tiles"`
	LodGsd              int    `db:"lod_gsd" json:"lod_gsd"`
}

// Project is a region of interest with its processing window. WKT is
// the footprint in the grid CRS.
type Project struct {
	ID          int    `db:"id" json:"id"`
	Code        string `db:"code" json:"code"`
	ResultsPath string `db:"results_path" json:"results_path"`
	InitialJd   int    `db:"initial_jd" json:"initial_jd"`
	FinalJd     int    `db:"final_jd" json:"final_jd"`
	OutputSRID  int    `db:"output_srid" json:"output_srid"`
	WKT         string `db:"wkt" json:"wkt"`
}

// NdviEntry is one NDVI product sample of a tile at a julian day, with
// the coefficients that convert its raw values into NDVI.
type NdviEntry struct {
	TuplekeyID int     `json:"tuplekey_id"`
	Tuplekey   string  `json:"tuplekey"`
	Jd         int     `json:"jd"`
	FileName   string  `json:"file_name"`
	Gain       float64 `json:"gain"`
	Offset     float64 `json:"offset"`
	LodTiles   int     `json:"lod_tiles"`
	LodGsd     int     `json:"lod_gsd"`
	Scene      string  `json:"scene"`
}

// RoiNdviData is the NDVI time series of one ROI keyed tile first.
type RoiNdviData struct {
	Code     string                       `json:"code"`
	Entries  map[string]map[int]NdviEntry `json:"entries"`
	TileIDs  map[string]int               `json:"tile_ids"`
	LodTiles map[string]int               `json:"lod_tiles"`
	MaxLod   int                          `json:"max_lod"`
}

// TileNdviData is the same join as RoiNdviData for every ROI, pivoted
// tile first so a tile's rasters can be shared across ROIs.
type TileNdviData struct {
	Entries  map[string]map[string]map[int]NdviEntry
	TileIDs  map[string]int
	RoiIDs   map[string]int
	LodTiles map[string]int
	ByFile   map[string]NdviEntry
}

// ndviRow is the flat result of the NDVI product join.
type ndviRow struct {
	RoiID      int     `db:"roi_id"`
	RoiCode    string  `db:"roi_code"`
	TuplekeyID int     `db:"tuplekey_id"`
	Tuplekey   string  `db:"tuplekey"`
	Jd         int     `db:"julian_date"`
	FileName   string  `db:"file_name"`
	Gain       float64 `db:"gain"`
	Offset     float64 `db:"offset_value"`
	LodTiles   int     `db:"lod_tiles"`
	LodGsd     int     `db:"lod_gsd"`
}
