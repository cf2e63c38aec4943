package extractor

import "time"

// Product is an NDVI raster as described by its YAML sidecar.
type Product struct {
	RasterID        string  `yaml:"raster_id" json:"raster_id"`
	Sensor          string  `yaml:"sensor" json:"sensor"`
	AcquisitionDate string  `yaml:"acquisition_date" json:"acquisition_date"`
	Tuplekey        string  `yaml:"tuplekey" json:"tuplekey"`
	Method          string  `yaml:"method" json:"method"`
	File            string  `yaml:"file" json:"file"`
	Conversion      string  `yaml:"conversion" json:"conversion"`
	Gain            float64 `yaml:"gain" json:"gain"`
	Offset          float64 `yaml:"offset" json:"offset"`
	LodGsd          int     `yaml:"lod_gsd" json:"lod_gsd"`

	// Filled by ReadSidecar.
	Sidecar    string `yaml:"-" json:"sidecar"`
	FilePath   string `yaml:"-" json:"file_path"`
	JulianDate int    `yaml:"-" json:"julian_date"`
}

// PosixInfo identifies a crawled file by inode, size and mtime so a
// rewritten product is seen as a new one.
type PosixInfo struct {
	FilePath string    `json:"file_path"`
	INode    uint64    `json:"inode"`
	Size     int64     `json:"size"`
	MTime    time.Time `json:"mtime"`
	ID       string    `json:"id"`
}
