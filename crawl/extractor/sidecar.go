package extractor

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

const AcquisitionDateLayout = "2006-01-02"

var sidecarExtensions = []string{".yaml", ".yml"}

// IsSidecar reports whether path names a product sidecar.
func IsSidecar(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range sidecarExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ReadSidecar parses a product sidecar. The raster it describes is
// resolved against the sidecar directory and defaults to the sidecar
// name with a .tif extension.
func ReadSidecar(path string) (*Product, error) {
	doc, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSidecar(path, doc)
}

func ParseSidecar(path string, doc []byte) (*Product, error) {
	var p Product
	if err := yaml.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}

	if err := p.check(); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}

	jd, err := utils.ParseJulianDate(AcquisitionDateLayout, p.AcquisitionDate)
	if err != nil {
		return nil, fmt.Errorf("%s: acquisition_date: %v", path, err)
	}
	p.JulianDate = jd

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	p.Sidecar = absPath

	file := p.File
	if len(file) == 0 {
		file = strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath)) + ".tif"
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(filepath.Dir(absPath), file)
	}
	p.FilePath = filepath.Clean(file)

	if len(p.Conversion) == 0 {
		p.Conversion = p.Sensor
	}
	return &p, nil
}

func (p *Product) check() error {
	var missing []string
	for _, f := range []struct{ key, val string }{
		{"raster_id", p.RasterID},
		{"sensor", p.Sensor},
		{"acquisition_date", p.AcquisitionDate},
		{"tuplekey", p.Tuplekey},
		{"method", p.Method},
	} {
		if len(strings.TrimSpace(f.val)) == 0 {
			missing = append(missing, f.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	if p.Gain == 0 {
		return fmt.Errorf("gain must not be zero")
	}
	if p.LodGsd < 0 {
		return fmt.Errorf("negative lod_gsd %d", p.LodGsd)
	}
	return nil
}
