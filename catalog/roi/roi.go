// Package roi reads the regions of interest of a project from GeoJSON.
package roi

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	geo "github.com/nci/geometry"
)

// Roi is a named polygonal footprint in WKT.
type Roi struct {
	Code string
	WKT  string
}

// featureProperties mirrors the GeoJSON members the geometry package
// does not decode.
type featureProperties struct {
	Properties map[string]interface{} `json:"properties"`
}

type document struct {
	Type     string              `json:"type"`
	Features []featureProperties `json:"features"`
}

func Load(path string) ([]Roi, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("roi.Load: %w", err)
	}
	defer f.Close()

	rois, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("roi.Load: %s: %w", path, err)
	}
	return rois, nil
}

// Read decodes a FeatureCollection, or a single Feature, of Polygon and
// MultiPolygon features. Every feature needs a unique "code" property.
func Read(r io.Reader) ([]Roi, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("Problem unmarshalling GeoJSON document: %v", err)
	}

	var features []geo.Feature
	var props []featureProperties
	switch doc.Type {
	case "FeatureCollection":
		var fc geo.FeatureCollection
		if err := json.Unmarshal(body, &fc); err != nil {
			return nil, fmt.Errorf("Problem unmarshalling GeoJSON features: %v", err)
		}
		features = fc.Features
		props = doc.Features
	case "Feature":
		var feat geo.Feature
		if err := json.Unmarshal(body, &feat); err != nil {
			return nil, fmt.Errorf("Problem unmarshalling GeoJSON feature: %v", err)
		}
		var p featureProperties
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		features = []geo.Feature{feat}
		props = []featureProperties{p}
	default:
		return nil, fmt.Errorf("unsupported GeoJSON type %q", doc.Type)
	}

	if len(features) != len(props) {
		return nil, fmt.Errorf("decoded %d geometries for %d features", len(features), len(props))
	}

	rois := make([]Roi, 0, len(features))
	seen := make(map[string]bool)
	for i, feat := range features {
		code, err := featureCode(props[i].Properties)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		if seen[code] {
			return nil, fmt.Errorf("feature %d: duplicated code %q", i, code)
		}
		seen[code] = true

		switch feat.Geometry.(type) {
		case *geo.Polygon, *geo.MultiPolygon:
		default:
			return nil, fmt.Errorf("feature %q: geometry must be a Polygon or MultiPolygon, got %T", code, feat.Geometry)
		}
		rois = append(rois, Roi{Code: code, WKT: feat.Geometry.MarshalWKT()})
	}
	return rois, nil
}

func featureCode(props map[string]interface{}) (string, error) {
	raw, ok := props["code"]
	if !ok {
		return "", fmt.Errorf("missing code property")
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("empty code property")
		}
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported code property %v", raw)
	}
}
