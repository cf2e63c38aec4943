package roi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const collection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"code": "parcel-1"},
     "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [10, 0], [10, 10], [0, 10], [0, 0]]]}},
    {"type": "Feature", "properties": {"code": 42},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[20, 20], [30, 20], [30, 30], [20, 20]]]]}}
  ]
}`

func TestRead(t *testing.T) {
	rois, err := Read(strings.NewReader(collection))
	require.NoError(t, err)
	require.Len(t, rois, 2)

	assert.Equal(t, "parcel-1", rois[0].Code)
	assert.True(t, strings.HasPrefix(rois[0].WKT, "POLYGON"), rois[0].WKT)
	assert.Equal(t, "42", rois[1].Code)
	assert.True(t, strings.HasPrefix(rois[1].WKT, "MULTIPOLYGON"), rois[1].WKT)
}

func TestReadSingleFeature(t *testing.T) {
	doc := `{"type": "Feature", "properties": {"code": "only"},
	  "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 0]]]}}`
	rois, err := Read(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, rois, 1)
	assert.Equal(t, "only", rois[0].Code)
}

func TestReadErrors(t *testing.T) {
	cases := map[string]string{
		"not json":  `{`,
		"geometry":  `{"type": "Point", "coordinates": [0, 0]}`,
		"no code":   `{"type": "Feature", "properties": {}, "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 0]]]}}`,
		"point":     `{"type": "Feature", "properties": {"code": "p"}, "geometry": {"type": "Point", "coordinates": [0, 0]}}`,
		"duplicate": strings.Replace(collection, `"code": 42`, `"code": "parcel-1"`, 1),
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}
