package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/catalog"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/catalog/catalogtest"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/tilegrid"
)

func openStore(t *testing.T) *catalog.Store {
	t.Helper()
	db := catalogtest.GetTestDB(t)

	grid := &tilegrid.NestedGrid{OriginX: 0, OriginY: 1024, BaseTileSize: 1024, BaseGsd: 64, SRID: 25830}
	store, err := catalog.Open(context.Background(), db.Config, grid, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	footprints := 0
	grid := store.Grid()
	store.SetTileBounds(func(key string) (tilegrid.Tile, tilegrid.Bounds, error) {
		footprints++
		return grid.TuplekeyBounds(key)
	})

	methodID, err := store.InsertComputationMethod(ctx, "itest_nir_red")
	require.NoError(t, err)
	again, err := store.InsertComputationMethod(ctx, "itest_nir_red")
	require.NoError(t, err)
	assert.Equal(t, methodID, again)

	tileID, err := store.InsertTuplekey(ctx, "0312")
	require.NoError(t, err)
	again, err = store.InsertTuplekey(ctx, "0312")
	require.NoError(t, err)
	assert.Equal(t, tileID, again)
	assert.Equal(t, 1, footprints)

	_, err = store.InsertTuplekey(ctx, "0519")
	assert.ErrorIs(t, err, tilegrid.ErrInvalidTuplekey)

	scene := catalog.RasterFile{RasterID: "itest_LC08_20190415", JulianDate: 2458589, Sensor: catalog.SensorNdvi}
	rasterID, err := store.InsertRasterFile(ctx, scene)
	require.NoError(t, err)
	again, err = store.InsertRasterFile(ctx, scene)
	require.NoError(t, err)
	assert.Equal(t, rasterID, again)

	scene.JulianDate++
	_, err = store.InsertRasterFile(ctx, scene)
	assert.ErrorIs(t, err, catalog.ErrConflict)

	uc := catalog.UnitConversion{Label: "itest_scale", Gain: 0.0001, Offset: -1234.5}
	ucID, err := store.InsertUnitConversion(ctx, uc)
	require.NoError(t, err)
	again, err = store.InsertUnitConversion(ctx, uc)
	require.NoError(t, err)
	assert.Equal(t, ucID, again)

	drift := uc
	drift.Gain = 0.0002
	_, err = store.InsertUnitConversion(ctx, drift)
	assert.ErrorIs(t, err, catalog.ErrConflict)

	copied := uc
	copied.Label = "itest_scale_copy"
	_, err = store.InsertUnitConversion(ctx, copied)
	assert.ErrorIs(t, err, catalog.ErrDuplicateConversion)

	product := catalog.NdviFile{
		FileName:            "itest_LC08_20190415_NDVI.tif",
		TuplekeyID:          tileID,
		RasterFileID:        rasterID,
		UnitConversionID:    ucID,
		ComputationMethodID: methodID,
		LodTiles:            4,
		LodGsd:              2,
	}
	productID, err := store.InsertNdviFile(ctx, product)
	require.NoError(t, err)
	again, err = store.InsertNdviFile(ctx, product)
	require.NoError(t, err)
	assert.Equal(t, productID, again)

	// Tile 0312 spans x 384..448, y 640..704.
	inner := catalog.Project{
		Code: "itest-inner", ResultsPath: "/tmp/results",
		InitialJd: 2458570, FinalJd: 2458600, OutputSRID: 25830,
		WKT: "POLYGON ((400 650, 440 650, 440 700, 400 700, 400 650))",
	}
	innerID, err := store.InsertProject(ctx, inner, 0)
	require.NoError(t, err)
	again, err = store.InsertProject(ctx, inner, 0)
	require.NoError(t, err)
	assert.Equal(t, innerID, again)

	outer := catalog.Project{
		Code: "itest-outer", ResultsPath: "/tmp/results",
		InitialJd: 2458570, FinalJd: 2458580, OutputSRID: 25830,
		WKT: "POLYGON ((380 630, 460 630, 460 710, 380 710, 380 630))",
	}
	outerID, err := store.InsertProject(ctx, outer, 25830)
	require.NoError(t, err)

	store.SetComputationMethod("itest_nir_red")
	data, err := store.NdviDataByProject(ctx, "itest-inner")
	require.NoError(t, err)
	require.Contains(t, data.Entries, "0312")
	entry := data.Entries["0312"][2458589]
	assert.Equal(t, product.FileName, entry.FileName)
	assert.Equal(t, 0.0001, entry.Gain)
	assert.Equal(t, -1234.5, entry.Offset)
	assert.Equal(t, 4, data.MaxLod)

	// The product date is outside the outer ROI window.
	_, err = store.NdviDataByProject(ctx, "itest-outer")
	assert.ErrorIs(t, err, catalog.ErrNoData)

	wkt, contained, err := store.ProjectTuplekeyIntersection(ctx, innerID, tileID)
	require.NoError(t, err)
	assert.False(t, contained)
	assert.Contains(t, wkt, "POLYGON")

	_, contained, err = store.ProjectTuplekeyIntersection(ctx, outerID, tileID)
	require.NoError(t, err)
	assert.True(t, contained)

	geoms, err := store.ProjectGeometries(ctx)
	require.NoError(t, err)
	assert.Contains(t, geoms["itest-inner"], "MULTIPOLYGON")

	rows, err := store.QueryColumns(ctx, `SELECT file_name, lod_gsd FROM ndvi_files WHERE id = $1`, productID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, product.FileName, rows[0]["file_name"])
	assert.EqualValues(t, 2, rows[0]["lod_gsd"])
}
