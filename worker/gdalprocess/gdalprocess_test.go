package gdalprocess

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/processor"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/tilegrid"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

func TestRasterRoundTrip(t *testing.T) {
	rasters := NewRasters()
	path := filepath.Join(t.TempDir(), "0312_P01.tif")
	info := processor.RasterInfo{NwX: 384, NwY: 704, Gsd: 16, Width: 4, Height: 3, NoData: utils.NoDataValue, HasNoData: true}

	out, err := rasters.Create(path, info, 25830)
	require.NoError(t, err)
	require.NoError(t, out.Write(1, 1, 2, 2, []float32{1, 2, 3, 4}))
	require.Error(t, out.Write(3, 2, 2, 2, []float32{1, 2, 3, 4}))
	require.NoError(t, out.Close())
	require.NoError(t, out.Close())

	src, err := rasters.Open(path)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, info, src.Info())

	data, err := src.Read(0, 0, 4, 3)
	require.NoError(t, err)
	nd := float32(utils.NoDataValue)
	assert.Equal(t, []float32{
		nd, nd, nd, nd,
		nd, 1, 2, nd,
		nd, 3, 4, nd,
	}, data)

	upd, err := rasters.OpenUpdate(path)
	require.NoError(t, err)
	require.NoError(t, upd.Write(0, 0, 1, 1, []float32{9}))
	require.NoError(t, upd.Close())

	src2, err := rasters.Open(path)
	require.NoError(t, err)
	defer src2.Close()
	corner, err := src2.Read(0, 0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{9}, corner)
}

func TestOpenMissingRaster(t *testing.T) {
	rasters := NewRasters()
	path := filepath.Join(t.TempDir(), "missing.tif")

	src, err := rasters.Open(path)
	assert.Error(t, err)
	assert.True(t, src == nil)

	upd, err := rasters.OpenUpdate(path)
	assert.Error(t, err)
	assert.True(t, upd == nil)

	g, err := Geometries{}.ParseWKT("POINT (1 1)")
	assert.Error(t, err)
	assert.True(t, g == nil)
}

func TestCreateUnknownSRID(t *testing.T) {
	_, err := NewRasters().Create(filepath.Join(t.TempDir(), "x.tif"),
		processor.RasterInfo{Gsd: 1, Width: 1, Height: 1}, 999999)
	assert.Error(t, err)
}

func TestGeometry(t *testing.T) {
	// Triangle with vertices (0,0) (100,0) (0,100).
	g, err := ParseWKT("POLYGON ((0 0, 100 0, 0 100, 0 0))")
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, tilegrid.Bounds{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}, g.Envelope())
	assert.True(t, g.ContainsPoint(10, 10))
	assert.False(t, g.ContainsPoint(60, 60))
	assert.False(t, g.ContainsPoint(150, 10))

	assert.True(t, g.IntersectsBounds(tilegrid.Bounds{MinX: 40, MinY: 40, MaxX: 60, MaxY: 60}))
	assert.False(t, g.IntersectsBounds(tilegrid.Bounds{MinX: 60, MinY: 60, MaxX: 80, MaxY: 80}))
	assert.False(t, g.IntersectsBounds(tilegrid.Bounds{MinX: 100, MinY: 0, MaxX: 120, MaxY: 20}), "touching is not overlapping")
	assert.True(t, g.ContainsBounds(tilegrid.Bounds{MinX: 10, MinY: 10, MaxX: 20, MaxY: 20}))
	assert.False(t, g.ContainsBounds(tilegrid.Bounds{MinX: 40, MinY: 40, MaxX: 60, MaxY: 60}))

	g.Close()
	g.Close()
}

func TestGeometryPixelSet(t *testing.T) {
	grid := tilegrid.NewNestedGrid(utils.GridConfig{OriginX: 0, OriginY: 1000, BaseTileSize: 1000, BaseGsd: 100})
	g, err := Geometries{}.ParseWKT("MULTIPOLYGON (((0 0, 1000 0, 1000 1000, 0 1000, 0 0)))")
	require.NoError(t, err)
	defer g.Close()

	ps, err := grid.PixelSet(g, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, ps.Count())
}

func TestParseWKTErrors(t *testing.T) {
	for _, wkt := range []string{"", "POLYGON ((0 0, 1 0", "POINT (1 2)", "POLYGON EMPTY"} {
		g, err := ParseWKT(wkt)
		assert.Error(t, err, wkt)
		assert.Nil(t, g)
	}
}

func TestExternalMerger(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"00_P01.tif", "01_P01.tif", "00_P02.tif"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0644))
	}

	core, logs := observer.New(zap.InfoLevel)
	em := NewExternalMerger([]string{"sh", "-c", `echo "merging $# files"; cat "$@" > "$0"`}, zap.New(core))
	task := processor.MergeTask{Roi: "P01", Dir: dir, Pattern: "*_P01.tif", Output: filepath.Join(dir, "P01.tif")}
	require.NoError(t, em.Merge(context.Background(), task))

	merged, err := os.ReadFile(task.Output)
	require.NoError(t, err)
	assert.Equal(t, "00_P01.tif01_P01.tif", string(merged))
	assert.Equal(t, 1, logs.FilterMessage("merging 2 files").Len())

	failing := NewExternalMerger([]string{"sh", "-c", "exit 3"}, zap.NewNop())
	assert.Error(t, failing.Merge(context.Background(), task))

	assert.Equal(t, utils.DefaultMergeCommand, NewExternalMerger(nil, zap.NewNop()).Command)
}

func TestExternalMergerLongOutputLine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00_P01.tif"), nil, 0644))

	core, logs := observer.New(zap.InfoLevel)
	script := `head -c 200000 /dev/zero | tr '\0' x; echo; head -c 500000 /dev/zero | tr '\0' y; echo; echo done > "$0"`
	em := NewExternalMerger([]string{"sh", "-c", script}, zap.New(core))
	task := processor.MergeTask{Roi: "P01", Dir: dir, Pattern: "*_P01.tif", Output: filepath.Join(dir, "P01.tif")}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, em.Merge(ctx, task))

	merged, err := os.ReadFile(task.Output)
	require.NoError(t, err)
	assert.Equal(t, "done\n", string(merged))
	assert.Equal(t, 1, logs.FilterMessage("merge output no longer relayed").Len())
}
