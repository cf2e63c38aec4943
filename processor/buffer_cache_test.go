package processor

import (
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/metrics"
)

func TestBufferCache(t *testing.T) {
	rasters := newMemRasters()
	src := newMemRaster(RasterInfo{NwX: 0, NwY: 40, Gsd: 10, Width: 4, Height: 4, NoData: -1, HasNoData: true}, 7)
	src.set(1, 2, -1)
	rasters.add("a.tif", src)

	collector := metrics.NewCollector("test")
	c := newBufferCache(rasters, collector)

	buf, err := c.Get("a.tif")
	require.NoError(t, err)
	assert.Equal(t, float32(7), buf.at(0, 0))
	assert.True(t, buf.isNoData(buf.at(1, 2)))
	assert.False(t, buf.isNoData(buf.at(2, 1)))
	assert.Equal(t, 0, rasters.open, "rasters are closed once decoded")

	again, err := c.Get("a.tif")
	require.NoError(t, err)
	assert.Same(t, buf, again)
	assert.Equal(t, 1, rasters.opens["a.tif"])
	assert.Equal(t, 1, c.reads)
	assert.Equal(t, 1, c.hits)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.RasterCacheHits))

	c.Flush()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.hits)
	_, err = c.Get("a.tif")
	require.NoError(t, err)
	assert.Equal(t, 2, rasters.opens["a.tif"])

	_, err = c.Get("missing.tif")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
