package processor

import (
	"fmt"

	"github.com/patrickmn/go-cache"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/metrics"
)

// rasterBuffer is a fully decoded product raster.
type rasterBuffer struct {
	Info RasterInfo
	Data []float32
}

func (b *rasterBuffer) at(col, row int) float32 {
	return b.Data[row*b.Info.Width+col]
}

func (b *rasterBuffer) isNoData(v float32) bool {
	return v != v || (b.Info.HasNoData && v == float32(b.Info.NoData))
}

// bufferCache keeps the decoded rasters of one processing unit keyed by
// file name. Each raster is opened, read whole and closed at once so at
// most one handle is open at a time.
type bufferCache struct {
	cache   *cache.Cache
	access  RasterAccess
	metrics *metrics.Collector

	reads int
	hits  int
}

func newBufferCache(access RasterAccess, m *metrics.Collector) *bufferCache {
	return &bufferCache{
		cache:   cache.New(cache.NoExpiration, 0),
		access:  access,
		metrics: m,
	}
}

func (c *bufferCache) Get(fileName string) (*rasterBuffer, error) {
	if v, found := c.cache.Get(fileName); found {
		c.hits++
		c.metrics.RasterRead(true)
		return v.(*rasterBuffer), nil
	}

	buf, err := c.load(fileName)
	if err != nil {
		return nil, err
	}
	c.reads++
	c.metrics.RasterRead(false)
	c.cache.Set(fileName, buf, cache.NoExpiration)
	return buf, nil
}

func (c *bufferCache) load(fileName string) (*rasterBuffer, error) {
	src, err := c.access.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fileName, err)
	}
	defer src.Close()

	info := src.Info()
	data, err := src.Read(0, 0, info.Width, info.Height)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileName, err)
	}
	if len(data) != info.Width*info.Height {
		return nil, fmt.Errorf("read %s: got %d values for a %dx%d raster", fileName, len(data), info.Width, info.Height)
	}
	return &rasterBuffer{Info: info, Data: data}, nil
}

func (c *bufferCache) Len() int {
	return c.cache.ItemCount()
}

// Flush drops every buffer and resets the counters.
func (c *bufferCache) Flush() {
	c.cache.Flush()
	c.reads = 0
	c.hits = 0
}
