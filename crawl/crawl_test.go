package crawl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/catalog"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/crawl/extractor"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/metrics"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/tilegrid"
)

// memStore keeps one table per insert and hands out ids by key.
type memStore struct {
	mu          sync.Mutex
	rasterFiles map[string]catalog.RasterFile
	tuplekeys   map[string]int
	conversions map[string]catalog.UnitConversion
	methods     map[string]int
	ndviFiles   map[string]catalog.NdviFile
}

func newMemStore() *memStore {
	return &memStore{
		rasterFiles: map[string]catalog.RasterFile{},
		tuplekeys:   map[string]int{},
		conversions: map[string]catalog.UnitConversion{},
		methods:     map[string]int{},
		ndviFiles:   map[string]catalog.NdviFile{},
	}
}

func (m *memStore) InsertRasterFile(ctx context.Context, rf catalog.RasterFile) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rasterFiles[rf.RasterID]; ok {
		if existing.JulianDate != rf.JulianDate || existing.Sensor != rf.Sensor {
			return 0, catalog.ErrConflict
		}
		return existing.ID, nil
	}
	rf.ID = len(m.rasterFiles) + 1
	m.rasterFiles[rf.RasterID] = rf
	return rf.ID, nil
}

func (m *memStore) InsertTuplekey(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.tuplekeys[key]; ok {
		return id, nil
	}
	m.tuplekeys[key] = len(m.tuplekeys) + 1
	return m.tuplekeys[key], nil
}

func (m *memStore) InsertUnitConversion(ctx context.Context, uc catalog.UnitConversion) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.conversions[uc.Label]; ok {
		if existing.Gain != uc.Gain || existing.Offset != uc.Offset {
			return 0, catalog.ErrConflict
		}
		return existing.ID, nil
	}
	uc.ID = len(m.conversions) + 1
	m.conversions[uc.Label] = uc
	return uc.ID, nil
}

func (m *memStore) InsertComputationMethod(ctx context.Context, method string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.methods[method]; ok {
		return id, nil
	}
	m.methods[method] = len(m.methods) + 1
	return m.methods[method], nil
}

func (m *memStore) InsertNdviFile(ctx context.Context, nf catalog.NdviFile) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.ndviFiles[nf.FileName]; ok {
		return existing.ID, nil
	}
	nf.ID = len(m.ndviFiles) + 1
	m.ndviFiles[nf.FileName] = nf
	return nf.ID, nil
}

func sidecar(tuplekey, date string, gain float64) string {
	return "raster_id: S2A_" + date + "\nsensor: sentinel2\nacquisition_date: \"" + date + "\"\n" +
		"tuplekey: \"" + tuplekey + "\"\nmethod: boa_ndvi\nconversion: s2_uint16\n" +
		"gain: " + strconv.FormatFloat(gain, 'g', -1, 64) + "\noffset: -0.1\nlod_gsd: 8\n"
}

func writeProduct(t *testing.T, dir, name, doc string, withRaster bool) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(doc), 0644))
	if withRaster {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".tif"), nil, 0644))
	}
}

func TestRegister(t *testing.T) {
	dir := t.TempDir()
	p, err := extractor.ParseSidecar(filepath.Join(dir, "a.yaml"), []byte(sidecar("0312", "2019-04-01", 0.0001)))
	require.NoError(t, err)

	store := newMemStore()
	id, err := Register(context.Background(), store, p)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	nf := store.ndviFiles[filepath.Join(dir, "a.tif")]
	assert.Equal(t, catalog.NdviFile{
		ID: 1, FileName: filepath.Join(dir, "a.tif"), TuplekeyID: 1, RasterFileID: 1,
		UnitConversionID: 1, ComputationMethodID: 1, LodTiles: 4, LodGsd: 8,
	}, nf)
	assert.Equal(t, 2458575, store.rasterFiles["S2A_2019-04-01"].JulianDate)
	assert.Equal(t, catalog.UnitConversion{ID: 1, Label: "s2_uint16", Gain: 0.0001, Offset: -0.1}, store.conversions["s2_uint16"])

	again, err := Register(context.Background(), store, p)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Len(t, store.ndviFiles, 1)
}

func TestRegisterErrors(t *testing.T) {
	dir := t.TempDir()
	store := newMemStore()

	bad, err := extractor.ParseSidecar(filepath.Join(dir, "a.yaml"), []byte(sidecar("0412", "2019-04-01", 0.0001)))
	require.NoError(t, err)
	_, err = Register(context.Background(), store, bad)
	assert.ErrorIs(t, err, tilegrid.ErrInvalidTuplekey)
	assert.Empty(t, store.rasterFiles)

	first, err := extractor.ParseSidecar(filepath.Join(dir, "b.yaml"), []byte(sidecar("0312", "2019-04-01", 0.0001)))
	require.NoError(t, err)
	_, err = Register(context.Background(), store, first)
	require.NoError(t, err)

	drift, err := extractor.ParseSidecar(filepath.Join(dir, "c.yaml"), []byte(sidecar("0313", "2019-04-02", 0.0002)))
	require.NoError(t, err)
	_, err = Register(context.Background(), store, drift)
	assert.ErrorIs(t, err, catalog.ErrConflict)
	assert.Contains(t, err.Error(), "c.yaml")
}

func TestCrawlerRun(t *testing.T) {
	root := t.TempDir()
	writeProduct(t, filepath.Join(root, "2019", "04"), "S2A_0312_20190401", sidecar("0312", "2019-04-01", 0.0001), true)
	writeProduct(t, filepath.Join(root, "2019", "04"), "S2A_0313_20190401", sidecar("0313", "2019-04-01", 0.0001), true)
	writeProduct(t, filepath.Join(root, "2019", "05"), "S2A_0312_20190506", sidecar("0312", "2019-05-06", 0.0001), true)
	writeProduct(t, filepath.Join(root, "2019", "05"), "S2A_0313_20190506", sidecar("0313", "2019-05-06", 0.0001), false)
	writeProduct(t, filepath.Join(root, "2019", "06"), "broken", "raster_id: [", true)

	store := newMemStore()
	collector := metrics.NewCollector("test")
	c := &Crawler{Store: store, Logger: zap.NewNop(), Metrics: collector, Conc: 2}

	sum, err := c.Run(context.Background(), root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
	assert.Equal(t, Summary{Registered: 3, Skipped: 1, Failed: 1}, sum)

	assert.Len(t, store.ndviFiles, 3)
	assert.Len(t, store.tuplekeys, 2)
	assert.Len(t, store.methods, 1)
	assert.Len(t, store.conversions, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.CrawlFilesTotal.WithLabelValues("registered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.CrawlFilesTotal.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.CrawlFilesTotal.WithLabelValues("failed")))

	c.Pattern = "type == 'f' || path !~ '/0[56]$'"
	store = newMemStore()
	c.Store = store
	sum, err = c.Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, Summary{Registered: 2}, sum)
}

func TestCrawlerDryRun(t *testing.T) {
	root := t.TempDir()
	writeProduct(t, root, "S2A_0312_20190401", sidecar("0312", "2019-04-01", 0.0001), true)

	store := newMemStore()
	sum, err := (&Crawler{Store: store, Logger: zap.NewNop(), DryRun: true}).Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Registered)
	assert.Empty(t, store.ndviFiles)
}

func TestCrawlerCancelled(t *testing.T) {
	root := t.TempDir()
	writeProduct(t, root, "S2A_0312_20190401", sidecar("0312", "2019-04-01", 0.0001), true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := newMemStore()
	sum, err := (&Crawler{Store: store, Logger: zap.NewNop()}).Run(ctx, root)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, Summary{Skipped: 1}, sum)
	assert.Empty(t, store.ndviFiles)
}

func TestCrawlerBadPattern(t *testing.T) {
	_, err := (&Crawler{Logger: zap.NewNop(), Pattern: "size > 1"}).Run(context.Background(), t.TempDir())
	assert.Error(t, err)
}
