package metrics

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memLogger struct {
	infos []*UnitInfo
}

func (l *memLogger) Log(info *UnitInfo) {
	l.infos = append(l.infos, info)
}

func TestUnitMetricsLog(t *testing.T) {
	sink := &memLogger{}
	m := NewUnitMetrics(sink, "run-1", "roi")
	m.Info.Roi = "parcel-7"
	m.Info.Pixels = 12
	m.Log()

	require.Len(t, sink.infos, 1)
	assert.Equal(t, "run-1", sink.infos[0].RunID)
	assert.Equal(t, "parcel-7", sink.infos[0].Roi)

	doc, err := sink.infos[0].ToJSON()
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(doc), &decoded))
	assert.Equal(t, "POLYGON EMPTY", decoded["geometry"])
	assert.Equal(t, "roi", decoded["mode"])
	assert.NotContains(t, decoded, "error")
}

func TestFileLoggerRotation(t *testing.T) {
	dir := t.TempDir()
	l := NewFileLogger(dir, 64, 2, zap.NewNop())
	for i := 0; i < 20; i++ {
		l.Log(&UnitInfo{RunID: "run", Mode: "tile", Tuplekey: "0123"})
	}
	l.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	lines := 0
	rotated := 0
	for _, e := range entries {
		if strings.Contains(e.Name(), ".") {
			rotated++
		}
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		lines += strings.Count(string(body), "\n")
	}
	assert.Greater(t, rotated, 0)
	// Each writer keeps its live file plus at most two rotated copies.
	assert.LessOrEqual(t, rotated, 2*defaultLogWriters)
	assert.Greater(t, lines, 0)
}

func TestCollector(t *testing.T) {
	c := NewCollector("cropwater")

	c.ObserveUnit("roi", time.Now(), nil)
	c.ObserveUnit("roi", time.Now(), errors.New("boom"))
	c.AddPixels(3, 2)
	c.RasterRead(false)
	c.RasterRead(true)
	c.RasterRead(true)
	c.MergeTask(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.UnitsTotal.WithLabelValues("roi", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.UnitsTotal.WithLabelValues("roi", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.PixelsTotal.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RasterReadsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.RasterCacheHits))

	path := filepath.Join(t.TempDir(), "cropwater.prom")
	require.NoError(t, c.WriteTextfile(path))
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cropwater_accumulation_units_total")
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ObserveQuery("q", time.Now(), nil)
	c.AddPixels(1, 1)
	assert.NoError(t, c.WriteTextfile("ignored"))
}
