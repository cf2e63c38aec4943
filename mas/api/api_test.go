package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/nci/gomemcache/memcache"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/catalog"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/metrics"
)

type fakeCatalog struct {
	calls int
	err   error
}

func (f *fakeCatalog) Projects(ctx context.Context) ([]catalog.Project, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []catalog.Project{{ID: 1, Code: "P01", InitialJd: 2458575, FinalJd: 2458600, OutputSRID: 25830}}, nil
}

func (f *fakeCatalog) ProjectGeometries(ctx context.Context) (map[string]string, error) {
	f.calls++
	return map[string]string{"P01": "POLYGON ((0 0, 1 0, 1 1, 0 0))"}, nil
}

func (f *fakeCatalog) NdviDataByProject(ctx context.Context, code string) (*catalog.RoiNdviData, error) {
	f.calls++
	if code != "P01" {
		return nil, fmt.Errorf("NdviDataByProject: %s: %w", code, catalog.ErrNoData)
	}
	return &catalog.RoiNdviData{
		Code: "P01",
		Entries: map[string]map[int]catalog.NdviEntry{
			"0312": {2458575: {Tuplekey: "0312", Jd: 2458575, FileName: "/data/a.tif", Gain: 0.0001}},
		},
		TileIDs:  map[string]int{"0312": 7},
		LodTiles: map[string]int{"0312": 4},
		MaxLod:   4,
	}, nil
}

type mapCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func (c *mapCache) Get(key string) (*memcache.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	if !ok {
		return nil, memcache.ErrCacheMiss
	}
	return &memcache.Item{Key: key, Value: v}, nil
}

func (c *mapCache) Set(item *memcache.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.Key] = item.Value
	return nil
}

func get(t *testing.T, h http.Handler, uri string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, uri, nil))
	return rec.Code, rec.Body.String()
}

func TestHandler(t *testing.T) {
	cat := &fakeCatalog{}
	collector := metrics.NewCollector("test")
	s := NewServer(cat, "", zap.NewNop(), collector)
	h := s.Handler()

	status, body := get(t, h, "/?projects")
	require.Equal(t, http.StatusOK, status)
	var projects []catalog.Project
	require.NoError(t, json.Unmarshal([]byte(body), &projects))
	assert.Equal(t, "P01", projects[0].Code)

	status, body = get(t, h, "/?ndvi&roi=P01")
	require.Equal(t, http.StatusOK, status)
	var data catalog.RoiNdviData
	require.NoError(t, json.Unmarshal([]byte(body), &data))
	assert.Equal(t, "/data/a.tif", data.Entries["0312"][2458575].FileName)
	assert.Equal(t, 4, data.MaxLod)

	status, body = get(t, h, "/?geometries")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "POLYGON")

	status, body = get(t, h, "/?ndvi&roi=P99")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body, "no data")

	status, _ = get(t, h, "/?ndvi")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = get(t, h, "/?intersects")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "unknown operation")

	assert.Equal(t, 3.0, testutil.ToFloat64(collector.APIRequestsTotal.WithLabelValues("ndvi", "2xx"))+
		testutil.ToFloat64(collector.APIRequestsTotal.WithLabelValues("projects", "2xx"))+
		testutil.ToFloat64(collector.APIRequestsTotal.WithLabelValues("geometries", "2xx")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.APIRequestsTotal.WithLabelValues("ndvi", "4xx")))

	status, body = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "test_api_requests_total")
}

func TestHandlerCatalogError(t *testing.T) {
	s := NewServer(&fakeCatalog{err: errors.New("connection refused")}, "", zap.NewNop(), nil)
	status, body := get(t, s.Handler(), "/?projects")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body, "connection refused")
}

func TestHandlerCache(t *testing.T) {
	cat := &fakeCatalog{}
	s := NewServer(cat, "", zap.NewNop(), nil)
	cache := &mapCache{items: map[string][]byte{}}
	s.Cache = cache
	h := s.Handler()

	_, first := get(t, h, "/?ndvi&roi=P01")
	_, second := get(t, h, "/?ndvi&roi=P01")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cat.calls)
	assert.Len(t, cache.items, 1)

	get(t, h, "/?projects")
	assert.Equal(t, 2, cat.calls)

	get(t, h, "/?ndvi&roi=P99")
	get(t, h, "/?ndvi&roi=P99")
	assert.Equal(t, 4, cat.calls, "errors are not cached")
	assert.Len(t, cache.items, 2)
}

func TestServe(t *testing.T) {
	ln, err := Listen(0)
	require.NoError(t, err)

	s := NewServer(&fakeCatalog{}, "", zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	port := ln.Addr().(*net.TCPAddr).Port
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/?projects", port))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), `"code":"P01"`)

	cancel()
	assert.NoError(t, <-done)
}
