package processor

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/catalog"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/tilegrid"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

type memRaster struct {
	info   RasterInfo
	srid   int
	data   []float32
	writes int
}

func newMemRaster(info RasterInfo, fill float32) *memRaster {
	data := make([]float32, info.Width*info.Height)
	for i := range data {
		data[i] = fill
	}
	return &memRaster{info: info, data: data}
}

func (r *memRaster) set(col, row int, v float32) {
	r.data[row*r.info.Width+col] = v
}

func (r *memRaster) at(col, row int) float32 {
	return r.data[row*r.info.Width+col]
}

type memHandle struct {
	r       *memRaster
	onClose func()
}

func (h *memHandle) Info() RasterInfo { return h.r.info }

func (h *memHandle) Read(x, y, width, height int) ([]float32, error) {
	if x < 0 || y < 0 || x+width > h.r.info.Width || y+height > h.r.info.Height {
		return nil, fmt.Errorf("window %d,%d %dx%d outside raster", x, y, width, height)
	}
	out := make([]float32, 0, width*height)
	for row := y; row < y+height; row++ {
		start := row*h.r.info.Width + x
		out = append(out, h.r.data[start:start+width]...)
	}
	return out, nil
}

func (h *memHandle) Write(x, y, width, height int, data []float32) error {
	if x < 0 || y < 0 || x+width > h.r.info.Width || y+height > h.r.info.Height {
		return fmt.Errorf("window %d,%d %dx%d outside raster", x, y, width, height)
	}
	for row := 0; row < height; row++ {
		copy(h.r.data[(y+row)*h.r.info.Width+x:], data[row*width:(row+1)*width])
	}
	h.r.writes++
	return nil
}

func (h *memHandle) Close() error {
	if h.onClose != nil {
		h.onClose()
	}
	return nil
}

// memRasters is an in memory RasterAccess keyed by path.
type memRasters struct {
	mu      sync.Mutex
	files   map[string]*memRaster
	opens   map[string]int
	created []string
	open    int
}

func newMemRasters() *memRasters {
	return &memRasters{files: make(map[string]*memRaster), opens: make(map[string]int)}
}

func (m *memRasters) add(path string, r *memRaster) {
	m.files[path] = r
}

func (m *memRasters) handle(r *memRaster) *memHandle {
	m.open++
	return &memHandle{r: r, onClose: func() {
		m.mu.Lock()
		m.open--
		m.mu.Unlock()
	}}
}

func (m *memRasters) Open(path string) (SourceRaster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
	}
	m.opens[path]++
	return m.handle(r), nil
}

func (m *memRasters) Create(path string, info RasterInfo, srid int) (OutputRaster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := newMemRaster(info, float32(info.NoData))
	r.srid = srid
	m.files[path] = r
	m.created = append(m.created, path)
	return m.handle(r), nil
}

func (m *memRasters) OpenUpdate(path string) (OutputRaster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
	}
	return m.handle(r), nil
}

type boxGeometry struct {
	tilegrid.Bounds
	closed *int
}

func (g *boxGeometry) Close() {
	*g.closed++
}

// boxParser resolves WKT strings to rectangles registered beforehand.
type boxParser struct {
	boxes  map[string]tilegrid.Bounds
	parsed int
	closed int
}

func (p *boxParser) ParseWKT(wkt string) (Geometry, error) {
	b, ok := p.boxes[wkt]
	if !ok {
		return nil, fmt.Errorf("unknown geometry %q", wkt)
	}
	p.parsed++
	return &boxGeometry{Bounds: b, closed: &p.closed}, nil
}

type intersection struct {
	wkt       string
	contained bool
	err       error
}

type memCatalog struct {
	projects      []catalog.Project
	byProject     map[string]*catalog.RoiNdviData
	byTile        *catalog.TileNdviData
	intersections map[[2]int]intersection
}

func (c *memCatalog) Projects(ctx context.Context) ([]catalog.Project, error) {
	return c.projects, nil
}

func (c *memCatalog) NdviDataByProject(ctx context.Context, code string) (*catalog.RoiNdviData, error) {
	d, ok := c.byProject[code]
	if !ok {
		return nil, fmt.Errorf("NdviDataByProject: %s: %w", code, catalog.ErrNoData)
	}
	return d, nil
}

func (c *memCatalog) NdviDataByTuplekey(ctx context.Context) (*catalog.TileNdviData, error) {
	if c.byTile == nil {
		return nil, catalog.ErrNoData
	}
	return c.byTile, nil
}

func (c *memCatalog) ProjectTuplekeyIntersection(ctx context.Context, roiID, tileID int) (string, bool, error) {
	in, ok := c.intersections[[2]int{roiID, tileID}]
	if !ok {
		return "", false, catalog.ErrNotFound
	}
	return in.wkt, in.contained, in.err
}

// roiData pivots entries the way the catalog does for one ROI.
func roiData(code string, tileIDs map[string]int, entries ...catalog.NdviEntry) *catalog.RoiNdviData {
	d := &catalog.RoiNdviData{
		Code:     code,
		Entries:  make(map[string]map[int]catalog.NdviEntry),
		TileIDs:  tileIDs,
		LodTiles: make(map[string]int),
	}
	for _, e := range entries {
		if d.Entries[e.Tuplekey] == nil {
			d.Entries[e.Tuplekey] = make(map[int]catalog.NdviEntry)
		}
		d.Entries[e.Tuplekey][e.Jd] = e
		d.LodTiles[e.Tuplekey] = e.LodTiles
		if e.LodTiles > d.MaxLod {
			d.MaxLod = e.LodTiles
		}
	}
	return d
}

func uniformEth0(from, to int, v float64) utils.Eth0Table {
	t := make(utils.Eth0Table)
	for jd := from; jd <= to; jd++ {
		t[jd] = v
	}
	return t
}
