package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/catalog"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/metrics"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/tilegrid"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

// Settings are the run wide accumulation parameters. The date window
// comes from each project.
type Settings struct {
	InitialNdvi float64
	FinalNdvi   float64
	Kcb         KcbModel
	Eth0        utils.Eth0Table
	OnError     string
}

// Orchestrator drives the accumulation of every ROI in the catalog into
// output rasters.
type Orchestrator struct {
	Catalog  Catalog
	Rasters  RasterAccess
	Geoms    GeometryParser
	Grid     *tilegrid.NestedGrid
	Settings Settings
	Report   *Report
	Logger   *zap.Logger
	Metrics  *metrics.Collector
	UnitLog  metrics.Logger
}

// RoiContext holds what is known about one ROI for the whole run. It
// owns the parsed geometry.
type RoiContext struct {
	Project  catalog.Project
	Geometry Geometry
	Params   Params
	SRID     int
}

func (rc *RoiContext) Close() {
	if rc.Geometry != nil {
		rc.Geometry.Close()
		rc.Geometry = nil
	}
}

// unit is one output raster: a ROI, or the part of a ROI inside a tile.
type unit struct {
	roi      *RoiContext
	tuplekey string
	polygon  tilegrid.Polygon
	wkt      string
	tiles    map[string]map[int]catalog.NdviEntry
	output   string
}

type candidate struct {
	entry catalog.NdviEntry
	buf   *rasterBuffer
}

type timeStep struct {
	jd         int
	candidates []candidate
}

func (o *Orchestrator) Run(ctx context.Context, mode string) (*RunResult, error) {
	switch mode {
	case utils.ModeByRoi, "":
		return o.ByRoi(ctx)
	case utils.ModeByRoiTile:
		return o.ByRoiTile(ctx)
	case utils.ModeByTile:
		return o.ByTile(ctx)
	default:
		return nil, fmt.Errorf("Run: unknown accumulation mode %q", mode)
	}
}

func (o *Orchestrator) start(mode string) (*RunResult, error) {
	if o.Settings.Kcb == nil {
		return nil, fmt.Errorf("%w: no kcb model", ErrInvalidParams)
	}
	res := &RunResult{RunID: uuid.New().String(), Mode: mode}
	o.Logger.Info("accumulation run started", zap.String("run_id", res.RunID), zap.String("mode", mode))
	if err := o.Report.Header(res.RunID, mode, o.Settings); err != nil {
		return nil, fmt.Errorf("report header: %w", err)
	}
	return res, nil
}

func (o *Orchestrator) newRoiContext(p catalog.Project) (*RoiContext, error) {
	params := Params{
		InitialJd:   p.InitialJd,
		FinalJd:     p.FinalJd,
		InitialNdvi: o.Settings.InitialNdvi,
		FinalNdvi:   o.Settings.FinalNdvi,
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("ROI %s: %w", p.Code, err)
	}

	srid := p.OutputSRID
	if srid == 0 {
		srid = o.Grid.SRID
	}
	if srid != o.Grid.SRID {
		return nil, fmt.Errorf("%w: ROI %s output SRID %d differs from the tile grid SRID %d", ErrInvalidParams, p.Code, srid, o.Grid.SRID)
	}

	geom, err := o.Geoms.ParseWKT(p.WKT)
	if err != nil {
		return nil, fmt.Errorf("ROI %s geometry: %w", p.Code, err)
	}
	return &RoiContext{Project: p, Geometry: geom, Params: params, SRID: srid}, nil
}

// runUnit applies the failure policy to one unit. It returns a non nil
// error only when the run must stop.
func (o *Orchestrator) runUnit(ctx context.Context, res *RunResult, roi, tuplekey string, fn func() (string, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	output, err := fn()
	if err == nil {
		if len(output) > 0 {
			res.Outputs = append(res.Outputs, output)
		}
		return nil
	}

	if o.Settings.OnError != utils.OnErrorContinue || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if len(tuplekey) > 0 {
			return fmt.Errorf("tile %s of ROI %s: %w", tuplekey, roi, err)
		}
		return fmt.Errorf("ROI %s: %w", roi, err)
	}

	o.Logger.Error("unit failed, continuing", zap.String("roi", roi), zap.String("tuplekey", tuplekey), zap.Error(err))
	res.Failures = append(res.Failures, UnitFailure{Roi: roi, Tuplekey: tuplekey, Err: err, Message: err.Error()})
	if rerr := o.Report.Failure(roi, tuplekey, err); rerr != nil {
		o.Logger.Warn("report write failed", zap.Error(rerr))
	}
	return nil
}

// ByRoi writes one raster per ROI covering every tile it touches.
func (o *Orchestrator) ByRoi(ctx context.Context) (*RunResult, error) {
	res, err := o.start(utils.ModeByRoi)
	if err != nil {
		return nil, fmt.Errorf("ByRoi: %w", err)
	}
	projects, err := o.Catalog.Projects(ctx)
	if err != nil {
		return nil, fmt.Errorf("ByRoi: %w", err)
	}

	cache := newBufferCache(o.Rasters, o.Metrics)
	for _, p := range projects {
		p := p
		err := o.runUnit(ctx, res, p.Code, "", func() (string, error) {
			defer cache.Flush()

			rc, err := o.newRoiContext(p)
			if err != nil {
				return "", err
			}
			defer rc.Close()

			data, err := o.Catalog.NdviDataByProject(ctx, p.Code)
			if err != nil {
				return "", err
			}
			return o.processUnit(res, &unit{
				roi:     rc,
				polygon: rc.Geometry,
				wkt:     p.WKT,
				tiles:   data.Entries,
				output:  filepath.Join(p.ResultsPath, p.Code+".tif"),
			}, cache)
		})
		if err != nil {
			return res, fmt.Errorf("ByRoi: %w", err)
		}
	}
	return res, nil
}

// ByRoiTile writes one raster per ROI and tile pair and a merge task
// per ROI.
func (o *Orchestrator) ByRoiTile(ctx context.Context) (*RunResult, error) {
	res, err := o.start(utils.ModeByRoiTile)
	if err != nil {
		return nil, fmt.Errorf("ByRoiTile: %w", err)
	}
	projects, err := o.Catalog.Projects(ctx)
	if err != nil {
		return nil, fmt.Errorf("ByRoiTile: %w", err)
	}

	cache := newBufferCache(o.Rasters, o.Metrics)
	for _, p := range projects {
		if err := o.byRoiTile(ctx, res, p, cache); err != nil {
			return res, fmt.Errorf("ByRoiTile: %w", err)
		}
	}
	return res, nil
}

func (o *Orchestrator) byRoiTile(ctx context.Context, res *RunResult, p catalog.Project, cache *bufferCache) error {
	defer cache.Flush()

	var rc *RoiContext
	var data *catalog.RoiNdviData
	err := o.runUnit(ctx, res, p.Code, "", func() (string, error) {
		var err error
		if rc, err = o.newRoiContext(p); err != nil {
			return "", err
		}
		data, err = o.Catalog.NdviDataByProject(ctx, p.Code)
		return "", err
	})
	if rc != nil {
		defer rc.Close()
	}
	if err != nil || data == nil {
		return err
	}

	written := len(res.Outputs)
	for _, tk := range sortedKeys(data.Entries) {
		tk := tk
		err := o.runUnit(ctx, res, p.Code, tk, func() (string, error) {
			return o.tileUnit(ctx, res, rc, tk, data.TileIDs[tk], data.Entries[tk], cache)
		})
		if err != nil {
			return err
		}
	}
	if len(res.Outputs) > written {
		res.MergeTasks = append(res.MergeTasks, MergeTaskFor(p))
	}
	return nil
}

// ByTile walks the catalog tile first so the rasters of a tile are read
// once for every ROI touching it.
func (o *Orchestrator) ByTile(ctx context.Context) (*RunResult, error) {
	res, err := o.start(utils.ModeByTile)
	if err != nil {
		return nil, fmt.Errorf("ByTile: %w", err)
	}
	projects, err := o.Catalog.Projects(ctx)
	if err != nil {
		return nil, fmt.Errorf("ByTile: %w", err)
	}
	data, err := o.Catalog.NdviDataByTuplekey(ctx)
	if err != nil {
		return nil, fmt.Errorf("ByTile: %w", err)
	}

	rois := make(map[string]*RoiContext, len(projects))
	byCode := make(map[string]catalog.Project, len(projects))
	defer func() {
		for _, rc := range rois {
			rc.Close()
		}
	}()
	for _, p := range projects {
		byCode[p.Code] = p
		p := p
		err := o.runUnit(ctx, res, p.Code, "", func() (string, error) {
			rc, err := o.newRoiContext(p)
			if err != nil {
				return "", err
			}
			rois[p.Code] = rc
			return "", nil
		})
		if err != nil {
			return res, fmt.Errorf("ByTile: %w", err)
		}
	}

	cache := newBufferCache(o.Rasters, o.Metrics)
	written := make(map[string]bool)
	for _, tk := range sortedKeys(data.Entries) {
		byRoi := data.Entries[tk]
		for _, code := range sortedKeys(byRoi) {
			rc, ok := rois[code]
			if !ok {
				continue
			}
			tk, code := tk, code
			before := len(res.Outputs)
			err := o.runUnit(ctx, res, code, tk, func() (string, error) {
				return o.tileUnit(ctx, res, rc, tk, data.TileIDs[tk], byRoi[code], cache)
			})
			if err != nil {
				cache.Flush()
				return res, fmt.Errorf("ByTile: %w", err)
			}
			if len(res.Outputs) > before {
				written[code] = true
			}
		}
		cache.Flush()
	}

	for _, code := range sortedKeys(written) {
		res.MergeTasks = append(res.MergeTasks, MergeTaskFor(byCode[code]))
	}
	return res, nil
}

// tileUnit processes the part of a ROI inside one tile. A tile that
// only touches the ROI border produces no output.
func (o *Orchestrator) tileUnit(ctx context.Context, res *RunResult, rc *RoiContext, tk string, tileID int,
	entries map[int]catalog.NdviEntry, cache *bufferCache) (string, error) {
	_, bounds, err := o.Grid.TuplekeyBounds(tk)
	if err != nil {
		return "", err
	}

	wkt, contained, err := o.Catalog.ProjectTuplekeyIntersection(ctx, rc.Project.ID, tileID)
	if errors.Is(err, catalog.ErrNoData) {
		o.Logger.Warn("tile does not overlap ROI, skipped", zap.String("roi", rc.Project.Code), zap.String("tuplekey", tk))
		return "", nil
	}
	if err != nil {
		return "", err
	}

	u := &unit{
		roi:      rc,
		tuplekey: tk,
		tiles:    map[string]map[int]catalog.NdviEntry{tk: entries},
		output:   filepath.Join(rc.Project.ResultsPath, fmt.Sprintf("%s_%s.tif", tk, rc.Project.Code)),
	}
	if contained {
		u.polygon = bounds
		u.wkt = bounds.WKT()
	} else {
		geom, err := o.Geoms.ParseWKT(wkt)
		if err != nil {
			return "", fmt.Errorf("intersection geometry: %w", err)
		}
		defer geom.Close()
		u.polygon = geom
		u.wkt = wkt
	}
	return o.processUnit(res, u, cache)
}

// MergeTaskFor names the per tile rasters of a ROI and its mosaic.
func MergeTaskFor(p catalog.Project) MergeTask {
	return MergeTask{
		Roi:     p.Code,
		Dir:     p.ResultsPath,
		Pattern: "*_" + p.Code + ".tif",
		Output:  filepath.Join(p.ResultsPath, p.Code+".tif"),
	}
}

// processUnit enumerates the unit pixels, accumulates each one and
// writes the output raster in a single call.
func (o *Orchestrator) processUnit(res *RunResult, u *unit, cache *bufferCache) (output string, err error) {
	start := time.Now()
	um := metrics.NewUnitMetrics(o.UnitLog, res.RunID, res.Mode)
	um.Info.Roi = u.roi.Project.Code
	um.Info.Tuplekey = u.tuplekey
	um.Info.Geometry = u.wkt
	reads, hits := cache.reads, cache.hits
	defer func() {
		um.Info.FilesRead = cache.reads - reads
		um.Info.CacheHits = cache.hits - hits
		if err != nil {
			um.Info.Error = err.Error()
		}
		um.Log()
		o.Metrics.ObserveUnit(res.Mode, start, err)
	}()

	maxLod, minGsd, nTiles := o.unitResolution(u)
	if nTiles == 0 {
		return "", fmt.Errorf("no ndvi products: %w", catalog.ErrNoData)
	}
	um.Info.Lod = maxLod
	um.Info.Gsd = minGsd

	ps, err := o.Grid.PixelSet(u.polygon, maxLod, minGsd)
	if err != nil {
		return "", fmt.Errorf("pixel set at lod %d gsd %v: %w", maxLod, minGsd, err)
	}
	um.Info.Pixels = ps.Count()

	p := u.roi.Params
	rerr := o.Report.Unit(reportUnit{
		Roi:         u.roi.Project.Code,
		Tuplekey:    u.tuplekey,
		InitialDate: formatJd(p.InitialJd),
		FinalDate:   formatJd(p.FinalJd),
		InitialJd:   p.InitialJd,
		FinalJd:     p.FinalJd,
		SRID:        u.roi.SRID,
		Lod:         maxLod,
		Gsd:         formatFloat(minGsd),
		Tiles:       nTiles,
		Pixels:      ps.Count(),
		Output:      u.output,
	})
	if rerr != nil {
		o.Logger.Warn("report write failed", zap.Error(rerr))
	}

	timeline, err := o.timeline(u, cache)
	if err != nil {
		return "", err
	}

	acc := &Accumulator{Params: p, Kcb: o.Settings.Kcb, Eth0: o.Settings.Eth0}
	out := utils.NewFloat32Raster(ps.Columns, ps.Rows, utils.NoDataValue)
	valid := 0
	samples := make([]Sample, 0, len(timeline))
	for _, row := range ps.SortedRows() {
		for _, col := range ps.RowColumns[row] {
			x, y := ps.Center(col, row)
			samples = samples[:0]
			for _, step := range timeline {
				s, ok, err := step.sample(x, y, minGsd)
				if err != nil {
					return "", err
				}
				if ok {
					samples = append(samples, s)
				}
			}

			total, ok, err := acc.Accumulate(samples)
			if err != nil {
				return "", fmt.Errorf("pixel (%d, %d): %w", col, row, err)
			}
			if ok {
				out.Set(col, row, float32(total))
				valid++
			}
		}
	}
	um.Info.ValidPixels = valid
	o.Metrics.AddPixels(valid, ps.Count()-valid)

	if err := o.writeOutput(u, ps, out); err != nil {
		return "", err
	}
	um.Info.Output = u.output
	o.Logger.Info("unit written",
		zap.String("roi", u.roi.Project.Code),
		zap.String("tuplekey", u.tuplekey),
		zap.String("output", u.output),
		zap.Int("pixels", ps.Count()),
		zap.Int("valid_pixels", valid))
	return u.output, nil
}

// unitResolution returns the finest tile level and the smallest product
// pixel size among the products of the unit.
func (o *Orchestrator) unitResolution(u *unit) (maxLod int, minGsd float64, nTiles int) {
	minGsd = math.Inf(1)
	for _, byJd := range u.tiles {
		if len(byJd) == 0 {
			continue
		}
		nTiles++
		for _, e := range byJd {
			if e.LodTiles > maxLod {
				maxLod = e.LodTiles
			}
			if gsd := o.Grid.Gsd(e.LodGsd); gsd < minGsd {
				minGsd = gsd
			}
		}
	}
	return maxLod, minGsd, nTiles
}

// timeline groups the products of the unit by julian day inside the
// ROI window. For each day finer tiles come first.
func (o *Orchestrator) timeline(u *unit, cache *bufferCache) ([]timeStep, error) {
	p := u.roi.Params
	byJd := make(map[int][]candidate)
	for _, byDay := range u.tiles {
		for jd, e := range byDay {
			if jd < p.InitialJd || jd > p.FinalJd {
				continue
			}
			byJd[jd] = append(byJd[jd], candidate{entry: e})
		}
	}

	steps := make([]timeStep, 0, len(byJd))
	for jd, cands := range byJd {
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].entry.LodTiles != cands[j].entry.LodTiles {
				return cands[i].entry.LodTiles > cands[j].entry.LodTiles
			}
			return cands[i].entry.Tuplekey < cands[j].entry.Tuplekey
		})
		for i := range cands {
			buf, err := cache.Get(cands[i].entry.FileName)
			if err != nil {
				return nil, fmt.Errorf("jd %d tile %s: %w", jd, cands[i].entry.Tuplekey, err)
			}
			cands[i].buf = buf
		}
		steps = append(steps, timeStep{jd: jd, candidates: cands})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].jd < steps[j].jd })
	return steps, nil
}

// sample picks the value of the first product of the day that covers
// the point with data.
func (ts *timeStep) sample(x, y, minGsd float64) (Sample, bool, error) {
	for _, c := range ts.candidates {
		col, row, covered, err := SourcePixel(x, y, c.buf.Info, minGsd)
		if err != nil {
			return Sample{}, false, fmt.Errorf("%s: %w", c.entry.FileName, err)
		}
		if !covered {
			continue
		}
		v := c.buf.at(col, row)
		if c.buf.isNoData(v) {
			continue
		}
		return Sample{Jd: ts.jd, Raw: float64(v), Gain: c.entry.Gain, Offset: c.entry.Offset}, true, nil
	}
	return Sample{}, false, nil
}

func (o *Orchestrator) writeOutput(u *unit, ps *tilegrid.PixelSet, out *utils.Float32Raster) (err error) {
	if err := out.Validate(); err != nil {
		return fmt.Errorf("output %s: %w", u.output, err)
	}
	if err := os.MkdirAll(filepath.Dir(u.output), 0755); err != nil {
		return fmt.Errorf("output %s: %w", u.output, err)
	}

	info := NewRasterInfo(ps.GeoTransform(), ps.Columns, ps.Rows, utils.NoDataValue, true)
	dst, err := o.Rasters.Create(u.output, info, u.roi.SRID)
	if err != nil {
		return fmt.Errorf("create %s: %w", u.output, err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", u.output, cerr)
		}
	}()

	if err := dst.Write(0, 0, out.Width, out.Height, out.Data); err != nil {
		return fmt.Errorf("write %s: %w", u.output, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
