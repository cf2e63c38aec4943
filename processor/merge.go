package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/metrics"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/tilegrid"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

// Merger mosaics the per tile rasters of one ROI.
type Merger interface {
	Merge(ctx context.Context, task MergeTask) error
}

// RunMerges runs one merge per task, at most limit at a time, and
// waits for all of them. The returned error joins every failure.
func RunMerges(ctx context.Context, merger Merger, tasks []MergeTask, limit int, logger *zap.Logger, m *metrics.Collector) error {
	if len(tasks) == 0 {
		return nil
	}

	var mu sync.Mutex
	var errs []error
	limiter := NewConcLimiter(limit)
	for _, task := range tasks {
		t := task
		if err := limiter.Go(ctx, func() { runMerge(ctx, merger, t, logger, m, &mu, &errs) }); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("merge %s: %w", t.Roi, err))
			mu.Unlock()
			break
		}
	}
	limiter.Wait()

	return errors.Join(errs...)
}

func runMerge(ctx context.Context, merger Merger, t MergeTask, logger *zap.Logger, m *metrics.Collector, mu *sync.Mutex, errs *[]error) {
	start := time.Now()
	err := merger.Merge(ctx, t)
	m.MergeTask(err)
	if err != nil {
		logger.Error("merge failed", zap.String("roi", t.Roi), zap.Error(err))
		mu.Lock()
		*errs = append(*errs, fmt.Errorf("merge %s: %w", t.Roi, err))
		mu.Unlock()
		return
	}
	logger.Info("merge finished", zap.String("roi", t.Roi), zap.String("output", t.Output),
		zap.Duration("duration", time.Since(start)))
}

// MosaicMerger merges in process: it creates the ROI raster over the
// union of the tile rasters and copies each one into its window. All
// tile rasters must share the pixel size.
type MosaicMerger struct {
	Rasters RasterAccess
	SRID    int
}

func (mm *MosaicMerger) Merge(ctx context.Context, task MergeTask) error {
	files, err := MatchTileRasters(task)
	if err != nil {
		return err
	}

	var union RasterInfo
	for i, f := range files {
		info, err := mm.info(f)
		if err != nil {
			return err
		}
		if i == 0 {
			union = info
			continue
		}
		if math.Abs(info.Gsd-union.Gsd) >= GsdTolerance {
			return fmt.Errorf("%w: %s has pixel size %v, %s has %v", ErrInvalidGsd, f, info.Gsd, files[0], union.Gsd)
		}
		union = unionInfo(union, info)
	}
	union.NoData = utils.NoDataValue
	union.HasNoData = true

	dst, err := mm.Rasters.Create(task.Output, union, mm.SRID)
	if err != nil {
		return fmt.Errorf("create %s: %w", task.Output, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close %s: %w", task.Output, err)
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := mm.copyInto(f, task.Output, union); err != nil {
			return err
		}
	}
	return nil
}

func (mm *MosaicMerger) info(path string) (RasterInfo, error) {
	src, err := mm.Rasters.Open(path)
	if err != nil {
		return RasterInfo{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()
	return src.Info(), nil
}

func (mm *MosaicMerger) copyInto(path, output string, union RasterInfo) error {
	src, err := mm.Rasters.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	info := src.Info()
	data, err := src.Read(0, 0, info.Width, info.Height)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	dst, err := mm.Rasters.OpenUpdate(output)
	if err != nil {
		return fmt.Errorf("open %s for update: %w", output, err)
	}
	defer dst.Close()

	xOff := int(math.Round((info.NwX - union.NwX) / union.Gsd))
	yOff := int(math.Round((union.NwY - info.NwY) / union.Gsd))
	if err := dst.Write(xOff, yOff, info.Width, info.Height, data); err != nil {
		return fmt.Errorf("write %s into %s: %w", path, output, err)
	}
	return nil
}

// MatchTileRasters lists the tile rasters a merge task covers, leaving
// out the merged output itself. Only <tuplekey>_<roi>.tif names are
// kept, so the outputs of a ROI whose code ends in _<roi> do not match.
func MatchTileRasters(task MergeTask) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(task.Dir, task.Pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", task.Pattern, err)
	}
	suffix := "_" + task.Roi + ".tif"
	files := matches[:0]
	for _, f := range matches {
		if filepath.Clean(f) == filepath.Clean(task.Output) {
			continue
		}
		name := filepath.Base(f)
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		if _, err := tilegrid.ParseTuplekey(strings.TrimSuffix(name, suffix)); err != nil {
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no rasters match %s in %s", task.Pattern, task.Dir)
	}
	return files, nil
}

func unionInfo(a, b RasterInfo) RasterInfo {
	ab, bb := a.Bounds(), b.Bounds()
	minX := math.Min(ab.MinX, bb.MinX)
	maxX := math.Max(ab.MaxX, bb.MaxX)
	minY := math.Min(ab.MinY, bb.MinY)
	maxY := math.Max(ab.MaxY, bb.MaxY)
	return RasterInfo{
		NwX:    minX,
		NwY:    maxY,
		Gsd:    a.Gsd,
		Width:  int(math.Round((maxX - minX) / a.Gsd)),
		Height: int(math.Round((maxY - minY) / a.Gsd)),
	}
}
