// Package crawl registers NDVI products found on disk into the catalog.
package crawl

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/catalog"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/crawl/extractor"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/metrics"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/tilegrid"
)

// Registrar is the subset of the catalog store that product
// registration writes through.
type Registrar interface {
	InsertRasterFile(ctx context.Context, rf catalog.RasterFile) (int, error)
	InsertTuplekey(ctx context.Context, key string) (int, error)
	InsertUnitConversion(ctx context.Context, uc catalog.UnitConversion) (int, error)
	InsertComputationMethod(ctx context.Context, method string) (int, error)
	InsertNdviFile(ctx context.Context, nf catalog.NdviFile) (int, error)
}

// Register records a product and everything it references. All inserts
// are idempotent so registering a product twice returns the same id.
func Register(ctx context.Context, store Registrar, p *extractor.Product) (int, error) {
	tile, err := tilegrid.ParseTuplekey(p.Tuplekey)
	if err != nil {
		return 0, fmt.Errorf("Register: %s: %w", p.Sidecar, err)
	}

	rasterFileID, err := store.InsertRasterFile(ctx, catalog.RasterFile{
		RasterID:   p.RasterID,
		JulianDate: p.JulianDate,
		Sensor:     p.Sensor,
	})
	if err != nil {
		return 0, fmt.Errorf("Register: %w", err)
	}

	tuplekeyID, err := store.InsertTuplekey(ctx, p.Tuplekey)
	if err != nil {
		return 0, fmt.Errorf("Register: %w", err)
	}

	conversionID, err := store.InsertUnitConversion(ctx, catalog.UnitConversion{
		Label:  p.Conversion,
		Gain:   p.Gain,
		Offset: p.Offset,
	})
	if err != nil {
		return 0, fmt.Errorf("Register: %s: %w", p.Sidecar, err)
	}

	methodID, err := store.InsertComputationMethod(ctx, p.Method)
	if err != nil {
		return 0, fmt.Errorf("Register: %w", err)
	}

	id, err := store.InsertNdviFile(ctx, catalog.NdviFile{
		FileName:            p.FilePath,
		TuplekeyID:          tuplekeyID,
		RasterFileID:        rasterFileID,
		UnitConversionID:    conversionID,
		ComputationMethodID: methodID,
		LodTiles:            tile.LOD,
		LodGsd:              p.LodGsd,
	})
	if err != nil {
		return 0, fmt.Errorf("Register: %w", err)
	}
	return id, nil
}

// Crawler walks product directories and registers every sidecar whose
// raster exists.
type Crawler struct {
	Store         Registrar
	Logger        *zap.Logger
	Metrics       *metrics.Collector
	Conc          int
	Pattern       string
	FollowSymlink bool
	DryRun        bool
}

// Summary counts the sidecars of one crawl by outcome.
type Summary struct {
	Registered int `json:"registered"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

func (c *Crawler) Run(ctx context.Context, root string) (Summary, error) {
	var (
		mu  sync.Mutex
		sum Summary
	)
	count := func(status string) {
		mu.Lock()
		defer mu.Unlock()
		switch status {
		case "registered":
			sum.Registered++
		case "skipped":
			sum.Skipped++
		default:
			sum.Failed++
		}
		c.Metrics.CrawlFile(status)
	}

	expr, err := extractor.ParsePatternExpression(c.Pattern)
	if err != nil {
		return sum, fmt.Errorf("crawl pattern: %v", err)
	}

	crawler := extractor.NewPosixCrawler(c.Conc, expr, c.FollowSymlink)
	err = crawler.Crawl(root, func(info *extractor.PosixInfo) error {
		if err := ctx.Err(); err != nil {
			count("skipped")
			return nil
		}

		p, err := extractor.ReadSidecar(info.FilePath)
		if err != nil {
			count("failed")
			return err
		}
		if _, err := os.Stat(p.FilePath); err != nil {
			c.Logger.Warn("product raster missing", zap.String("sidecar", p.Sidecar), zap.String("file", p.FilePath))
			count("skipped")
			return nil
		}

		if c.DryRun {
			c.Logger.Info("product found", zap.String("file", p.FilePath), zap.String("tuplekey", p.Tuplekey), zap.Int("jd", p.JulianDate))
			count("registered")
			return nil
		}

		id, err := Register(ctx, c.Store, p)
		if err != nil {
			count("failed")
			return err
		}
		c.Logger.Debug("product registered", zap.Int("id", id), zap.String("file", p.FilePath),
			zap.String("tuplekey", p.Tuplekey), zap.Int("jd", p.JulianDate), zap.String("signature", info.ID))
		count("registered")
		return nil
	})

	c.Logger.Info("crawl finished", zap.String("root", root),
		zap.Int("registered", sum.Registered), zap.Int("skipped", sum.Skipped), zap.Int("failed", sum.Failed))
	if err == nil {
		err = ctx.Err()
	}
	return sum, err
}
