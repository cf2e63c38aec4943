package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ConversionTolerance is the largest gain or offset difference under
// which two unit conversions are the same.
const ConversionTolerance = 1e-6

// All inserts are idempotent: an existing identical row returns its id.

func (s *Store) InsertRasterFile(ctx context.Context, rf RasterFile) (int, error) {
	switch rf.Sensor {
	case SensorLandsat8, SensorSentinel2, SensorOrthoimage, SensorNdvi:
	default:
		return 0, fmt.Errorf("InsertRasterFile: %s: unknown sensor %q", rf.RasterID, rf.Sensor)
	}

	var existing RasterFile
	err := s.getContext(ctx, "lookup_raster_file", &existing,
		`SELECT id, raster_id, julian_date, sensor FROM raster_files WHERE raster_id = $1`, rf.RasterID)
	if err == nil {
		if existing.JulianDate != rf.JulianDate || existing.Sensor != rf.Sensor {
			return 0, fmt.Errorf("InsertRasterFile: %s recorded as (%d, %s): %w",
				rf.RasterID, existing.JulianDate, existing.Sensor, ErrConflict)
		}
		return existing.ID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("InsertRasterFile: %s: %w", rf.RasterID, err)
	}

	id, err := s.insertReturningID(ctx, "insert_raster_file",
		`INSERT INTO raster_files (raster_id, julian_date, sensor) VALUES ($1, $2, $3)
		 ON CONFLICT (raster_id) DO NOTHING RETURNING id`,
		`SELECT id FROM raster_files WHERE raster_id = $1`,
		[]interface{}{rf.RasterID, rf.JulianDate, rf.Sensor}, rf.RasterID)
	if err != nil {
		return 0, fmt.Errorf("InsertRasterFile: %s: %w", rf.RasterID, err)
	}
	return id, nil
}

// InsertTuplekey registers a tile. Its footprint is computed from the
// grid only when the tile is not yet known.
func (s *Store) InsertTuplekey(ctx context.Context, key string) (int, error) {
	var id int
	err := s.getContext(ctx, "lookup_tuplekey", &id, `SELECT id FROM tuplekeys WHERE tuplekey = $1`, key)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("InsertTuplekey: %s: %w", key, err)
	}

	tile, bounds, err := s.tileBounds(key)
	if err != nil {
		return 0, fmt.Errorf("InsertTuplekey: %w", err)
	}

	id, err = s.insertReturningID(ctx, "insert_tuplekey",
		`INSERT INTO tuplekeys (tuplekey, lod, tile_x, tile_y, the_geom)
		 VALUES ($1, $2, $3, $4, ST_GeomFromText($5, $6))
		 ON CONFLICT (tuplekey) DO NOTHING RETURNING id`,
		`SELECT id FROM tuplekeys WHERE tuplekey = $1`,
		[]interface{}{key, tile.LOD, tile.X, tile.Y, bounds.WKT(), s.grid.SRID}, key)
	if err != nil {
		return 0, fmt.Errorf("InsertTuplekey: %s: %w", key, err)
	}
	s.logger.Debug("tuplekey registered", zap.String("tuplekey", key), zap.Int("lod", tile.LOD))
	return id, nil
}

// matchConversion checks a new conversion against the recorded pool.
// It returns the id of an equal conversion under the same label, or 0
// when the conversion is new.
func matchConversion(pool []UnitConversion, uc UnitConversion) (int, error) {
	for _, existing := range pool {
		near := math.Abs(existing.Gain-uc.Gain) <= ConversionTolerance &&
			math.Abs(existing.Offset-uc.Offset) <= ConversionTolerance

		if existing.Label == uc.Label {
			if near {
				return existing.ID, nil
			}
			return 0, fmt.Errorf("%s recorded with gain %v offset %v, got gain %v offset %v: %w",
				uc.Label, existing.Gain, existing.Offset, uc.Gain, uc.Offset, ErrConflict)
		}
		if near {
			return 0, fmt.Errorf("%s matches %s (gain %v offset %v): %w",
				uc.Label, existing.Label, existing.Gain, existing.Offset, ErrDuplicateConversion)
		}
	}
	return 0, nil
}

// InsertUnitConversion records a gain/offset pair under a label. The
// pool is locked for the check so concurrent registrations cannot both
// pass it.
func (s *Store) InsertUnitConversion(ctx context.Context, uc UnitConversion) (int, error) {
	start := time.Now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("InsertUnitConversion: %w", err)
	}
	defer tx.Rollback()

	id, err := insertUnitConversionTx(ctx, tx, uc)
	if err == nil {
		err = tx.Commit()
	}
	s.metrics.ObserveQuery("insert_unit_conversion", start, err)
	if err != nil {
		return 0, fmt.Errorf("InsertUnitConversion: %w", err)
	}
	return id, nil
}

func insertUnitConversionTx(ctx context.Context, tx *sqlx.Tx, uc UnitConversion) (int, error) {
	if _, err := tx.ExecContext(ctx, `LOCK TABLE raster_unit_conversions IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return 0, err
	}

	var pool []UnitConversion
	if err := tx.SelectContext(ctx, &pool,
		`SELECT id, conversion_type, gain, offset_value FROM raster_unit_conversions ORDER BY id`); err != nil {
		return 0, err
	}

	id, err := matchConversion(pool, uc)
	if err != nil || id > 0 {
		return id, err
	}

	err = tx.GetContext(ctx, &id,
		`INSERT INTO raster_unit_conversions (conversion_type, gain, offset_value) VALUES ($1, $2, $3) RETURNING id`,
		uc.Label, uc.Gain, uc.Offset)
	return id, err
}

func (s *Store) InsertComputationMethod(ctx context.Context, method string) (int, error) {
	id, err := s.insertReturningID(ctx, "insert_computation_method",
		`INSERT INTO computation_methods (method) VALUES ($1) ON CONFLICT (method) DO NOTHING RETURNING id`,
		`SELECT id FROM computation_methods WHERE method = $1`,
		[]interface{}{method}, method)
	if err != nil {
		return 0, fmt.Errorf("InsertComputationMethod: %s: %w", method, err)
	}
	return id, nil
}

// InsertNdviFile registers a product keyed by tile, file name and
// computation method.
func (s *Store) InsertNdviFile(ctx context.Context, nf NdviFile) (int, error) {
	var existing NdviFile
	err := s.getContext(ctx, "lookup_ndvi_file", &existing,
		`SELECT id, file_name, tuplekey_id, raster_file_id, raster_unit_conversion_id,
		        computation_method_id, lod_tiles, lod_gsd
		 FROM ndvi_files
		 WHERE tuplekey_id = $1 AND file_name = $2 AND computation_method_id = $3`,
		nf.TuplekeyID, nf.FileName, nf.ComputationMethodID)
	if err == nil {
		nf.ID = existing.ID
		if nf != existing {
			return 0, fmt.Errorf("InsertNdviFile: %s: recorded as %+v: %w", nf.FileName, existing, ErrConflict)
		}
		return existing.ID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("InsertNdviFile: %s: %w", nf.FileName, err)
	}

	id, err := s.insertReturningID(ctx, "insert_ndvi_file",
		`INSERT INTO ndvi_files (file_name, tuplekey_id, raster_file_id, raster_unit_conversion_id,
		                         computation_method_id, lod_tiles, lod_gsd)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tuplekey_id, file_name, computation_method_id) DO NOTHING RETURNING id`,
		`SELECT id FROM ndvi_files WHERE tuplekey_id = $1 AND file_name = $2 AND computation_method_id = $3`,
		[]interface{}{nf.FileName, nf.TuplekeyID, nf.RasterFileID, nf.UnitConversionID,
			nf.ComputationMethodID, nf.LodTiles, nf.LodGsd},
		nf.TuplekeyID, nf.FileName, nf.ComputationMethodID)
	if err != nil {
		return 0, fmt.Errorf("InsertNdviFile: %s: %w", nf.FileName, err)
	}
	return id, nil
}

// InsertProject registers a ROI. p.WKT is read in srid and stored in
// the grid CRS as a multipolygon; srid 0 means the grid CRS.
func (s *Store) InsertProject(ctx context.Context, p Project, srid int) (int, error) {
	if p.InitialJd > p.FinalJd {
		return 0, fmt.Errorf("InsertProject: %s: initial jd %d after final jd %d", p.Code, p.InitialJd, p.FinalJd)
	}
	if srid == 0 {
		srid = s.grid.SRID
	}

	var existing Project
	err := s.getContext(ctx, "lookup_project", &existing,
		`SELECT id, code, results_path, initial_jd, final_jd, output_srid, ST_AsText(the_geom) AS wkt
		 FROM projects WHERE code = $1`, p.Code)
	if err == nil {
		if existing.ResultsPath != p.ResultsPath || existing.InitialJd != p.InitialJd ||
			existing.FinalJd != p.FinalJd || existing.OutputSRID != p.OutputSRID {
			return 0, fmt.Errorf("InsertProject: %s: recorded with a different definition: %w", p.Code, ErrConflict)
		}
		return existing.ID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("InsertProject: %s: %w", p.Code, err)
	}

	id, err := s.insertReturningID(ctx, "insert_project",
		`INSERT INTO projects (code, results_path, initial_jd, final_jd, output_srid, the_geom)
		 VALUES ($1, $2, $3, $4, $5, ST_Multi(ST_Transform(ST_GeomFromText($6, $7), $8)))
		 ON CONFLICT (code) DO NOTHING RETURNING id`,
		`SELECT id FROM projects WHERE code = $1`,
		[]interface{}{p.Code, p.ResultsPath, p.InitialJd, p.FinalJd, p.OutputSRID, p.WKT, srid, s.grid.SRID},
		p.Code)
	if err != nil {
		return 0, fmt.Errorf("InsertProject: %s: %w", p.Code, err)
	}
	s.logger.Info("project registered", zap.String("roi", p.Code), zap.Int("id", id))
	return id, nil
}

// insertReturningID runs insert, which must end with ON CONFLICT DO
// NOTHING RETURNING id, and falls back to lookup when a concurrent
// writer created the row first.
func (s *Store) insertReturningID(ctx context.Context, queryType, insert, lookup string, insertArgs []interface{}, lookupArgs ...interface{}) (int, error) {
	var id int
	err := s.getContext(ctx, queryType, &id, insert, insertArgs...)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.getContext(ctx, queryType, &id, lookup, lookupArgs...)
	}
	return id, err
}
