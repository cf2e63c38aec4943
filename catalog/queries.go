package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ndviJoin selects the NDVI products of every tile overlapping a ROI
// within the ROI date window. Tiles that only touch the ROI border are
// left out. $1 filters by computation method when not empty.
const ndviJoin = `
	SELECT p.id AS roi_id, p.code AS roi_code,
	       t.id AS tuplekey_id, t.tuplekey,
	       rf.julian_date, nf.file_name,
	       ruc.gain, ruc.offset_value,
	       nf.lod_tiles, nf.lod_gsd
	FROM ndvi_files nf
	JOIN tuplekeys t ON t.id = nf.tuplekey_id
	JOIN raster_files rf ON rf.id = nf.raster_file_id
	JOIN raster_unit_conversions ruc ON ruc.id = nf.raster_unit_conversion_id
	JOIN computation_methods cm ON cm.id = nf.computation_method_id
	JOIN projects p ON rf.julian_date BETWEEN p.initial_jd AND p.final_jd
	               AND ST_Intersects(t.the_geom, p.the_geom)
	               AND NOT ST_Touches(t.the_geom, p.the_geom)
	WHERE ($1::text = '' OR cm.method = $1::text)`

const ndviOrder = `
	ORDER BY rf.julian_date, t.tuplekey, nf.file_name`

// Projects returns every ROI ordered by code.
func (s *Store) Projects(ctx context.Context) ([]Project, error) {
	query := `
		SELECT id, code, results_path, initial_jd, final_jd, output_srid,
		       ST_AsText(the_geom) AS wkt
		FROM projects
		ORDER BY code`

	var projects []Project
	if err := s.selectContext(ctx, "projects", &projects, query); err != nil {
		return nil, fmt.Errorf("Projects: %w", err)
	}
	return projects, nil
}

// ProjectGeometries returns the WKT footprint of every ROI by code.
func (s *Store) ProjectGeometries(ctx context.Context) (map[string]string, error) {
	query := `SELECT code, ST_AsText(the_geom) AS wkt FROM projects ORDER BY code`

	var rows []struct {
		Code string `db:"code"`
		WKT  string `db:"wkt"`
	}
	if err := s.selectContext(ctx, "project_geometries", &rows, query); err != nil {
		return nil, fmt.Errorf("ProjectGeometries: %w", err)
	}

	geoms := make(map[string]string, len(rows))
	for _, r := range rows {
		geoms[r.Code] = r.WKT
	}
	return geoms, nil
}

// NdviDataByProject returns the NDVI time series of every tile
// overlapping the ROI. A ROI without products yields ErrNoData.
func (s *Store) NdviDataByProject(ctx context.Context, code string) (*RoiNdviData, error) {
	query := ndviJoin + ` AND p.code = $2` + ndviOrder

	rows, err := s.ndviRows(ctx, "ndvi_by_project", query, s.method, code)
	if err != nil {
		return nil, fmt.Errorf("NdviDataByProject: roi %s: %w", code, err)
	}
	data, err := pivotByProject(code, rows, s.logger)
	if err != nil {
		return nil, fmt.Errorf("NdviDataByProject: %w", err)
	}
	return data, nil
}

// NdviDataByTuplekey returns the NDVI time series of every ROI pivoted
// tile first.
func (s *Store) NdviDataByTuplekey(ctx context.Context) (*TileNdviData, error) {
	query := ndviJoin + ndviOrder

	rows, err := s.ndviRows(ctx, "ndvi_by_tuplekey", query, s.method)
	if err != nil {
		return nil, fmt.Errorf("NdviDataByTuplekey: %w", err)
	}
	data, err := pivotByTuplekey(rows, s.logger)
	if err != nil {
		return nil, fmt.Errorf("NdviDataByTuplekey: %w", err)
	}
	return data, nil
}

func (s *Store) ndviRows(ctx context.Context, queryType, query string, args ...interface{}) ([]ndviRow, error) {
	start := time.Now()
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		s.metrics.ObserveQuery(queryType, start, err)
		return nil, err
	}
	defer rows.Close()

	var result []ndviRow
	for rows.Next() {
		var r ndviRow
		if err := rows.StructScan(&r); err != nil {
			s.metrics.ObserveQuery(queryType, start, err)
			return nil, fmt.Errorf("%w: row %d: %v", ErrMalformedRow, len(result)+1, err)
		}
		result = append(result, r)
	}
	err = rows.Err()
	s.metrics.ObserveQuery(queryType, start, err)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("ndvi products selected", zap.String("query", queryType), zap.Int("rows", len(result)))
	return result, nil
}

// ProjectTuplekeyIntersection returns the part of a ROI inside a tile.
// When the ROI contains the whole tile contained is true and wkt is
// empty. A ROI that only touches the tile yields ErrNoData.
func (s *Store) ProjectTuplekeyIntersection(ctx context.Context, roiID, tileID int) (string, bool, error) {
	query := `
		SELECT ST_Contains(p.the_geom, t.the_geom) AS contained,
		       ST_IsEmpty(ST_CollectionExtract(ST_Intersection(p.the_geom, t.the_geom), 3)) AS empty,
		       ST_AsText(ST_CollectionExtract(ST_Intersection(p.the_geom, t.the_geom), 3)) AS wkt
		FROM projects p, tuplekeys t
		WHERE p.id = $1 AND t.id = $2`

	var row struct {
		Contained bool   `db:"contained"`
		Empty     bool   `db:"empty"`
		WKT       string `db:"wkt"`
	}
	err := s.getContext(ctx, "project_tuplekey_intersection", &row, query, roiID, tileID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("ProjectTuplekeyIntersection: roi %d tile %d: %w", roiID, tileID, ErrNotFound)
	}
	if err != nil {
		return "", false, fmt.Errorf("ProjectTuplekeyIntersection: roi %d tile %d: %w", roiID, tileID, err)
	}

	if row.Contained {
		return "", true, nil
	}
	if row.Empty {
		return "", false, fmt.Errorf("ProjectTuplekeyIntersection: roi %d tile %d: %w", roiID, tileID, ErrNoData)
	}
	return row.WKT, false, nil
}

// QueryColumns runs a raw query and returns each row as a column name
// to value map. Text columns are returned as strings.
func (s *Store) QueryColumns(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	start := time.Now()
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		s.metrics.ObserveQuery("raw", start, err)
		return nil, fmt.Errorf("QueryColumns: %w", err)
	}
	defer rows.Close()

	var result []map[string]interface{}
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			s.metrics.ObserveQuery("raw", start, err)
			return nil, fmt.Errorf("QueryColumns: %w: %v", ErrMalformedRow, err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		result = append(result, row)
	}
	err = rows.Err()
	s.metrics.ObserveQuery("raw", start, err)
	if err != nil {
		return nil, fmt.Errorf("QueryColumns: %w", err)
	}
	return result, nil
}
