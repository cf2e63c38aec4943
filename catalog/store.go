// Package catalog persists scenes, tiles, NDVI products, unit
// conversions and regions of interest in PostGIS, and answers the
// spatial queries the accumulation engine is driven by.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/metrics"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/tilegrid"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

// Store is the PostGIS backed catalog.
type Store struct {
	db      *sqlx.DB
	grid    *tilegrid.NestedGrid
	logger  *zap.Logger
	metrics *metrics.Collector

	// method restricts NDVI queries to one computation method when set.
	method string

	// tileBounds resolves a tuplekey footprint on insert.
	tileBounds func(key string) (tilegrid.Tile, tilegrid.Bounds, error)
}

// Open connects to the catalog and checks the connection.
func Open(ctx context.Context, cfg utils.DatabaseConfig, grid *tilegrid.NestedGrid, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: ping %s@%s/%s: %w", cfg.User, cfg.Host, cfg.Name, err)
	}

	logger.Info("catalog connection established",
		zap.String("host", cfg.Host), zap.Int("port", cfg.Port), zap.String("database", cfg.Name))
	return New(db, grid, logger), nil
}

func New(db *sqlx.DB, grid *tilegrid.NestedGrid, logger *zap.Logger) *Store {
	return &Store{
		db:         db,
		grid:       grid,
		logger:     logger,
		tileBounds: grid.TuplekeyBounds,
	}
}

// SetMetrics attaches a collector observing query durations.
func (s *Store) SetMetrics(c *metrics.Collector) {
	s.metrics = c
}

// SetComputationMethod limits the NDVI queries to products of method.
// An empty method disables the filter.
func (s *Store) SetComputationMethod(method string) {
	s.method = method
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Grid() *tilegrid.NestedGrid {
	return s.grid
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) selectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := s.db.SelectContext(ctx, dest, query, args...)
	s.metrics.ObserveQuery(queryType, start, err)
	return err
}

func (s *Store) getContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := s.db.GetContext(ctx, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		s.metrics.ObserveQuery(queryType, start, nil)
	} else {
		s.metrics.ObserveQuery(queryType, start, err)
	}
	return err
}
