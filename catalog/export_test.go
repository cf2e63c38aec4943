package catalog

import "github.com/UCLM-PAFyC/libRemoteSensing-sub001/tilegrid"

// SetTileBounds replaces the footprint resolver used by InsertTuplekey.
func (s *Store) SetTileBounds(f func(key string) (tilegrid.Tile, tilegrid.Bounds, error)) {
	s.tileBounds = f
}
