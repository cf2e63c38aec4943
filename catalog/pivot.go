package catalog

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

func (r ndviRow) validate() error {
	var problem string
	switch {
	case r.FileName == "":
		problem = "empty file name"
	case r.Tuplekey == "":
		problem = "empty tuplekey"
	case r.Gain == 0 || math.IsNaN(r.Gain) || math.IsInf(r.Gain, 0):
		problem = fmt.Sprintf("invalid gain %v", r.Gain)
	case math.IsNaN(r.Offset) || math.IsInf(r.Offset, 0):
		problem = fmt.Sprintf("invalid offset %v", r.Offset)
	case r.LodTiles < 0 || r.LodGsd < 0:
		problem = fmt.Sprintf("negative lod (tiles %d, gsd %d)", r.LodTiles, r.LodGsd)
	default:
		return nil
	}
	return fmt.Errorf("%w: roi %s tile %s file %s: %s", ErrMalformedRow, r.RoiCode, r.Tuplekey, r.FileName, problem)
}

func (r ndviRow) entry() NdviEntry {
	return NdviEntry{
		TuplekeyID: r.TuplekeyID,
		Tuplekey:   r.Tuplekey,
		Jd:         r.Jd,
		FileName:   r.FileName,
		Gain:       r.Gain,
		Offset:     r.Offset,
		LodTiles:   r.LodTiles,
		LodGsd:     r.LodGsd,
		Scene:      SceneIdentity(r.FileName),
	}
}

// addEntry keeps the first product per julian day. A second product of
// the same scene is a duplicate registration; a different scene on the
// same day is reported and ignored.
func addEntry(series map[int]NdviEntry, e NdviEntry, roi string, logger *zap.Logger) {
	prev, ok := series[e.Jd]
	if !ok {
		series[e.Jd] = e
		return
	}
	if prev.Scene == e.Scene {
		logger.Debug("duplicate ndvi product skipped",
			zap.String("roi", roi), zap.String("tuplekey", e.Tuplekey),
			zap.Int("jd", e.Jd), zap.String("file", e.FileName))
		return
	}
	logger.Warn("two scenes share tile and date, keeping the first",
		zap.String("roi", roi), zap.String("tuplekey", e.Tuplekey), zap.Int("jd", e.Jd),
		zap.String("kept", prev.FileName), zap.String("ignored", e.FileName))
}

func pivotByProject(code string, rows []ndviRow, logger *zap.Logger) (*RoiNdviData, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: roi %s", ErrNoData, code)
	}

	data := &RoiNdviData{
		Code:     code,
		Entries:  make(map[string]map[int]NdviEntry),
		TileIDs:  make(map[string]int),
		LodTiles: make(map[string]int),
	}
	for _, r := range rows {
		if err := r.validate(); err != nil {
			return nil, err
		}
		series, ok := data.Entries[r.Tuplekey]
		if !ok {
			series = make(map[int]NdviEntry)
			data.Entries[r.Tuplekey] = series
		}
		addEntry(series, r.entry(), code, logger)

		data.TileIDs[r.Tuplekey] = r.TuplekeyID
		if r.LodTiles > data.LodTiles[r.Tuplekey] {
			data.LodTiles[r.Tuplekey] = r.LodTiles
		}
		if r.LodTiles > data.MaxLod {
			data.MaxLod = r.LodTiles
		}
	}
	return data, nil
}

func pivotByTuplekey(rows []ndviRow, logger *zap.Logger) (*TileNdviData, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no ndvi product intersects any roi", ErrNoData)
	}

	data := &TileNdviData{
		Entries:  make(map[string]map[string]map[int]NdviEntry),
		TileIDs:  make(map[string]int),
		RoiIDs:   make(map[string]int),
		LodTiles: make(map[string]int),
		ByFile:   make(map[string]NdviEntry),
	}
	for _, r := range rows {
		if err := r.validate(); err != nil {
			return nil, err
		}
		rois, ok := data.Entries[r.Tuplekey]
		if !ok {
			rois = make(map[string]map[int]NdviEntry)
			data.Entries[r.Tuplekey] = rois
		}
		series, ok := rois[r.RoiCode]
		if !ok {
			series = make(map[int]NdviEntry)
			rois[r.RoiCode] = series
		}

		e := r.entry()
		addEntry(series, e, r.RoiCode, logger)
		data.ByFile[e.FileName] = e

		data.TileIDs[r.Tuplekey] = r.TuplekeyID
		data.RoiIDs[r.RoiCode] = r.RoiID
		if r.LodTiles > data.LodTiles[r.Tuplekey] {
			data.LodTiles[r.Tuplekey] = r.LodTiles
		}
	}
	return data, nil
}
