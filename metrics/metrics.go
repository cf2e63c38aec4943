package metrics

import (
	"bytes"
	"encoding/json"
	"time"
)

// UnitInfo is the record emitted once per processed accumulation unit:
// a ROI, a ROI and tile pair, or a tile.
type UnitInfo struct {
	RunID       string        `json:"run_id"`
	Mode        string        `json:"mode"`
	Roi         string        `json:"roi,omitempty"`
	Tuplekey    string        `json:"tuplekey,omitempty"`
	StartTime   string        `json:"start_time"`
	Duration    time.Duration `json:"duration"`
	Lod         int           `json:"lod"`
	Gsd         float64       `json:"gsd"`
	Pixels      int           `json:"pixels"`
	ValidPixels int           `json:"valid_pixels"`
	FilesRead   int           `json:"files_read"`
	CacheHits   int           `json:"cache_hits"`
	Output      string        `json:"output,omitempty"`
	Geometry    string        `json:"geometry"`
	Error       string        `json:"error,omitempty"`
}

type UnitMetrics struct {
	Info   *UnitInfo
	logger Logger
	start  time.Time
}

func NewUnitMetrics(logger Logger, runID, mode string) *UnitMetrics {
	now := time.Now()
	return &UnitMetrics{
		Info: &UnitInfo{
			RunID:     runID,
			Mode:      mode,
			StartTime: now.UTC().Format(time.RFC3339),
		},
		logger: logger,
		start:  now,
	}
}

// Log stamps the unit duration and hands the record to the logger.
func (m *UnitMetrics) Log() {
	m.Info.Duration = time.Since(m.start)
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

func (i *UnitInfo) ToJSON() (string, error) {
	i.normaliseGeometry()

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(i)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (i *UnitInfo) normaliseGeometry() {
	if len(i.Geometry) == 0 {
		i.Geometry = "POLYGON EMPTY"
	}
}
