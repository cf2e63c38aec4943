package processor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/edisonguo/jet"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

const reportHeaderTemplate = `
Accumulated crop water use run {{ .RunID }}
  started:  {{ .Started }}
  mode:     {{ .Mode }}
  ndvi:     [{{ .InitialNdvi }}, {{ .FinalNdvi }}]
  kcb:      {{ .Kcb }}
`

const reportUnitTemplate = `{{ if .Tuplekey != "" }}- tile {{ .Tuplekey }} of ROI {{ .Roi }}{{ else }}- ROI {{ .Roi }}{{ end }}: dates {{ .InitialDate }} to {{ .FinalDate }} (jd {{ .InitialJd }}-{{ .FinalJd }}), SRID {{ .SRID }}, LOD {{ .Lod }}, GSD {{ .Gsd }}, {{ .Tiles }} tile(s), {{ .Pixels }} pixel(s) -> {{ .Output }}
`

const reportFailureTemplate = `{{ if .Tuplekey != "" }}- tile {{ .Tuplekey }} of ROI {{ .Roi }}{{ else }}- ROI {{ .Roi }}{{ end }}: FAILED: {{ .Message }}
`

type reportHeader struct {
	RunID       string
	Started     string
	Mode        string
	InitialNdvi string
	FinalNdvi   string
	Kcb         string
}

type reportUnit struct {
	Roi         string
	Tuplekey    string
	InitialDate string
	FinalDate   string
	InitialJd   int
	FinalJd     int
	SRID        int
	Lod         int
	Gsd         string
	Tiles       int
	Pixels      int
	Output      string
}

type reportFailure struct {
	Roi      string
	Tuplekey string
	Message  string
}

// Report is the append only text log of a run, one line per unit.
type Report struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	header  *jet.Template
	unit    *jet.Template
	failure *jet.Template
}

// OpenReport appends to the report file at path.
func OpenReport(path string) (*Report, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("OpenReport: %w", err)
	}
	r, err := NewReport(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

func NewReport(w io.Writer) (*Report, error) {
	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}), ".")

	r := &Report{w: w}
	var err error
	if r.header, err = view.LoadTemplate("header", reportHeaderTemplate); err != nil {
		return nil, fmt.Errorf("NewReport: header template: %v", err)
	}
	if r.unit, err = view.LoadTemplate("unit", reportUnitTemplate); err != nil {
		return nil, fmt.Errorf("NewReport: unit template: %v", err)
	}
	if r.failure, err = view.LoadTemplate("failure", reportFailureTemplate); err != nil {
		return nil, fmt.Errorf("NewReport: failure template: %v", err)
	}
	return r, nil
}

func (r *Report) execute(t *jet.Template, data interface{}) error {
	if r == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, make(jet.VarMap), data); err != nil {
		return fmt.Errorf("report: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.w.Write(buf.Bytes())
	return err
}

func (r *Report) Header(runID, mode string, settings Settings) error {
	if r == nil {
		return nil
	}
	return r.execute(r.header, reportHeader{
		RunID:       runID,
		Started:     time.Now().UTC().Format(time.RFC3339),
		Mode:        mode,
		InitialNdvi: formatFloat(settings.InitialNdvi),
		FinalNdvi:   formatFloat(settings.FinalNdvi),
		Kcb:         describeKcb(settings.Kcb),
	})
}

func (r *Report) Unit(u reportUnit) error {
	if r == nil {
		return nil
	}
	return r.execute(r.unit, u)
}

func (r *Report) Failure(roi, tuplekey string, err error) error {
	if r == nil {
		return nil
	}
	return r.execute(r.failure, reportFailure{Roi: roi, Tuplekey: tuplekey, Message: err.Error()})
}

func (r *Report) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func describeKcb(m KcbModel) string {
	switch k := m.(type) {
	case LinearKcb:
		return fmt.Sprintf("%s * ndvi + %s", formatFloat(k.M), formatFloat(k.N))
	case *ExpressionKcb:
		return k.String()
	default:
		return fmt.Sprintf("%T", m)
	}
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

func formatJd(jd int) string {
	return utils.JulianDate(jd).Format("2006-01-02")
}
