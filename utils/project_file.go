package utils

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrProjectFile is returned for any defect of a project definition file.
var ErrProjectFile = errors.New("invalid project file")

const (
	projectKeySeparator = "#"
	projectDateLayout   = "2006/01/02"
)

const (
	KeyEth0File        = "eth0File"
	KeyRoiFile         = "roiFile"
	KeyDates           = "dates"
	KeyNdviDomain      = "ndviDomain"
	KeyKcbM            = "kcbM"
	KeyKcbN            = "kcbN"
	KeyKcbExpression   = "kcbExpression"
	KeyReportFile      = "reportFile"
	KeyResultsPath     = "resultsPath"
	KeySourceDatabase  = "sourceDatabase"
	KeyWorkingDatabase = "workingDatabase"
	KeyRoiSrid         = "roiSrid"
)

var mandatoryProjectKeys = []string{
	KeyEth0File, KeyRoiFile, KeyDates, KeyNdviDomain, KeyKcbM, KeyKcbN,
	KeyReportFile, KeyResultsPath,
}

// ProjectDefinition holds the parameters of one crop water use run as
// read from a project definition file.
type ProjectDefinition struct {
	Eth0File        string
	RoiFile         string
	InitialJd       int
	FinalJd         int
	InitialNdvi     float64
	FinalNdvi       float64
	KcbM            float64
	KcbN            float64
	KcbExpression   string
	ReportFile      string
	ResultsPath     string
	SourceDatabase  string
	WorkingDatabase string
	RoiSrid         int
}

// ParseProjectFile reads a line oriented key#value project definition.
// Relative paths are resolved against the directory of the file.
func ParseProjectFile(path string) (*ProjectDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProjectFile, err)
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	nLine := 0
	for scanner.Scan() {
		nLine++
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, "//") || strings.HasPrefix(line, ";") {
			continue
		}

		parts := strings.SplitN(line, projectKeySeparator, 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %s line %d: expected key%svalue", ErrProjectFile, path, nLine, projectKeySeparator)
		}
		key := strings.TrimSpace(parts[0])
		if _, found := values[key]; found {
			return nil, fmt.Errorf("%w: %s line %d: duplicated key %s", ErrProjectFile, path, nLine, key)
		}
		values[key] = strings.TrimSpace(parts[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProjectFile, err)
	}

	for _, key := range mandatoryProjectKeys {
		if len(values[key]) == 0 {
			return nil, fmt.Errorf("%w: %s: missing key %s", ErrProjectFile, path, key)
		}
	}

	baseDir := filepath.Dir(path)
	resolve := func(p string) string {
		if len(p) == 0 || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}

	def := &ProjectDefinition{
		Eth0File:        resolve(values[KeyEth0File]),
		RoiFile:         resolve(values[KeyRoiFile]),
		KcbExpression:   values[KeyKcbExpression],
		ReportFile:      resolve(values[KeyReportFile]),
		ResultsPath:     resolve(values[KeyResultsPath]),
		SourceDatabase:  values[KeySourceDatabase],
		WorkingDatabase: values[KeyWorkingDatabase],
	}

	def.InitialJd, def.FinalJd, err = parseDateRange(values[KeyDates])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProjectFile, KeyDates, err)
	}

	def.InitialNdvi, def.FinalNdvi, err = parseNumberRange(values[KeyNdviDomain])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProjectFile, KeyNdviDomain, err)
	}

	if def.KcbM, err = parseFinite(values[KeyKcbM]); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProjectFile, KeyKcbM, err)
	}
	if def.KcbN, err = parseFinite(values[KeyKcbN]); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProjectFile, KeyKcbN, err)
	}

	if srid, ok := values[KeyRoiSrid]; ok && len(srid) > 0 {
		if def.RoiSrid, err = strconv.Atoi(srid); err != nil || def.RoiSrid <= 0 {
			return nil, fmt.Errorf("%w: %s: invalid srid %q", ErrProjectFile, KeyRoiSrid, srid)
		}
	}

	for _, p := range []string{def.Eth0File, def.RoiFile} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProjectFile, err)
		}
	}

	return def, nil
}

// parseDateRange parses YYYY/MM/DD-YYYY/MM/DD into julian days.
func parseDateRange(value string) (int, int, error) {
	parts := strings.Split(value, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected initial-final dates, got %q", value)
	}
	initialJd, err := ParseJulianDate(projectDateLayout, strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	finalJd, err := ParseJulianDate(projectDateLayout, strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	if finalJd < initialJd {
		return 0, 0, fmt.Errorf("final date before initial date in %q", value)
	}
	return initialJd, finalJd, nil
}

// parseNumberRange parses min-max. A leading minus sign on either bound
// is allowed, so the separator is the first '-' after a digit.
func parseNumberRange(value string) (float64, float64, error) {
	value = strings.TrimSpace(value)
	sep := -1
	for i := 1; i < len(value); i++ {
		if value[i] == '-' && value[i-1] != 'e' && value[i-1] != 'E' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return 0, 0, fmt.Errorf("expected min-max, got %q", value)
	}
	lo, err := parseFinite(strings.TrimSpace(value[:sep]))
	if err != nil {
		return 0, 0, err
	}
	hi, err := parseFinite(strings.TrimSpace(value[sep+1:]))
	if err != nil {
		return 0, 0, err
	}
	if hi < lo {
		return 0, 0, fmt.Errorf("max lower than min in %q", value)
	}
	return lo, hi, nil
}
