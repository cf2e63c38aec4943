package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const eth0DateLayout = "2006-01-02"

// Eth0Table holds the daily reference evapotranspiration keyed by
// julian day.
type Eth0Table map[int]float64

// Lookup returns the ETH0 value of the given julian day.
func (t Eth0Table) Lookup(jd int) (float64, bool) {
	v, ok := t[jd]
	return v, ok
}

// Span returns the first and last julian days of the table. ok is
// false for an empty table.
func (t Eth0Table) Span() (first, last int, ok bool) {
	for jd := range t {
		if !ok || jd < first {
			first = jd
		}
		if !ok || jd > last {
			last = jd
		}
		ok = true
	}
	return first, last, ok
}

// Gaps returns the julian days of [initialJd, finalJd] without a value.
func (t Eth0Table) Gaps(initialJd, finalJd int) []int {
	var gaps []int
	for jd := initialJd; jd <= finalJd; jd++ {
		if _, ok := t[jd]; !ok {
			gaps = append(gaps, jd)
		}
	}
	return gaps
}

// LoadEth0Table reads a two column text table of date and value. The
// date column holds either a julian day number or a YYYY-MM-DD date.
// Columns may be separated by commas, semicolons or whitespace and a
// non numeric first row is taken as a header.
func LoadEth0Table(path string) (Eth0Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("eth0 table: %v", err)
	}
	defer f.Close()
	return ReadEth0Table(f)
}

// ReadEth0Table parses the table format described in LoadEth0Table.
func ReadEth0Table(r io.Reader) (Eth0Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	table := make(Eth0Table)
	nRecord := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("eth0 table: %v", err)
		}
		nRecord++

		fields := splitEth0Record(record)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("eth0 table: record %d: expected 2 columns, got %d", nRecord, len(fields))
		}

		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			if nRecord == 1 {
				continue
			}
			return nil, fmt.Errorf("eth0 table: record %d: invalid value %q", nRecord, fields[1])
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("eth0 table: record %d: non finite value %q", nRecord, fields[1])
		}

		jd, err := strconv.Atoi(fields[0])
		if err != nil {
			jd, err = ParseJulianDate(eth0DateLayout, fields[0])
			if err != nil {
				return nil, fmt.Errorf("eth0 table: record %d: %v", nRecord, err)
			}
		}

		if _, found := table[jd]; found {
			return nil, fmt.Errorf("eth0 table: record %d: duplicated julian day %d", nRecord, jd)
		}
		table[jd] = value
	}

	if len(table) == 0 {
		return nil, fmt.Errorf("eth0 table: no values")
	}
	return table, nil
}

func splitEth0Record(record []string) []string {
	var fields []string
	for _, field := range record {
		for _, f := range strings.FieldsFunc(field, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			fields = append(fields, f)
		}
	}
	return fields
}

// parseFinite parses a float64 and rejects NaN and infinities.
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non finite value %q", s)
	}
	return v, nil
}
