package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJulianDay(t *testing.T) {
	assert.Equal(t, 2440588, JulianDay(time.Date(1970, 1, 1, 13, 30, 0, 0, time.UTC)))
	assert.Equal(t, 2451545, JulianDay(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)))

	d := time.Date(2019, 6, 15, 0, 0, 0, 0, time.UTC)
	assert.True(t, d.Equal(JulianDate(JulianDay(d))))
}

func TestReadEth0Table(t *testing.T) {
	input := `date;eth0
2458600;4.5
2019-04-30;3.25
2458602, 5
# comment
`
	table, err := ReadEth0Table(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, table, 3)

	v, ok := table.Lookup(2458600)
	assert.True(t, ok)
	assert.Equal(t, 4.5, v)

	jd := JulianDay(time.Date(2019, 4, 30, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2458604, jd)
	assert.Equal(t, 3.25, table[jd])
	assert.Equal(t, 5.0, table[2458602])

	first, last, ok := table.Span()
	assert.True(t, ok)
	assert.Equal(t, 2458600, first)
	assert.Equal(t, 2458604, last)
	assert.Equal(t, []int{2458601, 2458603, 2458605}, table.Gaps(2458600, 2458605))
	assert.Empty(t, table.Gaps(2458602, 2458602))
}

func TestEth0TableSpan(t *testing.T) {
	_, _, ok := Eth0Table{}.Span()
	assert.False(t, ok)

	first, last, ok := Eth0Table{-3: 1, 0: 2}.Span()
	assert.True(t, ok)
	assert.Equal(t, -3, first)
	assert.Equal(t, 0, last)
}

func TestReadEth0TableErrors(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"duplicated": "100;1\n100;2\n",
		"bad value":  "100;1\n101;x\n",
		"bad date":   "100;1\n2019-13-01;2\n",
		"columns":    "100;1;2\n",
		"nan":        "100;4\n101;NaN\n102;4\n",
		"inf":        "100;+Inf\n",
		"minus inf":  "100;4\n101;-inf\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadEth0Table(strings.NewReader(input))
			assert.Error(t, err)
		})
	}

	_, err := ReadEth0Table(strings.NewReader("100;4\n101;NaN\n"))
	assert.ErrorContains(t, err, "record 2")
}
