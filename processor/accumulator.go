package processor

import (
	"fmt"
	"math"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

// Accumulator turns the NDVI time series of one pixel into the season
// total of Kcb times the reference evapotranspiration.
type Accumulator struct {
	Params Params
	Kcb    KcbModel
	Eth0   utils.Eth0Table
}

func (a *Accumulator) inDomain(ndvi float64) bool {
	return ndvi >= a.Params.InitialNdvi && ndvi <= a.Params.FinalNdvi
}

// Accumulate walks samples in ascending julian day order. Samples
// outside the date window are ignored. Each sample whose NDVI lies in
// the closed domain adds kcb*eth0 for its day, and every whole day
// between two such samples adds the linearly interpolated kcb times
// that day's eth0. The first out of domain sample after a valid one
// ends the season. The boolean is false when no sample was valid.
func (a *Accumulator) Accumulate(samples []Sample) (float64, bool, error) {
	var total float64
	var prevKcb float64
	prevJd := 0
	found := false
	lastJd := math.MinInt32

	for _, s := range samples {
		if s.Jd <= lastJd {
			return 0, false, fmt.Errorf("%w: jd %d after jd %d", ErrUnorderedSeries, s.Jd, lastJd)
		}
		lastJd = s.Jd

		if s.Jd < a.Params.InitialJd || s.Jd > a.Params.FinalJd {
			continue
		}

		ndvi := (s.Raw + s.Offset) * s.Gain
		if !a.inDomain(ndvi) {
			if found {
				break
			}
			continue
		}

		kcb, err := a.Kcb.Kcb(ndvi)
		if err != nil {
			return 0, false, fmt.Errorf("jd %d: %w", s.Jd, err)
		}
		eth0, ok := a.Eth0.Lookup(s.Jd)
		if !ok {
			return 0, false, fmt.Errorf("%w: jd %d", ErrMissingEth0, s.Jd)
		}
		total += kcb * eth0

		if found {
			slope := (kcb - prevKcb) / float64(s.Jd-prevJd)
			for d := prevJd + 1; d < s.Jd; d++ {
				eth0, ok := a.Eth0.Lookup(d)
				if !ok {
					return 0, false, fmt.Errorf("%w: interpolated jd %d between %d and %d", ErrMissingEth0, d, prevJd, s.Jd)
				}
				total += (prevKcb + slope*float64(d-prevJd)) * eth0
			}
		}

		found = true
		prevJd = s.Jd
		prevKcb = kcb
	}

	return total, found, nil
}
