package processor

import (
	"fmt"
	"math"
)

// GsdTolerance is the largest difference between two pixel sizes that
// are taken as equal.
const GsdTolerance = 0.001

// SourcePixel returns the column and row of the source pixel holding
// the point (x, y) by nearest pixel sampling. The output grid of pixel
// size minGsd must be as fine as the source or finer; a finer source
// yields ErrInvalidGsd. covered is false when the point falls outside
// the source raster.
func SourcePixel(x, y float64, src RasterInfo, minGsd float64) (col, row int, covered bool, err error) {
	if src.Gsd <= 0 {
		return 0, 0, false, fmt.Errorf("%w: source gsd %v", ErrInvalidGsd, src.Gsd)
	}
	if math.Abs(src.Gsd-minGsd) >= GsdTolerance && minGsd > src.Gsd {
		return 0, 0, false, fmt.Errorf("%w: source gsd %v finer than output gsd %v", ErrInvalidGsd, src.Gsd, minGsd)
	}

	col = int(math.Floor((x - src.NwX) / src.Gsd))
	row = int(math.Floor((src.NwY - y) / src.Gsd))
	covered = col >= 0 && row >= 0 && col < src.Width && row < src.Height
	return col, row, covered, nil
}
