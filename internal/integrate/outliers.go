// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package integrate

import (
	"fmt"
	"math"

	"github.com/mlnoga/umbra/internal/qsort"
	"github.com/mlnoga/umbra/internal/stats"
)

// Scale estimator for outlier rejection
type ScaleEstimator string

const (
	ScaleStdDev ScaleEstimator = "std" // Population standard deviation
	ScaleMAD    ScaleEstimator = "mad" // Median absolute deviation, normalized to a Gaussian sigma
)

// Parses a scale estimator name
func ParseScaleEstimator(s string) (ScaleEstimator, error) {
	switch ScaleEstimator(s) {
	case ScaleStdDev, ScaleMAD:
		return ScaleEstimator(s), nil
	}
	return "", fmt.Errorf("%w: unknown scale estimator %q", ErrInvalidOption, s)
}

// Rejects statistical outliers along the frame axis with a single sigma clipping pass
type OutlierRejector struct {
	Threshold float32        // Clipping threshold in units of scale. Zero or less disables rejection
	Scale     ScaleEstimator // Scale estimator

	gathered []float32
	sorted   []float32
	tmp      []float32
}

// Creates an outlier rejector
func NewOutlierRejector(threshold float32, scale ScaleEstimator) *OutlierRejector {
	return &OutlierRejector{Threshold: threshold, Scale: scale}
}

// Marks entries outside median +/- threshold*scale invalid, per pixel and channel over the
// valid entries of all frames. For even counts the median is the mean of the two middle
// values. If all values fall outside the bounds, the one nearest the median is kept.
// Returns the number of rejected entries
func (o *OutlierRejector) Reject(st *Stack) (rejected int) {
	if o.Threshold <= 0 || st.NumFrames() == 0 {
		return 0
	}
	n := st.NumFrames()
	if cap(o.gathered) < n {
		o.gathered, o.sorted, o.tmp = make([]float32, n), make([]float32, n), make([]float32, n)
	}
	gatheredFull, sortedFull := o.gathered[:n], o.sorted[:n]

	// for all pixels and channels
	for i := range st.Data[0] {

		// gather valid data for this entry across all frames
		numGathered := 0
		for li := range st.Data {
			if st.Valid[li][i] {
				gatheredFull[numGathered] = st.Data[li][i]
				numGathered++
			}
		}
		if numGathered == 0 {
			continue
		}
		gathered, sorted := gatheredFull[:numGathered], sortedFull[:numGathered]

		// calculate location and scale
		copy(sorted, gathered)
		median := qsort.QSelectMedianFloat32(sorted)
		var scale float32
		if o.Scale == ScaleMAD {
			scale = stats.MAD(gathered, median, o.tmp)
		} else {
			_, scale = stats.MeanStdDev(gathered)
		}

		// reject out-of-bounds values
		lowBound := median - o.Threshold*scale
		highBound := median + o.Threshold*scale
		kept, nearest, nearestDist := 0, -1, float32(math.MaxFloat32)
		for li := range st.Data {
			if !st.Valid[li][i] {
				continue
			}
			v := st.Data[li][i]
			if v < lowBound || v > highBound {
				st.Valid[li][i] = false
				rejected++
				if d := float32(math.Abs(float64(v - median))); d < nearestDist {
					nearest, nearestDist = li, d
				}
			} else {
				kept++
			}
		}
		if kept == 0 && nearest >= 0 {
			st.Valid[nearest][i] = true
			rejected--
		}
	}
	return rejected
}
