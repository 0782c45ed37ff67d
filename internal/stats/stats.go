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

package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/mlnoga/umbra/internal/qsort"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/stat"
)

// Scale factor normalizing the median absolute deviation to a Gaussian standard deviation
const MADToSigma = 1.4826

// Calculates mean and population standard deviation of the given values.
// Accumulates in float64. Returns zeros for empty input
func MeanStdDev(xs []float32) (mean, stdDev float32) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := float64(0)
	for _, x := range xs {
		sum += float64(x)
	}
	m := sum / float64(len(xs))
	sumSq := float64(0)
	for _, x := range xs {
		diff := float64(x) - m
		sumSq += diff * diff
	}
	return float32(m), float32(math.Sqrt(sumSq / float64(len(xs))))
}

// Calculates the median absolute deviation from the given location, normalized to a Gaussian
// standard deviation. Uses tmp as scratchpad, which must hold at least len(xs) values
func MAD(xs []float32, location float32, tmp []float32) float32 {
	if len(xs) == 0 {
		return 0
	}
	tmp = tmp[:len(xs)]
	for i, x := range xs {
		tmp[i] = float32(math.Abs(float64(x - location)))
	}
	return qsort.QSelectMedianFloat32(tmp) * MADToSigma
}

// Summary statistics of a raster
type Summary struct {
	Min    float32 // Minimum
	Max    float32 // Maximum
	Mean   float32 // Mean (average)
	StdDev float32 // Population standard deviation
	Median float32 // Approximate median from a random subsample
}

// Pretty print summary to string
func (s *Summary) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Median %.6g",
		s.Min, s.Max, s.Mean, s.StdDev, s.Median)
}

// Number of samples drawn for the approximate median
const summarySamples = 128 * 1024

// Calculates summary statistics for a data array. Exact min, max, mean and standard deviation;
// the median is calculated on a random subsample for large arrays
func Summarize(data []float32) *Summary {
	if len(data) == 0 {
		return &Summary{}
	}
	s := &Summary{}

	n := len(data)
	if n > summarySamples {
		n = summarySamples
	}
	samples := make([]float64, n)
	if n == len(data) {
		for i, d := range data {
			samples[i] = float64(d)
		}
	} else {
		rng := fastrand.RNG{}
		for i := range samples {
			samples[i] = float64(data[rng.Uint32n(uint32(len(data)))])
		}
	}
	sort.Float64s(samples)
	s.Median = float32(stat.Quantile(0.5, stat.Empirical, samples, nil))

	if n == len(data) {
		mean, stdDev := stat.PopMeanStdDev(samples, nil)
		s.Mean, s.StdDev = float32(mean), float32(stdDev)
		s.Min, s.Max = float32(samples[0]), float32(samples[n-1])
		return s
	}
	s.Mean, s.StdDev = MeanStdDev(data)
	min, max := data[0], data[0]
	for _, d := range data {
		if d < min {
			min = d
		} else if d > max {
			max = d
		}
	}
	s.Min, s.Max = min, max
	return s
}
