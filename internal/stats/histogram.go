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
	"strings"
)

// Calculates a histogram of data between min and max into the given bins. Values outside
// the range are counted in the first or last bin
func Histogram(data []float32, min, max float32, bins []int32) {
	for i := range bins {
		bins[i] = 0
	}
	if len(bins) == 0 {
		return
	}
	if max <= min {
		bins[0] = int32(len(data))
		return
	}
	scale := float32(len(bins)) / (max - min)
	last := len(bins) - 1
	for _, d := range data {
		index := int((d - min) * scale)
		if index < 0 {
			index = 0
		} else if index > last {
			index = last
		}
		bins[index]++
	}
}

// Returns the center and the count of the most populated bin
func Peak(bins []int32, min, max float32) (x float32, count int32) {
	maxIndex, maxValue := -1, int32(math.MinInt32)
	for i, v := range bins {
		if v > maxValue {
			maxIndex, maxValue = i, v
		}
	}
	if maxIndex < 0 {
		return min, 0
	}
	x = min + (float32(maxIndex)+0.5)*(max-min)/float32(len(bins))
	return x, maxValue
}

// Formats a histogram with one line per bin, giving the bin range, the count and the share
// of all values
func FormatHistogram(bins []int32, min, max float32) string {
	total := int64(0)
	for _, b := range bins {
		total += int64(b)
	}
	if total == 0 {
		total = 1
	}
	sb := strings.Builder{}
	width := (max - min) / float32(len(bins))
	for i, b := range bins {
		from := min + float32(i)*width
		fmt.Fprintf(&sb, "  [%8.4g, %8.4g) %10d %5.1f%%\n", from, from+width, b, 100*float64(b)/float64(total))
	}
	return sb.String()
}
