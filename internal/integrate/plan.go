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

	"github.com/pbnjay/memory"
)

// Default fraction of available memory used for planning
const DefaultMemoryFraction = 0.8

// Size of a float32 value in bytes
const Float32Size = 4

// Calculates the peak number of bytes the pipeline needs to integrate numImages frames of the
// given shape in a single chunk, for values of elementSize bytes. Covers the stack values and
// validity mask, the occlusion weights, the occluder tracking arrays, the outlier rejection
// temporaries and the output accumulators
func RequiredBytes(numImages int, shape Shape, elementSize int) int64 {
	n, s := int64(numImages), int64(elementSize)
	hw := int64(shape.Height) * int64(shape.Width)
	hwc := hw * int64(shape.Channels)

	stack := n * hwc * s
	mask := n * hwc
	weights := n * hw * s
	tracking := hw * (2*s + 2*4)
	outliers := 3 * hwc * s
	output := 2 * hwc * s
	return stack + mask + weights + tracking + outliers + output
}

// Partitions the image height into contiguous row ranges such that each chunk fits into
// maxBytes. Chunk sizes differ by at most one row, with the larger chunks first
func Plan(numImages int, shape Shape, elementSize int, maxBytes int64) ([]RowRange, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidBudget, maxBytes)
	}
	if numImages <= 0 {
		return nil, fmt.Errorf("%w: got %d images", ErrNoFrames, numImages)
	}
	if shape.Height <= 0 || shape.Width <= 0 || shape.Channels <= 0 || elementSize <= 0 {
		return nil, fmt.Errorf("%w: invalid shape %v with element size %d", ErrShapeMismatch, shape, elementSize)
	}

	required := RequiredBytes(numImages, shape, elementSize)
	numChunks := (required + maxBytes - 1) / maxBytes
	if numChunks < 1 {
		numChunks = 1
	}
	if numChunks > int64(shape.Height) {
		return nil, fmt.Errorf("%w: %d bytes required, %d available, needs %d chunks for %d rows",
			ErrRowsExceedBudget, required, maxBytes, numChunks, shape.Height)
	}

	n := int(numChunks)
	base, extra := shape.Height/n, shape.Height%n
	ranges := make([]RowRange, n)
	start := 0
	for i := range ranges {
		rows := base
		if i < extra {
			rows++
		}
		ranges[i] = RowRange{Start: start, End: start + rows}
		start += rows
	}
	return ranges, nil
}

// Returns the largest number of rows in any of the given ranges
func MaxRows(ranges []RowRange) int {
	max := 0
	for _, r := range ranges {
		if r.Rows() > max {
			max = r.Rows()
		}
	}
	return max
}

// Returns the memory currently available to the process in bytes. Falls back to total
// system memory if the free amount cannot be determined
func AvailableMemory() uint64 {
	if free := memory.FreeMemory(); free > 0 {
		return free
	}
	return memory.TotalMemory()
}

// Calculates the memory budget in bytes. An explicit budget overrides the query, otherwise the
// given fraction of the queried available memory is used
func Budget(explicit int64, fraction float64, query func() uint64) int64 {
	if explicit > 0 {
		return explicit
	}
	if query == nil {
		query = AvailableMemory
	}
	return int64(float64(query()) * fraction)
}
