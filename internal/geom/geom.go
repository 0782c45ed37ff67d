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

// Package geom holds the pixel geometry shared by the integration steps:
// rectangular regions in full-image coordinates and distance maps over them.
package geom

import (
	"fmt"
	"math"
)

// A point in full-image pixel coordinates. X runs along the row, Y down the columns
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// A rectangular sub-window of the full image. Chunks cover full rows, so for them
// Left is 0 and Width is the image width, but nothing here depends on that.
type Region struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Left   int `json:"left"`
	Top    int `json:"top"`
}

// Creates a region covering the given rows [top, bottom) of an image with the given width
func RowsRegion(width, top, bottom int) Region {
	return Region{Width: width, Height: bottom - top, Left: 0, Top: top}
}

// Number of pixels in the region
func (r Region) Pixels() int { return r.Width * r.Height }

func (r Region) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.Left, r.Top)
}

// Fills dst with the Euclidean distance of every region pixel to the center, in row-major
// order of the region. Distances are computed in the full image coordinate system, so a
// pixel gets the same value no matter which region it is evaluated in.
// Allocates dst if it is too small, and returns the (possibly new) slice.
func DistanceMap(center Point, r Region, dst []float32) []float32 {
	n := r.Pixels()
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	cx, cy := float64(center.X), float64(center.Y)
	for y := 0; y < r.Height; y++ {
		dy := float64(r.Top+y) - cy
		dy2 := dy * dy
		row := dst[y*r.Width : (y+1)*r.Width]
		for x := range row {
			dx := float64(r.Left+x) - cx
			row[x] = float32(math.Sqrt(dx*dx + dy2))
		}
	}
	return dst
}
