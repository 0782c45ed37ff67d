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

import "fmt"

// Full-size integration output for one group, channel-planar like the frames
type Output struct {
	Shape   Shape
	Image   []float32 // Weighted mean per pixel and channel
	Weights []float32 // Total weight per pixel and channel
}

// Creates a zeroed output of the given shape
func NewOutput(shape Shape) *Output {
	return &Output{
		Shape:   shape,
		Image:   make([]float32, shape.Values()),
		Weights: make([]float32, shape.Values()),
	}
}

// Reduces the stack to its weighted mean and writes the result into the rows of out covered by
// the stack. The effective weight of an entry is its occlusion weight if valid, else zero.
// The total weight is divided by the number of frames if normalize is set. A pixel with zero
// total weight is an error naming its position
func Reduce(st *Stack, wm *WeightMap, out *Output, normalize bool) error {
	w, h, channels := st.Shape.Width, st.Shape.Height, st.Shape.Channels
	rows := st.Rows.Rows()
	pixels := rows * w
	scale := float64(1)
	if normalize {
		scale = 1 / float64(st.NumFrames())
	}

	for c := 0; c < channels; c++ {
		for y := 0; y < rows; y++ {
			outOffset := c*h*w + (st.Rows.Start+y)*w
			for x := 0; x < w; x++ {
				p := y*w + x
				i := c*pixels + p

				sumW, sumVW := float64(0), float64(0)
				for li := range st.Data {
					if !st.Valid[li][i] {
						continue
					}
					weight := float64(wm.Weights[li][p])
					sumW += weight
					sumVW += weight * float64(st.Data[li][i])
				}
				if sumW == 0 {
					return fmt.Errorf("%w at x=%d y=%d c=%d", ErrStarvedPixel, x, st.Rows.Start+y, c)
				}
				out.Image[outOffset+x] = float32(sumVW / sumW)
				out.Weights[outOffset+x] = float32(sumW * scale)
			}
		}
	}
	return nil
}
