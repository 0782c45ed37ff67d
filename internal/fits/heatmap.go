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

package fits

import (
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// End points of the heat map color scale, from no weight to full weight
var (
	heatMapLow, _  = colorful.Hex("#0d0887")
	heatMapHigh, _ = colorful.Hex("#f0f921")
)

// Returns the heat map color for a value in [0,1], blended in HCL space
func heatMapColor(t float32) color.RGBA {
	if math.IsNaN(float64(t)) || t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	c := heatMapLow.BlendHcl(heatMapHigh, float64(t)).Clamped()
	r, g, b := c.RGB255()
	return color.RGBA{r, g, b, 255}
}

// Write the first channel of a FITS image as false-color heat map JPG, scaling values from
// zero to max
func (f *Image) WriteHeatMapJPGToFile(fileName string, max float32, quality int) error {
	return writeToFile(fileName, func(w io.Writer) error {
		return f.WriteHeatMapJPG(w, max, quality)
	})
}

// Write the first channel of a FITS image as false-color heat map JPG, scaling values from
// zero to max
func (f *Image) WriteHeatMapJPG(writer io.Writer, max float32, quality int) error {
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := float32(1)
	if max > 0 {
		scale = 1 / max
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, heatMapColor(f.Data[y*width+x]*scale))
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}
