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
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"
)

// Maps a value to [0,1] using the given min, scale and inverse gamma.
// NaNs map to zero, else JPG and TIFF output breaks
func toneMap(v, min, scale float32, gammaInv float64) float32 {
	v = (v - min) * scale
	if math.IsNaN(float64(v)) || v < 0 {
		return 0
	}
	if v > 1 {
		v = 1
	}
	if gammaInv != 1.0 {
		v = float32(math.Pow(float64(v), gammaInv))
	}
	return v
}

// Returns true if the image has at least three color channels
func (f *Image) isColor() bool {
	return len(f.Naxisn) >= 3 && f.Naxisn[2] >= 3
}

// Creates a file with buffered writer, and calls write on it
func writeToFile(fileName string, write func(w io.Writer) error) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := write(writer); err != nil {
		return err
	}
	return writer.Flush()
}

// Write a FITS image to JPG, using the given min, max and gamma.
func (f *Image) WriteJPGToFile(fileName string, min, max, gamma float32, quality int) error {
	return writeToFile(fileName, func(w io.Writer) error {
		return f.WriteJPG(w, min, max, gamma, quality)
	})
}

// Write a FITS image to JPG, using the given min, max and gamma. Images with fewer than three
// channels are written as grayscale from the first channel
func (f *Image) WriteJPG(writer io.Writer, min, max, gamma float32, quality int) error {
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])
	size := width * height
	rect := image.Rectangle{image.Point{0, 0}, image.Point{width, height}}
	scale := 1.0 / (max - min)
	gammaInv := float64(1.0 / gamma)

	if !f.isColor() {
		img := image.NewGray(rect)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				gray := toneMap(f.Data[y*width+x], min, scale, gammaInv)
				img.SetGray(x, y, color.Gray{uint8(gray * 255)})
			}
		}
		return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
	}

	img := image.NewRGBA(rect)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			r := toneMap(f.Data[yoffset+x], min, scale, gammaInv)
			g := toneMap(f.Data[yoffset+x+size], min, scale, gammaInv)
			b := toneMap(f.Data[yoffset+x+size*2], min, scale, gammaInv)
			img.SetRGBA(x, y, color.RGBA{uint8(r * 255), uint8(g * 255), uint8(b * 255), 255})
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}
