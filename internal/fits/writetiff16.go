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
	"io"

	"golang.org/x/image/tiff"
)

// Write a FITS image to 16-bit TIFF, using the given min, max and gamma.
func (f *Image) WriteTIFF16ToFile(fileName string, min, max, gamma float32) error {
	return writeToFile(fileName, func(w io.Writer) error {
		return f.WriteTIFF16(w, min, max, gamma)
	})
}

// Write a FITS image to 16-bit TIFF, using the given min, max and gamma. Images with fewer than
// three channels are written as grayscale from the first channel
func (f *Image) WriteTIFF16(writer io.Writer, min, max, gamma float32) error {
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])
	size := width * height
	rect := image.Rectangle{image.Point{0, 0}, image.Point{width, height}}
	scale := 1.0 / (max - min)
	gammaInv := float64(1.0 / gamma)
	opts := &tiff.Options{Compression: tiff.Deflate, Predictor: true}

	if !f.isColor() {
		img := image.NewGray16(rect)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				gray := toneMap(f.Data[y*width+x], min, scale, gammaInv)
				img.SetGray16(x, y, color.Gray16{uint16(gray * 65535)})
			}
		}
		return tiff.Encode(writer, img, opts)
	}

	img := image.NewRGBA64(rect)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			r := toneMap(f.Data[yoffset+x], min, scale, gammaInv)
			g := toneMap(f.Data[yoffset+x+size], min, scale, gammaInv)
			b := toneMap(f.Data[yoffset+x+size*2], min, scale, gammaInv)
			img.SetRGBA64(x, y, color.RGBA64{uint16(r * 65535), uint16(g * 65535), uint16(b * 65535), 65535})
		}
	}
	return tiff.Encode(writer, img, opts)
}
