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
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/mlnoga/umbra/internal/integrate"
	"github.com/mlnoga/umbra/internal/stats"
)

// Creates a FITS image of the reduced output of a group, with the group keywords, pedestal,
// occluder position of the first frame, frame count and summed exposure in the header
func NewImageFromResult(res *integrate.Result, groupKeys []string) *Image {
	img := NewImageFromShape(res.Output.Shape, res.Output.Image)
	addResultHeader(img, res, groupKeys)
	return img
}

// Creates a FITS image of the total weight map of a group, with the same header keys as the
// reduced output
func NewWeightImageFromResult(res *integrate.Result, groupKeys []string) *Image {
	img := NewImageFromShape(res.Output.Shape, res.Output.Weights)
	addResultHeader(img, res, groupKeys)
	return img
}

func addResultHeader(img *Image, res *integrate.Result, groupKeys []string) {
	h := &img.Header
	if len(res.Metadata) > 0 {
		first := &res.Metadata[0]
		for i, k := range groupKeys {
			if i < len(first.GroupValues) {
				h.Strings[k] = first.GroupValues[i]
			}
		}
		if first.HasPedestal {
			h.Floats[KeyPedestal] = first.Pedestal
		}
		h.Floats[KeyOccluderX] = first.OccluderX
		h.Floats[KeyOccluderY] = first.OccluderY
	}
	h.Ints[KeyNumFrames] = int32(res.NumFrames())
	h.Floats[KeyExposureSum] = res.TotalExposure()
	h.History = append(h.History, fmt.Sprintf("umbra integration of group %s", res.Group))
}

// Writes group results to files in a directory
type FileSink struct {
	Dir       string    // Output directory
	GroupKeys []string  // Group keywords, written into the header
	Format    string    // Output format of the reduced image: "fits" or "tif"
	Weights   bool      // Also write the total weight map as FITS
	HeatMap   bool      // Also write the total weight map as false-color JPG
	Log       io.Writer // Progress output
}

// Output file name of a group for the given suffix and extension
func (s *FileSink) path(group, suffix, ext string) string {
	name := strings.ReplaceAll(group, string(filepath.Separator), "_")
	return filepath.Join(s.Dir, name+suffix+"."+ext)
}

// Writes the reduced image, and optionally the weight map and heat map, of a complete group
func (s *FileSink) WriteGroup(res *integrate.Result) error {
	img := NewImageFromResult(res, s.GroupKeys)
	if strings.HasPrefix(strings.ToLower(s.Format), "tif") {
		fileName := s.path(res.Group, "", "tif")
		sum := stats.Summarize(img.Data)
		logf(s.Log, "Writing 16-bit TIFF %s, range [%.6g, %.6g]\n", fileName, sum.Min, sum.Max)
		if err := img.WriteTIFF16ToFile(fileName, sum.Min, sum.Max, 1); err != nil {
			return err
		}
	} else {
		fileName := s.path(res.Group, "", "fits")
		logf(s.Log, "Writing FITS %s\n", fileName)
		if err := img.WriteFile(fileName); err != nil {
			return err
		}
	}

	if !s.Weights && !s.HeatMap {
		return nil
	}
	weights := NewWeightImageFromResult(res, s.GroupKeys)
	if s.Weights {
		fileName := s.path(res.Group, "_weights", "fits")
		logf(s.Log, "Writing weight map %s\n", fileName)
		if err := weights.WriteFile(fileName); err != nil {
			return err
		}
	}
	if s.HeatMap {
		fileName := s.path(res.Group, "_weights", "jpg")
		max := stats.Summarize(weights.Data).Max
		logf(s.Log, "Writing weight heat map %s, max %.6g\n", fileName, max)
		if err := weights.WriteHeatMapJPGToFile(fileName, max, 90); err != nil {
			return err
		}
	}
	return nil
}

// Returns a preview hook writing the partial output of a group as JPG into the given directory
// after each chunk. Errors are logged, not returned
func PreviewHook(dir string, logWriter io.Writer) func(res *integrate.Result, rows integrate.RowRange) {
	return func(res *integrate.Result, rows integrate.RowRange) {
		img := NewImageFromShape(res.Output.Shape, res.Output.Image)
		// scale to the rows written so far
		done := res.Output.Image[:rows.End*res.Output.Shape.Width]
		sum := stats.Summarize(done)
		if sum.Max <= sum.Min {
			sum.Max = sum.Min + 1
		}
		fileName := filepath.Join(dir, strings.ReplaceAll(res.Group, string(filepath.Separator), "_")+"_preview.jpg")
		if err := img.WriteJPGToFile(fileName, sum.Min, sum.Max, 1, 80); err != nil {
			logf(logWriter, "Error writing preview %s: %v\n", fileName, err)
		}
	}
}
