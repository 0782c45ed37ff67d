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
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/mlnoga/umbra/internal/integrate"
)

// Creates a test frame of the given shape with value 1000*c + 10*y + x plus offset
func testFrame(shape integrate.Shape, offset float32) *Image {
	img := NewImageFromShape(shape, nil)
	for c := 0; c < shape.Channels; c++ {
		for y := 0; y < shape.Height; y++ {
			for x := 0; x < shape.Width; x++ {
				img.Data[c*shape.Pixels()+y*shape.Width+x] = 1000*float32(c) + 10*float32(y) + float32(x) + offset
			}
		}
	}
	img.Header.Floats[KeyOccluderX] = 3.5
	img.Header.Floats[KeyOccluderY] = -2.25
	img.Header.Ints[KeyOccluderRadius] = 12
	img.Header.Floats["EXPTIME"] = 0.001
	img.Header.Strings["FILTER"] = "Ha"
	img.Header.Floats[KeyPedestal] = 100
	return img
}

func writeTestFrame(t *testing.T, fileName string, img *Image) {
	t.Helper()
	if filepath.Ext(fileName) != ".gz" {
		if err := img.WriteFile(fileName); err != nil {
			t.Fatal(err)
		}
		return
	}
	var buf bytes.Buffer
	if err := img.Write(&buf); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(fileName)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	if _, err := io.Copy(gz, &buf); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	shape := integrate.Shape{Height: 7, Width: 5, Channels: 3}
	fileName := filepath.Join(t.TempDir(), "frame.fits")
	writeTestFrame(t, fileName, testFrame(shape, 0))

	img, err := NewImageFromFile(fileName, 0, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	got, err := img.Shape()
	if err != nil || got != shape {
		t.Fatalf("shape=%v, %v; want %v", got, err, shape)
	}
	want := testFrame(shape, 0)
	for i := range want.Data {
		if img.Data[i] != want.Data[i] {
			t.Fatalf("value %d=%f; want %f", i, img.Data[i], want.Data[i])
		}
	}
	if img.Exposure != 0.001 {
		t.Errorf("exposure=%g; want 0.001", img.Exposure)
	}
	if v, ok := img.Header.Format("FILTER"); !ok || v != "Ha" {
		t.Errorf("FILTER=%q, %v; want Ha", v, ok)
	}
}

func TestReadRows(t *testing.T) {
	shape := integrate.Shape{Height: 9, Width: 4, Channels: 3}
	dir := t.TempDir()
	for _, name := range []string{"plain.fits", "packed.fits.gz"} {
		fileName := filepath.Join(dir, name)
		writeTestFrame(t, fileName, testFrame(shape, 0.5))
		img, err := NewImageHeaderFromFile(fileName, 0, io.Discard)
		if err != nil {
			t.Fatal(err)
		}
		start, end := 3, 7
		rows := end - start
		dst := make([]float32, rows*shape.Width*shape.Channels)
		if err := img.ReadRowsFromFile(start, end, dst); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		for c := 0; c < shape.Channels; c++ {
			for y := 0; y < rows; y++ {
				for x := 0; x < shape.Width; x++ {
					got := dst[c*rows*shape.Width+y*shape.Width+x]
					want := 1000*float32(c) + 10*float32(start+y) + float32(x) + 0.5
					if got != want {
						t.Errorf("%s: c=%d y=%d x=%d is %f; want %f", name, c, start+y, x, got, want)
					}
				}
			}
		}
		if err := img.ReadRowsFromFile(5, 10, dst); err == nil {
			t.Errorf("%s: rows beyond height read without error", name)
		}
	}
}

func TestDecodeValues(t *testing.T) {
	cases := []struct {
		bitpix int32
		buf    []byte
		want   float32
	}{
		{8, []byte{200}, 200*2 + 1},
		{16, []byte{0xff, 0xfe}, -2*2 + 1},
		{32, []byte{0, 0, 1, 0}, 256*2 + 1},
		{64, []byte{0, 0, 0, 0, 0, 0, 0, 3}, 3*2 + 1},
		{-32, []byte{0x3f, 0x80, 0, 0}, 1*2 + 1},
		{-64, []byte{0x3f, 0xf0, 0, 0, 0, 0, 0, 0}, 1*2 + 1},
	}
	for _, c := range cases {
		dst := make([]float32, 1)
		decodeValues(c.buf, c.bitpix, 2, 1, dst)
		if dst[0] != c.want {
			t.Errorf("bitpix %d: got %f; want %f", c.bitpix, dst[0], c.want)
		}
	}
	if _, err := bytesPerValue(12); err == nil {
		t.Errorf("bitpix 12 accepted")
	}
}

func TestMetadata(t *testing.T) {
	img := testFrame(integrate.Shape{Height: 1, Width: 1, Channels: 1}, 0)
	m, err := img.Metadata([]string{"FILTER"})
	if err != nil {
		t.Fatal(err)
	}
	if m.OccluderX != 3.5 || m.OccluderY != -2.25 || m.OccluderRadius != 12 || m.Exposure != 0.001 {
		t.Errorf("metadata=%+v", m)
	}
	if !m.HasPedestal || m.Pedestal != 100 {
		t.Errorf("pedestal=%f, %v; want 100, true", m.Pedestal, m.HasPedestal)
	}
	if len(m.GroupValues) != 1 || m.GroupValues[0] != "Ha" {
		t.Errorf("group values=%v; want [Ha]", m.GroupValues)
	}

	if _, err := img.Metadata([]string{"ISO"}); !errors.Is(err, integrate.ErrMissingMetadata) {
		t.Errorf("missing group key: error=%v; want %v", err, integrate.ErrMissingMetadata)
	}
	delete(img.Header.Floats, KeyOccluderX)
	if _, err := img.Metadata(nil); !errors.Is(err, integrate.ErrMissingMetadata) {
		t.Errorf("missing MOON-X: error=%v; want %v", err, integrate.ErrMissingMetadata)
	}
}

func TestGroupFiles(t *testing.T) {
	dir := t.TempDir()
	shape := integrate.Shape{Height: 2, Width: 2, Channels: 1}
	for i, filter := range []string{"Ha", "OIII", "Ha"} {
		img := testFrame(shape, 0)
		img.Header.Strings["FILTER"] = filter
		img.Header.Ints["ISO"] = 100
		writeTestFrame(t, filepath.Join(dir, []string{"a.fits", "b.fits", "c.fits"}[i]), img)
	}
	files, err := ExpandPatterns([]string{filepath.Join(dir, "*.fits"), filepath.Join(dir, "a.fits")})
	if err != nil || len(files) != 3 {
		t.Fatalf("files=%v, %v; want 3 files", files, err)
	}
	groups, err := GroupFiles(files, []string{"FILTER", "ISO"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("groups=%v; want 2", groups)
	}
	if groups[0].Name != "FILTER_Ha - ISO_100" || len(groups[0].Files) != 2 {
		t.Errorf("group 0=%+v; want FILTER_Ha - ISO_100 with 2 files", groups[0])
	}
	if groups[1].Name != "FILTER_OIII - ISO_100" || len(groups[1].Files) != 1 {
		t.Errorf("group 1=%+v; want FILTER_OIII - ISO_100 with 1 file", groups[1])
	}
	if GroupName(nil, nil) != "all" {
		t.Errorf("GroupName without keys=%q; want all", GroupName(nil, nil))
	}
}

func TestFileLoaderShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.fits"), filepath.Join(dir, "b.fits")
	writeTestFrame(t, a, testFrame(integrate.Shape{Height: 2, Width: 3, Channels: 1}, 0))
	writeTestFrame(t, b, testFrame(integrate.Shape{Height: 3, Width: 2, Channels: 1}, 0))
	if _, err := NewFileLoader([]string{a, b}, nil, io.Discard); !errors.Is(err, integrate.ErrShapeMismatch) {
		t.Errorf("error=%v; want %v", err, integrate.ErrShapeMismatch)
	}
	if _, err := NewFileLoader(nil, nil, io.Discard); !errors.Is(err, integrate.ErrNoFrames) {
		t.Errorf("error=%v; want %v", err, integrate.ErrNoFrames)
	}
}

type testLogger struct{ t *testing.T }

func (l testLogger) Write(p []byte) (int, error) {
	l.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

func TestIntegrateFilesEndToEnd(t *testing.T) {
	dir := t.TempDir()
	shape := integrate.Shape{Height: 12, Width: 10, Channels: 3}
	var files []string
	for i := 0; i < 4; i++ {
		img := testFrame(shape, float32(i))
		// occluders far away, no pixel is covered
		img.Header.Floats[KeyOccluderX] = 1000
		fileName := filepath.Join(dir, []string{"f0.fits", "f1.fits.gz", "f2.fits", "f3.fits"}[i])
		writeTestFrame(t, fileName, img)
		files = append(files, fileName)
	}
	// a NaN in one frame leaves the mean of the others
	nanFrame := testFrame(shape, 0)
	nanFrame.Header.Floats[KeyOccluderX] = 1000
	nanFrame.Data[5] = float32(math.NaN())
	writeTestFrame(t, files[0], nanFrame)

	log := testLogger{t}
	loader, err := NewFileLoader(files, []string{"FILTER"}, log)
	if err != nil {
		t.Fatal(err)
	}
	opts := integrate.DefaultOptions()
	opts.Sigma = 0
	opts.MemoryBudget = integrate.RequiredBytes(4, shape, integrate.Float32Size)/3 + 1
	in := integrate.NewIntegrator(opts, log)
	in.Hooks.Preview = PreviewHook(dir, log)
	sink := &FileSink{Dir: dir, GroupKeys: []string{"FILTER"}, Format: "fits", Weights: true, HeatMap: true, Log: log}
	results, errs := in.Run(context.Background(), []integrate.Group{{Name: "FILTER_Ha", Loader: loader}}, sink)
	if len(errs) != 0 {
		t.Fatal(errs)
	}
	if len(results[0].Plan) != 3 {
		t.Errorf("plan=%v; want 3 chunks", results[0].Plan)
	}

	out, err := NewImageFromFile(filepath.Join(dir, "FILTER_Ha.fits"), 0, log)
	if err != nil {
		t.Fatal(err)
	}
	for j, v := range out.Data {
		want := testFrame(shape, 1.5).Data[j]
		if j == 5 {
			want = testFrame(shape, 2).Data[j]
		}
		if math.Abs(float64(v-want)) > 1e-3 {
			t.Fatalf("value %d=%f; want %f", j, v, want)
		}
	}
	if n := out.Header.Ints[KeyNumFrames]; n != 4 {
		t.Errorf("%s=%d; want 4", KeyNumFrames, n)
	}
	if v, _ := out.Header.Format("FILTER"); v != "Ha" {
		t.Errorf("FILTER=%q; want Ha", v)
	}
	if v, ok := out.Header.Float(KeyPedestal); !ok || v != 100 {
		t.Errorf("%s=%f, %v; want 100", KeyPedestal, v, ok)
	}
	for _, name := range []string{"FILTER_Ha_weights.fits", "FILTER_Ha_weights.jpg", "FILTER_Ha_preview.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}
}

func TestWriteImages(t *testing.T) {
	for _, channels := range []int{1, 3} {
		img := testFrame(integrate.Shape{Height: 8, Width: 8, Channels: channels}, 0)
		var buf bytes.Buffer
		if err := img.WriteJPG(&buf, 0, 3000, 1, 90); err != nil || buf.Len() == 0 {
			t.Errorf("jpg with %d channels: %v", channels, err)
		}
		buf.Reset()
		if err := img.WriteTIFF16(&buf, 0, 3000, 2.2); err != nil || buf.Len() == 0 {
			t.Errorf("tiff with %d channels: %v", channels, err)
		}
		buf.Reset()
		if err := img.WriteHeatMapJPG(&buf, 100, 90); err != nil || buf.Len() == 0 {
			t.Errorf("heat map with %d channels: %v", channels, err)
		}
	}
	if c := heatMapColor(0); c != heatMapColor(-1) {
		t.Errorf("heat map color below range %v; want %v", heatMapColor(-1), c)
	}
}

func TestNilLogWriters(t *testing.T) {
	dir := t.TempDir()
	shape := integrate.Shape{Height: 3, Width: 4, Channels: 1}
	files := []string{filepath.Join(dir, "a.fits"), filepath.Join(dir, "b.fits")}
	for i, fileName := range files {
		img := testFrame(shape, float32(i))
		img.Header.Floats[KeyOccluderX] = 1000
		writeTestFrame(t, fileName, img)
	}

	groups, err := GroupFiles(files, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].Name != "all" {
		t.Fatalf("groups=%v; want one group all", groups)
	}
	loader, err := NewFileLoader(groups[0].Files, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	opts := integrate.DefaultOptions()
	opts.MemoryBudget = 1 << 20
	in := integrate.NewIntegrator(opts, nil)
	in.Hooks.Preview = PreviewHook(dir, nil)
	sink := &FileSink{Dir: dir, Format: "tif", Weights: true, HeatMap: true}
	if _, errs := in.Run(context.Background(), []integrate.Group{{Name: "all", Loader: loader}}, sink); len(errs) != 0 {
		t.Fatal(errs)
	}
	for _, name := range []string{"all.tif", "all_weights.fits", "all_weights.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}
}
