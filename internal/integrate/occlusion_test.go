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
	"math"
	"testing"
)

func TestOcclusionWeightShape(t *testing.T) {
	radius, extra, smooth := float32(10), float32(2), float32(5)
	r := radius + extra
	if w := OcclusionWeight(r, r, smooth); w != 0 {
		t.Errorf("weight at R+E=%f; want 0", w)
	}
	if w := OcclusionWeight(r+smooth, r, smooth); w != 1 {
		t.Errorf("weight at R+E+S=%f; want 1", w)
	}
	if w := OcclusionWeight(r+smooth/2, r, smooth); math.Abs(float64(w-0.5)) > 1e-6 {
		t.Errorf("weight at R+E+S/2=%f; want 0.5", w)
	}
	prev := float32(0)
	for d := float32(0); d < 40; d += 0.125 {
		w := OcclusionWeight(d, r, smooth)
		if w < prev {
			t.Errorf("weight at %f=%f below weight %f at smaller distance", d, w, prev)
		}
		if w < 0 || w > 1 {
			t.Errorf("weight at %f=%f outside [0,1]", d, w)
		}
		prev = w
	}
}

func TestOcclusionWeightHardEdge(t *testing.T) {
	cases := []struct {
		d, r float32
		want float32
	}{
		{0, 10, 0},
		{10, 10, 0},
		{10.5, 10, 1},
		{100, 10, 1},
	}
	for _, c := range cases {
		if got := OcclusionWeight(c.d, c.r, 0); got != c.want {
			t.Errorf("OcclusionWeight(%f, %f, 0)=%f; want %f", c.d, c.r, got, c.want)
		}
	}
}

// Creates a loaded stack of n constant frames with value i+1 for frame i
func constantStack(t *testing.T, n int, shape Shape) *Stack {
	t.Helper()
	st := NewStack(nil, n, shape, shape.Height)
	if err := st.SetRows(RowRange{Start: 0, End: shape.Height}); err != nil {
		t.Fatal(err)
	}
	for i := range st.Data {
		full := make([]float32, shape.Values())
		for j := range full {
			full[j] = float32(i + 1)
		}
		if err := st.LoadFrame(i, full); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestOcclusionRejectsCoveredPixels(t *testing.T) {
	shape := Shape{Height: 10, Width: 20, Channels: 2}
	st := constantStack(t, 2, shape)
	meta := []FrameMetadata{
		{OccluderX: 4, OccluderY: 4, OccluderRadius: 3},
		{OccluderX: 15, OccluderY: 5, OccluderRadius: 3},
	}
	wm := NewWeightMap(nil, 2, shape.Pixels())
	rejected, err := NewOcclusionRejector(0, 0).Reject(st, meta, wm)
	if err != nil {
		t.Fatal(err)
	}
	// disks of radius 3 on the integer grid cover 29 pixels each, with distance <= 3
	if rejected != 2*29 {
		t.Errorf("rejected=%d; want %d", rejected, 2*29)
	}
	p := 4*shape.Width + 4
	if wm.Weights[0][p] != 0 || wm.Weights[1][p] != 1 {
		t.Errorf("weights at (4,4)=%f,%f; want 0,1", wm.Weights[0][p], wm.Weights[1][p])
	}
	for c := 0; c < shape.Channels; c++ {
		if st.Valid[0][c*shape.Pixels()+p] {
			t.Errorf("frame 0 channel %d at (4,4) valid; want invalid", c)
		}
		if !st.Valid[1][c*shape.Pixels()+p] {
			t.Errorf("frame 1 channel %d at (4,4) invalid; want valid", c)
		}
	}
}

func TestOcclusionFallbackRescuesFarthestFrame(t *testing.T) {
	shape := Shape{Height: 5, Width: 5, Channels: 1}
	st := constantStack(t, 3, shape)
	// every occluder covers the whole image; frame 2 is farthest from pixel (0,0)
	meta := []FrameMetadata{
		{OccluderX: 1, OccluderY: 1, OccluderRadius: 100},
		{OccluderX: 2, OccluderY: 2, OccluderRadius: 100},
		{OccluderX: 4, OccluderY: 4, OccluderRadius: 100},
	}
	wm := NewWeightMap(nil, 3, shape.Pixels())
	o := NewOcclusionRejector(0, 5)
	if _, err := o.Reject(st, meta, wm); err != nil {
		t.Fatal(err)
	}
	if wm.Weights[2][0] != 1 || wm.Weights[0][0] != 0 || wm.Weights[1][0] != 0 {
		t.Errorf("weights at (0,0)=%f,%f,%f; want 0,0,1", wm.Weights[0][0], wm.Weights[1][0], wm.Weights[2][0])
	}
	// pixel (4,4) is farthest from frame 0
	p := 4*shape.Width + 4
	if wm.Weights[0][p] != 1 {
		t.Errorf("weight of frame 0 at (4,4)=%f; want 1", wm.Weights[0][p])
	}

	out := NewOutput(shape)
	if err := Reduce(st, wm, out, false); err != nil {
		t.Fatal(err)
	}
	if out.Image[0] != 3 {
		t.Errorf("output at (0,0)=%f; want 3, the value of the farthest frame", out.Image[0])
	}
	if out.Image[p] != 1 {
		t.Errorf("output at (4,4)=%f; want 1", out.Image[p])
	}
}

func TestOcclusionFallbackPrefersValidFrames(t *testing.T) {
	shape := Shape{Height: 3, Width: 3, Channels: 2}
	st := constantStack(t, 2, shape)
	meta := []FrameMetadata{
		{OccluderX: 1, OccluderY: 1, OccluderRadius: 100},
		{OccluderX: 10, OccluderY: 10, OccluderRadius: 100},
	}
	// frame 1 is farthest from (0,0), but invalid in its second channel there
	st.Data[1][shape.Pixels()] = float32(math.NaN())
	st.UpdateValidity(1)

	wm := NewWeightMap(nil, 2, shape.Pixels())
	if _, err := NewOcclusionRejector(0, 0).Reject(st, meta, wm); err != nil {
		t.Fatal(err)
	}
	if wm.Weights[0][0] != 1 || wm.Weights[1][0] != 0 {
		t.Errorf("weights at (0,0)=%f,%f; want 1,0", wm.Weights[0][0], wm.Weights[1][0])
	}
	// elsewhere the farthest frame wins
	if wm.Weights[1][1] != 1 || wm.Weights[0][1] != 0 {
		t.Errorf("weights at (1,0)=%f,%f; want 0,1", wm.Weights[0][1], wm.Weights[1][1])
	}
}

func TestOcclusionKeepsPartialContributor(t *testing.T) {
	shape := Shape{Height: 1, Width: 1, Channels: 2}
	st := constantStack(t, 2, shape)
	// frame 0 is covered, frame 1 is clear but invalid in its second channel
	st.Data[1][1] = float32(math.NaN())
	st.UpdateValidity(1)
	meta := []FrameMetadata{
		{OccluderX: 0, OccluderY: 0, OccluderRadius: 5},
		{OccluderX: 100, OccluderY: 100, OccluderRadius: 5},
	}
	wm := NewWeightMap(nil, 2, shape.Pixels())
	if _, err := NewOcclusionRejector(0, 0).Reject(st, meta, wm); err != nil {
		t.Fatal(err)
	}
	if st.Valid[0][0] {
		t.Errorf("covered frame valid in channel 0; want invalid")
	}
	if !st.Valid[0][1] || wm.Weights[0][0] != 1 {
		t.Errorf("covered frame valid=%v weight=%f in channel 1; want true, 1", st.Valid[0][1], wm.Weights[0][0])
	}

	out := NewOutput(shape)
	if err := Reduce(st, wm, out, false); err != nil {
		t.Fatal(err)
	}
	if out.Image[0] != 2 {
		t.Errorf("channel 0=%f; want 2 from the clear frame only", out.Image[0])
	}
	if out.Image[1] != 1 {
		t.Errorf("channel 1=%f; want 1 from the rescued frame", out.Image[1])
	}
}

func TestOcclusionMetadataMismatch(t *testing.T) {
	shape := Shape{Height: 2, Width: 2, Channels: 1}
	st := constantStack(t, 2, shape)
	wm := NewWeightMap(nil, 2, shape.Pixels())
	if _, err := NewOcclusionRejector(0, 0).Reject(st, []FrameMetadata{{}}, wm); err == nil {
		t.Errorf("got nil error for missing metadata")
	}
}
