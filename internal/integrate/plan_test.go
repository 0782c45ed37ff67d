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
	"errors"
	"testing"
)

func TestRequiredBytes(t *testing.T) {
	// N=2, H=3, W=4, C=1, S=4: stack 96, mask 24, weights 96, tracking 192, outliers 144, output 96
	got := RequiredBytes(2, Shape{Height: 3, Width: 4, Channels: 1}, 4)
	if want := int64(96 + 24 + 96 + 192 + 144 + 96); got != want {
		t.Errorf("RequiredBytes=%d; want %d", got, want)
	}
}

func checkPartition(t *testing.T, ranges []RowRange, height int) {
	t.Helper()
	if len(ranges) == 0 {
		t.Fatalf("empty plan")
	}
	if ranges[0].Start != 0 {
		t.Errorf("first range starts at %d; want 0", ranges[0].Start)
	}
	if last := ranges[len(ranges)-1].End; last != height {
		t.Errorf("last range ends at %d; want %d", last, height)
	}
	min, max := height, 0
	for i, r := range ranges {
		if r.Rows() <= 0 {
			t.Errorf("range %d %v is empty", i, r)
		}
		if i > 0 && r.Start != ranges[i-1].End {
			t.Errorf("range %d %v does not continue %v", i, r, ranges[i-1])
		}
		if i > 0 && r.Rows() > ranges[i-1].Rows() {
			t.Errorf("range %d %v larger than predecessor %v", i, r, ranges[i-1])
		}
		if r.Rows() < min {
			min = r.Rows()
		}
		if r.Rows() > max {
			max = r.Rows()
		}
	}
	if max-min > 1 {
		t.Errorf("range sizes differ by %d; want at most 1", max-min)
	}
}

func TestPlanPartition(t *testing.T) {
	cases := []struct {
		n      int
		shape  Shape
		budget int64
	}{
		{1, Shape{1, 1, 1}, 1 << 20},
		{10, Shape{40, 40, 3}, 1 << 30},
		{10, Shape{40, 40, 3}, 100000},
		{7, Shape{101, 33, 1}, 50000},
		{100, Shape{1000, 1500, 3}, 1 << 30},
		{3, Shape{17, 5, 4}, 1000},
	}
	for _, c := range cases {
		ranges, err := Plan(c.n, c.shape, 4, c.budget)
		if err != nil {
			t.Errorf("Plan(%d, %v, %d): %v", c.n, c.shape, c.budget, err)
			continue
		}
		checkPartition(t, ranges, c.shape.Height)
		required := RequiredBytes(c.n, c.shape, 4)
		want := int((required + c.budget - 1) / c.budget)
		if want < 1 {
			want = 1
		}
		if len(ranges) != want {
			t.Errorf("Plan(%d, %v, %d) has %d chunks; want %d", c.n, c.shape, c.budget, len(ranges), want)
		}
	}
}

func TestPlanSingleChunk(t *testing.T) {
	shape := Shape{Height: 40, Width: 40, Channels: 3}
	ranges, err := Plan(10, shape, 4, RequiredBytes(10, shape, 4))
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 1 || ranges[0] != (RowRange{Start: 0, End: 40}) {
		t.Errorf("ranges=%v; want [{0 40}]", ranges)
	}
}

func TestPlanThreeChunks(t *testing.T) {
	shape := Shape{Height: 40, Width: 40, Channels: 3}
	ranges, err := Plan(10, shape, 4, RequiredBytes(10, shape, 4)/3+1)
	if err != nil {
		t.Fatal(err)
	}
	want := []RowRange{{0, 14}, {14, 27}, {27, 40}}
	if len(ranges) != len(want) {
		t.Fatalf("ranges=%v; want %v", ranges, want)
	}
	for i := range want {
		if ranges[i] != want[i] {
			t.Errorf("range %d=%v; want %v", i, ranges[i], want[i])
		}
	}
}

func TestPlanErrors(t *testing.T) {
	shape := Shape{Height: 40, Width: 40, Channels: 3}
	cases := []struct {
		n      int
		shape  Shape
		budget int64
		want   error
	}{
		{10, shape, 0, ErrInvalidBudget},
		{10, shape, -5, ErrInvalidBudget},
		{0, shape, 1 << 20, ErrNoFrames},
		{10, Shape{0, 40, 3}, 1 << 20, ErrShapeMismatch},
		{10, shape, 100, ErrRowsExceedBudget},
	}
	for _, c := range cases {
		if _, err := Plan(c.n, c.shape, 4, c.budget); !errors.Is(err, c.want) {
			t.Errorf("Plan(%d, %v, %d) error=%v; want %v", c.n, c.shape, c.budget, err, c.want)
		}
	}
}

func TestBudget(t *testing.T) {
	query := func() uint64 { return 1000 }
	if b := Budget(123, 0.8, query); b != 123 {
		t.Errorf("explicit budget=%d; want 123", b)
	}
	if b := Budget(0, 0.8, query); b != 800 {
		t.Errorf("fraction budget=%d; want 800", b)
	}
}
