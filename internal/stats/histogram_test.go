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

package stats

import (
	"strings"
	"testing"
)

func TestHistogram(t *testing.T) {
	data := []float32{-1, 0, 0.5, 1, 1.5, 2, 2, 2, 7}
	bins := make([]int32, 4)
	Histogram(data, 0, 2, bins)
	want := []int32{2, 1, 1, 5}
	for i := range want {
		if bins[i] != want[i] {
			t.Errorf("bins=%v; want %v", bins, want)
			break
		}
	}

	x, count := Peak(bins, 0, 2)
	if x != 1.75 || count != 5 {
		t.Errorf("peak=%f,%d; want 1.75,5", x, count)
	}
}

func TestHistogramEmptyRange(t *testing.T) {
	bins := make([]int32, 3)
	Histogram([]float32{5, 5, 5}, 5, 5, bins)
	if bins[0] != 3 || bins[1] != 0 || bins[2] != 0 {
		t.Errorf("bins=%v; want [3 0 0]", bins)
	}
}

func TestFormatHistogram(t *testing.T) {
	s := FormatHistogram([]int32{1, 3}, 0, 1)
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%d; want 2:\n%s", len(lines), s)
	}
	if !strings.Contains(lines[1], "75.0%") {
		t.Errorf("line %q lacks share 75.0%%", lines[1])
	}
}
