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

// Loads chunks from frames held in memory as full-size channel-planar arrays
type SliceLoader struct {
	shape    Shape
	frames   [][]float32
	metadata []FrameMetadata
}

// Creates a loader for in-memory frames with their metadata
func NewSliceLoader(shape Shape, frames [][]float32, metadata []FrameMetadata) (*SliceLoader, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	if len(metadata) != len(frames) {
		return nil, fmt.Errorf("%w: %d metadata entries for %d frames", ErrMissingMetadata, len(metadata), len(frames))
	}
	for i, f := range frames {
		if len(f) != shape.Values() {
			return nil, fmt.Errorf("%w: frame %d has %d values, want %d for %v", ErrShapeMismatch, i, len(f), shape.Values(), shape)
		}
	}
	return &SliceLoader{shape: shape, frames: frames, metadata: metadata}, nil
}

func (l *SliceLoader) Shape() Shape   { return l.shape }
func (l *SliceLoader) NumFrames() int { return len(l.frames) }

func (l *SliceLoader) LoadChunk(rows RowRange, st *Stack) ([]FrameMetadata, error) {
	if st.Rows != rows {
		return nil, fmt.Errorf("stack holds %v, requested %v", st.Rows, rows)
	}
	for i, f := range l.frames {
		if err := st.LoadFrame(i, f); err != nil {
			return nil, err
		}
	}
	return l.metadata, nil
}
