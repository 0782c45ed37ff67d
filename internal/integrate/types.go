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
	"fmt"
	"math"

	"github.com/mlnoga/umbra/internal/geom"
)

// Sentinel errors. Wrapped with context via fmt.Errorf and ChunkError
var (
	ErrInvalidBudget    = errors.New("memory budget must be positive")
	ErrRowsExceedBudget = errors.New("a single image row exceeds the memory budget")
	ErrNoFrames         = errors.New("no frames to integrate")
	ErrShapeMismatch    = errors.New("frame shapes do not match")
	ErrMissingMetadata  = errors.New("missing frame metadata")
	ErrStarvedPixel     = errors.New("pixel has zero total weight")
	ErrInvalidOption    = errors.New("invalid option")
)

// Shape of an image: height, width and number of channels
type Shape struct {
	Height   int `json:"height"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// Number of pixels per channel
func (s Shape) Pixels() int { return s.Height * s.Width }

// Number of values across all channels
func (s Shape) Values() int { return s.Height * s.Width * s.Channels }

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Width, s.Height, s.Channels)
}

// A half-open range of image rows [Start, End)
type RowRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Number of rows in the range
func (r RowRange) Rows() int { return r.End - r.Start }

func (r RowRange) String() string {
	return fmt.Sprintf("rows [%d,%d)", r.Start, r.End)
}

// Immutable per-frame metadata
type FrameMetadata struct {
	OccluderX      float32  // Occluder center x in full-image pixel coordinates
	OccluderY      float32  // Occluder center y in full-image pixel coordinates
	OccluderRadius float32  // Occluder radius in pixels
	Exposure       float32  // Exposure time in seconds
	GroupValues    []string // Group keyword values, ordered like the configured keywords
	Pedestal       float32  // Pedestal value, valid if HasPedestal
	HasPedestal    bool
}

// Occluder center as a point
func (m *FrameMetadata) Center() geom.Point {
	return geom.Point{X: m.OccluderX, Y: m.OccluderY}
}

// A stack of N frames restricted to a range of rows. Values are stored per frame in
// channel-planar order, index c*rows*width + y*width + x with y relative to the first row.
// Valid marks usable entries
type Stack struct {
	Shape Shape       // Full image shape
	Rows  RowRange    // Rows currently held
	Data  [][]float32 // Values per frame
	Valid [][]bool    // Validity per frame

	dataBuf  [][]float32
	validBuf [][]bool
}

// Creates a stack for n frames of the given shape, able to hold up to maxRows rows.
// Buffers come from the given pool, which may be nil
func NewStack(p *Pool, n int, shape Shape, maxRows int) *Stack {
	st := &Stack{Shape: shape}
	size := maxRows * shape.Width * shape.Channels
	st.dataBuf, st.validBuf = make([][]float32, n), make([][]bool, n)
	for i := 0; i < n; i++ {
		st.dataBuf[i] = p.GetFloat32(size)
		st.validBuf[i] = p.GetBool(size)
	}
	st.Data, st.Valid = make([][]float32, n), make([][]bool, n)
	return st
}

// Returns the buffers of the stack to the pool. The stack must not be used afterwards
func (st *Stack) Release(p *Pool) {
	for i := range st.dataBuf {
		p.PutFloat32(st.dataBuf[i])
		p.PutBool(st.validBuf[i])
	}
	st.dataBuf, st.validBuf, st.Data, st.Valid = nil, nil, nil, nil
}

// Sets the row range held by the stack, reslicing the underlying buffers. Contents are undefined
// until loaded
func (st *Stack) SetRows(rows RowRange) error {
	if rows.Start < 0 || rows.End > st.Shape.Height || rows.Rows() <= 0 {
		return fmt.Errorf("%v outside image height %d", rows, st.Shape.Height)
	}
	size := rows.Rows() * st.Shape.Width * st.Shape.Channels
	for i := range st.dataBuf {
		if size > len(st.dataBuf[i]) {
			return fmt.Errorf("%v exceeds stack capacity of %d rows", rows, len(st.dataBuf[i])/(st.Shape.Width*st.Shape.Channels))
		}
		st.Data[i] = st.dataBuf[i][:size]
		st.Valid[i] = st.validBuf[i][:size]
	}
	st.Rows = rows
	return nil
}

// Number of frames
func (st *Stack) NumFrames() int { return len(st.Data) }

// Region of the full image covered by the stack
func (st *Stack) Region() geom.Region {
	return geom.RowsRegion(st.Shape.Width, st.Rows.Start, st.Rows.End)
}

// Index of the given channel and pixel in chunk coordinates
func (st *Stack) Index(c, y, x int) int {
	return c*st.Rows.Rows()*st.Shape.Width + y*st.Shape.Width + x
}

// Copies the held rows of a full-size channel-planar frame into frame i and marks
// all non-NaN values valid
func (st *Stack) LoadFrame(i int, full []float32) error {
	if len(full) != st.Shape.Values() {
		return fmt.Errorf("%w: frame %d has %d values, want %d", ErrShapeMismatch, i, len(full), st.Shape.Values())
	}
	w, h, rows := st.Shape.Width, st.Shape.Height, st.Rows.Rows()
	for c := 0; c < st.Shape.Channels; c++ {
		src := full[c*h*w+st.Rows.Start*w : c*h*w+st.Rows.End*w]
		copy(st.Data[i][c*rows*w:(c+1)*rows*w], src)
	}
	st.UpdateValidity(i)
	return nil
}

// Marks all non-NaN values of frame i valid and all NaN values invalid
func (st *Stack) UpdateValidity(i int) {
	valid := st.Valid[i]
	for j, v := range st.Data[i] {
		valid[j] = !math.IsNaN(float64(v))
	}
}

// Per-frame, per-pixel weights for the rows of a stack. Index y*width + x
type WeightMap struct {
	Weights [][]float32

	buf [][]float32
}

// Creates a weight map for n frames holding up to maxPixels pixels each.
// Buffers come from the given pool, which may be nil
func NewWeightMap(p *Pool, n int, maxPixels int) *WeightMap {
	wm := &WeightMap{Weights: make([][]float32, n), buf: make([][]float32, n)}
	for i := range wm.buf {
		wm.buf[i] = p.GetFloat32(maxPixels)
	}
	return wm
}

// Returns the buffers of the weight map to the pool
func (wm *WeightMap) Release(p *Pool) {
	for _, b := range wm.buf {
		p.PutFloat32(b)
	}
	wm.buf, wm.Weights = nil, nil
}

// Reslices the weight map to the given number of pixels per frame
func (wm *WeightMap) SetPixels(pixels int) {
	for i := range wm.buf {
		wm.Weights[i] = wm.buf[i][:pixels]
	}
}

// Reslices the weight map to the given number of pixels per frame and sets all weights to w
func (wm *WeightMap) Fill(pixels int, w float32) {
	wm.SetPixels(pixels)
	for _, weights := range wm.Weights {
		for p := range weights {
			weights[p] = w
		}
	}
}

// Pipeline steps of a group integration
type Step string

const (
	StepPlanning           Step = "PLANNING"
	StepLoading            Step = "LOADING"
	StepRejectingOcclusion Step = "REJECTING_OCCLUSION"
	StepRejectingOutliers  Step = "REJECTING_OUTLIERS"
	StepReducing           Step = "REDUCING"
	StepReleasing          Step = "RELEASING"
	StepFinalized          Step = "FINALIZED"
)

// Error in a step of a group integration
type ChunkError struct {
	Group string
	Rows  RowRange
	Step  Step
	Err   error
}

func (e *ChunkError) Error() string {
	if e.Step == StepPlanning {
		return fmt.Sprintf("group %q: %s: %v", e.Group, e.Step, e.Err)
	}
	return fmt.Sprintf("group %q, %v: %s: %v", e.Group, e.Rows, e.Step, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }
