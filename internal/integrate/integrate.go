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
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/mlnoga/umbra/internal/stats"
)

// Number of bins of the weight histogram logged per group
const coverageBins = 10

// Source of frame data for one group, loaded a row range at a time
type ChunkLoader interface {
	// Shape of every frame
	Shape() Shape
	// Number of frames
	NumFrames() int
	// Loads the given rows of all frames into the stack, whose rows are already set,
	// and returns the metadata of all frames in stack order
	LoadChunk(rows RowRange, st *Stack) ([]FrameMetadata, error)
}

// A named group of frames
type Group struct {
	Name   string
	Loader ChunkLoader
}

// Receives the results of completed groups
type Sink interface {
	WriteGroup(res *Result) error
}

// Optional callbacks during integration
type Hooks struct {
	Preview func(res *Result, rows RowRange) // Called with the partial result after each chunk
	Check   func() error                     // Called at chunk and step boundaries, a non-nil error cancels
}

// Result of integrating one group
type Result struct {
	Group             string
	Output            *Output
	Metadata          []FrameMetadata // Metadata of all frames, in stack order
	Plan              []RowRange
	Complete          bool  // False if integration was cancelled
	Reason            error // Cause of cancellation, if any
	RejectedOcclusion int   // Number of (frame, pixel) entries rejected by the occluder
	RejectedOutliers  int   // Number of (frame, pixel, channel) entries rejected as outliers
}

// Number of integrated frames
func (r *Result) NumFrames() int { return len(r.Metadata) }

// Sum of the exposure times of all integrated frames
func (r *Result) TotalExposure() float32 {
	sum := float32(0)
	for i := range r.Metadata {
		sum += r.Metadata[i].Exposure
	}
	return sum
}

// Integrates groups of frames chunk by chunk within a memory budget
type Integrator struct {
	Options     Options
	Hooks       Hooks
	Log         io.Writer     // Progress output, may be nil
	MemoryQuery func() uint64 // Available memory in bytes, defaults to AvailableMemory
}

// Creates an integrator with the given options, logging to logWriter
func NewIntegrator(opts Options, logWriter io.Writer) *Integrator {
	return &Integrator{Options: opts, Log: logWriter, MemoryQuery: AvailableMemory}
}

func (in *Integrator) logf(format string, args ...interface{}) {
	if in.Log != nil {
		fmt.Fprintf(in.Log, format, args...)
	}
}

// Logs completion of a step with elapsed time and heap statistics
func (in *Integrator) logStep(step Step, rows RowRange, start time.Time, format string, args ...interface{}) {
	if in.Log == nil {
		return
	}
	m := runtime.MemStats{}
	runtime.ReadMemStats(&m)
	fmt.Fprintf(in.Log, "%-19s %v: %s (%.3gs, heap %d MiB, sys %d MiB)\n", step, rows, fmt.Sprintf(format, args...),
		time.Since(start).Seconds(), m.HeapAlloc/1024/1024, m.Sys/1024/1024)
}

// Returns a non-nil error if integration should stop
func (in *Integrator) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if in.Hooks.Check != nil {
		return in.Hooks.Check()
	}
	return nil
}

// Integrates one group of frames. Cancellation is not an error: the returned result is
// marked incomplete and carries the reason. Errors are of type *ChunkError
func (in *Integrator) IntegrateGroup(ctx context.Context, name string, loader ChunkLoader) (*Result, error) {
	start := time.Now()
	res := &Result{Group: name}
	planErr := func(err error) (*Result, error) {
		return nil, &ChunkError{Group: name, Step: StepPlanning, Err: err}
	}

	opts := in.Options
	if err := opts.Validate(); err != nil {
		return planErr(err)
	}
	numFrames, shape := loader.NumFrames(), loader.Shape()
	if numFrames <= 0 {
		return planErr(ErrNoFrames)
	}
	budget := Budget(opts.MemoryBudget, opts.MemoryFraction, in.MemoryQuery)
	plan, err := Plan(numFrames, shape, Float32Size, budget)
	if err != nil {
		return planErr(err)
	}
	res.Plan = plan
	maxRows := MaxRows(plan)
	in.logStep(StepPlanning, RowRange{Start: 0, End: shape.Height}, start,
		"group %q, %d frames of %v, %d MiB required, %d MiB budget, %d chunks of up to %d rows",
		name, numFrames, shape, RequiredBytes(numFrames, shape, Float32Size)/1024/1024, budget/1024/1024, len(plan), maxRows)

	pool := NewPool(in.Log)
	st := NewStack(pool, numFrames, shape, maxRows)
	wm := NewWeightMap(pool, numFrames, maxRows*shape.Width)
	defer func() {
		st.Release(pool)
		wm.Release(pool)
		pool.Clear()
	}()
	res.Output = NewOutput(shape)

	occlusion := NewOcclusionRejector(opts.ExtraRadius, opts.Smoothness)
	outliers := NewOutlierRejector(opts.Sigma, opts.Scale)

	for _, rows := range plan {
		chunkErr := func(step Step, err error) (*Result, error) {
			return nil, &ChunkError{Group: name, Rows: rows, Step: step, Err: err}
		}
		cancelled := func(err error) (*Result, error) {
			in.logf("Group %q cancelled before %v: %v\n", name, rows, err)
			res.Reason = err
			return res, nil
		}

		// load
		if err := in.checkpoint(ctx); err != nil {
			return cancelled(err)
		}
		t := time.Now()
		if err := st.SetRows(rows); err != nil {
			return chunkErr(StepLoading, err)
		}
		meta, err := loader.LoadChunk(rows, st)
		if err != nil {
			return chunkErr(StepLoading, err)
		}
		if len(meta) != numFrames {
			return chunkErr(StepLoading, fmt.Errorf("%w: %d metadata entries for %d frames", ErrMissingMetadata, len(meta), numFrames))
		}
		if res.Metadata == nil {
			res.Metadata = meta
		}
		in.logStep(StepLoading, rows, t, "loaded %d frames", numFrames)

		// reject
		steps := []Step{StepRejectingOcclusion, StepRejectingOutliers}
		if opts.Order == OutliersFirst {
			steps[0], steps[1] = steps[1], steps[0]
		}
		if !opts.Occlusion {
			wm.Fill(rows.Rows()*shape.Width, 1)
			steps = []Step{StepRejectingOutliers}
		}
		for _, step := range steps {
			if err := in.checkpoint(ctx); err != nil {
				return cancelled(err)
			}
			t = time.Now()
			if step == StepRejectingOcclusion {
				n, err := occlusion.Reject(st, meta, wm)
				if err != nil {
					return chunkErr(step, err)
				}
				res.RejectedOcclusion += n
				in.logStep(step, rows, t, "found %d occluded pixels", n)
			} else {
				n := outliers.Reject(st)
				res.RejectedOutliers += n
				in.logStep(step, rows, t, "found %d outliers", n)
			}
		}

		// reduce
		if err := in.checkpoint(ctx); err != nil {
			return cancelled(err)
		}
		t = time.Now()
		if err := Reduce(st, wm, res.Output, opts.NormalizeWeights); err != nil {
			return chunkErr(StepReducing, err)
		}
		in.logStep(StepReducing, rows, t, "reduced %d rows", rows.Rows())

		if in.Hooks.Preview != nil {
			in.Hooks.Preview(res, rows)
		}
		in.logStep(StepReleasing, rows, t, "chunk buffers returned for reuse")
	}

	res.Complete = true
	sum := stats.Summarize(res.Output.Weights)
	in.logStep(StepFinalized, RowRange{Start: 0, End: shape.Height}, start, "group %q, %d occluded, %d outliers. Weights %v",
		name, res.RejectedOcclusion, res.RejectedOutliers, sum)
	if in.Log != nil {
		bins := make([]int32, coverageBins)
		stats.Histogram(res.Output.Weights, 0, sum.Max, bins)
		in.logf("Weight histogram:\n%s", stats.FormatHistogram(bins, 0, sum.Max))
	}
	return res, nil
}

// Integrates all groups in order and hands complete results to the sink, which may be nil.
// A failing group does not affect the others. Returns all results, nil for failed groups,
// and the errors of all failed groups
func (in *Integrator) Run(ctx context.Context, groups []Group, sink Sink) ([]*Result, []error) {
	results := make([]*Result, len(groups))
	var errs []error
	for i, g := range groups {
		res, err := in.IntegrateGroup(ctx, g.Name, g.Loader)
		if err != nil {
			in.logf("Error integrating group %q: %v\n", g.Name, err)
			errs = append(errs, err)
			continue
		}
		results[i] = res
		if !res.Complete || sink == nil {
			continue
		}
		if err := sink.WriteGroup(res); err != nil {
			err = &ChunkError{Group: g.Name, Rows: RowRange{Start: 0, End: res.Output.Shape.Height}, Step: StepFinalized, Err: err}
			in.logf("Error writing group %q: %v\n", g.Name, err)
			errs = append(errs, err)
		}
	}
	return results, errs
}
