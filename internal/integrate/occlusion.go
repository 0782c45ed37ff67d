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
	"fmt"
	"math"

	"github.com/mlnoga/umbra/internal/geom"
)

// Weight of a pixel at the given distance from the occluder center. Zero up to the effective
// radius, then rising linearly to one over the smoothness width. A smoothness of zero gives
// a hard edge where only pixels strictly outside the radius have weight one
func OcclusionWeight(distance, radius, smoothness float32) float32 {
	if smoothness == 0 {
		if distance > radius {
			return 1
		}
		return 0
	}
	w := (distance - radius) / smoothness
	if w < 0 {
		return 0
	} else if w > 1 {
		return 1
	}
	return w
}

// Rejects pixels covered by the occluder. Keeps scratch arrays sized to the largest chunk
// seen, so one rejector serves all chunks of a group
type OcclusionRejector struct {
	ExtraRadius float32 // Added to the occluder radius of each frame
	Smoothness  float32 // Width of the transition from weight zero to one

	dist       []float32 // distance map of the current frame
	maxDist    []float32 // running max distance over frames valid in all channels
	bestIdx    []int32   // running best index over frames valid in all channels
	anyMaxDist []float32 // running max distance over all frames
	anyBestIdx []int32   // running best index over all frames
	covered    []bool    // pixel has a nonzero weight on any frame
	fullyValid []bool    // pixel has a nonzero weight on a frame valid in all channels
	contrib    []bool    // per channel scratch for the channel rescue
}

// Creates an occlusion rejector
func NewOcclusionRejector(extraRadius, smoothness float32) *OcclusionRejector {
	return &OcclusionRejector{ExtraRadius: extraRadius, Smoothness: smoothness}
}

func (o *OcclusionRejector) resize(pixels, channels int) {
	if cap(o.maxDist) < pixels {
		o.dist = make([]float32, pixels)
		o.maxDist, o.anyMaxDist = make([]float32, pixels), make([]float32, pixels)
		o.bestIdx, o.anyBestIdx = make([]int32, pixels), make([]int32, pixels)
		o.covered, o.fullyValid = make([]bool, pixels), make([]bool, pixels)
	}
	if cap(o.contrib) < channels {
		o.contrib = make([]bool, channels)
	}
	o.contrib = o.contrib[:channels]
	o.dist = o.dist[:pixels]
	o.maxDist, o.anyMaxDist = o.maxDist[:pixels], o.anyMaxDist[:pixels]
	o.bestIdx, o.anyBestIdx = o.bestIdx[:pixels], o.anyBestIdx[:pixels]
	o.covered, o.fullyValid = o.covered[:pixels], o.fullyValid[:pixels]
	for i := 0; i < pixels; i++ {
		o.maxDist[i], o.anyMaxDist[i] = -1, -1
		o.bestIdx[i], o.anyBestIdx[i] = -1, -1
		o.covered[i], o.fullyValid[i] = false, false
	}
}

// Calculates occlusion weights for all frames of the stack into wm and marks entries with
// zero weight invalid across all channels. If all frames have zero weight at a pixel, the
// frame whose occluder center is farthest from it gets weight one, preferring frames valid in
// all channels. A channel left without a valid contributor is rescued by the farthest frame
// valid in it, which is then invalidated in the channels that had contributors.
// Returns the number of rejected (frame, pixel) entries
func (o *OcclusionRejector) Reject(st *Stack, meta []FrameMetadata, wm *WeightMap) (rejected int, err error) {
	if len(meta) != st.NumFrames() {
		return 0, fmt.Errorf("%w: %d metadata entries for %d frames", ErrMissingMetadata, len(meta), st.NumFrames())
	}
	region := st.Region()
	pixels, channels := region.Pixels(), st.Shape.Channels
	o.resize(pixels, channels)
	wm.SetPixels(pixels)

	for i := range st.Data {
		m := &meta[i]
		radius := m.OccluderRadius + o.ExtraRadius
		o.dist = geom.DistanceMap(m.Center(), region, o.dist)
		weights, valid := wm.Weights[i], st.Valid[i]

		for p, d := range o.dist {
			w := OcclusionWeight(d, radius, o.Smoothness)
			weights[p] = w

			fullyValid := true
			for c := 0; c < channels; c++ {
				if !valid[c*pixels+p] {
					fullyValid = false
					break
				}
			}
			if d > o.anyMaxDist[p] {
				o.anyMaxDist[p], o.anyBestIdx[p] = d, int32(i)
			}
			if fullyValid && d > o.maxDist[p] {
				o.maxDist[p], o.bestIdx[p] = d, int32(i)
			}
			if w > 0 {
				o.covered[p] = true
				if fullyValid {
					o.fullyValid[p] = true
				}
			}
		}
	}

	for p := range o.covered {
		// rescue pixels where every frame has zero weight
		if !o.covered[p] {
			if best := o.bestIdx[p]; best >= 0 {
				wm.Weights[best][p] = 1
				continue
			}
			wm.Weights[o.anyBestIdx[p]][p] = 1
		} else if o.fullyValid[p] {
			continue
		}
		o.rescueChannels(st, meta, wm, region, p)
	}

	// invalidate entries with zero weight
	for i, weights := range wm.Weights {
		valid := st.Valid[i]
		for p, w := range weights {
			if w != 0 {
				continue
			}
			for c := 0; c < channels; c++ {
				valid[c*pixels+p] = false
			}
			rejected++
		}
	}
	return rejected, nil
}

// Ensures every channel of pixel p has a valid entry with nonzero weight if any frame is valid
// in that channel, by giving weight one to the frame farthest from its occluder. The rescued
// frame is invalidated in the channels which already had a contributor, so it only adds to
// starved channels
func (o *OcclusionRejector) rescueChannels(st *Stack, meta []FrameMetadata, wm *WeightMap, region geom.Region, p int) {
	pixels, channels := region.Pixels(), st.Shape.Channels
	for c := 0; c < channels; c++ {
		o.contrib[c] = o.hasContributor(st, wm, c*pixels+p, p)
	}

	px, py := float64(region.Left+p%region.Width), float64(region.Top+p/region.Width)
	for c := 0; c < channels; c++ {
		i := c*pixels + p
		if o.contrib[c] || o.hasContributor(st, wm, i, p) {
			continue
		}
		best, bestDist := -1, float64(-1)
		for li := range st.Data {
			if !st.Valid[li][i] {
				continue
			}
			dx, dy := px-float64(meta[li].OccluderX), py-float64(meta[li].OccluderY)
			if d := math.Sqrt(dx*dx + dy*dy); d > bestDist {
				best, bestDist = li, d
			}
		}
		if best < 0 {
			continue
		}
		wm.Weights[best][p] = 1
		for c2 := 0; c2 < channels; c2++ {
			if o.contrib[c2] {
				st.Valid[best][c2*pixels+p] = false
			}
		}
	}
}

// Reports whether any frame is valid at value index i with nonzero weight at pixel p
func (o *OcclusionRejector) hasContributor(st *Stack, wm *WeightMap, i, p int) bool {
	for li := range st.Data {
		if st.Valid[li][i] && wm.Weights[li][p] > 0 {
			return true
		}
	}
	return false
}
