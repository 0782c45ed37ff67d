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

// Order of the two rejection steps
type RejectionOrder string

const (
	OcclusionFirst RejectionOrder = "occlusion-first"
	OutliersFirst  RejectionOrder = "outliers-first"
)

// Parses a rejection order name
func ParseRejectionOrder(s string) (RejectionOrder, error) {
	switch RejectionOrder(s) {
	case OcclusionFirst, OutliersFirst:
		return RejectionOrder(s), nil
	}
	return "", fmt.Errorf("%w: unknown rejection order %q", ErrInvalidOption, s)
}

// Integration options
type Options struct {
	Occlusion        bool           `json:"occlusion" yaml:"occlusion"`                // Reject pixels covered by the occluder. Off for frames registered on the occluder
	ExtraRadius      float32        `json:"extraRadius" yaml:"extra_radius"`           // Added to the occluder radius, in pixels
	Smoothness       float32        `json:"smoothness" yaml:"smoothness"`              // Width of the occluder edge transition, in pixels
	Sigma            float32        `json:"sigma" yaml:"sigma"`                        // Outlier threshold. Zero or less disables outlier rejection
	Scale            ScaleEstimator `json:"scale" yaml:"scale"`                        // Scale estimator for outlier rejection
	Order            RejectionOrder `json:"order" yaml:"order"`                        // Order of the rejection steps
	NormalizeWeights bool           `json:"normalizeWeights" yaml:"normalize_weights"` // Divide the total weight map by the number of frames
	MemoryFraction   float64        `json:"memoryFraction" yaml:"memory_fraction"`     // Fraction of available memory to plan with
	MemoryBudget     int64          `json:"memoryBudget" yaml:"memory_budget"`         // Explicit memory budget in bytes, overrides the query if positive
}

// Returns the default options
func DefaultOptions() Options {
	return Options{
		Occlusion:        true,
		ExtraRadius:      0,
		Smoothness:       0,
		Sigma:            3,
		Scale:            ScaleStdDev,
		Order:            OcclusionFirst,
		NormalizeWeights: true,
		MemoryFraction:   DefaultMemoryFraction,
	}
}

// Checks the options for consistency
func (o *Options) Validate() error {
	if o.ExtraRadius < 0 {
		return fmt.Errorf("%w: negative extra radius %g", ErrInvalidOption, o.ExtraRadius)
	}
	if o.Smoothness < 0 {
		return fmt.Errorf("%w: negative smoothness %g", ErrInvalidOption, o.Smoothness)
	}
	if _, err := ParseScaleEstimator(string(o.Scale)); err != nil {
		return err
	}
	if _, err := ParseRejectionOrder(string(o.Order)); err != nil {
		return err
	}
	if o.MemoryBudget < 0 {
		return fmt.Errorf("%w: memory budget %d bytes", ErrInvalidBudget, o.MemoryBudget)
	}
	if o.MemoryBudget == 0 && (o.MemoryFraction <= 0 || o.MemoryFraction > 1) {
		return fmt.Errorf("%w: memory fraction %g outside (0,1]", ErrInvalidBudget, o.MemoryFraction)
	}
	return nil
}
