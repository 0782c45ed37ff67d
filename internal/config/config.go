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

package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mlnoga/umbra/internal/integrate"
	"gopkg.in/yaml.v3"
)

// Configuration file contents
type Config struct {
	Integration Integration `yaml:"integration" json:"integration"`
}

// Settings of an integration run
type Integration struct {
	Inputs           []string `yaml:"inputs" json:"inputs"`                      // Input file name patterns
	Out              string   `yaml:"out" json:"out"`                            // Output directory
	Log              string   `yaml:"log" json:"log"`                            // Log file, %auto derives it from the output directory
	Format           string   `yaml:"format" json:"format"`                      // Output format, fits or tif
	GroupKeys        []string `yaml:"group_keys" json:"groupKeys"`               // Header keywords grouping the frames
	MemoryMiB        int64    `yaml:"memory_mib" json:"memoryMiB"`               // Explicit memory budget in MiB, 0 queries available memory
	MemoryFraction   float64  `yaml:"memory_fraction" json:"memoryFraction"`     // Fraction of available memory to use
	Occlusion        bool     `yaml:"occlusion" json:"occlusion"`                // Reject pixels covered by the occluder, off for occluder-registered frames
	ExtraRadius      float32  `yaml:"extra_radius" json:"extraRadius"`           // Added to the occluder radius, in pixels
	Smoothness       float32  `yaml:"smoothness" json:"smoothness"`              // Width of the occluder edge transition, in pixels
	Sigma            float32  `yaml:"sigma" json:"sigma"`                        // Outlier threshold, 0 disables
	Scale            string   `yaml:"scale" json:"scale"`                        // Outlier scale estimator, std or mad
	Order            string   `yaml:"order" json:"order"`                        // Rejection order, occlusion-first or outliers-first
	NormalizeWeights bool     `yaml:"normalize_weights" json:"normalizeWeights"` // Write the weight map as fraction of frames
	Weights          bool     `yaml:"weights" json:"weights"`                    // Write the total weight map
	HeatMap          bool     `yaml:"heatmap" json:"heatmap"`                    // Write a false-color JPG of the weight map
	Preview          bool     `yaml:"preview" json:"preview"`                    // Write a JPG preview after each chunk
}

// Returns the default configuration
func Default() *Config {
	opts := integrate.DefaultOptions()
	return &Config{Integration: Integration{
		Out:              ".",
		Format:           "fits",
		GroupKeys:        []string{},
		MemoryFraction:   opts.MemoryFraction,
		Occlusion:        opts.Occlusion,
		ExtraRadius:      opts.ExtraRadius,
		Smoothness:       opts.Smoothness,
		Sigma:            opts.Sigma,
		Scale:            string(opts.Scale),
		Order:            string(opts.Order),
		NormalizeWeights: opts.NormalizeWeights,
		Weights:          true,
	}}
}

// Loads configuration from a YAML file on top of the defaults
func Load(fileName string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", fileName, err)
	}
	return cfg, nil
}

// Saves configuration to a YAML file
func (c *Config) Save(fileName string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(fileName, data, 0644)
}

// Returns the integration options for these settings
func (in *Integration) Options() (integrate.Options, error) {
	scale, err := integrate.ParseScaleEstimator(in.Scale)
	if err != nil {
		return integrate.Options{}, err
	}
	order, err := integrate.ParseRejectionOrder(in.Order)
	if err != nil {
		return integrate.Options{}, err
	}
	opts := integrate.Options{
		Occlusion:        in.Occlusion,
		ExtraRadius:      in.ExtraRadius,
		Smoothness:       in.Smoothness,
		Sigma:            in.Sigma,
		Scale:            scale,
		Order:            order,
		NormalizeWeights: in.NormalizeWeights,
		MemoryFraction:   in.MemoryFraction,
		MemoryBudget:     in.MemoryMiB * 1024 * 1024,
	}
	return opts, opts.Validate()
}

// Binds command line flags to the settings, with current values as defaults
func (in *Integration) Bind(fs *flag.FlagSet) {
	fs.StringVar(&in.Out, "out", in.Out, "output directory")
	fs.StringVar(&in.Log, "log", in.Log, "save log output to `file`. `%auto` derives it from the output directory")
	fs.StringVar(&in.Format, "format", in.Format, "output format, fits or tif for 16-bit TIFF")
	fs.Var((*stringList)(&in.GroupKeys), "group", "comma-separated header `keywords` to group frames by")
	fs.Int64Var(&in.MemoryMiB, "memory", in.MemoryMiB, "memory budget in `MiB`, 0 to use a fraction of available memory")
	fs.Float64Var(&in.MemoryFraction, "memoryFraction", in.MemoryFraction, "fraction of available memory to use")
	fs.BoolVar(&in.Occlusion, "occlusion", in.Occlusion, "reject pixels covered by the occluder, false for frames registered on the occluder")
	fs.Var((*float32Value)(&in.ExtraRadius), "extraRadius", "extra occluder radius in pixels")
	fs.Var((*float32Value)(&in.Smoothness), "smoothness", "width of the occluder edge transition in pixels, 0 for a hard edge")
	fs.Var((*float32Value)(&in.Sigma), "sigma", "outlier rejection threshold in units of scale, 0 to disable")
	fs.StringVar(&in.Scale, "scale", in.Scale, "outlier scale estimator, std or mad")
	fs.StringVar(&in.Order, "order", in.Order, "rejection order, occlusion-first or outliers-first")
	fs.BoolVar(&in.NormalizeWeights, "normalize", in.NormalizeWeights, "write weight map as fraction of frames")
	fs.BoolVar(&in.Weights, "weights", in.Weights, "write total weight map")
	fs.BoolVar(&in.HeatMap, "heatmap", in.HeatMap, "write false-color JPG of the weight map")
	fs.BoolVar(&in.Preview, "preview", in.Preview, "write JPG preview after each chunk")
}

// Loads the configuration file, if any, and applies the flags explicitly set on fs, which must
// have been bound to flagged and parsed. Without a file the flagged settings are returned
func Resolve(fs *flag.FlagSet, flagged *Integration, fileName string) (*Integration, error) {
	if fileName == "" {
		return flagged, nil
	}
	cfg, err := Load(fileName)
	if err != nil {
		return nil, err
	}
	res := &cfg.Integration
	overrides := flag.NewFlagSet("overrides", flag.ContinueOnError)
	res.Bind(overrides)
	fs.Visit(func(f *flag.Flag) {
		if err != nil || overrides.Lookup(f.Name) == nil {
			return
		}
		err = overrides.Set(f.Name, f.Value.String())
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Flag value for a comma-separated list of strings
type stringList []string

func (s *stringList) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// Flag value for a float32
type float32Value float32

func (f *float32Value) String() string {
	if f == nil {
		return "0"
	}
	return strconv.FormatFloat(float64(*f), 'g', -1, 32)
}

func (f *float32Value) Set(v string) error {
	val, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return err
	}
	*f = float32Value(val)
	return nil
}
