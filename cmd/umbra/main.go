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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"

	"github.com/mlnoga/umbra/internal/config"
	"github.com/mlnoga/umbra/internal/fits"
	"github.com/mlnoga/umbra/internal/integrate"
	"github.com/mlnoga/umbra/internal/log"
	"github.com/mlnoga/umbra/internal/rest"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var configFile = flag.String("config", "", "load settings from YAML `file`, explicit flags take precedence")
var saveConfig = flag.String("saveConfig", "", "save effective settings to YAML `file`")

var port = flag.Int("port", 8080, "port for the REST API when serving")
var chroot = flag.String("chroot", "", "chroot to `directory` before serving")
var setuid = flag.Int("setuid", -1, "change to user `id` before serving, -1 to keep")

func main() {
	logWriter := log.Writer
	debug.SetGCPercent(10)
	start := time.Now()

	flagged := &config.Default().Integration
	flagged.Bind(flag.CommandLine)
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Umbra Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (integrate|plan|serve|legal|version) (img0.fits ... imgn.fits)

Commands:
  integrate Integrate input frames into one image per group, rejecting the occluder and outliers
  plan      Show the memory required per group and the resulting chunk plan
  serve     Serve the REST API
  legal     Show license and attribution information
  version   Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	in, err := config.Resolve(flag.CommandLine, flagged, *configFile)
	if err != nil {
		log.Fatalf("Error loading configuration: %s\n", err.Error())
	}
	in.Inputs = append(in.Inputs, args[1:]...)

	// Initialize logging to file in addition to stdout, if selected
	if in.Log == "%auto" {
		in.Log = filepath.Join(in.Out, "umbra.log")
	}
	if in.Log != "" {
		if err := log.AlsoToFile(in.Log); err != nil {
			log.Fatalf("Unable to open logfile '%s': %s\n", in.Log, err.Error())
		}
	}
	defer log.Close()

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatalf("Could not create CPU profile: %s\n", err.Error())
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("Could not start CPU profile: %s\n", err.Error())
		}
		defer pprof.StopCPUProfile()
	}

	if *saveConfig != "" {
		cfg := &config.Config{Integration: *in}
		if err := cfg.Save(*saveConfig); err != nil {
			log.Fatalf("Error saving configuration: %s\n", err.Error())
		}
	}

	switch args[0] {
	case "integrate":
		printBanner()
		err = cmdIntegrate(in)

	case "plan":
		printBanner()
		err = cmdPlan(in)

	case "serve":
		if err = rest.MakeSandbox(*chroot, *setuid, logWriter); err != nil {
			break
		}
		fmt.Fprintf(logWriter, "Serving REST API on port %d\n", *port)
		err = rest.Serve(fmt.Sprintf(":%d", *port))

	case "legal":
		cmdLegal()

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)
		printBanner()

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	fmt.Fprintf(logWriter, "\nDone after %v\n", time.Since(start))

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			log.Fatalf("Could not create memory profile: %s\n", err.Error())
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			log.Fatalf("Could not write allocation profile: %s\n", err.Error())
		}
	}

	if err != nil {
		pprof.StopCPUProfile()
		log.Fatalf("Error: %s\n", err.Error())
	}
}

func printBanner() {
	fmt.Fprintf(log.Writer, "Running on %s with %d physical cores, AVX2 %v, %d MiB physical memory\n",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.AVX2(), memory.TotalMemory()/1024/1024)
}

// Expands inputs and groups the files by the group keywords
func loadGroups(in *config.Integration) ([]fits.FileGroup, error) {
	files, err := fits.ExpandPatterns(in.Inputs)
	if err != nil {
		return nil, fmt.Errorf("error globbing filenames: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files match %v", integrate.ErrNoFrames, in.Inputs)
	}
	return fits.GroupFiles(files, in.GroupKeys, log.Writer)
}

// Integrates all groups, cancelling on SIGINT or SIGTERM. Groups which fail are reported and
// do not stop the others
func cmdIntegrate(in *config.Integration) error {
	opts, err := in.Options()
	if err != nil {
		return err
	}
	groups, err := loadGroups(in)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(in.Out, 0755); err != nil {
		return err
	}

	var errs []error
	jobs := make([]integrate.Group, 0, len(groups))
	for _, g := range groups {
		loader, err := fits.NewFileLoader(g.Files, in.GroupKeys, log.Writer)
		if err != nil {
			fmt.Fprintf(log.Writer, "Error in group %q: %s\n", g.Name, err.Error())
			errs = append(errs, err)
			continue
		}
		jobs = append(jobs, integrate.Group{Name: g.Name, Loader: loader})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	integrator := integrate.NewIntegrator(opts, log.Writer)
	if in.Preview {
		integrator.Hooks.Preview = fits.PreviewHook(in.Out, log.Writer)
	}
	sink := &fits.FileSink{Dir: in.Out, GroupKeys: in.GroupKeys, Format: in.Format, Weights: in.Weights, HeatMap: in.HeatMap, Log: log.Writer}
	results, runErrs := integrator.Run(ctx, jobs, sink)
	errs = append(errs, runErrs...)

	complete := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Complete {
			complete++
		} else {
			fmt.Fprintf(log.Writer, "Group %q incomplete: %v\n", r.Group, r.Reason)
		}
	}
	fmt.Fprintf(log.Writer, "Integrated %d of %d groups, %d errors\n", complete, len(groups), len(errs))
	if len(errs) > 0 {
		return errs[0]
	}
	if complete < len(groups) {
		return context.Canceled
	}
	return nil
}

// Prints required memory and the chunk plan for each group without loading pixel data
func cmdPlan(in *config.Integration) error {
	groups, err := loadGroups(in)
	if err != nil {
		return err
	}
	budget := integrate.Budget(in.MemoryMiB*1024*1024, in.MemoryFraction, nil)
	fmt.Fprintf(log.Writer, "Memory budget is %d MiB\n", budget/1024/1024)
	for _, g := range groups {
		loader, err := fits.NewFileLoader(g.Files, in.GroupKeys, log.Writer)
		if err != nil {
			return err
		}
		shape, n := loader.Shape(), loader.NumFrames()
		required := integrate.RequiredBytes(n, shape, integrate.Float32Size)
		chunks, err := integrate.Plan(n, shape, integrate.Float32Size, budget)
		if err != nil {
			return fmt.Errorf("group %q: %w", g.Name, err)
		}
		fmt.Fprintf(log.Writer, "Group %q: %d frames of %v need %d MiB, %d chunks of up to %d rows\n",
			g.Name, n, shape, required/1024/1024, len(chunks), chunks[0].Rows())
	}
	return nil
}
