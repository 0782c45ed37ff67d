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

package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/umbra/internal/config"
	"github.com/mlnoga/umbra/internal/fits"
	"github.com/mlnoga/umbra/internal/integrate"
)

// Creates the router with all API routes
func NewRouter() *gin.Engine {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.GET("/plan", getPlan)
			v1.POST("/integrate", postIntegrate)
		}
	}
	return r
}

// Serves the API on the given address, e.g. ":8080"
func Serve(addr string) error {
	return NewRouter().Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type planResponse struct {
	RequiredBytes int64                `json:"requiredBytes"`
	BudgetBytes   int64                `json:"budgetBytes"`
	Chunks        []integrate.RowRange `json:"chunks"`
}

// Returns the chunk plan for the frames, height, width, channels and optional memoryMiB query
// parameters. Without memoryMiB the available memory is queried
func getPlan(c *gin.Context) {
	params := map[string]int64{"frames": 0, "height": 0, "width": 0, "channels": 1, "memoryMiB": 0}
	for k := range params {
		v := c.Query(k)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("parameter %s: %s", k, err.Error())})
			return
		}
		params[k] = n
	}
	shape := integrate.Shape{Height: int(params["height"]), Width: int(params["width"]), Channels: int(params["channels"])}
	budget := integrate.Budget(params["memoryMiB"]*1024*1024, integrate.DefaultMemoryFraction, nil)

	chunks, err := integrate.Plan(int(params["frames"]), shape, integrate.Float32Size, budget)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, planResponse{
		RequiredBytes: integrate.RequiredBytes(int(params["frames"]), shape, integrate.Float32Size),
		BudgetBytes:   budget,
		Chunks:        chunks,
	})
}

type postIntegrateArgs struct {
	Integration *config.Integration `json:"integration"`
}

// Integrates the frames given by the input patterns, streaming the log as plain text.
// Integration stops when the client disconnects
func postIntegrate(c *gin.Context) {
	logWriter := c.Writer
	args := postIntegrateArgs{Integration: &config.Default().Integration}
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opts, err := args.Integration.Options()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	in := args.Integration
	files, err := fits.ExpandPatterns(in.Inputs)
	if err != nil {
		fmt.Fprintf(logWriter, "Error globbing filenames: %s\n", err.Error())
		return
	}
	groups, err := fits.GroupFiles(files, in.GroupKeys, logWriter)
	if err != nil {
		fmt.Fprintf(logWriter, "Error grouping files: %s\n", err.Error())
		return
	}
	if err := os.MkdirAll(in.Out, 0755); err != nil {
		fmt.Fprintf(logWriter, "Error creating output directory: %s\n", err.Error())
		return
	}
	jobs := make([]integrate.Group, 0, len(groups))
	for _, g := range groups {
		loader, err := fits.NewFileLoader(g.Files, in.GroupKeys, logWriter)
		if err != nil {
			fmt.Fprintf(logWriter, "Error in group %q: %s\n", g.Name, err.Error())
			continue
		}
		jobs = append(jobs, integrate.Group{Name: g.Name, Loader: loader})
	}

	integrator := integrate.NewIntegrator(opts, logWriter)
	if in.Preview {
		integrator.Hooks.Preview = fits.PreviewHook(in.Out, logWriter)
	}
	sink := &fits.FileSink{Dir: in.Out, GroupKeys: in.GroupKeys, Format: in.Format, Weights: in.Weights, HeatMap: in.HeatMap, Log: logWriter}
	results, errs := integrator.Run(c.Request.Context(), jobs, sink)

	complete := 0
	for _, r := range results {
		if r != nil && r.Complete {
			complete++
		}
	}
	fmt.Fprintf(logWriter, "Integrated %d of %d groups, %d errors\n", complete, len(groups), len(errs))
	logWriter.Flush()
}
