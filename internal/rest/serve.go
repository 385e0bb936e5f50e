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
	"net"
	"net/http"
	"runtime"
	"strconv"

	"github.com/corey888773/median-filter/internal/backend"
	"github.com/corey888773/median-filter/internal/ops"
	"github.com/corey888773/median-filter/internal/raster"
	"github.com/corey888773/median-filter/web"
	"github.com/gin-gonic/gin"
	"github.com/pbnjay/memory"
)

// Server-wide settings, fixed at startup
type Settings struct {
	Version    string
	MaxThreads int            // concurrency per request, 0=one per CPU
	Workers    int            // ranks for the in-process distributed method, 0=one per thread
	Remote     backend.Filter // optional, serves the distributed method on an established world
	Log        io.Writer      // optional, receives logs of the image endpoint
}

// Upper bound on ranks a request may ask for, per CPU
const workersPerCPU = 4

// Returns the largest number of ranks a single request may use for the distributed method
func (s Settings) maxWorkers() int {
	limit := workersPerCPU * runtime.GOMAXPROCS(0)
	if s.Workers > limit {
		limit = s.Workers
	}
	return limit
}

func (s Settings) newContext(log io.Writer) *ops.Context {
	c := ops.NewContext(ops.NewSyncWriter(log), s.MaxThreads)
	c.Workers = s.Workers
	c.Sandboxed = true
	if s.Remote != nil {
		c.SetBackend(backend.MethodDistributed, s.Remote)
	}
	return c
}

func NewRouter(s Settings) *gin.Engine {
	if s.Log == nil {
		s.Log = io.Discard
	}
	r := gin.Default()
	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
	})
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.GET("/version", s.getVersion)
			v1.POST("/filter", s.postFilter)
			v1.POST("/filter/image", s.postFilterImage)
		}
	}
	return r
}

// Serves on an already bound listener, so privileges can be dropped in between
func Serve(ln net.Listener, s Settings) error {
	return NewRouter(s).RunListener(ln)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func (s Settings) getVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":  s.Version,
		"cpu":      ops.CPUDescription(),
		"memoryMB": memory.TotalMemory() / 1024 / 1024,
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

type postFilterArgs struct {
	FilePatterns []string     `json:"filePatterns"`
	Noise        *ops.OpNoise  `json:"noise"`
	Median       *ops.OpMedian `json:"median"`
	Save         *ops.OpSave   `json:"save"`
}

// Runs the filter pipeline on files below the working directory, streaming the log as plain text
func (s Settings) postFilter(c *gin.Context) {
	logWriter := c.Writer
	var args postFilterArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Median == nil {
		args.Median = ops.NewOpMedianDefault()
	}
	if err := args.Median.Init(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Noise != nil {
		if err := args.Noise.Init(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	ctx := s.newContext(logWriter)
	ctx.Ctx = c.Request.Context()
	seq := ops.NewOpSequence(ops.NewOpLoadMany(args.FilePatterns))
	if args.Noise != nil {
		seq.Append(args.Noise)
	}
	seq.Append(args.Median)
	if args.Save != nil {
		seq.Append(args.Save)
	}

	promises, err := seq.MakePromises(nil, ctx)
	if err == nil {
		_, err = ops.MaterializeAll(promises, ctx.MaxThreads, true)
	}
	if err != nil {
		fmt.Fprintf(ctx.Log, "error: %s\n", err.Error())
	}
	logWriter.Flush()
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", key, err)
	}
	return i, nil
}

// Filters the image in the request body and returns the result as PNG.
// Query parameters: kernel, method, noise, seed, workers.
func (s Settings) postFilterImage(c *gin.Context) {
	badRequest := func(err error) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
	kernel, err := queryInt(c, "kernel", 3)
	if err != nil {
		badRequest(err)
		return
	}
	workers, err := queryInt(c, "workers", s.Workers)
	if err != nil {
		badRequest(err)
		return
	}
	if c.Query("workers") != "" && (workers < 1 || workers > s.maxWorkers()) {
		badRequest(fmt.Errorf("parameter workers must be between 1 and %d, got %d", s.maxWorkers(), workers))
		return
	}
	seed, err := queryInt(c, "seed", 0)
	if err != nil {
		badRequest(err)
		return
	}
	level := 0.0
	if v := c.Query("noise"); v != "" {
		if level, err = strconv.ParseFloat(v, 32); err != nil {
			badRequest(fmt.Errorf("parameter noise: %w", err))
			return
		}
	}
	opNoise := ops.NewOpNoise(float32(level), uint32(seed))
	opMedian := ops.NewOpMedian(kernel, c.DefaultQuery("method", string(backend.MethodSequential)), false)
	if err := opNoise.Init(); err != nil {
		badRequest(err)
		return
	}
	if err := opMedian.Init(); err != nil {
		badRequest(err)
		return
	}

	img, err := raster.Read(c.Request.Body)
	if err != nil {
		badRequest(fmt.Errorf("decoding image: %w", err))
		return
	}

	ctx := s.newContext(s.Log)
	ctx.Ctx = c.Request.Context()
	ctx.Workers = workers
	if img, err = opNoise.Apply(img, ctx); err != nil {
		badRequest(err)
		return
	}
	out, err := opMedian.Apply(img, ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	if err := out.Write(c.Writer, raster.FormatPNG); err != nil {
		fmt.Fprintf(ctx.Log, "error writing response: %s\n", err.Error())
	}
}
