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

// Package backend provides interchangeable ways of running the median filter over a whole image:
// in a single goroutine, in parallel bands over shared memory, or distributed over a world of ranks.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/corey888773/median-filter/internal/dist"
	"github.com/corey888773/median-filter/internal/median"
	"github.com/corey888773/median-filter/internal/partition"
	"github.com/corey888773/median-filter/internal/raster"
	"github.com/corey888773/median-filter/internal/transport"
)

var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrUnsupported   = errors.New("method not supported in this build")
)

// A way to run the median filter over a whole image. Results are identical across implementations.
type Filter interface {
	Apply(ctx context.Context, img *raster.Image, kernelSize int) (*raster.Image, error)

	// Rank and world size of the calling process, for log and measurement output
	Provenance() (rank, size int)
}

// Method names as used on the command line and in measurement logs
type Method string

const (
	MethodSequential  Method = "seq"
	MethodParallel    Method = "par"
	MethodDistributed Method = "dist"
	MethodGPU         Method = "gpu"
)

// Parses a method name. Rejects unknown names and the GPU method, which this build lacks.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodSequential, MethodParallel, MethodDistributed:
		return m, nil
	case MethodGPU:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, s)
	}
	return "", fmt.Errorf("%w: '%s'", ErrUnknownMethod, s)
}

// Creates a backend for the method with the given degree of concurrency.
// Zero or negative concurrency uses one unit per CPU.
func New(m Method, concurrency int, log io.Writer) (Filter, error) {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	switch m {
	case MethodSequential:
		return Sequential{}, nil
	case MethodParallel:
		return Parallel{Threads: concurrency}, nil
	case MethodDistributed:
		return Distributed{Workers: concurrency, Log: log}, nil
	case MethodGPU:
		return nil, ErrUnsupported
	}
	return nil, fmt.Errorf("%w: '%s'", ErrUnknownMethod, m)
}

// Filters in the calling goroutine
type Sequential struct{}

func (Sequential) Apply(ctx context.Context, img *raster.Image, kernelSize int) (*raster.Image, error) {
	if err := median.ValidateKernelSize(kernelSize); err != nil {
		return nil, err
	}
	return median.Filter(img, kernelSize), nil
}

func (Sequential) Provenance() (int, int) { return 0, 1 }

// Filters disjoint row bands in parallel goroutines, writing straight into a shared output image
type Parallel struct {
	Threads int
}

func (p Parallel) Apply(ctx context.Context, img *raster.Image, kernelSize int) (*raster.Image, error) {
	if err := median.ValidateKernelSize(kernelSize); err != nil {
		return nil, err
	}
	threads := p.Threads
	if threads < 1 {
		threads = 1
	}
	out := raster.NewImageFromImage(img)

	// no halo needed, every goroutine reads the full source
	var wg sync.WaitGroup
	for _, a := range partition.Partition(img.Height, threads, 0) {
		if a.Owned.Empty() {
			continue
		}
		wg.Add(1)
		go func(rows partition.RowRange) {
			defer wg.Done()
			median.FilterRows(out.Rows(rows.Start, rows.End), img, rows.Start, rows.End, kernelSize)
		}(a.Owned)
	}
	wg.Wait()
	return out, ctx.Err()
}

func (Parallel) Provenance() (int, int) { return 0, 1 }

// Runs every invocation on a fresh in-memory world with one goroutine per rank.
// Ranks share no memory, all data crosses the wire format.
type Distributed struct {
	Workers int
	Log     io.Writer // optional, receives the coordinator and worker logs
}

func (d Distributed) Apply(ctx context.Context, img *raster.Image, kernelSize int) (*raster.Image, error) {
	if err := median.ValidateKernelSize(kernelSize); err != nil {
		return nil, err
	}
	size := d.Workers
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	world := transport.NewMemWorld(size)
	workerErrs := make(chan error, size)
	for r := 1; r < size; r++ {
		go func(comm *transport.MemComm) {
			defer comm.Close()
			err := dist.Run(ctx, comm, kernelSize, d.Log, nil)
			if err != nil {
				cancel()
			}
			workerErrs <- err
		}(world[r])
	}

	var out *raster.Image
	err := dist.Run(ctx, world[0], kernelSize, d.Log, func(ctx context.Context, c *dist.Coordinator) error {
		var err error
		out, err = c.Filter(ctx, img)
		return err
	})
	world[0].Close()
	if err != nil {
		cancel()
	}
	var workerErr error
	for r := 1; r < size; r++ {
		if e := <-workerErrs; e != nil && workerErr == nil && !errors.Is(e, context.Canceled) {
			workerErr = e
		}
	}
	if workerErr != nil {
		return nil, workerErr // root cause, the coordinator only sees the cancellation
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d Distributed) Provenance() (int, int) {
	if d.Workers < 1 {
		return 0, 1
	}
	return 0, d.Workers
}

// Runs on an established world, typically connected over TCP. The world's kernel size is
// fixed when it is set up, so invocations with a different kernel size are rejected.
type Remote struct {
	Coordinator *dist.Coordinator
}

func (r Remote) Apply(ctx context.Context, img *raster.Image, kernelSize int) (*raster.Image, error) {
	if err := median.ValidateKernelSize(kernelSize); err != nil {
		return nil, err
	}
	if kernelSize != r.Coordinator.KernelSize() {
		return nil, fmt.Errorf("%w: world was set up for kernel size %d, not %d",
			median.ErrKernelSize, r.Coordinator.KernelSize(), kernelSize)
	}
	return r.Coordinator.Filter(ctx, img)
}

func (r Remote) Provenance() (int, int) { return r.Coordinator.Rank(), r.Coordinator.Size() }
