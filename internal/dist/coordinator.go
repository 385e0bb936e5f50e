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

package dist

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/corey888773/median-filter/internal/codec"
	"github.com/corey888773/median-filter/internal/median"
	"github.com/corey888773/median-filter/internal/partition"
	"github.com/corey888773/median-filter/internal/raster"
	"github.com/corey888773/median-filter/internal/transport"
)

// Rank 0. Owns the full image, scatters row bands with their halo rows to the workers,
// filters its own band in-process, and gathers and assembles the results.
type Coordinator struct {
	comm       transport.Comm
	kernelSize int
	log        io.Writer
	mu         sync.Mutex // one filter invocation at a time
}

func NewCoordinator(comm transport.Comm, kernelSize int, log io.Writer) (*Coordinator, error) {
	if comm.Rank() != 0 {
		return nil, fmt.Errorf("coordinator must be rank 0, not rank %d", comm.Rank())
	}
	if err := median.ValidateKernelSize(kernelSize); err != nil {
		return nil, err
	}
	if log == nil {
		log = io.Discard
	}
	return &Coordinator{comm: comm, kernelSize: kernelSize, log: log}, nil
}

func (c *Coordinator) Rank() int       { return c.comm.Rank() }
func (c *Coordinator) Size() int       { return c.comm.Size() }
func (c *Coordinator) KernelSize() int { return c.kernelSize }

// Applies the median filter to the image across all ranks and returns the assembled result.
// Any transport failure aborts the invocation. The world is then unusable.
func (c *Coordinator) Filter(ctx context.Context, img *raster.Image) (*raster.Image, error) {
	if img.Width <= 0 || img.Height <= 0 {
		// zero dimensions on the wire would shut the workers down
		return nil, fmt.Errorf("%d: %w: %s", img.ID, raster.ErrEmptyImage, img.DimensionsToString())
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.comm.Size()
	if err := c.broadcastDimensions(ctx, uint32(img.Width), uint32(img.Height)); err != nil {
		return nil, err
	}

	assignments := partition.Partition(img.Height, size, median.HalfKernel(c.kernelSize))
	for _, a := range assignments[1:] {
		if a.Owned.Empty() {
			continue
		}
		if err := c.dispatch(ctx, img, a); err != nil {
			return nil, err
		}
	}

	fragments := make([]*raster.Image, size)
	if a := assignments[0]; !a.Owned.Empty() {
		fragments[0] = FilterBand(img.Rows(a.Ghost.Start, a.Ghost.End), a, c.kernelSize)
	}

	for _, a := range assignments[1:] {
		if a.Owned.Empty() {
			continue
		}
		buf := codec.GetBuffer(codec.Size(img.Width, a.Owned.Len()))
		err := c.comm.Recv(ctx, a.Worker, buf)
		if err == nil {
			fragments[a.Worker] = codec.Decode(buf, img.Width, a.Owned.Len())
		}
		codec.PutBuffer(buf)
		if err != nil {
			return nil, fmt.Errorf("gathering rows %v from rank %d: %w", a.Owned, a.Worker, err)
		}
	}

	out := raster.NewImageFromImage(img)
	for _, a := range assignments {
		if fragments[a.Worker] != nil {
			out.SetRows(a.Owned.Start, fragments[a.Worker])
		}
	}
	return out, nil
}

func (c *Coordinator) broadcastDimensions(ctx context.Context, width, height uint32) error {
	for dest := 1; dest < c.comm.Size(); dest++ {
		if err := transport.SendUint32(ctx, c.comm, dest, width); err != nil {
			return fmt.Errorf("broadcasting width to rank %d: %w", dest, err)
		}
		if err := transport.SendUint32(ctx, c.comm, dest, height); err != nil {
			return fmt.Errorf("broadcasting height to rank %d: %w", dest, err)
		}
	}
	return nil
}

// Sends the owned and ghost ranges to a worker, followed by the ghost rows
func (c *Coordinator) dispatch(ctx context.Context, img *raster.Image, a partition.Assignment) error {
	for _, v := range []int32{a.Owned.Start, a.Owned.End, a.Ghost.Start, a.Ghost.End} {
		if err := transport.SendInt32(ctx, c.comm, a.Worker, v); err != nil {
			return fmt.Errorf("dispatching ranges to rank %d: %w", a.Worker, err)
		}
	}
	buf := codec.EncodePooled(img, a.Ghost)
	defer codec.PutBuffer(buf)
	if err := c.comm.Send(ctx, a.Worker, buf); err != nil {
		return fmt.Errorf("dispatching rows %v to rank %d: %w", a.Ghost, a.Worker, err)
	}
	fmt.Fprintf(c.log, "%d: Dispatched rows %v with halo %v to rank %d\n", img.ID, a.Owned, a.Ghost, a.Worker)
	return nil
}

// Tells all workers to leave their serve loop. The coordinator must not be used afterwards.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broadcastDimensions(ctx, 0, 0)
}

// Filters the owned rows of an assignment. ghost holds exactly the ghost rows of the
// assignment, and is mirrored at its own edges. Returns the owned rows only.
func FilterBand(ghost *raster.Image, a partition.Assignment, kernelSize int) *raster.Image {
	local := a.LocalOwned()
	out := raster.NewImage(ghost.Width, local.Len())
	median.FilterRows(out, ghost, local.Start, local.End, kernelSize)
	return out
}
