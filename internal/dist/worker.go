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
	"errors"
	"fmt"
	"io"

	"github.com/corey888773/median-filter/internal/codec"
	"github.com/corey888773/median-filter/internal/median"
	"github.com/corey888773/median-filter/internal/partition"
	"github.com/corey888773/median-filter/internal/transport"
)

var ErrAssignmentMismatch = errors.New("received ranges differ from local assignment")

// Any rank but 0. Receives its band with halo rows from the coordinator, filters the owned
// rows and sends them back.
type Worker struct {
	comm       transport.Comm
	kernelSize int
	log        io.Writer
	served     int
}

func NewWorker(comm transport.Comm, kernelSize int, log io.Writer) (*Worker, error) {
	if comm.Rank() == 0 {
		return nil, errors.New("rank 0 is the coordinator, not a worker")
	}
	if err := median.ValidateKernelSize(kernelSize); err != nil {
		return nil, err
	}
	if log == nil {
		log = io.Discard
	}
	return &Worker{comm: comm, kernelSize: kernelSize, log: log}, nil
}

// Number of bands this worker has filtered
func (w *Worker) Served() int { return w.served }

// Handles filter invocations until the coordinator shuts the world down with zero dimensions.
func (w *Worker) Serve(ctx context.Context) error {
	for {
		width, err := transport.RecvUint32(ctx, w.comm, 0)
		if err != nil {
			return fmt.Errorf("rank %d receiving width: %w", w.comm.Rank(), err)
		}
		height, err := transport.RecvUint32(ctx, w.comm, 0)
		if err != nil {
			return fmt.Errorf("rank %d receiving height: %w", w.comm.Rank(), err)
		}
		if width == 0 && height == 0 {
			return nil
		}

		// the partition is a pure function of the dimensions, so a worker knows
		// whether the coordinator will contact it in this invocation
		a := partition.For(int32(height), w.comm.Size(), median.HalfKernel(w.kernelSize), w.comm.Rank())
		if a.Owned.Empty() {
			continue
		}
		if err := w.filterBand(ctx, int32(width), a); err != nil {
			return err
		}
	}
}

func (w *Worker) filterBand(ctx context.Context, width int32, expected partition.Assignment) error {
	var ranges [4]int32
	for i := range ranges {
		v, err := transport.RecvInt32(ctx, w.comm, 0)
		if err != nil {
			return fmt.Errorf("rank %d receiving ranges: %w", w.comm.Rank(), err)
		}
		ranges[i] = v
	}
	a := partition.Assignment{
		Worker: w.comm.Rank(),
		Owned:  partition.RowRange{Start: ranges[0], End: ranges[1]},
		Ghost:  partition.RowRange{Start: ranges[2], End: ranges[3]},
	}
	if a != expected {
		return fmt.Errorf("rank %d: %w: got %v, expected %v", w.comm.Rank(), ErrAssignmentMismatch, a, expected)
	}

	buf := codec.GetBuffer(codec.Size(width, a.Ghost.Len()))
	if err := w.comm.Recv(ctx, 0, buf); err != nil {
		codec.PutBuffer(buf)
		return fmt.Errorf("rank %d receiving rows %v: %w", w.comm.Rank(), a.Ghost, err)
	}
	ghost := codec.Decode(buf, width, a.Ghost.Len())
	codec.PutBuffer(buf)
	result := FilterBand(ghost, a, w.kernelSize)

	out := codec.EncodePooled(result, partition.RowRange{Start: 0, End: result.Height})
	defer codec.PutBuffer(out)
	if err := w.comm.Send(ctx, 0, out); err != nil {
		return fmt.Errorf("rank %d returning rows %v: %w", w.comm.Rank(), a.Owned, err)
	}
	w.served++
	fmt.Fprintf(w.log, "Rank %d filtered rows %v, %d pixels wide\n", w.comm.Rank(), a.Owned, width)
	return nil
}
