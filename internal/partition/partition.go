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

// Package partition splits image rows into contiguous bands, one per worker,
// and computes the halo of context rows each band needs for a windowed filter.
package partition

import "fmt"

// A half-open range of rows [Start, End)
type RowRange struct {
	Start int32 `json:"start"`
	End   int32 `json:"end"`
}

func (r RowRange) Len() int32 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

func (r RowRange) Empty() bool { return r.End <= r.Start }

func (r RowRange) Contains(row int32) bool { return row >= r.Start && row < r.End }

func (r RowRange) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// The rows a worker produces output for, and the rows it needs to read to do so.
// Ghost always contains Owned, and is clamped to the image.
type Assignment struct {
	Worker int      `json:"worker"`
	Owned  RowRange `json:"owned"`
	Ghost  RowRange `json:"ghost"`
}

// Returns the owned rows relative to the start of the ghost range, as seen by a worker
// holding only the ghost rows
func (a Assignment) LocalOwned() RowRange {
	return RowRange{a.Owned.Start - a.Ghost.Start, a.Owned.End - a.Ghost.Start}
}

func (a Assignment) String() string {
	return fmt.Sprintf("worker %d owns %v ghost %v", a.Worker, a.Owned, a.Ghost)
}

// Returns the number of rows per band, ceil(height/workers)
func RowsPerBand(height int32, workers int) int32 {
	if workers < 1 {
		panic(fmt.Sprintf("partition: %d workers", workers))
	}
	return (height + int32(workers) - 1) / int32(workers)
}

// Computes the assignment of a single worker. Bands of ceil(height/workers) rows are handed out
// in worker order, the last one truncated to the image. Workers beyond the last band get an
// empty assignment starting and ending at height.
func For(height int32, workers int, halfKernel int32, worker int) Assignment {
	rowsPerBand := RowsPerBand(height, workers)
	start := int32(worker) * rowsPerBand
	if start >= height {
		empty := RowRange{height, height}
		return Assignment{Worker: worker, Owned: empty, Ghost: empty}
	}
	end := start + rowsPerBand
	if end > height {
		end = height
	}
	ghostStart, ghostEnd := start-halfKernel, end+halfKernel
	if ghostStart < 0 {
		ghostStart = 0
	}
	if ghostEnd > height {
		ghostEnd = height
	}
	return Assignment{
		Worker: worker,
		Owned:  RowRange{start, end},
		Ghost:  RowRange{ghostStart, ghostEnd},
	}
}

// Computes the assignments of all workers, indexed by worker id
func Partition(height int32, workers int, halfKernel int32) []Assignment {
	as := make([]Assignment, workers)
	for w := range as {
		as[w] = For(height, workers, halfKernel, w)
	}
	return as
}
