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

package median

import (
	"errors"
	"fmt"

	"github.com/corey888773/median-filter/internal/qsort"
	"github.com/corey888773/median-filter/internal/raster"
)

var ErrKernelSize = errors.New("kernel size must be 3 or 5")

// Checks that the kernel size is one of the supported window sizes
func ValidateKernelSize(kernelSize int) error {
	if kernelSize != 3 && kernelSize != 5 {
		return fmt.Errorf("%w, got %d", ErrKernelSize, kernelSize)
	}
	return nil
}

// Returns the number of context rows needed on each side of a pixel
func HalfKernel(kernelSize int) int32 {
	return int32(kernelSize / 2)
}

// Scratch space for gathering one square neighbourhood, one slice per channel.
// Not safe for concurrent use; each goroutine needs its own.
type Window struct {
	Size    int
	r, g, b []uint8
}

func NewWindow(kernelSize int) *Window {
	n := kernelSize * kernelSize
	return &Window{
		Size: kernelSize,
		r:    make([]uint8, n),
		g:    make([]uint8, n),
		b:    make([]uint8, n),
	}
}

// Returns the per-channel median of the window centered at (x,y). Coordinates outside
// the image are mirrored at the edges of img, so callers filtering a band see the band's
// own extent as the image edge.
func (w *Window) MedianAt(img *raster.Image, x, y int32) raster.RGB {
	half := int32(w.Size / 2)
	stride := img.Stride()
	j := 0
	for dy := -half; dy <= half; dy++ {
		rowOffset := int(raster.Mirror(y+dy, img.Height)) * stride
		for dx := -half; dx <= half; dx++ {
			o := rowOffset + int(raster.Mirror(x+dx, img.Width))*raster.Channels
			w.r[j], w.g[j], w.b[j] = img.Pix[o], img.Pix[o+1], img.Pix[o+2]
			j++
		}
	}
	return raster.RGB{MedianUint8(w.r), MedianUint8(w.g), MedianUint8(w.b)}
}

// Calculates the median of an odd-length uint8 slice, i.e. element len(a)/2 of the sorted slice.
// Modifies the elements in place
func MedianUint8(a []uint8) uint8 {
	if len(a) == 9 {
		return MedianUint8Slice9(a)
	}
	return qsort.QSelectMedianUint8(a)
}

// Calculates the median of a uint8 slice of length nine
// Modifies the elements in place
// From https://stackoverflow.com/questions/45453537/optimal-9-element-sorting-network-that-reduces-to-an-optimal-median-of-9-network
// See also http://ndevilla.free.fr/median/median/src/optmed.c for other sizes
func MedianUint8Slice9(a []uint8) uint8 { // 30x min/max
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	} // swap(a,0,1)
	if a[3] > a[4] {
		a[3], a[4] = a[4], a[3]
	} // swap(a,3,4)
	if a[6] > a[7] {
		a[6], a[7] = a[7], a[6]
	} // swap(a,6,7)
	if a[1] > a[2] {
		a[1], a[2] = a[2], a[1]
	} // swap(a,1,2)
	if a[4] > a[5] {
		a[4], a[5] = a[5], a[4]
	} // swap(a,4,5)
	if a[7] > a[8] {
		a[7], a[8] = a[8], a[7]
	} // swap(a,7,8)
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	} // swap(a,0,1)
	if a[3] > a[4] {
		a[3], a[4] = a[4], a[3]
	} // swap(a,3,4)
	if a[6] > a[7] {
		a[6], a[7] = a[7], a[6]
	} // swap(a,6,7)
	if a[0] > a[3] {
		a[3] = a[0]
	} // max (a,0,3)
	if a[3] > a[6] {
		a[6] = a[3]
	} // max (a,3,6)
	if a[1] > a[4] {
		a[1], a[4] = a[4], a[1]
	} // swap(a,1,4)
	if a[4] > a[7] {
		a[4] = a[7]
	} // min (a,4,7)
	if a[1] > a[4] {
		a[4] = a[1]
	} // max (a,1,4)
	if a[5] > a[8] {
		a[5] = a[8]
	} // min (a,5,8)
	if a[2] > a[5] {
		a[2] = a[5]
	} // min (a,2,5)
	if a[2] > a[4] {
		a[2], a[4] = a[4], a[2]
	} // swap(a,2,4)
	if a[4] > a[6] {
		a[4] = a[6]
	} // min (a,4,6)
	if a[2] > a[4] {
		a[4] = a[2]
	} // max (a,2,4)
	return a[4]
}
