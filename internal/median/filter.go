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
	"github.com/corey888773/median-filter/internal/raster"
)

// Applies the median filter to rows [start, end) of src, using all of src as context.
// Stores row start of the result in row 0 of dst, which must be at least end-start rows high
// and as wide as src.
func FilterRows(dst, src *raster.Image, start, end int32, kernelSize int) {
	w := NewWindow(kernelSize)
	for y := start; y < end; y++ {
		for x := int32(0); x < src.Width; x++ {
			dst.Set(x, y-start, w.MedianAt(src, x, y))
		}
	}
}

// Applies the median filter to the whole image and returns the result as a new image
func Filter(src *raster.Image, kernelSize int) *raster.Image {
	dst := raster.NewImageFromImage(src)
	FilterRows(dst, src, 0, src.Height, kernelSize)
	return dst
}
