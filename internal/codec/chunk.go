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

// Package codec converts bands of image rows to and from flat byte buffers for transmission.
// The encoding is row-major with R, G, B interleaved per pixel, without header or compression.
// Both sides agree on the dimensions before a buffer is sent.
package codec

import (
	"fmt"

	"github.com/corey888773/median-filter/internal/partition"
	"github.com/corey888773/median-filter/internal/raster"
)

// Returns the encoded size in bytes of the given number of rows
func Size(width, rows int32) int {
	return int(width) * int(rows) * raster.Channels
}

// Encodes the given rows of the image into a new buffer
func Encode(img *raster.Image, rows partition.RowRange) []byte {
	buf := make([]byte, Size(img.Width, rows.Len()))
	EncodeInto(buf, img, rows)
	return buf
}

// Encodes the given rows of the image into buf, which must have exactly the encoded size
func EncodeInto(buf []byte, img *raster.Image, rows partition.RowRange) {
	if len(buf) != Size(img.Width, rows.Len()) {
		panic(fmt.Sprintf("codec: buffer of %d bytes for %d rows of width %d", len(buf), rows.Len(), img.Width))
	}
	if rows.Start < 0 || rows.End > img.Height {
		panic(fmt.Sprintf("codec: rows %v outside image of height %d", rows, img.Height))
	}
	stride := img.Stride()
	copy(buf, img.Pix[int(rows.Start)*stride:int(rows.End)*stride])
}

// Decodes a buffer into a new image of the given dimensions. The buffer is copied.
// Panics if the buffer length does not match the dimensions.
func Decode(buf []byte, width, height int32) *raster.Image {
	if len(buf) != Size(width, height) {
		panic(fmt.Sprintf("codec: %d bytes do not decode to %dx%d RGB pixels", len(buf), width, height))
	}
	return raster.NewImageFromPix(width, height, append([]uint8(nil), buf...))
}
