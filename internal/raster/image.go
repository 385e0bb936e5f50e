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

package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
)

// Number of interleaved channels per pixel
const Channels = 3

// A single pixel, channels in R, G, B order
type RGB [Channels]uint8

// An 8-bit RGB raster image.
type Image struct {
	ID         int     // Sequential ID number, for log output
	FileName   string  // Original file name, if any, for log output
	NoiseLevel float32 // Fraction of pixels corrupted by AddNoise, for measurements

	Width  int32   // Pixels per row
	Height int32   // Number of rows
	Pix    []uint8 // Row-major pixel data, R, G, B interleaved. len(Pix)==Width*Height*Channels
}

// Creates an image of given dimensions, initialized to black
func NewImage(width, height int32) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, int(width)*int(height)*Channels),
	}
}

// Creates an image from given pixel data. Data is not copied.
// Panics if the data does not match the given dimensions.
func NewImageFromPix(width, height int32, pix []uint8) *Image {
	if len(pix) != int(width)*int(height)*Channels {
		panic(fmt.Sprintf("raster: %d bytes do not match %dx%d RGB pixels", len(pix), width, height))
	}
	return &Image{Width: width, Height: height, Pix: pix}
}

// Creates a new image with the metadata and dimensions of the given one. Pixel data is allocated, not copied
func NewImageFromImage(img *Image) *Image {
	out := NewImage(img.Width, img.Height)
	out.ID, out.FileName, out.NoiseLevel = img.ID, img.FileName, img.NoiseLevel
	return out
}

// Returns a deep copy of the image
func (img *Image) Clone() *Image {
	out := *img
	out.Pix = append([]uint8(nil), img.Pix...)
	return &out
}

// Returns row stride in bytes
func (img *Image) Stride() int {
	return int(img.Width) * Channels
}

// Returns the byte offset of pixel (x,y)
func (img *Image) Offset(x, y int32) int {
	return int(y)*img.Stride() + int(x)*Channels
}

func (img *Image) At(x, y int32) RGB {
	o := img.Offset(x, y)
	return RGB{img.Pix[o], img.Pix[o+1], img.Pix[o+2]}
}

func (img *Image) Set(x, y int32, p RGB) {
	o := img.Offset(x, y)
	img.Pix[o], img.Pix[o+1], img.Pix[o+2] = p[0], p[1], p[2]
}

// Returns the pixel at (x,y), reflecting out-of-bounds coordinates across the nearest edge
func (img *Image) AtMirrored(x, y int32) RGB {
	return img.At(Mirror(x, img.Width), Mirror(y, img.Height))
}

// Maps a coordinate into [0, limit) by reflection across the nearest edge without repeating
// the edge sample: -1 maps to 1, limit maps to limit-2. Results still outside the range after
// one reflection, which only happens for images smaller than the window, clamp to limit-1.
func Mirror(c, limit int32) int32 {
	if c < 0 {
		c = -c
	} else if c >= limit {
		c = 2*limit - c - 2
	}
	if c < 0 || c > limit-1 {
		c = limit - 1
	}
	return c
}

// Returns a view of rows [start, end) sharing pixel data with the image.
// Row 0 of the view is row start of the image.
func (img *Image) Rows(start, end int32) *Image {
	stride := img.Stride()
	return &Image{
		ID:         img.ID,
		FileName:   img.FileName,
		NoiseLevel: img.NoiseLevel,
		Width:      img.Width,
		Height:     end - start,
		Pix:        img.Pix[int(start)*stride : int(end)*stride : int(end)*stride],
	}
}

// Copies all rows of src into the image, starting at the given row. Widths must match
func (img *Image) SetRows(start int32, src *Image) {
	if src.Width != img.Width {
		panic(fmt.Sprintf("raster: cannot place %d pixel wide rows into %d pixel wide image", src.Width, img.Width))
	}
	copy(img.Pix[int(start)*img.Stride():], src.Pix)
}

// Returns true if both images have identical dimensions and pixels
func (img *Image) Equal(other *Image) bool {
	return img.Width == other.Width && img.Height == other.Height && bytes.Equal(img.Pix, other.Pix)
}

// Fills all pixels with the given value
func (img *Image) Fill(p RGB) {
	for o := 0; o < len(img.Pix); o += Channels {
		img.Pix[o], img.Pix[o+1], img.Pix[o+2] = p[0], p[1], p[2]
	}
}

// Returns the image dimensions as a string for log output
func (img *Image) DimensionsToString() string {
	return fmt.Sprintf("%dx%d", img.Width, img.Height)
}

// Converts a Go image into an RGB raster, discarding alpha
func NewImageFromGoImage(src image.Image) *Image {
	b := src.Bounds()
	img := NewImage(int32(b.Dx()), int32(b.Dy()))
	o := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			img.Pix[o], img.Pix[o+1], img.Pix[o+2] = c.R, c.G, c.B
			o += Channels
		}
	}
	return img
}

// Converts the raster into an opaque Go image
func (img *Image) ToGoImage() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, int(img.Width), int(img.Height)))
	for i, o := 0, 0; i < len(img.Pix); i, o = i+Channels, o+4 {
		out.Pix[o], out.Pix[o+1], out.Pix[o+2], out.Pix[o+3] = img.Pix[i], img.Pix[i+1], img.Pix[i+2], 255
	}
	return out
}
