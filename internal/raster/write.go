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
	"bufio"
	"errors"
	"fmt"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Output formats, selected by file name suffix
type Format int

const (
	FormatUnknown Format = iota
	FormatPNG
	FormatJPEG
	FormatGIF
	FormatTIFF
	FormatBMP
)

var ErrUnknownFormat = errors.New("unknown image file suffix")

// JPEG quality used for all JPEG output
const JPEGQuality = 95

// Returns the output format for the given file name suffix
func FormatFromFileName(fileName string) Format {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".png":
		return FormatPNG
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".gif":
		return FormatGIF
	case ".tif", ".tiff":
		return FormatTIFF
	case ".bmp":
		return FormatBMP
	}
	return FormatUnknown
}

// Writes the image to a file, in the format given by the file name suffix
func (img *Image) WriteFile(fileName string) error {
	format := FormatFromFileName(fileName)
	if format == FormatUnknown {
		return fmt.Errorf("%s: %w", fileName, ErrUnknownFormat)
	}
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err = img.Write(writer, format); err != nil {
		return err
	}
	return writer.Flush()
}

// Encodes the image in the given format
func (img *Image) Write(writer io.Writer, format Format) error {
	goImg := img.ToGoImage()
	switch format {
	case FormatPNG:
		return png.Encode(writer, goImg)
	case FormatJPEG:
		return jpeg.Encode(writer, goImg, &jpeg.Options{Quality: JPEGQuality})
	case FormatGIF:
		return gif.Encode(writer, goImg, nil)
	case FormatTIFF:
		return tiff.Encode(writer, goImg, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case FormatBMP:
		return bmp.Encode(writer, goImg)
	}
	return ErrUnknownFormat
}
