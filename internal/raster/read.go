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
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrEmptyImage = errors.New("image has no pixels")

func NewImageFromFile(fileName string, id int) (img *Image, err error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err = Read(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%d: decoding %s: %w", id, fileName, err)
	}
	img.ID, img.FileName = id, fileName
	return img, nil
}

// Decodes an image in any registered format: PNG, JPEG, GIF, TIFF, BMP or WebP
func Read(r io.Reader) (*Image, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	if src.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	return NewImageFromGoImage(src), nil
}

// Reads only the header of an image file and returns its dimensions
func DimensionsOfFile(fileName string) (width, height int32, err error) {
	f, err := os.Open(fileName)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return 0, 0, fmt.Errorf("decoding header of %s: %w", fileName, err)
	}
	return int32(cfg.Width), int32(cfg.Height), nil
}
