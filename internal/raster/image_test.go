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
	"errors"
	"path/filepath"
	"testing"
)

type mirrorTestCase struct {
	C, Limit, Want int32
}

func TestMirror(t *testing.T) {
	tcs := []mirrorTestCase{
		{0, 5, 0}, {4, 5, 4}, {-1, 5, 1}, {-2, 5, 2}, {5, 5, 3}, {6, 5, 2},
		{-1, 1, 0}, {-2, 1, 0}, {1, 1, 0}, {2, 1, 0},
		{-2, 2, 1}, {2, 2, 0}, {3, 2, 1},
	}
	for _, tc := range tcs {
		if got := Mirror(tc.C, tc.Limit); got != tc.Want {
			t.Errorf("Mirror(%d,%d)=%d; want %d", tc.C, tc.Limit, got, tc.Want)
		}
	}
}

func gradientImage(width, height int32) *Image {
	img := NewImage(width, height)
	for y := int32(0); y < height; y++ {
		for x := int32(0); x < width; x++ {
			img.Set(x, y, RGB{uint8(x * 17), uint8(y * 31), uint8(x ^ y)})
		}
	}
	return img
}

func TestRowsSharesData(t *testing.T) {
	img := gradientImage(5, 7)
	view := img.Rows(2, 5)
	if view.Height != 3 || view.Width != 5 {
		t.Fatalf("view is %s; want 5x3", view.DimensionsToString())
	}
	if view.At(1, 0) != img.At(1, 2) {
		t.Errorf("view row 0 = %v; want image row 2 = %v", view.At(1, 0), img.At(1, 2))
	}
	view.Set(1, 0, RGB{1, 2, 3})
	if img.At(1, 2) != (RGB{1, 2, 3}) {
		t.Errorf("write through view not visible in image")
	}
}

func TestSetRows(t *testing.T) {
	img := NewImage(4, 6)
	band := gradientImage(4, 2)
	img.SetRows(3, band)
	for y := int32(0); y < 6; y++ {
		for x := int32(0); x < 4; x++ {
			want := RGB{}
			if y == 3 || y == 4 {
				want = band.At(x, y-3)
			}
			if got := img.At(x, y); got != want {
				t.Errorf("(%d,%d)=%v; want %v", x, y, got, want)
			}
		}
	}
}

func TestNoiseLevelValidation(t *testing.T) {
	img := NewImage(3, 3)
	for _, level := range []float32{-0.1, 1.01} {
		if _, err := img.AddNoise(level, 1); !errors.Is(err, ErrNoiseLevel) {
			t.Errorf("level %g: err=%v; want ErrNoiseLevel", level, err)
		}
	}
}

func TestAddNoiseOnlySaltAndPepper(t *testing.T) {
	img := NewImage(32, 16)
	img.Fill(RGB{100, 110, 120})
	n, err := img.AddNoise(0.25, 42)
	if err != nil {
		t.Fatal(err)
	}
	if n != 128 {
		t.Errorf("corrupted %d pixels; want 128", n)
	}
	changed := 0
	for y := int32(0); y < img.Height; y++ {
		for x := int32(0); x < img.Width; x++ {
			p := img.At(x, y)
			switch p {
			case RGB{100, 110, 120}:
			case Salt, Pepper:
				changed++
			default:
				t.Fatalf("(%d,%d)=%v is neither original, salt nor pepper", x, y, p)
			}
		}
	}
	if changed == 0 || changed > n {
		t.Errorf("%d pixels changed; want between 1 and %d", changed, n)
	}
	if img.NoiseLevel != 0.25 {
		t.Errorf("NoiseLevel=%g; want 0.25", img.NoiseLevel)
	}
}

func TestAddNoiseZeroLevel(t *testing.T) {
	img := gradientImage(8, 8)
	orig := img.Clone()
	if n, err := img.AddNoise(0, 0); err != nil || n != 0 {
		t.Fatalf("n=%d err=%v; want 0, nil", n, err)
	}
	if !img.Equal(orig) {
		t.Errorf("zero noise modified the image")
	}
}

func TestWriteReadLossless(t *testing.T) {
	img := gradientImage(13, 9)
	dir := t.TempDir()
	for _, name := range []string{"a.png", "a.tif", "a.bmp"} {
		fileName := filepath.Join(dir, name)
		if err := img.WriteFile(fileName); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		back, err := NewImageFromFile(fileName, 7)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !back.Equal(img) {
			t.Errorf("%s: pixels differ after write and read", name)
		}
		if back.ID != 7 || back.FileName != fileName {
			t.Errorf("%s: id=%d fileName=%s", name, back.ID, back.FileName)
		}
	}
}

func TestWriteUnknownSuffix(t *testing.T) {
	err := NewImage(1, 1).WriteFile(filepath.Join(t.TempDir(), "a.xyz"))
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("err=%v; want ErrUnknownFormat", err)
	}
}

func TestReadGarbage(t *testing.T) {
	if _, err := Read(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Errorf("decoding garbage succeeded")
	}
}
