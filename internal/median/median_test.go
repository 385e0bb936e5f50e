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
	"sort"
	"testing"

	"github.com/corey888773/median-filter/internal/raster"
	"github.com/valyala/fastrand"
)

func sortedMedian(a []uint8) uint8 {
	s := append([]uint8(nil), a...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s[len(s)/2]
}

func TestMedianUint8MatchesSort(t *testing.T) {
	rng := fastrand.RNG{}
	for _, n := range []int{9, 25} {
		for iter := 0; iter < 5000; iter++ {
			a := make([]uint8, n)
			spread := uint32(2 + iter%255) // include inputs with many ties
			for i := range a {
				a[i] = uint8(rng.Uint32n(spread))
			}
			want := sortedMedian(a)
			if got := MedianUint8(a); got != want {
				t.Fatalf("n=%d median=%d; want %d", n, got, want)
			}
		}
	}
}

func TestValidateKernelSize(t *testing.T) {
	for _, k := range []int{3, 5} {
		if err := ValidateKernelSize(k); err != nil {
			t.Errorf("kernel %d: %v", k, err)
		}
	}
	for _, k := range []int{-3, 0, 1, 2, 4, 7, 9} {
		if err := ValidateKernelSize(k); !errors.Is(err, ErrKernelSize) {
			t.Errorf("kernel %d: err=%v; want ErrKernelSize", k, err)
		}
	}
}

func TestSinglePixelUnchanged(t *testing.T) {
	for _, k := range []int{3, 5} {
		img := raster.NewImage(1, 1)
		img.Set(0, 0, raster.RGB{12, 200, 77})
		out := Filter(img, k)
		if got := out.At(0, 0); got != (raster.RGB{12, 200, 77}) {
			t.Errorf("kernel %d: got %v; want unchanged pixel", k, got)
		}
	}
}

func TestConstantImageIsFixedPoint(t *testing.T) {
	for _, k := range []int{3, 5} {
		img := raster.NewImage(9, 6)
		img.Fill(raster.RGB{40, 50, 60})
		if out := Filter(img, k); !out.Equal(img) {
			t.Errorf("kernel %d: constant image changed", k)
		}
	}
}

func TestSingleOutlierRemoved(t *testing.T) {
	img := raster.NewImage(4, 4)
	img.Set(2, 2, raster.RGB{255, 0, 0})
	out := Filter(img, 3)
	for y := int32(0); y < 4; y++ {
		for x := int32(0); x < 4; x++ {
			if p := out.At(x, y); p != (raster.RGB{}) {
				t.Errorf("(%d,%d)=%v; want black", x, y, p)
			}
		}
	}
}

func TestMirroredWindowAtCorner(t *testing.T) {
	// row-major values 0..8 in the red channel of a 3x3 image
	img := raster.NewImage(3, 3)
	for y := int32(0); y < 3; y++ {
		for x := int32(0); x < 3; x++ {
			img.Set(x, y, raster.RGB{uint8(y*3 + x), 0, 0})
		}
	}
	// window at (0,0) mirrors to rows 1,0,1 and columns 1,0,1:
	// 4 3 4 / 1 0 1 / 4 3 4, sorted 0 1 1 3 3 4 4 4 4, median 3
	w := NewWindow(3)
	if got := w.MedianAt(img, 0, 0); got[0] != 3 {
		t.Errorf("median at corner=%d; want 3", got[0])
	}
	// center window covers all values 0..8, median 4
	if got := w.MedianAt(img, 1, 1); got[0] != 4 {
		t.Errorf("median at center=%d; want 4", got[0])
	}
}

func TestFilterRowsOffset(t *testing.T) {
	rng := fastrand.RNG{}
	img := raster.NewImage(7, 10)
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Uint32n(256))
	}
	full := Filter(img, 5)
	band := raster.NewImage(7, 4)
	FilterRows(band, img, 3, 7, 5)
	if !band.Equal(full.Rows(3, 7)) {
		t.Errorf("band rows 3..7 differ from full filter")
	}
}
