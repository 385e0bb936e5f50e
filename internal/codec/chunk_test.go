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

package codec

import (
	"testing"

	"github.com/corey888773/median-filter/internal/partition"
	"github.com/corey888773/median-filter/internal/raster"
	"github.com/valyala/fastrand"
)

func randomImage(width, height int32) *raster.Image {
	rng := fastrand.RNG{}
	img := raster.NewImage(width, height)
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Uint32n(256))
	}
	return img
}

func TestRoundTrip(t *testing.T) {
	img := randomImage(11, 9)
	for start := int32(0); start <= img.Height; start++ {
		for end := start; end <= img.Height; end++ {
			rows := partition.RowRange{Start: start, End: end}
			buf := Encode(img, rows)
			if len(buf) != Size(img.Width, end-start) {
				t.Fatalf("rows %v: %d bytes; want %d", rows, len(buf), Size(img.Width, end-start))
			}
			back := Decode(buf, img.Width, end-start)
			if !back.Equal(img.Rows(start, end)) {
				t.Fatalf("rows %v: round trip differs", rows)
			}
		}
	}
}

func TestLayoutIsRowMajorInterleaved(t *testing.T) {
	img := raster.NewImage(2, 2)
	img.Set(0, 0, raster.RGB{1, 2, 3})
	img.Set(1, 0, raster.RGB{4, 5, 6})
	img.Set(0, 1, raster.RGB{7, 8, 9})
	img.Set(1, 1, raster.RGB{10, 11, 12})
	buf := Encode(img, partition.RowRange{Start: 1, End: 2})
	want := []byte{7, 8, 9, 10, 11, 12}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("buf=%v; want %v", buf, want)
		}
	}
}

func TestDecodeCopies(t *testing.T) {
	buf := []byte{1, 2, 3}
	img := Decode(buf, 1, 1)
	buf[0] = 99
	if img.At(0, 0)[0] != 1 {
		t.Errorf("decoded image aliases the buffer")
	}
}

func TestDecodeSizeMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("decoding a short buffer did not panic")
		}
	}()
	Decode(make([]byte, 5), 1, 2)
}
