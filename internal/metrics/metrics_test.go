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

package metrics

import (
	"errors"
	"math"
	"testing"

	"github.com/corey888773/median-filter/internal/raster"
	"github.com/valyala/fastrand"
)

func randomImage(width, height int32) *raster.Image {
	img := raster.NewImage(width, height)
	for i := range img.Pix {
		img.Pix[i] = uint8(fastrand.Uint32n(256))
	}
	return img
}

func TestIdenticalImages(t *testing.T) {
	for _, dim := range [][2]int32{{1, 1}, {7, 3}, {20, 17}} {
		a := randomImage(dim[0], dim[1])
		r, err := Compare(a, a.Clone())
		if err != nil {
			t.Fatal(err)
		}
		if !math.IsInf(r.PSNR, 1) {
			t.Errorf("%s: PSNR %f; want +Inf", a.DimensionsToString(), r.PSNR)
		}
		if math.Abs(r.SSIM-1) > 1e-9 {
			t.Errorf("%s: SSIM %f; want 1", a.DimensionsToString(), r.SSIM)
		}
		if r.DeltaE != 0 {
			t.Errorf("%s: DeltaE %f; want 0", a.DimensionsToString(), r.DeltaE)
		}
	}
}

func TestPSNRKnownValue(t *testing.T) {
	a := raster.NewImage(4, 4)
	b := raster.NewImage(4, 4)
	b.Fill(raster.RGB{10, 10, 10}) // MSE 100
	got, err := PSNR(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := 10 * math.Log10(255*255/100.0)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("PSNR %f; want %f", got, want)
	}
}

func TestDegradationLowersQuality(t *testing.T) {
	a := randomImage(32, 32)
	slight := a.Clone()
	slight.AddNoise(0.01, 1)
	heavy := a.Clone()
	heavy.AddNoise(0.3, 1)

	rs, err := Compare(a, slight)
	if err != nil {
		t.Fatal(err)
	}
	rh, err := Compare(a, heavy)
	if err != nil {
		t.Fatal(err)
	}
	if !(rs.PSNR > rh.PSNR) || !(rs.SSIM > rh.SSIM) || !(rs.DeltaE < rh.DeltaE) {
		t.Errorf("slight %v not better than heavy %v", rs, rh)
	}
	if rh.SSIM >= 1 || rh.DeltaE <= 0 {
		t.Errorf("heavy noise reported as lossless: %v", rh)
	}
}

func TestDimensionMismatch(t *testing.T) {
	a, b := raster.NewImage(3, 4), raster.NewImage(4, 3)
	if _, err := PSNR(a, b); !errors.Is(err, ErrDimensions) {
		t.Errorf("PSNR err=%v", err)
	}
	if _, err := SSIM(a, b); !errors.Is(err, ErrDimensions) {
		t.Errorf("SSIM err=%v", err)
	}
	if _, err := DeltaE(a, b); !errors.Is(err, ErrDimensions) {
		t.Errorf("DeltaE err=%v", err)
	}
}
