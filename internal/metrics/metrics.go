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
	"fmt"
	"math"

	"github.com/corey888773/median-filter/internal/raster"
	colorful "github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/stat"
)

var ErrDimensions = errors.New("images differ in dimensions")

const (
	ssimWindow = 8
	ssimC1     = (0.01 * 255) * (0.01 * 255)
	ssimC2     = (0.03 * 255) * (0.03 * 255)
)

func checkDimensions(a, b *raster.Image) error {
	if a.Width != b.Width || a.Height != b.Height {
		return fmt.Errorf("%w: %s vs %s", ErrDimensions, a.DimensionsToString(), b.DimensionsToString())
	}
	return nil
}

// Peak signal to noise ratio in dB over all channel samples. +Inf for identical images.
func PSNR(a, b *raster.Image) (float64, error) {
	if err := checkDimensions(a, b); err != nil {
		return 0, err
	}
	if len(a.Pix) == 0 {
		return math.Inf(1), nil
	}
	var sum float64
	for i, v := range a.Pix {
		d := float64(v) - float64(b.Pix[i])
		sum += d * d
	}
	mse := sum / float64(len(a.Pix))
	if mse == 0 {
		return math.Inf(1), nil
	}
	return 10 * math.Log10(255*255/mse), nil
}

// Structural similarity, averaged over non-overlapping 8x8 windows and the three channels.
// Windows at the right and bottom edges are clipped. 1 for identical images.
func SSIM(a, b *raster.Image) (float64, error) {
	if err := checkDimensions(a, b); err != nil {
		return 0, err
	}
	xs := make([]float64, 0, ssimWindow*ssimWindow)
	ys := make([]float64, 0, ssimWindow*ssimWindow)
	var sum float64
	var windows int
	for c := 0; c < raster.Channels; c++ {
		for y0 := int32(0); y0 < a.Height; y0 += ssimWindow {
			for x0 := int32(0); x0 < a.Width; x0 += ssimWindow {
				xs, ys = xs[:0], ys[:0]
				for y := y0; y < y0+ssimWindow && y < a.Height; y++ {
					for x := x0; x < x0+ssimWindow && x < a.Width; x++ {
						o := a.Offset(x, y) + c
						xs = append(xs, float64(a.Pix[o]))
						ys = append(ys, float64(b.Pix[o]))
					}
				}
				sum += ssimWindowValue(xs, ys)
				windows++
			}
		}
	}
	if windows == 0 {
		return 1, nil
	}
	return sum / float64(windows), nil
}

func ssimWindowValue(xs, ys []float64) float64 {
	mx, my := stat.Mean(xs, nil), stat.Mean(ys, nil)
	var vx, vy, cov float64
	if len(xs) > 1 {
		vx = stat.Variance(xs, nil)
		vy = stat.Variance(ys, nil)
		cov = stat.Covariance(xs, ys, nil)
	}
	num := (2*mx*my + ssimC1) * (2*cov + ssimC2)
	den := (mx*mx + my*my + ssimC1) * (vx + vy + ssimC2)
	return num / den
}

// Mean CIEDE2000 colour difference between corresponding pixels, in the usual scale
// where 1 is about a just noticeable difference
func DeltaE(a, b *raster.Image) (float64, error) {
	if err := checkDimensions(a, b); err != nil {
		return 0, err
	}
	n := len(a.Pix) / raster.Channels
	if n == 0 {
		return 0, nil
	}
	var sum float64
	for i := 0; i < len(a.Pix); i += raster.Channels {
		if a.Pix[i] == b.Pix[i] && a.Pix[i+1] == b.Pix[i+1] && a.Pix[i+2] == b.Pix[i+2] {
			continue
		}
		ca := toColorful(a.Pix[i : i+raster.Channels])
		cb := toColorful(b.Pix[i : i+raster.Channels])
		sum += ca.DistanceCIEDE2000(cb) * 100 // go-colorful scales L to [0,1]
	}
	return sum / float64(n), nil
}

func toColorful(p []uint8) colorful.Color {
	return colorful.Color{R: float64(p[0]) / 255, G: float64(p[1]) / 255, B: float64(p[2]) / 255}
}

// Quality of a filtered image relative to a reference
type Report struct {
	PSNR   float64 `json:"psnr"`
	SSIM   float64 `json:"ssim"`
	DeltaE float64 `json:"deltaE"`
}

func (r Report) String() string {
	return fmt.Sprintf("PSNR %.2f dB, SSIM %.4f, DeltaE2000 %.3f", r.PSNR, r.SSIM, r.DeltaE)
}

// Computes all metrics of b relative to the reference a
func Compare(a, b *raster.Image) (r Report, err error) {
	if r.PSNR, err = PSNR(a, b); err != nil {
		return r, err
	}
	if r.SSIM, err = SSIM(a, b); err != nil {
		return r, err
	}
	if r.DeltaE, err = DeltaE(a, b); err != nil {
		return r, err
	}
	return r, nil
}
