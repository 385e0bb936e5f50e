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
	"errors"
	"fmt"

	"github.com/valyala/fastrand"
)

var ErrNoiseLevel = errors.New("noise level must be between 0.0 and 1.0")

var (
	Salt   = RGB{255, 255, 255}
	Pepper = RGB{0, 0, 0}
)

// Checks that a noise level is a fraction in [0,1]
func ValidateNoiseLevel(level float32) error {
	if !(level >= 0 && level <= 1) {
		return fmt.Errorf("%w, got %g", ErrNoiseLevel, level)
	}
	return nil
}

// Adds salt-and-pepper noise in place. Corrupts floor(pixels*level) uniformly chosen pixels,
// each set to pure white or pure black with equal probability. Pixels may be hit more than once.
// A zero seed draws a fresh random sequence on every call.
// Returns the number of corruptions applied.
func (img *Image) AddNoise(level float32, seed uint32) (int, error) {
	if err := ValidateNoiseLevel(level); err != nil {
		return 0, err
	}
	numPixels := float32(img.Width) * float32(img.Height)
	toCorrupt := int(numPixels * level)

	rng := fastrand.RNG{}
	if seed != 0 {
		rng.Seed(seed)
	}
	for i := 0; i < toCorrupt; i++ {
		x := int32(rng.Uint32n(uint32(img.Width)))
		y := int32(rng.Uint32n(uint32(img.Height)))
		if rng.Uint32n(2) == 0 {
			img.Set(x, y, Salt)
		} else {
			img.Set(x, y, Pepper)
		}
	}
	img.NoiseLevel = level
	return toCorrupt, nil
}
