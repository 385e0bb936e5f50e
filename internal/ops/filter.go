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

package ops

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/corey888773/median-filter/internal/backend"
	"github.com/corey888773/median-filter/internal/median"
	"github.com/corey888773/median-filter/internal/metrics"
	"github.com/corey888773/median-filter/internal/raster"
)

// Adds salt-and-pepper noise to a copy of each input. Takes n inputs, produces n outputs
type OpNoise struct {
	OpUnaryBase
	Level float32 `json:"level"` // fraction of pixels to corrupt, in [0,1]
	Seed  uint32  `json:"seed"`  // 0=random
}

func init() { SetOperatorFactory(func() Operator { return NewOpNoiseDefault() }) } // register the operator for JSON decoding

func NewOpNoiseDefault() *OpNoise { return NewOpNoise(0, 0) }

func NewOpNoise(level float32, seed uint32) *OpNoise {
	op := &OpNoise{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "noise", Active: level > 0}},
		Level:       level,
		Seed:        seed,
	}
	op.OpUnaryBase.Apply = op.Apply
	return op
}

func (op *OpNoise) UnmarshalJSON(b []byte) error {
	type alias OpNoise
	if err := json.Unmarshal(b, (*alias)(op)); err != nil {
		return err
	}
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

// Validates the settings before any image is loaded
func (op *OpNoise) Init() error { return raster.ValidateNoiseLevel(op.Level) }

func (op *OpNoise) Apply(img *raster.Image, c *Context) (*raster.Image, error) {
	if !op.Active {
		return img, nil
	}
	noisy := img.Clone()
	n, err := noisy.AddNoise(op.Level, op.Seed)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "%d: Added salt-and-pepper noise to %d of %d pixels (level %g)\n",
		img.ID, n, int64(img.Width)*int64(img.Height), op.Level)
	return noisy, nil
}

// Applies the median filter with the configured backend. Optionally reports quality metrics of
// the result against the input, and appends a measurement row. Takes n inputs, produces n outputs
type OpMedian struct {
	OpUnaryBase
	KernelSize int    `json:"kernelSize"` // 3 or 5
	Method     string `json:"method"`     // seq, par or dist
	Metrics    bool   `json:"metrics"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpMedianDefault() }) } // register the operator for JSON decoding

func NewOpMedianDefault() *OpMedian { return NewOpMedian(3, string(backend.MethodSequential), false) }

func NewOpMedian(kernelSize int, method string, withMetrics bool) *OpMedian {
	op := &OpMedian{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "median", Active: true}},
		KernelSize:  kernelSize,
		Method:      method,
		Metrics:     withMetrics,
	}
	op.OpUnaryBase.Apply = op.Apply
	return op
}

func (op *OpMedian) UnmarshalJSON(b []byte) error {
	type alias OpMedian
	if err := json.Unmarshal(b, (*alias)(op)); err != nil {
		return err
	}
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

// Validates the settings before any image is loaded
func (op *OpMedian) Init() error {
	if err := median.ValidateKernelSize(op.KernelSize); err != nil {
		return err
	}
	_, err := backend.ParseMethod(op.Method)
	return err
}

func (op *OpMedian) Apply(img *raster.Image, c *Context) (*raster.Image, error) {
	if !op.Active {
		return img, nil
	}
	if err := op.Init(); err != nil {
		return nil, err
	}
	method, _ := backend.ParseMethod(op.Method)
	filter, err := c.Backend(method)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := filter.Apply(c.context(), img, op.KernelSize)
	if err != nil {
		return nil, fmt.Errorf("%d: filtering %s: %w", img.ID, img.FileName, err)
	}
	elapsed := time.Since(start)
	rank, size := filter.Provenance()
	fmt.Fprintf(c.Log, "%d: Filtered %s pixels with %dx%d median, method %s, rank %d of %d, in %v\n",
		img.ID, img.DimensionsToString(), op.KernelSize, op.KernelSize, method, rank, size, elapsed)

	m := Measurement{
		Timestamp:  start,
		Image:      img.FileName,
		KernelSize: op.KernelSize,
		NoiseLevel: img.NoiseLevel,
		Elapsed:    elapsed,
		Method:     string(method),
		PSNR:       math.NaN(),
		SSIM:       math.NaN(),
	}
	if op.Metrics {
		report, err := metrics.Compare(img, out)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(c.Log, "%d: %v\n", img.ID, report)
		m.PSNR, m.SSIM = report.PSNR, report.SSIM
	}
	if c.Measurements != nil {
		if err := c.Measurements.Append(m); err != nil {
			return nil, fmt.Errorf("%d: appending measurement: %w", img.ID, err)
		}
	}
	return out, nil
}
