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
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var measurementHeader = []string{
	"timestamp", "image", "kernel_size", "noise_level", "processing_time_ms", "method", "psnr", "ssim",
}

// One timed filter invocation. Quality fields are NaN when not computed.
type Measurement struct {
	Timestamp  time.Time
	Image      string
	KernelSize int
	NoiseLevel float32
	Elapsed    time.Duration
	Method     string
	PSNR       float64
	SSIM       float64
}

func (m Measurement) record() []string {
	return []string{
		m.Timestamp.Format(time.RFC3339),
		m.Image,
		strconv.Itoa(m.KernelSize),
		strconv.FormatFloat(float64(m.NoiseLevel), 'f', -1, 32),
		strconv.FormatFloat(float64(m.Elapsed.Microseconds())/1000, 'f', 3, 64),
		m.Method,
		formatMetric(m.PSNR),
		formatMetric(m.SSIM),
	}
}

func formatMetric(v float64) string {
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, 1):
		return "inf"
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// Appends measurements as CSV rows to one file per method, <dir>/<method>.csv.
// Writes the header when a file is created.
type MeasurementLog struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File
}

func NewMeasurementLog(dir string) *MeasurementLog {
	return &MeasurementLog{dir: dir, files: map[string]*os.File{}}
}

// Returns the file name measurements for a method go to
func (l *MeasurementLog) FileName(method string) string {
	return filepath.Join(l.dir, method+".csv")
}

func (l *MeasurementLog) Append(m Measurement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.open(m.Method)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Write(m.record())
	w.Flush()
	return w.Error()
}

func (l *MeasurementLog) open(method string) (*os.File, error) {
	if f, ok := l.files[method]; ok {
		return f, nil
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return nil, err
	}
	fileName := l.FileName(method)
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() == 0 {
		w := csv.NewWriter(f)
		w.Write(measurementHeader)
		if w.Flush(); w.Error() != nil {
			f.Close()
			return nil, fmt.Errorf("writing header of %s: %w", fileName, w.Error())
		}
	}
	l.files[method] = f
	return f, nil
}

func (l *MeasurementLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	for method, f := range l.files {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
		delete(l.files, method)
	}
	return err
}
