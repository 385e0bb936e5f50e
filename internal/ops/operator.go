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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/corey888773/median-filter/internal/backend"
	"github.com/corey888773/median-filter/internal/raster"
	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
)

// An execution context for operators
type Context struct {
	Ctx          context.Context `json:"-"`
	Log          io.Writer       `json:"-"`
	MemoryMB     int             // memory.TotalMemory()/1024/1024
	MaxThreads   int             `json:"maxThreads"`
	Workers      int             `json:"workers"` // ranks for the distributed method, 0=one per thread
	CPU          string          `json:"cpu"`
	Measurements *MeasurementLog `json:"-"` // optional
	Sandboxed    bool            `json:"sandboxed"` // restrict file access to the current directory tree

	mu       sync.Mutex
	backends map[backend.Method]backend.Filter
}

func NewContext(log io.Writer, maxThreads int) *Context {
	if maxThreads <= 0 {
		maxThreads = runtime.GOMAXPROCS(0)
	}
	return &Context{
		Ctx:        context.Background(),
		Log:        log,
		MemoryMB:   int(memory.TotalMemory() / 1024 / 1024),
		MaxThreads: maxThreads,
		CPU:        CPUDescription(),
		backends:   map[backend.Method]backend.Filter{},
	}
}

// Summarizes the host CPU for logs and version output
func CPUDescription() string {
	return fmt.Sprintf("%s, %d physical cores, %d logical cores", strings.TrimSpace(cpuid.CPU.BrandName),
		cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores)
}

// Installs a backend for a method, replacing the default one. Used to route the
// distributed method onto an established TCP world.
func (c *Context) SetBackend(m backend.Method, f backend.Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backends == nil {
		c.backends = map[backend.Method]backend.Filter{}
	}
	c.backends[m] = f
}

// Returns the backend for a method, creating a default one on first use
func (c *Context) Backend(m backend.Method) (backend.Filter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.backends[m]; ok {
		return f, nil
	}
	concurrency := c.MaxThreads
	if m == backend.MethodDistributed && c.Workers > 0 {
		concurrency = c.Workers
	}
	f, err := backend.New(m, concurrency, c.Log)
	if err != nil {
		return nil, err
	}
	if c.backends == nil {
		c.backends = map[backend.Method]backend.Filter{}
	}
	c.backends[m] = f
	return f, nil
}

func (c *Context) context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

// A promise for an image. Returns a materialized image, or an error
type Promise func() (img *raster.Image, err error)

// Materializes all promises with given concurrency limit
func MaterializeAll(ins []Promise, maxThreads int, forget bool) (outs []*raster.Image, err error) {
	if len(ins) == 0 {
		return nil, nil
	}
	if maxThreads < 1 {
		maxThreads = 1
	}
	if !forget {
		outs = make([]*raster.Image, len(ins))
	}
	limiter := make(chan bool, maxThreads)
	errs := make(chan error, len(ins))
	for i, in := range ins {
		limiter <- true
		go func(i int, theIn Promise) {
			defer func() { <-limiter }()
			img, err := theIn() // materialize the promise
			if err != nil {
				errs <- err
				return
			}
			if !forget {
				outs[i] = img
			}
			errs <- nil
		}(i, in)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	for i := 0; i < len(ins); i++ { // collect errors
		if e := <-errs; e != nil {
			if err == nil {
				err = e
			} else {
				err = errors.New(fmt.Sprintf("%s; %s", err.Error(), e.Error()))
			}
		}
	}
	return RemoveNils(outs), err
}

// Remove nils from an array of images, editing the underlying array in place
func RemoveNils(imgs []*raster.Image) []*raster.Image {
	o := 0
	for i := 0; i < len(imgs); i++ {
		if imgs[i] != nil {
			imgs[o] = imgs[i]
			o++
		}
	}
	for i := o; i < len(imgs); i++ {
		imgs[i] = nil
	}
	return imgs[:o]
}

// A general image processing operator: takes n promises as inputs,
// and produces m promises as output or an error
type Operator interface {
	GetType() string
	IsActive() bool
	MakePromises(ins []Promise, c *Context) (outs []Promise, err error)
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool  { return op.Active }

// Factory method for operators. For JSON serializing/deserializing
type OperatorFactory func() Operator

// Mapping from operator type strings to factory method for the type
var operatorFactories = map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers a given type string for a given type of Operator, identified via an exemplar generator
func SetOperatorFactory(f OperatorFactory) {
	op := f()
	t := op.GetType()
	if GetOperatorFactory(t) != nil {
		panic(fmt.Sprintf("error: re-registering operator key %s\n", t))
	}
	operatorFactories[t] = f
}

// Unmarshals a polymorphic operator from JSON, dispatching on its type field
func UnmarshalOperator(raw []byte) (Operator, error) {
	var base OpBase
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, err
	}
	factory := GetOperatorFactory(base.Type)
	if factory == nil {
		return nil, errors.New(fmt.Sprintf("Unknown operator type '%s' in raw JSON message '%s'", base.Type, string(raw)))
	}
	op := factory()
	if err := json.Unmarshal(raw, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Abstract base type for unary operators: given n promises as inputs,
// applies itself to each of them individually and returns n output promises
type OpUnaryBase struct {
	OpBase
	Apply func(img *raster.Image, c *Context) (out *raster.Image, err error) `json:"-"`
}

func (op *OpUnaryBase) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) == 0 {
		return nil, errors.New(fmt.Sprintf("%s operator with %d inputs", op.Type, len(ins)))
	}
	if !op.Active {
		return ins, nil
	}
	outs = make([]Promise, len(ins))
	for i, in := range ins {
		outs[i] = op.MakePromise(in, c)
	}
	return outs, nil
}

func (op *OpUnaryBase) MakePromise(in Promise, c *Context) (out Promise) {
	return func() (img *raster.Image, err error) {
		if img, err = in(); err != nil {
			return nil, err
		}
		return op.Apply(img, c)
	}
}

// Load a single image from a single filename. Takes zero inputs, produces one output
type OpLoad struct {
	OpBase
	ID       int    `json:"id"`
	FileName string `json:"fileName"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadDefault() }) } // register the operator for JSON decoding

func NewOpLoadDefault() *OpLoad { return NewOpLoad(0, "") }

func NewOpLoad(id int, fileName string) *OpLoad {
	return &OpLoad{
		OpBase:   OpBase{Type: "load", Active: true},
		ID:       id,
		FileName: fileName,
	}
}

func (op *OpLoad) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) > 0 {
		return nil, errors.New(fmt.Sprintf("%s operator with non-zero input", op.Type))
	}
	if !c.isPathAllowed(op.FileName) {
		return nil, errors.New("Filename outside current directory tree, aborting")
	}
	out := func() (*raster.Image, error) {
		return op.Apply(c)
	}
	return []Promise{out}, nil
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory.
// Any path is allowed outside of a sandbox.
func (c *Context) isPathAllowed(p string) bool {
	if !c.Sandboxed {
		return true
	}
	if filepath.IsAbs(p) {
		return false
	}
	if strings.Contains(p, "..") {
		return false
	}
	return true
}

// Bytes held per pixel while filtering: input, noisy copy and result
const workingSetBytesPerPixel = 3 * raster.Channels

func (op *OpLoad) Apply(c *Context) (*raster.Image, error) {
	if c.MemoryMB > 0 {
		w, h, err := raster.DimensionsOfFile(op.FileName)
		if err != nil {
			return nil, err
		}
		needMB := int64(w) * int64(h) * workingSetBytesPerPixel / 1024 / 1024
		if needMB > int64(c.MemoryMB) {
			return nil, errors.New(fmt.Sprintf("%d: %dx%d image %s needs %d MB, more than the physical memory of %d MB",
				op.ID, w, h, op.FileName, needMB, c.MemoryMB))
		}
	}
	img, err := raster.NewImageFromFile(op.FileName, op.ID)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "%d: Loaded %s image from %s\n", img.ID, img.DimensionsToString(), img.FileName)
	return img, nil
}

// Load many images from a slice of filename patterns with wildcards.
// Takes zero inputs, produces n outputs
type OpLoadMany struct {
	OpBase
	FilePatterns []string `json:"filePatterns"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadManyDefault() }) } // register the operator for JSON decoding

func NewOpLoadManyDefault() *OpLoadMany { return NewOpLoadMany(nil) }

func NewOpLoadMany(filePatterns []string) *OpLoadMany {
	return &OpLoadMany{
		OpBase:       OpBase{Type: "loadMany", Active: true},
		FilePatterns: filePatterns,
	}
}

// Turn filename wildcards into list of file load operators
func (op *OpLoadMany) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) > 0 {
		return nil, errors.New(fmt.Sprintf("%s operator with non-zero input", op.Type))
	}
	for _, pattern := range op.FilePatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			if !c.isPathAllowed(match) {
				fmt.Fprintf(c.Log, "Pattern match outside current directory tree, skipping\n")
				continue
			}
			opLoad := NewOpLoad(len(outs), match)
			promises, err := opLoad.MakePromises(nil, c)
			if err != nil {
				return nil, err
			}
			outs = append(outs, promises...)
		}
	}
	if len(outs) == 0 {
		return nil, errors.New(fmt.Sprintf("%s operator with no files to load from pattern %v",
			op.Type, op.FilePatterns))
	}
	fmt.Fprintf(c.Log, "Found %d files.\n", len(outs))
	return outs, nil
}

// Saves given promise under a given filename, with pattern expansion for %d based on the image id.
// Takes one input, produces one output (the materialized but unchanged input)
type OpSave struct {
	OpUnaryBase
	FilePattern string `json:"filePattern"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault() }) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("") }

func NewOpSave(filePattern string) *OpSave {
	op := &OpSave{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "save", Active: filePattern != ""}},
		FilePattern: filePattern,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

func (op *OpSave) UnmarshalJSON(b []byte) error {
	type alias OpSave
	if err := json.Unmarshal(b, (*alias)(op)); err != nil {
		return err
	}
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

// Expands a %d in the pattern to the image ID
func (op *OpSave) FileName(img *raster.Image) string {
	if strings.Contains(op.FilePattern, "%") {
		return fmt.Sprintf(op.FilePattern, img.ID)
	}
	return op.FilePattern
}

func (op *OpSave) Apply(img *raster.Image, c *Context) (*raster.Image, error) {
	if !op.Active || op.FilePattern == "" {
		return img, nil
	}
	fileName := op.FileName(img)
	if !c.isPathAllowed(fileName) {
		return nil, errors.New(fmt.Sprintf("%d: Output filename %s outside current directory tree", img.ID, fileName))
	}
	if dir := filepath.Dir(fileName); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	fmt.Fprintf(c.Log, "%d: Writing %s pixel image to %s\n", img.ID, img.DimensionsToString(), fileName)
	if err := img.WriteFile(fileName); err != nil {
		return nil, errors.New(fmt.Sprintf("%d: Error writing to file %s: %s", img.ID, fileName, err.Error()))
	}
	return img, nil
}

// Applies a sequence of operators to a promise. Number of inputs, outputs as per the chained steps
type OpSequence struct {
	OpBase
	Steps    []Operator        `json:"-"`     // the actual steps
	StepsRaw []json.RawMessage `json:"steps"` // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpSequenceDefault() }) } // register the operator for JSON decoding

func NewOpSequenceDefault() *OpSequence { return NewOpSequence() }

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase: OpBase{Type: "seq", Active: len(steps) > 0},
		Steps:  steps,
	}
}

// Unmarshals a sequence of polymorphic operators from JSON.
// Uses temporary op.StepsRaw inspired by https://alexkappa.medium.com/json-polymorphism-in-go-4cade1e58ed1
func (op *OpSequence) UnmarshalJSON(b []byte) error {
	type alias OpSequence
	if err := json.Unmarshal(b, (*alias)(op)); err != nil {
		return err
	}
	for _, raw := range op.StepsRaw {
		step, err := UnmarshalOperator(raw)
		if err != nil {
			return err
		}
		op.Steps = append(op.Steps, step)
	}
	op.StepsRaw = nil
	return nil
}

// Appends one or more operators to the existing sequence
func (op *OpSequence) Append(steps ...Operator) {
	op.Steps = append(op.Steps, steps...)
	op.Active = len(op.Steps) > 0
}

// Marshals a sequence with polymorphic operators to JSON.
// Uses the actual op.Steps with label "steps", and ignores op.StepsRaw
func (op *OpSequence) MarshalJSON() (bs []byte, err error) {
	buf := bytes.Buffer{}
	buf.WriteString("{\"type\":")
	inner, err := json.Marshal(op.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(inner)
	fmt.Fprintf(&buf, ", \"active\":%v, \"steps\":", op.Active)
	inner, err = json.Marshal(op.Steps)
	if err != nil {
		return nil, err
	}
	buf.Write(inner)
	buf.WriteRune('}')
	return buf.Bytes(), nil
}

func (op *OpSequence) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	return op.applyRecursive(op.Steps, ins, c)
}

func (op *OpSequence) applyRecursive(steps []Operator, ins []Promise, c *Context) (outs []Promise, err error) {
	if len(steps) == 0 {
		return ins, nil
	}
	if ins, err = steps[0].MakePromises(ins, c); err != nil {
		return nil, err
	}
	return op.applyRecursive(steps[1:], ins, c)
}

// Applies a single operator to each input. Takes n inputs, produces n outputs
type OpForEach struct {
	OpBase
	Operation Operator `json:"operation"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpForEachDefault() }) } // register the operator for JSON decoding

func NewOpForEachDefault() *OpForEach { return NewOpForEach(nil) }

func NewOpForEach(operation Operator) *OpForEach {
	return &OpForEach{
		OpBase:    OpBase{Type: "forEach", Active: operation != nil},
		Operation: operation,
	}
}

func (op *OpForEach) UnmarshalJSON(b []byte) error {
	var aux struct {
		OpBase
		Operation json.RawMessage `json:"operation"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	op.OpBase = aux.OpBase
	if len(aux.Operation) == 0 || string(aux.Operation) == "null" {
		op.Operation = nil
		return nil
	}
	inner, err := UnmarshalOperator(aux.Operation)
	if err != nil {
		return err
	}
	op.Operation = inner
	return nil
}

func (op *OpForEach) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) == 0 {
		return ins, nil
	}
	if op.Operation == nil {
		return nil, errors.New(fmt.Sprintf("%s operator has no operation to apply", op.Type))
	}
	for _, in := range ins {
		out, err := op.Operation.MakePromises([]Promise{in}, c)
		if err != nil {
			return nil, err
		}
		if len(out) != 1 {
			return nil, errors.New(fmt.Sprintf("%s operator needs exactly one promise from embedded operation", op.Type))
		}
		outs = append(outs, out[0])
	}
	return outs, nil
}

// Serializes writes to an underlying writer, for logs shared by concurrent promises and ranks
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSyncWriter(w io.Writer) *SyncWriter { return &SyncWriter{w: w} }

func (s *SyncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
