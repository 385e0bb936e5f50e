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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	nl "github.com/corey888773/median-filter/internal"
	"github.com/corey888773/median-filter/internal/backend"
	"github.com/corey888773/median-filter/internal/dist"
	"github.com/corey888773/median-filter/internal/median"
	"github.com/corey888773/median-filter/internal/ops"
	"github.com/corey888773/median-filter/internal/raster"
	"github.com/corey888773/median-filter/internal/rest"
	"github.com/corey888773/median-filter/internal/transport"
)

const version = "0.3.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out = flag.String("out", "out.png", "save output to `file`. With several inputs, %d is replaced by the image number")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")
var csvDir = flag.String("csv", "results", "append measurements to <dir>/<method>.csv, empty=off")

var kernel = flag.Int("kernel", 3, "median filter kernel size, 3 or 5")
var noise = flag.Float64("noise", 0, "fraction of pixels to corrupt with salt-and-pepper noise before filtering, in [0,1]")
var seed = flag.Uint("seed", 0, "seed for noise injection, 0=random")
var method = flag.String("method", "seq", "filter method: seq, par or dist")
var threads = flag.Int("threads", 0, "goroutines for the par method and images in flight, 0=one per CPU")
var metricsOn = flag.Bool("metrics", false, "report PSNR, SSIM and CIEDE2000 of the result against the pre-filter image")

var np = flag.Int("np", 4, "number of ranks for the dist method, including the coordinator")
var addr = flag.String("addr", "", "dist method: run ranks as processes connected over TCP at this address, empty=in-process ranks")
var spawn = flag.Bool("spawn", true, "dist method over TCP: start the worker processes on this host")
var rank = flag.Int("rank", 0, "worker command: rank of this process, 1..np-1")
var compress = flag.Bool("compress", false, "dist method over TCP: zstd-compress row bands on the wire")

var listen = flag.String("listen", ":8080", "serve command: listen on this address")
var chroot = flag.String("chroot", "", "serve command: chroot to this directory after binding, empty=off")
var setuid = flag.Int("setuid", -1, "serve command: change to this user id after binding, -1=off")

func main() {
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(os.Stdout, `medfilt Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (filter|worker|serve|legal|version) (img0.png ... imgn.png)

Commands:
  filter  Add optional noise to the input images, apply the median filter and save the results
  worker  Serve as rank -rank of a distributed world, coordinated from -addr
  serve   Serve the REST API and web page on -listen
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	// Initialize logging to file in addition to stdout, if selected
	if *log == "%auto" {
		if args[0] == "filter" && *out != "" {
			*log = strings.TrimSuffix(strings.ReplaceAll(*out, "%d", ""), filepath.Ext(*out)) + ".log"
		} else {
			*log = ""
		}
	}
	if *log != "" {
		if err := nl.LogAlsoToFile(*log); err != nil {
			nl.LogFatalf("Unable to open logfile '%s': %s\n", *log, err.Error())
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch args[0] {
	case "filter":
		err = cmdFilter(ctx, args[1:])

	case "worker":
		err = cmdWorker(ctx)

	case "serve":
		err = cmdServe(ctx)

	case "legal":
		cmdLegal()

	case "version":
		nl.LogPrintf("Version %s\n", version)
		nl.LogPrintf("CPU %s\n", ops.CPUDescription())

	case "help", "?":
		flag.Usage()

	default:
		nl.LogPrintf("Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	if args[0] == "filter" {
		nl.LogPrintf("\nDone after %v\n", time.Since(start))
	}

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			nl.LogFatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			nl.LogFatal("Could not write allocation profile: ", err)
		}
	}

	if err != nil {
		pprof.StopCPUProfile()
		nl.LogFatalf("Error: %s\n", err.Error())
	}
	nl.LogSync()
}

// Builds the operator context from the flags. Configuration errors are reported before any I/O.
func newFilterOps(files []string) (*ops.Context, *ops.OpSequence, error) {
	opNoise := ops.NewOpNoise(float32(*noise), uint32(*seed))
	if err := opNoise.Init(); err != nil {
		return nil, nil, err
	}
	opMedian := ops.NewOpMedian(*kernel, *method, *metricsOn)
	if err := opMedian.Init(); err != nil {
		return nil, nil, err
	}
	if *np < 1 {
		return nil, nil, fmt.Errorf("number of ranks must be at least 1, got %d", *np)
	}

	outPattern := outputPattern(*out, len(files))
	if outPattern != "" && raster.FormatFromFileName(outPattern) == raster.FormatUnknown {
		return nil, nil, fmt.Errorf("%w: %s", raster.ErrUnknownFormat, outPattern)
	}

	c := ops.NewContext(nl.LogWriter(), *threads)
	c.Workers = *np
	if *csvDir != "" {
		c.Measurements = ops.NewMeasurementLog(*csvDir)
	}
	seq := ops.NewOpSequence(
		ops.NewOpLoadMany(files),
		opNoise,
		opMedian,
		ops.NewOpSave(outPattern),
	)
	return c, seq, nil
}

// Returns the save pattern for the given number of inputs. With several inputs, a pattern
// lacking %d gets it inserted before the suffix, so outputs do not overwrite each other
func outputPattern(out string, numFiles int) string {
	if numFiles > 1 && out != "" && !strings.Contains(out, "%d") {
		ext := filepath.Ext(out)
		return strings.TrimSuffix(out, ext) + "%d" + ext
	}
	return out
}

func cmdFilter(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("no input images given")
	}
	c, seq, err := newFilterOps(files)
	if err != nil {
		return err
	}
	c.Ctx = ctx
	if c.Measurements != nil {
		defer c.Measurements.Close()
	}

	m, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return err
	}
	nl.LogPrintf("Using %d MB of physical memory and %d threads on %s\n", c.MemoryMB, c.MaxThreads, c.CPU)
	nl.LogPrintf("\nFiltering with these settings:\n%s\n", string(m))

	run := func(ctx context.Context) error {
		promises, err := seq.MakePromises(nil, c)
		if err != nil {
			return err
		}
		_, err = ops.MaterializeAll(promises, c.MaxThreads, true)
		return err
	}

	if meth, _ := backend.ParseMethod(*method); meth != backend.MethodDistributed || *addr == "" {
		return run(ctx)
	}

	// ranks as processes: this process is the coordinator, the filter pipeline its job
	comm, wait, err := setUpWorld(ctx)
	if err != nil {
		return err
	}
	defer comm.Close()
	err = dist.Run(ctx, comm, *kernel, nl.LogWriter(), func(ctx context.Context, coord *dist.Coordinator) error {
		c.SetBackend(backend.MethodDistributed, backend.Remote{Coordinator: coord})
		return run(ctx)
	})
	comm.Close() // workers that missed the shutdown see the connection drop
	if errWait := wait(); err == nil {
		err = errWait
	}
	return err
}

// Sets up the TCP world as rank 0, spawning the local workers if so configured.
// The returned function waits for spawned workers to exit.
func setUpWorld(ctx context.Context) (transport.Comm, func() error, error) {
	if err := median.ValidateKernelSize(*kernel); err != nil {
		return nil, nil, err
	}
	l, err := transport.Listen(*addr)
	if err != nil {
		return nil, nil, err
	}
	var cmds []*exec.Cmd
	wait := func() error {
		var err error
		for _, cmd := range cmds {
			if e := cmd.Wait(); e != nil && err == nil {
				err = fmt.Errorf("worker process %d: %w", cmd.Process.Pid, e)
			}
		}
		return err
	}
	if *spawn {
		exe, err := os.Executable()
		if err != nil {
			l.Close()
			return nil, nil, err
		}
		for r := 1; r < *np; r++ {
			cmd := exec.Command(exe,
				"-addr", l.Addr(),
				"-rank", strconv.Itoa(r),
				"-np", strconv.Itoa(*np),
				"-kernel", strconv.Itoa(*kernel),
				"-compress="+strconv.FormatBool(*compress),
				"-log", "",
				"worker")
			cmd.Stdout, cmd.Stderr = nl.LogWriter(), os.Stderr
			if err := cmd.Start(); err != nil {
				l.Close()
				for _, c := range cmds {
					c.Process.Kill()
				}
				wait()
				return nil, nil, fmt.Errorf("starting worker %d: %w", r, err)
			}
			cmds = append(cmds, cmd)
		}
		nl.LogPrintf("Started %d worker processes, connecting on %s\n", len(cmds), l.Addr())
	} else {
		nl.LogPrintf("Waiting for %d workers to connect on %s\n", *np-1, l.Addr())
	}

	comm, err := l.Accept(ctx, *np, transport.Options{Compress: *compress})
	if err != nil {
		for _, cmd := range cmds {
			cmd.Process.Kill()
		}
		wait()
		return nil, nil, err
	}
	nl.LogPrintf("All %d ranks connected\n", *np)
	return comm, wait, nil
}

func cmdWorker(ctx context.Context) error {
	if *addr == "" {
		return fmt.Errorf("worker needs the coordinator address in -addr")
	}
	comm, err := transport.Dial(ctx, *addr, *rank, *np, transport.Options{Compress: *compress})
	if err != nil {
		return err
	}
	defer comm.Close()
	err = dist.Run(ctx, comm, *kernel, nl.LogWriter(), nil)
	if errors.Is(err, context.Canceled) {
		return nil // interrupted together with the coordinator
	}
	return err
}

func cmdServe(ctx context.Context) error {
	settings := rest.Settings{
		Version:    version,
		MaxThreads: *threads,
		Workers:    *np,
		Log:        nl.LogWriter(),
	}

	if *addr != "" {
		comm, wait, err := setUpWorld(ctx)
		if err != nil {
			return err
		}
		defer comm.Close()
		ln, err := net.Listen("tcp", *listen)
		if err != nil {
			return err
		}
		if err := rest.MakeSandbox(*chroot, *setuid, nl.LogWriter()); err != nil {
			return err
		}
		err = dist.Run(ctx, comm, *kernel, nl.LogWriter(), func(ctx context.Context, coord *dist.Coordinator) error {
			settings.Remote = backend.Remote{Coordinator: coord}
			return serveUntilDone(ctx, ln, settings)
		})
		comm.Close() // workers that missed the shutdown see the connection drop
		if errWait := wait(); err == nil {
			err = errWait
		}
		return err
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		return err
	}
	if err := rest.MakeSandbox(*chroot, *setuid, nl.LogWriter()); err != nil {
		return err
	}
	return serveUntilDone(ctx, ln, settings)
}

// Serves until the context is done, then closes the listener
func serveUntilDone(ctx context.Context, ln net.Listener, settings rest.Settings) error {
	nl.LogPrintf("Serving on %s\n", ln.Addr())
	errs := make(chan error, 1)
	go func() { errs <- rest.Serve(ln, settings) }()
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		ln.Close()
		return nil
	}
}
