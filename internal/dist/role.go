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

// Package dist implements the distributed median filter: a coordinator at rank 0 splits the
// image into row bands, sends each worker its band plus the halo rows the filter window needs,
// and reassembles the filtered bands. All data between ranks crosses the transport.
package dist

import (
	"context"
	"io"
	"time"

	"github.com/corey888773/median-filter/internal/transport"
)

type Role int

const (
	RoleCoordinator Role = iota
	RoleWorker
)

func (r Role) String() string {
	if r == RoleCoordinator {
		return "coordinator"
	}
	return "worker"
}

func RoleOf(rank int) Role {
	if rank == 0 {
		return RoleCoordinator
	}
	return RoleWorker
}

// Upper bound for telling the workers to shut down, also after the session was cancelled
const shutdownTimeout = 5 * time.Second

// Work done by the coordinator while the world is up, typically one or more Filter calls
type Job func(ctx context.Context, c *Coordinator) error

// Runs this rank's part of a distributed session. The coordinator runs job and then shuts
// the workers down, also when job failed. Workers serve until shut down.
// Every rank of the world must call Run with the same kernel size.
func Run(ctx context.Context, comm transport.Comm, kernelSize int, log io.Writer, job Job) error {
	switch RoleOf(comm.Rank()) {
	case RoleCoordinator:
		c, err := NewCoordinator(comm, kernelSize, log)
		if err != nil {
			return err
		}
		err = job(ctx, c)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if errShutdown := c.Shutdown(shutdownCtx); err == nil {
			err = errShutdown
		}
		return err
	default:
		w, err := NewWorker(comm, kernelSize, log)
		if err != nil {
			return err
		}
		return w.Serve(ctx)
	}
}
