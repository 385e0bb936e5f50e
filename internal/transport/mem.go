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

package transport

import (
	"context"
	"fmt"
	"sync"
)

// Messages buffered per link and direction before Send blocks
const memLinkDepth = 16

// In-process world in star topology, like the TCP world: rank 0 has a link in each
// direction to every worker, workers cannot address each other. Every payload is
// copied on send, so ranks share no memory.
type memWorld struct {
	toWorker []chan []byte // indexed by destination rank, nil at 0
	toRoot   []chan []byte // indexed by source rank, nil at 0
}

// Returns the channel from src to dest, or nil if the ranks are not linked
func (w *memWorld) link(src, dest int) chan []byte {
	switch {
	case src == 0:
		return w.toWorker[dest]
	case dest == 0:
		return w.toRoot[src]
	}
	return nil
}

type MemComm struct {
	world *memWorld
	rank  int

	closeOnce sync.Once
	done      chan struct{}
	mu        sync.RWMutex // held shared by senders, exclusively while closing links
	closed    bool
}

// Creates an in-process world of the given size and returns the handle of every rank, indexed by rank
func NewMemWorld(size int) []*MemComm {
	if size < 1 {
		panic(fmt.Sprintf("transport: world of size %d", size))
	}
	w := &memWorld{toWorker: make([]chan []byte, size), toRoot: make([]chan []byte, size)}
	for r := 1; r < size; r++ {
		w.toWorker[r] = make(chan []byte, memLinkDepth)
		w.toRoot[r] = make(chan []byte, memLinkDepth)
	}
	comms := make([]*MemComm, size)
	for r := range comms {
		comms[r] = &MemComm{world: w, rank: r, done: make(chan struct{})}
	}
	return comms
}

func (c *MemComm) Rank() int { return c.rank }
func (c *MemComm) Size() int { return len(c.world.toWorker) }

func (c *MemComm) Send(ctx context.Context, dest int, payload []byte) error {
	if err := checkPeer(c, dest); err != nil {
		return err
	}
	link := c.world.link(c.rank, dest)
	if link == nil {
		return fmt.Errorf("%w %d from rank %d", ErrNoRoute, dest, c.rank)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	msg := append([]byte(nil), payload...)
	select {
	case link <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *MemComm) Recv(ctx context.Context, src int, buf []byte) error {
	if err := checkPeer(c, src); err != nil {
		return err
	}
	link := c.world.link(src, c.rank)
	if link == nil {
		return fmt.Errorf("%w %d from rank %d", ErrNoRoute, src, c.rank)
	}
	select {
	case msg, ok := <-link:
		if !ok {
			return fmt.Errorf("rank %d: %w", src, ErrClosed)
		}
		if len(msg) != len(buf) {
			return fmt.Errorf("%w: got %d bytes from rank %d, expected %d", ErrSizeMismatch, len(msg), src, len(buf))
		}
		copy(buf, msg)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closes the outgoing links of this rank. Peers blocked receiving from it get ErrClosed
// once pending messages are drained.
func (c *MemComm) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		for dest := 0; dest < c.Size(); dest++ {
			if link := c.world.link(c.rank, dest); link != nil && dest != c.rank {
				close(link)
			}
		}
	})
	return nil
}
