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

// Package transport provides point-to-point message passing between the ranks of a
// fixed-size world. Messages between a pair of ranks arrive in the order they were sent.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrSizeMismatch = errors.New("message size does not match receive buffer")
	ErrClosed       = errors.New("transport closed")
	ErrNoRoute      = errors.New("no link to rank")
	ErrRank         = errors.New("rank out of range")
)

// A participant's handle on the world: its own rank, the number of participants,
// and blocking send and receive to other ranks.
type Comm interface {
	Rank() int
	Size() int

	// Sends a copy of payload to the given rank. May return before the receiver has
	// received the message.
	Send(ctx context.Context, dest int, payload []byte) error

	// Receives the next message from the given rank into buf. The message must have
	// exactly len(buf) bytes, else ErrSizeMismatch is returned.
	Recv(ctx context.Context, src int, buf []byte) error

	Close() error
}

func checkPeer(c Comm, peer int) error {
	if peer < 0 || peer >= c.Size() || peer == c.Rank() {
		return fmt.Errorf("%w: rank %d of %d cannot address rank %d", ErrRank, c.Rank(), c.Size(), peer)
	}
	return nil
}

func SendUint32(ctx context.Context, c Comm, dest int, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return c.Send(ctx, dest, buf[:])
}

func RecvUint32(ctx context.Context, c Comm, src int) (uint32, error) {
	var buf [4]byte
	if err := c.Recv(ctx, src, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func SendInt32(ctx context.Context, c Comm, dest int, v int32) error {
	return SendUint32(ctx, c, dest, uint32(v))
}

func RecvInt32(ctx context.Context, c Comm, src int) (int32, error) {
	v, err := RecvUint32(ctx, c, src)
	return int32(v), err
}
