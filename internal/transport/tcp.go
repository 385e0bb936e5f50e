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
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	helloMagic       uint32 = 0x544c464d // "MFLT" on the wire
	helloSize               = 16          // magic, rank, size, flags
	flagCompress     uint32 = 1
	frameHeaderSize         = 8 // raw length, wire length
	maxFrameSize            = 1 << 30
	handshakeTimeout        = 10 * time.Second
	dialRetryDelay          = 100 * time.Millisecond
)

var ErrHandshake = errors.New("handshake failed")

// TCP world settings. All ranks of a world must use the same settings.
type Options struct {
	Compress bool `json:"compress"` // zstd-compress frame bodies
}

func (o Options) flags() uint32 {
	if o.Compress {
		return flagCompress
	}
	return 0
}

// A TCP world in star topology: rank 0 holds one connection per worker, workers
// hold a single connection to rank 0. Workers cannot address each other.
type TCPComm struct {
	rank, size int
	peers      []*tcpPeer // indexed by rank, nil without a link
	enc        *zstd.Encoder
	dec        *zstd.Decoder
	closeOnce  sync.Once
}

type tcpPeer struct {
	conn   net.Conn
	sendMu sync.Mutex
	w      *bufio.Writer
	recvMu sync.Mutex
	r      *bufio.Reader
	header [frameHeaderSize]byte
}

func newTCPComm(rank, size int, opts Options) (*TCPComm, error) {
	c := &TCPComm{rank: rank, size: size, peers: make([]*tcpPeer, size)}
	if opts.Compress {
		var err error
		if c.enc, err = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1), zstd.WithEncoderLevel(zstd.SpeedFastest)); err != nil {
			return nil, err
		}
		if c.dec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1)); err != nil {
			c.enc.Close()
			return nil, err
		}
	}
	return c, nil
}

func newTCPPeer(conn net.Conn) *tcpPeer {
	return &tcpPeer{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}
}

// A listening endpoint for rank 0. Separate from Accept so the bound address is known
// before workers are started.
type Listener struct {
	ln net.Listener
}

func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln}, nil
}

// Returns the bound address, with the actual port if port 0 was requested
func (l *Listener) Addr() string { return l.ln.Addr().String() }

func (l *Listener) Close() error { return l.ln.Close() }

// Accepts one connection from each of the ranks 1..size-1 and returns the world handle of rank 0.
// Connections with a bad handshake are dropped. Blocks until all ranks are connected or ctx is done.
// Closes the listener on return.
func (l *Listener) Accept(ctx context.Context, size int, opts Options) (*TCPComm, error) {
	defer l.ln.Close()
	c, err := newTCPComm(0, size, opts)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { l.ln.Close() })
	defer stop()

	for missing := size - 1; missing > 0; {
		conn, err := l.ln.Accept()
		if err != nil {
			c.Close()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		rank, err := c.acceptHello(conn, opts)
		if err != nil {
			conn.Close()
			continue
		}
		c.peers[rank] = newTCPPeer(conn)
		missing--
	}
	return c, nil
}

func (c *TCPComm) acceptHello(conn net.Conn, opts Options) (int, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	var hello [helloSize]byte
	if _, err := io.ReadFull(conn, hello[:]); err != nil {
		return 0, err
	}
	magic := binary.LittleEndian.Uint32(hello[0:])
	rank := int(binary.LittleEndian.Uint32(hello[4:]))
	size := int(binary.LittleEndian.Uint32(hello[8:]))
	flags := binary.LittleEndian.Uint32(hello[12:])
	switch {
	case magic != helloMagic:
		return 0, fmt.Errorf("%w: bad magic %#x", ErrHandshake, magic)
	case size != c.size:
		return 0, fmt.Errorf("%w: rank %d expects world size %d, have %d", ErrHandshake, rank, size, c.size)
	case rank < 1 || rank >= c.size:
		return 0, fmt.Errorf("%w: %w %d", ErrHandshake, ErrRank, rank)
	case c.peers[rank] != nil:
		return 0, fmt.Errorf("%w: rank %d connected twice", ErrHandshake, rank)
	case flags != opts.flags():
		return 0, fmt.Errorf("%w: rank %d flags %#x, have %#x", ErrHandshake, rank, flags, opts.flags())
	}
	var ack [4]byte
	binary.LittleEndian.PutUint32(ack[:], helloMagic)
	_, err := conn.Write(ack[:])
	return rank, err
}

// Connects a worker of the given rank to rank 0 at addr. Retries until rank 0 is listening or ctx is done.
func Dial(ctx context.Context, addr string, rank, size int, opts Options) (*TCPComm, error) {
	if rank < 1 || rank >= size {
		return nil, fmt.Errorf("%w: cannot dial as rank %d of %d", ErrRank, rank, size)
	}
	var d net.Dialer
	var conn net.Conn
	for {
		var err error
		conn, err = d.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dialing %s: %w", addr, err)
		case <-time.After(dialRetryDelay):
		}
	}

	c, err := newTCPComm(rank, size, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p := newTCPPeer(conn)
	err = p.withDeadline(ctx, conn.SetDeadline, func() error {
		var hello [helloSize]byte
		binary.LittleEndian.PutUint32(hello[0:], helloMagic)
		binary.LittleEndian.PutUint32(hello[4:], uint32(rank))
		binary.LittleEndian.PutUint32(hello[8:], uint32(size))
		binary.LittleEndian.PutUint32(hello[12:], opts.flags())
		if _, err := conn.Write(hello[:]); err != nil {
			return err
		}
		var ack [4]byte
		if _, err := io.ReadFull(p.r, ack[:]); err != nil {
			return fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		if binary.LittleEndian.Uint32(ack[:]) != helloMagic {
			return fmt.Errorf("%w: bad acknowledgement", ErrHandshake)
		}
		return nil
	})
	if err != nil {
		conn.Close()
		c.Close()
		return nil, err
	}
	c.peers[0] = p
	return c, nil
}

func (c *TCPComm) Rank() int { return c.rank }
func (c *TCPComm) Size() int { return c.size }

func (c *TCPComm) peer(r int) (*tcpPeer, error) {
	if err := checkPeer(c, r); err != nil {
		return nil, err
	}
	p := c.peers[r]
	if p == nil {
		return nil, fmt.Errorf("%w %d from rank %d", ErrNoRoute, r, c.rank)
	}
	return p, nil
}

// Runs fn so that ctx being done expires the connection deadline, which aborts blocked
// reads or writes. The error is then ctx.Err().
func (p *tcpPeer) withDeadline(ctx context.Context, setDeadline func(time.Time) error, fn func() error) error {
	stop := context.AfterFunc(ctx, func() { setDeadline(time.Unix(1, 0)) })
	err := fn()
	stop()
	setDeadline(time.Time{})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *TCPComm) Send(ctx context.Context, dest int, payload []byte) error {
	p, err := c.peer(dest)
	if err != nil {
		return err
	}
	body := payload
	if c.enc != nil {
		body = c.enc.EncodeAll(payload, nil)
	}
	if len(body) > maxFrameSize || len(payload) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes to rank %d exceeds limit", len(payload), dest)
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.withDeadline(ctx, p.conn.SetWriteDeadline, func() error {
		var header [frameHeaderSize]byte
		binary.LittleEndian.PutUint32(header[0:], uint32(len(payload)))
		binary.LittleEndian.PutUint32(header[4:], uint32(len(body)))
		if _, err := p.w.Write(header[:]); err != nil {
			return err
		}
		if _, err := p.w.Write(body); err != nil {
			return err
		}
		return p.w.Flush()
	})
}

func (c *TCPComm) Recv(ctx context.Context, src int, buf []byte) error {
	p, err := c.peer(src)
	if err != nil {
		return err
	}
	p.recvMu.Lock()
	defer p.recvMu.Unlock()
	return p.withDeadline(ctx, p.conn.SetReadDeadline, func() error {
		if _, err := io.ReadFull(p.r, p.header[:]); err != nil {
			return fmt.Errorf("receiving from rank %d: %w", src, err)
		}
		rawLen := int(binary.LittleEndian.Uint32(p.header[0:]))
		wireLen := int(binary.LittleEndian.Uint32(p.header[4:]))
		if wireLen > maxFrameSize {
			return fmt.Errorf("frame of %d bytes from rank %d exceeds limit", wireLen, src)
		}
		if rawLen != len(buf) {
			io.CopyN(io.Discard, p.r, int64(wireLen))
			return fmt.Errorf("%w: got %d bytes from rank %d, expected %d", ErrSizeMismatch, rawLen, src, len(buf))
		}
		if c.dec == nil {
			if wireLen != rawLen {
				return fmt.Errorf("uncompressed frame from rank %d has wire length %d, raw length %d", src, wireLen, rawLen)
			}
			_, err := io.ReadFull(p.r, buf)
			return err
		}
		body := make([]byte, wireLen)
		if _, err := io.ReadFull(p.r, body); err != nil {
			return err
		}
		out, err := c.dec.DecodeAll(body, buf[:0])
		if err != nil {
			return fmt.Errorf("zstd decode from rank %d: %w", src, err)
		}
		if len(out) != rawLen {
			return fmt.Errorf("%w: frame from rank %d decompressed to %d bytes, expected %d", ErrSizeMismatch, src, len(out), rawLen)
		}
		return nil
	})
}

func (c *TCPComm) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for _, p := range c.peers {
			if p == nil {
				continue
			}
			if e := p.conn.Close(); e != nil && err == nil {
				err = e
			}
		}
		if c.enc != nil {
			c.enc.Close()
		}
		if c.dec != nil {
			c.dec.Close()
		}
	})
	return err
}
