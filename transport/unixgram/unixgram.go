// Copyright 2024 The SP Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package unixgram implements the "unix" scheme driver: local IPC over
// Unix datagram sockets, including Linux abstract-namespace addresses
// (spec section 6.1, 6.2).
package unixgram

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/transport"
)

// Scheme is the address scheme this driver serves.
const Scheme = "unix"

// DefaultMaxSize is the ceiling used when a socket does not supply its
// own max-message-size option; it mirrors the common SO_SNDBUF/RCVBUF
// default on Linux for a single datagram (spec section 4.2).
const DefaultMaxSize = 65536

func init() {
	transport.Register(driver{})
}

type driver struct{}

func (driver) Scheme() string { return Scheme }

func (driver) NewDialer(addr string, maxSize int) (transport.Dialer, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &dialer{addr: addr, maxSize: maxSize}, nil
}

func (driver) NewListener(addr string, maxSize int) (transport.Listener, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &listener{addr: addr, maxSize: maxSize, peers: make(map[string]*halfConn)}, nil
}

// sockaddrFor builds the raw unix.Sockaddr for path, translating a
// leading "@" into the abstract-namespace leading NUL byte convention
// (Linux only).
func sockaddrFor(path string) (unix.Sockaddr, error) {
	if strings.HasPrefix(path, "@") {
		name := "\x00" + path[1:]
		return &unix.SockaddrUnix{Name: name}, nil
	}
	return &unix.SockaddrUnix{Name: path}, nil
}

// ---- dialer ----

type dialer struct {
	addr    string
	maxSize int
}

func (d *dialer) Address() string { return "unix://" + d.addr }

func (d *dialer) Dial(ctx context.Context) (transport.Conn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, errors.Wrap("dial", d.addr, err)
	}
	// Autobind to an abstract address: an unnamed datagram socket's
	// traffic arrives with no source address, leaving the listener
	// nothing to demultiplex on or reply to.
	if err := unix.Bind(fd, &unix.SockaddrUnix{}); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap("dial", d.addr, err)
	}
	sa, err := sockaddrFor(d.addr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		if err == unix.ECONNREFUSED {
			return nil, errors.Wrap("dial", d.addr, errors.ErrConnRefused)
		}
		return nil, errors.Wrap("dial", d.addr, err)
	}
	f := os.NewFile(uintptr(fd), "unixgram-dial")
	nc, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, errors.Wrap("dial", d.addr, err)
	}
	return &fullConn{Conn: nc, remote: d.addr, buf: make([]byte, d.maxSize)}, nil
}

// fullConn is a dialer-side connected peer: the kernel already
// associates every datagram with the one remote endpoint named at
// connect() time.
type fullConn struct {
	net.Conn
	remote string
	buf    []byte
}

func (c *fullConn) Send(b []byte) error {
	_, err := c.Conn.Write(b)
	return err
}

func (c *fullConn) Recv() ([]byte, error) {
	n, err := c.Conn.Read(c.buf)
	if err != nil {
		return nil, err
	}
	return c.buf[:n], nil
}

func (c *fullConn) RemoteAddr() string { return "unix://" + c.remote }

// ---- listener ----

type listener struct {
	addr    string
	maxSize int

	mu     sync.Mutex
	pc     net.PacketConn
	peers  map[string]*halfConn
	closed bool
}

func (l *listener) Address() string { return "unix://" + l.addr }

func (l *listener) Listen() error {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return errors.Wrap("listen", l.addr, err)
	}
	if !strings.HasPrefix(l.addr, "@") {
		unix.Unlink(l.addr)
	}
	sa, err := sockaddrFor(l.addr)
	if err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		if err == unix.EADDRINUSE {
			return errors.Wrap("listen", l.addr, errors.ErrAddrInUse)
		}
		return errors.Wrap("listen", l.addr, err)
	}
	f := os.NewFile(uintptr(fd), "unixgram-listen")
	pc, err := net.FilePacketConn(f)
	f.Close()
	if err != nil {
		return errors.Wrap("listen", l.addr, err)
	}
	l.pc = pc
	return nil
}

// Accept demultiplexes inbound datagrams by source address, returning a
// new Conn the first time a given peer is observed and silently routing
// subsequent datagrams from known peers into their existing inbound
// queue -- the same shape as the teacher's UDP half-pipe registry.
func (l *listener) Accept() (transport.Conn, error) {
	buf := make([]byte, l.maxSize)
	for {
		n, addr, err := l.pc.ReadFrom(buf)
		if err != nil {
			return nil, err
		}
		key := addr.String()

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, errors.ErrClosed
		}
		hc, known := l.peers[key]
		if !known {
			hc = &halfConn{
				pc:      l.pc,
				remote:  addr,
				inqueue: make(chan []byte, 64),
				onClose: func() {
					l.mu.Lock()
					delete(l.peers, key)
					l.mu.Unlock()
				},
			}
			l.peers[key] = hc
		}
		l.mu.Unlock()

		msg := append([]byte(nil), buf[:n]...)
		select {
		case hc.inqueue <- msg:
		default:
			// Peer's queue is full; drop rather than block the
			// shared accept loop for every other peer.
		}
		if !known {
			return hc, nil
		}
	}
}

func (l *listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	if !strings.HasPrefix(l.addr, "@") {
		defer unix.Unlink(l.addr)
	}
	return l.pc.Close()
}

// halfConn is a listener-side peer view: Send writes back to the
// address this peer's datagrams arrive from, Recv reads from a
// per-peer demultiplexed queue fed by the shared listening socket.
type halfConn struct {
	pc      net.PacketConn
	remote  net.Addr
	inqueue chan []byte
	onClose func()

	closeOnce sync.Once
}

func (c *halfConn) Send(b []byte) error {
	_, err := c.pc.WriteTo(b, c.remote)
	return err
}

func (c *halfConn) Recv() ([]byte, error) {
	b, ok := <-c.inqueue
	if !ok {
		return nil, errors.ErrClosed
	}
	return b, nil
}

func (c *halfConn) SetReadDeadline(t time.Time) error {
	// A listener-side peer has no deadline of its own; Recv blocks on
	// inqueue and returns ErrClosed once Close closes it.
	return nil
}

func (c *halfConn) RemoteAddr() string { return "unix://" + c.remote.String() }

func (c *halfConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.inqueue)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}
