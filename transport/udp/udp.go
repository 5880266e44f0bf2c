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

// Package udp implements the "ip" scheme driver: UDP datagrams for
// inter-host delivery (spec section 6.1). Payloads are capped at the
// IPv4 UDP hard ceiling of 65507 bytes; there is no SP connection
// handshake on the wire, only the header+body bytes a protocol engine
// supplies.
package udp

import (
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/transport"
)

// Scheme is the address scheme this driver serves.
const Scheme = "ip"

// MaxDatagram is the hard ceiling for a single UDP datagram payload
// (65535 - 20 IP header - 8 UDP header), independent of any
// application-configured max-message-size.
const MaxDatagram = 65507

func init() {
	transport.Register(driver{})
}

type driver struct{}

func (driver) Scheme() string { return Scheme }

func (driver) NewDialer(addr string, maxSize int) (transport.Dialer, error) {
	if maxSize <= 0 || maxSize > MaxDatagram {
		maxSize = MaxDatagram
	}
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap("dial", addr, errors.ErrInvalidAddress)
	}
	return &dialer{addr: addr, resolved: a, maxSize: maxSize}, nil
}

func (driver) NewListener(addr string, maxSize int) (transport.Listener, error) {
	if maxSize <= 0 || maxSize > MaxDatagram {
		maxSize = MaxDatagram
	}
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap("listen", addr, errors.ErrInvalidAddress)
	}
	return &listener{addr: addr, resolved: a, maxSize: maxSize, peers: make(map[string]*halfConn)}, nil
}

// ---- dialer ----

type dialer struct {
	addr     string
	resolved *net.UDPAddr
	maxSize  int
}

func (d *dialer) Address() string { return "ip://" + d.addr }

func (d *dialer) Dial(ctx context.Context) (transport.Conn, error) {
	conn, err := net.DialUDP("udp", nil, d.resolved)
	if err != nil {
		return nil, errors.Wrap("dial", d.addr, err)
	}
	return &fullConn{UDPConn: conn, remote: d.addr, buf: make([]byte, d.maxSize)}, nil
}

type fullConn struct {
	*net.UDPConn
	remote string
	buf    []byte
}

func (c *fullConn) Send(b []byte) error {
	if len(b) > MaxDatagram {
		return errors.ErrMessageTooLarge
	}
	_, err := c.UDPConn.Write(b)
	return err
}

func (c *fullConn) Recv() ([]byte, error) {
	n, err := c.UDPConn.Read(c.buf)
	if err != nil {
		return nil, err
	}
	return c.buf[:n], nil
}

func (c *fullConn) RemoteAddr() string { return "ip://" + c.remote }

// ---- listener ----

type listener struct {
	addr     string
	resolved *net.UDPAddr
	maxSize  int

	mu     sync.Mutex
	conn   *net.UDPConn
	peers  map[string]*halfConn
	closed bool
}

func (l *listener) Address() string { return "ip://" + l.addr }

// Listen sets SO_REUSEADDR before binding so that a socket can rebind
// promptly after Close, matching the convention of long-lived daemons
// that may be restarted while old sockets linger in TIME_WAIT-adjacent
// states.
func (l *listener) Listen() error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			_ = c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			return nil
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp", l.resolved.String())
	if err != nil {
		return errors.Wrap("listen", l.addr, err)
	}
	l.conn = pc.(*net.UDPConn)
	return nil
}

func (l *listener) Accept() (transport.Conn, error) {
	buf := make([]byte, l.maxSize)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
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
				conn:    l.conn,
				remote:  &net.UDPAddr{IP: addr.IP, Port: addr.Port, Zone: addr.Zone},
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
	return l.conn.Close()
}

// halfConn is a listener-side peer view over the shared listening
// socket, demultiplexed by source address -- directly grounded on the
// teacher's udpHalfPipe/halfPipePeers design.
type halfConn struct {
	conn    *net.UDPConn
	remote  *net.UDPAddr
	inqueue chan []byte
	onClose func()

	closeOnce sync.Once
}

func (c *halfConn) Send(b []byte) error {
	if len(b) > MaxDatagram {
		return errors.ErrMessageTooLarge
	}
	_, err := c.conn.WriteToUDP(b, c.remote)
	return err
}

func (c *halfConn) Recv() ([]byte, error) {
	b, ok := <-c.inqueue
	if !ok {
		return nil, errors.ErrClosed
	}
	return b, nil
}

func (c *halfConn) SetReadDeadline(t time.Time) error { return nil }

func (c *halfConn) RemoteAddr() string { return "ip://" + c.remote.String() }

func (c *halfConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.inqueue)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}
