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

// Package transport defines the contract a datagram transport driver
// must satisfy, and a process-wide registry of drivers keyed by scheme
// (spec section 4.1 and 6.1).
package transport

import (
	"context"
	"sync"
	"time"
)

// Conn is one established datagram conversation with a single remote
// peer.  Both the Unix datagram and UDP drivers produce a Conn per peer:
// a dialed Conn owns its own kernel socket, and a listener-side Conn is
// a demultiplexed view over the listener's shared socket, keyed by the
// remote address the datagrams arrived from.
type Conn interface {
	// Send writes one complete message as a single datagram. It must
	// not fragment or coalesce across calls.
	Send(b []byte) error

	// Recv blocks for the next datagram and returns its bytes. The
	// returned slice is only valid until the next call to Recv.
	Recv() ([]byte, error)

	// SetReadDeadline bounds how long Recv may block, so that a worker
	// pair's receiver loop can poll for shutdown (spec section 4.5).
	SetReadDeadline(t time.Time) error

	// RemoteAddr names the peer this Conn exchanges datagrams with.
	RemoteAddr() string

	Close() error
}

// Dialer creates a Conn by actively connecting to a remote listener.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
	Address() string
}

// Listener accepts inbound Conns, one per distinct remote peer that
// sends it a datagram.
type Listener interface {
	Listen() error
	Accept() (Conn, error)
	Address() string
	Close() error
}

// Driver is a transport implementation, registered under the scheme it
// serves ("unix", "ip").
type Driver interface {
	Scheme() string
	NewDialer(addr string, maxSize int) (Dialer, error)
	NewListener(addr string, maxSize int) (Listener, error)
}

var (
	mu      sync.RWMutex
	drivers = map[string]Driver{}
)

// Register makes a Driver available under its scheme to every socket in
// the process.  Registering under a scheme that is already taken
// replaces the previous driver, mirroring the teacher's
// transport.RegisterTransport.
func Register(d Driver) {
	mu.Lock()
	defer mu.Unlock()
	drivers[d.Scheme()] = d
}

// Lookup returns the Driver registered for scheme, if any.
func Lookup(scheme string) (Driver, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := drivers[scheme]
	return d, ok
}
