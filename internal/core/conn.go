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

package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/internal/log"
	"nanomsg.org/go/sp/transport"
)

// ConnID identifies one Connection within a ConnRegistry.
type ConnID uint64

// WorkerOptions configures the worker pair a Connection launches.
type WorkerOptions struct {
	Pool         *BufferPool
	MaxSize      int
	InboundSize  int
	OutboundSize int
	ReadDeadline time.Duration // default read-deadline poll interval, spec section 4.5
	DrainTimeout time.Duration // bound on sender's best-effort drain on shutdown
	Logger       log.Logger
	HeaderLen    int // fixed header size this pattern's wire format carries, 0 if none
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxMessageSize
	}
	if o.InboundSize <= 0 {
		o.InboundSize = 16
	}
	if o.OutboundSize <= 0 {
		o.OutboundSize = 16
	}
	if o.ReadDeadline <= 0 {
		o.ReadDeadline = 100 * time.Millisecond
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = time.Second
	}
	if o.Logger == nil {
		o.Logger = log.Default
	}
	if o.Pool == nil {
		o.Pool = DefaultPool
	}
	return o
}

// Connection binds one transport handle to an owning socket's worker
// pair: a receiver task feeding Inbound, and a sender task draining
// Outbound (spec section 3, 4.4, 4.5).
type Connection struct {
	ID   ConnID
	Peer *Peer

	// Active is true when this connection came from a successful Dial
	// rather than a Listen's Accept.
	Active bool

	Inbound  chan *Message
	Outbound chan *Message

	tc   transport.Conn
	opts WorkerOptions

	closed    int32
	done      chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	firstRecv bool

	recvErrors uint64
	sendErrors uint64
}

// announceProbe is an empty datagram the dialing side sends the instant
// its connection is registered, so that a listener whose pattern never
// speaks first (SURVEYOR, PUB, PUSH) still gets a Connection and Peer
// for a dial-side socket that may never send anything itself (RESPONDENT,
// SUB, PULL). Unix datagram and UDP carry no connection-establishment
// signal of their own -- the listener only learns of a remote address
// once a datagram physically arrives from it (spec section 6.1) -- so
// without this the listener's peer registry would simply never gain an
// entry for a silent dialer.
//
// A Connection discards its own first received datagram when it is
// empty, on both sides, so the probe never surfaces as an application
// message. This is indistinguishable from a genuine zero-length first
// message, an accepted tradeoff given how rarely a pattern's very first
// payload is empty.
var announceProbe = []byte{}

// Closed reports whether the connection has begun shutting down;
// further enqueue attempts must fail with ErrClosed.
func (c *Connection) Closed() bool {
	return atomic.LoadInt32(&c.closed) != 0
}

// EnqueueOutbound blocks until m is accepted onto the outbound queue,
// ctx is done, or the connection closes. It takes ownership of m
// either way: on any error return m has already been released, and
// the caller must not touch it again.
func (c *Connection) EnqueueOutbound(ctx context.Context, m *Message) error {
	if err := c.checkSize(m); err != nil {
		m.Release()
		return err
	}
	if c.Closed() {
		m.Release()
		return errors.ErrClosed
	}
	select {
	case c.Outbound <- m:
		return nil
	case <-c.done:
		m.Release()
		return errors.ErrClosed
	case <-ctx.Done():
		m.Release()
		return errors.ErrTimeout
	}
}

// TryEnqueueOutbound attempts a non-blocking enqueue, for the
// best-effort broadcast patterns (PUB, BUS, SURVEYOR) where a full
// queue means this one peer drops the message rather than the caller
// blocking. It takes ownership of m either way.
func (c *Connection) TryEnqueueOutbound(m *Message) bool {
	if err := c.checkSize(m); err != nil {
		m.Release()
		return false
	}
	if c.Closed() {
		m.Release()
		return false
	}
	select {
	case c.Outbound <- m:
		return true
	default:
		m.Release()
		return false
	}
}

// checkSize enforces Options.MaxMessageSize on the wire-encoded form of
// m (header plus body), the same bytes a peer will decode on the other
// end.
func (c *Connection) checkSize(m *Message) error {
	if len(m.Header)+len(m.Body) > c.opts.MaxSize {
		return errors.ErrMessageTooLarge
	}
	return nil
}

// RecvErrors and SendErrors report the connection's permanent-error
// counters (spec section 4.5).
func (c *Connection) RecvErrors() uint64 { return atomic.LoadUint64(&c.recvErrors) }
func (c *Connection) SendErrors() uint64 { return atomic.LoadUint64(&c.sendErrors) }

// Done returns a channel closed once the connection has fully stopped.
func (c *Connection) Done() <-chan struct{} { return c.done }

// stop cancels the shared signal and closes the transport, then waits
// for both tasks to exit. Idempotent.
//
// The transport must close before the wait: the receiver task may be
// blocked inside tc.Recv() (a listener-side half-connection has no
// real read deadline of its own, see transport/unixgram and
// transport/udp), and only closing tc unblocks it. Waiting on wg
// first would deadlock.
func (c *Connection) stop() {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}
	c.cancel()
	c.tc.Close()
	c.wg.Wait()
	close(c.done)
}

func (c *Connection) runReceiver(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.tc.SetReadDeadline(time.Now().Add(c.opts.ReadDeadline))
		raw, err := c.tc.Recv()
		if err != nil {
			if errors.Timeout(err) {
				continue
			}
			if err == errors.ErrClosed {
				return
			}
			if errors.Temporary(err) {
				continue
			}
			atomic.AddUint64(&c.recvErrors, 1)
			c.opts.Logger.Warnf("connection %d: recv error: %v", c.ID, err)
			continue
		}
		first := !c.firstRecv
		c.firstRecv = true
		if first && len(raw) == 0 {
			c.Peer.Touch()
			continue
		}
		var hdr, body []byte
		if c.opts.HeaderLen > 0 {
			var err error
			hdr, body, err = SplitHeader(raw, c.opts.HeaderLen)
			if err != nil {
				atomic.AddUint64(&c.recvErrors, 1)
				c.opts.Logger.Warnf("connection %d: garbled header: %v", c.ID, err)
				continue
			}
		} else {
			body = raw
		}
		msg := NewMessage(c.opts.Pool, len(body))
		copy(msg.Body, body)
		if len(hdr) > 0 {
			msg.Header = append([]byte(nil), hdr...)
		}
		msg.Peer = c.Peer.ID
		c.Peer.Touch()
		select {
		case c.Inbound <- msg:
		case <-ctx.Done():
			msg.Release()
			return
		}
	}
}

func (c *Connection) runSender(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case m := <-c.Outbound:
			c.send(m)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Connection) send(m *Message) {
	defer m.Release()
	if err := c.tc.Send(m.WireBytes()); err != nil {
		atomic.AddUint64(&c.sendErrors, 1)
		c.opts.Logger.Warnf("connection %d: send error: %v", c.ID, err)
	}
}

// drain makes a best-effort attempt to flush whatever is already
// sitting in the outbound queue before the sender task exits, bounded
// by DrainTimeout; messages not yet enqueued are not waited for (spec
// section 4.5).
func (c *Connection) drain() {
	deadline := time.After(c.opts.DrainTimeout)
	for {
		select {
		case m := <-c.Outbound:
			c.send(m)
		case <-deadline:
			return
		default:
			return
		}
	}
}

// ConnRegistry maps connection identifiers to Connections, supporting a
// per-socket CloseAll (spec section 4.4).
type ConnRegistry struct {
	mu     sync.Mutex
	conns  map[ConnID]*Connection
	nextID uint64
	tg     *TaskGroup

	// OnUnregister, if set, is called after a connection's worker pair
	// has fully stopped but before it is removed from this registry.
	OnUnregister func(*Connection)
}

// NewConnRegistry returns an empty registry whose worker-pair tasks are
// launched through tg.
func NewConnRegistry(tg *TaskGroup) *ConnRegistry {
	return &ConnRegistry{conns: make(map[ConnID]*Connection), tg: tg}
}

// Register creates a worker pair over tc, launches its receiver and
// sender tasks via the registry's task group, and returns the new
// Connection. ctx governs both tasks' lifetime in addition to the
// connection's own Close. When active is true (the connection came from
// a successful Dial rather than Listen's Accept), Register fires the
// connection-announce probe so a listener on the far side learns of
// this peer even if it never sends anything of its own.
func (r *ConnRegistry) Register(ctx context.Context, tc transport.Conn, peer *Peer, opts WorkerOptions, active bool) *Connection {
	opts = opts.withDefaults()
	cctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.nextID++
	id := ConnID(r.nextID)
	r.mu.Unlock()

	c := &Connection{
		ID:       id,
		Peer:     peer,
		Active:   active,
		Inbound:  make(chan *Message, opts.InboundSize),
		Outbound: make(chan *Message, opts.OutboundSize),
		tc:       tc,
		opts:     opts,
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	c.wg.Add(2)

	r.mu.Lock()
	r.conns[id] = c
	r.mu.Unlock()

	r.tg.Go(func() error {
		c.runReceiver(cctx)
		return nil
	})
	r.tg.Go(func() error {
		c.runSender(cctx)
		return nil
	})

	// When the outer context is cancelled (socket Close), stop this
	// connection too, so CloseAll need not be called separately.
	r.tg.Go(func() error {
		<-cctx.Done()
		r.Unregister(id)
		return nil
	})

	if active {
		// Sent synchronously, before this function returns and any
		// engine-level hook gets a chance to send its own first
		// message (PAIR's hello in particular), so the probe is
		// always first on the wire and never races with it.
		if err := tc.Send(announceProbe); err != nil {
			atomic.AddUint64(&c.sendErrors, 1)
		}
	}

	return c
}

// Unregister stops id's worker pair and removes its entry. Idempotent.
func (r *ConnRegistry) Unregister(id ConnID) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	if ok {
		c.stop()
		if r.OnUnregister != nil {
			r.OnUnregister(c)
		}
	}
}

// Get returns the connection registered under id, if any.
func (r *ConnRegistry) Get(id ConnID) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

// All returns a snapshot of every registered connection.
func (r *ConnRegistry) All() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Count reports the number of live connections.
func (r *ConnRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll stops and removes every connection. Idempotent.
func (r *ConnRegistry) CloseAll() {
	for _, c := range r.All() {
		r.Unregister(c.ID)
	}
}
