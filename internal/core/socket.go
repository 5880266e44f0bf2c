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
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/internal/log"
	"nanomsg.org/go/sp/transport"
)

// Options is the tunable surface every pattern's socket shares (spec
// section 4.7's option table).
type Options struct {
	SendTimeout    time.Duration
	RecvTimeout    time.Duration
	DialTimeout    time.Duration
	SendQueueSize  int
	RecvQueueSize  int
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	MaxMessageSize int
	Logger         log.Logger

	// MaxPeers caps the number of simultaneously accepted inbound
	// connections; Accept beyond it is refused until one disconnects.
	// Zero (the default) leaves accepted connections unbounded. It has
	// no effect on Dial, which a caller controls directly.
	MaxPeers int
}

// DefaultOptions returns the option set new sockets start with.
func DefaultOptions() Options {
	return Options{
		DialTimeout:    10 * time.Second,
		SendQueueSize:  16,
		RecvQueueSize:  16,
		ReconnectMin:   100 * time.Millisecond,
		ReconnectMax:   10 * time.Second,
		MaxMessageSize: DefaultMaxMessageSize,
		Logger:         log.Default,
	}
}

// PortAction says whether a port hook call reports a connection's
// arrival or its departure (spec section 4.7's supplemented port-event
// surface, grounded on the teacher's PortHook/PortAction).
type PortAction int

const (
	PortAdded PortAction = iota
	PortRemoved
)

// PortHook is an application-supplied function notified when a
// connection attaches or detaches. Unlike Hooks.Admit it is purely
// observational: its return value, if any, is ignored, and it never
// gates the connection.
type PortHook func(action PortAction, peer PeerID, addr string)

// Hooks lets a protocol engine observe and gate connection lifecycle
// events on the socket it sits atop, without the core depending on any
// particular engine.
type Hooks struct {
	// Admit is consulted for every inbound connection before a Peer or
	// Connection is created for it; returning false refuses the
	// connection at the listener, matching PAIR's ErrBusy rule. A nil
	// Admit always accepts.
	Admit func(addr string) bool

	// OnConn is called once a Connection is registered, whether from
	// an accepted inbound connection or a successful dial.
	OnConn func(*Connection)

	// OnConnClosed is called after a Connection's worker pair has
	// fully stopped, so engines can drop per-peer state.
	OnConnClosed func(*Connection)
}

// Socket is the pattern-agnostic half of the socket facade: lifecycle,
// listener/dialers, registries, and the task group every child task is
// tracked through (spec section 4.7, 5). A protocol engine embeds this
// and adds its own Send/Recv semantics on top.
type Socket struct {
	Pattern string
	Peers   *PeerRegistry
	Conns   *ConnRegistry
	TG      *TaskGroup
	Pool    *BufferPool
	Opts    Options
	Hooks   Hooks

	// HeaderLen is the fixed header size, in bytes, this pattern's wire
	// format carries (4 for REQ/REP and SURVEYOR/RESPONDENT's
	// correlation word, 0 for every zero-header pattern). Set by the
	// protocol engine's constructor before the first Listen/Dial; the
	// worker pair uses it to split a received datagram back into
	// Header and Body (spec section 6.3).
	HeaderLen int

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	listener     transport.Listener
	listenerAddr string
	dialers      map[string]context.CancelFunc
	portHook     PortHook
	admitSem     *semaphore.Weighted

	closed int32
}

// NewSocket constructs the shared socket state for pattern.
func NewSocket(pattern string, opts Options, hooks Hooks) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewBufferPool(opts.MaxMessageSize, 64)
	tg := NewTaskGroup()
	conns := NewConnRegistry(tg)
	sock := &Socket{
		Pattern: pattern,
		Peers:   NewPeerRegistry(),
		Conns:   conns,
		TG:      tg,
		Pool:    pool,
		Opts:    opts,
		Hooks:   hooks,
		ctx:     ctx,
		cancel:  cancel,
		dialers: make(map[string]context.CancelFunc),
	}
	if opts.MaxPeers > 0 {
		sock.admitSem = semaphore.NewWeighted(int64(opts.MaxPeers))
	}
	conns.OnUnregister = func(c *Connection) {
		sock.Peers.Remove(c.Peer.ID)
		if sock.Hooks.OnConnClosed != nil {
			sock.Hooks.OnConnClosed(c)
		}
		if sock.admitSem != nil && !c.Active {
			sock.admitSem.Release(1)
		}
		sock.mu.Lock()
		hook := sock.portHook
		sock.mu.Unlock()
		if hook != nil {
			hook(PortRemoved, c.Peer.ID, c.Peer.Addr)
		}
	}
	return sock
}

// SetPortHook installs hook to be called whenever a connection attaches
// or detaches, returning whatever hook was previously installed (nil if
// none). Pass nil to remove it.
func (s *Socket) SetPortHook(hook PortHook) PortHook {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.portHook
	s.portHook = hook
	return old
}

// Context is the socket's root cancellation signal; it fires exactly
// once, on Close.
func (s *Socket) Context() context.Context { return s.ctx }

func (s *Socket) Closed() bool { return atomic.LoadInt32(&s.closed) != 0 }

func (s *Socket) workerOptions() WorkerOptions {
	return WorkerOptions{
		Pool:         s.Pool,
		MaxSize:      s.Opts.MaxMessageSize,
		InboundSize:  s.Opts.RecvQueueSize,
		OutboundSize: s.Opts.SendQueueSize,
		Logger:       s.Opts.Logger,
		HeaderLen:    s.HeaderLen,
	}
}

// Listen creates one listener on the driver named by addr's scheme and
// starts its accept loop as a tracked task. Only one listener per
// socket is permitted.
func (s *Socket) Listen(addr string) error {
	if s.Closed() {
		return errors.ErrClosed
	}
	a, err := ParseAddr(addr)
	if err != nil {
		return err
	}
	drv, ok := transport.Lookup(a.Scheme)
	if !ok {
		return errors.Wrap("listen", addr, errors.ErrInvalidAddress)
	}

	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.ErrAlreadyListening
	}
	l, err := drv.NewListener(a.Path, s.Opts.MaxMessageSize)
	if err != nil {
		s.mu.Unlock()
		return errors.Wrap("listen", addr, err)
	}
	if err := l.Listen(); err != nil {
		s.mu.Unlock()
		return errors.Wrap("listen", addr, err)
	}
	s.listener = l
	s.listenerAddr = addr
	s.mu.Unlock()

	s.TG.Go(func() error {
		s.acceptLoop(l)
		return nil
	})
	return nil
}

func (s *Socket) acceptLoop(l transport.Listener) {
	for {
		tc, err := l.Accept()
		if err != nil {
			if err == errors.ErrClosed || s.Closed() {
				return
			}
			s.Opts.Logger.Warnf("%s: accept error: %v", s.Pattern, err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		addr := tc.RemoteAddr()
		if s.Hooks.Admit != nil && !s.Hooks.Admit(addr) {
			tc.Close()
			continue
		}
		if s.admitSem != nil && !s.admitSem.TryAcquire(1) {
			tc.Close()
			continue
		}
		s.addConn(tc, addr, false)
	}
}

func (s *Socket) addConn(tc transport.Conn, addr string, active bool) *Connection {
	peer := s.Peers.Add(addr)
	peer.SetState(Connected)
	conn := s.Conns.Register(s.ctx, tc, peer, s.workerOptions(), active)
	if s.Hooks.OnConn != nil {
		s.Hooks.OnConn(conn)
	}
	s.mu.Lock()
	hook := s.portHook
	s.mu.Unlock()
	if hook != nil {
		hook(PortAdded, peer.ID, addr)
	}
	return conn
}

// Dial launches a non-blocking dial loop: connect, register on
// success, or back off exponentially with jitter and retry (spec
// section 4.7, grounded on the teacher's impl/dialer.go).
func (s *Socket) Dial(addr string) error {
	return s.dial(addr, nil)
}

// DialAndWait blocks until the first successful connection or a
// terminal dial error.
func (s *Socket) DialAndWait(addr string) error {
	result := make(chan error, 1)
	if err := s.dial(addr, result); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-s.ctx.Done():
		return errors.ErrClosed
	}
}

// DialContext is DialAndWait's context-cancellable variant.
func (s *Socket) DialContext(ctx context.Context, addr string) error {
	result := make(chan error, 1)
	if err := s.dial(addr, result); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-s.ctx.Done():
		return errors.ErrClosed
	case <-ctx.Done():
		return errors.ErrTimeout
	}
}

func (s *Socket) dial(addr string, result chan<- error) error {
	if s.Closed() {
		return errors.ErrClosed
	}
	a, err := ParseAddr(addr)
	if err != nil {
		return err
	}
	drv, ok := transport.Lookup(a.Scheme)
	if !ok {
		return errors.Wrap("dial", addr, errors.ErrInvalidAddress)
	}
	d, err := drv.NewDialer(a.Path, s.Opts.MaxMessageSize)
	if err != nil {
		return errors.Wrap("dial", addr, err)
	}

	dctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	if prev, ok := s.dialers[addr]; ok {
		prev()
	}
	s.dialers[addr] = cancel
	s.mu.Unlock()

	s.TG.Go(func() error {
		s.dialLoop(dctx, d, addr, result)
		return nil
	})
	return nil
}

func (s *Socket) dialLoop(ctx context.Context, d transport.Dialer, addr string, result chan<- error) {
	backoff := s.Opts.ReconnectMin
	first := true
	for {
		actx := ctx
		var cancel context.CancelFunc
		if s.Opts.DialTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, s.Opts.DialTimeout)
		}
		tc, err := d.Dial(actx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			s.addConn(tc, addr, true)
			// This dial is finished: drop its entry so HasDialers only
			// counts dial loops still running. A newer Dial of the same
			// addr cancels ctx first, so its entry is left alone.
			s.mu.Lock()
			if ctx.Err() == nil {
				if stop, ok := s.dialers[addr]; ok {
					delete(s.dialers, addr)
					stop()
				}
			}
			s.mu.Unlock()
			if first && result != nil {
				result <- nil
			}
			return
		}
		if first && result != nil {
			// DialAndWait only surfaces the very first failure;
			// thereafter the dialer retries silently in the
			// background, per spec section 4.7.
			result <- errors.Wrap("dial", addr, errors.ErrConnRefused)
			result = nil
		}
		first = false

		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(backoff)):
		}
		backoff *= 2
		if backoff > s.Opts.ReconnectMax {
			backoff = s.Opts.ReconnectMax
		}
	}
}

// jitter returns d scaled by a random factor in [1.1, 1.5), grounded on
// the teacher's impl/dialer.go backoff jitter.
func jitter(d time.Duration) time.Duration {
	const minFact, maxFact = 1.1, 1.5
	fact := rand.Float64()*(maxFact-minFact) + minFact
	return time.Duration(float64(d) * fact)
}

// Close transitions the socket to closed exactly once: it cancels the
// root signal, closes the listener, closes every connection, and waits
// for every tracked task to exit.
func (s *Socket) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.cancel()

	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.Close()
	}

	s.Conns.CloseAll()
	s.TG.Wait()
	return nil
}

// SocketStats is a snapshot of a socket's buffer pool counters plus the
// sum of every live connection's permanent-error counters (spec
// section 3's per-peer counters and section 4.5's monotonic error
// counters, surfaced at the socket level).
type SocketStats struct {
	Pool       PoolStats
	RecvErrors uint64
	SendErrors uint64
	Peers      int
}

// Stats reports the socket's buffer pool counters and the current
// total of every connected peer's receive/send error counts.
func (s *Socket) Stats() SocketStats {
	stats := SocketStats{Pool: s.Pool.Stats(), Peers: s.Peers.Count()}
	for _, c := range s.Conns.All() {
		stats.RecvErrors += c.RecvErrors()
		stats.SendErrors += c.SendErrors()
	}
	return stats
}

// HasDialers reports whether at least one dial loop is currently
// tracked, used by engines that block waiting for a peer rather than
// failing immediately when none is connected yet.
func (s *Socket) HasDialers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dialers) > 0
}

// FanIn returns an OnConn-compatible hook that forwards every inbound
// message arriving on any connection into a single shared channel --
// the common case for engines that don't care which peer a message
// came from (PULL, BUS, REP, RESPONDENT, SUB's pre-filter stage).
func (s *Socket) FanIn(out chan *Message) func(*Connection) {
	return func(c *Connection) {
		s.TG.Go(func() error {
			for {
				select {
				case m, ok := <-c.Inbound:
					if !ok {
						return nil
					}
					select {
					case out <- m:
					case <-s.ctx.Done():
						m.Release()
						return nil
					}
				case <-c.Done():
					return nil
				case <-s.ctx.Done():
					return nil
				}
			}
		})
	}
}

// ConnectedPeers returns a snapshot of every peer currently in the
// Connected state.
func (s *Socket) ConnectedPeers() []*Peer {
	all := s.Peers.All()
	out := make([]*Peer, 0, len(all))
	for _, p := range all {
		if p.State() == Connected {
			out = append(out, p)
		}
	}
	return out
}

// ConnFor returns the Connection backing peer, if it still has one.
func (s *Socket) ConnFor(peer *Peer) (*Connection, bool) {
	for _, c := range s.Conns.All() {
		if c.Peer.ID == peer.ID {
			return c, true
		}
	}
	return nil, false
}
