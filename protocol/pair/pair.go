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

// Package pair implements PAIR (spec section 4.6.6): exactly one peer
// connection is permitted at a time.
//
// Unix datagram and UDP connect without any OS-level handshake, so a
// second peer's Dial would otherwise succeed locally with no way to
// learn the far side already has a partner. PAIR makes this visible by
// running a tiny two-byte control exchange (hello/ack/busy) over the
// transport connection as soon as it is established, on both the
// accepting and the dialing side.
package pair

import (
	"context"
	"sync"
	"time"

	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/internal/core"
)

// Control datagrams are two bytes, a magic byte no ordinary first byte
// of an application payload is likely to begin with followed by the
// control type, rather than one bare type byte -- a real one-byte
// payload of value 1, 2, or 3 would otherwise be indistinguishable
// from ctrlHello/ctrlAck/ctrlBusy. This only narrows the collision to
// a specific two-byte payload instead of eliminating it outright, the
// same accepted tradeoff the connection-announce probe makes for a
// genuine zero-length first message (see DESIGN.md).
const ctrlMagic byte = 0xf7

const (
	ctrlHello byte = 1
	ctrlAck   byte = 2
	ctrlBusy  byte = 3
)

// Socket is a PAIR socket: at most one Connection is ever live.
type Socket struct {
	*core.Socket

	mu        sync.Mutex
	cond      *sync.Cond
	conn      *core.Connection
	paired    bool
	handshake chan error // signaled once by the dialer's handshake outcome

	inbound chan *core.Message
}

func New(opts core.Options) *Socket {
	s := &Socket{
		inbound:   make(chan *core.Message, 16),
		handshake: make(chan error, 1),
	}
	s.cond = sync.NewCond(&s.mu)
	hooks := core.Hooks{}
	base := core.NewSocket("pair", opts, hooks)
	base.Hooks.OnConn = s.onConn
	base.Hooks.OnConnClosed = s.onConnClosed
	s.Socket = base
	return s
}

func (s *Socket) onConn(c *core.Connection) {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		c.TryEnqueueOutbound(controlMessage(s.Pool, ctrlBusy))
		time.AfterFunc(50*time.Millisecond, func() { s.Conns.Unregister(c.ID) })
		return
	}
	s.conn = c
	s.mu.Unlock()

	c.TryEnqueueOutbound(controlMessage(s.Pool, ctrlHello))

	s.TG.Go(func() error {
		s.readLoop(c)
		return nil
	})
}

func (s *Socket) onConnClosed(c *core.Connection) {
	s.mu.Lock()
	if s.conn == c {
		s.conn = nil
		s.paired = false
		select {
		case s.handshake <- errors.ErrNotConnected:
		default:
		}
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Socket) readLoop(c *core.Connection) {
	for {
		select {
		case m, ok := <-c.Inbound:
			if !ok {
				return
			}
			if ctrl, ok := isControl(m.Body); ok {
				s.handleControl(c, ctrl)
				m.Release()
				continue
			}
			select {
			case s.inbound <- m:
			case <-c.Done():
				m.Release()
				return
			case <-s.Context().Done():
				m.Release()
				return
			}
		case <-c.Done():
			return
		case <-s.Context().Done():
			return
		}
	}
}

// controlMessage builds a two-byte control datagram: a magic byte
// followed by the control type.
func controlMessage(pool *core.BufferPool, ctrl byte) *core.Message {
	m := core.NewMessage(pool, 2)
	m.Body[0] = ctrlMagic
	m.Body[1] = ctrl
	return m
}

// isControl reports whether body is a control datagram, returning its
// type.
func isControl(body []byte) (byte, bool) {
	if len(body) != 2 || body[0] != ctrlMagic {
		return 0, false
	}
	switch body[1] {
	case ctrlHello, ctrlAck, ctrlBusy:
		return body[1], true
	default:
		return 0, false
	}
}

func (s *Socket) handleControl(c *core.Connection, ctrl byte) {
	switch ctrl {
	case ctrlHello:
		c.TryEnqueueOutbound(controlMessage(s.Pool, ctrlAck))
		s.markPaired()
	case ctrlAck:
		s.markPaired()
	case ctrlBusy:
		s.mu.Lock()
		select {
		case s.handshake <- errors.ErrBusy:
		default:
		}
		s.mu.Unlock()
	}
}

func (s *Socket) markPaired() {
	s.mu.Lock()
	s.paired = true
	select {
	case s.handshake <- nil:
	default:
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// DialPaired dials addr and blocks until the hello/ack handshake
// completes, returning ErrBusy if the far side already has a peer.
// Plain DialAndWait, promoted from the embedded core.Socket, only
// confirms the transport-level connect and does not wait on the
// handshake.
func (s *Socket) DialPaired(addr string, timeout time.Duration) error {
	if err := s.Socket.Dial(addr); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case err := <-s.handshake:
		return err
	case <-time.After(timeout):
		return errors.ErrTimeout
	case <-s.Context().Done():
		return errors.ErrClosed
	}
}

// Send delivers payload to the single paired peer, failing with
// ErrNotConnected if there is none.
func (s *Socket) Send(payload []byte) error {
	return s.SendWithDeadline(payload, time.Time{})
}

func (s *Socket) SendWithDeadline(payload []byte, deadline time.Time) error {
	if s.Closed() {
		return errors.ErrClosed
	}
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return errors.ErrNotConnected
	}
	msg := core.NewMessage(s.Pool, len(payload))
	copy(msg.Body, payload)
	ctx := s.Context()
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	return c.EnqueueOutbound(ctx, msg)
}

// Recv returns the next payload from the paired peer, failing with
// ErrNotConnected if no peer is connected and no payload is buffered.
func (s *Socket) Recv() ([]byte, error) {
	return s.RecvWithDeadline(time.Time{})
}

func (s *Socket) RecvWithDeadline(deadline time.Time) ([]byte, error) {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil && len(s.inbound) == 0 {
		if s.Closed() {
			return nil, errors.ErrClosed
		}
		return nil, errors.ErrNotConnected
	}
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timeout = t.C
	}
	select {
	case m, ok := <-s.inbound:
		if !ok {
			return nil, errors.ErrClosed
		}
		body := append([]byte(nil), m.Body...)
		m.Release()
		return body, nil
	case <-timeout:
		return nil, errors.ErrTimeout
	case <-s.Context().Done():
		return nil, errors.ErrClosed
	}
}
