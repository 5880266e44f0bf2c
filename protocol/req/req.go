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

// Package req implements the REQ half of REQ/REP (spec section 4.6.1).
package req

import (
	"context"
	"sync"
	"time"

	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/internal/core"
)

// State is where the REQ engine sits; state is per-socket, not
// per-peer, since only one request may be outstanding at a time.
type State int

const (
	Idle State = iota
	AwaitingReply
)

// Socket is a REQ socket.
type Socket struct {
	*core.Socket

	mu      sync.Mutex
	cond    *sync.Cond
	state   State
	nextID  uint32
	curID   uint32
	pending *core.Message

	cursor     core.Cursor
	resendTime time.Duration
	resendSeq  uint64

	replies chan *core.Message
}

// New constructs a REQ socket. resendTime of zero disables automatic
// resend; the request is then only retried by an explicit second Send.
func New(opts core.Options, resendTime time.Duration) *Socket {
	s := &Socket{
		replies:    make(chan *core.Message, 64),
		resendTime: resendTime,
	}
	s.cond = sync.NewCond(&s.mu)
	base := core.NewSocket("req", opts, core.Hooks{})
	base.HeaderLen = 4
	base.Hooks.OnConn = base.FanIn(s.replies)
	s.Socket = base
	base.TG.Go(func() error {
		s.replyLoop()
		return nil
	})
	return s
}

func (s *Socket) replyLoop() {
	for {
		select {
		case m, ok := <-s.replies:
			if !ok {
				return
			}
			s.handleReply(m)
		case <-s.Context().Done():
			return
		}
	}
}

func (s *Socket) handleReply(m *core.Message) {
	id, ok := m.ID()
	s.mu.Lock()
	if !ok || s.state != AwaitingReply || id != s.curID {
		s.mu.Unlock()
		m.Release()
		return
	}
	s.pending = m
	s.state = Idle
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Send allocates a new request identifier, selects a peer round-robin
// over Connected peers, and enqueues the request. A Send while a prior
// request is AwaitingReply replaces it: the old identifier's eventual
// reply, if any, is discarded as stale.
func (s *Socket) Send(payload []byte) error {
	return s.SendWithDeadline(payload, time.Time{})
}

func (s *Socket) SendWithDeadline(payload []byte, deadline time.Time) error {
	if s.Closed() {
		return errors.ErrClosed
	}
	peer, err := s.pickPeer(deadline)
	if err != nil {
		return err
	}
	conn, ok := s.ConnFor(peer)
	if !ok {
		return errors.ErrNoPeer
	}

	s.mu.Lock()
	s.nextID = (s.nextID + 1) & 0x7fffffff
	id := s.nextID | 0x80000000
	s.curID = id
	s.state = AwaitingReply
	s.pending = nil
	seq := s.resendSeq + 1
	s.resendSeq = seq
	s.mu.Unlock()

	msg := core.NewMessage(s.Pool, len(payload))
	copy(msg.Body, payload)
	msg.SetID(id)

	ctx := s.Context()
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	if err := conn.EnqueueOutbound(ctx, msg); err != nil {
		return err
	}

	if s.resendTime > 0 {
		// msg now belongs to the sender task, which releases it, so the
		// resend keeps its own copy of the payload.
		s.scheduleResend(seq, id, append([]byte(nil), payload...), conn)
	}
	return nil
}

func (s *Socket) scheduleResend(seq uint64, id uint32, payload []byte, conn *core.Connection) {
	time.AfterFunc(s.resendTime, func() {
		s.mu.Lock()
		if s.resendSeq != seq || s.state != AwaitingReply || s.curID != id {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		msg := core.NewMessage(s.Pool, len(payload))
		copy(msg.Body, payload)
		msg.SetID(id)
		conn.EnqueueOutbound(s.Context(), msg)
		s.scheduleResend(seq, id, payload, conn)
	})
}

// pickPeer blocks until a Connected peer is available, deadline
// elapses, or the socket closes.
func (s *Socket) pickPeer(deadline time.Time) (*core.Peer, error) {
	for {
		peers := s.ConnectedPeers()
		if p := s.cursor.Next(peers); p != nil {
			return p, nil
		}
		if !s.HasDialers() {
			return nil, errors.ErrNoPeer
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, errors.ErrTimeout
		}
		select {
		case <-s.Context().Done():
			return nil, errors.ErrClosed
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// Recv blocks for the reply matching the outstanding request.
func (s *Socket) Recv() ([]byte, error) {
	return s.RecvWithDeadline(time.Time{})
}

func (s *Socket) RecvWithDeadline(deadline time.Time) ([]byte, error) {
	if !deadline.IsZero() {
		timer := time.AfterFunc(time.Until(deadline), func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		defer timer.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.state == AwaitingReply && s.pending == nil && !s.Closed() {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, errors.ErrTimeout
		}
		s.cond.Wait()
	}
	if s.Closed() && s.pending == nil {
		return nil, errors.ErrClosed
	}
	if s.pending == nil {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, errors.ErrTimeout
		}
		return nil, errors.ErrInvalidState
	}
	m := s.pending
	s.pending = nil
	body := append([]byte(nil), m.Body...)
	m.Release()
	return body, nil
}

// Close releases any blocked Recv with ErrClosed and stops the socket.
func (s *Socket) Close() error {
	err := s.Socket.Close()
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
	return err
}
