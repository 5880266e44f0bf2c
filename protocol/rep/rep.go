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

// Package rep implements the REP half of REQ/REP (spec section 4.6.1).
package rep

import (
	"context"
	"sync"
	"time"

	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/internal/core"
)

type State int

const (
	Idle State = iota
	HaveRequest
)

// Socket is a REP socket.
type Socket struct {
	*core.Socket

	mu        sync.Mutex
	state     State
	backtrace []byte
	srcPeer   *core.Peer

	requests chan *core.Message
}

func New(opts core.Options) *Socket {
	s := &Socket{requests: make(chan *core.Message, 64)}
	base := core.NewSocket("rep", opts, core.Hooks{})
	base.HeaderLen = 4
	base.Hooks.OnConn = base.FanIn(s.requests)
	s.Socket = base
	return s
}

// Recv returns the next request's payload, capturing its backtrace and
// source peer for the matching Send.
func (s *Socket) Recv() ([]byte, error) {
	return s.RecvWithDeadline(time.Time{})
}

func (s *Socket) RecvWithDeadline(deadline time.Time) ([]byte, error) {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timeout = t.C
	}
	select {
	case m, ok := <-s.requests:
		if !ok {
			return nil, errors.ErrClosed
		}
		backtrace := m.Backtrace()
		peer, _ := s.Peers.Get(m.Peer)
		s.mu.Lock()
		s.backtrace = backtrace
		s.srcPeer = peer
		s.state = HaveRequest
		s.mu.Unlock()
		body := append([]byte(nil), m.Body...)
		m.Release()
		return body, nil
	case <-timeout:
		return nil, errors.ErrTimeout
	case <-s.Context().Done():
		return nil, errors.ErrClosed
	}
}

// Send attaches the stored backtrace to payload and routes it to the
// peer that sent the outstanding request.
func (s *Socket) Send(payload []byte) error {
	return s.SendWithDeadline(payload, time.Time{})
}

func (s *Socket) SendWithDeadline(payload []byte, deadline time.Time) error {
	if s.Closed() {
		return errors.ErrClosed
	}
	s.mu.Lock()
	if s.state != HaveRequest {
		s.mu.Unlock()
		return errors.ErrInvalidState
	}
	backtrace := s.backtrace
	peer := s.srcPeer
	s.state = Idle
	s.backtrace = nil
	s.srcPeer = nil
	s.mu.Unlock()

	conn, ok := s.ConnFor(peer)
	if !ok {
		// The peer disconnected before the reply could be sent; the
		// reply is dropped and the engine has already returned to Idle.
		return nil
	}

	msg := core.NewMessage(s.Pool, len(payload))
	copy(msg.Body, payload)
	msg.SetBacktrace(backtrace)

	ctx := s.Context()
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	return conn.EnqueueOutbound(ctx, msg)
}
