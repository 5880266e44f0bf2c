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

// Package respondent implements the RESPONDENT half of
// SURVEYOR/RESPONDENT (spec section 4.6.4).
package respondent

import (
	"sync"
	"time"

	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/internal/core"
)

type State int

const (
	Idle State = iota
	HaveSurvey
)

// Socket is a RESPONDENT socket. A new survey arriving while one is
// already recorded overwrites it: the prior survey's id is silently
// forgotten and a reply to it is then impossible.
type Socket struct {
	*core.Socket

	mu        sync.Mutex
	state     State
	backtrace []byte
	srcPeer   *core.Peer

	surveys chan *core.Message
}

func New(opts core.Options) *Socket {
	s := &Socket{surveys: make(chan *core.Message, 64)}
	base := core.NewSocket("respondent", opts, core.Hooks{})
	base.HeaderLen = 4
	base.Hooks.OnConn = base.FanIn(s.surveys)
	s.Socket = base
	return s
}

// Recv returns the next survey's payload, recording its backtrace and
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
	case m, ok := <-s.surveys:
		if !ok {
			return nil, errors.ErrClosed
		}
		backtrace := m.Backtrace()
		peer, _ := s.Peers.Get(m.Peer)
		s.mu.Lock()
		s.backtrace = backtrace
		s.srcPeer = peer
		s.state = HaveSurvey
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

// Send attaches the recorded survey backtrace to payload and routes it
// to the surveyor that issued it.
func (s *Socket) Send(payload []byte) error {
	if s.Closed() {
		return errors.ErrClosed
	}
	s.mu.Lock()
	if s.state != HaveSurvey {
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
		// The surveyor disconnected before the response could be sent.
		return nil
	}

	msg := core.NewMessage(s.Pool, len(payload))
	copy(msg.Body, payload)
	msg.SetBacktrace(backtrace)
	return conn.EnqueueOutbound(s.Context(), msg)
}
