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

// Package surveyor implements the SURVEYOR half of SURVEYOR/RESPONDENT
// (spec section 4.6.4).
package surveyor

import (
	"sync"
	"time"

	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/internal/core"
)

type State int

const (
	Idle State = iota
	Surveying
)

// Socket is a SURVEYOR socket. State is per-socket: a survey in
// progress is replaced, not queued, by a second Send.
type Socket struct {
	*core.Socket

	mu      sync.Mutex
	cond    *sync.Cond
	state   State
	curID   uint32
	nextID  uint32
	seq     uint64
	expired bool
	queue   []*core.Message
	timer   *time.Timer

	deadline time.Duration
	replies  chan *core.Message
}

// New constructs a SURVEYOR socket. deadline bounds how long each
// survey stays open for responses once Send returns.
func New(opts core.Options, deadline time.Duration) *Socket {
	if deadline <= 0 {
		deadline = 1 * time.Second
	}
	s := &Socket{
		deadline: deadline,
		replies:  make(chan *core.Message, 64),
	}
	s.cond = sync.NewCond(&s.mu)
	base := core.NewSocket("surveyor", opts, core.Hooks{})
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
	if !ok || s.state != Surveying || id != s.curID {
		s.mu.Unlock()
		m.Release()
		return
	}
	s.queue = append(s.queue, m)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Send broadcasts payload to every connected peer under a fresh survey
// identifier. A survey already in progress is terminated: its
// not-yet-collected responses are discarded and Recv will no longer
// return them.
func (s *Socket) Send(payload []byte) error {
	if s.Closed() {
		return errors.ErrClosed
	}

	s.mu.Lock()
	s.nextID = (s.nextID + 1) & 0x7fffffff
	id := s.nextID | 0x80000000
	s.curID = id
	s.state = Surveying
	s.expired = false
	for _, m := range s.queue {
		m.Release()
	}
	s.queue = nil
	s.seq++
	seq := s.seq
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.deadline, func() { s.expire(seq) })
	s.mu.Unlock()

	for _, peer := range s.ConnectedPeers() {
		conn, ok := s.ConnFor(peer)
		if !ok {
			continue
		}
		msg := core.NewMessage(s.Pool, len(payload))
		copy(msg.Body, payload)
		msg.SetID(id)
		conn.TryEnqueueOutbound(msg)
	}
	return nil
}

func (s *Socket) expire(seq uint64) {
	s.mu.Lock()
	if s.seq == seq {
		s.expired = true
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// Recv returns the next response to the outstanding survey, in receipt
// order, until the survey's deadline elapses (ErrTimeout) or the
// socket closes (ErrClosed).
func (s *Socket) Recv() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.expired && !s.Closed() {
		s.cond.Wait()
	}
	if len(s.queue) > 0 {
		m := s.queue[0]
		s.queue = s.queue[1:]
		body := append([]byte(nil), m.Body...)
		m.Release()
		return body, nil
	}
	if s.Closed() {
		return nil, errors.ErrClosed
	}
	s.state = Idle
	return nil, errors.ErrTimeout
}

// Close releases any blocked Recv with ErrClosed and stops the socket.
func (s *Socket) Close() error {
	err := s.Socket.Close()
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
	return err
}
