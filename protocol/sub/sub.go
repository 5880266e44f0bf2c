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

// Package sub implements the SUB half of PUB/SUB (spec section 4.6.2).
package sub

import (
	"bytes"
	"sync"
	"time"

	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/internal/core"
)

// Socket is a SUB socket: a byte-prefix subscription list filters every
// inbound message before it reaches a bounded delivery queue. The drop
// policy on a full queue is a socket-wide setting, not per subscription
// (resolved Open Question, spec section 9).
type Socket struct {
	*core.Socket

	subMu    sync.RWMutex
	prefixes [][]byte

	dropOldest bool

	qMu   sync.Mutex
	qCond *sync.Cond
	queue []*core.Message
	qCap  int

	raw chan *core.Message
}

// New constructs a SUB socket. queueDepth bounds the filtered delivery
// queue; dropOldest selects the queue's full-queue policy (drop the
// oldest buffered message to make room, versus rejecting the newest).
func New(opts core.Options, queueDepth int, dropOldest bool) *Socket {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	s := &Socket{
		dropOldest: dropOldest,
		qCap:       queueDepth,
		raw:        make(chan *core.Message, 64),
	}
	s.qCond = sync.NewCond(&s.qMu)
	base := core.NewSocket("sub", opts, core.Hooks{})
	base.Hooks.OnConn = base.FanIn(s.raw)
	s.Socket = base
	base.TG.Go(func() error {
		s.filterLoop()
		return nil
	})
	return s
}

// Subscribe adds prefix to the subscription list. An empty prefix
// matches every message. Subscribing to the same prefix twice is a
// no-op.
func (s *Socket) Subscribe(prefix []byte) error {
	p := append([]byte(nil), prefix...)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, existing := range s.prefixes {
		if bytes.Equal(existing, p) {
			return nil
		}
	}
	s.prefixes = append(s.prefixes, p)
	return nil
}

// Unsubscribe removes prefix from the subscription list, failing with
// ErrNotFound if it was never subscribed.
func (s *Socket) Unsubscribe(prefix []byte) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, existing := range s.prefixes {
		if bytes.Equal(existing, prefix) {
			s.prefixes = append(s.prefixes[:i], s.prefixes[i+1:]...)
			return nil
		}
	}
	return errors.ErrNotFound
}

func (s *Socket) matches(body []byte) bool {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	if len(s.prefixes) == 0 {
		return false
	}
	for _, p := range s.prefixes {
		if len(p) == 0 || bytes.HasPrefix(body, p) {
			return true
		}
	}
	return false
}

func (s *Socket) filterLoop() {
	for {
		select {
		case m, ok := <-s.raw:
			if !ok {
				return
			}
			if !s.matches(m.Body) {
				m.Release()
				continue
			}
			s.enqueue(m)
		case <-s.Context().Done():
			return
		}
	}
}

func (s *Socket) enqueue(m *core.Message) {
	s.qMu.Lock()
	if len(s.queue) >= s.qCap {
		if !s.dropOldest {
			s.qMu.Unlock()
			m.Release()
			return
		}
		oldest := s.queue[0]
		s.queue = s.queue[1:]
		oldest.Release()
	}
	s.queue = append(s.queue, m)
	s.qCond.Broadcast()
	s.qMu.Unlock()
}

// Send is not supported on a SUB socket.
func (s *Socket) Send(payload []byte) error {
	return errors.ErrNotSupported
}

// Recv blocks for the next message matching an active subscription.
func (s *Socket) Recv() ([]byte, error) {
	return s.RecvWithDeadline(time.Time{})
}

func (s *Socket) RecvWithDeadline(deadline time.Time) ([]byte, error) {
	if !deadline.IsZero() {
		timer := time.AfterFunc(time.Until(deadline), func() {
			s.qMu.Lock()
			s.qCond.Broadcast()
			s.qMu.Unlock()
		})
		defer timer.Stop()
	}

	s.qMu.Lock()
	defer s.qMu.Unlock()
	for len(s.queue) == 0 && !s.Closed() {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, errors.ErrTimeout
		}
		s.qCond.Wait()
	}
	if len(s.queue) == 0 {
		if s.Closed() {
			return nil, errors.ErrClosed
		}
		return nil, errors.ErrTimeout
	}
	m := s.queue[0]
	s.queue = s.queue[1:]
	body := append([]byte(nil), m.Body...)
	m.Release()
	return body, nil
}

// Close releases any blocked Recv with ErrClosed and stops the socket.
func (s *Socket) Close() error {
	err := s.Socket.Close()
	s.qMu.Lock()
	s.qCond.Broadcast()
	s.qMu.Unlock()
	return err
}
