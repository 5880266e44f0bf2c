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

// Package bus implements BUS (spec section 4.6.5): every socket in a
// mesh is both sender and receiver to every other.
package bus

import (
	"time"

	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/internal/core"
)

// Socket is a BUS socket. Send reaches every other connected peer,
// best-effort; Recv returns whatever arrives from any of them. There
// is no loopback: a socket never receives its own Send, since the
// outbound path only ever targets peer connections.
type Socket struct {
	*core.Socket
	inbound chan *core.Message
}

func New(opts core.Options) *Socket {
	s := &Socket{inbound: make(chan *core.Message, 64)}
	base := core.NewSocket("bus", opts, core.Hooks{})
	base.Hooks.OnConn = base.FanIn(s.inbound)
	s.Socket = base
	return s
}

// Send clones payload once per connected peer and enqueues it without
// blocking; a peer whose outbound queue is full drops this message.
func (s *Socket) Send(payload []byte) error {
	if s.Closed() {
		return errors.ErrClosed
	}
	for _, peer := range s.ConnectedPeers() {
		conn, ok := s.ConnFor(peer)
		if !ok {
			continue
		}
		msg := core.NewMessage(s.Pool, len(payload))
		copy(msg.Body, payload)
		conn.TryEnqueueOutbound(msg)
	}
	return nil
}

// Recv returns the next inbound message from any peer.
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
