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

// Package pull implements the PULL half of PUSH/PULL (spec section
// 4.6.3).
package pull

import (
	"time"

	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/internal/core"
)

// Socket is a PULL socket: every inbound message, from whichever peer
// sent it, is delivered to exactly one Recv call -- the PUSH side's
// round-robin cursor already guarantees no two workers see the same
// message.
type Socket struct {
	*core.Socket
	inbound chan *core.Message
}

func New(opts core.Options) *Socket {
	s := &Socket{inbound: make(chan *core.Message, 64)}
	base := core.NewSocket("pull", opts, core.Hooks{})
	base.Hooks.OnConn = base.FanIn(s.inbound)
	s.Socket = base
	return s
}

// Send is not supported on a PULL socket.
func (s *Socket) Send(payload []byte) error {
	return errors.ErrNotSupported
}

// Recv returns the next inbound message.
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
