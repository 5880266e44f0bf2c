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

// Package push implements the PUSH half of PUSH/PULL (spec section
// 4.6.3).
package push

import (
	"time"

	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/internal/core"
)

// Socket is a PUSH socket: each Send goes to exactly one peer, chosen
// round-robin among peers whose outbound queue has room.
type Socket struct {
	*core.Socket
	cursor core.Cursor
}

func New(opts core.Options) *Socket {
	base := core.NewSocket("push", opts, core.Hooks{})
	return &Socket{Socket: base}
}

// Send blocks until some connected peer accepts payload, deadline
// elapses (ErrTimeout), or the socket closes (ErrClosed). The cursor
// advances past every peer it tries, so a peer whose queue is full is
// skipped and the next Send starts after the peer that took this one.
func (s *Socket) Send(payload []byte) error {
	return s.SendWithDeadline(payload, time.Time{})
}

func (s *Socket) SendWithDeadline(payload []byte, deadline time.Time) error {
	for {
		if s.Closed() {
			return errors.ErrClosed
		}
		peers := s.ConnectedPeers()
		n := len(peers)
		for i := 0; i < n; i++ {
			peer := s.cursor.Next(peers)
			conn, ok := s.ConnFor(peer)
			if !ok {
				continue
			}
			msg := core.NewMessage(s.Pool, len(payload))
			copy(msg.Body, payload)
			if conn.TryEnqueueOutbound(msg) {
				return nil
			}
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return errors.ErrTimeout
		}
		select {
		case <-s.Context().Done():
			return errors.ErrClosed
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Recv is not supported on a PUSH socket.
func (s *Socket) Recv() ([]byte, error) {
	return nil, errors.ErrNotSupported
}
