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

// Package pub implements the PUB half of PUB/SUB (spec section 4.6.2).
package pub

import (
	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/internal/core"
)

// Socket is a PUB socket. It carries no per-peer state: every
// connected peer gets an independent copy of every Send, best-effort.
type Socket struct {
	*core.Socket
}

func New(opts core.Options) *Socket {
	base := core.NewSocket("pub", opts, core.Hooks{})
	return &Socket{Socket: base}
}

// Send clones payload once per connected peer and enqueues it without
// blocking; a peer whose outbound queue is full drops this message
// rather than slow down the others (spec section 4.6.2).
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

// Recv is not supported on a PUB socket.
func (s *Socket) Recv() ([]byte, error) {
	return nil, errors.ErrNotSupported
}
