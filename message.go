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

package sp

import "nanomsg.org/go/sp/internal/core"

// PeerID is a non-zero opaque identifier, unique within one socket
// instance for the lifetime of the peer entry it names (spec section 3).
type PeerID = core.PeerID

// Message carries one complete datagram exchanged over a socket. See
// internal/core.Message for the full definition; it lives there so
// that the protocol engines and the facade can share it without an
// import cycle between this package and internal/core.
type Message = core.Message

// NewMessage allocates a Message whose Body has capacity for at least
// size bytes, drawing the backing buffer from pool. A nil pool falls
// back to the package default pool.
func NewMessage(pool *BufferPool, size int) *Message {
	return core.NewMessage(pool, size)
}
