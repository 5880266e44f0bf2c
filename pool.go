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

// DefaultMaxMessageSize is the default ceiling for pooled buffers, and
// the default value of the max-message-size option (spec section 4.2).
const DefaultMaxMessageSize = core.DefaultMaxMessageSize

// PoolStats is a snapshot of a BufferPool's monotonic counters.
type PoolStats = core.PoolStats

// SocketStats is a snapshot of a socket's buffer pool counters plus the
// sum of every connected peer's receive/send error counters, returned
// by every pattern's Stats method (promoted from internal/core.Socket).
type SocketStats = core.SocketStats

// BufferPool is a collection of reusable byte buffers; see
// internal/core.BufferPool for the implementation.
type BufferPool = core.BufferPool

// NewBufferPool creates a BufferPool whose buffers are at least max
// bytes, retaining up to depth idle buffers.
func NewBufferPool(max, depth int) *BufferPool {
	return core.NewBufferPool(max, depth)
}
