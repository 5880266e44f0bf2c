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

package core

import "sync/atomic"

// Cursor is a round-robin position over a slice that changes shape
// between calls (peers connect and disconnect), used by REQ and PUSH
// peer selection (spec section 3's "PUSH round-robin cursor").
type Cursor struct {
	n uint64
}

// Next returns the next peer in peers, advancing the cursor. It
// returns nil if peers is empty. The cursor only advances on a
// successful pick so that fairness survives churn in the peer set.
func (c *Cursor) Next(peers []*Peer) *Peer {
	if len(peers) == 0 {
		return nil
	}
	i := atomic.AddUint64(&c.n, 1) - 1
	return peers[i%uint64(len(peers))]
}
