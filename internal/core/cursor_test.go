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

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorNextEmpty(t *testing.T) {
	var c Cursor
	require.Nil(t, c.Next(nil))
	require.Nil(t, c.Next([]*Peer{}))
}

func TestCursorRoundRobin(t *testing.T) {
	var c Cursor
	peers := []*Peer{{ID: 1}, {ID: 2}, {ID: 3}}

	var got []PeerID
	for i := 0; i < 6; i++ {
		got = append(got, c.Next(peers).ID)
	}
	require.Equal(t, []PeerID{1, 2, 3, 1, 2, 3}, got)
}

func TestCursorSurvivesShrinkingPeerSet(t *testing.T) {
	var c Cursor
	three := []*Peer{{ID: 1}, {ID: 2}, {ID: 3}}
	require.Equal(t, PeerID(1), c.Next(three).ID)

	two := []*Peer{{ID: 1}, {ID: 2}}
	// The cursor's internal position keeps advancing even though the
	// slice it is indexed against changed shape; Next never panics and
	// always returns a valid element.
	for i := 0; i < 10; i++ {
		p := c.Next(two)
		require.Contains(t, []PeerID{1, 2}, p.ID)
	}
}

func TestCursorConcurrentUse(t *testing.T) {
	var c Cursor
	peers := []*Peer{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}

	var wg sync.WaitGroup
	counts := make([]int64, len(peers))
	var mu sync.Mutex
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := c.Next(peers)
			mu.Lock()
			for i, peer := range peers {
				if peer.ID == p.ID {
					counts[i]++
				}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	var total int64
	for _, n := range counts {
		total += n
	}
	require.Equal(t, int64(50), total, "every concurrent Next call returns exactly one pick")
}
