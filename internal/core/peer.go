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
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// PeerState is where a Peer sits in its connection lifecycle (spec
// section 3).
type PeerState int

const (
	Connecting PeerState = iota
	Connected
	Disconnecting
	Disconnected
)

// Peer represents one connected remote, tracked for the lifetime of its
// connection. Data is a free slot for pattern-specific per-peer state;
// the registry never inspects it, and no engine in this module sets it
// (REQ and SURVEYOR keep their state per socket).
type Peer struct {
	ID   PeerID
	Addr string

	mu          sync.Mutex
	state       PeerState
	Data        interface{}
	connectedAt time.Time
	lastSeen    time.Time

	sendErrors uint64
	recvErrors uint64
}

func (p *Peer) State() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) SetState(s PeerState) {
	p.mu.Lock()
	p.state = s
	if s == Connected {
		p.connectedAt = time.Now()
	}
	p.mu.Unlock()
}

func (p *Peer) Touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

func (p *Peer) ConnectedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectedAt
}

func (p *Peer) LastSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

func (p *Peer) IncRecvErrors()     { atomic.AddUint64(&p.recvErrors, 1) }
func (p *Peer) IncSendErrors()     { atomic.AddUint64(&p.sendErrors, 1) }
func (p *Peer) RecvErrors() uint64 { return atomic.LoadUint64(&p.recvErrors) }
func (p *Peer) SendErrors() uint64 { return atomic.LoadUint64(&p.sendErrors) }

// PeerRegistry maps peer identifiers to Peers, with a secondary index
// from address to identifier (spec section 4.3). Writes are exclusive;
// reads (Get, GetByAddr, All, Range) may proceed concurrently with each
// other.
type PeerRegistry struct {
	mu     sync.RWMutex
	byID   map[PeerID]*Peer
	byAddr map[string]PeerID
	nextID uint32
}

// NewPeerRegistry returns an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		byID:   make(map[PeerID]*Peer),
		byAddr: make(map[string]PeerID),
	}
}

// Add creates and registers a new Peer for addr, allocating a strictly
// increasing, never-reused (within this registry's lifetime) identifier.
func (r *PeerRegistry) Add(addr string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := PeerID(r.nextID)
	p := &Peer{ID: id, Addr: addr, state: Connecting, connectedAt: time.Now(), lastSeen: time.Now()}
	r.byID[id] = p
	r.byAddr[addr] = id
	return p
}

// Remove deletes the peer entry, reporting whether one was present.
func (r *PeerRegistry) Remove(id PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	if cur, ok := r.byAddr[p.Addr]; ok && cur == id {
		delete(r.byAddr, p.Addr)
	}
	return true
}

func (r *PeerRegistry) Get(id PeerID) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

func (r *PeerRegistry) GetByAddr(addr string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byAddr[addr]
	if !ok {
		return nil, false
	}
	p := r.byID[id]
	return p, p != nil
}

// All returns a snapshot of every registered peer, decoupled from
// concurrent mutation of the registry and ordered by PeerID. The order
// matters: callers like protocol/push and protocol/req index this
// snapshot with a persistent Cursor to round-robin over peer identity,
// which only stays stable across calls if the same peer set always
// sorts the same way -- ranging a Go map directly would silently
// reshuffle it on every call.
func (r *PeerRegistry) All() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *PeerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Range calls fn for every peer in an unspecified order, stopping early
// if fn returns false. fn runs against a snapshot, so it may call back
// into the registry without deadlocking.
func (r *PeerRegistry) Range(fn func(*Peer) bool) {
	for _, p := range r.All() {
		if !fn(p) {
			return
		}
	}
}
