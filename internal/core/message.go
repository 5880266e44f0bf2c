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

// Package core holds the pieces shared by every layer above it --
// messages, peer identifiers, addresses, the buffer pool, the peer and
// connection registries, and the worker pair -- so that both the
// protocol engines and the root facade can depend on it without a
// cycle (spec section 9's "cyclic graph" note).
package core

import (
	"encoding/binary"

	"nanomsg.org/go/sp/errors"
)

// PeerID is a non-zero opaque identifier, unique within one socket
// instance for the lifetime of the peer entry it names (spec section 3).
type PeerID uint32

// Message carries one complete datagram.  It is pattern-agnostic: the
// Header holds whatever correlation bytes a protocol engine attaches
// (REQ/REP and SURVEYOR/RESPONDENT use it; the other patterns leave it
// empty).  Exactly one owner holds a Message at a time; Release returns
// its buffer to the pool that produced it.
type Message struct {
	Header []byte
	Body   []byte
	Addr   Addr
	Peer   PeerID

	pool *BufferPool
	buf  []byte // full backing array Body was sliced from
}

// NewMessage allocates a Message whose Body has capacity for at least
// size bytes, drawing the backing buffer from pool.  A nil pool falls
// back to the package default pool.
func NewMessage(pool *BufferPool, size int) *Message {
	if pool == nil {
		pool = DefaultPool
	}
	buf := pool.Get(size)
	return &Message{
		Body: buf[:size],
		pool: pool,
		buf:  buf,
	}
}

// Release returns the Message's buffer to its owning pool and
// invalidates the Message.  Calling Release twice, or using the Message
// afterward, is a programming error.
func (m *Message) Release() {
	if m == nil || m.pool == nil {
		return
	}
	m.pool.Put(m.buf)
	m.pool = nil
	m.buf = nil
	m.Body = nil
	m.Header = nil
}

// Clone allocates a new buffer from the same pool and copies payload
// and header into it; the clone is independently owned and must be
// released on its own.
func (m *Message) Clone() *Message {
	pool := m.pool
	if pool == nil {
		pool = DefaultPool
	}
	c := NewMessage(pool, len(m.Body))
	copy(c.Body, m.Body)
	if len(m.Header) > 0 {
		c.Header = append([]byte(nil), m.Header...)
	}
	c.Addr = m.Addr
	c.Peer = m.Peer
	return c
}

// ID returns the 32-bit correlation identifier carried in the last four
// bytes of Header -- the request or survey id, per the wire format in
// spec section 6.3.  It returns false if no header, or a malformed one,
// is present.
func (m *Message) ID() (uint32, bool) {
	if len(m.Header) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(m.Header[len(m.Header)-4:]), true
}

// SetID replaces Header with the 4-byte big-endian encoding of id. Pure
// endpoints (no device chaining) never carry a backtrace, so the header
// is exactly this one word.
func (m *Message) SetID(id uint32) {
	m.Header = EncodeUint32(id)
}

// Backtrace returns a copy of the raw header bytes captured from a
// received request or survey, suitable for stashing and later replaying
// via SetBacktrace when a reply is sent.
func (m *Message) Backtrace() []byte {
	if len(m.Header) == 0 {
		return nil
	}
	return append([]byte(nil), m.Header...)
}

// SetBacktrace installs b as the Header verbatim.
func (m *Message) SetBacktrace(b []byte) {
	if len(b) == 0 {
		m.Header = nil
		return
	}
	m.Header = append([]byte(nil), b...)
}

// EncodeUint32 big-endian encodes v into a fresh 4-byte slice.
func EncodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// WireBytes returns the on-the-wire representation: header followed by
// body, since the core library does not frame the payload separately
// (spec section 6.3).
func (m *Message) WireBytes() []byte {
	if len(m.Header) == 0 {
		return m.Body
	}
	b := make([]byte, 0, len(m.Header)+len(m.Body))
	b = append(b, m.Header...)
	b = append(b, m.Body...)
	return b
}

// SplitHeader splits raw bytes received off the wire into Header and
// Body for a headered pattern (REQ/REP, SURVEYOR/RESPONDENT), where the
// header is always exactly the trailing correlation word for pure
// endpoints (hdrLen bytes, a multiple of 4, hdrLen >= 4).
func SplitHeader(raw []byte, hdrLen int) ([]byte, []byte, error) {
	if len(raw) < hdrLen {
		return nil, nil, errors.ErrGarbled
	}
	return raw[:hdrLen], raw[hdrLen:], nil
}
