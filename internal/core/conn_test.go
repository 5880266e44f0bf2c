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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nanomsg.org/go/sp/errors"
)

// fakeConn is an in-memory transport.Conn for exercising the worker
// pair without a real socket.
type fakeConn struct {
	inbound chan []byte
	sent    chan []byte
	closed  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		sent:    make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(b []byte) error {
	cp := append([]byte(nil), b...)
	select {
	case c.sent <- cp:
		return nil
	case <-c.closed:
		return errors.ErrClosed
	}
}

func (c *fakeConn) Recv() ([]byte, error) {
	select {
	case b := <-c.inbound:
		return b, nil
	case <-c.closed:
		return nil, errors.ErrClosed
	}
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) RemoteAddr() string              { return "fake://peer" }

func (c *fakeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func newTestConnRegistry() (*ConnRegistry, func()) {
	tg := NewTaskGroup()
	r := NewConnRegistry(tg)
	return r, func() { tg.Wait() }
}

func TestConnRegistryDiscardsEmptyFirstDatagram(t *testing.T) {
	r, wait := newTestConnRegistry()
	defer wait()

	tc := newFakeConn()
	peer := &Peer{ID: 1}
	c := r.Register(context.Background(), tc, peer, WorkerOptions{}, false)

	tc.inbound <- []byte{} // the dial side's connection-announce probe
	tc.inbound <- []byte("real payload")

	select {
	case m := <-c.Inbound:
		require.Equal(t, "real payload", string(m.Body))
		m.Release()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the real message past the discarded probe")
	}

	r.Unregister(c.ID)
}

func TestConnRegistryActiveSendsAnnounceProbe(t *testing.T) {
	r, wait := newTestConnRegistry()
	defer wait()

	tc := newFakeConn()
	peer := &Peer{ID: 1}
	c := r.Register(context.Background(), tc, peer, WorkerOptions{}, true)

	select {
	case b := <-tc.sent:
		require.Empty(t, b, "an active (dial-side) registration announces itself with an empty datagram")
	case <-time.After(time.Second):
		t.Fatal("expected an announce probe to be sent")
	}

	r.Unregister(c.ID)
}

func TestConnRegistryHeaderSplit(t *testing.T) {
	r, wait := newTestConnRegistry()
	defer wait()

	tc := newFakeConn()
	peer := &Peer{ID: 1}
	c := r.Register(context.Background(), tc, peer, WorkerOptions{HeaderLen: 4}, false)

	raw := append(EncodeUint32(0x80000001), []byte("payload")...)
	tc.inbound <- raw

	select {
	case m := <-c.Inbound:
		id, ok := m.ID()
		require.True(t, ok)
		require.Equal(t, uint32(0x80000001), id)
		require.Equal(t, "payload", string(m.Body))
		m.Release()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the headered message")
	}

	r.Unregister(c.ID)
}

func TestConnRegistryHeaderSplitGarbledDropped(t *testing.T) {
	r, wait := newTestConnRegistry()
	defer wait()

	tc := newFakeConn()
	peer := &Peer{ID: 1}
	c := r.Register(context.Background(), tc, peer, WorkerOptions{HeaderLen: 4}, false)

	tc.inbound <- []byte{1, 2} // shorter than the 4-byte header
	tc.inbound <- append(EncodeUint32(7), []byte("ok")...)

	select {
	case m := <-c.Inbound:
		require.Equal(t, "ok", string(m.Body))
		m.Release()
	case <-time.After(time.Second):
		t.Fatal("the garbled datagram should have been skipped, not blocked the stream")
	}
	require.Equal(t, uint64(1), c.RecvErrors())

	r.Unregister(c.ID)
}

func TestConnEnqueueOutboundAfterClose(t *testing.T) {
	r, wait := newTestConnRegistry()
	defer wait()

	tc := newFakeConn()
	peer := &Peer{ID: 1}
	c := r.Register(context.Background(), tc, peer, WorkerOptions{}, false)
	r.Unregister(c.ID)

	err := c.EnqueueOutbound(context.Background(), NewMessage(nil, 1))
	require.ErrorIs(t, err, errors.ErrClosed)
	require.False(t, c.TryEnqueueOutbound(NewMessage(nil, 1)))
}

func TestConnEnqueueOutboundRejectsOversizeMessage(t *testing.T) {
	r, wait := newTestConnRegistry()
	defer wait()

	tc := newFakeConn()
	peer := &Peer{ID: 1}
	c := r.Register(context.Background(), tc, peer, WorkerOptions{MaxSize: 4, OutboundSize: 4}, false)
	defer r.Unregister(c.ID)

	err := c.EnqueueOutbound(context.Background(), NewMessage(nil, 5))
	require.ErrorIs(t, err, errors.ErrMessageTooLarge)
	require.False(t, c.TryEnqueueOutbound(NewMessage(nil, 5)))

	// A message within the ceiling still goes through.
	require.NoError(t, c.EnqueueOutbound(context.Background(), NewMessage(nil, 4)))
}
