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

package sp_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	sp "nanomsg.org/go/sp"
	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/protocol/pull"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func abstractAddr(name string) string {
	return fmt.Sprintf("unix://@sp-test-%s-%d", name, time.Now().UnixNano())
}

func TestReqRepEcho(t *testing.T) {
	addr := abstractAddr("reqrep")

	rep := sp.NewRepSocket(sp.Options{})
	req := sp.NewReqSocket(sp.Options{})
	defer rep.Close()
	defer req.Close()

	require.NoError(t, rep.Listen(addr))
	require.NoError(t, req.DialAndWait(addr))

	for i := 0; i < 100; i++ {
		want := []byte(fmt.Sprintf("ping-%d", i))
		require.NoError(t, req.Send(want))

		got, err := rep.Recv()
		require.NoError(t, err)
		require.Equal(t, want, got)

		require.NoError(t, rep.Send(got))

		reply, err := req.Recv()
		require.NoError(t, err)
		require.Equal(t, want, reply)
	}
}

func TestPubSubPrefixFilter(t *testing.T) {
	addr := abstractAddr("pubsub")

	pub := sp.NewPubSocket(sp.Options{})
	sub := sp.NewSubSocket(sp.Options{})
	defer pub.Close()
	defer sub.Close()

	require.NoError(t, pub.Listen(addr))
	require.NoError(t, sub.DialAndWait(addr))
	require.NoError(t, sub.Subscribe([]byte("sports/")))

	// Give the subscriber's connection time to register before the
	// first publish: Send is fire-and-forget and there is no
	// subscription handshake on the wire.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, pub.Send([]byte("weather/rain")))
	require.NoError(t, pub.Send([]byte("sports/score 3-1")))

	got, err := sub.RecvWithDeadline(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, "sports/score 3-1", string(got))

	_, err = sub.RecvWithDeadline(time.Now().Add(100 * time.Millisecond))
	require.ErrorIs(t, err, errors.ErrTimeout)
}

func TestPushPullRoundRobin(t *testing.T) {
	addr := abstractAddr("pushpull")

	push := sp.NewPushSocket(sp.Options{})
	defer push.Close()
	require.NoError(t, push.Listen(addr))

	const n = 3
	pulls := make([]*pull.Socket, n)
	for i := 0; i < n; i++ {
		p := sp.NewPullSocket(sp.Options{})
		require.NoError(t, p.DialAndWait(addr))
		pulls[i] = p
		defer p.Close()
	}
	time.Sleep(50 * time.Millisecond)

	const rounds = 9
	for i := 0; i < rounds; i++ {
		require.NoError(t, push.Send([]byte(fmt.Sprintf("job-%d", i))))
	}

	// Each puller dialed and connected in order before any Send, so the
	// assignment must be exactly cyclic over pulls[0..n-1]: puller i
	// gets jobs i, i+n, i+2n, ... This is spec section 8's PUSH fairness
	// law, not just "everyone gets something".
	for i := 0; i < rounds; i++ {
		want := fmt.Sprintf("job-%d", i)
		got, err := pulls[i%n].RecvWithDeadline(time.Now().Add(time.Second))
		require.NoError(t, err)
		require.Equal(t, want, string(got), "job %d should have gone to puller %d", i, i%n)
	}
}

func TestSurveyorRespondentDeadline(t *testing.T) {
	addr := abstractAddr("survey")

	surv := sp.NewSurveyorSocket(sp.Options{SurveyDeadline: 200 * time.Millisecond})
	defer surv.Close()
	require.NoError(t, surv.Listen(addr))

	fast := sp.NewRespondentSocket(sp.Options{})
	slow := sp.NewRespondentSocket(sp.Options{})
	defer fast.Close()
	defer slow.Close()
	require.NoError(t, fast.DialAndWait(addr))
	require.NoError(t, slow.DialAndWait(addr))
	time.Sleep(50 * time.Millisecond)

	go func() {
		q, err := fast.Recv()
		if err == nil {
			fast.Send(append([]byte("fast:"), q...))
		}
	}()
	go func() {
		q, err := slow.Recv()
		if err != nil {
			return
		}
		time.Sleep(500 * time.Millisecond) // past the survey deadline
		slow.Send(append([]byte("slow:"), q...))
	}()

	require.NoError(t, surv.Send([]byte("status?")))

	got, err := surv.Recv()
	require.NoError(t, err)
	require.Equal(t, "fast:status?", string(got))

	_, err = surv.Recv()
	require.ErrorIs(t, err, errors.ErrTimeout)
}

func TestPairExclusivity(t *testing.T) {
	addr := abstractAddr("pair")

	p1 := sp.NewPairSocket(sp.Options{})
	p2 := sp.NewPairSocket(sp.Options{})
	p3 := sp.NewPairSocket(sp.Options{})
	defer p1.Close()
	defer p2.Close()
	defer p3.Close()

	require.NoError(t, p1.Listen(addr))
	require.NoError(t, p2.DialPaired(addr, 2*time.Second))

	require.NoError(t, p1.Send([]byte("hello")))
	got, err := p2.Recv()
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	err = p3.DialPaired(addr, 2*time.Second)
	require.ErrorIs(t, err, errors.ErrBusy)
}

func TestPortHookFiresOnAttachAndDetach(t *testing.T) {
	addr := abstractAddr("porthook")

	rep := sp.NewRepSocket(sp.Options{})
	req := sp.NewReqSocket(sp.Options{})
	defer rep.Close()

	// The hook only ever reports the connections a socket owns itself,
	// so attach it to req: dial-side Close is the one event in this
	// pair that is actively observed rather than silently timed out
	// (datagram transports carry no disconnect signal for the peer
	// that didn't initiate the close).
	events := make(chan sp.PortAction, 4)
	old := req.SetPortHook(func(action sp.PortAction, _ sp.PeerID, _ string) {
		events <- action
	})
	require.Nil(t, old)

	require.NoError(t, rep.Listen(addr))
	require.NoError(t, req.DialAndWait(addr))

	select {
	case action := <-events:
		require.Equal(t, sp.PortAdded, action)
	case <-time.After(time.Second):
		t.Fatal("port hook never fired for the new connection")
	}

	require.NoError(t, req.Close())

	select {
	case action := <-events:
		require.Equal(t, sp.PortRemoved, action)
	case <-time.After(time.Second):
		t.Fatal("port hook never fired for the closed connection")
	}
}

func TestSocketStatsAggregatesConnectionErrors(t *testing.T) {
	addr := abstractAddr("stats")

	rep := sp.NewRepSocket(sp.Options{})
	req := sp.NewReqSocket(sp.Options{})
	defer rep.Close()
	defer req.Close()

	require.NoError(t, rep.Listen(addr))
	require.NoError(t, req.DialAndWait(addr))

	require.NoError(t, req.Send([]byte("hi")))
	_, err := rep.Recv()
	require.NoError(t, err)

	stats := rep.Stats()
	require.Equal(t, 1, stats.Peers)
	require.Equal(t, uint64(0), stats.RecvErrors)
	require.Greater(t, stats.Pool.Gets, uint64(0))
}

func TestMaxPeersRefusesBeyondCeiling(t *testing.T) {
	addr := abstractAddr("maxpeers")

	bus := sp.NewBusSocket(sp.Options{MaxPeers: 1})
	defer bus.Close()
	require.NoError(t, bus.Listen(addr))

	a := sp.NewBusSocket(sp.Options{})
	b := sp.NewBusSocket(sp.Options{})
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.DialAndWait(addr))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, bus.Stats().Peers)

	// b's Dial succeeds locally, since a datagram connect involves no
	// handshake. The listener drops the attempt silently rather than
	// refusing it at the transport level (datagram Accept always
	// succeeds; the admission check runs after and closes b's
	// listener-side connection), so its peer count stays at one.
	require.NoError(t, b.Dial(addr))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, bus.Stats().Peers)
}

func TestNoGoroutineLeak(t *testing.T) {
	for i := 0; i < 100; i++ {
		addr := abstractAddr(fmt.Sprintf("leak-%d", i))
		rep := sp.NewRepSocket(sp.Options{})
		req := sp.NewReqSocket(sp.Options{})

		require.NoError(t, rep.Listen(addr))
		require.NoError(t, req.DialAndWait(addr))

		require.NoError(t, req.Send([]byte("x")))
		got, err := rep.Recv()
		require.NoError(t, err)
		require.NoError(t, rep.Send(got))
		_, err = req.Recv()
		require.NoError(t, err)

		require.NoError(t, req.Close())
		require.NoError(t, rep.Close())
	}
}
