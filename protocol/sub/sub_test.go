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

package sub_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nanomsg.org/go/sp/errors"
	"nanomsg.org/go/sp/internal/core"
	"nanomsg.org/go/sp/protocol/pub"
	"nanomsg.org/go/sp/protocol/sub"
	_ "nanomsg.org/go/sp/transport/unixgram"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func addr(name string) string {
	return fmt.Sprintf("unix://@sp-sub-test-%s-%d", name, time.Now().UnixNano())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	a := addr("unsub")

	p := pub.New(core.DefaultOptions())
	defer p.Close()
	require.NoError(t, p.Listen(a))

	s := sub.New(core.DefaultOptions(), 0, true)
	defer s.Close()
	require.NoError(t, s.DialAndWait(a))
	require.NoError(t, s.Subscribe([]byte("x/")))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, p.Send([]byte("x/one")))
	got, err := s.RecvWithDeadline(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, "x/one", string(got))

	require.NoError(t, s.Unsubscribe([]byte("x/")))
	require.ErrorIs(t, s.Unsubscribe([]byte("x/")), errors.ErrNotFound)

	require.NoError(t, p.Send([]byte("x/two")))
	_, err = s.RecvWithDeadline(time.Now().Add(150 * time.Millisecond))
	require.ErrorIs(t, err, errors.ErrTimeout)
}

// TestDropOldestMakesRoomForNewest exercises the per-socket drop policy
// directly: a full queue with dropOldest true discards its head rather
// than rejecting the new arrival.
func TestDropOldestMakesRoomForNewest(t *testing.T) {
	a := addr("dropoldest")

	p := pub.New(core.DefaultOptions())
	defer p.Close()
	require.NoError(t, p.Listen(a))

	s := sub.New(core.DefaultOptions(), 2, true)
	defer s.Close()
	require.NoError(t, s.DialAndWait(a))
	require.NoError(t, s.Subscribe(nil)) // empty prefix matches everything
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, p.Send([]byte("m0")))
	require.NoError(t, p.Send([]byte("m1")))
	require.NoError(t, p.Send([]byte("m2")))
	time.Sleep(50 * time.Millisecond)

	got0, err := s.RecvWithDeadline(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, "m1", string(got0), "m0 should have been dropped to make room for m2")

	got1, err := s.RecvWithDeadline(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, "m2", string(got1))
}

// TestRejectNewestKeepsOldest is the opposite policy: once the queue is
// full, the newest arrival is the one discarded.
func TestRejectNewestKeepsOldest(t *testing.T) {
	a := addr("rejectnewest")

	p := pub.New(core.DefaultOptions())
	defer p.Close()
	require.NoError(t, p.Listen(a))

	s := sub.New(core.DefaultOptions(), 2, false)
	defer s.Close()
	require.NoError(t, s.DialAndWait(a))
	require.NoError(t, s.Subscribe(nil))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, p.Send([]byte("m0")))
	require.NoError(t, p.Send([]byte("m1")))
	require.NoError(t, p.Send([]byte("m2")))
	time.Sleep(50 * time.Millisecond)

	got0, err := s.RecvWithDeadline(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, "m0", string(got0))

	got1, err := s.RecvWithDeadline(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, "m1", string(got1), "m2 should have been rejected, the queue was already full")
}
