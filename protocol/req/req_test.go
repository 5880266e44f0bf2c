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

package req_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nanomsg.org/go/sp/internal/core"
	"nanomsg.org/go/sp/protocol/rep"
	"nanomsg.org/go/sp/protocol/req"
	_ "nanomsg.org/go/sp/transport/unixgram"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func addr(name string) string {
	return fmt.Sprintf("unix://@sp-req-test-%s-%d", name, time.Now().UnixNano())
}

// TestResendRetransmitsUnansweredRequest exercises req's only real piece
// of internal state machinery: the unbounded resend loop that fires
// every resendTime while a request is outstanding.
func TestResendRetransmitsUnansweredRequest(t *testing.T) {
	a := addr("resend")

	r := rep.New(core.DefaultOptions())
	defer r.Close()
	require.NoError(t, r.Listen(a))

	q := req.New(core.DefaultOptions(), 50*time.Millisecond)
	defer q.Close()
	require.NoError(t, q.DialAndWait(a))

	require.NoError(t, q.Send([]byte("ping")))

	// The responder is slow to pick up the first delivery; by the time
	// it calls Recv, at least one resend has been queued behind it.
	// Every copy carries the same id, so replying to the first one
	// answers the request.
	time.Sleep(120 * time.Millisecond)

	got, err := r.Recv()
	require.NoError(t, err)
	require.Equal(t, "ping", string(got))
	require.NoError(t, r.Send(got))

	reply, err := q.RecvWithDeadline(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, "ping", string(reply))

	// The retransmitted copy is still waiting on the responder's side.
	again, err := r.RecvWithDeadline(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, "ping", string(again))
}

// TestSendReplacesOutstandingRequest checks that a second Send before a
// reply arrives invalidates the first request's id, so a reply that
// finally arrives for it is discarded as stale rather than answering
// the second Send's Recv.
func TestSendReplacesOutstandingRequest(t *testing.T) {
	a := addr("replace")

	r := rep.New(core.DefaultOptions())
	defer r.Close()
	require.NoError(t, r.Listen(a))

	q := req.New(core.DefaultOptions(), 0) // no automatic resend
	defer q.Close()
	require.NoError(t, q.DialAndWait(a))

	require.NoError(t, q.Send([]byte("first")))
	first, err := r.Recv()
	require.NoError(t, err)
	require.Equal(t, "first", string(first))

	// Move on before replying to "first": this invalidates its id on
	// the req side. The rep side still remembers "first"'s backtrace
	// until its own next Recv, so reply to it now -- that reply must
	// arrive as a stale, discarded id on the req side.
	require.NoError(t, q.Send([]byte("second")))
	require.NoError(t, r.Send(first))

	second, err := r.Recv()
	require.NoError(t, err)
	require.Equal(t, "second", string(second))
	require.NoError(t, r.Send(second))

	reply, err := q.RecvWithDeadline(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, "second", string(reply))
}
