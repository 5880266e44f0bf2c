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

import (
	"time"

	"nanomsg.org/go/sp/internal/log"
)

// Logger is the interface a socket logs through; see internal/log for
// the default implementation.
type Logger = log.Logger

// Options configures a socket at construction time. A zero Options
// leaves every field at its pattern's default (spec section 4.7's
// option table).
type Options struct {
	// SendTimeout is copied into the socket's core options, but no
	// pattern's Send reads it: a Send without an explicit deadline is not
	// bounded by it.
	SendTimeout time.Duration
	// RecvTimeout is copied into the socket's core options, but no
	// pattern's Recv reads it: a Recv without an explicit deadline is not
	// bounded by it.
	RecvTimeout time.Duration
	// DialTimeout bounds each individual connection attempt.
	DialTimeout time.Duration

	// SendQueueSize and RecvQueueSize bound each connection's worker
	// pair queues (spec section 4.5); default 16.
	SendQueueSize int
	RecvQueueSize int

	// ReconnectMin and ReconnectMax bound the dialer's exponential
	// backoff between attempts.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// MaxMessageSize bounds a single message; Send fails with
	// ErrMessageTooLarge above it, and it is the transport's receive
	// buffer ceiling. Default DefaultMaxMessageSize.
	MaxMessageSize int

	// MaxPeers caps the number of simultaneously accepted inbound
	// connections; a connection attempt beyond it is refused until one
	// disconnects. Zero (the default) leaves it unbounded. Dial is
	// unaffected -- a caller already controls how many it issues.
	MaxPeers int

	// ReqResendTime is how long a REQ socket waits for a reply before
	// automatically resending an outstanding request. Zero disables
	// automatic resend.
	ReqResendTime time.Duration

	// SurveyDeadline bounds how long a SURVEYOR socket collects
	// responses to one survey.
	SurveyDeadline time.Duration

	// SubQueueDepth bounds a SUB socket's filtered delivery queue.
	SubQueueDepth int
	// SubRejectNewest selects a full queue's policy: reject the newest
	// arrival instead of the default, which drops the oldest buffered
	// message to make room for it.
	SubRejectNewest bool

	// Logger receives warnings about recoverable per-connection errors.
	// Defaults to internal/log.Default, which writes through the
	// standard library's log package.
	Logger Logger
}
