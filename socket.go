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

// Package sp is a Scalability Protocols messaging substrate: REQ/REP,
// PUB/SUB, PUSH/PULL, SURVEYOR/RESPONDENT, BUS, and PAIR sockets over
// Unix datagram and UDP transports.
//
// Each pattern constructor returns a concrete *<pattern>.Socket type
// from its own protocol/<pattern> package, embedding the shared
// lifecycle (Listen, Dial, Close, Stats) from internal/core.Socket.
// This file just wires option translation and re-exports constructors
// so that the common case -- nanomsg.org/go/sp.NewReqSocket(...) -- never
// has to reach into an internal package.
package sp

import (
	"time"

	_ "nanomsg.org/go/sp/transport/udp"
	_ "nanomsg.org/go/sp/transport/unixgram"

	"nanomsg.org/go/sp/internal/core"
	"nanomsg.org/go/sp/protocol/bus"
	"nanomsg.org/go/sp/protocol/pair"
	"nanomsg.org/go/sp/protocol/pub"
	"nanomsg.org/go/sp/protocol/pull"
	"nanomsg.org/go/sp/protocol/push"
	"nanomsg.org/go/sp/protocol/rep"
	"nanomsg.org/go/sp/protocol/req"
	"nanomsg.org/go/sp/protocol/respondent"
	"nanomsg.org/go/sp/protocol/sub"
	"nanomsg.org/go/sp/protocol/surveyor"
)

func toCoreOptions(o Options) core.Options {
	c := core.DefaultOptions()
	if o.SendTimeout > 0 {
		c.SendTimeout = o.SendTimeout
	}
	if o.RecvTimeout > 0 {
		c.RecvTimeout = o.RecvTimeout
	}
	if o.DialTimeout > 0 {
		c.DialTimeout = o.DialTimeout
	}
	if o.SendQueueSize > 0 {
		c.SendQueueSize = o.SendQueueSize
	}
	if o.RecvQueueSize > 0 {
		c.RecvQueueSize = o.RecvQueueSize
	}
	if o.ReconnectMin > 0 {
		c.ReconnectMin = o.ReconnectMin
	}
	if o.ReconnectMax > 0 {
		c.ReconnectMax = o.ReconnectMax
	}
	if o.MaxMessageSize > 0 {
		c.MaxMessageSize = o.MaxMessageSize
	}
	if o.MaxPeers > 0 {
		c.MaxPeers = o.MaxPeers
	}
	if o.Logger != nil {
		c.Logger = o.Logger
	}
	return c
}

// NewReqSocket returns a new REQ socket. Options.ReqResendTime of zero
// (the default) disables automatic resend of an unanswered request.
func NewReqSocket(opts Options) *req.Socket {
	return req.New(toCoreOptions(opts), opts.ReqResendTime)
}

// NewRepSocket returns a new REP socket.
func NewRepSocket(opts Options) *rep.Socket {
	return rep.New(toCoreOptions(opts))
}

// NewPubSocket returns a new PUB socket.
func NewPubSocket(opts Options) *pub.Socket {
	return pub.New(toCoreOptions(opts))
}

// NewSubSocket returns a new SUB socket. Options.SubQueueDepth bounds
// its filtered delivery queue; Options.SubRejectNewest selects the
// full-queue policy (default false: drop the oldest buffered message
// to make room for the newest).
func NewSubSocket(opts Options) *sub.Socket {
	depth := opts.SubQueueDepth
	if depth == 0 {
		depth = 64
	}
	return sub.New(toCoreOptions(opts), depth, !opts.SubRejectNewest)
}

// NewPushSocket returns a new PUSH socket.
func NewPushSocket(opts Options) *push.Socket {
	return push.New(toCoreOptions(opts))
}

// NewPullSocket returns a new PULL socket.
func NewPullSocket(opts Options) *pull.Socket {
	return pull.New(toCoreOptions(opts))
}

// NewSurveyorSocket returns a new SURVEYOR socket.
func NewSurveyorSocket(opts Options) *surveyor.Socket {
	deadline := opts.SurveyDeadline
	if deadline == 0 {
		deadline = time.Second
	}
	return surveyor.New(toCoreOptions(opts), deadline)
}

// NewRespondentSocket returns a new RESPONDENT socket.
func NewRespondentSocket(opts Options) *respondent.Socket {
	return respondent.New(toCoreOptions(opts))
}

// NewBusSocket returns a new BUS socket.
func NewBusSocket(opts Options) *bus.Socket {
	return bus.New(toCoreOptions(opts))
}

// NewPairSocket returns a new PAIR socket.
func NewPairSocket(opts Options) *pair.Socket {
	return pair.New(toCoreOptions(opts))
}
