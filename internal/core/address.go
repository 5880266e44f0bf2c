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
	"strings"

	"nanomsg.org/go/sp/errors"
)

// Addr identifies an endpoint reachable through one of the registered
// transports: "unix://<path>" for the Unix datagram driver, or
// "ip://<host>:<port>" for the UDP driver (spec section 6.2).  A path
// beginning with "@" names a Linux abstract-namespace socket rather
// than a filesystem path.
type Addr struct {
	Scheme string
	Path   string
}

// Network implements net.Addr.
func (a Addr) Network() string { return a.Scheme }

// String implements net.Addr and fmt.Stringer.
func (a Addr) String() string {
	if a.Scheme == "" {
		return a.Path
	}
	return a.Scheme + "://" + a.Path
}

// Abstract reports whether the address names a Linux abstract-namespace
// unix datagram socket.
func (a Addr) Abstract() bool {
	return a.Scheme == "unix" && strings.HasPrefix(a.Path, "@")
}

// ParseAddr splits a raw address string of the form "scheme://rest"
// into its Addr, rejecting anything without a recognized scheme or
// with an empty path.
func ParseAddr(raw string) (Addr, error) {
	i := strings.Index(raw, "://")
	if i < 0 {
		return Addr{}, errors.Wrap("parse", raw, errors.ErrInvalidAddress)
	}
	scheme, path := raw[:i], raw[i+3:]
	if path == "" {
		return Addr{}, errors.Wrap("parse", raw, errors.ErrInvalidAddress)
	}
	switch scheme {
	case "unix", "ip":
	default:
		return Addr{}, errors.Wrap("parse", raw, errors.ErrInvalidAddress)
	}
	return Addr{Scheme: scheme, Path: path}, nil
}
