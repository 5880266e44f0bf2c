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

import "nanomsg.org/go/sp/internal/core"

// Addr identifies an endpoint reachable through one of the registered
// transports: "unix://<path>" for the Unix datagram driver, or
// "ip://<host>:<port>" for the UDP driver (spec section 6.2).
type Addr = core.Addr

// ParseAddr splits a raw address string of the form "scheme://rest"
// into its Addr.
func ParseAddr(raw string) (Addr, error) {
	return core.ParseAddr(raw)
}
