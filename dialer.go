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

// Dial and Listen addresses follow "scheme://rest" (spec section 6.2):
//
//	unix:///tmp/my.sock   Unix datagram, filesystem path
//	unix://@my-socket     Unix datagram, Linux abstract namespace
//	ip://127.0.0.1:9000    UDP
//
// Every socket constructed by this package (NewReqSocket, NewPubSocket,
// ...) embeds internal/core.Socket, which supplies Listen, Dial,
// DialAndWait, DialContext, and Close directly -- there is no separate
// dialer type to construct. This file exists to document the address
// grammar those calls share; see listener.go for the Endpoint
// interface they satisfy together.
