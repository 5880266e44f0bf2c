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

// Endpoint is the lifecycle surface every socket type in this package
// shares, promoted from internal/core.Socket through embedding. It
// lets code that only needs to bring a socket up or down -- a test
// harness bringing up both ends of a pattern, a small device shuttling
// between two sockets -- stay pattern-agnostic.
type Endpoint interface {
	Listen(addr string) error
	Dial(addr string) error
	DialAndWait(addr string) error
	Close() error
	Stats() SocketStats
}
