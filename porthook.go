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

// PortAction says whether a PortHook call reports a connection's
// arrival or its departure.
type PortAction = core.PortAction

const (
	PortAdded   = core.PortAdded
	PortRemoved = core.PortRemoved
)

// PortHook is an application-supplied function notified when a
// connection attaches to or detaches from a socket. It is purely
// observational: every pattern's socket exposes a SetPortHook method
// (promoted from its embedded *internal/core.Socket) that installs one
// and returns whatever hook was previously installed.
type PortHook = core.PortHook
