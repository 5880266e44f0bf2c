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

import "golang.org/x/sync/errgroup"

// TaskGroup is the unit Socket.Close awaits, rather than reaching into
// registries or connections directly -- the resolution spec section 9
// prescribes for the cyclic graph between socket, registries, and
// tasks. Every accept loop, dial loop, receiver task, and sender task
// a socket owns is launched through its TaskGroup.
type TaskGroup struct {
	g *errgroup.Group
}

// NewTaskGroup returns an empty TaskGroup.
func NewTaskGroup() *TaskGroup {
	return &TaskGroup{g: &errgroup.Group{}}
}

// Go launches fn as a tracked task. fn should return nil on a clean,
// requested shutdown; a non-nil error is retained and returned from the
// first Wait call but does not stop sibling tasks (they watch the
// socket's own cancellation signal for that).
func (t *TaskGroup) Go(fn func() error) {
	t.g.Go(fn)
}

// Wait blocks until every task launched via Go has returned, yielding
// the first non-nil error encountered, if any.
func (t *TaskGroup) Wait() error {
	return t.g.Wait()
}
