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
	"testing"

	"github.com/stretchr/testify/require"

	"nanomsg.org/go/sp/errors"
)

func TestParseAddrUnixPath(t *testing.T) {
	a, err := ParseAddr("unix:///tmp/my.sock")
	require.NoError(t, err)
	require.Equal(t, "unix", a.Scheme)
	require.Equal(t, "/tmp/my.sock", a.Path)
	require.False(t, a.Abstract())
}

func TestParseAddrUnixAbstract(t *testing.T) {
	a, err := ParseAddr("unix://@my-socket")
	require.NoError(t, err)
	require.True(t, a.Abstract())
	require.Equal(t, "unix://@my-socket", a.String())
}

func TestParseAddrIP(t *testing.T) {
	a, err := ParseAddr("ip://127.0.0.1:9000")
	require.NoError(t, err)
	require.Equal(t, "ip", a.Scheme)
	require.Equal(t, "127.0.0.1:9000", a.Path)
	require.False(t, a.Abstract())
}

func TestParseAddrRejectsUnknownScheme(t *testing.T) {
	_, err := ParseAddr("tcp://127.0.0.1:9000")
	require.ErrorIs(t, err, errors.ErrInvalidAddress)
}

func TestParseAddrRejectsMissingScheme(t *testing.T) {
	_, err := ParseAddr("/tmp/my.sock")
	require.ErrorIs(t, err, errors.ErrInvalidAddress)
}

func TestParseAddrRejectsEmptyPath(t *testing.T) {
	_, err := ParseAddr("unix://")
	require.ErrorIs(t, err, errors.ErrInvalidAddress)
}
