// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memif

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArgumentsWithDefaultsFillsZeroFields(t *testing.T) {
	a := Arguments{}.withDefaults()
	require.EqualValues(t, defaultLog2RingSize, a.Log2RingSize)
	require.EqualValues(t, defaultBufferSize, a.BufferSize)
	require.Equal(t, defaultNumS2MRings, a.NumS2MRings)
	require.Equal(t, defaultNumM2SRings, a.NumM2SRings)
	require.Equal(t, defaultSocketPath, a.SocketPath)
}

func TestArgumentsWithDefaultsPreservesExplicitFields(t *testing.T) {
	a := Arguments{
		Log2RingSize: 4,
		BufferSize:   512,
		NumS2MRings:  3,
		NumM2SRings:  2,
		SocketPath:   "/tmp/custom.sock",
	}.withDefaults()
	require.EqualValues(t, 4, a.Log2RingSize)
	require.EqualValues(t, 512, a.BufferSize)
	require.Equal(t, 3, a.NumS2MRings)
	require.Equal(t, 2, a.NumM2SRings)
	require.Equal(t, "/tmp/custom.sock", a.SocketPath)
}

func TestTruncatedNameBytesCapsLength(t *testing.T) {
	b := truncatedNameBytes("a very long interface name indeed", 8)
	require.Len(t, b, 8)
	require.Equal(t, "a very l", string(b))
}

func TestTruncatedNameBytesShorterThanMax(t *testing.T) {
	b := truncatedNameBytes("eth0", 32)
	require.Equal(t, "eth0", string(b))
}
