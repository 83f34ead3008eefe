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

package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRing(log2Size uint8) *Ring {
	mem := make([]byte, RingSize(log2Size))
	r := Bind(mem, log2Size)
	r.Init(0, 0, 0, 2048)
	return r
}

func TestInitWritesCookie(t *testing.T) {
	r := newTestRing(4)
	require.True(t, r.CookieValid())
	require.Equal(t, uint32(0), r.Head())
	require.Equal(t, uint32(0), r.Tail())
}

func TestDescriptorWrapsModuloSize(t *testing.T) {
	r := newTestRing(2) // 4 slots
	require.EqualValues(t, 4, r.Size())

	d0 := r.Descriptor(0)
	d4 := r.Descriptor(4)
	d0.SetLength(42)
	require.Equal(t, uint32(42), d4.Length(), "slot index must wrap modulo ring size")
}

func TestHeadTailIndependentlyMonotonic(t *testing.T) {
	r := newTestRing(3)
	r.StoreHead(1)
	require.Equal(t, uint32(1), r.Head())
	require.Equal(t, uint32(0), r.Tail())

	r.StoreTail(1)
	require.Equal(t, uint32(1), r.Tail())
	require.Equal(t, uint32(1), r.Head())
}

func TestInterruptSuppressedFlagRoundTrip(t *testing.T) {
	r := newTestRing(1)
	require.Zero(t, r.Flags()&FlagInterruptSuppressed)

	r.SetInterruptSuppressed(true)
	require.NotZero(t, r.Flags()&FlagInterruptSuppressed)

	r.SetInterruptSuppressed(false)
	require.Zero(t, r.Flags()&FlagInterruptSuppressed)
}

func TestInitAssignsDistinctBufferOffsets(t *testing.T) {
	r := newTestRing(3) // 8 slots
	seen := map[uint32]bool{}
	for i := uint32(0); i < r.Size(); i++ {
		d := r.Descriptor(i)
		require.False(t, seen[d.Offset()], "buffer offsets must not collide across slots")
		seen[d.Offset()] = true
		require.Equal(t, uint32(2048), d.BufferLength())
	}
}

func TestDescriptorFlagsRoundTrip(t *testing.T) {
	r := newTestRing(1)
	d := r.Descriptor(0)
	d.SetFlags(0x7)
	require.EqualValues(t, 0x7, d.Flags())
}
