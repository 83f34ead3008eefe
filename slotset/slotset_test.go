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

package slotset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	s := New(4)
	var got []int
	for i := 0; i < 4; i++ {
		idx, ok := s.Alloc()
		require.True(t, ok)
		got = append(got, idx)
	}
	require.ElementsMatch(t, []int{0, 1, 2, 3}, got)

	_, ok := s.Alloc()
	require.False(t, ok, "set of capacity 4 must be full after 4 allocations")

	s.Free(1)
	require.False(t, s.InUse(1))
	idx, ok := s.Alloc()
	require.True(t, ok)
	require.Equal(t, 1, idx, "freed slot should be reused before growing further")
}

func TestFreeOutOfRangeIsNoop(t *testing.T) {
	s := New(2)
	s.Free(-1)
	s.Free(5)
	require.Equal(t, 0, s.Len())
}

func TestLenAndCap(t *testing.T) {
	s := New(8)
	require.Equal(t, 8, s.Cap())
	s.Alloc()
	s.Alloc()
	require.Equal(t, 2, s.Len())
	s.Reset()
	require.Equal(t, 0, s.Len())
}

func TestMaxCapacity(t *testing.T) {
	s := New(64)
	for i := 0; i < 64; i++ {
		_, ok := s.Alloc()
		require.True(t, ok)
	}
	_, ok := s.Alloc()
	require.False(t, ok)
}
