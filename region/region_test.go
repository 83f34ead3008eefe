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

package region

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCreateMapsWritableMemory(t *testing.T) {
	r, err := Create(4096)
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, r.Mem, 4096)
	r.Mem[0] = 0xAB
	require.Equal(t, byte(0xAB), r.Mem[0])
}

func TestCreateSealsAgainstShrink(t *testing.T) {
	r, err := Create(4096)
	require.NoError(t, err)
	defer r.Close()

	err = unix.Ftruncate(r.Fd, 1024)
	require.Error(t, err, "write-shrink seal must reject truncating the region smaller")
}

func TestMapWrapsExistingFd(t *testing.T) {
	r, err := Create(4096)
	require.NoError(t, err)
	r.Mem[10] = 0x42

	mapped, err := Map(r.Fd, 4096)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), mapped.Mem[10], "Map must see the same backing pages as Create")

	require.NoError(t, mapped.Close())
}

func TestRegistryAddGetCloseAll(t *testing.T) {
	reg := NewRegistry(4)
	r1, err := Create(4096)
	require.NoError(t, err)
	r2, err := Create(4096)
	require.NoError(t, err)

	idx1, err := reg.Add(r1)
	require.NoError(t, err)
	idx2, err := reg.Add(r2)
	require.NoError(t, err)
	require.NotEqual(t, idx1, idx2)

	require.Same(t, r1, reg.Get(idx1))
	require.Same(t, r2, reg.Get(idx2))
	require.Nil(t, reg.Get(99))

	require.NoError(t, reg.CloseAll())
	require.Nil(t, reg.Get(idx1))
}

func TestRegistryAddFailsWhenFull(t *testing.T) {
	reg := NewRegistry(1)
	r, err := Create(4096)
	require.NoError(t, err)
	defer r.Close()

	_, err = reg.Add(r)
	require.NoError(t, err)

	_, err = reg.Add(r)
	require.Error(t, err)
}
