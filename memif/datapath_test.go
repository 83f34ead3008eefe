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
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ondrej-fabry/libmemif/errs"
	"github.com/ondrej-fabry/libmemif/region"
	"github.com/ondrej-fabry/libmemif/ring"
)

// newConnectedPair builds a producer and a consumer Endpoint that share
// one S2M ring backed by a real memfd region, bypassing the handshake
// entirely, so the data-path conservation laws can be tested in
// isolation from the control channel.
func newConnectedPair(t *testing.T, log2Size uint8, bufferSize uint32) (prod, cons *Endpoint) {
	t.Helper()
	size := ring.RegionSize(1, 0, log2Size, int(bufferSize))
	reg, err := region.Create(size)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	bufArea := ring.BufferAreaOffset(1, 0, log2Size)
	r := ring.Bind(reg.Mem[0:ring.RingSize(log2Size)], log2Size)
	r.Init(0, bufArea, 0, bufferSize)

	prodInt, consInt := pipeFd(t), pipeFd(t)

	prod = &Endpoint{
		role:      RoleSlave,
		state:     StateConnected,
		s2mQueues: []*Queue{newQueue(0, ring.S2M, r, reg.Mem, prodInt)},
	}
	cons = &Endpoint{
		role:      RoleMaster,
		state:     StateConnected,
		s2mQueues: []*Queue{newQueue(0, ring.S2M, r, reg.Mem, consInt)},
	}
	return prod, cons
}

// pipeFd returns the write end of an OS pipe, good enough to stand in
// for an interrupt eventfd in tests that only need TxBurst's write to
// succeed.
func pipeFd(t *testing.T) int {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return int(w.Fd())
}

func TestBufferAllocTxRxFreeRoundTrip(t *testing.T) {
	prod, cons := newConnectedPair(t, 2, 64) // 4 slots

	bufs, n, kind := prod.BufferAlloc(0, 2)
	require.Equal(t, errs.OK, kind)
	require.Equal(t, 2, n)
	require.Len(t, bufs, 2)

	copy(bufs[0].Data, []byte("hello"))
	bufs[0].DataLen = 5
	copy(bufs[1].Data, []byte("world!"))
	bufs[1].DataLen = 6

	sent, kind := prod.TxBurst(0, bufs)
	require.Equal(t, errs.OK, kind)
	require.Equal(t, 2, sent)

	rx, n, kind := cons.RxBurst(0, 10)
	require.Equal(t, errs.OK, kind)
	require.Equal(t, 2, n)
	require.Equal(t, "hello", string(rx[0].Data[:rx[0].DataLen]))
	require.Equal(t, "world!", string(rx[1].Data[:rx[1].DataLen]))

	freed, kind := cons.BufferFree(0, rx)
	require.Equal(t, errs.OK, kind)
	require.Equal(t, 2, freed)
}

func TestBufferAllocReportsRingFullWhenOverSubscribed(t *testing.T) {
	prod, _ := newConnectedPair(t, 2, 64) // 4 slots, 3 usable at once

	bufs, n, kind := prod.BufferAlloc(0, 10)
	require.Equal(t, errs.ERingFull, kind)
	require.Equal(t, 3, n)
	require.Len(t, bufs, 3)
}

func TestBufferAllocAfterTxBurstAccountsForOutstandingAllocs(t *testing.T) {
	prod, _ := newConnectedPair(t, 2, 64) // 4 slots

	first, n, kind := prod.BufferAlloc(0, 2)
	require.Equal(t, errs.OK, kind)
	require.Equal(t, 2, n)
	_, _ = prod.TxBurst(0, first)

	// head advanced by 2, tail untouched: only 1 more slot free.
	second, n, kind := prod.BufferAlloc(0, 2)
	require.Equal(t, errs.ERingFull, kind)
	require.Equal(t, 1, n)
	require.Len(t, second, 1)
}

func TestRxBurstReturnsEmptyWhenNothingProduced(t *testing.T) {
	_, cons := newConnectedPair(t, 2, 64)

	rx, n, kind := cons.RxBurst(0, 10)
	require.Equal(t, errs.OK, kind)
	require.Equal(t, 0, n)
	require.Empty(t, rx)
}

func TestDataPathRejectsUnknownQueueID(t *testing.T) {
	prod, cons := newConnectedPair(t, 2, 64)

	_, _, kind := prod.BufferAlloc(7, 1)
	require.Equal(t, errs.EInvalArg, kind)

	_, _, kind = cons.RxBurst(7, 1)
	require.Equal(t, errs.EInvalArg, kind)
}

func TestDataPathRejectsDisconnectedEndpoint(t *testing.T) {
	prod, _ := newConnectedPair(t, 2, 64)
	prod.state = StateHandshaking

	_, _, kind := prod.BufferAlloc(0, 1)
	require.Equal(t, errs.EDisconnected, kind)

	_, kind = prod.TxBurst(0, nil)
	require.Equal(t, errs.EDisconnected, kind)

	_, _, kind = prod.RxBurst(0, 1)
	require.Equal(t, errs.EDisconnected, kind)

	_, kind = prod.BufferFree(0, nil)
	require.Equal(t, errs.EDisconnected, kind)
}
