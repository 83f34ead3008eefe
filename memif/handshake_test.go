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
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ondrej-fabry/libmemif/errs"
)

// pumpUntil drives both contexts' built-in loops until cond reports
// true or deadline elapses.
func pumpUntil(t *testing.T, deadline time.Duration, cond func() bool, ctxs ...*Context) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if cond() {
			return
		}
		for _, c := range ctxs {
			require.NoError(t, c.PollEvent(20))
		}
	}
	t.Fatalf("condition not reached within %s", deadline)
}

func TestMasterSlaveHandshakeConnectsAndExchangesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memif.sock")

	masterCtx, err := NewContext(nil, NoopLogger)
	require.NoError(t, err)
	slaveCtx, err := NewContext(nil, NoopLogger)
	require.NoError(t, err)

	var masterConnected, slaveConnected atomic.Bool
	// the listener returned by Create stays Listening; each accepted
	// peer is its own endpoint, handed to OnConnect once connected.
	var masterPeer *Endpoint

	masterEp, kind := masterCtx.Create(Arguments{
		Role:          RoleMaster,
		SocketPath:    path,
		InterfaceName: "if0",
		InstanceName:  "master",
		Log2RingSize:  2,
		BufferSize:    64,
		NumS2MRings:   1,
		NumM2SRings:   1,
	}, Callbacks{OnConnect: func(ep *Endpoint) {
		masterPeer = ep
		masterConnected.Store(true)
	}})
	require.Equal(t, errs.OK, kind)
	require.Equal(t, StateListening, masterEp.State())

	slaveEp, kind := slaveCtx.Create(Arguments{
		Role:          RoleSlave,
		SocketPath:    path,
		InterfaceName: "if0",
		InstanceName:  "slave",
		Log2RingSize:  2,
		BufferSize:    64,
		NumS2MRings:   1,
		NumM2SRings:   1,
	}, Callbacks{OnConnect: func(*Endpoint) { slaveConnected.Store(true) }})
	require.Equal(t, errs.OK, kind)
	require.Equal(t, StateDisconnected, slaveEp.State())

	pumpUntil(t, 6*time.Second, func() bool {
		return masterConnected.Load() && slaveConnected.Load()
	}, masterCtx, slaveCtx)

	require.Equal(t, StateConnected, masterPeer.State())
	require.Equal(t, StateConnected, slaveEp.State())

	md := masterCtx.GetDetails(masterPeer)
	require.True(t, md.LinkUp)
	require.Equal(t, "if0", md.RemoteInterfaceName)

	sd := slaveCtx.GetDetails(slaveEp)
	require.True(t, sd.LinkUp)
	require.Equal(t, "if0", sd.RemoteInterfaceName)

	bufs, n, dpKind := masterPeer.BufferAlloc(0, 1)
	require.Equal(t, errs.OK, dpKind)
	require.Equal(t, 1, n)
	copy(bufs[0].Data, []byte("ping"))
	bufs[0].DataLen = 4
	_, dpKind = masterPeer.TxBurst(0, bufs)
	require.Equal(t, errs.OK, dpKind)

	var rx []Buffer
	pumpUntil(t, time.Second, func() bool {
		var got int
		rx, got, dpKind = slaveEp.RxBurst(0, 10)
		return got > 0
	}, masterCtx, slaveCtx)
	require.Equal(t, errs.OK, dpKind)
	require.Equal(t, "ping", string(rx[0].Data[:rx[0].DataLen]))
	_, dpKind = slaveEp.BufferFree(0, rx)
	require.Equal(t, errs.OK, dpKind)

	require.Equal(t, errs.OK, masterCtx.Delete(masterEp))
	require.Equal(t, errs.OK, slaveCtx.Delete(slaveEp))
}

func TestSlaveReconnectsAfterMasterRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memif.sock")

	slaveCtx, err := NewContext(nil, NoopLogger)
	require.NoError(t, err)
	var connects atomic.Int32
	slaveEp, kind := slaveCtx.Create(Arguments{
		Role:         RoleSlave,
		SocketPath:   path,
		InstanceName: "slave",
	}, Callbacks{OnConnect: func(*Endpoint) { connects.Add(1) }})
	require.Equal(t, errs.OK, kind)

	masterCtx, err := NewContext(nil, NoopLogger)
	require.NoError(t, err)
	masterEp, kind := masterCtx.Create(Arguments{
		Role:         RoleMaster,
		SocketPath:   path,
		InstanceName: "master",
	}, Callbacks{})
	require.Equal(t, errs.OK, kind)

	pumpUntil(t, 6*time.Second, func() bool { return connects.Load() == 1 }, masterCtx, slaveCtx)
	require.Equal(t, errs.OK, masterCtx.Delete(masterEp))

	pumpUntil(t, 6*time.Second, func() bool { return slaveEp.State() == StateDisconnected }, slaveCtx)

	masterCtx2, err := NewContext(nil, NoopLogger)
	require.NoError(t, err)
	_, kind = masterCtx2.Create(Arguments{
		Role:         RoleMaster,
		SocketPath:   path,
		InstanceName: "master",
	}, Callbacks{})
	require.Equal(t, errs.OK, kind)

	pumpUntil(t, 6*time.Second, func() bool { return connects.Load() == 2 }, masterCtx2, slaveCtx)
}

func TestDeleteIsIdempotentOnIdleSlave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memif.sock")

	slaveCtx, err := NewContext(nil, NoopLogger)
	require.NoError(t, err)
	slaveEp, kind := slaveCtx.Create(Arguments{
		Role:         RoleSlave,
		SocketPath:   path,
		InstanceName: "slave",
	}, Callbacks{})
	require.Equal(t, errs.OK, kind)
	require.Equal(t, StateDisconnected, slaveEp.State())

	require.Equal(t, errs.OK, slaveCtx.Delete(slaveEp))
	require.Equal(t, errs.ENoConn, slaveCtx.Delete(slaveEp))
}
