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

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBuiltInLoopFiresOnReadable(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	defer r.Close()
	require.True(t, r.BuiltIn())

	fds, err := unix.Pipe2(unix.O_NONBLOCK)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	fired := make(chan EventMask, 1)
	require.NoError(t, r.Register(fds[0], Read, func(fd int, mask EventMask) error {
		fired <- mask
		return nil
	}))

	_, err = unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	require.NoError(t, r.PollEvent(1000))
	select {
	case mask := <-fired:
		require.NotZero(t, mask&Read)
	default:
		t.Fatal("handler was not invoked by PollEvent")
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	defer r.Close()

	fds, err := unix.Pipe2(unix.O_NONBLOCK)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	calls := 0
	require.NoError(t, r.Register(fds[0], Read, func(fd int, mask EventMask) error {
		calls++
		return nil
	}))
	require.NoError(t, r.Unregister(fds[0]))

	_, err = unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)
	require.NoError(t, r.PollEvent(200))
	require.Equal(t, 0, calls)
}

type recordingUpdater struct {
	updates []EventMask
}

func (u *recordingUpdater) OnControlFdUpdate(fd int, mask EventMask) error {
	u.updates = append(u.updates, mask)
	return nil
}

func TestExternalUpdaterReceivesRegistrations(t *testing.T) {
	u := &recordingUpdater{}
	r, err := New(u)
	require.NoError(t, err)
	require.False(t, r.BuiltIn())

	require.NoError(t, r.Register(42, Read, func(int, EventMask) error { return nil }))
	require.NoError(t, r.Modify(42, Write))
	require.NoError(t, r.Unregister(42))

	require.Len(t, u.updates, 3)
	require.Error(t, r.PollEvent(10), "PollEvent must refuse to run when an external updater owns polling")
}

func TestHandleDispatchesToRegisteredHandler(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	defer r.Close()

	seen := -1
	require.NoError(t, r.Register(7, Read, func(fd int, mask EventMask) error {
		seen = fd
		return nil
	}))
	require.NoError(t, r.Handle(7, Read))
	require.Equal(t, 7, seen)

	// an unregistered fd is simply ignored, not an error
	require.NoError(t, r.Handle(999, Read))
}

func TestReconnectTimerTicksAndDrains(t *testing.T) {
	timer, err := NewReconnectTimer(20 * time.Millisecond)
	require.NoError(t, err)
	defer timer.Close()

	timer.Arm(10 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	fds := []unix.PollFd{{Fd: int32(timer.Fd()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 100)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	timer.Drain()
	timer.Disarm()
}
