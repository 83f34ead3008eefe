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
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ReconnectTimer is the slave's fd-pollable reconnect clock: armed on
// slave creation and on disconnect, disarmed on successful connect or
// endpoint destruction, firing every period with no backoff. It is
// exposed as a readable fd (a single byte is written on every tick) so
// it can be registered with a Reactor exactly like any other fd,
// including one driven by a host application's own multiplexer.
type ReconnectTimer struct {
	period time.Duration

	mu      sync.Mutex
	armed   bool
	stopCh  chan struct{}
	readFd  int
	writeFd int
}

// NewReconnectTimer creates a disarmed timer with the given tick
// period. Call Arm to start it.
func NewReconnectTimer(period time.Duration) (*ReconnectTimer, error) {
	fds, err := unix.Pipe2(unix.O_NONBLOCK | unix.O_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &ReconnectTimer{period: period, readFd: fds[0], writeFd: fds[1]}, nil
}

// Fd returns the read end to register with a Reactor for Read events.
func (t *ReconnectTimer) Fd() int { return t.readFd }

// Arm starts (or restarts) the timer with the given initial delay
// before its first tick; every subsequent tick is `period` apart.
func (t *ReconnectTimer) Arm(initialDelay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		close(t.stopCh)
	}
	t.armed = true
	stop := make(chan struct{})
	t.stopCh = stop
	go t.run(initialDelay, stop)
}

func (t *ReconnectTimer) run(initialDelay time.Duration, stop chan struct{}) {
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			unix.Write(t.writeFd, []byte{1})
			timer.Reset(t.period)
		}
	}
}

// Disarm stops ticking without closing the fd, so the same timer can
// be re-armed later (e.g. after a disconnect).
func (t *ReconnectTimer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		close(t.stopCh)
		t.armed = false
	}
}

// Drain reads and discards every pending tick byte, acknowledging the
// readiness that woke a level-triggered poller; callers must do this
// on every tick, or the fd stays readable and spins the reactor.
func (t *ReconnectTimer) Drain() {
	var b [8]byte
	for {
		n, err := unix.Read(t.readFd, b[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close disarms the timer and closes both pipe ends.
func (t *ReconnectTimer) Close() error {
	t.Disarm()
	unix.Close(t.writeFd)
	return unix.Close(t.readFd)
}
