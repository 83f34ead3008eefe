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

//go:build darwin || netbsd || freebsd || openbsd || dragonfly
// +build darwin netbsd freebsd openbsd dragonfly

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

type kqueuePoller struct {
	fd int
	// registered tracks which filters are currently armed per fd, since
	// kqueue (unlike epoll) has no single combined read+write event and
	// no MOD operation: changing a fd's mask means adding/deleting the
	// read and write filters independently.
	registered map[int]EventMask
}

func openPoller() (poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{fd: fd, registered: make(map[int]EventMask)}, nil
}

func (p *kqueuePoller) changelistFor(fd int, want EventMask) []unix.Kevent_t {
	have := p.registered[fd]
	var changes []unix.Kevent_t
	addOrDel := func(filter int16, wantBit, haveBit bool) {
		if wantBit == haveBit {
			return
		}
		ev := unix.Kevent_t{Ident: uint64(fd), Filter: filter}
		if wantBit {
			ev.Flags = unix.EV_ADD | unix.EV_ENABLE
		} else {
			ev.Flags = unix.EV_DELETE
		}
		changes = append(changes, ev)
	}
	addOrDel(unix.EVFILT_READ, want&Read != 0, have&Read != 0)
	addOrDel(unix.EVFILT_WRITE, want&Write != 0, have&Write != 0)
	return changes
}

func (p *kqueuePoller) add(fd int, mask EventMask) error {
	changes := p.changelistFor(fd, mask)
	if len(changes) > 0 {
		if _, err := unix.Kevent(p.fd, changes, nil, nil); err != nil {
			return err
		}
	}
	p.registered[fd] = mask
	return nil
}

func (p *kqueuePoller) modify(fd int, mask EventMask) error {
	return p.add(fd, mask)
}

func (p *kqueuePoller) remove(fd int) error {
	changes := p.changelistFor(fd, 0)
	if len(changes) > 0 {
		if _, err := unix.Kevent(p.fd, changes, nil, nil); err != nil {
			return err
		}
	}
	delete(p.registered, fd)
	return nil
}

func (p *kqueuePoller) wait(timeoutMillis int) ([]event, error) {
	raw := make([]unix.Kevent_t, 64)
	var ts *unix.Timespec
	if timeoutMillis >= 0 {
		d := time.Duration(timeoutMillis) * time.Millisecond
		ts = &unix.Timespec{Sec: int64(d / time.Second), Nsec: int64(d % time.Second)}
	}
	n, err := unix.Kevent(p.fd, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]event, 0, n)
	for i := 0; i < n; i++ {
		ev := raw[i]
		var m EventMask
		switch ev.Filter {
		case unix.EVFILT_READ:
			m = Read
		case unix.EVFILT_WRITE:
			m = Write
		}
		if ev.Flags&unix.EV_EOF != 0 {
			m |= Error
		}
		out = append(out, event{fd: int(ev.Ident), mask: m})
	}
	return out, nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.fd)
}
