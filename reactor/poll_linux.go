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

import "golang.org/x/sys/unix"

type epoller struct {
	epfd int
}

func openPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epoller{epfd: epfd}, nil
}

func toEpollEvents(m EventMask) uint32 {
	var ev uint32
	if m&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if m&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	// no EPOLLET: the reactor is level-triggered by design, so a fd
	// that is still ready after being handled is reported again.
	return ev
}

func fromEpollEvents(ev uint32) EventMask {
	var m EventMask
	if ev&unix.EPOLLIN != 0 {
		m |= Read
	}
	if ev&unix.EPOLLOUT != 0 {
		m |= Write
	}
	if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		m |= Error
	}
	return m
}

func (p *epoller) add(fd int, mask EventMask) error {
	ev := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epoller) modify(fd int, mask EventMask) error {
	ev := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epoller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epoller) wait(timeoutMillis int) ([]event, error) {
	raw := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(p.epfd, raw, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, event{fd: int(raw[i].Fd), mask: fromEpollEvents(raw[i].Events)})
	}
	return out, nil
}

func (p *epoller) close() error {
	return unix.Close(p.epfd)
}
