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

// Package reactor multiplexes the file descriptors one context needs
// polled: the master listen socket, connected control sockets, the
// slave reconnect timer, and optionally per-queue interrupt eventfds.
// It either drives its own built-in level-triggered loop, or reports
// fd/event-mask changes to a host-supplied callback so the application
// can fold them into its own event loop.
package reactor

import "fmt"

// EventMask is a bitset over the event kinds a registered fd can be
// polled for or report.
type EventMask uint32

const (
	Read EventMask = 1 << iota
	Write
	Error
	Delete
	Modify
)

func (m EventMask) String() string {
	s := ""
	for _, b := range []struct {
		bit  EventMask
		name string
	}{{Read, "read"}, {Write, "write"}, {Error, "error"}, {Delete, "delete"}, {Modify, "modify"}} {
		if m&b.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += b.name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// ControlFdUpdater receives notice whenever the reactor needs a fd
// polled for a new set of events, added, or removed. A host
// application implements this to fold memif's fds into its own event
// loop; ControlFdHandler below is how it then delivers readiness back.
type ControlFdUpdater interface {
	OnControlFdUpdate(fd int, mask EventMask) error
}

// Handler is invoked by the reactor (built-in loop) or by the host
// application (via ControlFdHandler) when fd becomes ready for the
// events in mask.
type Handler func(fd int, mask EventMask) error

// poller is the OS-specific backend; Linux uses epoll, BSD uses
// kqueue. Both are level-triggered: a fd that is still readable after
// being handled is reported again next Wait, matching §4.6's
// level-triggered multiplexer requirement.
type poller interface {
	add(fd int, mask EventMask) error
	modify(fd int, mask EventMask) error
	remove(fd int) error
	wait(timeoutMillis int) ([]event, error)
	close() error
}

type event struct {
	fd   int
	mask EventMask
}

// Reactor is a context-owned event loop: it holds no package-level
// state, so multiple contexts (and multiple reactors) can coexist.
type Reactor struct {
	poll     poller
	updater  ControlFdUpdater // nil when running the built-in loop
	handlers map[int]Handler
}

// New creates a reactor. If updater is non-nil, the reactor never
// polls on its own: every Register/Unregister call is instead reported
// to updater, and the host application must call Handle(fd, mask)
// itself when its own multiplexer reports readiness. If updater is
// nil, PollEvent drives the reactor's own built-in poller.
func New(updater ControlFdUpdater) (*Reactor, error) {
	r := &Reactor{updater: updater, handlers: make(map[int]Handler)}
	if updater == nil {
		p, err := openPoller()
		if err != nil {
			return nil, fmt.Errorf("open poller: %w", err)
		}
		r.poll = p
	}
	return r, nil
}

// Register starts polling fd for mask and dispatches readiness to h.
func (r *Reactor) Register(fd int, mask EventMask, h Handler) error {
	r.handlers[fd] = h
	if r.updater != nil {
		return r.updater.OnControlFdUpdate(fd, mask)
	}
	return r.poll.add(fd, mask)
}

// Modify changes the event mask a registered fd is polled for.
func (r *Reactor) Modify(fd int, mask EventMask) error {
	if r.updater != nil {
		return r.updater.OnControlFdUpdate(fd, mask|Modify)
	}
	return r.poll.modify(fd, mask)
}

// Unregister stops polling fd.
func (r *Reactor) Unregister(fd int) error {
	delete(r.handlers, fd)
	if r.updater != nil {
		return r.updater.OnControlFdUpdate(fd, Delete)
	}
	return r.poll.remove(fd)
}

// BuiltIn reports whether this reactor owns its poller (true) or
// delegates to a host-supplied ControlFdUpdater (false).
func (r *Reactor) BuiltIn() bool { return r.updater == nil }

// PollEvent drives one iteration of the built-in loop, waiting up to
// timeoutMillis for readiness and dispatching to registered handlers.
// It is an error to call PollEvent on a reactor configured with a
// ControlFdUpdater; use Handle instead, driven by the host's own loop.
func (r *Reactor) PollEvent(timeoutMillis int) error {
	if r.updater != nil {
		return fmt.Errorf("reactor: PollEvent called with an external control-fd updater installed")
	}
	events, err := r.poll.wait(timeoutMillis)
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := r.Handle(e.fd, e.mask); err != nil {
			return err
		}
	}
	return nil
}

// Handle dispatches a readiness notification for fd to its registered
// handler. Host applications with their own event loop call this
// directly (this is control_fd_handler in the external interface);
// the built-in loop calls it from PollEvent.
func (r *Reactor) Handle(fd int, mask EventMask) error {
	h, ok := r.handlers[fd]
	if !ok {
		return nil
	}
	return h(fd, mask)
}

// Close releases the built-in poller, if any.
func (r *Reactor) Close() error {
	if r.poll != nil {
		return r.poll.close()
	}
	return nil
}
