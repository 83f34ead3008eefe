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

// Package memif is the public API: endpoint lifecycle, the master/
// slave handshake, and the shared-memory data path built on top of
// ring, region, wire, and reactor.
package memif

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/ondrej-fabry/libmemif/errs"
	"github.com/ondrej-fabry/libmemif/reactor"
	"github.com/ondrej-fabry/libmemif/region"
	"github.com/ondrej-fabry/libmemif/unsafex"
	"github.com/ondrej-fabry/libmemif/wire"
)

const (
	maxRegions = 1 // the data model allows at most one region per endpoint today
	maxRings   = 255

	reconnectInitialDelay = 2 * time.Second
	reconnectPeriod       = 2 * time.Second
)

// Context owns a reactor, a logger, and every endpoint created through
// it. Nothing about the library is process-wide: an application may
// run multiple independent Contexts.
type Context struct {
	logger  Logger
	reactor *reactor.Reactor
	// endpoints indexes every endpoint (listeners and peers) that owns
	// a pollable fd, by that fd. ControlFdHandler does not consult it:
	// readiness is routed through the reactor's own handler table.
	endpoints map[int]*Endpoint
}

// NewContext creates a context. If updater is non-nil, the reactor
// never polls on its own; the host application integrates memif's fds
// into its own multiplexer and calls ControlFdHandler when they fire.
// If updater is nil, PollEvent drives the built-in loop.
func NewContext(updater reactor.ControlFdUpdater, logger Logger) (*Context, error) {
	if logger == nil {
		logger = NoopLogger
	}
	r, err := reactor.New(updater)
	if err != nil {
		return nil, err
	}
	return &Context{logger: logger, reactor: r, endpoints: make(map[int]*Endpoint)}, nil
}

// Endpoint represents one logical interface: a master listener, or one
// slave/accepted-peer connection.
type Endpoint struct {
	ctx  *Context
	args Arguments
	cb   Callbacks
	role Role

	state State

	listenFd  int // master listener only, else -1
	controlFd int // handshaking/connected peer, else -1

	parent *Endpoint   // peer endpoints: the listener that spawned them
	peers  []*Endpoint // master listener only

	log2RingSize uint8
	interfaceID  uint32

	remoteIfName           string
	remoteInstanceName     string
	remoteDisconnectReason string

	regions       *region.Registry
	primaryRegion *region.Region
	s2mQueues     []*Queue
	m2sQueues     []*Queue

	outQueue wire.OutQueue

	reconnectTimer *reactor.ReconnectTimer // slave only

	// master-side: accumulated while waiting for CONNECT.
	recvRegionFd   int
	recvRegionSize int
	recvRings      []recvRing
}

type recvRing struct {
	msg wire.AddRing
	fd  int
}

func (e *Endpoint) State() State { return e.state }

// Create allocates a new endpoint. For a master, it binds and listens
// immediately (state -> Listening). For a slave, it arms the reconnect
// timer (state -> Disconnected) and returns immediately; the first
// connect attempt happens on the timer's first tick.
func (c *Context) Create(args Arguments, cb Callbacks) (*Endpoint, errs.Kind) {
	args = args.withDefaults()
	e := &Endpoint{
		ctx:       c,
		args:      args,
		cb:        cb,
		role:      args.Role,
		listenFd:  -1,
		controlFd: -1,
		regions:   region.NewRegistry(maxRegions),
	}

	if args.Role == RoleMaster {
		return e, c.createMaster(e)
	}
	return e, c.createSlave(e)
}

func (c *Context) createMaster(e *Endpoint) errs.Kind {
	fd, err := wire.Listen(e.args.SocketPath)
	if err != nil {
		c.logger.Errorf("memif: listen on %s: %v", e.args.SocketPath, err)
		return errs.FromErrno(unwrapErrno(err), false)
	}
	e.listenFd = fd
	e.state = StateListening
	c.endpoints[fd] = e
	if regErr := c.reactor.Register(fd, reactor.Read, c.makeListenHandler(e)); regErr != nil {
		unix.Close(fd)
		delete(c.endpoints, fd)
		return errs.ECallbackFailed
	}
	return errs.OK
}

func (c *Context) createSlave(e *Endpoint) errs.Kind {
	timer, err := reactor.NewReconnectTimer(reconnectPeriod)
	if err != nil {
		return errs.FromErrno(unwrapErrno(err), false)
	}
	e.reconnectTimer = timer
	e.state = StateDisconnected
	c.endpoints[timer.Fd()] = e
	if regErr := c.reactor.Register(timer.Fd(), reactor.Read, c.makeReconnectHandler(e)); regErr != nil {
		timer.Close()
		delete(c.endpoints, timer.Fd())
		return errs.ECallbackFailed
	}
	timer.Arm(reconnectInitialDelay)
	return errs.OK
}

// Delete tears down an endpoint. Deleting an idle slave (Disconnected)
// stops its reconnect timer and returns OK. Idempotent: calling Delete
// again on an endpoint that was already deleted or torn down (PreInit)
// returns ENoConn without side effects.
func (c *Context) Delete(e *Endpoint) errs.Kind {
	switch e.state {
	case StateDisconnected:
		if e.reconnectTimer != nil {
			c.reactor.Unregister(e.reconnectTimer.Fd())
			delete(c.endpoints, e.reconnectTimer.Fd())
			e.reconnectTimer.Close()
		}
		e.state = StatePreInit
		return errs.OK
	case StatePreInit:
		return errs.ENoConn
	}

	if e.state == StateListening {
		c.reactor.Unregister(e.listenFd)
		delete(c.endpoints, e.listenFd)
		unix.Close(e.listenFd)
		for _, peer := range e.peers {
			c.teardown(peer, true)
		}
		e.state = StatePreInit
		return errs.OK
	}

	c.teardown(e, true)
	return errs.OK
}

// ControlFdHandler delivers a readiness notification for fd to the
// context's reactor. Applications that installed their own
// ControlFdUpdater call this when their multiplexer reports fd ready.
func (c *Context) ControlFdHandler(fd int, mask reactor.EventMask) error {
	return c.reactor.Handle(fd, mask)
}

// PollEvent drives one iteration of the built-in event loop. It is an
// error to call this on a context configured with an external
// ControlFdUpdater.
func (c *Context) PollEvent(timeoutMillis int) error {
	return c.reactor.PollEvent(timeoutMillis)
}

// GetQueueEventFd returns the interrupt eventfd for qid, for
// applications that want to poll it directly. The context never
// registers interrupt eventfds with its reactor, so this is the only
// way to observe them.
func (c *Context) GetQueueEventFd(e *Endpoint, qid int) (int, errs.Kind) {
	for _, qs := range [][]*Queue{e.s2mQueues, e.m2sQueues} {
		for _, q := range qs {
			if q.id == qid {
				return q.interruptFd, errs.OK
			}
		}
	}
	return -1, errs.EInvalArg
}

// QueueDetail reports the negotiated identity of one ring, for
// applications that poll queue interrupt fds directly instead of
// relying on the built-in loop.
type QueueDetail struct {
	RingIndex   int
	InterruptFd int
}

// Details reports the negotiated state of a connected (or previously
// connected) endpoint.
type Details struct {
	Role                Role
	InterfaceID         uint32
	InterfaceName       string
	InstanceName        string
	RemoteInterfaceName string
	RemoteInstanceName  string
	SocketPath          string
	Mode                Mode
	HasSecret           bool
	LinkUp              bool
	Log2RingSize        uint8
	BufferSize          uint32
	NumS2MRings         int
	NumM2SRings         int
	S2MQueues           []QueueDetail
	M2SQueues           []QueueDetail
}

// GetDetails reports the endpoint's negotiated configuration.
func (c *Context) GetDetails(e *Endpoint) Details {
	d := Details{
		Role:                e.role,
		InterfaceID:         e.interfaceID,
		InterfaceName:       e.args.InterfaceName,
		InstanceName:        e.args.InstanceName,
		RemoteInterfaceName: e.remoteIfName,
		RemoteInstanceName:  e.remoteInstanceName,
		SocketPath:          e.args.SocketPath,
		Mode:                e.args.Mode,
		HasSecret:           e.args.Secret != "",
		LinkUp:              e.state == StateConnected,
		Log2RingSize:        e.log2RingSize,
		BufferSize:          e.args.BufferSize,
		NumS2MRings:         e.args.NumS2MRings,
		NumM2SRings:         e.args.NumM2SRings,
	}
	for _, q := range e.s2mQueues {
		d.S2MQueues = append(d.S2MQueues, QueueDetail{RingIndex: q.id, InterruptFd: q.interruptFd})
	}
	for _, q := range e.m2sQueues {
		d.M2SQueues = append(d.M2SQueues, QueueDetail{RingIndex: q.id, InterruptFd: q.interruptFd})
	}
	return d
}

// Strerror formats a stable diagnostic message for k.
func Strerror(k errs.Kind) string { return errs.Strerror(k) }

func unwrapErrno(err error) error {
	for {
		type unwrapper interface{ Unwrap() error }
		if u, ok := err.(unwrapper); ok {
			err = u.Unwrap()
			continue
		}
		return err
	}
}

// fmtName trims a fixed-size NUL-padded wire name field to its string
// content. BinaryToString avoids copying the trimmed slice; safe here
// because the decoded message buffer is never reused or mutated after
// this point in the handshake dispatch.
func fmtName(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return unsafex.BinaryToString(b[:n])
}
