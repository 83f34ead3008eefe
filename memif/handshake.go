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
	"golang.org/x/sys/unix"

	"github.com/ondrej-fabry/libmemif/errs"
	"github.com/ondrej-fabry/libmemif/reactor"
	"github.com/ondrej-fabry/libmemif/region"
	"github.com/ondrej-fabry/libmemif/ring"
	"github.com/ondrej-fabry/libmemif/wire"
)

// makeListenHandler returns the reactor callback for a master's listen
// fd: accept one peer, allocate it as a new handshaking endpoint, and
// send HELLO.
func (c *Context) makeListenHandler(listener *Endpoint) reactor.Handler {
	return func(fd int, mask reactor.EventMask) error {
		connFd, err := wire.Accept(listener.listenFd)
		if err != nil {
			c.logger.Warnf("memif: accept on %s: %v", listener.args.SocketPath, err)
			return nil
		}

		peer := &Endpoint{
			ctx:          c,
			args:         listener.args,
			cb:           listener.cb,
			role:         RoleMaster,
			listenFd:     -1,
			controlFd:    connFd,
			parent:       listener,
			state:        StateHandshaking,
			regions:      region.NewRegistry(maxRegions),
			recvRegionFd: -1,
		}
		listener.peers = append(listener.peers, peer)
		c.endpoints[connFd] = peer

		hello := wire.Hello{
			MinVersion:  wire.Version,
			MaxVersion:  wire.Version,
			MaxLog2Ring: listener.args.Log2RingSize,
			MaxRegion:   maxRegions,
			MaxRing:     maxRings,
		}
		copy(hello.Name[:], truncatedNameBytes(listener.args.InstanceName, wire.NameSize))
		peer.outQueue.Enqueue(wire.EncodeHello(hello))

		if err := c.registerControlFd(peer); err != nil {
			c.failHandshake(peer, errs.ECallbackFailed, "register control fd")
			return nil
		}
		c.flush(peer)
		return nil
	}
}

// makeReconnectHandler returns the reactor callback fired on every
// reconnect timer tick for a slave endpoint.
func (c *Context) makeReconnectHandler(e *Endpoint) reactor.Handler {
	return func(fd int, mask reactor.EventMask) error {
		e.reconnectTimer.Drain()
		if e.state != StateDisconnected {
			return nil
		}

		connFd, err := wire.Connect(e.args.SocketPath)
		if err != nil {
			kind := errs.FromErrno(err, true)
			if kind != errs.OK {
				c.logger.Warnf("memif: connect to %s: %v", e.args.SocketPath, err)
			}
			return nil // remain disconnected; the timer will tick again
		}

		e.reconnectTimer.Disarm()
		e.controlFd = connFd
		e.state = StateHandshaking
		c.endpoints[connFd] = e
		if err := c.registerControlFd(e); err != nil {
			c.failHandshake(e, errs.ECallbackFailed, "register control fd")
		}
		return nil
	}
}

func (c *Context) registerControlFd(e *Endpoint) error {
	return c.reactor.Register(e.controlFd, reactor.Read, c.makeControlHandler(e))
}

// makeControlHandler returns the reactor callback for a handshaking or
// connected endpoint's control socket.
func (c *Context) makeControlHandler(e *Endpoint) reactor.Handler {
	return func(fd int, mask reactor.EventMask) error {
		if mask&reactor.Error != 0 {
			c.onPeerGone(e)
			return nil
		}
		if mask&reactor.Write != 0 {
			c.flush(e)
		}
		if mask&reactor.Read != 0 {
			c.onReadable(e)
		}
		return nil
	}
}

func (c *Context) onReadable(e *Endpoint) {
	payload, fd, err := wire.Recv(e.controlFd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		c.onPeerGone(e)
		return
	}

	kind, err := wire.PeekKind(payload)
	if err != nil {
		c.failHandshake(e, errs.EMalformedMsg, "malformed message")
		return
	}

	switch kind {
	case wire.KindHello:
		c.handleHello(e, payload)
	case wire.KindInit:
		c.handleInit(e, payload, fd)
	case wire.KindAddRegion:
		c.handleAddRegion(e, payload, fd)
	case wire.KindAddRing:
		c.handleAddRing(e, payload, fd)
	case wire.KindConnect:
		c.handleConnect(e, payload)
	case wire.KindConnected:
		c.handleConnected(e, payload)
	case wire.KindDisconnect:
		c.handleDisconnect(e, payload)
	case wire.KindAck:
		// reserved, nothing to do
	default:
		c.failHandshake(e, errs.EUnknownMsgType, "unknown message kind")
	}

	c.flush(e)
}

func (c *Context) flush(e *Endpoint) {
	if e.outQueue.Empty() {
		return
	}
	if _, err := e.outQueue.Flush(e.controlFd); err != nil {
		c.onPeerGone(e)
		return
	}
	if e.outQueue.Empty() {
		c.reactor.Modify(e.controlFd, reactor.Read)
	} else {
		c.reactor.Modify(e.controlFd, reactor.Read|reactor.Write)
	}
}

// --- slave side ---

func (c *Context) handleHello(e *Endpoint, payload []byte) {
	if e.role != RoleSlave {
		return
	}
	hello, err := wire.DecodeHello(payload)
	if err != nil {
		c.failHandshake(e, errs.EMalformedMsg, "malformed HELLO")
		return
	}
	e.remoteInstanceName = fmtName(hello.Name[:])

	log2 := e.args.Log2RingSize
	if hello.MaxLog2Ring < log2 {
		log2 = hello.MaxLog2Ring
	}
	e.log2RingSize = log2

	size := ring.RegionSize(e.args.NumS2MRings, e.args.NumM2SRings, log2, int(e.args.BufferSize))
	reg, err := region.Create(size)
	if err != nil {
		c.failHandshake(e, errs.FromErrno(unwrapErrno(err), false), "create region")
		return
	}
	e.primaryRegion = reg
	if _, addErr := e.regions.Add(reg); addErr != nil {
		c.failHandshake(e, errs.ETooManyRegions, "region registry full")
		return
	}

	bufArea := ring.BufferAreaOffset(e.args.NumS2MRings, e.args.NumM2SRings, log2)
	for i := 0; i < e.args.NumS2MRings; i++ {
		off := ring.RingOffset(ring.S2M, i, e.args.NumS2MRings, log2)
		r := ring.Bind(reg.Mem[off:off+ring.RingSize(log2)], log2)
		r.Init(0, bufArea, i, e.args.BufferSize)
		fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
		if err != nil {
			c.failHandshake(e, errs.FromErrno(unwrapErrno(err), false), "create interrupt eventfd")
			return
		}
		e.s2mQueues = append(e.s2mQueues, newQueue(i, ring.S2M, r, reg.Mem, fd))
	}
	for i := 0; i < e.args.NumM2SRings; i++ {
		off := ring.RingOffset(ring.M2S, i, e.args.NumS2MRings, log2)
		r := ring.Bind(reg.Mem[off:off+ring.RingSize(log2)], log2)
		r.Init(0, bufArea, e.args.NumS2MRings+i, e.args.BufferSize)
		fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
		if err != nil {
			c.failHandshake(e, errs.FromErrno(unwrapErrno(err), false), "create interrupt eventfd")
			return
		}
		e.m2sQueues = append(e.m2sQueues, newQueue(i, ring.M2S, r, reg.Mem, fd))
	}

	var in wire.Init
	in.Version = wire.Version
	in.InterfaceID = e.args.InterfaceID
	in.Mode = uint8(e.args.Mode)
	copy(in.Name[:], truncatedNameBytes(e.args.InstanceName, wire.NameSize))
	if e.args.Secret != "" {
		in.HasSecret = true
		copy(in.Secret[:], truncatedNameBytes(e.args.Secret, wire.SecretSize))
	}
	e.outQueue.Enqueue(wire.EncodeInit(in))
	e.outQueue.EnqueueWithFd(wire.EncodeAddRegion(wire.AddRegion{RegionIndex: 0, Size: uint32(size)}), reg.Fd)

	for _, q := range e.s2mQueues {
		e.outQueue.EnqueueWithFd(wire.EncodeAddRing(wire.AddRing{
			Direction: wire.DirS2M, RingIndex: uint16(q.id), RegionIndex: 0,
			Offset: uint32(ring.RingOffset(ring.S2M, q.id, e.args.NumS2MRings, log2)), Log2Size: log2,
		}), q.interruptFd)
	}
	for _, q := range e.m2sQueues {
		e.outQueue.EnqueueWithFd(wire.EncodeAddRing(wire.AddRing{
			Direction: wire.DirM2S, RingIndex: uint16(q.id), RegionIndex: 0,
			Offset: uint32(ring.RingOffset(ring.M2S, q.id, e.args.NumS2MRings, log2)), Log2Size: log2,
		}), q.interruptFd)
	}

	var conn wire.ConnectMsg
	copy(conn.Name[:], truncatedNameBytes(e.args.InterfaceName, wire.NameSize))
	e.outQueue.Enqueue(wire.EncodeConnect(conn))
}

func (c *Context) handleConnected(e *Endpoint, payload []byte) {
	if e.role != RoleSlave {
		return
	}
	m, err := wire.DecodeConnected(payload)
	if err != nil {
		c.failHandshake(e, errs.EMalformedMsg, "malformed CONNECTED")
		return
	}
	e.remoteIfName = fmtName(m.Name[:])
	e.state = StateConnected
	if e.cb.OnConnect != nil {
		e.cb.OnConnect(e)
	}
}

// --- master side ---

func (c *Context) handleInit(e *Endpoint, payload []byte, fd int) {
	if e.role != RoleMaster {
		return
	}
	in, err := wire.DecodeInit(payload)
	if err != nil {
		c.failHandshake(e, errs.EMalformedMsg, "malformed INIT")
		return
	}
	if in.Version != wire.Version {
		c.failHandshake(e, errs.EProtoVersion, "protocol version mismatch")
		return
	}
	if e.args.Secret != "" {
		if !in.HasSecret {
			c.failHandshake(e, errs.ESecretRequired, "secret required")
			return
		}
		var want [wire.SecretSize]byte
		copy(want[:], truncatedNameBytes(e.args.Secret, wire.SecretSize))
		if in.Secret != want {
			c.failHandshake(e, errs.ESecretMismatch, "secret mismatch")
			return
		}
	}
	if e.args.InterfaceID != 0 && in.InterfaceID != e.args.InterfaceID {
		c.failHandshake(e, errs.EIfaceIDMismatch, "interface id mismatch")
		return
	}
	if Mode(in.Mode) != e.args.Mode {
		c.failHandshake(e, errs.EModeMismatch, "mode mismatch")
		return
	}
	e.interfaceID = in.InterfaceID
	e.remoteInstanceName = fmtName(in.Name[:])
	e.recvRegionFd = -1
}

func (c *Context) handleAddRegion(e *Endpoint, payload []byte, fd int) {
	if e.role != RoleMaster {
		return
	}
	a, err := wire.DecodeAddRegion(payload)
	if err != nil {
		c.failHandshake(e, errs.EMalformedMsg, "malformed ADD_REGION")
		return
	}
	if fd < 0 {
		c.failHandshake(e, errs.ENoSharedMemFD, "missing region fd")
		return
	}
	e.recvRegionFd = fd
	e.recvRegionSize = int(a.Size)
}

func (c *Context) handleAddRing(e *Endpoint, payload []byte, fd int) {
	if e.role != RoleMaster {
		return
	}
	a, err := wire.DecodeAddRing(payload)
	if err != nil {
		c.failHandshake(e, errs.EMalformedMsg, "malformed ADD_RING")
		return
	}
	if fd < 0 {
		c.failHandshake(e, errs.ENoIntFD, "missing interrupt fd")
		return
	}
	if len(e.recvRings) >= maxRings {
		c.failHandshake(e, errs.ETooManyRings, "too many rings")
		return
	}
	e.recvRings = append(e.recvRings, recvRing{msg: a, fd: fd})
}

func (c *Context) handleConnect(e *Endpoint, payload []byte) {
	if e.role != RoleMaster {
		return
	}
	m, err := wire.DecodeConnect(payload)
	if err != nil {
		c.failHandshake(e, errs.EMalformedMsg, "malformed CONNECT")
		return
	}
	if e.recvRegionFd < 0 {
		c.failHandshake(e, errs.ENoSharedMemFD, "no region announced before CONNECT")
		return
	}
	wantRings := e.args.NumS2MRings + e.args.NumM2SRings
	if len(e.recvRings) < wantRings {
		c.failHandshake(e, errs.ETooManyRings, "fewer rings announced than expected")
		return
	}

	reg, err := region.Map(e.recvRegionFd, e.recvRegionSize)
	if err != nil {
		c.failHandshake(e, errs.FromErrno(unwrapErrno(err), false), "map region")
		return
	}
	e.primaryRegion = reg
	e.regions.Add(reg)

	for _, rr := range e.recvRings {
		r := ring.Bind(reg.Mem[rr.msg.Offset:rr.msg.Offset+uint32(ring.RingSize(rr.msg.Log2Size))], rr.msg.Log2Size)
		if !r.CookieValid() {
			c.failHandshake(e, errs.EBadRingCookie, "bad ring cookie")
			return
		}
		if rr.msg.Direction == wire.DirS2M {
			e.s2mQueues = append(e.s2mQueues, newQueue(int(rr.msg.RingIndex), ring.S2M, r, reg.Mem, rr.fd))
		} else {
			e.m2sQueues = append(e.m2sQueues, newQueue(int(rr.msg.RingIndex), ring.M2S, r, reg.Mem, rr.fd))
		}
	}

	e.remoteIfName = fmtName(m.Name[:])
	e.log2RingSize = e.recvRings[0].msg.Log2Size

	var connected wire.ConnectMsg
	copy(connected.Name[:], truncatedNameBytes(e.args.InterfaceName, wire.NameSize))
	e.outQueue.Enqueue(wire.EncodeConnected(connected))

	e.state = StateConnected
	if e.cb.OnConnect != nil {
		e.cb.OnConnect(e)
	}
}

// --- shared teardown path ---

func (c *Context) handleDisconnect(e *Endpoint, payload []byte) {
	d, err := wire.DecodeDisconnect(payload)
	if err != nil {
		c.failHandshake(e, errs.EMalformedMsg, "malformed DISCONNECT")
		return
	}
	e.remoteDisconnectReason = d.ReasonString()
	c.teardown(e, false)
}

func (c *Context) onPeerGone(e *Endpoint) {
	e.remoteDisconnectReason = "peer socket closed"
	c.teardown(e, false)
}

// failHandshake sends a best-effort DISCONNECT carrying kind, then
// tears the endpoint down. Per the failure policy, any syscall or
// protocol failure during handshake is recovered locally: the endpoint
// becomes disconnecting, never a process-level error.
func (c *Context) failHandshake(e *Endpoint, kind errs.Kind, reason string) {
	c.logger.Warnf("memif: handshake failed on fd %d: %s (%s)", e.controlFd, reason, errs.Strerror(kind))
	if e.controlFd >= 0 {
		wire.Send(e.controlFd, wire.EncodeDisconnect(uint32(kind), reason), -1)
	}
	c.teardown(e, false)
}

// teardown runs the disconnecting sequence: unmap the region, close
// every fd this side created, deregister from the reactor, free
// queues and the outgoing queue, and invoke OnDisconnect. A slave
// endpoint that is not being destroyed re-arms its reconnect timer and
// returns to Disconnected; everything else is freed from the
// context's bookkeeping.
func (c *Context) teardown(e *Endpoint, destroy bool) {
	if e.state == StateDisconnecting || e.state == StateDisconnected {
		return
	}
	e.state = StateDisconnecting

	if e.controlFd >= 0 {
		c.reactor.Unregister(e.controlFd)
		delete(c.endpoints, e.controlFd)
		unix.Close(e.controlFd)
		e.controlFd = -1
	}
	for _, q := range e.s2mQueues {
		unix.Close(q.interruptFd)
	}
	for _, q := range e.m2sQueues {
		unix.Close(q.interruptFd)
	}
	e.s2mQueues = nil
	e.m2sQueues = nil
	if err := e.regions.CloseAll(); err != nil {
		c.logger.Warnf("memif: closing regions: %v", err)
	}
	e.primaryRegion = nil
	e.outQueue.Reset()

	if e.cb.OnDisconnect != nil {
		e.cb.OnDisconnect(e)
	}

	if e.role == RoleSlave {
		if !destroy {
			e.state = StateDisconnected
			c.endpoints[e.reconnectTimer.Fd()] = e
			e.reconnectTimer.Arm(reconnectInitialDelay)
			return
		}
		if e.reconnectTimer != nil {
			c.reactor.Unregister(e.reconnectTimer.Fd())
			delete(c.endpoints, e.reconnectTimer.Fd())
			e.reconnectTimer.Close()
		}
	}

	if e.role == RoleMaster && e.parent != nil && !destroy {
		// an accepted peer that disconnected is simply dropped; the
		// listener keeps accepting new peers.
		peers := e.parent.peers[:0]
		for _, p := range e.parent.peers {
			if p != e {
				peers = append(peers, p)
			}
		}
		e.parent.peers = peers
	}
	e.state = StatePreInit
}
