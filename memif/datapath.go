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
)

// BufferAlloc claims up to want producer slots on a tx queue, for the
// caller to fill and submit with TxBurst. Returns the claimed buffers,
// how many were actually claimed, and errs.ERingFull if fewer than
// want were available.
func (e *Endpoint) BufferAlloc(qid int, want int) ([]Buffer, int, errs.Kind) {
	if e.state != StateConnected {
		return nil, 0, errs.EDisconnected
	}
	q, ok := e.txQueue(qid)
	if !ok {
		return nil, 0, errs.EInvalArg
	}

	size := q.ring.Size()
	head := q.ring.Head()
	tail := q.ring.Tail()
	// the -1 keeps head == tail unambiguously meaning "empty": a ring
	// that let free reach the full size could not distinguish all-free
	// from all-claimed.
	free := int(size) - int(head+q.allocBufs-tail) - 1
	if free < 0 {
		free = 0
	}

	got := want
	if got > free {
		got = free
	}

	out := make([]Buffer, got)
	for i := 0; i < got; i++ {
		slot := head + q.allocBufs + uint32(i)
		d := q.ring.Descriptor(slot)
		h := q.handle(slot)
		h.Data = q.regionMem[d.Offset() : d.Offset()+d.BufferLength()]
		h.DataLen = 0
		h.DescIndex = slot
		out[i] = *h
	}
	q.allocBufs += uint32(got)

	if got < want {
		return out, got, errs.ERingFull
	}
	return out, got, errs.OK
}

// TxBurst submits bufs (as returned by BufferAlloc, with DataLen set to
// the bytes actually written) for transmission: it publishes their
// descriptor lengths and advances head past them.
func (e *Endpoint) TxBurst(qid int, bufs []Buffer) (int, errs.Kind) {
	if e.state != StateConnected {
		return 0, errs.EDisconnected
	}
	q, ok := e.txQueue(qid)
	if !ok {
		return 0, errs.EInvalArg
	}

	for _, b := range bufs {
		d := q.ring.Descriptor(b.DescIndex)
		d.SetLength(b.DataLen)
	}
	n := uint32(len(bufs))
	// descriptor writes above must be visible to the consumer before it
	// observes the new head; StoreHead is a sequentially consistent
	// store, a stronger guarantee than the release ordering required.
	q.ring.StoreHead(q.ring.Head() + n)
	if q.allocBufs >= n {
		q.allocBufs -= n
	} else {
		q.allocBufs = 0
	}

	if q.ring.Flags()&uint32(1) == 0 { // interrupt not suppressed
		one := [8]byte{1}
		if _, err := unix.Write(q.interruptFd, one[:]); err != nil {
			return len(bufs), errs.EIntWrite
		}
	}
	return len(bufs), errs.OK
}

// RxBurst claims up to max newly available descriptors on an rx queue
// without releasing them; call BufferFree once done reading.
func (e *Endpoint) RxBurst(qid int, max int) ([]Buffer, int, errs.Kind) {
	if e.state != StateConnected {
		return nil, 0, errs.EDisconnected
	}
	q, ok := e.rxQueue(qid)
	if !ok {
		return nil, 0, errs.EInvalArg
	}

	head := q.ring.Head() // acquire-ordered: sync/atomic load
	available := int(head - q.lastHead)
	got := max
	if got > available {
		got = available
	}

	out := make([]Buffer, got)
	for i := 0; i < got; i++ {
		slot := q.lastHead + uint32(i)
		d := q.ring.Descriptor(slot)
		h := q.handle(slot)
		h.Data = q.regionMem[d.Offset() : d.Offset()+d.BufferLength()]
		h.DataLen = d.Length()
		h.DescIndex = slot
		out[i] = *h
	}
	q.lastHead += uint32(got)
	q.allocBufs += uint32(got)
	return out, got, errs.OK
}

// BufferFree releases bufs received via RxBurst back to the producer
// by advancing tail past them.
func (e *Endpoint) BufferFree(qid int, bufs []Buffer) (int, errs.Kind) {
	if e.state != StateConnected {
		return 0, errs.EDisconnected
	}
	q, ok := e.rxQueue(qid)
	if !ok {
		return 0, errs.EInvalArg
	}

	n := uint32(len(bufs))
	q.ring.StoreTail(q.ring.Tail() + n)
	if q.allocBufs >= n {
		q.allocBufs -= n
	} else {
		q.allocBufs = 0
	}
	return len(bufs), errs.OK
}

func (e *Endpoint) txQueue(qid int) (*Queue, bool) {
	dir := e.txDirection()
	for _, q := range e.queuesFor(dir) {
		if q.id == qid {
			return q, true
		}
	}
	return nil, false
}

func (e *Endpoint) rxQueue(qid int) (*Queue, bool) {
	dir := e.rxDirection()
	for _, q := range e.queuesFor(dir) {
		if q.id == qid {
			return q, true
		}
	}
	return nil, false
}

// txDirection/rxDirection account for the mirrored naming in §3: a
// slave's tx is s2m and rx is m2s; a master's tx is m2s and rx is s2m.
func (e *Endpoint) txDirection() Direction {
	if e.role == RoleSlave {
		return DirS2M
	}
	return DirM2S
}

func (e *Endpoint) rxDirection() Direction {
	if e.role == RoleSlave {
		return DirM2S
	}
	return DirS2M
}

func (e *Endpoint) queuesFor(dir Direction) []*Queue {
	if dir == DirS2M {
		return e.s2mQueues
	}
	return e.m2sQueues
}
