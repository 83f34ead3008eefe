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
	"github.com/ondrej-fabry/libmemif/ring"
)

// Direction mirrors ring.Direction from a queue's perspective.
type Direction = ring.Direction

const (
	DirS2M = ring.S2M
	DirM2S = ring.M2S
)

// Buffer is a handle onto one ring slot's backing packet buffer,
// returned by BufferAlloc and RxBurst.
type Buffer struct {
	Data      []byte // capacity-length view over the packet buffer
	DataLen   uint32 // bytes actually used; set by the caller before TxBurst, or by RxBurst on read
	DescIndex uint32 // free-running slot index (taken modulo the ring size), needed by TxBurst
}

// Queue is one direction's ring plus the bookkeeping needed to drive
// the data-path API against it.
type Queue struct {
	id          int
	dir         Direction
	ring        *ring.Ring
	regionMem   []byte // the mapped region this ring's buffers live in
	interruptFd int

	// handles is a single up-front allocation sized to the ring, one
	// Buffer per slot, reused slot by slot exactly like the teacher's
	// GC-friendly ring container: no resizing. BufferAlloc and RxBurst
	// still copy the handles into a newly allocated slice per burst.
	handles []Buffer

	lastHead  uint32 // rx only: consumer-side cached head
	allocBufs uint32 // tx: claimed-but-not-yet-submitted slots; rx: received-but-not-yet-freed slots
}

func newQueue(id int, dir Direction, r *ring.Ring, regionMem []byte, interruptFd int) *Queue {
	return &Queue{
		id:          id,
		dir:         dir,
		ring:        r,
		regionMem:   regionMem,
		interruptFd: interruptFd,
		handles:     make([]Buffer, r.Size()),
	}
}

// ID returns the logical queue id used by callers to address a queue
// in the data-path and interrupt-fd APIs.
func (q *Queue) ID() int { return q.id }

func (q *Queue) handle(slot uint32) *Buffer {
	return &q.handles[slot%uint32(len(q.handles))]
}
