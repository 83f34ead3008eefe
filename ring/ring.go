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

package ring

import (
	"sync/atomic"
	"unsafe"
)

// Ring is a view over one ring's header and descriptor array inside a
// mapped shared memory region. It does not own the backing memory.
//
// Single-producer/single-consumer per ring: head is only ever written
// by the producer side, tail only by the consumer side. Ring itself
// does not know which side it is being used from; the memif data path
// enforces that by resolving producer operations only against an
// endpoint's tx queues and consumer operations only against its rx
// queues.
type Ring struct {
	base []byte // header followed by the descriptor array
	size uint32 // number of slots, 2^log2Size
}

// Bind wraps mem (which must be at least RingSize(log2Size) bytes,
// starting at the ring's header) without touching its contents.
func Bind(mem []byte, log2Size uint8) *Ring {
	return &Ring{base: mem, size: 1 << log2Size}
}

// Init zeroes the header, writes the cookie, and points every
// descriptor's offset/capacity at its backing buffer slot. Called once
// by the side that owns the region (the slave, by contract) before the
// region is handed to the peer.
func (r *Ring) Init(regionIndex uint16, bufferAreaOffset int, globalRingIndex int, bufferSize uint32) {
	for i := range r.base[:HeaderSize] {
		r.base[i] = 0
	}
	byteOrder.PutUint32(r.base[offCookie:], Cookie)
	for slot := uint32(0); slot < r.size; slot++ {
		d := r.Descriptor(slot)
		d.setRegionIndex(regionIndex)
		d.setBufferLength(bufferSize)
		off := bufferAreaOffset + BufferOffset(globalRingIndex, int(slot), log2(r.size), int(bufferSize))
		d.setOffset(uint32(off))
	}
}

func log2(n uint32) uint8 {
	var l uint8
	for n > 1 {
		n >>= 1
		l++
	}
	return l
}

// Size returns the number of slots in the ring.
func (r *Ring) Size() uint32 { return r.size }

// CookieValid reports whether the header's cookie matches the library
// magic. Must be checked before any data-path use once connected.
func (r *Ring) CookieValid() bool {
	return atomic.LoadUint32(r.word(offCookie)) == Cookie
}

// Flags returns the header flags word.
func (r *Ring) Flags() uint32 {
	return atomic.LoadUint32(r.word(offFlags))
}

// SetInterruptSuppressed sets or clears the interrupt-suppressed bit.
// Called by the consumer side to ask the producer not to signal.
func (r *Ring) SetInterruptSuppressed(suppressed bool) {
	p := r.word(offFlags)
	for {
		old := atomic.LoadUint32(p)
		var n uint32
		if suppressed {
			n = old | FlagInterruptSuppressed
		} else {
			n = old &^ FlagInterruptSuppressed
		}
		if atomic.CompareAndSwapUint32(p, old, n) {
			return
		}
	}
}

// Head returns the producer index with acquire-equivalent ordering
// (Go's sync/atomic loads/stores are sequentially consistent, a
// stronger guarantee than the acquire/release spec requires).
func (r *Ring) Head() uint32 { return atomic.LoadUint32(r.word(offHead)) }

// StoreHead publishes a new producer index. Callers must have already
// written every descriptor covered by the advance before calling this,
// since a consumer observing the new head is entitled to read them.
func (r *Ring) StoreHead(v uint32) { atomic.StoreUint32(r.word(offHead), v) }

// Tail returns the consumer index.
func (r *Ring) Tail() uint32 { return atomic.LoadUint32(r.word(offTail)) }

// StoreTail publishes a new consumer index, releasing the descriptors
// below it back to the producer.
func (r *Ring) StoreTail(v uint32) { atomic.StoreUint32(r.word(offTail), v) }

func (r *Ring) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.base[off]))
}

// Descriptor returns a view over slot i mod Size().
func (r *Ring) Descriptor(i uint32) Descriptor {
	slot := i % r.size
	start := HeaderSize + int(slot)*DescriptorSize
	return Descriptor{b: r.base[start : start+DescriptorSize]}
}

// Descriptor is a view over one ring slot.
type Descriptor struct {
	b []byte
}

func (d Descriptor) RegionIndex() uint16   { return byteOrder.Uint16(d.b[offRegionIndex:]) }
func (d Descriptor) Flags() uint16         { return byteOrder.Uint16(d.b[offDescFlags:]) }
func (d Descriptor) BufferLength() uint32  { return byteOrder.Uint32(d.b[offBufLen:]) }
func (d Descriptor) Length() uint32        { return byteOrder.Uint32(d.b[offLength:]) }
func (d Descriptor) Offset() uint32        { return byteOrder.Uint32(d.b[offOffset:]) }
func (d Descriptor) SetLength(v uint32)    { byteOrder.PutUint32(d.b[offLength:], v) }
func (d Descriptor) SetFlags(v uint16)     { byteOrder.PutUint16(d.b[offDescFlags:], v) }

func (d Descriptor) setRegionIndex(v uint16)  { byteOrder.PutUint16(d.b[offRegionIndex:], v) }
func (d Descriptor) setBufferLength(v uint32) { byteOrder.PutUint32(d.b[offBufLen:], v) }
func (d Descriptor) setOffset(v uint32)       { byteOrder.PutUint32(d.b[offOffset:], v) }
