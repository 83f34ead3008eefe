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

// Package bufpool pools the small fixed-size byte buffers that hold
// encoded outgoing control-channel messages, so a busy handshake
// (many ADD_RING messages for a wide ring fan-out) doesn't put pressure
// on the GC. Control messages top out at a few hundred bytes, so the
// size classes run 64B-4KB instead of the 4KB-128GB range a general
// purpose allocator would need.
package bufpool

import (
	"math/bits"
	"sync"
	"unsafe"
)

type sizedPool struct {
	sync.Pool
	size int
}

const (
	minPoolSize = 64          // smallest bucket; with the footer, INIT and DISCONNECT need the 128B one
	maxPoolSize = 4 << 10     // largest bucket; generous headroom over the largest message (104B)
	footerLen   = 8
)

const (
	footerMagicMask = uint64(0xFFFFFFFFFFFFFFC0)
	footerIndexMask = uint64(0x000000000000003F)
	footerMagic     = uint64(0x6D656D6966C0DEC0) // "memif" + index bits
)

var pools []*sizedPool

// bits2idx maps bits.Len(size) to the pools index holding that size class.
var bits2idx [64]int

func init() {
	i := 0
	for sz := minPoolSize; sz <= maxPoolSize; sz <<= 1 {
		p := &sizedPool{size: sz}
		p.New = func() interface{} {
			b := make([]byte, sz)
			return &b[0]
		}
		pools = append(pools, p)
		bits2idx[bits.Len(uint(p.size))] = i
		i++
	}
}

func poolIndex(sz int) int {
	if sz <= minPoolSize {
		return 0
	}
	i := bits2idx[bits.Len(uint(sz))]
	if uint(sz)&(uint(sz)-1) == 0 {
		return i
	}
	return i + 1
}

type sliceHeader struct {
	Data unsafe.Pointer
	Len  int
	Cap  int
}

// Get returns a buffer of exactly size bytes, backed by a pooled
// allocation. Its contents are not zeroed. Call Put when done.
func Get(size int) []byte {
	if size == 0 {
		return []byte{}
	}
	c := size + footerLen
	if c > maxPoolSize {
		return make([]byte, size)
	}
	i := poolIndex(c)
	pool := pools[i]
	p := pool.Get().(*byte)

	ret := []byte{}
	h := (*sliceHeader)(unsafe.Pointer(&ret))
	h.Data = unsafe.Pointer(p)
	h.Len = size
	h.Cap = pool.size

	*(*uint64)(unsafe.Add(h.Data, h.Cap-footerLen)) = footerMagic | uint64(i)
	return ret
}

// Put returns buf to its pool. Buffers not obtained from Get (or whose
// length/cap was mutated with append past the original Get size) are
// silently ignored rather than recycled, matching the teacher pool's
// fail-safe Free semantics.
func Put(buf []byte) {
	c := cap(buf)
	if c < minPoolSize || uint(c)&uint(c-1) != 0 {
		return
	}
	if c-len(buf) < footerLen {
		return
	}
	h := (*sliceHeader)(unsafe.Pointer(&buf))
	footer := *(*uint64)(unsafe.Add(h.Data, c-footerLen))
	if footer&footerMagicMask != footerMagic {
		return
	}
	i := int(footer & footerIndexMask)
	if i < len(pools) && pools[i].size == c {
		pools[i].Put(&buf[0])
	}
}
